package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"collabit/api/internal/auth"
	"collabit/api/internal/config"
	"collabit/api/internal/notify"
	"collabit/api/internal/push"
	"collabit/api/internal/store"
)

const (
	EventNewSurveyResponse = "newSurveyResponse"
	EventNewSurveyRequest  = "newSurveyRequest"
)

type ContributorInput struct {
	Handle       string `json:"githubId"`
	ProfileImage string `json:"profileImage"`
}

type RegisterProjectInput struct {
	Title             string             `json:"title"`
	Organization      string             `json:"organization"`
	OrganizationImage string             `json:"organizationImage"`
	Contributors      []ContributorInput `json:"contributors"`
}

type SubmitAnswerInput struct {
	Sympathy           int `json:"sympathy"`
	Listening          int `json:"listening"`
	Expression         int `json:"expression"`
	ProblemSolving     int `json:"problemSolving"`
	ConflictResolution int `json:"conflictResolution"`
	Leadership         int `json:"leadership"`
}

type ContributorView struct {
	Handle       string `json:"githubId"`
	ProfileImage string `json:"profileImage"`
}

type SurveyRecordView struct {
	Code              int64             `json:"code"`
	Title             string            `json:"title"`
	Participant       int               `json:"participant"`
	Total             int               `json:"total"`
	Done              bool              `json:"isDone"`
	NewSurveyResponse bool              `json:"newSurveyResponse"`
	ParticipationRate float64           `json:"participationRate"`
	CreatedAt         time.Time         `json:"createdAt"`
	Contributors      []ContributorView `json:"contributors"`
}

type OrganizationView struct {
	Organization      string             `json:"organization"`
	OrganizationImage string             `json:"organizationImage"`
	Projects          []SurveyRecordView `json:"projects"`
}

type AddedProject struct {
	Organization string `json:"organization"`
	Title        string `json:"title"`
}

type NotificationSnapshot struct {
	Responses []int64 `json:"newSurveyResponse"`
	Requests  []int64 `json:"newSurveyRequest"`
}

type dataStore interface {
	FindProjectByTitleAndOrganization(ctx context.Context, title, organization string) (*store.Project, error)
	InsertProject(ctx context.Context, item store.Project) (int64, error)
	GetSurveyRecord(ctx context.Context, recordID int64) (store.SurveyRecord, error)
	FindSurveyRecordByProjectAndOwner(ctx context.Context, projectID int64, ownerID string) (*store.SurveyRecord, error)
	InsertSurveyRecord(ctx context.Context, projectID int64, ownerID string, total int) (int64, error)
	ListSurveyRecordsByProject(ctx context.Context, projectID int64) ([]store.SurveyRecord, error)
	ListSurveyRecordsByOwner(ctx context.Context, ownerID string) ([]store.SurveyRecordWithProject, error)
	AddParticipants(ctx context.Context, recordID int64, count int) error
	ApplyAnswer(ctx context.Context, recordID int64, scores store.SkillTotals) (bool, error)
	CloseSurveyRecord(ctx context.Context, recordID int64) (bool, error)
	MembershipHandlesByProject(ctx context.Context, projectID int64) (map[string]struct{}, error)
	ListMembershipsBySurveyRecord(ctx context.Context, recordID int64) ([]store.Membership, error)
	InsertContributorIfAbsent(ctx context.Context, item store.Contributor) error
	InsertMembership(ctx context.Context, item store.Membership) error
	EffectiveContributors(ctx context.Context, projectID, recordID int64) ([]store.Contributor, error)
	DeleteProjectCascade(ctx context.Context, projectID, recordID int64) error
	DeleteSurveyRecord(ctx context.Context, recordID int64) error
	DeleteSurveyRecordWithMemberships(ctx context.Context, recordID int64) error
	TransferMembershipsAndDelete(ctx context.Context, recordID, nextRecordID int64) error
	GetAggregateScore(ctx context.Context) (store.AggregateScore, error)
	ListSkillDescriptions(ctx context.Context) ([]store.SkillDescription, error)
	ListSkillFeedback(ctx context.Context) ([]store.SkillFeedback, error)
	Ping(ctx context.Context) error
}

type signalStore interface {
	RaiseResponse(ctx context.Context, recipientID string, recordID int64) error
	PeekResponses(ctx context.Context, recipientID string) (map[int64]bool, error)
	DrainResponses(ctx context.Context, recipientID string) (map[int64]int, error)
	DrainResponse(ctx context.Context, recipientID string, recordID int64) (int, bool, error)
	MarkRequested(ctx context.Context, recipientID string, recordID int64) error
	PeekRequests(ctx context.Context, recipientID string) ([]int64, error)
	ClearRequest(ctx context.Context, recipientID string, recordID int64) error
}

type pushBroker interface {
	Notify(recipientID, event string, payload any)
}

type Service struct {
	cfg     config.Config
	store   dataStore
	signals signalStore
	push    pushBroker
}

func New(cfg config.Config, dataStore *store.PostgresStore, signals *notify.RedisStore, broker *push.Broker) *Service {
	return &Service{cfg: cfg, store: dataStore, signals: signals, push: broker}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RegisterProject finds or creates the Project identified by
// (title, organization), opens a survey record for the caller, and
// links every contributor not already known on the project. The
// recorded total excludes the owner and never changes afterwards.
func (s *Service) RegisterProject(ctx context.Context, caller auth.Identity, in RegisterProjectInput) (int64, error) {
	title := strings.TrimSpace(in.Title)
	organization := strings.TrimSpace(in.Organization)
	if title == "" || organization == "" {
		return 0, validationError("title and organization are required")
	}
	if len(in.Contributors) == 0 {
		return 0, validationError("contributor list is required")
	}

	project, err := s.store.FindProjectByTitleAndOrganization(ctx, title, organization)
	if err != nil {
		return 0, err
	}
	if project == nil {
		projectID, err := s.store.InsertProject(ctx, store.Project{
			Title:             title,
			Organization:      organization,
			OrganizationImage: in.OrganizationImage,
		})
		if err != nil {
			return 0, err
		}
		project = &store.Project{ID: projectID, Title: title, Organization: organization}
	}

	existing, err := s.store.FindSurveyRecordByProjectAndOwner(ctx, project.ID, caller.UserID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, duplicateRegistration()
	}

	recordID, err := s.store.InsertSurveyRecord(ctx, project.ID, caller.UserID, len(in.Contributors)-1)
	if err != nil {
		return 0, err
	}

	known, err := s.store.MembershipHandlesByProject(ctx, project.ID)
	if err != nil {
		return 0, err
	}
	for _, contributor := range in.Contributors {
		handle := strings.TrimSpace(contributor.Handle)
		if handle == "" || handle == caller.Handle {
			continue
		}
		if _, ok := known[handle]; ok {
			continue
		}
		if err := s.store.InsertContributorIfAbsent(ctx, store.Contributor{
			Handle:       handle,
			ProfileImage: contributor.ProfileImage,
		}); err != nil {
			return 0, err
		}
		if err := s.store.InsertMembership(ctx, store.Membership{
			ProjectID:      project.ID,
			SurveyRecordID: recordID,
			Handle:         handle,
		}); err != nil {
			return 0, err
		}
		known[handle] = struct{}{}

		// Survey request signals are advisory; the registration never
		// fails because the cache or the recipient is unreachable.
		_ = s.signals.MarkRequested(ctx, handle, recordID)
		s.push.Notify(handle, EventNewSurveyRequest, recordID)
	}

	return recordID, nil
}

// EffectiveContributors lists the contributors known on the record's
// project as of its registration: every membership at or before the
// record in chain order.
func (s *Service) EffectiveContributors(ctx context.Context, recordID int64) ([]ContributorView, error) {
	record, err := s.store.GetSurveyRecord(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("survey record not found")
	}
	if err != nil {
		return nil, err
	}
	contributors, err := s.store.EffectiveContributors(ctx, record.ProjectID, record.ID)
	if err != nil {
		return nil, err
	}
	views := make([]ContributorView, 0, len(contributors))
	for _, contributor := range contributors {
		views = append(views, ContributorView{Handle: contributor.Handle, ProfileImage: contributor.ProfileImage})
	}
	return views, nil
}

func (s *Service) ownedRecord(ctx context.Context, caller auth.Identity, recordID int64) (store.SurveyRecord, error) {
	record, err := s.store.GetSurveyRecord(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SurveyRecord{}, notFound("survey record not found")
	}
	if err != nil {
		return store.SurveyRecord{}, err
	}
	if record.OwnerID != caller.UserID {
		return store.SurveyRecord{}, ownershipViolation()
	}
	return record, nil
}

// RemoveSurveyRecord deletes an untouched open record. Memberships the
// record owns are re-homed to the next record in the project's chain
// so later records keep their effective contributor sets; the project
// itself is deleted with its last record. Contributors are never
// deleted.
func (s *Service) RemoveSurveyRecord(ctx context.Context, caller auth.Identity, recordID int64) error {
	record, err := s.ownedRecord(ctx, caller, recordID)
	if err != nil {
		return err
	}
	if record.Closed() || record.Participant >= 1 {
		return invalidState("surveys with participants or a closed survey cannot be removed")
	}

	memberships, err := s.store.ListMembershipsBySurveyRecord(ctx, recordID)
	if err != nil {
		return err
	}
	chain, err := s.store.ListSurveyRecordsByProject(ctx, record.ProjectID)
	if err != nil {
		return err
	}

	if len(chain) <= 1 {
		return s.store.DeleteProjectCascade(ctx, record.ProjectID, recordID)
	}
	if len(memberships) == 0 {
		return s.store.DeleteSurveyRecord(ctx, recordID)
	}
	if chain[len(chain)-1].ID == recordID {
		return s.store.DeleteSurveyRecordWithMemberships(ctx, recordID)
	}

	var nextRecordID int64
	for i, member := range chain {
		if member.ID == recordID && i+1 < len(chain) {
			nextRecordID = chain[i+1].ID
			break
		}
	}
	if nextRecordID == 0 {
		return fmt.Errorf("record %d not found in project %d chain", recordID, record.ProjectID)
	}
	return s.store.TransferMembershipsAndDelete(ctx, recordID, nextRecordID)
}

// CloseSurvey transitions the record from open to closed. The pending
// notification signal is drained first so the quorum check sees an
// accurate participant count; cache unavailability aborts the close
// rather than closing on a possibly stale count.
func (s *Service) CloseSurvey(ctx context.Context, caller auth.Identity, recordID int64) error {
	record, err := s.ownedRecord(ctx, caller, recordID)
	if err != nil {
		return err
	}
	if record.Closed() {
		return invalidState("survey is already closed")
	}

	count, pending, err := s.signals.DrainResponse(ctx, caller.UserID, recordID)
	if err != nil {
		return dependencyUnavailable("notification cache unreachable, cannot verify participant count")
	}
	if pending && count > 0 {
		if err := s.store.AddParticipants(ctx, recordID, count); err != nil {
			return err
		}
		record.Participant += count
	}

	if record.Participant < record.Total/2 {
		return quorumNotMet(record.Participant, record.Total)
	}

	closed, err := s.store.CloseSurveyRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if !closed {
		// Lost a concurrent close; the rollup was folded exactly once
		// by the winner.
		return invalidState("survey is already closed")
	}
	return nil
}

// SubmitAnswer accumulates one contributor's scores into the record's
// skill sums and raises the owner's answer signal. The participant
// count is only advanced later, through reconciliation.
func (s *Service) SubmitAnswer(ctx context.Context, responder auth.Identity, recordID int64, in SubmitAnswerInput) error {
	scores := store.SkillTotals{
		Sympathy:           in.Sympathy,
		Listening:          in.Listening,
		Expression:         in.Expression,
		ProblemSolving:     in.ProblemSolving,
		ConflictResolution: in.ConflictResolution,
		Leadership:         in.Leadership,
	}
	for code, score := range scores.ByCode() {
		if score < 1 || score > 5 {
			return validationError("score for " + code + " must be between 1 and 5")
		}
	}

	record, err := s.store.GetSurveyRecord(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("survey record not found")
	}
	if err != nil {
		return err
	}

	applied, err := s.store.ApplyAnswer(ctx, recordID, scores)
	if err != nil {
		return err
	}
	if !applied {
		return invalidState("survey is already closed")
	}

	// Signals are advisory: skill sums are already persisted, so a
	// cache outage only costs the owner a badge.
	_ = s.signals.ClearRequest(ctx, responder.Handle, recordID)
	if err := s.signals.RaiseResponse(ctx, record.OwnerID, recordID); err == nil {
		s.push.Notify(record.OwnerID, EventNewSurveyResponse, recordID)
	}
	return nil
}

// ReconcileNotifications drains every pending answer signal for the
// owner and folds each count into the matching record's participant
// total. Cache unavailability degrades to a no-op.
func (s *Service) ReconcileNotifications(ctx context.Context, userID string) error {
	drained, err := s.signals.DrainResponses(ctx, userID)
	if err != nil {
		return nil
	}
	for recordID, count := range drained {
		if count <= 0 {
			continue
		}
		if err := s.store.AddParticipants(ctx, recordID, count); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileNotification drains and folds the signal for one record.
func (s *Service) ReconcileNotification(ctx context.Context, userID string, recordID int64) error {
	count, pending, err := s.signals.DrainResponse(ctx, userID, recordID)
	if err != nil || !pending || count <= 0 {
		return nil
	}
	return s.store.AddParticipants(ctx, recordID, count)
}

// NotificationSnapshot reads both signal lists without mutating them.
// A cache outage yields empty lists.
func (s *Service) NotificationSnapshot(ctx context.Context, userID string) NotificationSnapshot {
	snapshot := NotificationSnapshot{Responses: []int64{}, Requests: []int64{}}

	if pending, err := s.signals.PeekResponses(ctx, userID); err == nil {
		for recordID := range pending {
			snapshot.Responses = append(snapshot.Responses, recordID)
		}
		sort.Slice(snapshot.Responses, func(i, j int) bool { return snapshot.Responses[i] < snapshot.Responses[j] })
	}
	if requests, err := s.signals.PeekRequests(ctx, userID); err == nil {
		sort.Slice(requests, func(i, j int) bool { return requests[i] < requests[j] })
		snapshot.Requests = append(snapshot.Requests, requests...)
	}
	return snapshot
}

// PushSnapshot sends the recipient both signal lists over their push
// channel, typically right after they subscribe.
func (s *Service) PushSnapshot(ctx context.Context, userID string) {
	snapshot := s.NotificationSnapshot(ctx, userID)
	s.push.Notify(userID, EventNewSurveyRequest, snapshot.Requests)
	s.push.Notify(userID, EventNewSurveyResponse, snapshot.Responses)
}

// ProjectOverview returns the caller's survey records grouped by
// organization, open surveys first, newest first within a group.
func (s *Service) ProjectOverview(ctx context.Context, userID, keyword string) ([]OrganizationView, error) {
	records, err := s.store.ListSurveyRecordsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	badges := map[int64]bool{}
	if pending, err := s.signals.PeekResponses(ctx, userID); err == nil {
		badges = pending
	}

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	groups := make(map[string]*OrganizationView)
	order := make([]string, 0)
	for _, record := range records {
		if keyword != "" && !strings.Contains(strings.ToLower(record.Title), keyword) {
			continue
		}
		view, err := s.surveyRecordView(ctx, record, badges[record.ID])
		if err != nil {
			return nil, err
		}
		group, ok := groups[record.Organization]
		if !ok {
			group = &OrganizationView{
				Organization:      record.Organization,
				OrganizationImage: record.OrganizationImage,
			}
			groups[record.Organization] = group
			order = append(order, record.Organization)
		}
		group.Projects = append(group.Projects, view)
	}

	sort.Strings(order)
	result := make([]OrganizationView, 0, len(order))
	for _, organization := range order {
		group := groups[organization]
		sort.Slice(group.Projects, func(i, j int) bool {
			if group.Projects[i].Done != group.Projects[j].Done {
				return !group.Projects[i].Done
			}
			return group.Projects[i].Code > group.Projects[j].Code
		})
		result = append(result, *group)
	}
	return result, nil
}

func (s *Service) surveyRecordView(ctx context.Context, record store.SurveyRecordWithProject, hasNewResponse bool) (SurveyRecordView, error) {
	contributors, err := s.store.EffectiveContributors(ctx, record.ProjectID, record.ID)
	if err != nil {
		return SurveyRecordView{}, err
	}
	views := make([]ContributorView, 0, len(contributors))
	for _, contributor := range contributors {
		views = append(views, ContributorView{Handle: contributor.Handle, ProfileImage: contributor.ProfileImage})
	}
	return SurveyRecordView{
		Code:              record.ID,
		Title:             record.Title,
		Participant:       record.Participant,
		Total:             record.Total,
		Done:              record.Closed(),
		NewSurveyResponse: hasNewResponse,
		ParticipationRate: participationRate(record.Participant, record.Total),
		CreatedAt:         record.CreatedAt,
		Contributors:      views,
	}, nil
}

func participationRate(participant, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(participant)/float64(total)*1000) / 10
}

// AddedProjects lists the (organization, title) pairs the caller has
// already registered, so clients can grey out known repositories.
func (s *Service) AddedProjects(ctx context.Context, userID string) ([]AddedProject, error) {
	records, err := s.store.ListSurveyRecordsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	added := make([]AddedProject, 0, len(records))
	for _, record := range records {
		added = append(added, AddedProject{Organization: record.Organization, Title: record.Title})
	}
	return added, nil
}
