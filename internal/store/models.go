package store

import "time"

type Project struct {
	ID                int64
	Title             string
	Organization      string
	OrganizationImage string
	CreatedAt         time.Time
}

// SurveyRecord is one user's registration of a Project and the survey
// run around it. Total is fixed at registration time; Participant only
// grows through notification reconciliation.
type SurveyRecord struct {
	ID          int64
	ProjectID   int64
	OwnerID     string
	Total       int
	Participant int
	Skills      SkillTotals
	CompletedAt *time.Time
	CreatedAt   time.Time
}

func (r SurveyRecord) Closed() bool {
	return r.CompletedAt != nil
}

// SkillTotals holds accumulating integer sums, not averages.
type SkillTotals struct {
	Sympathy           int
	Listening          int
	Expression         int
	ProblemSolving     int
	ConflictResolution int
	Leadership         int
}

// SkillCodes lists the six skill codes in presentation order.
var SkillCodes = []string{
	"sympathy",
	"listening",
	"expression",
	"problem_solving",
	"conflict_resolution",
	"leadership",
}

func (t SkillTotals) ByCode() map[string]int {
	return map[string]int{
		"sympathy":            t.Sympathy,
		"listening":           t.Listening,
		"expression":          t.Expression,
		"problem_solving":     t.ProblemSolving,
		"conflict_resolution": t.ConflictResolution,
		"leadership":          t.Leadership,
	}
}

type Contributor struct {
	Handle       string
	ProfileImage string
	CreatedAt    time.Time
}

// Membership records that a contributor was known on a project as of a
// given survey record's registration.
type Membership struct {
	ProjectID      int64
	SurveyRecordID int64
	Handle         string
	CreatedAt      time.Time
}

// AggregateScore is the global singleton rollup across all closed
// survey records, used as the comparison baseline.
type AggregateScore struct {
	TotalParticipant int
	Skills           SkillTotals
}

type SkillDescription struct {
	Code        string
	Name        string
	Description string
}

type SkillFeedback struct {
	Code     string
	Positive bool
	Feedback string
}

// SurveyRecordWithProject joins the parent project's display fields for
// listing queries.
type SurveyRecordWithProject struct {
	SurveyRecord
	Title             string
	Organization      string
	OrganizationImage string
}
