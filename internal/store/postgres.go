package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const surveyRecordColumns = `
	id, project_id, owner_id, total, participant,
	sympathy, listening, expression, problem_solving, conflict_resolution, leadership,
	completed_at, created_at
`

func scanSurveyRecord(row interface{ Scan(...any) error }) (SurveyRecord, error) {
	var item SurveyRecord
	err := row.Scan(
		&item.ID, &item.ProjectID, &item.OwnerID, &item.Total, &item.Participant,
		&item.Skills.Sympathy, &item.Skills.Listening, &item.Skills.Expression,
		&item.Skills.ProblemSolving, &item.Skills.ConflictResolution, &item.Skills.Leadership,
		&item.CompletedAt, &item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) FindProjectByTitleAndOrganization(ctx context.Context, title, organization string) (*Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, organization, organization_image, created_at
		FROM projects
		WHERE title=$1 AND organization=$2
	`, title, organization).Scan(&item.ID, &item.Title, &item.Organization, &item.OrganizationImage, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (title, organization, organization_image)
		VALUES ($1, $2, $3)
		RETURNING id
	`, item.Title, item.Organization, item.OrganizationImage).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetSurveyRecord(ctx context.Context, recordID int64) (SurveyRecord, error) {
	item, err := scanSurveyRecord(s.db.QueryRowContext(ctx,
		`SELECT `+surveyRecordColumns+` FROM survey_records WHERE id=$1`, recordID))
	if err != nil {
		return SurveyRecord{}, err
	}
	return item, nil
}

func (s *PostgresStore) FindSurveyRecordByProjectAndOwner(ctx context.Context, projectID int64, ownerID string) (*SurveyRecord, error) {
	item, err := scanSurveyRecord(s.db.QueryRowContext(ctx,
		`SELECT `+surveyRecordColumns+` FROM survey_records WHERE project_id=$1 AND owner_id=$2`,
		projectID, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find survey record: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) InsertSurveyRecord(ctx context.Context, projectID int64, ownerID string, total int) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO survey_records (project_id, owner_id, total)
		VALUES ($1, $2, $3)
		RETURNING id
	`, projectID, ownerID, total).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert survey record: %w", err)
	}
	return id, nil
}

// ListSurveyRecordsByProject returns the project's chain in registration
// order (ascending id).
func (s *PostgresStore) ListSurveyRecordsByProject(ctx context.Context, projectID int64) ([]SurveyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+surveyRecordColumns+` FROM survey_records WHERE project_id=$1 ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list survey records: %w", err)
	}
	defer rows.Close()

	items := make([]SurveyRecord, 0)
	for rows.Next() {
		item, err := scanSurveyRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan survey record: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate survey records: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListSurveyRecordsByOwner(ctx context.Context, ownerID string) ([]SurveyRecordWithProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sr.id, sr.project_id, sr.owner_id, sr.total, sr.participant,
			sr.sympathy, sr.listening, sr.expression, sr.problem_solving, sr.conflict_resolution, sr.leadership,
			sr.completed_at, sr.created_at,
			p.title, p.organization, p.organization_image
		FROM survey_records sr
		JOIN projects p ON p.id = sr.project_id
		WHERE sr.owner_id=$1
		ORDER BY sr.id DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list survey records by owner: %w", err)
	}
	defer rows.Close()

	items := make([]SurveyRecordWithProject, 0)
	for rows.Next() {
		var item SurveyRecordWithProject
		if err := rows.Scan(
			&item.ID, &item.ProjectID, &item.OwnerID, &item.Total, &item.Participant,
			&item.Skills.Sympathy, &item.Skills.Listening, &item.Skills.Expression,
			&item.Skills.ProblemSolving, &item.Skills.ConflictResolution, &item.Skills.Leadership,
			&item.CompletedAt, &item.CreatedAt,
			&item.Title, &item.Organization, &item.OrganizationImage,
		); err != nil {
			return nil, fmt.Errorf("scan survey record: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate survey records: %w", err)
	}
	return items, nil
}

// AddParticipants folds a drained notification count into the record's
// participant counter as a single atomic increment.
func (s *PostgresStore) AddParticipants(ctx context.Context, recordID int64, count int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE survey_records SET participant = participant + $2 WHERE id=$1`, recordID, count)
	if err != nil {
		return fmt.Errorf("add participants: %w", err)
	}
	return nil
}

// ApplyAnswer accumulates one submission's scores into the record's
// skill sums. Returns false when the record is already closed.
func (s *PostgresStore) ApplyAnswer(ctx context.Context, recordID int64, scores SkillTotals) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE survey_records
		SET sympathy = sympathy + $2,
			listening = listening + $3,
			expression = expression + $4,
			problem_solving = problem_solving + $5,
			conflict_resolution = conflict_resolution + $6,
			leadership = leadership + $7
		WHERE id=$1 AND completed_at IS NULL
	`, recordID, scores.Sympathy, scores.Listening, scores.Expression,
		scores.ProblemSolving, scores.ConflictResolution, scores.Leadership)
	if err != nil {
		return false, fmt.Errorf("apply answer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply answer rows: %w", err)
	}
	return affected > 0, nil
}

// CloseSurveyRecord stamps completed_at and folds the record's
// participant count and skill sums into the global rollup, in one
// transaction. Returns false when the record was already closed, in
// which case nothing is folded.
func (s *PostgresStore) CloseSurveyRecord(ctx context.Context, recordID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin close tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanSurveyRecord(tx.QueryRowContext(ctx, `
		UPDATE survey_records
		SET completed_at = NOW()
		WHERE id=$1 AND completed_at IS NULL
		RETURNING `+surveyRecordColumns, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("close survey record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE total_score
		SET total_participant = total_participant + $1,
			sympathy = sympathy + $2,
			listening = listening + $3,
			expression = expression + $4,
			problem_solving = problem_solving + $5,
			conflict_resolution = conflict_resolution + $6,
			leadership = leadership + $7
		WHERE id = 1
	`, item.Participant, item.Skills.Sympathy, item.Skills.Listening, item.Skills.Expression,
		item.Skills.ProblemSolving, item.Skills.ConflictResolution, item.Skills.Leadership); err != nil {
		return false, fmt.Errorf("accumulate total score: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit close tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) MembershipHandlesByProject(ctx context.Context, projectID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT handle FROM memberships WHERE project_id=$1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list membership handles: %w", err)
	}
	defer rows.Close()

	handles := make(map[string]struct{})
	for rows.Next() {
		var handle string
		if err := rows.Scan(&handle); err != nil {
			return nil, fmt.Errorf("scan membership handle: %w", err)
		}
		handles[handle] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate membership handles: %w", err)
	}
	return handles, nil
}

func (s *PostgresStore) ListMembershipsBySurveyRecord(ctx context.Context, recordID int64) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, survey_record_id, handle, created_at
		FROM memberships
		WHERE survey_record_id=$1
		ORDER BY created_at ASC, handle ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var item Membership
		if err := rows.Scan(&item.ProjectID, &item.SurveyRecordID, &item.Handle, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertContributorIfAbsent(ctx context.Context, item Contributor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contributors (handle, profile_image)
		VALUES ($1, $2)
		ON CONFLICT (handle) DO NOTHING
	`, item.Handle, item.ProfileImage)
	if err != nil {
		return fmt.Errorf("insert contributor: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertMembership(ctx context.Context, item Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (project_id, survey_record_id, handle)
		VALUES ($1, $2, $3)
	`, item.ProjectID, item.SurveyRecordID, item.Handle)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// EffectiveContributors returns the contributors known on the project
// as of the given record's registration: every membership with a
// survey record id at or before it, in membership creation order.
func (s *PostgresStore) EffectiveContributors(ctx context.Context, projectID, recordID int64) ([]Contributor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.handle, c.profile_image, c.created_at
		FROM memberships m
		JOIN contributors c ON c.handle = m.handle
		WHERE m.project_id=$1 AND m.survey_record_id <= $2
		ORDER BY m.created_at ASC, m.handle ASC
	`, projectID, recordID)
	if err != nil {
		return nil, fmt.Errorf("list effective contributors: %w", err)
	}
	defer rows.Close()

	items := make([]Contributor, 0)
	for rows.Next() {
		var item Contributor
		if err := rows.Scan(&item.Handle, &item.ProfileImage, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributors: %w", err)
	}
	return items, nil
}

// DeleteProjectCascade removes the project's memberships, the sole
// survey record, and the project itself, atomically.
func (s *PostgresStore) DeleteProjectCascade(ctx context.Context, projectID, recordID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE project_id=$1`, projectID); err != nil {
		return fmt.Errorf("delete project memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_records WHERE id=$1`, recordID); err != nil {
		return fmt.Errorf("delete survey record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return tx.Commit()
}

// DeleteSurveyRecord removes a record that owns no memberships.
func (s *PostgresStore) DeleteSurveyRecord(ctx context.Context, recordID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM survey_records WHERE id=$1`, recordID)
	if err != nil {
		return fmt.Errorf("delete survey record: %w", err)
	}
	return nil
}

// DeleteSurveyRecordWithMemberships removes a tail-of-chain record
// together with its memberships, atomically.
func (s *PostgresStore) DeleteSurveyRecordWithMemberships(ctx context.Context, recordID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE survey_record_id=$1`, recordID); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_records WHERE id=$1`, recordID); err != nil {
		return fmt.Errorf("delete survey record: %w", err)
	}
	return tx.Commit()
}

// TransferMembershipsAndDelete re-points every membership of an
// interior chain record to the next record, then deletes the record.
// All-or-nothing: a crash mid-transfer leaves nothing re-pointed.
func (s *PostgresStore) TransferMembershipsAndDelete(ctx context.Context, recordID, nextRecordID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE memberships SET survey_record_id=$2 WHERE survey_record_id=$1`,
		recordID, nextRecordID); err != nil {
		return fmt.Errorf("transfer memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_records WHERE id=$1`, recordID); err != nil {
		return fmt.Errorf("delete survey record: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetAggregateScore(ctx context.Context) (AggregateScore, error) {
	var item AggregateScore
	err := s.db.QueryRowContext(ctx, `
		SELECT total_participant, sympathy, listening, expression, problem_solving, conflict_resolution, leadership
		FROM total_score
		WHERE id = 1
	`).Scan(&item.TotalParticipant, &item.Skills.Sympathy, &item.Skills.Listening,
		&item.Skills.Expression, &item.Skills.ProblemSolving, &item.Skills.ConflictResolution,
		&item.Skills.Leadership)
	if err != nil {
		return AggregateScore{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSkillDescriptions(ctx context.Context) ([]SkillDescription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, description FROM skill_descriptions`)
	if err != nil {
		return nil, fmt.Errorf("list skill descriptions: %w", err)
	}
	defer rows.Close()

	items := make([]SkillDescription, 0)
	for rows.Next() {
		var item SkillDescription
		if err := rows.Scan(&item.Code, &item.Name, &item.Description); err != nil {
			return nil, fmt.Errorf("scan skill description: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skill descriptions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListSkillFeedback(ctx context.Context) ([]SkillFeedback, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, is_positive, feedback FROM skill_feedback ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list skill feedback: %w", err)
	}
	defer rows.Close()

	items := make([]SkillFeedback, 0)
	for rows.Next() {
		var item SkillFeedback
		if err := rows.Scan(&item.Code, &item.Positive, &item.Feedback); err != nil {
			return nil, fmt.Errorf("scan skill feedback: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skill feedback: %w", err)
	}
	return items, nil
}
