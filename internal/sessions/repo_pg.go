package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PGRepo implements RemoteRepo using Postgres. Documents are scoped per user
// the way the remote collection path users/{userId}/sessions/{sessionId} is.
type PGRepo struct {
	DB *sql.DB
}

const sessionColumns = `session_id, user_id, job_id, status, current_step, completed_steps, can_resume, form_data, created_at, last_active_at, last_sync_at`

// Get returns a session document by ID.
func (r *PGRepo) Get(ctx context.Context, userID, sessionID string) (Session, error) {
	query := `
SELECT ` + sessionColumns + `
FROM sessions
WHERE user_id = $1 AND session_id = $2`

	row := r.DB.QueryRowContext(ctx, query, userID, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, remoteErr(err)
	}
	return s, nil
}

// Put upserts the session document, stamping last_sync_at server-side.
func (r *PGRepo) Put(ctx context.Context, s Session) error {
	if s.UserID == "" {
		return ErrInvalidInput
	}

	const query = `
INSERT INTO sessions (
    session_id,
    user_id,
    job_id,
    status,
    current_step,
    completed_steps,
    can_resume,
    form_data,
    created_at,
    last_active_at,
    last_sync_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
ON CONFLICT (session_id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    job_id = EXCLUDED.job_id,
    status = EXCLUDED.status,
    current_step = EXCLUDED.current_step,
    completed_steps = EXCLUDED.completed_steps,
    can_resume = EXCLUDED.can_resume,
    form_data = EXCLUDED.form_data,
    last_active_at = EXCLUDED.last_active_at,
    last_sync_at = NOW()`

	completedSteps, err := json.Marshal(stepsToStrings(s.CompletedSteps))
	if err != nil {
		return fmt.Errorf("marshal completed steps: %w", err)
	}

	var formData []byte
	if s.FormData != nil {
		formData, err = json.Marshal(s.FormData)
		if err != nil {
			return fmt.Errorf("marshal form data: %w", err)
		}
	}

	var jobID sql.NullString
	if s.JobID != "" {
		jobID = sql.NullString{String: s.JobID, Valid: true}
	}

	_, err = r.DB.ExecContext(
		ctx,
		query,
		s.ID,
		s.UserID,
		jobID,
		string(s.Status),
		string(s.CurrentStep),
		completedSteps,
		s.CanResume,
		formData,
		s.CreatedAt.UTC(),
		s.LastActiveAt.UTC(),
	)
	if err != nil {
		return remoteErr(err)
	}
	return nil
}

// Delete removes the document and reports whether it existed.
func (r *PGRepo) Delete(ctx context.Context, userID, sessionID string) (bool, error) {
	const query = `DELETE FROM sessions WHERE user_id = $1 AND session_id = $2`
	res, err := r.DB.ExecContext(ctx, query, userID, sessionID)
	if err != nil {
		return false, remoteErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, remoteErr(err)
	}
	return affected > 0, nil
}

// Query evaluates the pushed-down filters: equality/in on status and
// can_resume, single-field ordering, limit. The service re-applies the full
// criteria in memory, so anything not expressible here stays correct.
func (r *PGRepo) Query(ctx context.Context, q RemoteQuery) ([]Session, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1`)
	args := []any{q.UserID}

	if len(q.Statuses) > 0 {
		placeholders := make([]string, 0, len(q.Statuses))
		for _, status := range q.Statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		sb.WriteString(" AND status IN (" + strings.Join(placeholders, ", ") + ")")
	}
	if q.CanResume != nil {
		args = append(args, *q.CanResume)
		sb.WriteString(fmt.Sprintf(" AND can_resume = $%d", len(args)))
	}

	orderColumn := "last_active_at"
	if q.OrderBy == OrderByCreatedAt {
		orderColumn = "created_at"
	}
	direction := "DESC"
	if q.OrderAscending {
		direction = "ASC"
	}
	sb.WriteString(" ORDER BY " + orderColumn + " " + direction)

	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	rows, err := r.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, remoteErr(err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, remoteErr(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteErr(err)
	}
	return out, nil
}

// remoteErr tags a driver failure so callers can errors.Is it before
// degrading to cache-only.
func remoteErr(err error) error {
	return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s              Session
		userID         sql.NullString
		jobID          sql.NullString
		status         string
		currentStep    string
		completedSteps []byte
		formData       []byte
		lastSyncAt     sql.NullTime
	)

	err := row.Scan(
		&s.ID,
		&userID,
		&jobID,
		&status,
		&currentStep,
		&completedSteps,
		&s.CanResume,
		&formData,
		&s.CreatedAt,
		&s.LastActiveAt,
		&lastSyncAt,
	)
	if err != nil {
		return Session{}, err
	}

	s.UserID = userID.String
	s.JobID = jobID.String
	s.Status = Status(status)
	s.CurrentStep = Step(currentStep)

	if len(completedSteps) > 0 {
		var steps []string
		if err := json.Unmarshal(completedSteps, &steps); err != nil {
			return Session{}, fmt.Errorf("unmarshal completed steps for %s: %w", s.ID, err)
		}
		for _, step := range steps {
			s.CompletedSteps = append(s.CompletedSteps, Step(step))
		}
	}
	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &s.FormData); err != nil {
			return Session{}, fmt.Errorf("unmarshal form data for %s: %w", s.ID, err)
		}
	}
	if lastSyncAt.Valid {
		syncedAt := lastSyncAt.Time.UTC()
		s.LastSyncAt = &syncedAt
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastActiveAt = s.LastActiveAt.UTC()
	return s, nil
}

func stepsToStrings(steps []Step) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		out = append(out, string(step))
	}
	return out
}
