package sessions

import (
	"encoding/json"
	"fmt"
	"time"
)

// sessionRecord is the wire shape of a session in the local cache. Timestamps
// travel as ISO-8601 strings and are parsed back on read so malformed records
// are caught at this boundary instead of leaking into the engine.
type sessionRecord struct {
	SessionID      string         `json:"sessionId"`
	UserID         string         `json:"userId,omitempty"`
	JobID          string         `json:"jobId,omitempty"`
	Status         string         `json:"status"`
	CurrentStep    string         `json:"currentStep"`
	CompletedSteps []string       `json:"completedSteps"`
	CanResume      bool           `json:"canResume"`
	FormData       map[string]any `json:"formData,omitempty"`
	CreatedAt      string         `json:"createdAt"`
	LastActiveAt   string         `json:"lastActiveAt"`
	LastSyncAt     string         `json:"lastSyncAt,omitempty"`
}

func encodeSession(s Session) ([]byte, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("encode session: empty session id")
	}
	rec := sessionRecord{
		SessionID:      s.ID,
		UserID:         s.UserID,
		JobID:          s.JobID,
		Status:         string(s.Status),
		CurrentStep:    string(s.CurrentStep),
		CompletedSteps: make([]string, 0, len(s.CompletedSteps)),
		CanResume:      s.CanResume,
		FormData:       s.FormData,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339Nano),
		LastActiveAt:   s.LastActiveAt.UTC().Format(time.RFC3339Nano),
	}
	for _, step := range s.CompletedSteps {
		rec.CompletedSteps = append(rec.CompletedSteps, string(step))
	}
	if s.LastSyncAt != nil {
		rec.LastSyncAt = s.LastSyncAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(rec)
}

func decodeSession(data []byte) (Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if rec.SessionID == "" {
		return Session{}, fmt.Errorf("decode session: empty session id")
	}
	if !ValidStatus(Status(rec.Status)) {
		return Session{}, fmt.Errorf("decode session %s: unknown status %q", rec.SessionID, rec.Status)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("decode session %s: createdAt: %w", rec.SessionID, err)
	}
	lastActiveAt, err := time.Parse(time.RFC3339Nano, rec.LastActiveAt)
	if err != nil {
		return Session{}, fmt.Errorf("decode session %s: lastActiveAt: %w", rec.SessionID, err)
	}

	s := Session{
		ID:           rec.SessionID,
		UserID:       rec.UserID,
		JobID:        rec.JobID,
		Status:       Status(rec.Status),
		CurrentStep:  Step(rec.CurrentStep),
		CanResume:    rec.CanResume,
		FormData:     rec.FormData,
		CreatedAt:    createdAt,
		LastActiveAt: lastActiveAt,
	}
	for _, step := range rec.CompletedSteps {
		s.CompletedSteps = append(s.CompletedSteps, Step(step))
	}
	if rec.LastSyncAt != "" {
		syncedAt, err := time.Parse(time.RFC3339Nano, rec.LastSyncAt)
		if err != nil {
			return Session{}, fmt.Errorf("decode session %s: lastSyncAt: %w", rec.SessionID, err)
		}
		s.LastSyncAt = &syncedAt
	}
	return s, nil
}
