package sessions

import "time"

// SessionResponse is the outward-facing representation of a session.
type SessionResponse struct {
	SessionID      string         `json:"sessionId"`
	UserID         string         `json:"userId,omitempty"`
	JobID          string         `json:"jobId,omitempty"`
	Status         Status         `json:"status"`
	CurrentStep    Step           `json:"currentStep"`
	CompletedSteps []Step         `json:"completedSteps"`
	Progress       int            `json:"progress"`
	CanResume      bool           `json:"canResume"`
	FormData       map[string]any `json:"formData,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActiveAt   time.Time      `json:"lastActiveAt"`
	LastSyncAt     *time.Time     `json:"lastSyncAt,omitempty"`
}

func toResponse(s Session) SessionResponse {
	steps := s.CompletedSteps
	if steps == nil {
		steps = []Step{}
	}
	return SessionResponse{
		SessionID:      s.ID,
		UserID:         s.UserID,
		JobID:          s.JobID,
		Status:         s.Status,
		CurrentStep:    s.CurrentStep,
		CompletedSteps: steps,
		Progress:       ProgressPercent(s.CurrentStep),
		CanResume:      s.CanResume,
		FormData:       s.FormData,
		CreatedAt:      s.CreatedAt,
		LastActiveAt:   s.LastActiveAt,
		LastSyncAt:     s.LastSyncAt,
	}
}

func toResponses(list []Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toResponse(s))
	}
	return out
}

// ResumeResponse pairs the resumed session with the route the UI should
// navigate to.
type ResumeResponse struct {
	Session   SessionResponse `json:"session"`
	ResumeURL string          `json:"resumeUrl"`
}
