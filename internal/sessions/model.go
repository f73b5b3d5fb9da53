package sessions

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusPaused, StatusCompleted:
		return true
	default:
		return false
	}
}

// Session records one user's progress through the CV-authoring wizard.
// UserID is empty for anonymous sessions; JobID is empty until the session
// is linked to a processing job.
type Session struct {
	ID             string         `json:"sessionId"`
	UserID         string         `json:"userId,omitempty"`
	JobID          string         `json:"jobId,omitempty"`
	Status         Status         `json:"status"`
	CurrentStep    Step           `json:"currentStep"`
	CompletedSteps []Step         `json:"completedSteps"`
	CanResume      bool           `json:"canResume"`
	FormData       map[string]any `json:"formData,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActiveAt   time.Time      `json:"lastActiveAt"`
	LastSyncAt     *time.Time     `json:"lastSyncAt,omitempty"`
}

// Resumable reports whether the session may be offered for resumption.
// Completed sessions are never resumable regardless of CanResume.
func (s Session) Resumable() bool {
	return s.CanResume && s.Status != StatusCompleted
}

// HasCompleted reports whether the given step is in CompletedSteps.
func (s Session) HasCompleted(step Step) bool {
	for _, done := range s.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}

// Seed carries optional initial fields for session creation.
type Seed struct {
	JobID    string
	FormData map[string]any
}

// Patch is a shallow merge applied by Manager.Update. Nil pointer fields are
// left unchanged. CompletedSteps are unioned onto the existing set; FormData,
// when non-nil, replaces the stored payload wholesale.
type Patch struct {
	UserID         *string
	JobID          *string
	Status         *Status
	CurrentStep    *Step
	CompletedSteps []Step
	CanResume      *bool
	FormData       map[string]any
}

// OrderField names a sortable session field.
type OrderField string

const (
	OrderByLastActiveAt OrderField = "lastActiveAt"
	OrderByCreatedAt    OrderField = "createdAt"
)

// SearchCriteria filters and orders cross-store session queries. Zero values
// mean "ignore"; pointer fields distinguish false from unset.
type SearchCriteria struct {
	UserID         string
	Statuses       []Status
	CanResume      *bool
	HasJobID       *bool
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	Steps          []Step
	OrderBy        OrderField
	OrderAscending bool
	Limit          int
}

// ResumeOptions control side effects of resuming a session. The UX toggles
// default on; the destructive and interruptive ones default off.
type ResumeOptions struct {
	NavigateToStep         bool `json:"navigateToStep"`
	RestoreFormData        bool `json:"restoreFormData"`
	ShowConfirmationDialog bool `json:"showConfirmationDialog"`
	MergeWithCurrentState  bool `json:"mergeWithCurrentState"`
	ClearOldSession        bool `json:"clearOldSession"`
	ShowProgressIndicator  bool `json:"showProgressIndicator"`
	AnimateTransitions     bool `json:"animateTransitions"`
}

// DefaultResumeOptions returns the standard resume behavior.
func DefaultResumeOptions() ResumeOptions {
	return ResumeOptions{
		NavigateToStep:        true,
		RestoreFormData:       true,
		ShowProgressIndicator: true,
		AnimateTransitions:    true,
	}
}

// ResumeResult is the outcome of a successful resume.
type ResumeResult struct {
	Session   Session
	ResumeURL string
}

// Metrics aggregates usage figures across the full session set. It is
// computed on demand and never persisted.
type Metrics struct {
	TotalSessions          int           `json:"totalSessions"`
	CompletedSessions      int           `json:"completedSessions"`
	ResumedSessions        int           `json:"resumedSessions"`
	AverageSessionDuration time.Duration `json:"averageSessionDurationMs"`
	AverageStepsCompleted  float64       `json:"averageStepsCompleted"`
	MostCommonExitStep     Step          `json:"mostCommonExitStep"`
	MostResumedStep        Step          `json:"mostResumedStep"`
	SyncSuccessRate        float64       `json:"syncSuccessRate"`
	ErrorRate              float64       `json:"errorRate"`
}
