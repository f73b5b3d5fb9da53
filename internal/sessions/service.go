package sessions

import (
	"context"
	"fmt"
	"time"

	"cvplus-backend/internal/shared/metrics"
	"cvplus-backend/internal/shared/telemetry"
)

const (
	resumableLimit = 10
	// Sessions older than this are eligible for cleanup.
	expiryAge = 30 * 24 * time.Hour
)

// Service is the cross-store read path: search, resumability discovery,
// deduplication, resume-URL derivation, cleanup and metrics. All mutation
// goes through the Manager.
type Service struct {
	manager *Manager
	now     func() time.Time
}

// NewService wires the service over an explicitly injected Manager.
func NewService(manager *Manager) *Service {
	return &Service{
		manager: manager,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Search queries the remote store (when a user is given) and the local cache
// independently, deduplicates by session ID with remote results taking
// priority, then re-applies the full criteria in memory. The two-phase
// filter keeps results correct even when a backend cannot express a given
// predicate natively.
func (s *Service) Search(ctx context.Context, criteria SearchCriteria) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var merged []Session
	seen := make(map[string]struct{})
	appendUnique := func(list []Session) {
		for _, sess := range list {
			if _, dup := seen[sess.ID]; dup {
				continue
			}
			seen[sess.ID] = struct{}{}
			merged = append(merged, sess)
		}
	}

	if remote := s.manager.Remote(); remote != nil && criteria.UserID != "" {
		remoteCtx, cancel := context.WithTimeout(ctx, s.manager.remoteTimeout)
		results, err := remote.Query(remoteCtx, RemoteQuery{
			UserID:         criteria.UserID,
			Statuses:       criteria.Statuses,
			CanResume:      criteria.CanResume,
			OrderBy:        criteria.OrderBy,
			OrderAscending: criteria.OrderAscending,
			Limit:          criteria.Limit,
		})
		cancel()
		if err != nil {
			telemetry.Warn("session.search.remote_degraded", map[string]any{
				"user_id": criteria.UserID,
				"error":   err.Error(),
			})
		} else {
			appendUnique(results)
		}
	}

	appendUnique(s.manager.Cache().List())

	filtered := merged[:0]
	for _, sess := range merged {
		if matchesCriteria(sess, criteria) {
			filtered = append(filtered, sess)
		}
	}

	sortSessions(filtered, criteria.OrderBy, criteria.OrderAscending)
	if criteria.Limit > 0 && len(filtered) > criteria.Limit {
		filtered = filtered[:criteria.Limit]
	}
	return filtered, nil
}

// FindResumable returns the sessions that may be offered for continuation,
// most recently active first.
func (s *Service) FindResumable(ctx context.Context, userID string) ([]Session, error) {
	canResume := true
	return s.Search(ctx, SearchCriteria{
		UserID:    userID,
		Statuses:  []Status{StatusDraft, StatusInProgress, StatusPaused},
		CanResume: &canResume,
		OrderBy:   OrderByLastActiveAt,
		Limit:     resumableLimit,
	})
}

// Resume resumes the session and derives the URL the UI should navigate to.
// The old record is cleared, when requested, only after the resume itself
// succeeded and only for sessions already linked to a job.
func (s *Service) Resume(ctx context.Context, userID, sessionID string, opts ResumeOptions) (ResumeResult, error) {
	sess, err := s.manager.Resume(ctx, userID, sessionID)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("%w: %s: %v", ErrResumeFailed, sessionID, err)
	}

	ref := sess.ID
	if sess.JobID != "" {
		ref = sess.JobID
	}
	result := ResumeResult{
		Session:   sess,
		ResumeURL: ResumeURL(sess.CurrentStep, ref),
	}

	if opts.ClearOldSession && sess.JobID != "" {
		if _, err := s.manager.Delete(ctx, userID, sessionID); err != nil {
			telemetry.Warn("session.resume.clear_old_failed", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
	return result, nil
}

// CleanupExpired deletes the user's sessions created more than thirty days
// ago, oldest first, and returns the count actually deleted. A delete that
// finds the record in neither store does not count.
func (s *Service) CleanupExpired(ctx context.Context, userID string) (int, error) {
	cutoff := s.now().Add(-expiryAge)
	epoch := time.Unix(0, 0).UTC()
	candidates, err := s.Search(ctx, SearchCriteria{
		UserID:         userID,
		CreatedFrom:    &epoch,
		CreatedTo:      &cutoff,
		OrderBy:        OrderByCreatedAt,
		OrderAscending: true,
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, sess := range candidates {
		if !sess.CreatedAt.Before(cutoff) {
			continue
		}
		found, err := s.manager.Delete(ctx, userID, sess.ID)
		if err != nil {
			telemetry.Error("session.cleanup.delete_failed", map[string]any{
				"session_id": sess.ID,
				"error":      err.Error(),
			})
			continue
		}
		if found {
			deleted++
		}
	}
	if deleted > 0 {
		telemetry.Info("session.cleanup.complete", map[string]any{
			"user_id": userID,
			"deleted": deleted,
		})
	}
	return deleted, nil
}

// ComputeMetrics loads the full session set and computes the aggregate
// figures. An empty set yields zeros without error.
func (s *Service) ComputeMetrics(ctx context.Context, userID string) (Metrics, error) {
	all, err := s.Search(ctx, SearchCriteria{UserID: userID})
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{TotalSessions: len(all)}
	syncOK, syncFailed := metrics.SessionSyncCounts()
	if total := syncOK + syncFailed; total > 0 {
		m.SyncSuccessRate = float64(syncOK) / float64(total)
		m.ErrorRate = float64(syncFailed) / float64(total)
	}
	if len(all) == 0 {
		return m, nil
	}

	var totalDuration time.Duration
	var totalSteps int
	exitSteps := newStepCounter()
	resumeSteps := newStepCounter()

	for _, sess := range all {
		if sess.Status == StatusCompleted {
			m.CompletedSessions++
		} else {
			exitSteps.add(sess.CurrentStep)
		}
		if len(sess.CompletedSteps) > 1 {
			m.ResumedSessions++
		}
		if len(sess.CompletedSteps) > 0 {
			resumeSteps.add(sess.CompletedSteps[len(sess.CompletedSteps)-1])
		}
		totalDuration += sess.LastActiveAt.Sub(sess.CreatedAt)
		totalSteps += len(sess.CompletedSteps)
	}

	m.AverageSessionDuration = totalDuration / time.Duration(len(all))
	m.AverageStepsCompleted = float64(totalSteps) / float64(len(all))
	m.MostCommonExitStep = exitSteps.mode()
	m.MostResumedStep = resumeSteps.mode()
	return m, nil
}

// QuickCreate is shorthand creation for flows that skip the full wizard
// bookkeeping; the job is linked immediately when supplied.
func (s *Service) QuickCreate(ctx context.Context, userID, jobID string) (string, error) {
	sess, err := s.manager.Create(ctx, userID, Seed{JobID: jobID})
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// LinkJob attaches a processing job to the session.
func (s *Service) LinkJob(ctx context.Context, sessionID, jobID string) error {
	if jobID == "" {
		return ErrInvalidInput
	}
	_, err := s.manager.Update(ctx, sessionID, Patch{JobID: &jobID})
	return err
}

// MigrateToUser attaches an authenticated user to a previously anonymous
// session; the same session ID keeps tracking progress, and the first remote
// write is scheduled by the update.
func (s *Service) MigrateToUser(ctx context.Context, sessionID, userID string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	_, err := s.manager.Update(ctx, sessionID, Patch{UserID: &userID})
	return err
}

func matchesCriteria(sess Session, c SearchCriteria) bool {
	if c.UserID != "" && sess.UserID != "" && sess.UserID != c.UserID {
		return false
	}
	if len(c.Statuses) > 0 && !statusIn(sess.Status, c.Statuses) {
		return false
	}
	if c.CanResume != nil && sess.CanResume != *c.CanResume {
		return false
	}
	if c.HasJobID != nil && (sess.JobID != "") != *c.HasJobID {
		return false
	}
	if c.CreatedFrom != nil && sess.CreatedAt.Before(*c.CreatedFrom) {
		return false
	}
	if c.CreatedTo != nil && sess.CreatedAt.After(*c.CreatedTo) {
		return false
	}
	if len(c.Steps) > 0 && !matchesSteps(sess, c.Steps) {
		return false
	}
	return true
}

// matchesSteps reports whether the session touches any of the given steps,
// either as the current step or among the completed ones.
func matchesSteps(sess Session, steps []Step) bool {
	for _, step := range steps {
		if sess.CurrentStep == step || sess.HasCompleted(step) {
			return true
		}
	}
	return false
}

// stepCounter accumulates counts in insertion order so mode ties break to
// the first-encountered step, deterministically.
type stepCounter struct {
	order  []Step
	counts map[Step]int
}

func newStepCounter() *stepCounter {
	return &stepCounter{counts: make(map[Step]int)}
}

func (c *stepCounter) add(s Step) {
	if _, seen := c.counts[s]; !seen {
		c.order = append(c.order, s)
	}
	c.counts[s]++
}

func (c *stepCounter) mode() Step {
	var best Step
	bestCount := 0
	for _, s := range c.order {
		if c.counts[s] > bestCount {
			best = s
			bestCount = c.counts[s]
		}
	}
	return best
}
