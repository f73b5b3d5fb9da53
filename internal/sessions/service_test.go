package sessions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cvplus-backend/internal/shared/storage/kv"
)

func newTestService(t *testing.T) (*Service, *Manager, *MemoryRepo) {
	t.Helper()
	manager, remote := newTestManager(t)
	return NewService(manager), manager, remote
}

func seedCached(t *testing.T, manager *Manager, s Session) {
	t.Helper()
	if s.Status == "" {
		s.Status = StatusInProgress
	}
	if s.CurrentStep == "" {
		s.CurrentStep = StepUpload
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.LastActiveAt.IsZero() {
		s.LastActiveAt = s.CreatedAt
	}
	if err := manager.Cache().Put(s); err != nil {
		t.Fatalf("seed cache %s: %v", s.ID, err)
	}
}

func seedRemote(t *testing.T, remote *MemoryRepo, s Session) {
	t.Helper()
	if s.Status == "" {
		s.Status = StatusInProgress
	}
	if s.CurrentStep == "" {
		s.CurrentStep = StepUpload
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.LastActiveAt.IsZero() {
		s.LastActiveAt = s.CreatedAt
	}
	if err := remote.Put(context.Background(), s); err != nil {
		t.Fatalf("seed remote %s: %v", s.ID, err)
	}
}

func TestSearchDeduplicatesRemoteFirst(t *testing.T) {
	svc, manager, remote := newTestService(t)

	seedRemote(t, remote, Session{ID: "sess-1", UserID: "user-1", JobID: "job-remote", CanResume: true})
	seedCached(t, manager, Session{ID: "sess-1", UserID: "user-1", JobID: "job-stale", CanResume: true})
	seedCached(t, manager, Session{ID: "sess-2", UserID: "user-1", CanResume: true})

	results, err := svc.Search(context.Background(), SearchCriteria{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(results))
	}
	for _, sess := range results {
		if sess.ID == "sess-1" && sess.JobID != "job-remote" {
			t.Fatalf("expected remote copy to win dedup, got jobId %q", sess.JobID)
		}
	}
}

func TestSearchIncludesAnonymousLocalSessions(t *testing.T) {
	svc, manager, _ := newTestService(t)

	seedCached(t, manager, Session{ID: "sess-anon", CanResume: true})
	seedCached(t, manager, Session{ID: "sess-other", UserID: "user-2", CanResume: true})

	results, err := svc.Search(context.Background(), SearchCriteria{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the anonymous session, got %d", len(results))
	}
	if results[0].ID != "sess-anon" {
		t.Fatalf("expected sess-anon, got %q", results[0].ID)
	}
}

func TestSearchSurvivesRemoteOutage(t *testing.T) {
	manager := NewManager(NewCacheStore(kv.NewMemoryStore()), failingRepo{})
	svc := NewService(manager)

	seedCached(t, manager, Session{ID: "sess-1", UserID: "user-1", CanResume: true})

	results, err := svc.Search(context.Background(), SearchCriteria{UserID: "user-1"})
	if err != nil {
		t.Fatalf("expected degraded search to succeed, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected cached session despite remote outage, got %d results", len(results))
	}
}

func TestSearchFilters(t *testing.T) {
	svc, manager, _ := newTestService(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedCached(t, manager, Session{
		ID: "with-job", UserID: "user-1", JobID: "job-1", CanResume: true,
		CreatedAt: base, CurrentStep: StepTemplates,
		CompletedSteps: []Step{StepUpload, StepProcessing},
	})
	seedCached(t, manager, Session{
		ID: "without-job", UserID: "user-1", CanResume: false,
		CreatedAt: base.Add(48 * time.Hour), CurrentStep: StepUpload,
		Status: StatusPaused,
	})

	hasJob := true
	results, err := svc.Search(context.Background(), SearchCriteria{UserID: "user-1", HasJobID: &hasJob})
	if err != nil {
		t.Fatalf("Search hasJobId: %v", err)
	}
	if len(results) != 1 || results[0].ID != "with-job" {
		t.Fatalf("expected only with-job, got %v", resultIDs(results))
	}

	from := base.Add(time.Hour)
	results, err = svc.Search(context.Background(), SearchCriteria{UserID: "user-1", CreatedFrom: &from})
	if err != nil {
		t.Fatalf("Search createdFrom: %v", err)
	}
	if len(results) != 1 || results[0].ID != "without-job" {
		t.Fatalf("expected only without-job, got %v", resultIDs(results))
	}

	results, err = svc.Search(context.Background(), SearchCriteria{UserID: "user-1", Steps: []Step{StepProcessing}})
	if err != nil {
		t.Fatalf("Search steps: %v", err)
	}
	if len(results) != 1 || results[0].ID != "with-job" {
		t.Fatalf("expected completed-step match, got %v", resultIDs(results))
	}

	results, err = svc.Search(context.Background(), SearchCriteria{UserID: "user-1", Statuses: []Status{StatusPaused}})
	if err != nil {
		t.Fatalf("Search statuses: %v", err)
	}
	if len(results) != 1 || results[0].ID != "without-job" {
		t.Fatalf("expected paused session, got %v", resultIDs(results))
	}
}

func TestSearchOrderAndLimit(t *testing.T) {
	svc, manager, _ := newTestService(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		seedCached(t, manager, Session{
			ID: id, UserID: "user-1", CanResume: true,
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
			LastActiveAt: base.Add(time.Duration(3-i) * time.Hour),
		})
	}

	results, err := svc.Search(context.Background(), SearchCriteria{
		UserID:  "user-1",
		OrderBy: OrderByLastActiveAt,
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("expected [a b] most recently active first, got %v", resultIDs(results))
	}

	results, err = svc.Search(context.Background(), SearchCriteria{
		UserID:         "user-1",
		OrderBy:        OrderByCreatedAt,
		OrderAscending: true,
	})
	if err != nil {
		t.Fatalf("Search ascending: %v", err)
	}
	if len(results) != 3 || results[0].ID != "a" || results[2].ID != "c" {
		t.Fatalf("expected [a b c] oldest first, got %v", resultIDs(results))
	}
}

func TestFindResumableSkipsCompletedAndBlocked(t *testing.T) {
	svc, manager, _ := newTestService(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedCached(t, manager, Session{ID: "draft", UserID: "user-1", Status: StatusDraft, CanResume: true, LastActiveAt: base.Add(time.Hour), CreatedAt: base})
	seedCached(t, manager, Session{ID: "paused", UserID: "user-1", Status: StatusPaused, CanResume: true, LastActiveAt: base.Add(3 * time.Hour), CreatedAt: base})
	seedCached(t, manager, Session{ID: "done", UserID: "user-1", Status: StatusCompleted, CanResume: true, LastActiveAt: base.Add(4 * time.Hour), CreatedAt: base})
	seedCached(t, manager, Session{ID: "blocked", UserID: "user-1", Status: StatusInProgress, CanResume: false, LastActiveAt: base.Add(5 * time.Hour), CreatedAt: base})

	results, err := svc.FindResumable(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindResumable: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 resumable sessions, got %v", resultIDs(results))
	}
	if results[0].ID != "paused" || results[1].ID != "draft" {
		t.Fatalf("expected [paused draft], got %v", resultIDs(results))
	}
}

func TestFindResumableLimit(t *testing.T) {
	svc, manager, _ := newTestService(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < resumableLimit+3; i++ {
		seedCached(t, manager, Session{
			ID:           "sess-" + string(rune('a'+i)),
			UserID:       "user-1",
			CanResume:    true,
			CreatedAt:    base,
			LastActiveAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	results, err := svc.FindResumable(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindResumable: %v", err)
	}
	if len(results) != resumableLimit {
		t.Fatalf("expected %d sessions, got %d", resumableLimit, len(results))
	}
}

func TestResumeDerivesURL(t *testing.T) {
	svc, manager, _ := newTestService(t)

	seedCached(t, manager, Session{
		ID: "sess-1", UserID: "user-1", JobID: "job-1",
		CurrentStep: StepTemplates, CanResume: true,
	})

	result, err := svc.Resume(context.Background(), "user-1", "sess-1", DefaultResumeOptions())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if result.ResumeURL != "/templates/job-1" {
		t.Fatalf("expected /templates/job-1, got %q", result.ResumeURL)
	}
}

func TestResumeFallsBackToSessionRef(t *testing.T) {
	svc, manager, _ := newTestService(t)

	seedCached(t, manager, Session{
		ID: "sess-1", UserID: "user-1",
		CurrentStep: StepPreview, CanResume: true,
	})

	result, err := svc.Resume(context.Background(), "user-1", "sess-1", DefaultResumeOptions())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if result.ResumeURL != "/preview/sess-1" {
		t.Fatalf("expected /preview/sess-1, got %q", result.ResumeURL)
	}
}

func TestResumeUnknownSessionWrapsError(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Resume(context.Background(), "user-1", "missing", DefaultResumeOptions())
	if !errors.Is(err, ErrResumeFailed) {
		t.Fatalf("expected ErrResumeFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected error to name the session, got %q", err.Error())
	}
}

func TestResumeClearsOldJobSession(t *testing.T) {
	svc, manager, _ := newTestService(t)

	seedCached(t, manager, Session{
		ID: "sess-1", UserID: "user-1", JobID: "job-1",
		CurrentStep: StepResults, CanResume: true,
	})

	opts := DefaultResumeOptions()
	opts.ClearOldSession = true
	if _, err := svc.Resume(context.Background(), "user-1", "sess-1", opts); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if _, err := manager.Cache().Get("sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session cleared after resume, got %v", err)
	}
}

func TestCleanupExpiredStrictCutoff(t *testing.T) {
	svc, manager, _ := newTestService(t)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	cutoff := now.Add(-expiryAge)

	seedCached(t, manager, Session{ID: "old", UserID: "user-1", CanResume: true, CreatedAt: cutoff.Add(-time.Hour)})
	seedCached(t, manager, Session{ID: "boundary", UserID: "user-1", CanResume: true, CreatedAt: cutoff})
	seedCached(t, manager, Session{ID: "fresh", UserID: "user-1", CanResume: true, CreatedAt: now.Add(-time.Hour)})

	deleted, err := svc.CleanupExpired(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := manager.Cache().Get("old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old session deleted, got %v", err)
	}
	if _, err := manager.Cache().Get("boundary"); err != nil {
		t.Fatalf("expected boundary session kept: %v", err)
	}
	if _, err := manager.Cache().Get("fresh"); err != nil {
		t.Fatalf("expected fresh session kept: %v", err)
	}
}

func TestComputeMetricsEmptySet(t *testing.T) {
	svc, _, _ := newTestService(t)

	m, err := svc.ComputeMetrics(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ComputeMetrics: %v", err)
	}
	if m.TotalSessions != 0 || m.CompletedSessions != 0 {
		t.Fatalf("expected zeroed counts, got %+v", m)
	}
	if m.AverageStepsCompleted != 0 || m.AverageSessionDuration != 0 {
		t.Fatalf("expected zeroed averages, got %+v", m)
	}
}

func TestComputeMetricsAggregates(t *testing.T) {
	svc, manager, _ := newTestService(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedCached(t, manager, Session{
		ID: "done", UserID: "user-1", Status: StatusCompleted, CanResume: true,
		CurrentStep:    StepResults,
		CompletedSteps: []Step{StepUpload, StepProcessing, StepAnalysis},
		CreatedAt:      base, LastActiveAt: base.Add(30 * time.Minute),
	})
	seedCached(t, manager, Session{
		ID: "mid", UserID: "user-1", Status: StatusInProgress, CanResume: true,
		CurrentStep:    StepTemplates,
		CompletedSteps: []Step{StepUpload},
		CreatedAt:      base, LastActiveAt: base.Add(10 * time.Minute),
	})
	seedCached(t, manager, Session{
		ID: "early", UserID: "user-1", Status: StatusDraft, CanResume: true,
		CurrentStep: StepUpload,
		CreatedAt:   base, LastActiveAt: base.Add(20 * time.Minute),
	})

	m, err := svc.ComputeMetrics(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ComputeMetrics: %v", err)
	}
	if m.TotalSessions != 3 {
		t.Fatalf("expected 3 total, got %d", m.TotalSessions)
	}
	if m.CompletedSessions != 1 {
		t.Fatalf("expected 1 completed, got %d", m.CompletedSessions)
	}
	if m.ResumedSessions != 1 {
		t.Fatalf("expected 1 resumed, got %d", m.ResumedSessions)
	}
	if m.AverageSessionDuration != 20*time.Minute {
		t.Fatalf("expected 20m average duration, got %v", m.AverageSessionDuration)
	}
	if m.AverageStepsCompleted != 4.0/3.0 {
		t.Fatalf("expected 4/3 average steps, got %v", m.AverageStepsCompleted)
	}
}

func TestComputeMetricsModeTieBreak(t *testing.T) {
	svc, manager, _ := newTestService(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	// Two incomplete sessions exit at templates, two at preview; the
	// first-seen step wins the tie. Search orders by lastActiveAt
	// descending by default, so "t1" is counted first.
	seedCached(t, manager, Session{ID: "t1", UserID: "user-1", CanResume: true, CurrentStep: StepTemplates, CreatedAt: base, LastActiveAt: base.Add(4 * time.Hour)})
	seedCached(t, manager, Session{ID: "p1", UserID: "user-1", CanResume: true, CurrentStep: StepPreview, CreatedAt: base, LastActiveAt: base.Add(3 * time.Hour)})
	seedCached(t, manager, Session{ID: "t2", UserID: "user-1", CanResume: true, CurrentStep: StepTemplates, CreatedAt: base, LastActiveAt: base.Add(2 * time.Hour)})
	seedCached(t, manager, Session{ID: "p2", UserID: "user-1", CanResume: true, CurrentStep: StepPreview, CreatedAt: base, LastActiveAt: base.Add(time.Hour)})

	m, err := svc.ComputeMetrics(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ComputeMetrics: %v", err)
	}
	if m.MostCommonExitStep != StepTemplates {
		t.Fatalf("expected templates as mode, got %q", m.MostCommonExitStep)
	}
}

func TestLinkJobRequiresJobID(t *testing.T) {
	svc, _, _ := newTestService(t)

	if err := svc.LinkJob(context.Background(), "sess-1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMigrateToUserSchedulesFirstSync(t *testing.T) {
	svc, manager, remote := newTestService(t)

	sess, err := manager.Create(context.Background(), "", Seed{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	manager.queue.drain()

	if err := svc.MigrateToUser(context.Background(), sess.ID, "user-1"); err != nil {
		t.Fatalf("MigrateToUser: %v", err)
	}
	manager.queue.drain()

	stored, err := remote.Get(context.Background(), "user-1", sess.ID)
	if err != nil {
		t.Fatalf("expected migrated session in remote store: %v", err)
	}
	if stored.UserID != "user-1" {
		t.Fatalf("expected userId user-1, got %q", stored.UserID)
	}
}

func resultIDs(list []Session) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}
