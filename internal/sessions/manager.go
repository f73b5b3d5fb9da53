package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"cvplus-backend/internal/shared/metrics"
	"cvplus-backend/internal/shared/telemetry"
)

const defaultRemoteTimeout = 5 * time.Second

// Manager is the single authoritative owner of session mutation and the
// dual-write protocol: every mutation lands in the local cache synchronously,
// and a remote write is scheduled asynchronously for authenticated sessions.
// The local cache is the durability guarantee for the current device; remote
// write failures are logged and retried on a later mutation, never surfaced
// to the caller.
type Manager struct {
	cache         *CacheStore
	remote        RemoteRepo
	queue         *syncQueue
	remoteTimeout time.Duration
	now           func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager wires a Manager over the two storage backends. remote may be
// nil, which leaves the engine in local-only mode.
func NewManager(cache *CacheStore, remote RemoteRepo) *Manager {
	m := &Manager{
		cache:         cache,
		remote:        remote,
		remoteTimeout: defaultRemoteTimeout,
		now:           func() time.Time { return time.Now().UTC() },
		locks:         make(map[string]*sync.Mutex),
	}
	m.queue = newSyncQueue(remote, m.remoteTimeout, m.markSynced)
	return m
}

// Create allocates a new session in draft state at the upload step. The
// local write is synchronous; the remote write, scheduled only when a user
// is attached, is not awaited.
func (m *Manager) Create(ctx context.Context, userID string, seed Seed) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	now := m.now()
	s := Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		JobID:          seed.JobID,
		Status:         StatusDraft,
		CurrentStep:    StepUpload,
		CompletedSteps: []Step{},
		CanResume:      true,
		FormData:       seed.FormData,
		CreatedAt:      now,
		LastActiveAt:   now,
	}

	if err := m.cache.Put(s); err != nil {
		return Session{}, err
	}
	metrics.IncSessionCreated()
	m.queue.Enqueue(s)
	return s, nil
}

// Update merges the patch into the stored session, bumps LastActiveAt,
// rewrites the cache and schedules a remote write. It returns ErrNotFound
// when the session is not resolvable locally; callers must load it first.
func (m *Manager) Update(ctx context.Context, sessionID string, patch Patch) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	unlock := m.lockSession(sessionID)
	defer unlock()

	s, err := m.cache.Get(sessionID)
	if err != nil {
		return Session{}, err
	}

	s = applyPatch(s, patch)
	if bumped := m.now(); bumped.After(s.LastActiveAt) {
		s.LastActiveAt = bumped
	}

	if err := m.cache.Put(s); err != nil {
		return Session{}, err
	}
	m.queue.Enqueue(s)
	return s, nil
}

// Resume resolves the session, preferring the remote copy when a user is
// authenticated, and marks it active by refreshing the local cache with the
// resolved copy. A remote failure or timeout falls back to the cache;
// resumption never hard-fails on a transient sync problem. Completed
// sessions are rejected regardless of the CanResume flag; a cleared flag
// rejects the rest.
func (m *Manager) Resume(ctx context.Context, userID, sessionID string) (Session, error) {
	s, found := m.resolve(ctx, userID, sessionID)
	if !found {
		return Session{}, ErrNotFound
	}
	if !s.Resumable() {
		return Session{}, ErrNotResumable
	}

	unlock := m.lockSession(sessionID)
	err := m.cache.Put(s)
	unlock()
	if err != nil {
		return Session{}, err
	}
	metrics.IncSessionResumed()
	return s, nil
}

// Delete removes the session from both backends. It reports true iff at
// least one backend actually had the record, and is idempotent.
func (m *Manager) Delete(ctx context.Context, userID, sessionID string) (bool, error) {
	unlock := m.lockSession(sessionID)
	local, localErr := m.cache.Get(sessionID)
	localFound := localErr == nil
	if localFound {
		m.cache.Delete(sessionID)
	}
	unlock()
	m.releaseLock(sessionID)

	remoteFound := false
	owner := userID
	if owner == "" && localFound {
		owner = local.UserID
	}
	if m.remote != nil && owner != "" {
		remoteCtx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
		found, err := m.remote.Delete(remoteCtx, owner, sessionID)
		cancel()
		if err != nil {
			telemetry.Error("session.delete.remote_failed", map[string]any{
				"session_id": sessionID,
				"user_id":    owner,
				"error":      err.Error(),
			})
		} else {
			remoteFound = found
		}
	}

	deleted := localFound || remoteFound
	if deleted {
		metrics.IncSessionDeleted()
	}
	return deleted, nil
}

// Get resolves the session from either store without side effects, cache
// first since it does not suspend.
func (m *Manager) Get(ctx context.Context, userID, sessionID string) (Session, error) {
	if s, err := m.cache.Get(sessionID); err == nil {
		return s, nil
	}
	if m.remote != nil && userID != "" {
		remoteCtx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
		defer cancel()
		s, err := m.remote.Get(remoteCtx, userID, sessionID)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			telemetry.Warn("session.get.remote_failed", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
	return Session{}, ErrNotFound
}

// Cache exposes the local cache boundary for the read-path service.
func (m *Manager) Cache() *CacheStore { return m.cache }

// Remote exposes the remote repo for the read-path service; nil in
// local-only mode.
func (m *Manager) Remote() RemoteRepo { return m.remote }

// resolve prefers the freshest reachable copy: remote when authenticated,
// cache otherwise or on remote failure.
func (m *Manager) resolve(ctx context.Context, userID, sessionID string) (Session, bool) {
	if m.remote != nil && userID != "" {
		remoteCtx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
		s, err := m.remote.Get(remoteCtx, userID, sessionID)
		cancel()
		if err == nil {
			return s, true
		}
		if !errors.Is(err, ErrNotFound) {
			telemetry.Warn("session.resume.remote_unreachable", map[string]any{
				"session_id": sessionID,
				"user_id":    userID,
				"error":      err.Error(),
			})
		}
	}
	s, err := m.cache.Get(sessionID)
	if err != nil {
		return Session{}, false
	}
	return s, true
}

// lockSession serializes cache read-modify-writes for one session. Callers
// and the background sync callback share it, so the last caller always wins
// in the cache and a stale re-read can never land over a newer write.
func (m *Manager) lockSession(sessionID string) func() {
	m.locksMu.Lock()
	mu, ok := m.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[sessionID] = mu
	}
	m.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// releaseLock drops the per-session mutex after a delete so the lock table
// does not grow with the lifetime of the process.
func (m *Manager) releaseLock(sessionID string) {
	m.locksMu.Lock()
	delete(m.locks, sessionID)
	m.locksMu.Unlock()
}

// markSynced records a successful remote write on the cached copy so the
// next read reflects lastSyncAt. The re-read happens under the session lock,
// so only the sync stamp is added to whatever state is current; a session
// deleted meanwhile is left alone.
func (m *Manager) markSynced(sessionID string, syncedAt time.Time) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	s, err := m.cache.Get(sessionID)
	if err != nil {
		return
	}
	s.LastSyncAt = &syncedAt
	if err := m.cache.Put(s); err != nil {
		telemetry.Warn("session.sync.mark_failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func applyPatch(s Session, patch Patch) Session {
	if patch.UserID != nil {
		s.UserID = *patch.UserID
	}
	if patch.JobID != nil {
		s.JobID = *patch.JobID
	}
	if patch.Status != nil && ValidStatus(*patch.Status) {
		s.Status = *patch.Status
	}
	if patch.CurrentStep != nil {
		s.CurrentStep = *patch.CurrentStep
	}
	if patch.CanResume != nil {
		s.CanResume = *patch.CanResume
	}
	if patch.FormData != nil {
		s.FormData = patch.FormData
	}
	// Completed steps only grow forward; first-completion order is kept.
	for _, step := range patch.CompletedSteps {
		if !s.HasCompleted(step) {
			s.CompletedSteps = append(s.CompletedSteps, step)
		}
	}
	return s
}
