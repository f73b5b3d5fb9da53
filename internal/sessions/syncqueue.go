package sessions

import (
	"context"
	"sync"
	"time"

	"cvplus-backend/internal/shared/metrics"
	"cvplus-backend/internal/shared/telemetry"
)

// syncQueue serializes remote writes per session so a stale write can never
// clobber a newer one. Each Enqueue records the latest desired state; one
// flusher goroutine per session applies pending states in order and exits.
// A failed write stays pending and is retried on the next mutation of that
// session, never blocking the caller.
type syncQueue struct {
	remote  RemoteRepo
	timeout time.Duration
	onSync  func(sessionID string, syncedAt time.Time)

	mu       sync.Mutex
	pending  map[string]Session
	inFlight map[string]struct{}
}

func newSyncQueue(remote RemoteRepo, timeout time.Duration, onSync func(string, time.Time)) *syncQueue {
	return &syncQueue{
		remote:   remote,
		timeout:  timeout,
		onSync:   onSync,
		pending:  make(map[string]Session),
		inFlight: make(map[string]struct{}),
	}
}

// Enqueue schedules an asynchronous remote write of the session's current
// state. It returns immediately; a newer state for the same session replaces
// any not-yet-written one.
func (q *syncQueue) Enqueue(s Session) {
	if q.remote == nil || s.UserID == "" {
		return
	}
	q.mu.Lock()
	q.pending[s.ID] = s
	if _, busy := q.inFlight[s.ID]; busy {
		q.mu.Unlock()
		return
	}
	q.inFlight[s.ID] = struct{}{}
	q.mu.Unlock()
	go q.flush(s.ID)
}

func (q *syncQueue) flush(sessionID string) {
	for {
		q.mu.Lock()
		s, ok := q.pending[sessionID]
		if !ok {
			delete(q.inFlight, sessionID)
			q.mu.Unlock()
			return
		}
		delete(q.pending, sessionID)
		q.mu.Unlock()

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.remote.Put(ctx, s)
		cancel()
		metrics.ObserveSessionSyncDurationMs(float64(time.Since(start).Microseconds()) / 1000.0)

		if err != nil {
			metrics.IncSessionSyncFailed()
			telemetry.Error("session.sync.remote_write_failed", map[string]any{
				"session_id": s.ID,
				"user_id":    s.UserID,
				"error":      err.Error(),
			})
			q.mu.Lock()
			// Leave the failed state pending unless a newer one arrived
			// while we were writing; the next mutation restarts the flush.
			if _, replaced := q.pending[sessionID]; !replaced {
				q.pending[sessionID] = s
			}
			delete(q.inFlight, sessionID)
			q.mu.Unlock()
			return
		}

		metrics.IncSessionSyncSucceeded()
		if q.onSync != nil {
			q.onSync(s.ID, time.Now().UTC())
		}
	}
}

// drain blocks until no flushers are running. Used by tests.
func (q *syncQueue) drain() {
	for {
		q.mu.Lock()
		busy := len(q.inFlight) > 0
		q.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
