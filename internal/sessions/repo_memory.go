package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of RemoteRepo used in tests and
// DB-less dev mode.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]map[string]Session // userId -> sessionId -> session
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]map[string]Session)}
}

// Get returns a session document by ID.
func (r *MemoryRepo) Get(ctx context.Context, userID, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[userID][sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Put upserts the session document and stamps LastSyncAt.
func (r *MemoryRepo) Put(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.UserID == "" {
		return ErrInvalidInput
	}
	now := time.Now().UTC()
	s.LastSyncAt = &now
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[s.UserID] == nil {
		r.data[s.UserID] = make(map[string]Session)
	}
	r.data[s.UserID][s.ID] = s
	return nil
}

// Delete removes the document and reports whether it existed.
func (r *MemoryRepo) Delete(ctx context.Context, userID, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.data[userID][sessionID]
	if ok {
		delete(r.data[userID], sessionID)
	}
	return ok, nil
}

// Query evaluates the pushed-down filters over the user's collection.
func (r *MemoryRepo) Query(ctx context.Context, q RemoteQuery) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Session, 0, len(r.data[q.UserID]))
	for _, s := range r.data[q.UserID] {
		if len(q.Statuses) > 0 && !statusIn(s.Status, q.Statuses) {
			continue
		}
		if q.CanResume != nil && s.CanResume != *q.CanResume {
			continue
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sortSessions(out, q.OrderBy, q.OrderAscending)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func statusIn(s Status, set []Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func sortSessions(list []Session, orderBy OrderField, ascending bool) {
	key := func(s Session) time.Time {
		if orderBy == OrderByCreatedAt {
			return s.CreatedAt
		}
		return s.LastActiveAt
	}
	sort.SliceStable(list, func(i, j int) bool {
		if ascending {
			return key(list[i]).Before(key(list[j]))
		}
		return key(list[i]).After(key(list[j]))
	})
}
