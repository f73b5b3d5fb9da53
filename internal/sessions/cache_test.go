package sessions

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"cvplus-backend/internal/shared/storage/kv"
)

func TestCacheRoundTrip(t *testing.T) {
	store := kv.NewMemoryStore()
	cache := NewCacheStore(store)

	syncedAt := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	sess := Session{
		ID:             "sess-1",
		UserID:         "user-1",
		JobID:          "job-1",
		Status:         StatusInProgress,
		CurrentStep:    StepAnalysis,
		CompletedSteps: []Step{StepUpload, StepProcessing},
		CanResume:      true,
		FormData:       map[string]any{"targetRole": "engineer"},
		CreatedAt:      time.Date(2026, 8, 1, 10, 0, 0, 123456789, time.UTC),
		LastActiveAt:   time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
		LastSyncAt:     &syncedAt,
	}
	if err := cache.Put(sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := cache.Get("sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, sess) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, sess)
	}
}

func TestCacheKeyNamespace(t *testing.T) {
	store := kv.NewMemoryStore()
	cache := NewCacheStore(store)

	seedCachedSession(t, cache, "sess-1")
	if _, ok := store.Get("cvplus_session_sess-1"); !ok {
		t.Fatalf("expected record under cvplus_session_ prefix")
	}
}

func TestCacheCorruptRecordDropped(t *testing.T) {
	store := kv.NewMemoryStore()
	cache := NewCacheStore(store)

	if err := store.Set("cvplus_session_bad", []byte("{not-json")); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}

	if _, err := cache.Get("bad"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for corrupt record, got %v", err)
	}
	if _, ok := store.Get("cvplus_session_bad"); ok {
		t.Fatalf("expected corrupt record removed from store")
	}
}

func TestCacheListSkipsCorruptRecords(t *testing.T) {
	store := kv.NewMemoryStore()
	cache := NewCacheStore(store)

	seedCachedSession(t, cache, "sess-1")
	if err := store.Set("cvplus_session_bad", []byte(`{"sessionId":"bad","status":"nope"}`)); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}
	seedCachedSession(t, cache, "sess-2")

	list := cache.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 decodable sessions, got %d", len(list))
	}
	for _, s := range list {
		if s.ID == "bad" {
			t.Fatalf("corrupt record leaked into listing")
		}
	}
	if _, ok := store.Get("cvplus_session_bad"); ok {
		t.Fatalf("expected corrupt record dropped during listing")
	}
}

func TestCacheDeleteReportsExistence(t *testing.T) {
	cache := NewCacheStore(kv.NewMemoryStore())

	seedCachedSession(t, cache, "sess-1")
	if !cache.Delete("sess-1") {
		t.Fatalf("expected delete of existing record to report true")
	}
	if cache.Delete("sess-1") {
		t.Fatalf("expected repeat delete to report false")
	}
}

func TestDecodeRejectsMalformedTimestamps(t *testing.T) {
	_, err := decodeSession([]byte(`{"sessionId":"sess-1","status":"draft","currentStep":"upload","createdAt":"not-a-time","lastActiveAt":"2026-08-01T10:00:00Z"}`))
	if err == nil {
		t.Fatalf("expected decode error for malformed createdAt")
	}
}

func TestEncodeRejectsEmptyID(t *testing.T) {
	if _, err := encodeSession(Session{}); err == nil {
		t.Fatalf("expected encode error for empty session id")
	}
}

func seedCachedSession(t *testing.T, cache *CacheStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := cache.Put(Session{
		ID:           id,
		Status:       StatusDraft,
		CurrentStep:  StepUpload,
		CanResume:    true,
		CreatedAt:    now,
		LastActiveAt: now,
	})
	if err != nil {
		t.Fatalf("seed session %s: %v", id, err)
	}
}
