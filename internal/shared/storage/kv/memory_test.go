package kv

import (
	"bytes"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()

	if _, ok := store.Get("missing"); ok {
		t.Fatalf("expected miss for absent key")
	}

	if err := store.Set("k1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := store.Get("k1")
	if !ok || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("expected v1, got %q ok=%v", got, ok)
	}

	if err := store.Set("k1", []byte("v2")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, _ = store.Get("k1")
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("expected overwrite to win, got %q", got)
	}

	store.Delete("k1")
	if _, ok := store.Get("k1"); ok {
		t.Fatalf("expected key deleted")
	}
	store.Delete("k1")
}

func TestMemoryStoreValueIsolation(t *testing.T) {
	store := NewMemoryStore()

	original := []byte("value")
	if err := store.Set("k1", original); err != nil {
		t.Fatalf("Set: %v", err)
	}
	original[0] = 'x'

	got, _ := store.Get("k1")
	if !bytes.Equal(got, []byte("value")) {
		t.Fatalf("expected stored copy isolated from caller, got %q", got)
	}

	got[0] = 'y'
	again, _ := store.Get("k1")
	if !bytes.Equal(again, []byte("value")) {
		t.Fatalf("expected returned copy isolated from store, got %q", again)
	}
}

func TestMemoryStoreListKeys(t *testing.T) {
	store := NewMemoryStore()

	for _, key := range []string{"app_a", "app_b", "other_c"} {
		if err := store.Set(key, []byte("v")); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	keys := store.ListKeys("app_")
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys with prefix, got %v", keys)
	}
	for _, key := range keys {
		if key != "app_a" && key != "app_b" {
			t.Fatalf("unexpected key %q", key)
		}
	}
}
