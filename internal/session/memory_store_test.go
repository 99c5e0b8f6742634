package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Bind(ctx, "sid", Binding{Identity: "avery"}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	now = now.Add(50 * time.Second)
	if _, err := store.Lookup(ctx, "sid"); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	now = now.Add(50 * time.Second)
	if _, err := store.Lookup(ctx, "sid"); err != nil {
		t.Fatalf("expected lookup to extend expiry, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Lookup(ctx, "sid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUnbind(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	if err := store.Bind(ctx, "sid", Binding{Identity: "avery"}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := store.Unbind(ctx, "sid"); err != nil {
		t.Fatalf("Unbind failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "sid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
