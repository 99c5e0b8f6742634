package workspace

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestNewAnonymousIdentityEmbedsCreationTime(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	id := NewAnonymousIdentity(now)
	if !IsAnonymous(id) {
		t.Fatalf("expected %q to be anonymous", id)
	}
	if err := ValidateIdentity(id); err != nil {
		t.Fatalf("ValidateIdentity(%q) error = %v", id, err)
	}
	got, ok := AnonymousCreatedAt(id)
	if !ok || !got.Equal(now) {
		t.Fatalf("AnonymousCreatedAt() = %v, %v; want %v", got, ok, now)
	}
	if other := NewAnonymousIdentity(now); other == id {
		t.Fatal("expected distinct identities for the same instant")
	}
}

func TestAnonymousCreatedAtLegacyMillis(t *testing.T) {
	ms := int64(1_650_000_000_000)
	got, ok := AnonymousCreatedAt(AnonymousPrefix + strconv.FormatInt(ms, 10))
	if !ok || got.UnixMilli() != ms {
		t.Fatalf("AnonymousCreatedAt() = %v, %v", got, ok)
	}
	if _, ok := AnonymousCreatedAt("anonymous-garbage"); ok {
		t.Fatal("expected unparseable stamp to be rejected")
	}
	if _, ok := AnonymousCreatedAt("jordan"); ok {
		t.Fatal("named identity has no creation stamp")
	}
}

func TestValidatePath(t *testing.T) {
	valid := []string{"index.html", "notes/today.txt", "a/b/c.js", "..hidden/file"}
	for _, p := range valid {
		if got, err := ValidatePath(p); err != nil || got != p {
			t.Fatalf("ValidatePath(%q) = %q, %v", p, got, err)
		}
	}
	invalid := []string{"", "/etc/passwd", "../x", "a/../b", "a//b", "./a", "a/", ".git/config", "src/.git", `a\b`}
	for _, p := range invalid {
		if _, err := ValidatePath(p); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("ValidatePath(%q) error = %v, want ErrInvalidPath", p, err)
		}
	}
}
