// Package history keeps an append-only list of snapshots per workspace and
// rewinds the working tree to any of them.
package history

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownTarget = errors.New("unknown snapshot")
	ErrBackend       = errors.New("history backend failure")
)

const (
	ReasonAutosave   = "Autosave"
	ReasonManualSave = "Manual save"
	reasonRewind     = "Rewind to "
)

// Entry is one snapshot. ID is unique within a workspace history.
type Entry struct {
	ID        string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

type Author struct {
	Name  string
	Email string
}

// Backend stores the snapshots of a single workspace.
type Backend interface {
	// Init creates an empty history. Calling it on an initialized
	// workspace leaves the existing history alone.
	Init(ctx context.Context, author Author) error
	Commit(ctx context.Context, reason string, allowEmpty bool) (Entry, error)
	// Log lists snapshots newest first.
	Log(ctx context.Context) ([]Entry, error)
	Has(ctx context.Context, id string) (bool, error)
	// DiffApply writes the difference between two snapshots onto the
	// working tree without recording anything.
	DiffApply(ctx context.Context, fromID, toID string) error
	// ResetHard moves history back to id, dropping later snapshots, and
	// resets the working tree to match.
	ResetHard(ctx context.Context, id string) error
	// Dirty reports whether the working tree differs from the latest
	// snapshot.
	Dirty(ctx context.Context) (bool, error)
}

// Opener returns the backend for the workspace rooted at root.
type Opener func(root string) Backend
