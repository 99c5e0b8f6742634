// Package livesync keeps on-disk workspace files in step with the browser
// copy by applying text patches and reporting the resulting fingerprint.
package livesync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"livedit/api/internal/fingerprint"
	"livedit/api/internal/logging"
	"livedit/api/internal/metrics"
	"livedit/api/internal/workspace"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrPatchConflict = errors.New("patch conflict")
	ErrInvalidPatch  = errors.New("invalid patch")
)

// Snapshotter is told about every change that should end up in history.
type Snapshotter interface {
	ScheduleAutosave(ws *workspace.Workspace)
}

// Transaction describes one applied sync.
type Transaction struct {
	Path        string `json:"path"`
	Patch       string `json:"-"`
	Before      int64  `json:"before"`
	Fingerprint int64  `json:"fingerprint"`
	Changed     bool   `json:"changed"`
}

type Engine struct {
	snapshots Snapshotter
	logger    *zap.Logger
}

func New(snapshots Snapshotter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = logging.L()
	}
	return &Engine{snapshots: snapshots, logger: logger}
}

// Sync applies patch to the file at path and returns the fingerprint of the
// new content. The file is only written when every hunk applied and the
// content changed. Every successful sync requests an autosave.
func (e *Engine) Sync(ctx context.Context, ws *workspace.Workspace, path, patch string) (Transaction, error) {
	started := time.Now()
	tx, result, err := e.sync(ctx, ws, path, patch)
	metrics.RecordSync(result, time.Since(started))
	if err != nil {
		e.logger.Debug("sync rejected", logging.Workspace(ws.ID()), zap.String("path", path), zap.String("result", result), zap.Error(err))
		return Transaction{}, err
	}
	return tx, nil
}

func (e *Engine) sync(ctx context.Context, ws *workspace.Workspace, path, patch string) (Transaction, string, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, "error", err
	}
	path, err := workspace.ValidatePath(path)
	if err != nil {
		return Transaction{}, "invalid", err
	}

	lock := ws.FileLock(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := readRegular(ws.FS(), path)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return Transaction{}, "missing", err
		}
		return Transaction{}, "error", err
	}
	before := string(data)
	tx := Transaction{
		Path:        path,
		Patch:       patch,
		Before:      fingerprint.Sum(data),
		Fingerprint: fingerprint.Sum(data),
	}

	after, err := Apply(before, patch)
	if err != nil {
		if errors.Is(err, ErrPatchConflict) {
			return Transaction{}, "conflict", err
		}
		return Transaction{}, "invalid", err
	}
	if after == before {
		e.changed(ws)
		return tx, "noop", nil
	}

	if err := afero.WriteFile(ws.FS(), path, []byte(after), 0o644); err != nil {
		return Transaction{}, "error", fmt.Errorf("write %s: %w", path, err)
	}
	tx.Fingerprint = fingerprint.String(after)
	tx.Changed = true
	e.changed(ws)
	return tx, "ok", nil
}

func readRegular(fs afero.Fs, path string) ([]byte, error) {
	info, err := fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
