package livesync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"livedit/api/internal/dirtree"
	"livedit/api/internal/fingerprint"
	"livedit/api/internal/logging"
	"livedit/api/internal/workspace"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Tree lists every file of ws with its fingerprint as the leaf value.
func (e *Engine) Tree(ctx context.Context, ws *workspace.Workspace) (*dirtree.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ignore := []string{workspace.HistoryDir}
	paths, err := dirtree.Walk(ws.FS(), ignore)
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	sums := e.fingerprints(ws, paths)
	kept := make([]string, 0, len(sums))
	for _, p := range paths {
		if _, ok := sums[p]; ok {
			kept = append(kept, p)
		}
	}
	return dirtree.Build(kept, dirtree.Options{
		Ignore:   ignore,
		Valuator: func(p string) any { return sums[p] },
	}), nil
}

// fingerprints reads every listed file. Files that cannot be read are left
// out so they never show up as empty files.
func (e *Engine) fingerprints(ws *workspace.Workspace, paths []string) map[string]int64 {
	sums := make(map[string]int64, len(paths))
	for _, p := range paths {
		sum, err := fingerprint.File(ws.FS(), p)
		if err != nil {
			e.logger.Warn("skip unreadable file in tree", logging.Workspace(ws.ID()), zap.String("path", p), zap.Error(err))
			continue
		}
		sums[p] = sum
	}
	return sums
}

// Read returns the full content of a file and its fingerprint. Browsers use
// it to resync after a fingerprint mismatch.
func (e *Engine) Read(ctx context.Context, ws *workspace.Workspace, rel string) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	rel, err := workspace.ValidatePath(rel)
	if err != nil {
		return nil, 0, err
	}
	lock := ws.FileLock(rel)
	lock.Lock()
	defer lock.Unlock()

	data, err := readRegular(ws.FS(), rel)
	if err != nil {
		return nil, 0, err
	}
	return data, fingerprint.Sum(data), nil
}

// Create makes an empty file, with any missing parent directories. An
// existing file is left alone.
func (e *Engine) Create(ctx context.Context, ws *workspace.Workspace, rel string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rel, err := workspace.ValidatePath(rel)
	if err != nil {
		return false, err
	}
	lock := ws.FileLock(rel)
	lock.Lock()
	defer lock.Unlock()

	fs := ws.FS()
	info, err := fs.Stat(rel)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("%w: %s is a directory", workspace.ErrInvalidPath, rel)
		}
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}
	if err := ensureParent(fs, rel); err != nil {
		return false, err
	}
	if err := afero.WriteFile(fs, rel, nil, 0o644); err != nil {
		return false, fmt.Errorf("create %s: %w", rel, err)
	}
	e.changed(ws)
	return true, nil
}

// Write replaces the content of a file, creating it if needed.
func (e *Engine) Write(ctx context.Context, ws *workspace.Workspace, rel string, content []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rel, err := workspace.ValidatePath(rel)
	if err != nil {
		return 0, err
	}
	lock := ws.FileLock(rel)
	lock.Lock()
	defer lock.Unlock()

	fs := ws.FS()
	if info, err := fs.Stat(rel); err == nil && info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", workspace.ErrInvalidPath, rel)
	}
	if err := ensureParent(fs, rel); err != nil {
		return 0, err
	}
	if err := afero.WriteFile(fs, rel, content, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", rel, err)
	}
	e.changed(ws)
	return fingerprint.Sum(content), nil
}

func (e *Engine) Delete(ctx context.Context, ws *workspace.Workspace, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := workspace.ValidatePath(rel)
	if err != nil {
		return err
	}
	lock := ws.FileLock(rel)
	lock.Lock()
	defer lock.Unlock()

	if _, err := readRegular(ws.FS(), rel); err != nil {
		return err
	}
	if err := ws.FS().Remove(rel); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	e.changed(ws)
	return nil
}

func (e *Engine) changed(ws *workspace.Workspace) {
	if e.snapshots != nil {
		e.snapshots.ScheduleAutosave(ws)
	}
}

func ensureParent(fs afero.Fs, rel string) error {
	dir := path.Dir(rel)
	if dir == "." {
		return nil
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}
