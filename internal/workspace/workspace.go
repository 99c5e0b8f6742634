// Package workspace maps session identities to isolated on-disk workspaces
// and owns their lifecycle: provisioning from templates, anonymous expiry and
// deletion on sign-in.
package workspace

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// HistoryDir is the per-workspace version-history directory. It is never
// listed, synced or addressable as a file path.
const HistoryDir = ".git"

var (
	ErrWorkspaceMissing = errors.New("workspace missing")
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrReservedIdentity = errors.New("reserved identity")
	ErrInvalidPath      = errors.New("invalid path")
)

// Workspace is the handle passed explicitly into every core operation.
type Workspace struct {
	id        string
	root      string
	fs        afero.Fs
	anonymous bool
	createdAt time.Time

	// life is read-held by every in-flight operation and write-held while
	// the workspace is being destroyed.
	life sync.RWMutex

	stateMu      sync.Mutex
	destroyed    bool
	historyReady bool

	fileMu    sync.Mutex
	fileLocks map[string]*sync.Mutex
}

func newWorkspace(id, root string, createdAt time.Time) *Workspace {
	return &Workspace{
		id:        id,
		root:      root,
		fs:        afero.NewBasePathFs(afero.NewOsFs(), root),
		anonymous: IsAnonymous(id),
		createdAt: createdAt,
		fileLocks: make(map[string]*sync.Mutex),
	}
}

func (w *Workspace) ID() string {
	return w.id
}

func (w *Workspace) Root() string {
	return w.root
}

// FS is rooted at the workspace directory; paths cannot escape it.
func (w *Workspace) FS() afero.Fs {
	return w.fs
}

func (w *Workspace) Anonymous() bool {
	return w.anonymous
}

func (w *Workspace) CreatedAt() time.Time {
	return w.createdAt
}

// Exists reports whether the workspace is live and its directory is present.
func (w *Workspace) Exists() bool {
	w.stateMu.Lock()
	destroyed := w.destroyed
	w.stateMu.Unlock()
	if destroyed {
		return false
	}
	info, err := os.Stat(w.root)
	return err == nil && info.IsDir()
}

func (w *Workspace) HistoryInitialized() bool {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.historyReady
}

func (w *Workspace) MarkHistoryInitialized() {
	w.stateMu.Lock()
	w.historyReady = true
	w.stateMu.Unlock()
}

// Acquire takes a lease that keeps the workspace from being destroyed until
// release is called. Leases must not be nested within one goroutine.
func (w *Workspace) Acquire() (release func(), err error) {
	w.life.RLock()
	if !w.Exists() {
		w.life.RUnlock()
		return nil, ErrWorkspaceMissing
	}
	return sync.OnceFunc(w.life.RUnlock), nil
}

// FileLock returns the mutex serializing writers of one file.
func (w *Workspace) FileLock(path string) *sync.Mutex {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()
	lock, ok := w.fileLocks[path]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	w.fileLocks[path] = lock
	return lock
}

func (w *Workspace) markDestroyed() {
	w.stateMu.Lock()
	w.destroyed = true
	w.stateMu.Unlock()
}
