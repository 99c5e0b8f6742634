package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"livedit/api/internal/logging"
	"livedit/api/internal/metrics"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Lifecycle is implemented by the version history engine: history is
// initialized once per workspace and forgotten (pending timers cancelled)
// when the workspace is destroyed.
type Lifecycle interface {
	Initialize(ctx context.Context, ws *Workspace) error
	Forget(ws *Workspace)
}

// Record describes a provisioned workspace for the lifecycle ledger.
type Record struct {
	Identity  string
	Root      string
	Anonymous bool
	CreatedAt time.Time
}

// Ledger keeps an audit trail of workspace creation and deletion.
type Ledger interface {
	RecordCreated(ctx context.Context, record Record) error
	RecordDeleted(ctx context.Context, identity, reason string) error
}

type Options struct {
	ContentDir        string
	AnonymousTemplate string
	NamedTemplate     string
	Lifecycle         Lifecycle
	Ledger            Ledger
	Logger            *zap.Logger
	Now               func() time.Time
	// AnonTTL is the lifetime of anonymous workspaces. Zero disables the
	// expiry check on resolve.
	AnonTTL time.Duration
}

type Registry struct {
	contentDir        string
	anonymousTemplate string
	namedTemplate     string
	lifecycle         Lifecycle
	ledger            Ledger
	logger            *zap.Logger
	now               func() time.Time
	anonTTL           time.Duration
	osfs              afero.Fs

	mu         sync.Mutex
	workspaces map[string]*Workspace
	// gone holds identities whose workspace vanished or was deleted; the
	// next resolve reports ErrWorkspaceMissing once, then re-provisions.
	gone map[string]struct{}

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		contentDir:        opts.ContentDir,
		anonymousTemplate: opts.AnonymousTemplate,
		namedTemplate:     opts.NamedTemplate,
		lifecycle:         opts.Lifecycle,
		ledger:            opts.Ledger,
		logger:            opts.Logger,
		now:               opts.Now,
		anonTTL:           opts.AnonTTL,
		osfs:              afero.NewOsFs(),
		workspaces:        make(map[string]*Workspace),
		gone:              make(map[string]struct{}),
		locks:             make(map[string]*sync.Mutex),
	}
	if r.logger == nil {
		r.logger = logging.L()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.ledger == nil {
		r.ledger = NopLedger{}
	}
	return r
}

// SetLifecycle wires the history engine after construction; the engine and
// the registry refer to each other.
func (r *Registry) SetLifecycle(lifecycle Lifecycle) {
	r.mu.Lock()
	r.lifecycle = lifecycle
	r.mu.Unlock()
}

// Resolve returns the workspace for identity, provisioning it on first use.
func (r *Registry) Resolve(ctx context.Context, identity string) (*Workspace, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}
	lock := r.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	ws, ok := r.workspaces[identity]
	_, wasGone := r.gone[identity]
	delete(r.gone, identity)
	r.mu.Unlock()

	if wasGone {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceMissing, identity)
	}
	if ok {
		if ws.Exists() {
			return ws, nil
		}
		r.logger.Warn("workspace directory disappeared", logging.Workspace(identity), zap.String("root", ws.root))
		r.evict(ws, "vanished", false)
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceMissing, identity)
	}

	// Another process may have collected this identity already. An expired
	// anonymous identity is never brought back to life.
	if r.expired(identity) {
		return nil, fmt.Errorf("%w: %s expired", ErrWorkspaceMissing, identity)
	}

	root := r.rootFor(identity)
	info, err := os.Stat(root)
	switch {
	case err == nil && info.IsDir():
		return r.adopt(ctx, identity, root)
	case err == nil:
		return nil, fmt.Errorf("workspace path %s is not a directory", root)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat workspace dir: %w", err)
	}
	return r.provision(ctx, identity, root)
}

// Transition moves a session from one identity to another. When the old
// identity was anonymous its workspace is deleted once the new one exists.
func (r *Registry) Transition(ctx context.Context, from, to string) (*Workspace, error) {
	ws, err := r.Resolve(ctx, to)
	if err != nil {
		return nil, err
	}
	if from == "" || from == to || !IsAnonymous(from) {
		return ws, nil
	}
	if _, err := r.destroy(ctx, from, "transition", true); err != nil {
		r.logger.Error("delete anonymous workspace after sign-in", logging.Workspace(from), zap.Error(err))
	}
	return ws, nil
}

// Lookup returns a workspace already known to the registry without
// provisioning anything.
func (r *Registry) Lookup(identity string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[identity]
	return ws, ok
}

// CollectExpired deletes every anonymous workspace older than ttl. Workspaces
// with an operation in flight are skipped and picked up by a later sweep.
func (r *Registry) CollectExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	entries, err := afero.ReadDir(r.osfs, r.contentDir)
	if err != nil {
		return nil, fmt.Errorf("read content dir: %w", err)
	}
	now := r.now()
	deleted := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() || !IsAnonymous(entry.Name()) {
			continue
		}
		createdAt, ok := AnonymousCreatedAt(entry.Name())
		if !ok || now.Sub(createdAt) <= ttl {
			continue
		}
		removed, err := r.destroy(ctx, entry.Name(), "expired", false)
		if err != nil {
			r.logger.Error("delete expired workspace", logging.Workspace(entry.Name()), zap.Error(err))
			continue
		}
		if removed {
			deleted = append(deleted, entry.Name())
		}
	}
	return deleted, nil
}

func (r *Registry) adopt(ctx context.Context, identity, root string) (*Workspace, error) {
	createdAt, ok := AnonymousCreatedAt(identity)
	if !ok {
		if info, err := os.Stat(root); err == nil {
			createdAt = info.ModTime()
		}
	}
	ws := newWorkspace(identity, root, createdAt)
	if err := r.initializeHistory(ctx, ws); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.workspaces[identity] = ws
	r.mu.Unlock()
	r.logger.Debug("adopted existing workspace", logging.Workspace(identity))
	return ws, nil
}

func (r *Registry) provision(ctx context.Context, identity, root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	template := r.namedTemplate
	kind := "named"
	if IsAnonymous(identity) {
		template = r.anonymousTemplate
		kind = "anonymous"
	}
	if err := r.seed(template, root); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	createdAt := r.now()
	if stamp, ok := AnonymousCreatedAt(identity); ok {
		createdAt = stamp
	}
	ws := newWorkspace(identity, root, createdAt)
	if err := r.initializeHistory(ctx, ws); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	r.mu.Lock()
	r.workspaces[identity] = ws
	r.mu.Unlock()

	metrics.RecordWorkspaceCreated(kind)
	r.logger.Info("provisioned workspace", logging.Workspace(identity), zap.String("kind", kind), zap.String("template", template))
	if err := r.ledger.RecordCreated(ctx, Record{
		Identity:  identity,
		Root:      root,
		Anonymous: ws.anonymous,
		CreatedAt: createdAt,
	}); err != nil {
		r.logger.Warn("ledger: record created", logging.Workspace(identity), zap.Error(err))
	}
	return ws, nil
}

func (r *Registry) initializeHistory(ctx context.Context, ws *Workspace) error {
	r.mu.Lock()
	lifecycle := r.lifecycle
	r.mu.Unlock()
	if lifecycle == nil {
		return nil
	}
	if err := lifecycle.Initialize(ctx, ws); err != nil {
		return fmt.Errorf("initialize history: %w", err)
	}
	ws.MarkHistoryInitialized()
	return nil
}

// seed copies a template tree into root. A missing template leaves the
// workspace empty.
func (r *Registry) seed(template, root string) error {
	if template == "" {
		return nil
	}
	info, err := os.Stat(template)
	if err != nil || !info.IsDir() {
		r.logger.Warn("workspace template unavailable, starting empty", zap.String("template", template))
		return nil
	}
	src := afero.NewBasePathFs(r.osfs, template)
	dst := afero.NewBasePathFs(r.osfs, root)
	err = afero.Walk(src, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		if info.Name() == HistoryDir {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return dst.MkdirAll(path, 0o755)
		}
		data, err := afero.ReadFile(src, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(dst, path, data, 0o644)
	})
	if err != nil {
		return fmt.Errorf("seed workspace from %s: %w", template, err)
	}
	return nil
}

// destroy deletes a workspace. With wait set it blocks until in-flight
// operations finish; otherwise a busy workspace is skipped.
func (r *Registry) destroy(ctx context.Context, identity, reason string, wait bool) (bool, error) {
	lock := r.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	ws, ok := r.workspaces[identity]
	r.mu.Unlock()
	if !ok {
		ws = newWorkspace(identity, r.rootFor(identity), time.Time{})
	}

	if wait {
		ws.life.Lock()
	} else if !ws.life.TryLock() {
		metrics.RecordGCSkippedBusy()
		r.logger.Info("workspace busy, skipping delete", logging.Workspace(identity), zap.String("reason", reason))
		return false, nil
	}
	defer ws.life.Unlock()

	r.evict(ws, reason, true)
	if err := os.RemoveAll(ws.root); err != nil {
		return false, fmt.Errorf("remove workspace dir: %w", err)
	}

	metrics.RecordWorkspaceDeleted(reason)
	r.logger.Info("deleted workspace", logging.Workspace(identity), zap.String("reason", reason))
	if err := r.ledger.RecordDeleted(ctx, identity, reason); err != nil {
		r.logger.Warn("ledger: record deleted", logging.Workspace(identity), zap.Error(err))
	}
	return true, nil
}

// evict marks ws dead and cancels its timers. With tombstone set the next
// resolve of the identity reports it missing before re-provisioning.
func (r *Registry) evict(ws *Workspace, reason string, tombstone bool) {
	ws.markDestroyed()
	r.mu.Lock()
	if current, ok := r.workspaces[ws.id]; ok && current == ws {
		delete(r.workspaces, ws.id)
	}
	if tombstone {
		r.gone[ws.id] = struct{}{}
	}
	lifecycle := r.lifecycle
	r.mu.Unlock()
	if lifecycle != nil {
		lifecycle.Forget(ws)
	}
	r.logger.Debug("evicted workspace", logging.Workspace(ws.id), zap.String("reason", reason))
}

func (r *Registry) expired(identity string) bool {
	if r.anonTTL <= 0 {
		return false
	}
	createdAt, ok := AnonymousCreatedAt(identity)
	return ok && r.now().Sub(createdAt) > r.anonTTL
}

func (r *Registry) rootFor(identity string) string {
	return filepath.Join(r.contentDir, identity)
}

func (r *Registry) identityLock(identity string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.locks[identity]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	r.locks[identity] = lock
	return lock
}

type NopLedger struct{}

func (NopLedger) RecordCreated(context.Context, Record) error { return nil }

func (NopLedger) RecordDeleted(context.Context, string, string) error { return nil }
