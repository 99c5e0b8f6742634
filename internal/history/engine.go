package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"livedit/api/internal/debounce"
	"livedit/api/internal/logging"
	"livedit/api/internal/metrics"
	"livedit/api/internal/workspace"

	"go.uber.org/zap"
)

type Options struct {
	Open          Opener
	Scheduler     *debounce.Scheduler
	AutosaveDelay time.Duration
	AuthorEmail   string
	Logger        *zap.Logger
}

// Engine records snapshots for every workspace. Mutating operations on one
// workspace are serialized; different workspaces proceed independently.
type Engine struct {
	open      Opener
	scheduler *debounce.Scheduler
	delay     time.Duration
	email     string
	logger    *zap.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		open:      opts.Open,
		scheduler: opts.Scheduler,
		delay:     opts.AutosaveDelay,
		email:     opts.AuthorEmail,
		logger:    opts.Logger,
		locks:     make(map[string]*sync.Mutex),
	}
	if e.open == nil {
		e.open = NewGitBackend
	}
	if e.scheduler == nil {
		e.scheduler = debounce.New()
	}
	if e.delay <= 0 {
		e.delay = 5 * time.Second
	}
	if e.logger == nil {
		e.logger = logging.L()
	}
	return e
}

// Initialize creates the empty history of a freshly provisioned workspace.
func (e *Engine) Initialize(ctx context.Context, ws *workspace.Workspace) error {
	lock := e.workspaceLock(ws.ID())
	lock.Lock()
	defer lock.Unlock()

	if err := e.open(ws.Root()).Init(ctx, Author{Name: ws.ID(), Email: e.email}); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Forget cancels the pending autosave of a workspace that is going away.
// The identity keeps its lock: a mutator still running against the old
// directory and one on a re-provisioned workspace must share it.
func (e *Engine) Forget(ws *workspace.Workspace) {
	e.scheduler.Cancel(ws.ID())
}

// ScheduleAutosave arms, or re-arms, the autosave timer of ws.
func (e *Engine) ScheduleAutosave(ws *workspace.Workspace) {
	metrics.RecordAutosaveScheduled()
	e.scheduler.Schedule(ws.ID(), e.delay, func() {
		e.autosave(ws)
	})
}

func (e *Engine) AutosavePending(ws *workspace.Workspace) bool {
	return e.scheduler.Pending(ws.ID())
}

// Flush runs every pending autosave now.
func (e *Engine) Flush() {
	e.scheduler.Flush()
}

func (e *Engine) ManualSave(ctx context.Context, ws *workspace.Workspace, reason string) (Entry, error) {
	message := ReasonManualSave
	if reason = strings.TrimSpace(reason); reason != "" {
		message = ReasonManualSave + ": " + reason
	}
	lock := e.workspaceLock(ws.ID())
	lock.Lock()
	defer lock.Unlock()

	entry, err := e.commit(ctx, e.open(ws.Root()), message, "manual")
	if err != nil {
		return Entry{}, err
	}
	e.logger.Info("manual save", logging.Workspace(ws.ID()), zap.String("id", entry.ID))
	return entry, nil
}

// List returns the history of ws, newest first.
func (e *Engine) List(ctx context.Context, ws *workspace.Workspace) ([]Entry, error) {
	lock := e.workspaceLock(ws.ID())
	lock.Lock()
	defer lock.Unlock()

	entries, err := e.open(ws.Root()).Log(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return entries, nil
}

// Rewind restores the working tree to target. A plain rewind is recorded as
// a new snapshot on top of the history, after saving any unsnapshotted
// changes. A hard rewind drops every snapshot after target.
func (e *Engine) Rewind(ctx context.Context, ws *workspace.Workspace, target string, hard bool) (Entry, error) {
	e.scheduler.Cancel(ws.ID())

	lock := e.workspaceLock(ws.ID())
	lock.Lock()
	defer lock.Unlock()

	backend := e.open(ws.Root())
	ok, err := backend.Has(ctx, target)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}

	if hard {
		if err := backend.ResetHard(ctx, target); err != nil {
			metrics.RecordSnapshot("rewind_hard", err)
			return Entry{}, fmt.Errorf("%w: %w", ErrBackend, err)
		}
		metrics.RecordSnapshot("rewind_hard", nil)
		head, err := e.head(ctx, backend)
		if err != nil {
			return Entry{}, err
		}
		e.logger.Info("hard rewind", logging.Workspace(ws.ID()), zap.String("target", target))
		return head, nil
	}

	dirty, err := backend.Dirty(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if dirty {
		if _, err := e.commit(ctx, backend, ReasonAutosave, "autosave"); err != nil {
			return Entry{}, err
		}
	}
	head, err := e.head(ctx, backend)
	if err != nil {
		return Entry{}, err
	}
	if err := backend.DiffApply(ctx, head.ID, target); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	entry, err := e.commit(ctx, backend, reasonRewind+target, "rewind")
	if err != nil {
		return Entry{}, err
	}
	e.logger.Info("rewind", logging.Workspace(ws.ID()), zap.String("target", target), zap.String("id", entry.ID))
	return entry, nil
}

// autosave runs on the scheduler goroutine. Failures are logged, never
// returned to anyone.
func (e *Engine) autosave(ws *workspace.Workspace) {
	release, err := ws.Acquire()
	if err != nil {
		e.logger.Debug("autosave skipped", logging.Workspace(ws.ID()), zap.Error(err))
		return
	}
	defer release()

	lock := e.workspaceLock(ws.ID())
	lock.Lock()
	defer lock.Unlock()

	entry, err := e.commit(context.Background(), e.open(ws.Root()), ReasonAutosave, "autosave")
	if err != nil {
		e.logger.Error("autosave failed", logging.Workspace(ws.ID()), zap.Error(err))
		return
	}
	e.logger.Debug("autosave", logging.Workspace(ws.ID()), zap.String("id", entry.ID))
}

func (e *Engine) commit(ctx context.Context, backend Backend, reason, kind string) (Entry, error) {
	entry, err := backend.Commit(ctx, reason, true)
	metrics.RecordSnapshot(kind, err)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return entry, nil
}

func (e *Engine) head(ctx context.Context, backend Backend) (Entry, error) {
	entries, err := backend.Log(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: empty history", ErrBackend)
	}
	return entries[0], nil
}

func (e *Engine) workspaceLock(id string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.locks[id]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	e.locks[id] = lock
	return lock
}
