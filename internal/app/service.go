package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"livedit/api/internal/config"
	"livedit/api/internal/dirtree"
	"livedit/api/internal/fingerprint"
	"livedit/api/internal/format"
	"livedit/api/internal/history"
	"livedit/api/internal/livesync"
	"livedit/api/internal/logging"
	"livedit/api/internal/metrics"
	"livedit/api/internal/session"
	"livedit/api/internal/workspace"

	"go.uber.org/zap"
)

// Formatter rewrites a workspace file in place, picking a tool by file type.
type Formatter interface {
	Lookup(rel string) (format.Formatter, bool)
}

type Deps struct {
	Sessions  session.Store
	Ledger    workspace.Ledger
	Formatter Formatter
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service is the entry point for every workspace operation. Operations that
// touch a workspace hold a lease on it, so garbage collection cannot remove
// the directory underneath them.
type Service struct {
	cfg       config.Config
	registry  *workspace.Registry
	history   *history.Engine
	sync      *livesync.Engine
	sessions  session.Store
	formatter Formatter
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewMemoryStore(session.DefaultTTL)
	}
	formatter := deps.Formatter
	if formatter == nil {
		formatter = format.Prettier(cfg.PrettierCommand)
	}

	engine := history.NewEngine(history.Options{
		AutosaveDelay: cfg.AutosaveDelay,
		AuthorEmail:   cfg.GitEmail,
		Logger:        logger,
	})
	registry := workspace.NewRegistry(workspace.Options{
		ContentDir:        cfg.ContentDir,
		AnonymousTemplate: cfg.AnonTemplateDir,
		NamedTemplate:     cfg.NamedTemplateDir,
		Lifecycle:         engine,
		Ledger:            deps.Ledger,
		Logger:            logger,
		Now:               now,
		AnonTTL:           cfg.AnonTTL,
	})
	return &Service{
		cfg:       cfg,
		registry:  registry,
		history:   engine,
		sync:      livesync.New(engine, logger),
		sessions:  sessions,
		formatter: formatter,
		logger:    logger,
		now:       now,
	}
}

func (s *Service) ResolveWorkspace(ctx context.Context, identity string) (*workspace.Workspace, error) {
	ws, err := s.registry.Resolve(ctx, identity)
	if err != nil {
		return nil, classify(err)
	}
	return ws, nil
}

// SessionWorkspace returns the workspace bound to a browser session. Unbound
// sessions get a fresh anonymous identity.
func (s *Service) SessionWorkspace(ctx context.Context, sessionID string) (*workspace.Workspace, error) {
	binding, err := s.sessions.Lookup(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		binding = session.Binding{
			Identity:  workspace.NewAnonymousIdentity(s.now()),
			Anonymous: true,
		}
		if err := s.sessions.Bind(ctx, sessionID, binding); err != nil {
			return nil, err
		}
		s.logger.Info("new anonymous session", logging.Workspace(binding.Identity))
	} else if err != nil {
		return nil, err
	}

	ws, err := s.registry.Resolve(ctx, binding.Identity)
	if errors.Is(err, workspace.ErrWorkspaceMissing) && binding.Anonymous {
		// Expired anonymous workspaces are not brought back; the reload
		// starts over with a new identity.
		if unbindErr := s.sessions.Unbind(ctx, sessionID); unbindErr != nil {
			s.logger.Warn("unbind expired session", zap.Error(unbindErr))
		}
	}
	if err != nil {
		return nil, classify(err)
	}
	return ws, nil
}

// Login binds the session to a named identity. A previous anonymous workspace
// is deleted once the named one exists.
func (s *Service) Login(ctx context.Context, sessionID, name string) (*workspace.Workspace, error) {
	if workspace.IsAnonymous(name) {
		return nil, domainError(http.StatusBadRequest, CodeReservedName, "That name is reserved", nil)
	}
	if err := workspace.ValidateIdentity(name); err != nil {
		return nil, classify(err)
	}

	from := ""
	if binding, err := s.sessions.Lookup(ctx, sessionID); err == nil {
		from = binding.Identity
	} else if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}

	ws, err := s.registry.Transition(ctx, from, name)
	if err != nil {
		return nil, classify(err)
	}
	if err := s.sessions.Bind(ctx, sessionID, session.Binding{Identity: name}); err != nil {
		return nil, err
	}
	s.logger.Info("session signed in", logging.Workspace(name), zap.String("from", from))
	return ws, nil
}

// VerifyOwnership checks that the session is bound to identity. On mismatch
// the session loses its binding, so the reload that follows starts over.
func (s *Service) VerifyOwnership(ctx context.Context, sessionID, identity string) error {
	binding, err := s.sessions.Lookup(ctx, sessionID)
	if err == nil && binding.Identity == identity {
		return nil
	}
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	if unbindErr := s.sessions.Unbind(ctx, sessionID); unbindErr != nil && !errors.Is(unbindErr, session.ErrNotFound) {
		s.logger.Warn("unbind session after ownership mismatch", zap.Error(unbindErr))
	}
	s.logger.Warn("session accessed a foreign workspace", logging.Workspace(identity), zap.String("bound", binding.Identity))
	return domainError(http.StatusForbidden, CodeForbidden, "This workspace belongs to another session, reload to continue", nil)
}

// ListTree lists the workspace with each file's fingerprint as leaf value.
func (s *Service) ListTree(ctx context.Context, ws *workspace.Workspace) (*dirtree.Tree, error) {
	release, err := s.lease(ws)
	if err != nil {
		return nil, err
	}
	defer release()

	tree, err := s.sync.Tree(ctx, ws)
	if err != nil {
		return nil, classify(err)
	}
	return tree, nil
}

// CreateFile creates an empty file if it does not exist yet. When the caller
// passes its current tree, that tree is extended in place and returned;
// otherwise a fresh listing is returned.
func (s *Service) CreateFile(ctx context.Context, ws *workspace.Workspace, path string, tree *dirtree.Tree) (*dirtree.Tree, error) {
	release, err := s.lease(ws)
	if err != nil {
		return nil, err
	}
	defer release()

	created, err := s.sync.Create(ctx, ws, path)
	if err != nil {
		return nil, classify(err)
	}
	if tree == nil {
		tree, err = s.sync.Tree(ctx, ws)
		if err != nil {
			return nil, classify(err)
		}
		return tree, nil
	}

	var sum int64
	if !created {
		if _, sum, err = s.sync.Read(ctx, ws, path); err != nil {
			return nil, classify(err)
		}
	}
	tree.InsertLeaf(path, sum)
	return tree, nil
}

func (s *Service) UploadFile(ctx context.Context, ws *workspace.Workspace, path string, content []byte) (int64, error) {
	release, err := s.lease(ws)
	if err != nil {
		return 0, err
	}
	defer release()

	sum, err := s.sync.Write(ctx, ws, path, content)
	if err != nil {
		return 0, classify(err)
	}
	return sum, nil
}

// ReadFile returns the whole file. Clients call it to recover from a desync.
func (s *Service) ReadFile(ctx context.Context, ws *workspace.Workspace, path string) ([]byte, int64, error) {
	release, err := s.lease(ws)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	data, sum, err := s.sync.Read(ctx, ws, path)
	if err != nil {
		return nil, 0, classify(err)
	}
	return data, sum, nil
}

// SyncFile applies a patch and returns the new fingerprint. When expected is
// set and differs from the result, the patch is still kept and a DESYNC
// error carrying the server fingerprint is returned so the client resyncs.
func (s *Service) SyncFile(ctx context.Context, ws *workspace.Workspace, path, patch string, expected *int64) (int64, error) {
	release, err := s.lease(ws)
	if err != nil {
		return 0, err
	}
	defer release()

	tx, err := s.sync.Sync(ctx, ws, path, patch)
	if err != nil {
		return 0, classify(err)
	}
	if expected != nil {
		if err := fingerprint.Verify(*expected, tx.Fingerprint); err != nil {
			metrics.RecordDesync()
			s.logger.Info("desync", logging.Workspace(ws.ID()), zap.String("path", tx.Path), zap.Int64("expected", *expected), zap.Int64("actual", tx.Fingerprint))
			domainErr := classify(err).(*DomainError)
			domainErr.Details = map[string]any{"fingerprint": tx.Fingerprint}
			return tx.Fingerprint, domainErr
		}
	}
	return tx.Fingerprint, nil
}

func (s *Service) DeleteFile(ctx context.Context, ws *workspace.Workspace, path string) error {
	release, err := s.lease(ws)
	if err != nil {
		return err
	}
	defer release()

	if err := s.sync.Delete(ctx, ws, path); err != nil {
		return classify(err)
	}
	return nil
}

// FormatFile runs the formatter registered for the file type. Files without
// a formatter are left alone and reported as not formatted.
func (s *Service) FormatFile(ctx context.Context, ws *workspace.Workspace, path string) (bool, int64, error) {
	release, err := s.lease(ws)
	if err != nil {
		return false, 0, err
	}
	defer release()

	_, sum, err := s.sync.Read(ctx, ws, path)
	if err != nil {
		return false, 0, classify(err)
	}
	formatter, ok := s.formatter.Lookup(path)
	if !ok {
		return false, sum, nil
	}

	lock := ws.FileLock(path)
	lock.Lock()
	err = formatter.Format(ctx, ws.Root(), path)
	lock.Unlock()
	if err != nil {
		s.logger.Warn("format failed", logging.Workspace(ws.ID()), zap.String("path", path), zap.Error(err))
		return false, sum, domainError(http.StatusUnprocessableEntity, CodeFormatFailed, "Formatter failed", map[string]any{"error": err.Error()})
	}

	_, sum, err = s.sync.Read(ctx, ws, path)
	if err != nil {
		return false, 0, classify(err)
	}
	s.history.ScheduleAutosave(ws)
	return true, sum, nil
}

func (s *Service) History(ctx context.Context, ws *workspace.Workspace) ([]history.Entry, error) {
	release, err := s.lease(ws)
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := s.history.List(ctx, ws)
	if err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (s *Service) ManualSave(ctx context.Context, ws *workspace.Workspace, reason string) (history.Entry, error) {
	release, err := s.lease(ws)
	if err != nil {
		return history.Entry{}, err
	}
	defer release()

	entry, err := s.history.ManualSave(ctx, ws, reason)
	if err != nil {
		return history.Entry{}, classify(err)
	}
	return entry, nil
}

func (s *Service) Rewind(ctx context.Context, ws *workspace.Workspace, id string, hard bool) (history.Entry, error) {
	release, err := s.lease(ws)
	if err != nil {
		return history.Entry{}, err
	}
	defer release()

	entry, err := s.history.Rewind(ctx, ws, id, hard)
	if err != nil {
		return history.Entry{}, classify(err)
	}
	return entry, nil
}

// CollectExpired deletes anonymous workspaces older than the configured TTL.
func (s *Service) CollectExpired(ctx context.Context) ([]string, error) {
	return s.registry.CollectExpired(ctx, s.cfg.AnonTTL)
}

func (s *Service) Sweeper() *workspace.Sweeper {
	return workspace.NewSweeper(s.registry, s.cfg.GCInterval, s.cfg.AnonTTL)
}

// Shutdown writes every pending autosave.
func (s *Service) Shutdown() {
	s.history.Flush()
}

func (s *Service) lease(ws *workspace.Workspace) (func(), error) {
	if ws == nil {
		return nil, classify(workspace.ErrWorkspaceMissing)
	}
	release, err := ws.Acquire()
	if err != nil {
		return nil, classify(err)
	}
	return release, nil
}
