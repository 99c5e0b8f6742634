package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"livedit/api/internal/app"
	"livedit/api/internal/config"
	"livedit/api/internal/logging"
	"livedit/api/internal/session"
	"livedit/api/internal/store"
	"livedit/api/internal/workspace"

	"github.com/docopt/docopt-go"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const Version = "0.3.0"

const usage = `Live editing workspace engine.

Settings come from the environment (LIVEDIT_CONTENT_DIR, LIVEDIT_AUTOSAVE_DELAY_MS,
LIVEDIT_ANON_TTL_DAYS, REDIS_URL, DATABASE_URL, ...).

Usage:
    livedit serve
    livedit tree <identity>
    livedit read <identity> <path>
    livedit write <identity> <path> <file>
    livedit sync <identity> <path> <patch_file> [--expect=<fingerprint>]
    livedit rm <identity> <path>
    livedit format <identity> <path>
    livedit history <identity>
    livedit save <identity> [<reason>]
    livedit rewind <identity> <id> [--hard]
    livedit gc
    livedit workspaces [--all]
    livedit migrate

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --expect=<fingerprint>      Fingerprint the client expects after the patch.
    --hard                      Drop every snapshot after the target.
    --all                       Include deleted workspaces.`

type backends struct {
	db     *sql.DB
	redis  *session.RedisStore
	ledger *store.Ledger
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Load()
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logging.Sync() }()

	if err := run(opts, cfg); err != nil {
		var domainErr *app.DomainError
		if errors.As(err, &domainErr) {
			printJSON(map[string]any{"code": domainErr.Code, "error": domainErr.Message, "details": domainErr.Details})
		}
		logging.S().Errorw("command failed", "command", os.Args[1], "error", err)
		_ = logging.Sync()
		os.Exit(1)
	}
}

func run(opts docopt.Opts, cfg config.Config) error {
	ctx := context.Background()

	if migrate, _ := opts.Bool("migrate"); migrate {
		b, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()
		if b.db == nil {
			return errors.New("DATABASE_URL is not set")
		}
		return nil
	}
	if list, _ := opts.Bool("workspaces"); list {
		return listWorkspaces(ctx, opts, cfg)
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	deps := app.Deps{Logger: logging.L()}
	if b.redis != nil {
		deps.Sessions = b.redis
	}
	if b.ledger != nil {
		deps.Ledger = b.ledger
	}
	if err := os.MkdirAll(cfg.ContentDir, 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}
	svc := app.New(cfg, deps)
	defer svc.Shutdown()

	if serve, _ := opts.Bool("serve"); serve {
		return serveForever(svc, cfg, b)
	}
	if gc, _ := opts.Bool("gc"); gc {
		deleted, err := svc.CollectExpired(ctx)
		if err != nil {
			return err
		}
		printJSON(map[string]any{"deleted": deleted})
		return nil
	}

	identity, _ := opts.String("<identity>")
	ws, err := svc.ResolveWorkspace(ctx, identity)
	if err != nil {
		return err
	}
	path, _ := opts.String("<path>")

	switch {
	case flag(opts, "tree"):
		tree, err := svc.ListTree(ctx, ws)
		if err != nil {
			return err
		}
		printJSON(tree)
	case flag(opts, "read"):
		data, sum, err := svc.ReadFile(ctx, ws, path)
		if err != nil {
			return err
		}
		printJSON(map[string]any{"content": string(data), "fingerprint": sum})
	case flag(opts, "write"):
		file, _ := opts.String("<file>")
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		sum, err := svc.UploadFile(ctx, ws, path, data)
		if err != nil {
			return err
		}
		printJSON(map[string]any{"fingerprint": sum})
	case flag(opts, "sync"):
		return syncFile(ctx, svc, ws, opts, path)
	case flag(opts, "rm"):
		if err := svc.DeleteFile(ctx, ws, path); err != nil {
			return err
		}
		printJSON(map[string]any{"ok": true})
	case flag(opts, "format"):
		formatted, sum, err := svc.FormatFile(ctx, ws, path)
		if err != nil {
			return err
		}
		printJSON(map[string]any{"formatted": formatted, "fingerprint": sum})
	case flag(opts, "history"):
		entries, err := svc.History(ctx, ws)
		if err != nil {
			return err
		}
		printJSON(entries)
	case flag(opts, "save"):
		reason, _ := opts.String("<reason>")
		entry, err := svc.ManualSave(ctx, ws, reason)
		if err != nil {
			return err
		}
		printJSON(entry)
	case flag(opts, "rewind"):
		id, _ := opts.String("<id>")
		entry, err := svc.Rewind(ctx, ws, id, flag(opts, "--hard"))
		if err != nil {
			return err
		}
		printJSON(entry)
	}
	return nil
}

func syncFile(ctx context.Context, svc *app.Service, ws *workspace.Workspace, opts docopt.Opts, path string) error {
	patchFile, _ := opts.String("<patch_file>")
	patch, err := os.ReadFile(patchFile)
	if err != nil {
		return err
	}
	var expected *int64
	if raw, err := opts.String("--expect"); err == nil && raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid --expect: %w", err)
		}
		expected = &value
	}
	sum, err := svc.SyncFile(ctx, ws, path, string(patch), expected)
	if err != nil {
		return err
	}
	printJSON(map[string]any{"fingerprint": sum})
	return nil
}

func listWorkspaces(ctx context.Context, opts docopt.Opts, cfg config.Config) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is not set")
	}
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	rows, err := b.ledger.Workspaces(ctx, flag(opts, "--all"))
	if err != nil {
		return err
	}
	printJSON(rows)
	return nil
}

// openBackends connects the optional Redis session store and Postgres ledger.
// Either is skipped when its URL is empty.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		b.db = db
		if err := store.ApplyMigrations(ctx, db, afero.NewOsFs(), cfg.MigrationsDir); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		b.ledger = store.NewLedger(db)
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, session.DefaultTTL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		b.redis = redisStore
	}
	return b, nil
}

func serveForever(svc *app.Service, cfg config.Config, b *backends) error {
	logger := logging.L()

	checks := map[string]app.Check{}
	if b.db != nil {
		checks["database"] = b.db.PingContext
	}
	if b.redis != nil {
		checks["redis"] = b.redis.Ping
	}
	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           app.NewOpsServer(checks).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.Sweeper().Run(ctx)
	go func() {
		logger.Info("ops server listening", zap.String("addr", cfg.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down, flushing pending autosaves")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	svc.Shutdown()
	return nil
}

func flag(opts docopt.Opts, key string) bool {
	value, _ := opts.Bool(key)
	return value
}

func printJSON(value any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(value)
}
