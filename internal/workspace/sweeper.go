package workspace

import (
	"context"
	"time"

	"livedit/api/internal/logging"

	"go.uber.org/zap"
)

// Sweeper periodically removes expired anonymous workspaces.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	ttl      time.Duration
}

func NewSweeper(registry *Registry, interval, ttl time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{registry: registry, interval: interval, ttl: ttl}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) []string {
	deleted, err := s.registry.CollectExpired(ctx, s.ttl)
	if err != nil {
		logging.L().Warn("sweep anonymous workspaces", zap.Error(err))
		return nil
	}
	if len(deleted) > 0 {
		logging.L().Info("swept anonymous workspaces", zap.Strings("deleted", deleted), zap.Duration("ttl", s.ttl))
	}
	return deleted
}
