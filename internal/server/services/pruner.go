package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/logging"
)

// Pruner periodically sweeps long-expired refresh tokens and reset grants.
// A failed sweep is logged and retried on the next tick.
type Pruner struct {
	sessions *SessionService
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger
}

func NewPruner(sessions *SessionService, interval time.Duration, log logging.Logger) *Pruner {
	return &Pruner{
		sessions: sessions,
		interval: interval,
		timeout:  30 * time.Second,
		log:      log.With("module", "pruner"),
	}
}

// Run sweeps every interval until ctx is done.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs a single pruning pass.
func (p *Pruner) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.sessions.Prune(ctx)
	if err != nil {
		p.log.Error(ctx, "prune failed", "error", err)
		return
	}
	if res.RefreshTokens > 0 || res.PasswordResets > 0 {
		p.log.Info(ctx, "pruned expired rows", "refresh_tokens", res.RefreshTokens, "password_resets", res.PasswordResets)
	}
}
