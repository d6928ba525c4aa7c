package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

// DefaultSweepInterval is how often the sweeper runs unless configured
// otherwise.
const DefaultSweepInterval = time.Hour

// Sweeper periodically transitions active tokens past their expiry to
// expired, catching tokens that are never presented for validation (the
// request path only expires tokens lazily). Each run is isolated: a failed
// or panicking sweep is logged and retried on the next tick, never fatal.
type Sweeper struct {
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper. interval <= 0 selects the default.
func NewSweeper(st *store.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: st, interval: interval, logger: logger}
}

// Start launches the sweep loop. The first sweep happens after one full
// interval. Starting an already running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
	s.logger.Info("expiry sweeper started", "interval", s.interval)
}

// Stop cancels the loop and waits for any in-flight sweep to finish.
// Stopping a sweeper that never started is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("expiry sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.runGuarded(ctx); err != nil {
				s.logger.Error("token sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("tokens marked expired", "count", n)
			}
		}
	}
}

// runGuarded wraps one sweep with panic recovery so a defect in a single run
// cannot kill the loop.
func (s *Sweeper) runGuarded(ctx context.Context) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()
	return s.RunOnce(ctx)
}

// RunOnce performs a single sweep immediately and returns how many tokens
// were transitioned. Safe to call while the periodic loop is running; the
// underlying transition is an idempotent set-update.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	return s.store.SweepExpired(ctx, time.Now().UTC())
}
