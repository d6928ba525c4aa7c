package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
)

func TestSweeperRunOnce(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	stale, _ := env.issueRaw(t, func(m *model.Token) { m.ExpiresAt = &past })
	fresh := env.issue(t, IssueParams{Name: "fresh"})

	sw := NewSweeper(env.store, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := sw.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	got, _ := env.store.GetToken(ctx, stale.ID)
	if got.Status != model.StatusExpired {
		t.Errorf("stale status = %q, want expired", got.Status)
	}
	got, _ = env.store.GetToken(ctx, fresh.Token.ID)
	if got.Status != model.StatusActive {
		t.Errorf("fresh status = %q, want active", got.Status)
	}

	// Sweeping again finds nothing.
	n, err = sw.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}
}

func TestSweeperPeriodicLoop(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	stale, _ := env.issueRaw(t, func(m *model.Token) { m.ExpiresAt = &past })

	sw := NewSweeper(env.store, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sw.Start(ctx)
	defer sw.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := env.store.GetToken(ctx, stale.ID)
		if err != nil {
			t.Fatalf("GetToken: %v", err)
		}
		if got.Status == model.StatusExpired {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweeper never expired the token, status still %q", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeperStartStop(t *testing.T) {
	env := newSvcEnv(t)
	sw := NewSweeper(env.store, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Stop before start is a no-op.
	sw.Stop()

	sw.Start(context.Background())
	// Starting twice must not spawn a second loop.
	sw.Start(context.Background())

	sw.Stop()
	// Stop is idempotent.
	sw.Stop()
}

func TestSweeperDefaultInterval(t *testing.T) {
	env := newSvcEnv(t)
	sw := NewSweeper(env.store, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if sw.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", sw.interval, DefaultSweepInterval)
	}
}
