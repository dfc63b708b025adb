package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/aimikata/storyboard/internal/config"
	"github.com/aimikata/storyboard/internal/home"
	"github.com/aimikata/storyboard/internal/jobs"
	"github.com/aimikata/storyboard/internal/providers"
	"github.com/aimikata/storyboard/internal/refs"
	"github.com/aimikata/storyboard/internal/usage"
)

// session is the state a local command runs with: the same registry,
// scheduler and ledger the server builds, without the HTTP layer.
type session struct {
	home      *home.Dir
	cfg       *config.Config
	logger    *slog.Logger
	scheduler *jobs.Scheduler
	store     usage.Store
	ledger    *usage.Ledger
	pool      *refs.Pool
}

// openSession loads config, providers, the usage ledger and reference
// assets. Callers must close the session to persist the ledger.
func openSession(ctx context.Context) (*session, error) {
	logger := newLogger()
	h, cm, err := loadEnv()
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}
	cfg := cm.Get()
	admission, err := cfg.Generation.Admission()
	if err != nil {
		return nil, err
	}

	registry := providers.NewRegistry()
	registry.SetLogger(logger)
	if err := registry.Reload(ctx, cfg.ToProviderRegistryConfig()); err != nil {
		logger.Warn("some providers failed to load", "error", err)
	}

	store, err := openStore(h, cfg)
	if err != nil {
		return nil, err
	}
	ledger, err := usage.Load(ctx, store, time.Now())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}

	pool := refs.NewPool()
	if _, statErr := os.Stat(h.AssetsPath()); statErr == nil {
		if pool, err = refs.LoadDir(h.AssetsPath()); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to load reference assets: %w", err)
		}
	}
	logger.Debug("session ready", "providers", registry.List(), "assets", pool.Len(),
		"usage", ledger.Count(time.Now()))

	return &session{
		home:   h,
		cfg:    cfg,
		logger: logger,
		scheduler: jobs.NewScheduler(jobs.Config{
			Models:    registry,
			Logger:    logger,
			Ceilings:  cfg.Ceilings(),
			Admission: admission,
			RPM:       cfg.RPM(),
		}),
		store:  store,
		ledger: ledger,
		pool:   pool,
	}, nil
}

func openStore(h *home.Dir, cfg *config.Config) (usage.Store, error) {
	path := cfg.Usage.Path
	if path == "" {
		path = h.UsagePath(cfg.Usage.Store)
	}
	store, err := usage.Open(cfg.Usage.Store, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage store: %w", err)
	}
	return store, nil
}

// close saves the ledger and releases the store. The save uses a fresh
// context so an interrupted run still records what it spent.
func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return multierr.Combine(s.ledger.Save(ctx, s.store), s.store.Close())
}

// logEvent reports terminal page states and retries on stderr.
func (s *session) logEvent(ev jobs.StatusEvent) {
	switch ev.State {
	case jobs.StateSucceeded:
		s.logger.Info("page done", "pages", ev.Pages, "model", ev.Model, "attempt", ev.Attempt)
	case jobs.StateFailed:
		s.logger.Error("page failed", "pages", ev.Pages, "model", ev.Model, "error", ev.Error)
	case jobs.StateBackoff:
		s.logger.Warn("rate limited, backing off", "pages", ev.Pages, "model", ev.Model,
			"attempt", ev.Attempt, "delay", ev.Delay)
	default:
		s.logger.Debug("page state", "pages", ev.Pages, "state", ev.State, "model", ev.Model)
	}
}

// budgetHint explains how to get past a budget refusal.
func budgetHint(err error) error {
	var budget *jobs.BudgetError
	if errors.As(err, &budget) {
		return fmt.Errorf("%w (rerun with --force to proceed)", err)
	}
	return err
}
