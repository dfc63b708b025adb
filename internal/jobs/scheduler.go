// Package jobs runs generation work against the configured models with
// bounded concurrency, backoff on rate limits, model fallback and daily
// budget checks.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/aimikata/storyboard/internal/providers"
	"github.com/aimikata/storyboard/internal/refs"
	"github.com/aimikata/storyboard/internal/types"
	"github.com/aimikata/storyboard/internal/usage"
)

var (
	// ErrNoModels is returned when a run has an empty model chain.
	ErrNoModels = errors.New("no models configured")

	// ErrNoPages is returned when a run has nothing to generate.
	ErrNoPages = errors.New("no pages to generate")
)

const defaultCallTimeout = 5 * time.Minute

// Models resolves a model identifier to the generator serving it.
// *providers.Registry satisfies it.
type Models interface {
	ForModel(model string) (providers.Generator, error)
}

// BudgetError is returned when a run would cross the active model's daily
// ceiling and the caller did not force it.
type BudgetError struct {
	Warning *usage.BudgetWarning
}

func (e *BudgetError) Error() string {
	return "daily budget exceeded: " + e.Warning.String()
}

// Config configures a Scheduler.
type Config struct {
	Models Models
	Logger *slog.Logger

	// Ceilings are the daily free-tier counts per model.
	Ceilings usage.Ceilings

	// Admission selects how ceilings are checked; empty means
	// usage.AdmitProjected.
	Admission usage.Admission

	// RPM is the known requests-per-minute ceiling per model, used to pace
	// conservative runs.
	RPM map[string]int

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Scheduler executes batches. It holds no per-batch state; every call to
// RunBatch, RunSingle or RunScriptBatch owns its own queue and workers.
type Scheduler struct {
	models   Models
	logger   *slog.Logger
	ceilings  usage.Ceilings
	admission usage.Admission
	rpm       map[string]int
	now       func() time.Time
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		models:    cfg.Models,
		logger:    logger,
		ceilings:  cfg.Ceilings,
		admission: cfg.Admission,
		rpm:       cfg.RPM,
		now:       now,
	}
}

// Ceilings returns the daily ceilings the scheduler checks against.
func (s *Scheduler) Ceilings() usage.Ceilings {
	return s.ceilings
}

// Now returns the scheduler's clock reading.
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// BatchOptions configures one run.
type BatchOptions struct {
	// BatchID identifies the run in events; generated when empty.
	BatchID string

	// Chain lists models in fallback order. The first is the active model
	// for budget checks.
	Chain []string

	// Concurrency is the worker count. Conservative runs use 1.
	Concurrency int

	// Conservative forces serial execution paced at the model's RPM.
	Conservative bool

	Retry RetryPolicy

	// CallTimeout bounds a single request. Requests already sent are not
	// cancelled with the run, only by this timeout.
	CallTimeout time.Duration

	// Force proceeds past a budget warning.
	Force bool

	// Pool supplies reference images for bracket mentions.
	Pool *refs.Pool

	// Ledger is incremented once per successful unit. Optional.
	Ledger *usage.Ledger

	// OnStatus receives every state transition. It is called from worker
	// goroutines and must not block.
	OnStatus func(StatusEvent)
}

func (s *Scheduler) prepare(opts BatchOptions) (BatchOptions, error) {
	if len(opts.Chain) == 0 {
		return opts, ErrNoModels
	}
	if s.models == nil {
		return opts, errors.New("scheduler has no model registry")
	}
	if opts.BatchID == "" {
		opts.BatchID = uuid.NewString()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Conservative {
		opts.Concurrency = 1
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Retry.MaxRetries < 0 {
		opts.Retry.MaxRetries = 0
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return opts, nil
}

// CheckBudget checks today's usage, plus pending requests under
// usage.AdmitProjected, against the ceiling of the active model, the first
// in chain. It returns nil when the run fits or the model is unlimited.
func (s *Scheduler) CheckBudget(ledger *usage.Ledger, chain []string, pending int) *usage.BudgetWarning {
	if ledger == nil || len(chain) == 0 {
		return nil
	}
	return s.ceilings.Admit(s.admission, ledger.Count(s.now()), chain[0], pending)
}

// admit runs the budget check for a run of pending units.
func (s *Scheduler) admit(opts BatchOptions, pending int, logger *slog.Logger) (*usage.BudgetWarning, error) {
	warning := s.CheckBudget(opts.Ledger, opts.Chain, pending)
	if warning == nil {
		return nil, nil
	}
	if !opts.Force {
		return warning, &BudgetError{Warning: warning}
	}
	logger.Warn("proceeding past daily budget", "model", warning.Model,
		"used", warning.Used, "pending", warning.Pending, "ceiling", warning.Ceiling)
	return warning, nil
}

// PageOutcome is the terminal result of one page.
type PageOutcome struct {
	PageNumber int      `json:"page_number"`
	State      JobState `json:"state"`
	Model      string   `json:"model,omitempty"`
	Attempts   int      `json:"attempts"`
	Error      string   `json:"error,omitempty"`
}

// BatchResult summarises a run. Outcomes follow the order of the input
// pages.
type BatchResult struct {
	BatchID   string               `json:"batch_id"`
	Outcomes  []PageOutcome        `json:"outcomes"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Idle      int                  `json:"idle"`
	Warning   *usage.BudgetWarning `json:"warning,omitempty"`

	// Err aggregates the error of every failed page.
	Err error `json:"-"`
}

// RunBatch generates every page. Pages are updated in place: status, result
// and last error follow each transition. A budget warning aborts the run
// before anything is submitted unless opts.Force is set.
//
// Cancelling ctx stops workers from taking new pages and aborts backoff
// waits; pages never submitted stay idle. The partial result is returned
// together with the context error.
func (s *Scheduler) RunBatch(ctx context.Context, pages []*types.PageSpec, opts BatchOptions) (*BatchResult, error) {
	return s.runPages(ctx, pages, opts, PriorityNormal)
}

// RunSingle regenerates one page through the same pipeline as RunBatch.
// A failed page is returned with its error.
func (s *Scheduler) RunSingle(ctx context.Context, page *types.PageSpec, opts BatchOptions) (*PageOutcome, error) {
	if page == nil {
		return nil, ErrNoPages
	}
	opts.Concurrency = 1
	result, err := s.runPages(ctx, []*types.PageSpec{page}, opts, PriorityHigh)
	if err != nil {
		if result == nil {
			return nil, err
		}
		return &result.Outcomes[0], err
	}
	outcome := &result.Outcomes[0]
	if outcome.State == StateFailed {
		return outcome, fmt.Errorf("page %d: %s", page.PageNumber, outcome.Error)
	}
	return outcome, nil
}

func (s *Scheduler) runPages(ctx context.Context, pages []*types.PageSpec, opts BatchOptions, priority int) (*BatchResult, error) {
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	opts, err := s.prepare(opts)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("batch", opts.BatchID)

	warning, err := s.admit(opts, len(pages), logger)
	if err != nil {
		return nil, err
	}

	run := newRun(opts, logger, s.rpm, s.now)
	queue := NewPriorityQueue()
	ids := pageUnitIDs(opts.BatchID, pages)
	byUnit := make(map[string]int, len(pages))
	for i, page := range pages {
		unit := PageUnit(opts.BatchID, page, opts.Pool)
		unit.ID = ids[i]
		unit.Priority = priority
		byUnit[unit.ID] = i
		if err := queue.Push(unit); err != nil {
			return nil, err
		}
	}

	result := &BatchResult{
		BatchID:  opts.BatchID,
		Outcomes: make([]PageOutcome, len(pages)),
		Warning:  warning,
	}
	for i, page := range pages {
		result.Outcomes[i] = PageOutcome{PageNumber: page.PageNumber, State: StateIdle}
	}

	logger.Info("batch started", "pages", len(pages), "workers", opts.Concurrency,
		"chain", opts.Chain, "conservative", opts.Conservative)

	// Each worker owns the page it popped, so page writes need no lock.
	runErr := runWorkers(ctx, queue, opts.Concurrency, func(ctx context.Context, unit *WorkUnit) {
		i := byUnit[unit.ID]
		result.Outcomes[i] = s.generatePage(ctx, run, unit, pages[i])
	})

	for _, out := range result.Outcomes {
		switch out.State {
		case StateSucceeded:
			result.Succeeded++
		case StateFailed:
			result.Failed++
			result.Err = multierr.Append(result.Err, fmt.Errorf("page %d: %s", out.PageNumber, out.Error))
		default:
			result.Idle++
		}
	}

	logger.Info("batch finished", "succeeded", result.Succeeded, "failed", result.Failed, "idle", result.Idle)
	if runErr != nil {
		logger.Info("batch cancelled", "never_submitted", queue.Pending(), "error", runErr)
		return result, runErr
	}
	return result, nil
}

// generatePage runs one page unit and records the outcome on the page.
func (s *Scheduler) generatePage(ctx context.Context, run *run, unit *WorkUnit, page *types.PageSpec) PageOutcome {
	page.Status = types.StatusGenerating
	out := s.execute(ctx, run, unit)

	outcome := PageOutcome{
		PageNumber: page.PageNumber,
		Model:      out.Model,
		Attempts:   out.Attempts,
	}
	switch {
	case out.Result != nil:
		page.Status = types.StatusCompleted
		page.Result = artifactFrom(out.Result)
		page.LastError = ""
		outcome.State = StateSucceeded
		if run.opts.Ledger != nil {
			run.opts.Ledger.Increment(s.now())
		}
		run.emit(unit, StateSucceeded, out.Model, out.Attempts, nil)
	case out.Cancelled:
		page.Status = types.StatusIdle
		outcome.State = StateIdle
		if out.Err != nil {
			page.LastError = out.Err.Error()
			outcome.Error = page.LastError
		}
		run.emit(unit, StateIdle, out.Model, out.Attempts, out.Err)
	default:
		page.Status = types.StatusError
		page.LastError = out.Err.Error()
		outcome.State = StateFailed
		outcome.Error = page.LastError
		run.emit(unit, StateFailed, out.Model, out.Attempts, out.Err)
	}
	return outcome
}
