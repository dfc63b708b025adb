package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/aimikata/storyboard/internal/types"
	"github.com/aimikata/storyboard/internal/usage"
)

var (
	// ErrBatchNotFound is returned for unknown batch IDs.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchRunning is returned when a page of a running batch is
	// regenerated.
	ErrBatchRunning = errors.New("batch is still running")

	// ErrPageNotFound is returned when a batch has no such page.
	ErrPageNotFound = errors.New("page not found in batch")
)

// BatchState is the lifecycle state of a managed batch.
type BatchState string

const (
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchCancelled BatchState = "cancelled"
	BatchFailed    BatchState = "failed"
)

// PageView is the externally visible state of one page.
type PageView struct {
	PageNumber int              `json:"page_number"`
	Template   string           `json:"template,omitempty"`
	State      JobState         `json:"state"`
	Status     types.PageStatus `json:"status"`
	Model      string           `json:"model,omitempty"`
	Attempt    int              `json:"attempt,omitempty"`
	Error      string           `json:"error,omitempty"`
	MIMEType   string           `json:"mime_type,omitempty"`
}

// BatchView is a snapshot of a managed batch.
type BatchView struct {
	ID         string               `json:"id"`
	State      BatchState           `json:"state"`
	CreatedAt  time.Time            `json:"created_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Pages      []PageView           `json:"pages"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Warning    *usage.BudgetWarning `json:"warning,omitempty"`
	Error      string               `json:"error,omitempty"`
}

type batch struct {
	id         string
	state      BatchState
	createdAt  time.Time
	finishedAt *time.Time
	opts       BatchOptions
	pages      []*types.PageSpec
	views      []PageView
	// units maps a unit ID to the index of its page in pages and views.
	units      map[string]int
	result     *BatchResult
	err        error
	cancel     context.CancelFunc
	done       chan struct{}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Scheduler *Scheduler
	Logger    *slog.Logger

	// Ledger is shared by every batch; Store persists it after each one.
	Ledger *usage.Ledger
	Store  usage.Store
}

// Manager keeps the batches started by the server in memory and fans their
// status events out to subscribers.
type Manager struct {
	scheduler *Scheduler
	logger    *slog.Logger
	ledger    *usage.Ledger
	store     usage.Store

	mu      sync.RWMutex
	batches map[string]*batch

	subMu   sync.Mutex
	subs    map[int]chan StatusEvent
	nextSub int
}

// NewManager creates a new batch manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = usage.NewLedger(usage.State{})
	}
	return &Manager{
		scheduler: cfg.Scheduler,
		logger:    logger,
		ledger:    ledger,
		store:     cfg.Store,
		batches:   make(map[string]*batch),
		subs:      make(map[int]chan StatusEvent),
	}
}

// Ledger returns the shared usage ledger.
func (m *Manager) Ledger() *usage.Ledger {
	return m.ledger
}

// Scheduler returns the scheduler batches run on.
func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// Start admits a batch and runs it in the background. The budget check
// happens here, so a *BudgetError is returned synchronously and nothing is
// started. The batch keeps running after ctx is done; use Cancel to stop
// it.
func (m *Manager) Start(ctx context.Context, pages []*types.PageSpec, opts BatchOptions) (string, error) {
	if len(pages) == 0 {
		return "", ErrNoPages
	}
	opts.Ledger = m.ledger
	opts, err := m.scheduler.prepare(opts)
	if err != nil {
		return "", err
	}
	warning, err := m.scheduler.admit(opts, len(pages), m.logger)
	if err != nil {
		return "", err
	}
	opts.Force = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &batch{
		id:        opts.BatchID,
		state:     BatchRunning,
		createdAt: time.Now(),
		pages:     pages,
		views:     make([]PageView, len(pages)),
		units:     make(map[string]int, len(pages)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for i, id := range pageUnitIDs(b.id, pages) {
		b.units[id] = i
		b.views[i] = PageView{
			PageNumber: pages[i].PageNumber,
			Template:   pages[i].Template,
			State:      StateIdle,
			Status:     types.StatusIdle,
		}
	}

	userStatus := opts.OnStatus
	opts.OnStatus = func(ev StatusEvent) {
		m.record(ev)
		if userStatus != nil {
			userStatus(ev)
		}
	}
	b.opts = opts

	m.mu.Lock()
	m.batches[b.id] = b
	m.mu.Unlock()

	go func() {
		result, err := m.scheduler.RunBatch(runCtx, pages, opts)
		m.finish(b, result, err, warning)
	}()

	m.logger.Info("batch admitted", "batch", b.id, "pages", len(pages))
	return b.id, nil
}

func (m *Manager) finish(b *batch, result *BatchResult, err error, warning *usage.BudgetWarning) {
	now := time.Now()

	m.mu.Lock()
	b.result = result
	b.err = err
	b.finishedAt = &now
	switch {
	case errors.Is(err, context.Canceled):
		b.state = BatchCancelled
	case err != nil:
		b.state = BatchFailed
	default:
		b.state = BatchCompleted
	}
	if result != nil && result.Warning == nil {
		result.Warning = warning
	}
	m.syncPages(b)
	state := b.state
	m.mu.Unlock()

	m.persist()
	b.cancel()
	close(b.done)
	m.logger.Info("batch done", "batch", b.id, "state", state)
}

// syncPages copies artifact metadata from the finished pages. Must be
// called with lock held, after the run has returned.
func (m *Manager) syncPages(b *batch) {
	for i, p := range b.pages {
		v := &b.views[i]
		v.Status = p.Status
		v.Error = p.LastError
		if p.Result != nil {
			v.MIMEType = p.Result.MIMEType
		}
	}
}

func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	if err := m.ledger.Save(context.Background(), m.store); err != nil {
		m.logger.Warn("failed to persist usage", "error", err)
	}
}

// record applies an event to the page views and fans it out.
func (m *Manager) record(ev StatusEvent) {
	m.mu.Lock()
	if b, ok := m.batches[ev.BatchID]; ok {
		if i, ok := b.units[ev.Unit]; ok {
			v := &b.views[i]
			v.State = ev.State
			v.Status = ev.State.PageStatus()
			v.Attempt = ev.Attempt
			if ev.Model != "" {
				v.Model = ev.Model
			}
			v.Error = ev.Error
		}
	}
	m.mu.Unlock()

	m.publish(ev)
}

func (m *Manager) publish(ev StatusEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("subscriber lagging, dropping event", "subscriber", id, "batch", ev.BatchID)
		}
	}
}

// Subscribe returns a channel receiving every status event and a function
// that unsubscribes and closes it. Slow subscribers miss events.
func (m *Manager) Subscribe() (<-chan StatusEvent, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan StatusEvent, 64)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

// Get returns a snapshot of a batch.
func (m *Manager) Get(id string) (*BatchView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return b.view(), nil
}

// List returns snapshots of all batches, oldest first.
func (m *Manager) List() []*BatchView {
	m.mu.RLock()
	views := make([]*BatchView, 0, len(m.batches))
	for _, b := range m.batches {
		views = append(views, b.view())
	}
	m.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

// Cancel stops a running batch. Requests already sent finish on their own.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	b, ok := m.batches[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	b.cancel()
	return nil
}

// Wait blocks until the batch finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*BatchView, error) {
	m.mu.RLock()
	b, ok := m.batches[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	select {
	case <-b.done:
		return m.Get(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pages returns the pages of a finished batch.
func (m *Manager) Pages(id string) ([]*types.PageSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if b.state == BatchRunning {
		return nil, ErrBatchRunning
	}
	return b.pages, nil
}

// Regenerate reruns one page of a finished batch with the batch's options.
// When a page number repeats, the first page carrying it is rerun.
func (m *Manager) Regenerate(ctx context.Context, id string, pageNumber int, force bool) (*PageOutcome, error) {
	m.mu.Lock()
	b, ok := m.batches[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if b.state == BatchRunning {
		m.mu.Unlock()
		return nil, ErrBatchRunning
	}
	idx := slices.IndexFunc(b.pages, func(p *types.PageSpec) bool {
		return p.PageNumber == pageNumber
	})
	if idx < 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, pageNumber)
	}
	page := b.pages[idx]
	// Regeneration owns the page until it returns. A single-page run uses the
	// plain unit ID, so events for it are routed to this page.
	prev := b.state
	b.state = BatchRunning
	b.units[pageUnitID(b.id, pageNumber)] = idx
	opts := b.opts
	m.mu.Unlock()

	opts.Force = force
	outcome, err := m.scheduler.RunSingle(ctx, page, opts)

	m.mu.Lock()
	b.state = prev
	if b.result != nil && outcome != nil && idx < len(b.result.Outcomes) {
		b.result.Outcomes[idx] = *outcome
	}
	m.syncPages(b)
	m.mu.Unlock()

	m.persist()
	return outcome, err
}

// view must be called with the manager lock held.
func (b *batch) view() *BatchView {
	v := &BatchView{
		ID:         b.id,
		State:      b.state,
		CreatedAt:  b.createdAt,
		FinishedAt: b.finishedAt,
		Pages:      make([]PageView, 0, len(b.views)),
	}
	for _, pv := range b.views {
		switch pv.State {
		case StateSucceeded:
			v.Succeeded++
		case StateFailed:
			v.Failed++
		}
		v.Pages = append(v.Pages, pv)
	}
	if b.result != nil {
		v.Warning = b.result.Warning
	}
	if b.err != nil {
		v.Error = b.err.Error()
	}
	return v
}

// GenerateScript runs a script batch against the shared ledger and blocks
// until it returns. Events are fanned out like those of image batches.
func (m *Manager) GenerateScript(ctx context.Context, req ScriptRequest, opts BatchOptions) (*ScriptResult, error) {
	opts.Ledger = m.ledger
	userStatus := opts.OnStatus
	opts.OnStatus = func(ev StatusEvent) {
		m.publish(ev)
		if userStatus != nil {
			userStatus(ev)
		}
	}
	result, err := m.scheduler.RunScriptBatch(ctx, req, opts)
	m.persist()
	return result, err
}

// ResetUsage zeroes today's count and persists it.
func (m *Manager) ResetUsage(now time.Time) {
	m.ledger.Reset(now)
	m.persist()
}
