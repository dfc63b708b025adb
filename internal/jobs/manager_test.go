package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aimikata/storyboard/internal/providers"
	"github.com/aimikata/storyboard/internal/types"
	"github.com/aimikata/storyboard/internal/usage"
)

func newTestManager(t *testing.T, mock *providers.MockClient, ceilings usage.Ceilings, state usage.State) (*Manager, *usage.MemoryStore) {
	t.Helper()
	store := &usage.MemoryStore{}
	m := NewManager(ManagerConfig{
		Scheduler: newTestScheduler(t, map[string]*providers.MockClient{"fast": mock}, ceilings),
		Logger:    discardLogger(),
		Ledger:    usage.NewLedger(state),
		Store:     store,
	})
	return m, store
}

func waitBatch(t *testing.T, m *Manager, id string) *BatchView {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	view, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return view
}

func TestManager_StartAndWait(t *testing.T) {
	m, store := newTestManager(t, fastMock(), nil, usage.State{})

	id, err := m.Start(context.Background(), makePages(3), BatchOptions{
		Chain:       []string{"fast"},
		Concurrency: 2,
		Retry:       fastRetry(),
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	view := waitBatch(t, m, id)
	if view.State != BatchCompleted {
		t.Errorf("State = %s, want completed", view.State)
	}
	if view.Succeeded != 3 || view.Failed != 0 {
		t.Errorf("succeeded/failed = %d/%d", view.Succeeded, view.Failed)
	}
	for _, p := range view.Pages {
		if p.Status != types.StatusCompleted || p.MIMEType != "text/plain" {
			t.Errorf("page view = %+v", p)
		}
	}
	if view.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}

	saved, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.Count != 3 {
		t.Errorf("persisted count = %d, want 3", saved.Count)
	}

	pages, err := m.Pages(id)
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(pages) != 3 || pages[0].Result == nil {
		t.Errorf("pages = %+v", pages)
	}
	if list := m.List(); len(list) != 1 || list[0].ID != id {
		t.Errorf("List() = %+v", list)
	}
}

func TestManager_BudgetRefusedSynchronously(t *testing.T) {
	mock := fastMock()
	m, _ := newTestManager(t, mock, usage.Ceilings{"fast": 5}, usage.State{Date: usage.Day(testClock), Count: 4})

	_, err := m.Start(context.Background(), makePages(2), BatchOptions{Chain: []string{"fast"}})
	var budgetErr *BudgetError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("Start() error = %v, want BudgetError", err)
	}
	if len(m.List()) != 0 {
		t.Error("a refused batch should not be tracked")
	}
	if mock.RequestCount() != 0 {
		t.Error("nothing should be submitted")
	}

	id, err := m.Start(context.Background(), makePages(2), BatchOptions{Chain: []string{"fast"}, Force: true})
	if err != nil {
		t.Fatalf("forced Start() error = %v", err)
	}
	view := waitBatch(t, m, id)
	if view.Warning == nil || view.Warning.Ceiling != 5 {
		t.Errorf("Warning = %+v", view.Warning)
	}
}

func TestManager_Cancel(t *testing.T) {
	mock := fastMock()
	mock.FailFunc = func(req *providers.GenerateRequest, n int64) error {
		return &providers.RateLimitError{Message: "rate limited"}
	}
	m, _ := newTestManager(t, mock, nil, usage.State{})

	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	id, err := m.Start(context.Background(), makePages(3), BatchOptions{
		Chain: []string{"fast"},
		Retry: RetryPolicy{MaxRetries: 5, BaseDelay: 10 * time.Second},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	timeout := time.After(5 * time.Second)
	for waiting := true; waiting; {
		select {
		case ev := <-events:
			if ev.BatchID == id && ev.State == StateBackoff {
				waiting = false
			}
		case <-timeout:
			t.Fatal("no backoff event")
		}
	}

	if view, _ := m.Get(id); view.State != BatchRunning {
		t.Errorf("State = %s before cancel, want running", view.State)
	}
	if _, err := m.Regenerate(context.Background(), id, 1, false); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("Regenerate() on running batch error = %v", err)
	}
	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	view := waitBatch(t, m, id)
	if view.State != BatchCancelled {
		t.Errorf("State = %s, want cancelled", view.State)
	}
	for _, p := range view.Pages {
		if p.Status != types.StatusIdle {
			t.Errorf("page %d status = %s, want idle", p.PageNumber, p.Status)
		}
	}
	if mock.RequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.RequestCount())
	}
}

func TestManager_Regenerate(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	mock := fastMock()
	mock.FailFunc = func(req *providers.GenerateRequest, n int64) error {
		if broken.Load() && strings.HasSuffix(req.RequestID, "/page-2") {
			return errors.New("safety filter")
		}
		return nil
	}
	m, _ := newTestManager(t, mock, nil, usage.State{})

	id, err := m.Start(context.Background(), makePages(3), BatchOptions{Chain: []string{"fast"}, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	view := waitBatch(t, m, id)
	if view.Failed != 1 || view.Pages[1].Status != types.StatusError {
		t.Fatalf("view = %+v, want page 2 failed", view)
	}
	if !strings.Contains(view.Pages[1].Error, "safety filter") {
		t.Errorf("page 2 error = %q", view.Pages[1].Error)
	}

	broken.Store(false)
	outcome, err := m.Regenerate(context.Background(), id, 2, false)
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if outcome.State != StateSucceeded {
		t.Errorf("outcome = %+v", outcome)
	}

	view, err = m.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if view.State != BatchCompleted || view.Succeeded != 3 || view.Failed != 0 {
		t.Errorf("view after regenerate = %+v", view)
	}
	if view.Pages[1].Error != "" {
		t.Errorf("page 2 error not cleared: %q", view.Pages[1].Error)
	}
	if got := m.Ledger().Count(testClock); got != 3 {
		t.Errorf("ledger count = %d, want 3", got)
	}

	if _, err := m.Regenerate(context.Background(), id, 99, false); !errors.Is(err, ErrPageNotFound) {
		t.Errorf("missing page error = %v", err)
	}
	if _, err := m.Regenerate(context.Background(), "nope", 1, false); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("missing batch error = %v", err)
	}
}

func TestManager_DuplicatePageNumbers(t *testing.T) {
	mock := fastMock()
	mock.FailFunc = func(req *providers.GenerateRequest, n int64) error {
		if strings.HasSuffix(req.RequestID, "#2") {
			return errors.New("safety filter")
		}
		return nil
	}
	m, _ := newTestManager(t, mock, nil, usage.State{})

	pages := makePages(3)
	pages[2].PageNumber = 2

	id, err := m.Start(context.Background(), pages, BatchOptions{Chain: []string{"fast"}, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	view := waitBatch(t, m, id)
	if len(view.Pages) != 3 {
		t.Fatalf("pages = %d, want one view per input page", len(view.Pages))
	}
	if view.Succeeded != 2 || view.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 2/1", view.Succeeded, view.Failed)
	}
	if view.Pages[1].PageNumber != 2 || view.Pages[1].Status != types.StatusCompleted {
		t.Errorf("first page 2 = %+v", view.Pages[1])
	}
	if view.Pages[2].PageNumber != 2 || view.Pages[2].Status != types.StatusError {
		t.Errorf("second page 2 = %+v", view.Pages[2])
	}
}

func TestManager_Subscribe(t *testing.T) {
	m, _ := newTestManager(t, fastMock(), nil, usage.State{})
	events, unsubscribe := m.Subscribe()

	id, err := m.Start(context.Background(), makePages(1), BatchOptions{Chain: []string{"fast"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitBatch(t, m, id)

	var states []JobState
	for len(states) < 2 {
		select {
		case ev := <-events:
			states = append(states, ev.State)
		case <-time.After(time.Second):
			t.Fatalf("got %v, want submitted and succeeded", states)
		}
	}
	if states[0] != StateSubmitted || states[1] != StateSucceeded {
		t.Errorf("states = %v", states)
	}

	unsubscribe()
	if _, ok := <-events; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	unsubscribe()
}

func TestManager_NotFound(t *testing.T) {
	m, _ := newTestManager(t, fastMock(), nil, usage.State{})
	if _, err := m.Get("missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Get() error = %v", err)
	}
	if err := m.Cancel("missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Cancel() error = %v", err)
	}
	if _, err := m.Wait(context.Background(), "missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Wait() error = %v", err)
	}
}
