package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aimikata/storyboard/internal/blueprint"
	"github.com/aimikata/storyboard/internal/providers"
	"github.com/aimikata/storyboard/internal/repair"
	"github.com/aimikata/storyboard/internal/usage"
)

func storySlots(n int) []blueprint.Slot {
	slots := make([]blueprint.Slot, n)
	for i := range slots {
		slots[i] = blueprint.Slot{PageNumber: i + 1, Role: blueprint.RoleHook, Volume: 1, Chapter: 1}
	}
	return slots
}

func TestRunScriptBatch_RepairsTruncatedResponse(t *testing.T) {
	mock := fastMock()
	mock.RespondFunc = func(req *providers.GenerateRequest) string {
		return `[{"pageNumber":1,"template":"T1","prompt":"<header>style: ink</header>\nAlex enters [Alex]"},` +
			`{"pageNumber":"P2","template":"T2","prompt":"Rain"},` +
			`{"pageNumber":3,"templ`
	}
	s := newTestScheduler(t, map[string]*providers.MockClient{"fast": mock}, nil)
	ledger := usage.NewLedger(usage.State{})

	result, err := s.RunScriptBatch(context.Background(), ScriptRequest{
		Slots: storySlots(3),
		Brief: "A detective story",
	}, BatchOptions{Chain: []string{"fast"}, Retry: fastRetry(), Ledger: ledger})
	if err != nil {
		t.Fatalf("RunScriptBatch() error = %v", err)
	}
	if result.Err != nil {
		t.Errorf("result.Err = %v", result.Err)
	}
	if result.Repaired != 1 {
		t.Errorf("Repaired = %d, want 1", result.Repaired)
	}
	if len(result.Items) != 3 {
		t.Fatalf("items = %d, want one per slot", len(result.Items))
	}
	for i, it := range result.Items {
		if it.PageNumber != i+1 {
			t.Errorf("item %d page = %d", i, it.PageNumber)
		}
	}
	if result.Items[1].Template != "T2" {
		t.Errorf("string page token not matched: %+v", result.Items[1])
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != 3 {
		t.Errorf("Skipped = %v, want [3]", result.Skipped)
	}
	if got := ledger.Count(testClock); got != 1 {
		t.Errorf("ledger count = %d, want 1 per successful request", got)
	}

	pages := result.Pages()
	if pages[0].Prompt.Header != "style: ink" || pages[0].Prompt.Body != "Alex enters [Alex]" {
		t.Errorf("page 1 prompt = %+v", pages[0].Prompt)
	}
	if pages[2].LastError != repair.PlaceholderNote {
		t.Errorf("placeholder page last error = %q", pages[2].LastError)
	}
}

func TestRunScriptBatch_Chunks(t *testing.T) {
	mock := fastMock()
	mock.RespondFunc = func(req *providers.GenerateRequest) string {
		if req.Schema == nil {
			t.Error("script requests should carry the response schema")
		}
		prompt := req.Parts[0].Text
		if strings.Contains(prompt, "Page 3 (") {
			return "Sorry, I can't help with that."
		}
		return `[{"pageNumber":1,"template":"A","prompt":"one"},{"pageNumber":2,"template":"B","prompt":"two"}]`
	}
	s := newTestScheduler(t, map[string]*providers.MockClient{"fast": mock}, nil)
	ledger := usage.NewLedger(usage.State{})

	result, err := s.RunScriptBatch(context.Background(), ScriptRequest{
		Slots:     storySlots(4),
		BatchSize: 2,
	}, BatchOptions{Chain: []string{"fast"}, Retry: fastRetry(), Ledger: ledger})
	if err != nil {
		t.Fatalf("RunScriptBatch() error = %v", err)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2 chunks", mock.RequestCount())
	}
	if !errors.Is(result.Err, repair.ErrUnrepairable) {
		t.Errorf("result.Err = %v, want ErrUnrepairable", result.Err)
	}
	if len(result.Items) != 4 {
		t.Fatalf("items = %d, want 4", len(result.Items))
	}
	if result.Items[0].Skipped || result.Items[1].Skipped {
		t.Error("first chunk should be generated")
	}
	if !result.Items[2].Skipped || !result.Items[3].Skipped {
		t.Error("unrepairable chunk should be all placeholders")
	}
	if got := ledger.Count(testClock); got != 2 {
		t.Errorf("ledger count = %d, want 2: an answered request counts even when unusable", got)
	}
}

func TestRunScriptBatch_BudgetCountsChunks(t *testing.T) {
	mock := fastMock()
	s := newTestScheduler(t, map[string]*providers.MockClient{"fast": mock}, usage.Ceilings{"fast": 3})
	ledger := usage.NewLedger(usage.State{Date: usage.Day(testClock), Count: 1})

	// 20 pages in chunks of 10 is 2 requests: 1 + 2 fits a ceiling of 3.
	// The mock's plain-text answer is unrepairable but still uses quota.
	_, err := s.RunScriptBatch(context.Background(), ScriptRequest{Slots: storySlots(20)},
		BatchOptions{Chain: []string{"fast"}, Retry: fastRetry(), Ledger: ledger})
	if err != nil {
		t.Fatalf("RunScriptBatch() error = %v", err)
	}
	if got := ledger.Count(testClock); got != 3 {
		t.Fatalf("ledger count = %d, want 3", got)
	}

	_, err = s.RunScriptBatch(context.Background(), ScriptRequest{Slots: storySlots(20)},
		BatchOptions{Chain: []string{"fast"}, Retry: fastRetry(), Ledger: ledger})
	var budgetErr *BudgetError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("second run error = %v, want BudgetError", err)
	}
}

func TestChunkSlots(t *testing.T) {
	chunks := chunkSlots(storySlots(25), 10)
	if len(chunks) != 3 || len(chunks[2]) != 5 {
		t.Fatalf("chunks = %d, last = %d", len(chunks), len(chunks[len(chunks)-1]))
	}
	if chunks[1][0].PageNumber != 11 {
		t.Errorf("second chunk starts at %d", chunks[1][0].PageNumber)
	}
}
