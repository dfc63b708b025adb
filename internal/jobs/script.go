package jobs

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/aimikata/storyboard/internal/blueprint"
	"github.com/aimikata/storyboard/internal/providers"
	"github.com/aimikata/storyboard/internal/repair"
	"github.com/aimikata/storyboard/internal/types"
)

// DefaultScriptBatchSize is the number of pages requested per call.
const DefaultScriptBatchSize = 10

// ScriptRequest asks for page scripts for a blueprint.
type ScriptRequest struct {
	// Slots are the blueprint entries to write, usually from
	// blueprint.Allocate.
	Slots []blueprint.Slot

	// Brief is the story or topic the pages are written from.
	Brief string

	// Instructions are extra style rules prepended to every request.
	Instructions string

	// BatchSize is the number of pages per request.
	BatchSize int

	// MaxTokens caps each response. Zero leaves the backend default.
	MaxTokens int
}

// ScriptResult holds one item per requested slot, in slot order. Pages
// that could not be generated are placeholders marked skipped.
type ScriptResult struct {
	BatchID  string        `json:"batch_id"`
	Items    []repair.Item `json:"items"`
	Repaired int           `json:"repaired"`
	Skipped  []int         `json:"skipped,omitempty"`

	// Err aggregates chunk failures and dropped items.
	Err error `json:"-"`
}

// Pages converts the items into page specs ready for image generation.
// Placeholders keep their note as the last error.
func (r *ScriptResult) Pages() []types.PageSpec {
	pages := make([]types.PageSpec, 0, len(r.Items))
	for _, it := range r.Items {
		page := types.PageSpec{
			PageNumber: it.PageNumber,
			Template:   it.Template,
			Prompt:     types.SplitPrompt(it.Content),
			Status:     types.StatusIdle,
		}
		if it.Skipped {
			page.LastError = it.Note
		}
		pages = append(pages, page)
	}
	return pages
}

// chunkOutcome is what one script request produced.
type chunkOutcome struct {
	items    []repair.Item
	repaired bool
	err      error
}

// RunScriptBatch writes page scripts in chunks of req.BatchSize. Each chunk
// asks for a JSON array matching repair.ResponseSchema; the response is
// repaired if truncated, validated, and reconciled against the chunk's pages
// so every slot gets an item. A chunk whose response cannot be repaired, or
// whose request fails, yields placeholders for all its pages.
func (s *Scheduler) RunScriptBatch(ctx context.Context, req ScriptRequest, opts BatchOptions) (*ScriptResult, error) {
	if len(req.Slots) == 0 {
		return nil, ErrNoPages
	}
	opts, err := s.prepare(opts)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("batch", opts.BatchID, "kind", "script")

	size := req.BatchSize
	if size <= 0 {
		size = DefaultScriptBatchSize
	}
	chunks := chunkSlots(req.Slots, size)

	if _, err := s.admit(opts, len(chunks), logger); err != nil {
		return nil, err
	}

	validator, err := repair.NewValidator()
	if err != nil {
		return nil, err
	}

	r := newRun(opts, logger, s.rpm, s.now)
	queue := NewPriorityQueue()
	byUnit := make(map[string]int, len(chunks))
	expected := make([][]int, len(chunks))
	for i, chunk := range chunks {
		expected[i] = blueprint.PageNumbers(chunk)
		unit := &WorkUnit{
			ID:        fmt.Sprintf("%s/script-%d", opts.BatchID, i+1),
			BatchID:   opts.BatchID,
			Priority:  PriorityNormal,
			Pages:     expected[i],
			Parts:     []providers.Part{providers.TextPart(scriptPrompt(req, chunk))},
			Schema:    repair.ResponseSchema(),
			MaxTokens: req.MaxTokens,
		}
		byUnit[unit.ID] = i
		if err := queue.Push(unit); err != nil {
			return nil, err
		}
	}

	logger.Info("script batch started", "pages", len(req.Slots), "chunks", len(chunks))

	outcomes := make([]*chunkOutcome, len(chunks))
	runErr := runWorkers(ctx, queue, opts.Concurrency, func(ctx context.Context, unit *WorkUnit) {
		i := byUnit[unit.ID]
		outcomes[i] = s.generateChunk(ctx, r, unit, validator)
	})

	result := &ScriptResult{BatchID: opts.BatchID}
	for i, out := range outcomes {
		if out == nil {
			result.Items = append(result.Items, repair.Placeholders(expected[i])...)
			continue
		}
		if out.repaired {
			result.Repaired++
		}
		result.Err = multierr.Append(result.Err, out.err)
		result.Items = append(result.Items, out.items...)
	}
	result.Skipped = repair.SkippedPages(result.Items)

	logger.Info("script batch finished", "items", len(result.Items),
		"skipped", len(result.Skipped), "repaired", result.Repaired)
	if runErr != nil {
		logger.Info("script batch cancelled", "never_submitted", queue.Pending(), "error", runErr)
		return result, runErr
	}
	return result, nil
}

func (s *Scheduler) generateChunk(ctx context.Context, r *run, unit *WorkUnit, validator *repair.Validator) *chunkOutcome {
	out := s.execute(ctx, r, unit)
	if out.Result == nil {
		state := StateFailed
		if out.Cancelled {
			state = StateIdle
		}
		r.emit(unit, state, out.Model, out.Attempts, out.Err)
		var err error
		if out.Err != nil {
			err = fmt.Errorf("pages %v: %w", unit.Pages, out.Err)
		}
		return &chunkOutcome{items: repair.Placeholders(unit.Pages), err: err}
	}

	// Every answered request counts against the day's quota, usable or not.
	if r.opts.Ledger != nil {
		r.opts.Ledger.Increment(s.now())
	}

	repaired, err := repair.Repair(out.Result.Text)
	if err != nil {
		err = fmt.Errorf("pages %v: %w", unit.Pages, err)
		r.emit(unit, StateFailed, out.Model, out.Attempts, err)
		return &chunkOutcome{items: repair.Placeholders(unit.Pages), err: err}
	}
	if repaired.Repaired {
		r.logger.Warn("repaired truncated response", "unit", unit.ID,
			"recovered", len(repaired.Items), "truncated", out.Result.Truncated)
	}

	valid, invalid := validator.Filter(repaired.Items)
	if invalid != nil {
		invalid = fmt.Errorf("pages %v: %w", unit.Pages, invalid)
	}

	r.emit(unit, StateSucceeded, out.Model, out.Attempts, nil)
	return &chunkOutcome{
		items:    repair.Reconcile(valid, unit.Pages),
		repaired: repaired.Repaired,
		err:      invalid,
	}
}

func chunkSlots(slots []blueprint.Slot, size int) [][]blueprint.Slot {
	var chunks [][]blueprint.Slot
	for start := 0; start < len(slots); start += size {
		end := start + size
		if end > len(slots) {
			end = len(slots)
		}
		chunks = append(chunks, slots[start:end])
	}
	return chunks
}

func scriptPrompt(req ScriptRequest, chunk []blueprint.Slot) string {
	var b strings.Builder
	if req.Instructions != "" {
		b.WriteString(strings.TrimSpace(req.Instructions))
		b.WriteString("\n\n")
	}
	if req.Brief != "" {
		b.WriteString("Story:\n")
		b.WriteString(strings.TrimSpace(req.Brief))
		b.WriteString("\n\n")
	}
	b.WriteString("Write the script for the pages below. Return a JSON array with one object per page ")
	b.WriteString("containing pageNumber, template (a panel layout name) and prompt (the full image prompt). ")
	b.WriteString("Mention recurring characters in square brackets, e.g. [Alex].\n")
	for _, slot := range chunk {
		b.WriteString("- ")
		b.WriteString(slot.String())
		b.WriteByte('\n')
	}
	return b.String()
}
