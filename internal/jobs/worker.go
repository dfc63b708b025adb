package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aimikata/storyboard/internal/providers"
)

// run carries the per-call state shared by the workers of one run.
type run struct {
	opts   BatchOptions
	logger *slog.Logger
	rpm    map[string]int
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*providers.RateLimiter
}

func newRun(opts BatchOptions, logger *slog.Logger, rpm map[string]int, now func() time.Time) *run {
	return &run{
		opts:     opts,
		logger:   logger,
		rpm:      rpm,
		now:      now,
		limiters: make(map[string]*providers.RateLimiter),
	}
}

// limiter returns the pacing limiter for model in conservative runs, and
// nil otherwise. A burst of one spaces submissions at 60s/rpm.
func (r *run) limiter(model string) *providers.RateLimiter {
	if !r.opts.Conservative {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[model]
	if !ok {
		l = providers.NewRateLimiter(r.rpm[model], 1)
		r.limiters[model] = l
	}
	return l
}

func (r *run) emit(unit *WorkUnit, state JobState, model string, attempt int, err error) {
	r.emitDelay(unit, state, model, attempt, 0, err)
}

func (r *run) emitDelay(unit *WorkUnit, state JobState, model string, attempt int, delay time.Duration, err error) {
	if r.opts.OnStatus == nil {
		return
	}
	ev := StatusEvent{
		BatchID: r.opts.BatchID,
		Unit:    unit.ID,
		Pages:   append([]int(nil), unit.Pages...),
		State:   state,
		Model:   model,
		Attempt: attempt,
		Delay:   delay,
		At:      r.now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.opts.OnStatus(ev)
}

// runWorkers drains queue with n workers. A worker finishes its unit,
// retries included, before taking the next one. Once ctx is cancelled no
// worker takes another unit and the remaining ones stay queued.
func runWorkers(ctx context.Context, queue *PriorityQueue, n int, process func(context.Context, *WorkUnit)) error {
	if n > queue.Len() {
		n = queue.Len()
	}
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				unit := queue.TryPop()
				if unit == nil {
					return nil
				}
				process(ctx, unit)
			}
		})
	}
	return g.Wait()
}
