package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/aimikata/storyboard/internal/providers"
)

// unitResult is what executing a unit across the model chain produced.
type unitResult struct {
	Result   *providers.GenerateResult
	Model    string
	Attempts int
	Err      error

	// Cancelled is set when the run was cancelled before the unit reached
	// a terminal state.
	Cancelled bool
}

// execute walks the model chain. Rate-limit-class errors are retried on the
// same model; any other error, or running out of retries, moves on to the
// next model. The last error is kept when the chain is exhausted.
func (s *Scheduler) execute(ctx context.Context, r *run, unit *WorkUnit) unitResult {
	var out unitResult
	for i, model := range r.opts.Chain {
		if ctx.Err() != nil {
			out.Cancelled = true
			return out
		}
		gen, err := s.models.ForModel(model)
		if err != nil {
			out.Err = err
			r.logger.Warn("model unavailable", "model", model, "unit", unit.ID, "error", err)
			continue
		}

		result, n, err := s.tryModel(ctx, r, unit, model, gen)
		out.Attempts += n
		out.Model = model
		if err == nil {
			out.Result = result
			out.Err = nil
			return out
		}
		out.Err = err
		if ctx.Err() != nil {
			out.Cancelled = true
			return out
		}
		if i+1 < len(r.opts.Chain) {
			r.logger.Info("falling back to next model", "unit", unit.ID,
				"from", model, "to", r.opts.Chain[i+1], "error", err)
		}
	}
	if out.Err == nil {
		out.Err = ErrNoModels
	}
	return out
}

// tryModel submits the unit to one model, retrying rate-limit-class errors
// with exponential backoff. It returns the number of submissions made.
func (s *Scheduler) tryModel(ctx context.Context, r *run, unit *WorkUnit, model string, gen providers.Generator) (*providers.GenerateResult, int, error) {
	policy := r.opts.Retry
	attempts := uint(policy.MaxRetries) + 1
	limiter := r.limiter(model)

	var (
		result  *providers.GenerateResult
		n       int
		lastErr error
	)
	err := retry.Do(
		func() error {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			n++
			r.emit(unit, StateSubmitted, model, n, nil)
			res, err := s.call(ctx, r, unit, model, gen)
			if err != nil {
				lastErr = err
				return err
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(policy.BaseDelay),
		retry.MaxDelay(policy.MaxDelay),
		retry.MaxJitter(policy.MaxJitter),
		retry.DelayType(backoffDelay(policy)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && providers.IsRetryable(err)
		}),
		retry.OnRetry(func(i uint, err error) {
			if limiter != nil {
				limiter.Pause(providers.RetryAfter(err))
			}
			r.emit(unit, StateRateLimited, model, n, err)
			if i+1 < attempts {
				r.emitDelay(unit, StateBackoff, model, n, providers.RetryAfter(err), err)
				r.logger.Debug("rate limited, backing off", "unit", unit.ID, "model", model,
					"attempt", n, "max_attempts", attempts, "error", err)
			}
		}),
	)
	if err == nil {
		return result, n, nil
	}
	if ctx.Err() != nil && lastErr != nil && errors.Is(err, ctx.Err()) {
		return nil, n, fmt.Errorf("%w after %d attempts: %v", ctx.Err(), n, lastErr)
	}
	if providers.IsRetryable(err) && n == int(attempts) {
		return nil, n, fmt.Errorf("%s failed after %d attempts: %w", model, n, err)
	}
	return nil, n, fmt.Errorf("%s: %w", model, err)
}

// call submits one request. The request runs on a context detached from
// run cancellation and bounded by the call timeout.
func (s *Scheduler) call(ctx context.Context, r *run, unit *WorkUnit, model string, gen providers.Generator) (*providers.GenerateResult, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.CallTimeout)
	defer cancel()

	return gen.Generate(callCtx, &providers.GenerateRequest{
		Model:     model,
		Parts:     unit.Parts,
		Schema:    unit.Schema,
		MaxTokens: unit.MaxTokens,
		RequestID: unit.ID,
	})
}

// backoffDelay is base * 2^n with optional jitter. A Retry-After carried by
// the error takes precedence.
func backoffDelay(policy RetryPolicy) retry.DelayTypeFunc {
	var computed retry.DelayTypeFunc = retry.BackOffDelay
	if policy.MaxJitter > 0 {
		computed = retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
	}
	return func(n uint, err error, config *retry.Config) time.Duration {
		if d := providers.RetryAfter(err); d > 0 {
			return d
		}
		return computed(n, err, config)
	}
}
