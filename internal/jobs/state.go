package jobs

import (
	"time"

	"github.com/aimikata/storyboard/internal/types"
)

// JobState is the state of one work unit.
//
//	idle -> submitted -> succeeded
//	                  -> rate_limited -> backoff -> submitted
//	                  -> failed
type JobState string

const (
	StateIdle        JobState = "idle"
	StateSubmitted   JobState = "submitted"
	StateRateLimited JobState = "rate_limited"
	StateBackoff     JobState = "backoff"
	StateSucceeded   JobState = "succeeded"
	StateFailed      JobState = "failed"
)

// Terminal reports whether no further transitions follow.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// PageStatus maps the job state onto the status shown for a page.
func (s JobState) PageStatus() types.PageStatus {
	switch s {
	case StateSubmitted, StateRateLimited, StateBackoff:
		return types.StatusGenerating
	case StateSucceeded:
		return types.StatusCompleted
	case StateFailed:
		return types.StatusError
	default:
		return types.StatusIdle
	}
}

// StatusEvent is published on every state transition of a work unit.
type StatusEvent struct {
	BatchID string        `json:"batch_id"`
	Unit    string        `json:"unit"`
	Pages   []int         `json:"pages"`
	State   JobState      `json:"state"`
	Model   string        `json:"model,omitempty"`
	Attempt int           `json:"attempt,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	Error   string        `json:"error,omitempty"`
	At      time.Time     `json:"at"`
}

// RetryPolicy bounds retries of rate-limit-class errors on one model.
// The wait before retry n (0-based) is BaseDelay * 2^n plus up to MaxJitter,
// capped at MaxDelay. A server-provided Retry-After replaces the computed
// wait.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	MaxJitter  time.Duration `json:"max_jitter"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		MaxJitter:  time.Second,
	}
}
