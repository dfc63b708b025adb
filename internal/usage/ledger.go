// Package usage tracks how many generations succeeded today so batches can
// be checked against per-model daily ceilings.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DateLayout is the format of State.Date.
const DateLayout = "2006-01-02"

// State is the persisted daily usage counter.
type State struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Day returns the date stamp for t in its own location.
func Day(t time.Time) string {
	return t.Format(DateLayout)
}

// Ledger is the process-wide usage counter. All mutation is serialised, so
// workers may call Increment concurrently.
type Ledger struct {
	mu    sync.Mutex
	state State
}

// NewLedger creates a ledger from persisted state.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

// Load reads the persisted state from store and rolls it over to now.
func Load(ctx context.Context, store Store, now time.Time) (*Ledger, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	l := NewLedger(state)
	l.RollOver(now)
	return l, nil
}

// Save persists the current state to store.
func (l *Ledger) Save(ctx context.Context, store Store) error {
	if err := store.Save(ctx, l.Snapshot()); err != nil {
		return fmt.Errorf("failed to save usage: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Count returns today's count, rolling over first if the date changed.
func (l *Ledger) Count(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollOver(now)
	return l.state.Count
}

// Increment records one successful generation and returns the new state.
func (l *Ledger) Increment(now time.Time) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollOver(now)
	l.state.Count++
	return l.state
}

// RollOver resets the counter when the stored date differs from now's date.
// It reports whether a reset happened.
func (l *Ledger) RollOver(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollOver(now)
}

// Reset zeroes the counter for now's date.
func (l *Ledger) Reset(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = State{Date: Day(now)}
}

func (l *Ledger) rollOver(now time.Time) bool {
	today := Day(now)
	if l.state.Date == today {
		return false
	}
	l.state = State{Date: today}
	return true
}
