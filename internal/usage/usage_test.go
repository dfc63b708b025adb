package usage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		panic(err)
	}
	return t.Add(10 * time.Hour)
}

func TestLedger(t *testing.T) {
	t.Run("increment", func(t *testing.T) {
		l := NewLedger(State{})
		now := day("2026-03-01")
		l.Increment(now)
		state := l.Increment(now)
		if state.Count != 2 || state.Date != "2026-03-01" {
			t.Errorf("state = %+v", state)
		}
	})

	t.Run("rollover resets once per date", func(t *testing.T) {
		l := NewLedger(State{Date: "2026-03-01", Count: 40})
		next := day("2026-03-02")
		if !l.RollOver(next) {
			t.Fatal("RollOver() = false on a new date")
		}
		if l.RollOver(next) {
			t.Error("RollOver() should not reset twice on the same date")
		}
		if got := l.Snapshot(); got.Count != 0 || got.Date != "2026-03-02" {
			t.Errorf("state = %+v", got)
		}
	})

	t.Run("increment after midnight starts fresh", func(t *testing.T) {
		l := NewLedger(State{Date: "2026-03-01", Count: 99})
		if state := l.Increment(day("2026-03-02")); state.Count != 1 {
			t.Errorf("Count = %d, want 1", state.Count)
		}
	})

	t.Run("reset", func(t *testing.T) {
		l := NewLedger(State{Date: "2026-03-01", Count: 7})
		l.Reset(day("2026-03-01"))
		if l.Count(day("2026-03-01")) != 0 {
			t.Error("Count should be 0 after Reset")
		}
	})

	t.Run("concurrent increments", func(t *testing.T) {
		l := NewLedger(State{})
		now := day("2026-03-01")

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.Increment(now)
			}()
		}
		wg.Wait()
		if got := l.Count(now); got != 50 {
			t.Errorf("Count = %d, want 50", got)
		}
	})
}

func TestCeilings(t *testing.T) {
	c := Ceilings{"flash": 100, "free": 0}

	if w := c.Check(90, "flash", 10); w != nil {
		t.Errorf("Check at exactly the ceiling = %v, want nil", w)
	}
	w := c.Check(95, "flash", 10)
	if w == nil {
		t.Fatal("expected warning")
	}
	if w.Used != 95 || w.Pending != 10 || w.Ceiling != 100 {
		t.Errorf("warning = %+v", w)
	}
	if c.Check(1000, "free", 10) != nil {
		t.Error("limit 0 is unlimited")
	}
	if c.Check(1000, "unknown", 10) != nil {
		t.Error("unknown models are unlimited")
	}

	t.Run("counter admission", func(t *testing.T) {
		if w := c.Admit(AdmitCounter, 0, "flash", 500); w != nil {
			t.Errorf("Admit(counter) with nothing used = %v, want nil", w)
		}
		if w := c.Admit(AdmitCounter, 99, "flash", 10); w != nil {
			t.Errorf("Admit(counter) below the ceiling = %v, want nil", w)
		}
		if w := c.Admit(AdmitCounter, 100, "flash", 1); w == nil {
			t.Error("Admit(counter) at the ceiling = nil, want warning")
		}
		if w := c.Admit(AdmitProjected, 0, "flash", 101); w == nil {
			t.Error("Admit(projected) past the ceiling = nil, want warning")
		}
	})

	if got := c.Remaining(30, "flash"); got != 70 {
		t.Errorf("Remaining() = %d, want 70", got)
	}
	if got := c.Remaining(130, "flash"); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
	if got := c.Remaining(5, "unknown"); got != -1 {
		t.Errorf("Remaining() = %d, want -1", got)
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	stores := map[string]func() (Store, error){
		StoreFile:   func() (Store, error) { return Open(StoreFile, filepath.Join(dir, "usage.json")) },
		StoreSQLite: func() (Store, error) { return Open(StoreSQLite, filepath.Join(dir, "usage.db")) },
		StoreMemory: func() (Store, error) { return Open(StoreMemory, "") },
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store, err := open()
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer store.Close()

			empty, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if empty != (State{}) {
				t.Errorf("fresh store = %+v, want empty", empty)
			}

			want := State{Date: "2026-03-01", Count: 12}
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			want.Count = 13
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got != want {
				t.Errorf("Load() = %+v, want %+v", got, want)
			}
		})
	}

	if _, err := Open("etcd", ""); err == nil {
		t.Error("expected error for unknown store kind")
	}
}

func TestLoadRollsOver(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "usage.json"))
	if err := store.Save(ctx, State{Date: "2026-03-01", Count: 5}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	same, err := Load(ctx, store, day("2026-03-01"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if same.Snapshot().Count != 5 {
		t.Errorf("same-day Count = %d, want 5", same.Snapshot().Count)
	}

	next, err := Load(ctx, store, day("2026-03-02"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	next.Increment(day("2026-03-02"))
	if err := next.Save(ctx, store); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _ := store.Load(ctx)
	if got.Count != 1 || got.Date != "2026-03-02" {
		t.Errorf("persisted = %+v", got)
	}
}

func TestParseAdmission(t *testing.T) {
	tests := []struct {
		in      string
		want    Admission
		wantErr bool
	}{
		{"", AdmitProjected, false},
		{"projected", AdmitProjected, false},
		{"counter", AdmitCounter, false},
		{"strict", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAdmission(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAdmission(%q) = %q, %v; want %q, wantErr %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
