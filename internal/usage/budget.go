package usage

import "fmt"

// Ceilings maps a model identifier to its daily free-tier request count.
// Models without an entry, or with a limit <= 0, are unlimited.
type Ceilings map[string]int

// BudgetWarning reports that admitting pending jobs would cross a model's
// daily ceiling.
type BudgetWarning struct {
	Model   string `json:"model"`
	Used    int    `json:"used"`
	Pending int    `json:"pending"`
	Ceiling int    `json:"ceiling"`
}

func (w *BudgetWarning) String() string {
	return fmt.Sprintf("model %s: %d used + %d pending exceeds daily ceiling of %d",
		w.Model, w.Used, w.Pending, w.Ceiling)
}

// Limit returns the ceiling for model, or 0 when unlimited.
func (c Ceilings) Limit(model string) int {
	if c == nil {
		return 0
	}
	if n := c[model]; n > 0 {
		return n
	}
	return 0
}

// Remaining returns how many requests model has left today, or -1 when
// unlimited.
func (c Ceilings) Remaining(used int, model string) int {
	limit := c.Limit(model)
	if limit == 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// Admission selects what is compared against a ceiling before a batch is
// admitted.
type Admission string

const (
	// AdmitProjected warns when the day's usage plus the pending requests
	// would cross the ceiling. It is the default.
	AdmitProjected Admission = "projected"

	// AdmitCounter warns only once the day's usage has reached the ceiling,
	// however many requests are pending.
	AdmitCounter Admission = "counter"
)

// ParseAdmission validates an admission mode. Empty selects AdmitProjected.
func ParseAdmission(s string) (Admission, error) {
	switch Admission(s) {
	case "", AdmitProjected:
		return AdmitProjected, nil
	case AdmitCounter:
		return AdmitCounter, nil
	default:
		return "", fmt.Errorf("unknown budget admission %q (want %s or %s)", s, AdmitProjected, AdmitCounter)
	}
}

// Check returns a warning when used plus pending exceeds the ceiling of
// model, and nil otherwise. It is Admit with AdmitProjected.
func (c Ceilings) Check(used int, model string, pending int) *BudgetWarning {
	return c.Admit(AdmitProjected, used, model, pending)
}

// Admit returns a warning when mode finds the ceiling of model crossed.
// Under AdmitCounter, reaching the ceiling exactly already warns, since the
// next request would go past it.
func (c Ceilings) Admit(mode Admission, used int, model string, pending int) *BudgetWarning {
	limit := c.Limit(model)
	if limit == 0 {
		return nil
	}
	switch mode {
	case AdmitCounter:
		if used < limit {
			return nil
		}
	default:
		if used+pending <= limit {
			return nil
		}
	}
	return &BudgetWarning{
		Model:   model,
		Used:    used,
		Pending: pending,
		Ceiling: limit,
	}
}
