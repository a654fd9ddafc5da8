package budget

import (
	"math"
	"time"

	"github.com/rpeltola/slostat/internal/slo"
)

// Default status thresholds: consumption percentages at which an SLO is
// flagged and then considered out of budget.
const (
	DefaultAtRiskThreshold   = 80.0
	DefaultBreachedThreshold = 100.0
)

// Config holds the calculator's status thresholds.
type Config struct {
	AtRiskThreshold   float64
	BreachedThreshold float64
}

// DefaultConfig returns the standard 80/100 thresholds.
func DefaultConfig() Config {
	return Config{
		AtRiskThreshold:   DefaultAtRiskThreshold,
		BreachedThreshold: DefaultBreachedThreshold,
	}
}

// ErrorBudget is a point-in-time snapshot of one SLO's budget consumption.
// It is a calculation result, not persisted state; every field is derived
// from the definition and the samples inside the window.
type ErrorBudget struct {
	SLOName               string               `json:"slo_name"`
	SLOTarget             float64              `json:"slo_target"`
	WindowDays            int                  `json:"window_days"`
	CalculatedAt          time.Time            `json:"calculated_at"`
	TotalEvents           int64                `json:"total_events"`
	GoodEvents            int64                `json:"good_events"`
	BadEvents             int64                `json:"bad_events"`
	CurrentSLI            float64              `json:"current_sli"`
	AllowedFailures       float64              `json:"allowed_failures"`
	ConsumedFailures      int64                `json:"consumed_failures"`
	RemainingBudget       float64              `json:"remaining_budget"`
	BudgetConsumedPercent float64              `json:"budget_consumed_percent"`
	Status                slo.ComplianceStatus `json:"status"`
	TimeRemainingDays     float64              `json:"time_remaining_days"`

	// Linear extrapolation to the window end. Nil when no time has
	// elapsed in the window, since the consumption rate is undefined then.
	ProjectedBudgetAtWindowEnd *float64 `json:"projected_budget_at_window_end,omitempty"`
}

// IsExhausted reports whether the budget is fully consumed. An empty
// window has a zero budget but is not exhausted: no traffic means no
// evidence of failure.
func (b ErrorBudget) IsExhausted() bool {
	return b.RemainingBudget <= 0 && b.TotalEvents > 0
}

// RemainingPercent returns the unconsumed budget as a percentage, floored
// at zero.
func (b ErrorBudget) RemainingPercent() float64 {
	return math.Max(0.0, 100.0-b.BudgetConsumedPercent)
}
