package burnrate

import (
	"time"

	"github.com/rpeltola/slostat/internal/slo"
)

// Default alerting thresholds, the standard SRE reference points: a burn
// rate of 14.4 spends 2% of a 30-day budget in one hour (page), 6.0 spends
// 5% in six hours (ticket).
const (
	DefaultCriticalThreshold = 14.4
	DefaultWarningThreshold  = 6.0
)

// sustainableRate is the burn rate that exhausts the budget exactly at the
// window end.
const sustainableRate = 1.0

// Config holds the analyzer's alerting thresholds.
type Config struct {
	CriticalThreshold float64
	WarningThreshold  float64
}

// DefaultConfig returns the standard 14.4/6.0 thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalThreshold: DefaultCriticalThreshold,
		WarningThreshold:  DefaultWarningThreshold,
	}
}

// BurnRate is the result of analyzing budget consumption speed over a
// sliding window. A rate of 1.0 consumes the budget exactly at the window
// end; higher is faster.
type BurnRate struct {
	SLOName      string    `json:"slo_name"`
	CalculatedAt time.Time `json:"calculated_at"`
	WindowHours  float64   `json:"window_hours"`
	Rate         float64   `json:"burn_rate"`

	// Set in multi-window mode only.
	RateShort *float64 `json:"burn_rate_short,omitempty"`
	RateLong  *float64 `json:"burn_rate_long,omitempty"`

	BudgetConsumedInWindow float64      `json:"budget_consumed_in_window"`
	AlertSeverity          slo.Severity `json:"alert_severity"`

	// Hours until the budget runs out at the current rate. Nil unless the
	// rate exceeds 1.0: a sustainable budget has no finite exhaustion time.
	TimeToExhaustionHours *float64 `json:"time_to_exhaustion_hours,omitempty"`

	IsCritical      bool     `json:"is_critical"`
	IsWarning       bool     `json:"is_warning"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Incident is a contiguous interval during which the burn rate stayed at
// warning level or above.
type Incident struct {
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Severity  slo.Severity `json:"severity"`
}

// Duration returns the incident length.
func (i Incident) Duration() time.Duration {
	return i.EndTime.Sub(i.StartTime)
}
