package budget

import (
	"fmt"
	"math"
	"time"

	"github.com/rpeltola/slostat/internal/slo"
)

// Calculator produces ErrorBudget snapshots. It is pure and stateless:
// safe for concurrent use without synchronization.
type Calculator struct {
	atRiskThreshold   float64
	breachedThreshold float64
}

// New creates a calculator with the given thresholds.
func New(cfg Config) (*Calculator, error) {
	if cfg.AtRiskThreshold <= 0 {
		return nil, fmt.Errorf("at_risk threshold must be positive, got %v", cfg.AtRiskThreshold)
	}
	if cfg.BreachedThreshold <= 0 {
		return nil, fmt.Errorf("breached threshold must be positive, got %v", cfg.BreachedThreshold)
	}
	if cfg.AtRiskThreshold > cfg.BreachedThreshold {
		return nil, fmt.Errorf("at_risk threshold (%v) must not exceed breached threshold (%v)",
			cfg.AtRiskThreshold, cfg.BreachedThreshold)
	}
	return &Calculator{
		atRiskThreshold:   cfg.AtRiskThreshold,
		breachedThreshold: cfg.BreachedThreshold,
	}, nil
}

// Calculate produces the budget snapshot for one SLO at a reference
// instant. A zero at means "now". The calculator owns window filtering:
// samples outside [at − window_days, at] never contribute, so callers must
// not pre-filter with different bounds.
func (c *Calculator) Calculate(def slo.Definition, samples []slo.Metric, at time.Time) (ErrorBudget, error) {
	if err := validateDefinition(def); err != nil {
		return ErrorBudget{}, err
	}
	if at.IsZero() {
		at = time.Now()
	}

	window := time.Duration(def.WindowDays) * 24 * time.Hour
	windowStart := at.Add(-window)

	var totalEvents, goodEvents int64
	for _, m := range samples {
		if m.Timestamp.Before(windowStart) || m.Timestamp.After(at) {
			continue
		}
		totalEvents += m.TotalEvents
		goodEvents += m.GoodEvents
	}
	badEvents := totalEvents - goodEvents

	// No data means no evidence of failure: report full compliance
	// rather than an error.
	currentSLI := 100.0
	if totalEvents > 0 {
		currentSLI = float64(goodEvents) / float64(totalEvents) * 100.0
	}

	var allowedFailures float64
	if totalEvents > 0 {
		allowedFailures = def.ErrorBudgetFraction() * float64(totalEvents)
	}

	remainingBudget := allowedFailures - float64(badEvents)

	var consumedPercent float64
	switch {
	case allowedFailures > 0:
		consumedPercent = float64(badEvents) / allowedFailures * 100.0
	case badEvents > 0:
		// Any failure against a zero-tolerance budget is full consumption.
		consumedPercent = 100.0
	}

	windowEnd := windowStart.Add(window)
	timeRemaining := math.Max(0.0, windowEnd.Sub(at).Hours()/24)

	return ErrorBudget{
		SLOName:                    def.Name,
		SLOTarget:                  def.Target,
		WindowDays:                 def.WindowDays,
		CalculatedAt:               at,
		TotalEvents:                totalEvents,
		GoodEvents:                 goodEvents,
		BadEvents:                  badEvents,
		CurrentSLI:                 currentSLI,
		AllowedFailures:            allowedFailures,
		ConsumedFailures:           badEvents,
		RemainingBudget:            remainingBudget,
		BudgetConsumedPercent:      consumedPercent,
		Status:                     c.status(consumedPercent),
		TimeRemainingDays:          timeRemaining,
		ProjectedBudgetAtWindowEnd: projectBudget(remainingBudget, badEvents, timeRemaining, def.WindowDays),
	}, nil
}

// CalculateForPeriod calculates the budget for an explicit period, deriving
// an ad-hoc window from end − start (whole days, at least one) with the
// reference instant at end.
func (c *Calculator) CalculateForPeriod(def slo.Definition, samples []slo.Metric, start, end time.Time) (ErrorBudget, error) {
	periodDays := int(end.Sub(start).Hours() / 24)
	if periodDays < 1 {
		periodDays = 1
	}

	period := make([]slo.Metric, 0, len(samples))
	for _, m := range samples {
		if !m.Timestamp.Before(start) && !m.Timestamp.After(end) {
			period = append(period, m)
		}
	}

	temp := def
	temp.WindowDays = periodDays
	return c.Calculate(temp, period, end)
}

// CalculateMultiWindow runs the calculation once per requested window size,
// preserving input order. Result names carry the window size so consumers
// can tell the snapshots apart.
func (c *Calculator) CalculateMultiWindow(def slo.Definition, samples []slo.Metric, windowDays []int, at time.Time) ([]ErrorBudget, error) {
	budgets := make([]ErrorBudget, 0, len(windowDays))
	for _, days := range windowDays {
		temp := def
		temp.Name = fmt.Sprintf("%s (%dd)", def.Name, days)
		temp.WindowDays = days
		b, err := c.Calculate(temp, samples, at)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, nil
}

// DailyBudgets calculates one budget per trailing 24-hour slice, most
// recent day first. Days with no samples are skipped, not zero-filled.
func (c *Calculator) DailyBudgets(def slo.Definition, samples []slo.Metric, days int, at time.Time) ([]ErrorBudget, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now()
	}

	var budgets []ErrorBudget
	for offset := 0; offset < days; offset++ {
		dayEnd := at.Add(-time.Duration(offset) * 24 * time.Hour)
		dayStart := dayEnd.Add(-24 * time.Hour)

		var dayMetrics []slo.Metric
		for _, m := range samples {
			if !m.Timestamp.Before(dayStart) && !m.Timestamp.After(dayEnd) {
				dayMetrics = append(dayMetrics, m)
			}
		}
		if len(dayMetrics) == 0 {
			continue
		}

		temp := def
		temp.WindowDays = 1
		b, err := c.Calculate(temp, dayMetrics, dayEnd)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, nil
}

// status maps a consumption percentage onto the compliance scale.
func (c *Calculator) status(consumedPercent float64) slo.ComplianceStatus {
	switch {
	case consumedPercent >= c.breachedThreshold:
		return slo.StatusBreached
	case consumedPercent >= c.atRiskThreshold:
		return slo.StatusAtRisk
	default:
		return slo.StatusCompliant
	}
}

// projectBudget extrapolates the remaining budget to the window end from
// the consumption rate so far. With no time remaining the projection is
// the remaining budget itself. With no time elapsed the rate is undefined
// and the projection is omitted rather than defaulted.
func projectBudget(remaining float64, consumed int64, timeRemainingDays float64, windowDays int) *float64 {
	if timeRemainingDays <= 0 {
		return &remaining
	}

	elapsedDays := float64(windowDays) - timeRemainingDays
	if elapsedDays <= 0 {
		return nil
	}

	consumptionRate := float64(consumed) / elapsedDays
	projected := remaining - consumptionRate*timeRemainingDays
	return &projected
}

// validateDefinition re-checks the two fields the budget math depends on.
func validateDefinition(def slo.Definition) error {
	if def.WindowDays < 1 {
		return fmt.Errorf("slo %q: window_days must be at least 1, got %d", def.Name, def.WindowDays)
	}
	if def.Target < 0 || def.Target > 100 {
		return fmt.Errorf("slo %q: target must be between 0 and 100, got %v", def.Name, def.Target)
	}
	return nil
}
