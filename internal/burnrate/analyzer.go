package burnrate

import (
	"fmt"
	"time"

	"github.com/rpeltola/slostat/internal/slo"
)

// Analyzer computes burn rates. It is pure and stateless: safe for
// concurrent use without synchronization.
type Analyzer struct {
	criticalThreshold float64
	warningThreshold  float64
}

// New creates an analyzer with the given thresholds.
func New(cfg Config) (*Analyzer, error) {
	if cfg.WarningThreshold <= 0 {
		return nil, fmt.Errorf("warning threshold must be positive, got %v", cfg.WarningThreshold)
	}
	if cfg.CriticalThreshold <= 0 {
		return nil, fmt.Errorf("critical threshold must be positive, got %v", cfg.CriticalThreshold)
	}
	if cfg.WarningThreshold > cfg.CriticalThreshold {
		return nil, fmt.Errorf("warning threshold (%v) must not exceed critical threshold (%v)",
			cfg.WarningThreshold, cfg.CriticalThreshold)
	}
	return &Analyzer{
		criticalThreshold: cfg.CriticalThreshold,
		warningThreshold:  cfg.WarningThreshold,
	}, nil
}

// Analyze computes the burn rate for one sliding window ending at the
// reference instant. A zero at means "now". Empty windows are not an
// error: all rates default to zero and severity to none.
func (a *Analyzer) Analyze(def slo.Definition, samples []slo.Metric, windowHours float64, at time.Time) (BurnRate, error) {
	if windowHours <= 0 {
		return BurnRate{}, fmt.Errorf("window hours must be positive, got %v", windowHours)
	}
	if err := validateDefinition(def); err != nil {
		return BurnRate{}, err
	}
	if at.IsZero() {
		at = time.Now()
	}

	windowStart := at.Add(-durationFromHours(windowHours))

	var totalEvents, goodEvents int64
	for _, m := range samples {
		if m.Timestamp.Before(windowStart) || m.Timestamp.After(at) {
			continue
		}
		totalEvents += m.TotalEvents
		goodEvents += m.GoodEvents
	}
	badEvents := totalEvents - goodEvents

	errorBudgetFraction := def.ErrorBudgetFraction()
	sloWindowHours := def.WindowHours()

	// The share of the whole budget that sustainable consumption would
	// spend in this sub-window.
	expectedBudgetInWindow := windowHours / sloWindowHours

	var actualFailureRate float64
	if totalEvents > 0 {
		actualFailureRate = float64(badEvents) / float64(totalEvents)
	}

	var actualBudgetConsumed float64
	if errorBudgetFraction > 0 {
		actualBudgetConsumed = actualFailureRate / errorBudgetFraction
	}

	var rate float64
	if expectedBudgetInWindow > 0 {
		rate = actualBudgetConsumed / expectedBudgetInWindow
	}

	timeToExhaustion := timeToExhaustionHours(rate, sloWindowHours)

	isCritical := rate >= a.criticalThreshold
	isWarning := !isCritical && rate >= a.warningThreshold

	return BurnRate{
		SLOName:                def.Name,
		CalculatedAt:           at,
		WindowHours:            windowHours,
		Rate:                   rate,
		BudgetConsumedInWindow: actualBudgetConsumed * 100,
		AlertSeverity:          a.severity(rate),
		TimeToExhaustionHours:  timeToExhaustion,
		IsCritical:             isCritical,
		IsWarning:              isWarning,
		Recommendations:        a.recommendations(rate, isCritical, isWarning, timeToExhaustion),
	}, nil
}

// MultiWindowAnalyze runs the single-window analysis for a short and a long
// window over the same samples and requires both to cross a threshold
// before raising that severity. The conjunction suppresses false alerts
// from brief spikes that only register in the short window. The long
// window's figures are carried as the primary result.
func (a *Analyzer) MultiWindowAnalyze(def slo.Definition, samples []slo.Metric, shortHours, longHours float64, at time.Time) (BurnRate, error) {
	if at.IsZero() {
		at = time.Now()
	}

	short, err := a.Analyze(def, samples, shortHours, at)
	if err != nil {
		return BurnRate{}, err
	}
	long, err := a.Analyze(def, samples, longHours, at)
	if err != nil {
		return BurnRate{}, err
	}

	isCritical := short.Rate >= a.criticalThreshold && long.Rate >= a.criticalThreshold
	isWarning := !isCritical &&
		short.Rate >= a.warningThreshold && long.Rate >= a.warningThreshold

	severity := slo.SeverityNone
	if isCritical {
		severity = slo.SeverityCritical
	} else if isWarning {
		severity = slo.SeverityWarning
	}

	shortRate := short.Rate
	longRate := long.Rate

	return BurnRate{
		SLOName:                def.Name,
		CalculatedAt:           at,
		WindowHours:            longHours,
		Rate:                   long.Rate,
		RateShort:              &shortRate,
		RateLong:               &longRate,
		BudgetConsumedInWindow: long.BudgetConsumedInWindow,
		AlertSeverity:          severity,
		TimeToExhaustionHours:  long.TimeToExhaustionHours,
		IsCritical:             isCritical,
		IsWarning:              isWarning,
		Recommendations:        a.multiWindowRecommendations(short.Rate, long.Rate, isCritical, isWarning),
	}, nil
}

// AnalyzeHistory recomputes the single-window burn rate at each past tick,
// from at − historyHours to at inclusive, stepping stepHours. The result is
// chronological and feeds DetectIncidents.
func (a *Analyzer) AnalyzeHistory(def slo.Definition, samples []slo.Metric, windowHours, historyHours, stepHours float64, at time.Time) ([]BurnRate, error) {
	if stepHours <= 0 {
		return nil, fmt.Errorf("step hours must be positive, got %v", stepHours)
	}
	if at.IsZero() {
		at = time.Now()
	}

	start := at.Add(-durationFromHours(historyHours))
	step := durationFromHours(stepHours)

	var results []BurnRate
	for tick := start; !tick.After(at); tick = tick.Add(step) {
		result, err := a.Analyze(def, samples, windowHours, tick)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// severity maps a burn rate onto the alerting scale.
func (a *Analyzer) severity(rate float64) slo.Severity {
	switch {
	case rate >= a.criticalThreshold:
		return slo.SeverityCritical
	case rate >= a.warningThreshold:
		return slo.SeverityWarning
	case rate > sustainableRate:
		return slo.SeverityElevated
	default:
		return slo.SeverityNone
	}
}

// timeToExhaustionHours returns how long the budget lasts at the given
// rate. Nil at or below the sustainable rate: the budget replenishes as
// fast as it burns, so no finite exhaustion time exists.
func timeToExhaustionHours(rate, sloWindowHours float64) *float64 {
	if rate <= sustainableRate {
		return nil
	}
	hours := sloWindowHours / rate
	return &hours
}

func (a *Analyzer) recommendations(rate float64, isCritical, isWarning bool, timeToExhaustion *float64) []string {
	var recs []string

	switch {
	case isCritical:
		recs = append(recs, fmt.Sprintf(
			"CRITICAL: error budget burning at %.1fx the sustainable rate. Immediate action required.", rate))
		if timeToExhaustion != nil {
			recs = append(recs, fmt.Sprintf(
				"Budget will be exhausted in approximately %.1f hours at the current rate.", *timeToExhaustion))
		}
		recs = append(recs,
			"Review recent deployments, roll back if necessary, and investigate error sources.")
	case isWarning:
		recs = append(recs, fmt.Sprintf(
			"Warning: error budget burning at %.1fx the sustainable rate. Investigation recommended.", rate))
		recs = append(recs,
			"Open a ticket to investigate elevated error rates before the budget is exhausted.")
	case rate > sustainableRate:
		recs = append(recs, fmt.Sprintf(
			"Error budget consumption elevated at %.1fx the sustainable rate. Monitor closely.", rate))
	}

	return recs
}

func (a *Analyzer) multiWindowRecommendations(shortRate, longRate float64, isCritical, isWarning bool) []string {
	var recs []string

	switch {
	case isCritical:
		recs = append(recs, fmt.Sprintf(
			"CRITICAL: both short (%.1fx) and long (%.1fx) windows show critical burn rate. Page on-call immediately.",
			shortRate, longRate))
	case isWarning:
		recs = append(recs, fmt.Sprintf(
			"Warning: both windows show elevated burn rate (short %.1fx, long %.1fx). Open a ticket for investigation.",
			shortRate, longRate))
	case shortRate >= a.warningThreshold && longRate < a.warningThreshold:
		recs = append(recs, fmt.Sprintf(
			"Short window burn rate elevated (%.1fx) but long window still acceptable (%.1fx). Monitor for persistence.",
			shortRate, longRate))
	case shortRate < longRate && longRate > sustainableRate:
		recs = append(recs, "Burn rate improving recently. Continue monitoring recovery.")
	}

	return recs
}

// durationFromHours converts fractional hours to a duration.
func durationFromHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// validateDefinition re-checks the two fields the burn math depends on.
func validateDefinition(def slo.Definition) error {
	if def.WindowDays < 1 {
		return fmt.Errorf("slo %q: window_days must be at least 1, got %d", def.Name, def.WindowDays)
	}
	if def.Target < 0 || def.Target > 100 {
		return fmt.Errorf("slo %q: target must be between 0 and 100, got %v", def.Name, def.Target)
	}
	return nil
}
