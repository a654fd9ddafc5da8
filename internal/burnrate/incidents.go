package burnrate

import (
	"sort"
	"time"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/slo"
)

// DetectIncidents reconstructs discrete incidents from a sequence of burn
// rate snapshots (one per evaluation tick). A tick with the critical or
// warning flag opens an incident or upgrades an open one from warning to
// critical; severity never downgrades mid-incident. A quiet tick closes the
// open incident, which is kept only when it lasted at least
// minDurationHours; shorter blips are noise. An incident still open when
// the history ends is incomplete and is not emitted.
func (a *Analyzer) DetectIncidents(history []BurnRate, minDurationHours float64) []Incident {
	sorted := make([]BurnRate, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CalculatedAt.Before(sorted[j].CalculatedAt)
	})

	var incidents []Incident
	var openStart *time.Time
	var openSeverity slo.Severity

	for _, tick := range sorted {
		if tick.IsCritical || tick.IsWarning {
			severity := slo.SeverityWarning
			if tick.IsCritical {
				severity = slo.SeverityCritical
			}
			if openStart == nil {
				start := tick.CalculatedAt
				openStart = &start
				openSeverity = severity
			} else if severity == slo.SeverityCritical && openSeverity == slo.SeverityWarning {
				openSeverity = severity
			}
			continue
		}

		if openStart != nil {
			durationHours := tick.CalculatedAt.Sub(*openStart).Hours()
			if durationHours >= minDurationHours {
				incidents = append(incidents, Incident{
					StartTime: *openStart,
					EndTime:   tick.CalculatedAt,
					Severity:  openSeverity,
				})
			}
			openStart = nil
			openSeverity = ""
		}
	}

	return incidents
}

// ForecastExhaustion returns the instant the error budget runs out at the
// observed burn rate, or nil when the budget is safe (rate at or below
// sustainable, or no finite exhaustion time).
func (a *Analyzer) ForecastExhaustion(current budget.ErrorBudget, rate BurnRate) *time.Time {
	if rate.Rate <= sustainableRate {
		return nil
	}
	if rate.TimeToExhaustionHours == nil {
		return nil
	}

	exhaustion := rate.CalculatedAt.Add(durationFromHours(*rate.TimeToExhaustionHours))
	return &exhaustion
}
