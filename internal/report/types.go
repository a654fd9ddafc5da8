package report

import (
	"time"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/slo"
)

// Options control how a report evaluates its SLOs.
type Options struct {
	ShortWindowHours float64
	LongWindowHours  float64
}

// DefaultOptions returns the standard 1h/6h multi-window pair.
func DefaultOptions() Options {
	return Options{ShortWindowHours: 1, LongWindowHours: 6}
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ShortWindowHours <= 0 {
		o.ShortWindowHours = def.ShortWindowHours
	}
	if o.LongWindowHours <= 0 {
		o.LongWindowHours = def.LongWindowHours
	}
	return o
}

// Report is the compliance rollup for one service: every SLO's budget and
// burn rate plus grouped counts. It performs no computation of its own
// beyond grouping and counting.
type Report struct {
	ServiceName string    `json:"service_name"`
	GeneratedAt time.Time `json:"generated_at"`
	PeriodStart time.Time `json:"report_period_start"`
	PeriodEnd   time.Time `json:"report_period_end"`

	Definitions []slo.Definition `json:"slo_definitions"`

	// Index-aligned with Definitions: budgets[i] and burnRates[i] belong
	// to definitions[i].
	ErrorBudgets []budget.ErrorBudget `json:"error_budgets"`
	BurnRates    []burnrate.BurnRate  `json:"burn_rates"`

	OverallCompliance    slo.ComplianceStatus `json:"overall_compliance"`
	TotalSLOs            int                  `json:"total_slos"`
	SLOsCompliant        int                  `json:"slos_compliant"`
	SLOsAtRisk           int                  `json:"slos_at_risk"`
	SLOsBreached         int                  `json:"slos_breached"`
	CompliancePercentage float64              `json:"compliance_percentage"`

	CriticalAlerts  []string `json:"critical_alerts,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}
