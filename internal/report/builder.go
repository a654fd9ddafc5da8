package report

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/store"
)

// Builder assembles compliance reports from a calculator and an analyzer.
// Like them it is stateless and safe for concurrent use.
type Builder struct {
	calc     *budget.Calculator
	analyzer *burnrate.Analyzer
}

// NewBuilder creates a report builder.
func NewBuilder(calc *budget.Calculator, analyzer *burnrate.Analyzer) *Builder {
	return &Builder{calc: calc, analyzer: analyzer}
}

// Build evaluates each definition against the caller's sample snapshot and
// rolls the results up. All definitions are evaluated from the same slice,
// so the caller decides what one consistent snapshot means.
func (b *Builder) Build(service string, defs []slo.Definition, samples []slo.Metric, at time.Time, opts Options) (Report, error) {
	if at.IsZero() {
		at = time.Now()
	}
	opts = opts.withDefaults()

	r := newReport(service, defs, at)
	for _, def := range defs {
		bud, rate, err := b.evaluate(def, samples, at, opts)
		if err != nil {
			return Report{}, err
		}
		r.add(def, bud, rate)
	}
	r.finish()
	return r, nil
}

// BuildForService evaluates a service's definitions against the given
// store, taking one history snapshot per definition (service and indicator
// type scoped) and feeding both the budget and the burn rate computation
// from that snapshot.
func (b *Builder) BuildForService(st *store.Store, service string, defs []slo.Definition, at time.Time, opts Options) (Report, error) {
	if at.IsZero() {
		at = time.Now()
	}
	opts = opts.withDefaults()

	r := newReport(service, defs, at)
	for _, def := range defs {
		samples := st.History(store.Query{Service: service, Type: def.Type, End: at})
		bud, rate, err := b.evaluate(def, samples, at, opts)
		if err != nil {
			return Report{}, err
		}
		r.add(def, bud, rate)
	}
	r.finish()
	return r, nil
}

// Sweep builds one report per service, in parallel. Evaluation of distinct
// SLOs is independent, so the fleet is an embarrassingly parallel map.
// Results are ordered by service name.
func (b *Builder) Sweep(st *store.Store, defs []slo.Definition, at time.Time, opts Options) ([]Report, error) {
	if at.IsZero() {
		at = time.Now()
	}

	grouped := slo.GroupByService(defs)
	services := make([]string, 0, len(grouped))
	for svc := range grouped {
		services = append(services, svc)
	}
	sort.Strings(services)

	reports := make([]Report, len(services))
	var g errgroup.Group
	for i, svc := range services {
		i, svc := i, svc
		g.Go(func() error {
			r, err := b.BuildForService(st, svc, grouped[svc], at, opts)
			if err != nil {
				return fmt.Errorf("service %s: %w", svc, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// evaluate runs both computations for one definition over one snapshot.
func (b *Builder) evaluate(def slo.Definition, samples []slo.Metric, at time.Time, opts Options) (budget.ErrorBudget, burnrate.BurnRate, error) {
	bud, err := b.calc.Calculate(def, samples, at)
	if err != nil {
		return budget.ErrorBudget{}, burnrate.BurnRate{}, fmt.Errorf("calculate budget for %s: %w", def.Key(), err)
	}
	rate, err := b.analyzer.MultiWindowAnalyze(def, samples, opts.ShortWindowHours, opts.LongWindowHours, at)
	if err != nil {
		return budget.ErrorBudget{}, burnrate.BurnRate{}, fmt.Errorf("analyze burn rate for %s: %w", def.Key(), err)
	}
	return bud, rate, nil
}

// newReport seeds the rollup. The report period spans the longest SLO
// window ending at the reference instant.
func newReport(service string, defs []slo.Definition, at time.Time) Report {
	maxWindowDays := 0
	for _, def := range defs {
		if def.WindowDays > maxWindowDays {
			maxWindowDays = def.WindowDays
		}
	}

	return Report{
		ServiceName:       service,
		GeneratedAt:       at,
		PeriodStart:       at.Add(-time.Duration(maxWindowDays) * 24 * time.Hour),
		PeriodEnd:         at,
		OverallCompliance: slo.StatusUnknown,
	}
}

// add folds one SLO's results into the rollup.
func (r *Report) add(def slo.Definition, bud budget.ErrorBudget, rate burnrate.BurnRate) {
	r.Definitions = append(r.Definitions, def)
	r.ErrorBudgets = append(r.ErrorBudgets, bud)
	r.BurnRates = append(r.BurnRates, rate)
	r.TotalSLOs++

	switch bud.Status {
	case slo.StatusCompliant:
		r.SLOsCompliant++
	case slo.StatusAtRisk:
		r.SLOsAtRisk++
	case slo.StatusBreached:
		r.SLOsBreached++
	}

	if r.TotalSLOs == 1 {
		r.OverallCompliance = bud.Status
	} else {
		r.OverallCompliance = slo.WorstStatus(r.OverallCompliance, bud.Status)
	}

	if rate.IsCritical {
		r.CriticalAlerts = append(r.CriticalAlerts, fmt.Sprintf(
			"%s: critical burn rate (%.1fx) across both windows", def.Name, rate.Rate))
	}
	if bud.Status == slo.StatusBreached {
		r.CriticalAlerts = append(r.CriticalAlerts, fmt.Sprintf(
			"%s: error budget exhausted (%.1f%% consumed)", def.Name, bud.BudgetConsumedPercent))
	}
	if rate.IsWarning {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"%s: elevated burn rate (%.1fx) across both windows", def.Name, rate.Rate))
	}
	if bud.Status == slo.StatusAtRisk {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"%s: %.1f%% of error budget consumed", def.Name, bud.BudgetConsumedPercent))
	}

	r.Recommendations = append(r.Recommendations, rate.Recommendations...)
}

// finish derives the aggregate fields once all SLOs are folded in.
func (r *Report) finish() {
	if r.TotalSLOs == 0 {
		r.CompliancePercentage = 100.0
		return
	}
	r.CompliancePercentage = float64(r.SLOsCompliant) / float64(r.TotalSLOs) * 100.0
	r.Recommendations = dedupe(r.Recommendations)
}

// dedupe removes duplicate strings preserving first-seen order.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
