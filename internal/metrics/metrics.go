package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/store"
)

const namespace = "slostat"

// Window label values for the burn rate gauge.
const (
	WindowShort = "short"
	WindowLong  = "long"
)

// Set holds the engine's Prometheus collectors on a dedicated registry, so
// the engine's own SLO arithmetic is observable by the same machinery it
// consumes.
type Set struct {
	registry *prometheus.Registry

	sliCurrent      *prometheus.GaugeVec
	budgetConsumed  *prometheus.GaugeVec
	budgetRemaining *prometheus.GaugeVec
	burnRate        *prometheus.GaugeVec
	alertSeverity   *prometheus.GaugeVec
	evaluations     *prometheus.CounterVec
	scrapeFailures  *prometheus.CounterVec
	samplesIngested *prometheus.CounterVec
}

// NewSet creates a registry and registers all collectors on it, plus the
// standard Go and process collectors.
func NewSet() *Set {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Set{
		registry: registry,

		sliCurrent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sli_current",
				Help:      "Current service level indicator over the SLO window, in percent.",
			},
			[]string{"service", "slo"},
		),
		budgetConsumed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "budget_consumed_percent",
				Help:      "Share of the error budget consumed, in percent (may exceed 100).",
			},
			[]string{"service", "slo"},
		),
		budgetRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "budget_remaining",
				Help:      "Remaining error budget in events (negative when overspent).",
			},
			[]string{"service", "slo"},
		),
		burnRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "burn_rate",
				Help:      "Error budget burn rate as a multiple of the sustainable rate.",
			},
			[]string{"service", "slo", "window"},
		),
		alertSeverity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alert_severity",
				Help:      "Current alert severity: 0 none, 1 elevated, 2 warning, 3 critical.",
			},
			[]string{"service", "slo"},
		),
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Completed SLO evaluations by resulting compliance status.",
			},
			[]string{"status"},
		),
		scrapeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scrape_failures_total",
				Help:      "Failed scrape cycles by target, counted after retries were exhausted.",
			},
			[]string{"target"},
		),
		samplesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_ingested_total",
				Help:      "Indicator samples accepted into the store, by source.",
			},
			[]string{"source"},
		),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}

// ObserveEvaluation publishes one evaluation's results.
func (s *Set) ObserveEvaluation(service, name string, bud budget.ErrorBudget, rate burnrate.BurnRate) {
	labels := prometheus.Labels{"service": service, "slo": name}

	s.sliCurrent.With(labels).Set(bud.CurrentSLI)
	s.budgetConsumed.With(labels).Set(bud.BudgetConsumedPercent)
	s.budgetRemaining.With(labels).Set(bud.RemainingBudget)
	s.alertSeverity.With(labels).Set(severityValue(rate.AlertSeverity))
	s.evaluations.WithLabelValues(string(bud.Status)).Inc()

	if rate.RateShort != nil {
		s.burnRate.WithLabelValues(service, name, WindowShort).Set(*rate.RateShort)
	}
	if rate.RateLong != nil {
		s.burnRate.WithLabelValues(service, name, WindowLong).Set(*rate.RateLong)
	} else {
		s.burnRate.WithLabelValues(service, name, WindowLong).Set(rate.Rate)
	}
}

// ForgetSLO drops an SLO's gauge series, for definitions removed on reload.
func (s *Set) ForgetSLO(service, name string) {
	labels := prometheus.Labels{"service": service, "slo": name}
	s.sliCurrent.Delete(labels)
	s.budgetConsumed.Delete(labels)
	s.budgetRemaining.Delete(labels)
	s.alertSeverity.Delete(labels)
	s.burnRate.DeletePartialMatch(labels)
}

// ObserveScrapeFailure counts one exhausted scrape cycle for a target.
func (s *Set) ObserveScrapeFailure(target string) {
	s.scrapeFailures.WithLabelValues(target).Inc()
}

// ObserveIngest counts samples accepted into the store.
func (s *Set) ObserveIngest(source string, n int) {
	if n <= 0 {
		return
	}
	s.samplesIngested.WithLabelValues(source).Add(float64(n))
}

// RegisterStoreGauges exposes the sample store's occupancy. Separate from
// NewSet because the store is constructed independently.
func (s *Set) RegisterStoreGauges(st *store.Store) {
	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_samples",
			Help:      "Indicator samples currently held in the in-memory store.",
		},
		func() float64 { return float64(st.Count(store.Query{})) },
	))
	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_services",
			Help:      "Distinct services with samples in the in-memory store.",
		},
		func() float64 { return float64(len(st.Services())) },
	))
}

// severityValue maps severities onto a monotone scale for alert rules.
func severityValue(sev slo.Severity) float64 {
	switch sev {
	case slo.SeverityElevated:
		return 1
	case slo.SeverityWarning:
		return 2
	case slo.SeverityCritical:
		return 3
	default:
		return 0
	}
}
