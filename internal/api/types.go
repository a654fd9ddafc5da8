package api

import (
	"time"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/report"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/storage"
)

// HealthResponse is the liveness check body.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check body.
type ReadyResponse struct {
	Ready             bool     `json:"ready"`
	SLOsLoaded        int      `json:"slos_loaded"`
	EvaluationsCached int      `json:"evaluations_cached"`
	Reasons           []string `json:"reasons,omitempty"`
}

// SLOSummary is one row of the SLO listing: the definition essentials plus
// the latest cached evaluation, when one exists.
type SLOSummary struct {
	Service    string               `json:"service"`
	Name       string               `json:"name"`
	Type       slo.Type             `json:"type"`
	Target     float64              `json:"target"`
	WindowDays int                  `json:"window_days"`
	Status     slo.ComplianceStatus `json:"status"`
	CurrentSLI *float64             `json:"current_sli,omitempty"`
	UpdatedAt  *time.Time           `json:"updated_at,omitempty"`
}

// SLOListResponse lists every loaded definition.
type SLOListResponse struct {
	SLOs []SLOSummary `json:"slos"`
}

// SLODetailResponse is one SLO's definition plus its latest evaluation.
type SLODetailResponse struct {
	Definition slo.Definition      `json:"definition"`
	Budget     *budget.ErrorBudget `json:"error_budget,omitempty"`
	BurnRate   *burnrate.BurnRate  `json:"burn_rate,omitempty"`
	UpdatedAt  *time.Time          `json:"updated_at,omitempty"`
	Stale      bool                `json:"stale"`
}

// BudgetResponse carries one or more budget snapshots for an SLO: a single
// entry for the default window, one per requested window otherwise.
type BudgetResponse struct {
	Service string               `json:"service"`
	SLOName string               `json:"slo_name"`
	Budgets []budget.ErrorBudget `json:"budgets"`
}

// IncidentsResponse lists burn rate incidents reconstructed from history.
// Source names where the series came from: "persisted" when the evaluation
// history backed it, "recomputed" when it was derived from raw samples.
type IncidentsResponse struct {
	Service      string              `json:"service"`
	SLOName      string              `json:"slo_name"`
	HistoryHours float64             `json:"history_hours"`
	Source       string              `json:"source"`
	Incidents    []burnrate.Incident `json:"incidents"`
}

// ServiceInfo describes one service present in the sample store.
type ServiceInfo struct {
	Name        string     `json:"name"`
	Types       []slo.Type `json:"types"`
	SampleCount int        `json:"sample_count"`
}

// ServicesResponse lists the services with recorded samples.
type ServicesResponse struct {
	Services []ServiceInfo `json:"services"`
}

// SamplesRequest is the sample ingestion body. Samples without a timestamp
// are stamped on arrival.
type SamplesRequest struct {
	Samples []slo.Metric `json:"samples"`
}

// SamplesResponse acknowledges accepted samples.
type SamplesResponse struct {
	Accepted int `json:"accepted"`
}

// ClearResponse acknowledges a sample purge.
type ClearResponse struct {
	Cleared string `json:"cleared"`
}

// EvaluationsResponse pages through persisted evaluation snapshots.
type EvaluationsResponse struct {
	Evaluations []storage.EvaluationRecord `json:"evaluations"`
	Total       int                        `json:"total"`
}

// ReportsResponse carries per-service compliance reports.
type ReportsResponse struct {
	Reports []report.Report `json:"reports"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
