package storage

import (
	"time"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/slo"
)

// EvaluationRecord is one persisted evaluation: the budget and burn rate
// snapshots produced for one SLO at one instant.
type EvaluationRecord struct {
	ID          int64                `json:"id"`
	Service     string               `json:"service"`
	SLOName     string               `json:"slo_name"`
	Status      slo.ComplianceStatus `json:"status"`
	Severity    slo.Severity         `json:"severity"`
	Budget      budget.ErrorBudget   `json:"error_budget"`
	BurnRate    burnrate.BurnRate    `json:"burn_rate"`
	EvaluatedAt time.Time            `json:"evaluated_at"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Filter selects evaluation records. Zero values match everything for
// their dimension.
type Filter struct {
	Service string
	SLOName string
	Status  slo.ComplianceStatus
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// HistoryStore persists evaluation snapshots so budget history, burn rate
// series and incident reconstruction survive restarts.
type HistoryStore interface {
	// SaveEvaluation appends a snapshot and updates the SLO's latest row.
	SaveEvaluation(rec EvaluationRecord) error

	// Evaluations returns matching snapshots, newest first.
	Evaluations(f Filter) ([]EvaluationRecord, error)

	// Latest returns the most recent snapshot for one SLO, or nil when
	// the SLO has never been evaluated.
	Latest(service, name string) (*EvaluationRecord, error)

	// LatestByService returns each SLO's most recent snapshot, ordered by
	// service then SLO name. An empty service matches all services.
	LatestByService(service string) ([]EvaluationRecord, error)

	// BurnRateSeries returns the burn rate snapshots for one SLO since
	// the given instant, oldest first. The series feeds incident
	// reconstruction.
	BurnRateSeries(service, name string, since time.Time) ([]burnrate.BurnRate, error)

	// Prune deletes snapshots evaluated before the cutoff and reports how
	// many rows were removed. Latest rows are kept regardless of age.
	Prune(before time.Time) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
