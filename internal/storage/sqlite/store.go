package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/storage"
)

// Store implements storage.HistoryStore using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.HistoryStore = (*Store)(nil)

// NewStore opens (creating if needed) the database at dbPath and runs the
// schema migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Evaluation loops write concurrently; wait for the lock instead of
	// failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveEvaluation appends to the history and upserts the latest row, in one
// transaction so the two tables cannot diverge.
func (s *Store) SaveEvaluation(rec storage.EvaluationRecord) error {
	budgetJSON, err := json.Marshal(rec.Budget)
	if err != nil {
		return fmt.Errorf("failed to marshal budget: %w", err)
	}
	burnJSON, err := json.Marshal(rec.BurnRate)
	if err != nil {
		return fmt.Errorf("failed to marshal burn rate: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO evaluations (
			service, slo_name, status, severity, current_sli,
			budget_consumed, burn_rate, budget_json, burn_json, evaluated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Service,
		rec.SLOName,
		string(rec.Status),
		string(rec.Severity),
		rec.Budget.CurrentSLI,
		rec.Budget.BudgetConsumedPercent,
		rec.BurnRate.Rate,
		string(budgetJSON),
		string(burnJSON),
		rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store evaluation: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO latest_evaluations (
			service, slo_name, status, severity, current_sli,
			budget_consumed, burn_rate, budget_json, burn_json, evaluated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service, slo_name) DO UPDATE SET
			status = excluded.status,
			severity = excluded.severity,
			current_sli = excluded.current_sli,
			budget_consumed = excluded.budget_consumed,
			burn_rate = excluded.burn_rate,
			budget_json = excluded.budget_json,
			burn_json = excluded.burn_json,
			evaluated_at = excluded.evaluated_at,
			updated_at = CURRENT_TIMESTAMP
	`,
		rec.Service,
		rec.SLOName,
		string(rec.Status),
		string(rec.Severity),
		rec.Budget.CurrentSLI,
		rec.Budget.BudgetConsumedPercent,
		rec.BurnRate.Rate,
		string(budgetJSON),
		string(burnJSON),
		rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update latest evaluation: %w", err)
	}

	return tx.Commit()
}

// Evaluations retrieves snapshots with optional filtering, newest first.
func (s *Store) Evaluations(f storage.Filter) ([]storage.EvaluationRecord, error) {
	query := `
		SELECT id, service, slo_name, status, severity,
		       budget_json, burn_json, evaluated_at, created_at
		FROM evaluations
		WHERE 1=1
	`
	args := []interface{}{}

	if f.Service != "" {
		query += " AND service = ?"
		args = append(args, f.Service)
	}
	if f.SLOName != "" {
		query += " AND slo_name = ?"
		args = append(args, f.SLOName)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		query += " AND evaluated_at >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += " AND evaluated_at <= ?"
		args = append(args, f.Until)
	}

	query += " ORDER BY evaluated_at DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	} else {
		query += " LIMIT 100" // default limit
	}
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var records []storage.EvaluationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// Latest retrieves the most recent snapshot for one SLO. Returns nil, nil
// when the SLO has never been evaluated.
func (s *Store) Latest(service, name string) (*storage.EvaluationRecord, error) {
	row := s.db.QueryRow(`
		SELECT service, slo_name, status, severity,
		       budget_json, burn_json, evaluated_at, updated_at
		FROM latest_evaluations
		WHERE service = ? AND slo_name = ?
	`, service, name)

	rec, err := scanLatest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestByService retrieves each SLO's most recent snapshot, ordered by
// service then SLO name.
func (s *Store) LatestByService(service string) ([]storage.EvaluationRecord, error) {
	query := `
		SELECT service, slo_name, status, severity,
		       budget_json, burn_json, evaluated_at, updated_at
		FROM latest_evaluations
	`
	args := []interface{}{}
	if service != "" {
		query += " WHERE service = ?"
		args = append(args, service)
	}
	query += " ORDER BY service, slo_name"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest evaluations: %w", err)
	}
	defer rows.Close()

	var records []storage.EvaluationRecord
	for rows.Next() {
		rec, err := scanLatest(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// BurnRateSeries retrieves one SLO's burn rate snapshots since the given
// instant, oldest first.
func (s *Store) BurnRateSeries(service, name string, since time.Time) ([]burnrate.BurnRate, error) {
	rows, err := s.db.Query(`
		SELECT burn_json
		FROM evaluations
		WHERE service = ? AND slo_name = ? AND evaluated_at >= ?
		ORDER BY evaluated_at ASC
	`, service, name, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query burn rate series: %w", err)
	}
	defer rows.Close()

	var series []burnrate.BurnRate
	for rows.Next() {
		var burnJSON string
		if err := rows.Scan(&burnJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var rate burnrate.BurnRate
		if err := json.Unmarshal([]byte(burnJSON), &rate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal burn rate: %w", err)
		}
		series = append(series, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return series, nil
}

// Prune deletes history rows evaluated before the cutoff. The latest
// table is untouched: the newest snapshot stays queryable however old.
func (s *Store) Prune(before time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM evaluations WHERE evaluated_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune evaluations: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord decodes a history row (with id and created_at).
func scanRecord(sc scanner) (storage.EvaluationRecord, error) {
	var rec storage.EvaluationRecord
	var status, severity, budgetJSON, burnJSON string

	err := sc.Scan(
		&rec.ID,
		&rec.Service,
		&rec.SLOName,
		&status,
		&severity,
		&budgetJSON,
		&burnJSON,
		&rec.EvaluatedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return storage.EvaluationRecord{}, fmt.Errorf("failed to scan row: %w", err)
	}

	return decodeRecord(rec, status, severity, budgetJSON, burnJSON)
}

// scanLatest decodes a latest row (keyed by SLO, updated_at instead of
// created_at).
func scanLatest(sc scanner) (storage.EvaluationRecord, error) {
	var rec storage.EvaluationRecord
	var status, severity, budgetJSON, burnJSON string

	err := sc.Scan(
		&rec.Service,
		&rec.SLOName,
		&status,
		&severity,
		&budgetJSON,
		&burnJSON,
		&rec.EvaluatedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return storage.EvaluationRecord{}, err
	}

	return decodeRecord(rec, status, severity, budgetJSON, burnJSON)
}

func decodeRecord(rec storage.EvaluationRecord, status, severity, budgetJSON, burnJSON string) (storage.EvaluationRecord, error) {
	parsedStatus, err := slo.ParseComplianceStatus(status)
	if err != nil {
		return storage.EvaluationRecord{}, err
	}
	rec.Status = parsedStatus

	parsedSeverity, err := slo.ParseSeverity(severity)
	if err != nil {
		return storage.EvaluationRecord{}, err
	}
	rec.Severity = parsedSeverity

	if err := json.Unmarshal([]byte(budgetJSON), &rec.Budget); err != nil {
		return storage.EvaluationRecord{}, fmt.Errorf("failed to unmarshal budget: %w", err)
	}
	if err := json.Unmarshal([]byte(burnJSON), &rec.BurnRate); err != nil {
		return storage.EvaluationRecord{}, fmt.Errorf("failed to unmarshal burn rate: %w", err)
	}
	return rec, nil
}
