package sqlite

// Schema defines the SQLite database schema.
const Schema = `
-- Append-only evaluation history. Scalar columns carry the queryable
-- dimensions; the full snapshots live in the JSON columns.
CREATE TABLE IF NOT EXISTS evaluations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	slo_name TEXT NOT NULL,
	status TEXT NOT NULL,
	severity TEXT NOT NULL,
	current_sli REAL NOT NULL,
	budget_consumed REAL NOT NULL,
	burn_rate REAL NOT NULL,
	budget_json TEXT NOT NULL,
	burn_json TEXT NOT NULL,
	evaluated_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_evaluations_slo ON evaluations(service, slo_name);
CREATE INDEX IF NOT EXISTS idx_evaluations_status ON evaluations(status);
CREATE INDEX IF NOT EXISTS idx_evaluations_evaluated_at ON evaluations(evaluated_at DESC);

-- Latest snapshot per SLO, upserted on every evaluation. Never pruned.
CREATE TABLE IF NOT EXISTS latest_evaluations (
	service TEXT NOT NULL,
	slo_name TEXT NOT NULL,
	status TEXT NOT NULL,
	severity TEXT NOT NULL,
	current_sli REAL NOT NULL,
	budget_consumed REAL NOT NULL,
	burn_rate REAL NOT NULL,
	budget_json TEXT NOT NULL,
	burn_json TEXT NOT NULL,
	evaluated_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (service, slo_name)
);

CREATE INDEX IF NOT EXISTS idx_latest_evaluations_service ON latest_evaluations(service);
`
