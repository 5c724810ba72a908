package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    fraud_risk_score REAL NOT NULL,
    is_flagged INTEGER NOT NULL,
    reasons TEXT NOT NULL,
    anomaly_score REAL NOT NULL,
    features TEXT NOT NULL,
    transaction_data TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_flagged ON predictions(is_flagged);
CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    prediction_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    reasons TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_prediction ON alerts(prediction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPredictions,
		schemaAlerts,
	}
}
