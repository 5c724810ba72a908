// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SavePrediction stores a scored prediction.
func (r *SQLRepository) SavePrediction(ctx context.Context, p *domain.Prediction) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: prediction ID is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(p.Reasons)
	features, _ := json.Marshal(p.Features)
	txData, _ := json.Marshal(p.Transaction)

	flagged := 0
	if p.IsFlagged {
		flagged = 1
	}

	query := `
		INSERT INTO predictions (
			id, fraud_risk_score, is_flagged, reasons,
			anomaly_score, features, transaction_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.FraudRiskScore, flagged, string(reasons),
		p.AnomalyScore, string(features), string(txData), p.CreatedAt,
	)
	return err
}

// GetPrediction retrieves a prediction by ID.
func (r *SQLRepository) GetPrediction(ctx context.Context, id string) (*domain.Prediction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: prediction ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, fraud_risk_score, is_flagged, reasons,
			   anomaly_score, features, transaction_data, created_at
		FROM predictions
		WHERE id = ?
	`

	p, err := scanPrediction(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPredictions retrieves the most recent predictions.
func (r *SQLRepository) ListPredictions(ctx context.Context, limit int) ([]*domain.Prediction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, fraud_risk_score, is_flagged, reasons,
			   anomaly_score, features, transaction_data, created_at
		FROM predictions
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

// SaveAlert stores an alert raised for a flagged prediction.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: alert ID is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(a.Reasons)

	query := `
		INSERT INTO alerts (
			id, prediction_id, risk_score, reasons, created_at
		) VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.PredictionID, a.RiskScore, string(reasons), a.CreatedAt,
	)
	return err
}

// ListAlerts retrieves the most recent alerts.
func (r *SQLRepository) ListAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, prediction_id, risk_score, reasons, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var reasons string

		if err := rows.Scan(&a.ID, &a.PredictionID, &a.RiskScore, &reasons, &a.CreatedAt); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(reasons), &a.Reasons)
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*domain.Prediction, error) {
	var p domain.Prediction
	var flagged int
	var reasons, features, txData string

	err := row.Scan(
		&p.ID, &p.FraudRiskScore, &flagged, &reasons,
		&p.AnomalyScore, &features, &txData, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.IsFlagged = flagged == 1
	json.Unmarshal([]byte(reasons), &p.Reasons)
	json.Unmarshal([]byte(features), &p.Features)
	if txData != "" && txData != "null" {
		json.Unmarshal([]byte(txData), &p.Transaction)
	}

	return &p, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
