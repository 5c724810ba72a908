package domain

import (
	"context"
	"time"
)

// Repository defines the interface for prediction persistence.
type Repository interface {
	// Prediction operations
	SavePrediction(ctx context.Context, p *Prediction) error
	GetPrediction(ctx context.Context, id string) (*Prediction, error)
	ListPredictions(ctx context.Context, limit int) ([]*Prediction, error)

	// Alert operations
	SaveAlert(ctx context.Context, a *Alert) error
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
