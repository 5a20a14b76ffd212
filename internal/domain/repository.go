// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require organizationID for strict per-organization isolation.
type Repository interface {
	// Customer trust records
	GetTrustRecord(ctx context.Context, orgID string, customerID string) (*TrustRecord, error)
	UpsertTrustRecord(ctx context.Context, orgID string, record *TrustRecord) error

	// Card-testing trackers. SaveTracker is a conditional write: it succeeds
	// only when the stored version equals expectedVersion (0 = must not exist)
	// and returns ErrVersionConflict otherwise.
	GetTracker(ctx context.Context, key TrackerKey) (*CardTestingTracker, error)
	SaveTracker(ctx context.Context, tracker *CardTestingTracker, expectedVersion int64) error

	// Operator-defined fraud rules
	SaveFraudRule(ctx context.Context, orgID string, rule *FraudRule) error
	GetFraudRule(ctx context.Context, orgID string, ruleID string) (*FraudRule, error)
	ListFraudRules(ctx context.Context, orgID string) ([]*FraudRule, error) // enabled, ascending priority
	DeleteFraudRule(ctx context.Context, orgID string, ruleID string) error

	// Assessment audit history
	SaveAssessment(ctx context.Context, orgID string, a *Assessment) error
	GetAssessment(ctx context.Context, orgID string, assessmentID string) (*Assessment, error)
	// SaveAssessmentOutcome stores a's ActualOutcome only while the stored
	// outcome still equals previous, and returns ErrVersionConflict otherwise.
	SaveAssessmentOutcome(ctx context.Context, orgID string, a *Assessment, previous ActualOutcome) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
