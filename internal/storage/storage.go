package storage

import (
	"context"
	"time"

	"pingcounter/internal/storage/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Probe operations
	RecordProbe(ctx context.Context, probe *models.ProbeRecord) error
	GetLatestProbe(ctx context.Context, counter string) (*models.ProbeRecord, error)
	GetProbeHistory(ctx context.Context, counter string, limit int) ([]*models.ProbeRecord, error)
	PruneProbes(ctx context.Context, before time.Time) (int64, error)

	// Alert operations. An empty counter name selects every counter.
	RecordAlert(ctx context.Context, event *models.AlertEvent) error
	GetAlertHistory(ctx context.Context, counter string, limit int) ([]*models.AlertEvent, error)

	// GetCounterNames lists every counter that has recorded a probe or alert.
	GetCounterNames(ctx context.Context) ([]string, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
