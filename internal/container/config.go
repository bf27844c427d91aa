// Package container provides dependency injection and lifecycle management
// for the receipt ledger engine following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/receipt-ledger/internal/domain/ledger"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Ledger documents, templates and layouts
	Ledger LedgerConfig

	// Roster file
	Roster RosterConfig

	// Document lock backend
	Lock LockConfig

	// Retry is the storage contention policy
	Retry retry.Policy

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long SQLite waits on a locked database
	BusyTimeout time.Duration
}

// LedgerConfig holds ledger document settings.
type LedgerConfig struct {
	DocumentsDir string
	BackupDir    string
	// MirrorDir receives a best-effort copy of every saved document; empty disables it
	MirrorDir  string
	BackupKeep int

	// TemplateSheet is the canonical sheet month sheets are cloned from
	TemplateSheet    string
	LocationTemplate string
	StaffTemplate    string

	LocationLayout ledger.Layout
	StaffLayout    ledger.Layout

	// Calendar decides whether a receipt date lies in the future; nil means local time
	Calendar *time.Location
}

// RosterConfig holds the roster file location.
type RosterConfig struct {
	Path string
}

// LockConfig selects the document lock backend.
type LockConfig struct {
	// Backend is "local" or "redis"
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration

	// Policy bounds how long a writer waits for a held document
	Policy retry.Policy
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// WorkerConfig sizes the pool that runs the two ledger writers of a send.
type WorkerConfig struct {
	PoolSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/receipt_ledger.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			BusyTimeout:  5 * time.Second,
		},
		Ledger: LedgerConfig{
			DocumentsDir:     "data/ledgers",
			BackupDir:        "data/backups",
			BackupKeep:       10,
			TemplateSheet:    "template",
			LocationTemplate: "templates/location_ledger.xlsx",
			StaffTemplate:    "templates/staff_ledger.xlsx",
			LocationLayout:   ledger.DefaultLayout(),
			StaffLayout:      ledger.DefaultLayout(),
		},
		Roster: RosterConfig{
			Path: "configs/roster.yaml",
		},
		Lock: LockConfig{
			Backend: "local",
			TTL:     30 * time.Second,
			Policy:  retry.Policy{Attempts: 20, Delay: 100 * time.Millisecond},
		},
		Retry: retry.Default(),
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Worker: WorkerConfig{
			PoolSize: 4,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Ledger.DocumentsDir == "" {
		return fmt.Errorf("ledger.documents_dir is required")
	}
	if c.Ledger.BackupDir == "" {
		return fmt.Errorf("ledger.backup_dir is required")
	}
	if c.Ledger.LocationTemplate == "" || c.Ledger.StaffTemplate == "" {
		return fmt.Errorf("ledger template paths are required")
	}
	if err := c.Ledger.LocationLayout.Validate(); err != nil {
		return fmt.Errorf("location layout: %w", err)
	}
	if err := c.Ledger.StaffLayout.Validate(); err != nil {
		return fmt.Errorf("staff layout: %w", err)
	}

	if c.Roster.Path == "" {
		return fmt.Errorf("roster.path is required")
	}

	if c.Lock.Backend != "local" && c.Lock.Backend != "redis" {
		return fmt.Errorf("lock.backend must be local or redis")
	}

	return nil
}
