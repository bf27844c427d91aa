package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/application/service"
	"github.com/garyjia/receipt-ledger/internal/application/validation"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/roster"
	"github.com/garyjia/receipt-ledger/pkg/database"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const poolReleaseTimeout = 10 * time.Second

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Ledgers
	roster  *roster.FileProvider
	locker  port.DocumentLocker
	redis   *redis.Client
	ledgers *LedgerBundle
	pool    *ants.Pool

	// Application
	services *ServiceBundle

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Draft port.DraftRepository
	Audit port.AuditRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Audit service.AuditService
	Draft service.DraftService
	Send  service.SendService
	Gate  *validation.Gate
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database and repositories
// 2. Roster
// 3. Document locks
// 4. Ledger writers and worker pool
// 5. Application services
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"roster", c.initRoster},
		{"locks", c.initLocks},
		{"ledgers", c.initLedgers},
		{"services", c.initServices},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.teardown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Initialized " + step.name)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized, last first
func (c *Container) teardown() []error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	// Worker pool (reverse of step 4); waits for in-flight ledger writes
	if c.pool != nil {
		if err := c.pool.ReleaseTimeout(poolReleaseTimeout); err != nil {
			c.logger.Error("Worker pool did not drain", zap.Error(err))
			errs = append(errs, fmt.Errorf("release worker pool: %w", err))
		} else {
			c.logger.Info("Worker pool released")
		}
		c.pool = nil
	}

	// Redis lock client (reverse of step 3)
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		c.redis = nil
	}

	// Database (reverse of step 1)
	if c.database != nil {
		if err := c.database.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.database = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, healthy bool, message string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: message}
		if !healthy {
			status.Overall = false
		}
	}

	// Check database
	switch {
	case c.database == nil:
		set("database", false, "not initialized")
	default:
		if err := c.database.PingContext(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	// Check roster
	if c.roster == nil {
		set("roster", false, "not initialized")
	} else if locations, err := c.roster.ListLocations(ctx); err != nil {
		set("roster", false, err.Error())
	} else {
		set("roster", true, fmt.Sprintf("%d locations", len(locations)))
	}

	// Check ledger templates
	if c.ledgers == nil {
		set("ledgers", false, "not initialized")
	} else {
		for name, err := range map[string]error{
			"ledger_location": c.ledgers.Location.CheckTemplate(),
			"ledger_staff":    c.ledgers.Staff.CheckTemplate(),
		} {
			if err != nil {
				set(name, false, err.Error())
			} else {
				set(name, true, "")
			}
		}
	}

	// Check redis locks
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			set("locks", false, fmt.Sprintf("redis ping failed: %v", err))
		} else {
			set("locks", true, "redis")
		}
	} else if c.locker != nil {
		set("locks", true, "local")
	} else {
		set("locks", false, "not initialized")
	}

	// Check worker pool
	if c.pool == nil {
		set("workers", false, "not initialized")
	} else {
		set("workers", !c.pool.IsClosed(), fmt.Sprintf("running: %d, capacity: %d", c.pool.Running(), c.pool.Cap()))
	}

	return status
}

// initDatabase opens the database and creates the repositories.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.config.Retry, c.logger)
	if err != nil {
		return err
	}

	c.database = dbBundle.DB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.database, c.config.Retry, c.logger)
	if err != nil {
		return err
	}

	c.repositories = repos
	return nil
}

// initRoster loads the location and staff roster.
func (c *Container) initRoster() error {
	provider, err := ProvideRoster(&c.config.Roster, c.logger)
	if err != nil {
		return err
	}
	c.roster = provider
	return nil
}

// initLocks creates the document locker.
func (c *Container) initLocks() error {
	bundle, err := ProvideLocker(c.ctx, &c.config.Lock, c.logger)
	if err != nil {
		return err
	}
	c.locker = bundle.Locker
	c.redis = bundle.Redis
	return nil
}

// initLedgers creates both ledger writers and the pool they run on.
func (c *Container) initLedgers() error {
	ledgers, err := ProvideLedgerWriters(&c.config.Ledger, c.config.Retry, c.locker, c.roster, c.logger)
	if err != nil {
		return err
	}
	c.ledgers = ledgers

	pool, err := ProvideWorkerPool(&c.config.Worker)
	if err != nil {
		return err
	}
	c.pool = pool
	return nil
}

// initServices creates the application services.
func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Roster:    c.roster,
		Ledgers:   c.ledgers,
		Runner:    c.pool,
		Calendar:  c.config.Ledger.Calendar,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}

	c.services = services
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Roster returns the roster provider.
func (c *Container) Roster() *roster.FileProvider {
	return c.roster
}

// Ledgers returns both ledger writers.
func (c *Container) Ledgers() *LedgerBundle {
	return c.ledgers
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// ServiceLogger returns the key-value logger handed to application services.
func (c *Container) ServiceLogger() service.Logger {
	return &zapLoggerAdapter{logger: c.logger}
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

var _ service.Logger = (*zapLoggerAdapter)(nil)
