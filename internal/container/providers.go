package container

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/application/service"
	"github.com/garyjia/receipt-ledger/internal/application/validation"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	domainledger "github.com/garyjia/receipt-ledger/internal/domain/ledger"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/ledger"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/lock"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/persistence/repository"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/roster"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/storage"
	"github.com/garyjia/receipt-ledger/migrations"
	"github.com/garyjia/receipt-ledger/pkg/database"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// LockBundle holds the document locker and, for the redis backend, its client.
type LockBundle struct {
	Locker port.DocumentLocker
	Redis  *redis.Client
}

// LedgerBundle holds both ledger writers.
type LedgerBundle struct {
	Location *ledger.Writer
	Staff    *ledger.Writer
}

// ProvideDatabase opens the SQLite database, applies the embedded migrations
// and wraps it in a transaction manager.
func ProvideDatabase(cfg *DatabaseConfig, policy retry.Policy, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, policy, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, policy retry.Policy, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Draft: repository.NewDraftRepository(db.DB, policy, logger),
		Audit: repository.NewAuditRepository(db.DB, policy, logger),
	}, nil
}

// ProvideRoster loads the roster file.
func ProvideRoster(cfg *RosterConfig, logger *zap.Logger) (*roster.FileProvider, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("roster path is required")
	}
	return roster.NewFileProvider(cfg.Path, logger), nil
}

// ProvideLocker creates the document locker for the configured backend.
func ProvideLocker(ctx context.Context, cfg *LockConfig, logger *zap.Logger) (*LockBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lock config is required")
	}

	switch cfg.Backend {
	case "", "local":
		return &LockBundle{Locker: lock.NewLocalLocker(cfg.Policy)}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}

		logger.Info("Using redis document locks", zap.String("addr", cfg.RedisAddr))
		return &LockBundle{
			Locker: lock.NewRedisLocker(client, cfg.TTL, cfg.Policy, logger),
			Redis:  client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// ProvideLedgerWriters creates the location and staff writers. Both share the
// backup store, mirror and locker; each has its own template and layout.
func ProvideLedgerWriters(cfg *LedgerConfig, policy retry.Policy, locker port.DocumentLocker, rosterProvider port.RosterProvider, logger *zap.Logger) (*LedgerBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ledger config is required")
	}

	backups := ledger.NewBackupRotator(storage.NewDirStore(cfg.BackupDir, logger), cfg.BackupKeep, time.Now, logger)

	var mirror port.ArtifactStore
	if cfg.MirrorDir != "" {
		mirror = storage.NewDirStore(cfg.MirrorDir, logger)
	}

	build := func(target, templatePath string, mode ledger.PlacementMode, layout domainledger.Layout) (*ledger.Writer, error) {
		gateway := ledger.NewGateway(ledger.GatewayConfig{
			Kind:          target,
			DocumentsDir:  cfg.DocumentsDir,
			TemplatePath:  templatePath,
			TemplateSheet: cfg.TemplateSheet,
			Policy:        policy,
		}, logger)

		if err := gateway.CheckTemplate(); err != nil {
			// Sends fail per batch until the template appears
			logger.Warn("Ledger template unavailable", zap.String("target", target), zap.Error(err))
		}

		return ledger.NewWriter(ledger.WriterConfig{
			Target:  target,
			Mode:    mode,
			Layout:  layout,
			Gateway: gateway,
			Locker:  locker,
			Roster:  rosterProvider,
			Backups: backups,
			Mirror:  mirror,
		}, logger.With(zap.String("ledger", target)))
	}

	location, err := build(entity.TargetLocation, cfg.LocationTemplate, ledger.PlaceAppend, cfg.LocationLayout)
	if err != nil {
		return nil, err
	}
	staff, err := build(entity.TargetStaff, cfg.StaffTemplate, ledger.PlaceChronological, cfg.StaffLayout)
	if err != nil {
		return nil, err
	}

	return &LedgerBundle{Location: location, Staff: staff}, nil
}

// ProvideWorkerPool creates the pool that runs ledger writers concurrently.
func ProvideWorkerPool(cfg *WorkerConfig) (*ants.Pool, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return pool, nil
}

// ServiceDeps holds the dependencies for creating services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Roster    port.RosterProvider
	Ledgers   *LedgerBundle
	Runner    port.TaskRunner
	Calendar  *time.Location
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil || deps.TxManager == nil || deps.Ledgers == nil {
		return nil, fmt.Errorf("repositories, transaction manager and ledgers are required")
	}

	logger := &zapLoggerAdapter{logger: deps.Logger}

	audit := service.NewAuditService(deps.Repos.Audit, time.Now, logger)
	drafts := service.NewDraftService(deps.Repos.Draft, deps.TxManager, audit, time.Now, logger)
	gate := validation.NewGate(deps.Roster, validation.WithLocation(deps.Calendar))
	send := service.NewSendService(drafts, gate, deps.Ledgers.Location, deps.Ledgers.Staff, deps.Runner, audit, logger)

	return &ServiceBundle{
		Audit: audit,
		Draft: drafts,
		Send:  send,
		Gate:  gate,
	}, nil
}
