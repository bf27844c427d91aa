package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. RLE_SERVER_PORT
const EnvPrefix = "RLE"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Roster   RosterConfig   `mapstructure:"roster"`
	Lock     LockConfig     `mapstructure:"lock"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Mode         string        `mapstructure:"mode"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LedgerConfig holds ledger document configuration
type LedgerConfig struct {
	DocumentsDir  string       `mapstructure:"documents_dir"`
	BackupDir     string       `mapstructure:"backup_dir"`
	MirrorDir     string       `mapstructure:"mirror_dir"`
	BackupKeep    int          `mapstructure:"backup_keep"`
	TemplateSheet string       `mapstructure:"template_sheet"`
	// Timezone is the IANA zone receipt dates are judged in; empty means local time
	Timezone      string       `mapstructure:"timezone"`
	Location      TargetConfig `mapstructure:"location"`
	Staff         TargetConfig `mapstructure:"staff"`
}

// TargetConfig configures one ledger kind
type TargetConfig struct {
	TemplatePath string       `mapstructure:"template_path"`
	Layout       LayoutConfig `mapstructure:"layout"`
}

// LayoutConfig overrides the sheet layout. Zero values keep the default layout.
type LayoutConfig struct {
	DataStartRow    int            `mapstructure:"data_start_row"`
	Columns         map[string]int `mapstructure:"columns"`
	KeyColumns      []int          `mapstructure:"key_columns"`
	LabelColumns    []int          `mapstructure:"label_columns"`
	FooterLabels    []string       `mapstructure:"footer_labels"`
	ComputedColumns []int          `mapstructure:"computed_columns"`
}

// RosterConfig locates the roster file
type RosterConfig struct {
	Path string `mapstructure:"path"`
}

// LockConfig selects the document lock backend
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	Attempts      int           `mapstructure:"attempts"`
	Delay         time.Duration `mapstructure:"delay"`
}

// RetryConfig is the storage contention retry policy
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// WorkerConfig sizes the pool that runs ledger writers
type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads an optional .env file, then the config file, then environment
// overrides. A missing config file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.mode", "release")

	// Database defaults
	v.SetDefault("database.path", "data/receipt_ledger.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Duration(0))
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Ledger defaults
	v.SetDefault("ledger.documents_dir", "data/ledgers")
	v.SetDefault("ledger.backup_dir", "data/backups")
	v.SetDefault("ledger.mirror_dir", "")
	v.SetDefault("ledger.backup_keep", 10)
	v.SetDefault("ledger.template_sheet", "template")
	v.SetDefault("ledger.timezone", "")
	v.SetDefault("ledger.location.template_path", "templates/location_ledger.xlsx")
	v.SetDefault("ledger.staff.template_path", "templates/staff_ledger.xlsx")

	// Roster defaults
	v.SetDefault("roster.path", "configs/roster.yaml")

	// Lock defaults
	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.attempts", 20)
	v.SetDefault("lock.delay", 100*time.Millisecond)

	// Retry defaults
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 50*time.Millisecond)

	// Worker defaults
	v.SetDefault("worker.pool_size", 4)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the overrides most deployments set
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "RLE_DATABASE_PATH")
	v.BindEnv("ledger.documents_dir", "RLE_LEDGER_DOCUMENTS_DIR")
	v.BindEnv("ledger.backup_dir", "RLE_LEDGER_BACKUP_DIR")
	v.BindEnv("ledger.mirror_dir", "RLE_LEDGER_MIRROR_DIR")
	v.BindEnv("roster.path", "RLE_ROSTER_PATH")
	v.BindEnv("lock.backend", "RLE_LOCK_BACKEND")
	v.BindEnv("lock.redis_addr", "RLE_REDIS_ADDR")
	v.BindEnv("lock.redis_password", "RLE_REDIS_PASSWORD")
	v.BindEnv("logger.level", "RLE_LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Ledger.DocumentsDir == "" {
		return fmt.Errorf("ledger.documents_dir is required")
	}
	if c.Ledger.BackupDir == "" {
		return fmt.Errorf("ledger.backup_dir is required")
	}
	if c.Ledger.TemplateSheet == "" {
		return fmt.Errorf("ledger.template_sheet is required")
	}
	if c.Ledger.Timezone != "" {
		if _, err := time.LoadLocation(c.Ledger.Timezone); err != nil {
			return fmt.Errorf("ledger.timezone: %w", err)
		}
	}
	if c.Ledger.Location.TemplatePath == "" {
		return fmt.Errorf("ledger.location.template_path is required")
	}
	if c.Ledger.Staff.TemplatePath == "" {
		return fmt.Errorf("ledger.staff.template_path is required")
	}

	if c.Roster.Path == "" {
		return fmt.Errorf("roster.path is required")
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("lock.backend must be local or redis (got %q)", c.Lock.Backend)
	}

	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1")
	}
	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("worker.pool_size must be at least 1")
	}

	return nil
}
