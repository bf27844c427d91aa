package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/receipt-ledger/internal/container"
	"github.com/garyjia/receipt-ledger/internal/domain/ledger"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	locationLayout, err := c.Ledger.Location.Layout.Apply(ledger.DefaultLayout())
	if err != nil {
		return nil, fmt.Errorf("ledger.location.layout: %w", err)
	}
	staffLayout, err := c.Ledger.Staff.Layout.Apply(ledger.DefaultLayout())
	if err != nil {
		return nil, fmt.Errorf("ledger.staff.layout: %w", err)
	}

	calendar := time.Local
	if c.Ledger.Timezone != "" {
		loc, err := time.LoadLocation(c.Ledger.Timezone)
		if err != nil {
			return nil, fmt.Errorf("ledger.timezone: %w", err)
		}
		calendar = loc
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Ledger: container.LedgerConfig{
			DocumentsDir:     c.Ledger.DocumentsDir,
			BackupDir:        c.Ledger.BackupDir,
			MirrorDir:        c.Ledger.MirrorDir,
			BackupKeep:       c.Ledger.BackupKeep,
			TemplateSheet:    c.Ledger.TemplateSheet,
			LocationTemplate: c.Ledger.Location.TemplatePath,
			StaffTemplate:    c.Ledger.Staff.TemplatePath,
			LocationLayout:   locationLayout,
			StaffLayout:      staffLayout,
			Calendar:         calendar,
		},
		Roster: container.RosterConfig{
			Path: c.Roster.Path,
		},
		Lock: container.LockConfig{
			Backend:       c.Lock.Backend,
			RedisAddr:     c.Lock.RedisAddr,
			RedisPassword: c.Lock.RedisPassword,
			RedisDB:       c.Lock.RedisDB,
			TTL:           c.Lock.TTL,
			Policy:        retry.Policy{Attempts: c.Lock.Attempts, Delay: c.Lock.Delay},
		},
		Retry: retry.Policy{
			Attempts: c.Retry.Attempts,
			Delay:    c.Retry.Delay,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Worker: container.WorkerConfig{
			PoolSize: c.Worker.PoolSize,
		},
	}, nil
}

// Apply overlays the configured values on base and validates the result
func (lc LayoutConfig) Apply(base ledger.Layout) (ledger.Layout, error) {
	out := base
	if lc.DataStartRow > 0 {
		out.DataStartRow = lc.DataStartRow
	}

	// Sorted so an unknown name is reported deterministically
	names := make([]string, 0, len(lc.Columns))
	for name := range lc.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		col := lc.Columns[name]
		switch name {
		case "date":
			out.Columns.Date = col
		case "vendor":
			out.Columns.Vendor = col
		case "invoice":
			out.Columns.Invoice = col
		case "memo":
			out.Columns.Memo = col
		case "total":
			out.Columns.Total = col
		case "tax_10":
			out.Columns.Tax10 = col
		case "tax_8":
			out.Columns.Tax8 = col
		case "counterpart":
			out.Columns.Counterpart = col
		default:
			return ledger.Layout{}, fmt.Errorf("unknown column %q", name)
		}
	}

	if len(lc.KeyColumns) > 0 {
		out.KeyColumns = lc.KeyColumns
	}
	if len(lc.LabelColumns) > 0 {
		out.LabelColumns = lc.LabelColumns
	}
	if len(lc.FooterLabels) > 0 {
		out.FooterLabels = lc.FooterLabels
	}
	if len(lc.ComputedColumns) > 0 {
		out.ComputedColumns = lc.ComputedColumns
	}

	if err := out.Validate(); err != nil {
		return ledger.Layout{}, err
	}
	return out, nil
}
