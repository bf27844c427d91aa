// Package migrations embeds the SQLite schema applied by database.Migrator.
package migrations

import "embed"

// FS holds every NNN_name.sql migration
//
//go:embed *.sql
var FS embed.FS
