package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"go.uber.org/zap"
)

const (
	// DefaultBackupKeep is how many backups are kept per document when unset
	DefaultBackupKeep = 10

	backupStampLayout = "20060102T150405.000000000"
)

// BackupRotator stores timestamped copies of a document before it is
// overwritten and keeps the newest Keep of them.
// Backups live at <kind>/<identity>/<identity>_<stamp>.xlsx in the store.
type BackupRotator struct {
	store  port.ArtifactStore
	keep   int
	now    port.Clock
	logger *zap.Logger
}

// NewBackupRotator creates a BackupRotator
func NewBackupRotator(store port.ArtifactStore, keep int, clock port.Clock, logger *zap.Logger) *BackupRotator {
	if keep <= 0 {
		keep = DefaultBackupKeep
	}
	if clock == nil {
		clock = time.Now
	}
	return &BackupRotator{store: store, keep: keep, now: clock, logger: logger}
}

// Snapshot stores content as the newest backup of the document at docPath and
// prunes the oldest backups past the retention count. It returns the backup path.
func (b *BackupRotator) Snapshot(ctx context.Context, docPath string, content []byte) (string, error) {
	dir := strings.TrimSuffix(docPath, filepath.Ext(docPath))
	base := filepath.Base(dir)
	name := fmt.Sprintf("%s_%s.xlsx", base, b.now().UTC().Format(backupStampLayout))
	path := filepath.Join(dir, name)

	if err := b.store.Put(ctx, path, content); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", docPath, err)
	}

	b.rotate(ctx, dir)
	return path, nil
}

// rotate deletes the oldest backups in dir. Names sort chronologically.
func (b *BackupRotator) rotate(ctx context.Context, dir string) {
	files, err := b.store.List(ctx, dir)
	if err != nil {
		b.logger.Warn("Failed to list backups", zap.String("dir", dir), zap.Error(err))
		return
	}
	if len(files) <= b.keep {
		return
	}

	for _, path := range files[:len(files)-b.keep] {
		if err := b.store.Remove(ctx, path); err != nil {
			b.logger.Warn("Failed to prune backup", zap.String("path", path), zap.Error(err))
		}
	}
}
