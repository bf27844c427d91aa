// Package storage holds the on-disk homes for ledger artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"go.uber.org/zap"
)

// ErrKeyOutsideRoot is returned for keys that are absolute or climb out of the root
var ErrKeyOutsideRoot = errors.New("key escapes store root")

// DirStore is a port.ArtifactStore backed by a local directory. Writes land in
// a hidden temp file that is renamed over the key, and hidden files are never
// listed.
type DirStore struct {
	root   string
	logger *zap.Logger
}

var _ port.ArtifactStore = (*DirStore)(nil)

// NewDirStore returns a store rooted at root. The directory is created lazily.
func NewDirStore(root string, logger *zap.Logger) *DirStore {
	return &DirStore{root: root, logger: logger}
}

// Root returns the directory the store writes into
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) resolve(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean != "." && !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", ErrKeyOutsideRoot, key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *DirStore) Put(ctx context.Context, key string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.resolve(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	_, werr := tmp.Write(content)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}

	s.logger.Debug("Artifact stored", zap.String("key", key), zap.Int("bytes", len(content)))
	return nil
}

func (s *DirStore) Get(ctx context.Context, key string) ([]byte, error) {
	src, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return content, nil
}

func (s *DirStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	switch _, err := os.Stat(p); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
}

func (s *DirStore) Remove(ctx context.Context, key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *DirStore) List(ctx context.Context, prefix string) ([]string, error) {
	dir, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			keys = append(keys, filepath.Join(prefix, e.Name()))
		}
	}
	slices.Sort(keys)
	return keys, nil
}
