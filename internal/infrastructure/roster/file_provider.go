// Package roster reads the configured locations and their staff from a YAML file.
package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrRosterNotLoaded is returned when the roster file could never be read
var ErrRosterNotLoaded = errors.New("roster not loaded")

// File is the on-disk shape of the roster
type File struct {
	Locations []LocationEntry `yaml:"locations"`
}

// LocationEntry is one location with its registered staff
type LocationEntry struct {
	ID    string             `yaml:"id"`
	Name  string             `yaml:"name"`
	Staff []port.StaffMember `yaml:"staff"`
}

// FileProvider implements port.RosterProvider over a YAML file. The file is
// read once and cached; Refresh re-reads it.
type FileProvider struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	loaded bool
	roster File
}

// NewFileProvider creates a FileProvider and loads the file. A load failure is
// logged and retried on the next Refresh; lookups fail until then.
func NewFileProvider(path string, logger *zap.Logger) *FileProvider {
	p := &FileProvider{path: path, logger: logger}
	if err := p.Refresh(); err != nil {
		logger.Warn("Roster not loaded", zap.String("path", path), zap.Error(err))
	}
	return p
}

// Refresh re-reads the roster file. On failure the previous roster is kept.
func (p *FileProvider) Refresh() error {
	content, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read roster: %w", err)
	}

	roster, err := Parse(content)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.roster = roster
	p.loaded = true
	p.mu.Unlock()

	p.logger.Info("Roster loaded",
		zap.String("path", p.path),
		zap.Int("locations", len(roster.Locations)))

	return nil
}

// Parse decodes and checks a roster document
func Parse(content []byte) (File, error) {
	var roster File
	if err := yaml.Unmarshal(content, &roster); err != nil {
		return File{}, fmt.Errorf("failed to parse roster: %w", err)
	}

	seen := make(map[string]bool, len(roster.Locations))
	for i, loc := range roster.Locations {
		id := strings.TrimSpace(loc.ID)
		if id == "" {
			return File{}, fmt.Errorf("roster location %d has no id", i+1)
		}
		if seen[id] {
			return File{}, fmt.Errorf("roster location %q is listed twice", id)
		}
		seen[id] = true
		roster.Locations[i].ID = id
	}

	return roster, nil
}

// ListLocations returns every configured location in file order
func (p *FileProvider) ListLocations(ctx context.Context) ([]port.Location, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.loaded {
		return nil, ErrRosterNotLoaded
	}

	locations := make([]port.Location, 0, len(p.roster.Locations))
	for _, loc := range p.roster.Locations {
		locations = append(locations, port.Location{ID: loc.ID, Name: loc.Name})
	}
	return locations, nil
}

// ListStaffForLocation returns the staff registered under locationID. An
// unknown location has no staff.
func (p *FileProvider) ListStaffForLocation(ctx context.Context, locationID string) ([]port.StaffMember, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.loaded {
		return nil, ErrRosterNotLoaded
	}

	for _, loc := range p.roster.Locations {
		if loc.ID == locationID {
			return append([]port.StaffMember(nil), loc.Staff...), nil
		}
	}
	return nil, nil
}

var _ port.RosterProvider = (*FileProvider)(nil)
