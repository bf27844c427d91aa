// Package ledger reads and writes ledger workbooks (.xlsx) with excelize.
// The Gateway owns documents and month sheets; the Writer places receipts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/storage"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	// ErrTemplateNotFound is returned when the template workbook or its canonical sheet is missing
	ErrTemplateNotFound = errors.New("ledger template not found")

	// ErrInvalidIdentity is returned when an identity yields no usable document name
	ErrInvalidIdentity = errors.New("invalid ledger identity")
)

// GatewayConfig locates the documents of one ledger kind and their template
type GatewayConfig struct {
	Kind          string
	DocumentsDir  string
	TemplatePath  string
	TemplateSheet string
	Policy        retry.Policy
}

// Gateway opens, materializes and saves the ledger documents of one kind.
// Documents live at <DocumentsDir>/<Kind>/<identity>.xlsx.
type Gateway struct {
	cfg    GatewayConfig
	logger *zap.Logger
}

// Document is an open ledger workbook
type Document struct {
	File *excelize.File
	// Path is relative to the documents root
	Path string
	// Created is set when the document was materialized from the template and
	// does not exist on disk yet
	Created bool
}

// Close releases the workbook
func (d *Document) Close() error {
	return d.File.Close()
}

// NewGateway creates a Gateway
func NewGateway(cfg GatewayConfig, logger *zap.Logger) *Gateway {
	return &Gateway{cfg: cfg, logger: logger}
}

// Kind returns the ledger kind this gateway serves
func (g *Gateway) Kind() string {
	return g.cfg.Kind
}

// CheckTemplate verifies the template workbook exists and holds the canonical sheet
func (g *Gateway) CheckTemplate() error {
	tmpl, err := g.openTemplate()
	if err != nil {
		return err
	}
	return tmpl.Close()
}

// DocumentPath returns the document path for identity, relative to the documents root
func (g *Gateway) DocumentPath(identity string) (string, error) {
	name := storage.SanitizeName(identity)
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return filepath.Join(g.cfg.Kind, name+".xlsx"), nil
}

// FullPath converts a document path to a filesystem path
func (g *Gateway) FullPath(path string) string {
	return filepath.Join(g.cfg.DocumentsDir, path)
}

// Open opens the document at path. A document that does not exist yet is
// materialized in memory from the template workbook and written on Save.
func (g *Gateway) Open(ctx context.Context, path string) (*Document, error) {
	fullPath := g.FullPath(path)

	if _, err := os.Stat(fullPath); errors.Is(err, os.ErrNotExist) {
		tmpl, err := g.openTemplate()
		if err != nil {
			return nil, err
		}
		g.logger.Info("Materializing ledger document from template",
			zap.String("kind", g.cfg.Kind),
			zap.String("path", path))
		return &Document{File: tmpl, Path: path, Created: true}, nil
	}

	file, err := retry.Value(ctx, g.cfg.Policy, isTransientIO, func() (*excelize.File, error) {
		return excelize.OpenFile(fullPath)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	return &Document{File: file, Path: path}, nil
}

// EnsureMonthSheet makes sure the document has the named month sheet. A
// missing sheet is cloned from the canonical sheet of the template workbook,
// never from another sheet of the document. It reports whether it created one.
func (g *Gateway) EnsureMonthSheet(doc *Document, name string) (bool, error) {
	idx, err := doc.File.GetSheetIndex(name)
	if err != nil {
		return false, fmt.Errorf("failed to look up sheet %s: %w", name, err)
	}
	if idx >= 0 {
		return false, nil
	}

	tmpl, err := g.openTemplate()
	if err != nil {
		return false, err
	}
	defer tmpl.Close()

	if err := cloneSheet(tmpl, g.cfg.TemplateSheet, doc.File, name); err != nil {
		// Leave the document as it was so other sheets can still be saved
		if idx, _ := doc.File.GetSheetIndex(name); idx >= 0 {
			_ = doc.File.DeleteSheet(name)
		}
		return false, fmt.Errorf("failed to create month sheet %s: %w", name, err)
	}

	// A freshly materialized document still carries the canonical sheet itself
	if doc.Created && name != g.cfg.TemplateSheet {
		if idx, _ := doc.File.GetSheetIndex(g.cfg.TemplateSheet); idx >= 0 {
			if err := doc.File.DeleteSheet(g.cfg.TemplateSheet); err != nil {
				return false, fmt.Errorf("failed to drop template sheet: %w", err)
			}
		}
	}
	if idx, _ := doc.File.GetSheetIndex(name); idx >= 0 {
		doc.File.SetActiveSheet(idx)
	}

	g.logger.Info("Created month sheet",
		zap.String("kind", g.cfg.Kind),
		zap.String("path", doc.Path),
		zap.String("sheet", name))

	return true, nil
}

// Save writes the document to disk. The workbook is written to a temporary file
// beside the destination and renamed over it.
func (g *Gateway) Save(ctx context.Context, doc *Document) error {
	fullPath := g.FullPath(doc.Path)
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	err := g.cfg.Policy.Do(ctx, isTransientIO, func() error {
		tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.xlsx")
		if err != nil {
			return err
		}
		tmpPath := tmp.Name()
		tmp.Close()

		if err := doc.File.SaveAs(tmpPath); err != nil {
			os.Remove(tmpPath)
			return err
		}
		if err := os.Rename(tmpPath, fullPath); err != nil {
			os.Remove(tmpPath)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save ledger %s: %w", doc.Path, err)
	}

	doc.Created = false
	return nil
}

func (g *Gateway) openTemplate() (*excelize.File, error) {
	if _, err := os.Stat(g.cfg.TemplatePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, g.cfg.TemplatePath)
	}

	tmpl, err := excelize.OpenFile(g.cfg.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open template %s: %w", g.cfg.TemplatePath, err)
	}

	idx, err := tmpl.GetSheetIndex(g.cfg.TemplateSheet)
	if err != nil || idx < 0 {
		tmpl.Close()
		return nil, fmt.Errorf("%w: sheet %q in %s", ErrTemplateNotFound, g.cfg.TemplateSheet, g.cfg.TemplatePath)
	}

	return tmpl, nil
}

// isTransientIO reports file errors worth retrying: a busy or temporarily
// unavailable file held by another process.
func isTransientIO(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.ETXTBSY)
}
