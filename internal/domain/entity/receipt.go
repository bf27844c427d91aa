package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptDateLayout is the canonical textual form of Receipt.ReceiptDate
const ReceiptDateLayout = "2006-01-02"

// Receipt is the canonical, verified receipt record.
// Optional amounts are NullDecimal and optional text is the empty string.
type Receipt struct {
	ReceiptDate        string              `json:"receipt_date"`
	VendorName         string              `json:"vendor_name"`
	InvoiceNumber      string              `json:"invoice_number,omitempty"`
	TotalAmount        decimal.NullDecimal `json:"total_amount"`
	Tax10Amount        decimal.NullDecimal `json:"tax_10_amount"`
	Tax8Amount         decimal.NullDecimal `json:"tax_8_amount"`
	Memo               string              `json:"memo,omitempty"`
	BusinessLocationID string              `json:"business_location_id"`
	StaffID            string              `json:"staff_id"`

	// OCR provenance
	OCREngine     string   `json:"ocr_engine,omitempty"`
	OCRConfidence *float64 `json:"ocr_confidence,omitempty"`
	OCRFlags      []string `json:"ocr_flags,omitempty"`
}

// ParsedDate parses ReceiptDate in the canonical layout
func (r Receipt) ParsedDate() (time.Time, error) {
	return time.ParseInLocation(ReceiptDateLayout, strings.TrimSpace(r.ReceiptDate), time.UTC)
}

// BusinessKey returns the case-normalized invoice number used for duplicate detection
func (r Receipt) BusinessKey() string {
	return NormalizeBusinessKey(r.InvoiceNumber)
}

// NormalizeBusinessKey trims and upper-cases an invoice number
func NormalizeBusinessKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Clone returns a copy that shares no mutable state with r
func (r Receipt) Clone() Receipt {
	out := r
	if r.OCRConfidence != nil {
		c := *r.OCRConfidence
		out.OCRConfidence = &c
	}
	if r.OCRFlags != nil {
		out.OCRFlags = append([]string(nil), r.OCRFlags...)
	}
	return out
}

// Amount is a convenience constructor for a present decimal amount
func Amount(value string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(value), Valid: true}
}
