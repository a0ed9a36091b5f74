package models

import (
	"time"

	"gorm.io/datatypes"
)

// Anomaly types
const (
	AnomalyTypeEmptyField      = "empty_field"
	AnomalyTypeDuplicateData   = "duplicate_data"
	AnomalyTypeOutlier         = "outlier"
	AnomalyTypeMissingRecord   = "missing_record"
	AnomalyTypeZeroValue       = "zero_value"
	AnomalyTypeTemporalPattern = "temporal_pattern"
	AnomalyTypeInvalidDot      = "invalid_dot"
	AnomalyTypeDotMismatch     = "dot_mismatch"
	AnomalyTypeInvalidAmount   = "invalid_amount"
	AnomalyTypeAmountMismatch  = "amount_mismatch"
)

// Anomaly lifecycle statuses
const (
	AnomalyStatusOpen       = "open"
	AnomalyStatusInProgress = "in_progress"
	AnomalyStatusResolved   = "resolved"
	AnomalyStatusIgnored    = "ignored"
)

// Severity buckets
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// PayloadRecordIDKey is the payload key that identifies the offending row. It
// survives payload sanitization even when null.
const PayloadRecordIDKey = "record_id"

// AnomalyTypes lists the fixed type vocabulary
var AnomalyTypes = []string{
	AnomalyTypeEmptyField,
	AnomalyTypeDuplicateData,
	AnomalyTypeOutlier,
	AnomalyTypeMissingRecord,
	AnomalyTypeZeroValue,
	AnomalyTypeTemporalPattern,
	AnomalyTypeInvalidDot,
	AnomalyTypeDotMismatch,
	AnomalyTypeInvalidAmount,
	AnomalyTypeAmountMismatch,
}

// AnomalyStatuses lists every lifecycle status
var AnomalyStatuses = []string{
	AnomalyStatusOpen,
	AnomalyStatusInProgress,
	AnomalyStatusResolved,
	AnomalyStatusIgnored,
}

// Severities lists the buckets from most to least severe
var Severities = []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

var severityByType = map[string]string{
	AnomalyTypeDuplicateData:   SeverityCritical,
	AnomalyTypeInvalidDot:      SeverityCritical,
	AnomalyTypeOutlier:         SeverityHigh,
	AnomalyTypeMissingRecord:   SeverityHigh,
	AnomalyTypeZeroValue:       SeverityMedium,
	AnomalyTypeTemporalPattern: SeverityMedium,
	AnomalyTypeEmptyField:      SeverityLow,
}

// SeverityOf maps an anomaly type to its severity bucket. Unlisted types are medium.
func SeverityOf(anomalyType string) string {
	if s, ok := severityByType[anomalyType]; ok {
		return s
	}
	return SeverityMedium
}

// TypesWithSeverity returns the explicitly mapped types of a bucket. For
// medium, the result must be read together with ExplicitlyMappedTypes since
// every unmapped type also falls into medium.
func TypesWithSeverity(severity string) []string {
	var out []string
	for _, t := range AnomalyTypes {
		if mapped, ok := severityByType[t]; ok && mapped == severity {
			out = append(out, t)
		}
	}
	return out
}

// ExplicitlyMappedTypes returns the types whose severity is not the medium default
func ExplicitlyMappedTypes() []string {
	var out []string
	for _, t := range AnomalyTypes {
		if s, ok := severityByType[t]; ok && s != SeverityMedium {
			out = append(out, t)
		}
	}
	return out
}

// Anomaly is a data-quality finding produced by the scanner.
// Table: anomalies
// Data is a free-form jsonb payload (record id, field, offending value, statistics).
type Anomaly struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	InvoiceID       uint              `gorm:"not null;index:idx_anomalies_invoice_id" json:"invoice_id"`
	Type            string            `gorm:"size:50;not null;index:idx_anomalies_type" json:"type"`
	Description     string            `gorm:"type:text;not null" json:"description"`
	Data            datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"data"`
	DataSource      string            `gorm:"size:50;index:idx_anomalies_data_source" json:"data_source"`
	Status          string            `gorm:"size:20;not null;default:'open';index:idx_anomalies_status" json:"status"`
	ResolvedByID    *uint             `json:"resolved_by_id,omitempty"`
	ResolutionNotes *string           `gorm:"type:text" json:"resolution_notes,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_anomalies_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Relations
	Invoice *Invoice `gorm:"foreignKey:InvoiceID;references:ID;constraint:OnDelete:CASCADE" json:"invoice,omitempty"`
}

func (Anomaly) TableName() string { return "anomalies" }

// Severity returns the severity bucket of the anomaly type
func (a *Anomaly) Severity() string { return SeverityOf(a.Type) }

// IsResolved reports whether the anomaly reached the resolved status
func (a *Anomaly) IsResolved() bool { return a.Status == AnomalyStatusResolved }

// AnomalyCandidate is a not-yet-persisted anomaly handed to the repository.
// InvoiceID is optional and backfilled from the default invoice.
type AnomalyCandidate struct {
	InvoiceID   *uint
	Type        string `validate:"required"`
	Description string `validate:"required"`
	Data        map[string]any
	DataSource  string
	Status      string
}

// AnomalyFilter represents the listing filter for anomalies
type AnomalyFilter struct {
	Types         []string
	Statuses      []string
	Sources       []string
	Severity      *string
	Organization  *string
	InvoiceID     *uint
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// AnomalyDeleteFilter selects anomalies for bulk deletion. Empty slices and
// nil pointers do not restrict.
type AnomalyDeleteFilter struct {
	Types         []string
	Sources       []string
	Statuses      []string
	InvoiceID     *uint
	OlderThanDays *int
}
