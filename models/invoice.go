// Package models contains the persisted entities of the billing extract store and the anomaly engine
package models

import "time"

// Invoice status values set by the upload subsystem
const (
	InvoiceStatusPending    = "pending"
	InvoiceStatusProcessing = "processing"
	InvoiceStatusPreview    = "preview"
	InvoiceStatusSaved      = "saved"
	InvoiceStatusCompleted  = "completed"
	InvoiceStatusFailed     = "failed"
)

// Invoice identifies one uploaded extract batch. Every source row and every
// anomaly belongs to exactly one invoice.
// Table: invoices
type Invoice struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	InvoiceNumber string    `gorm:"size:100;not null;uniqueIndex:uk_invoices_invoice_number" json:"invoice_number"`
	Status        string    `gorm:"size:20;not null;default:'pending';index:idx_invoices_status" json:"status"`
	UploadedByID  *uint     `gorm:"index:idx_invoices_uploaded_by_id" json:"uploaded_by_id,omitempty"`
	UploadedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_invoices_uploaded_at" json:"uploaded_at"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// InvoiceFilter represents filter criteria for invoice queries
type InvoiceFilter struct {
	ID            *uint
	InvoiceNumber *string
	Status        *string
	UploadedAfter *time.Time
}
