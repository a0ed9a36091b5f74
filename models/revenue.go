package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeriodicRevenue is one recurring revenue line ("CA périodique").
// Table: ca_periodique
type PeriodicRevenue struct {
	SourceRecordBase

	Organization  *string             `gorm:"size:255;index" json:"organization,omitempty"`
	Product       *string             `gorm:"size:100" json:"product,omitempty"`
	RevenueAmount decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"revenue_amount"`
	TaxAmount     decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"tax_amount"`
	TotalAmount   decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"total_amount"`
	DotCode       *string             `gorm:"size:50" json:"dot_code,omitempty"`
}

func (PeriodicRevenue) TableName() string { return "ca_periodique" }

func (p *PeriodicRevenue) LegacyTerritoryCode() *string { return p.DotCode }
func (p *PeriodicRevenue) OrganizationName() string     { return textValue(p.Organization) }

// NonPeriodicRevenue is one one-off revenue line ("CA non périodique").
// Table: ca_non_periodique
type NonPeriodicRevenue struct {
	SourceRecordBase

	Organization  *string             `gorm:"size:255;index" json:"organization,omitempty"`
	Product       *string             `gorm:"size:100" json:"product,omitempty"`
	SaleChannel   *string             `gorm:"size:100" json:"sale_channel,omitempty"`
	RevenueAmount decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"revenue_amount"`
	TaxAmount     decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"tax_amount"`
	TotalAmount   decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"total_amount"`
	DotCode       *string             `gorm:"size:50" json:"dot_code,omitempty"`
}

func (NonPeriodicRevenue) TableName() string { return "ca_non_periodique" }

func (n *NonPeriodicRevenue) LegacyTerritoryCode() *string { return n.DotCode }
func (n *NonPeriodicRevenue) OrganizationName() string     { return textValue(n.Organization) }

// RevenueLineColumns are the columns shared by the adjustment, refund and
// cancellation revenue extracts. Validation over them lives in the scanner,
// parameterized per table.
type RevenueLineColumns struct {
	Organization  *string             `gorm:"size:255;index" json:"organization,omitempty"`
	Department    *string             `gorm:"size:255" json:"department,omitempty"`
	CustomerCode  *string             `gorm:"size:100" json:"customer_code,omitempty"`
	EntryDate     *time.Time          `gorm:"type:date" json:"entry_date,omitempty"`
	RevenueAmount decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"revenue_amount"`
	TaxAmount     decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"tax_amount"`
	TotalAmount   decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"total_amount"`
	DotCode       *string             `gorm:"size:50" json:"dot_code,omitempty"`
}

// AdjustmentRevenue ("CA DNT").
// Table: ca_dnt
type AdjustmentRevenue struct {
	SourceRecordBase
	RevenueLineColumns
}

func (AdjustmentRevenue) TableName() string { return "ca_dnt" }

func (a *AdjustmentRevenue) LegacyTerritoryCode() *string { return a.DotCode }
func (a *AdjustmentRevenue) OrganizationName() string     { return textValue(a.Organization) }

// RefundRevenue ("CA RFD").
// Table: ca_rfd
type RefundRevenue struct {
	SourceRecordBase
	RevenueLineColumns
}

func (RefundRevenue) TableName() string { return "ca_rfd" }

func (r *RefundRevenue) LegacyTerritoryCode() *string { return r.DotCode }
func (r *RefundRevenue) OrganizationName() string     { return textValue(r.Organization) }

// CancellationRevenue ("CA CNT").
// Table: ca_cnt
type CancellationRevenue struct {
	SourceRecordBase
	RevenueLineColumns
}

func (CancellationRevenue) TableName() string { return "ca_cnt" }

func (c *CancellationRevenue) LegacyTerritoryCode() *string { return c.DotCode }
func (c *CancellationRevenue) OrganizationName() string     { return textValue(c.Organization) }
