package models

import "github.com/shopspring/decimal"

// Receivable is one open receivable line from the NGBSS extract.
// Table: creances_ngbss
type Receivable struct {
	SourceRecordBase

	Organization   *string             `gorm:"size:255;index" json:"organization,omitempty"`
	Product        *string             `gorm:"size:100" json:"product,omitempty"`
	CustomerLevel1 *string             `gorm:"size:100" json:"customer_level1,omitempty"`
	CustomerLevel2 *string             `gorm:"size:100" json:"customer_level2,omitempty"`
	CustomerLevel3 *string             `gorm:"size:100" json:"customer_level3,omitempty"`
	InvoicedAmount decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"invoiced_amount"`
	OpenAmount     decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"open_amount"`
	DotCode        *string             `gorm:"size:50" json:"dot_code,omitempty"`
}

func (Receivable) TableName() string { return "creances_ngbss" }

func (r *Receivable) LegacyTerritoryCode() *string { return r.DotCode }
func (r *Receivable) OrganizationName() string     { return textValue(r.Organization) }
