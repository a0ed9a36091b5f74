package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollectionStatement is one line of the collection statement ("état d'encaissement").
// Table: etat_encaissements
// Duplicate (organization, invoice_number, invoice_type) rows after the first
// get their monetary columns nulled by the cleaner.
type CollectionStatement struct {
	SourceRecordBase

	Organization    *string             `gorm:"size:255;index" json:"organization,omitempty"`
	InvoiceNumber   *string             `gorm:"size:100;index" json:"invoice_number,omitempty"`
	InvoiceType     *string             `gorm:"size:50" json:"invoice_type,omitempty"`
	Client          *string             `gorm:"size:255" json:"client,omitempty"`
	InvoiceDate     *time.Time          `gorm:"type:date" json:"invoice_date,omitempty"`
	CollectionDate  *time.Time          `gorm:"type:date" json:"collection_date,omitempty"`
	InvoiceAmount   decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"invoice_amount"`
	CollectedAmount decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"collected_amount"`
	TaxAmount       decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"tax_amount"`
	DotCode         *string             `gorm:"size:50" json:"dot_code,omitempty"`
}

func (CollectionStatement) TableName() string { return "etat_encaissements" }

func (c *CollectionStatement) LegacyTerritoryCode() *string { return c.DotCode }
func (c *CollectionStatement) OrganizationName() string     { return textValue(c.Organization) }
