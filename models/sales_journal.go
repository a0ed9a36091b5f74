package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Sales journal tags written by the cleaner into anomaly_tags
const (
	JournalTagPreviousYear   = "is_previous_year_invoice"
	JournalTagAdvance        = "is_advance_invoice"
	JournalTagAtObject       = "is_at_object_invoice"
	JournalTagPreviousPeriod = "is_previous_period_billing"
)

// SalesJournal is one line of the sales journal extract.
// Table: journal_ventes
// AnomalyTags lists the cleaner tags set on the row, AnomalyNotes holds one
// structured note object per tag.
type SalesJournal struct {
	SourceRecordBase

	Organization  *string             `gorm:"size:255;index" json:"organization,omitempty"`
	AccountCode   *string             `gorm:"size:50" json:"account_code,omitempty"`
	GLDate        *time.Time          `gorm:"type:date" json:"gl_date,omitempty"`
	InvoiceNumber *string             `gorm:"size:100;index" json:"invoice_number,omitempty"`
	InvoiceType   *string             `gorm:"size:50" json:"invoice_type,omitempty"`
	InvoiceDate   *time.Time          `gorm:"type:date" json:"invoice_date,omitempty"`
	InvoiceObject *string             `gorm:"type:text" json:"invoice_object,omitempty"`
	BillingPeriod *string             `gorm:"size:100" json:"billing_period,omitempty"`
	Client        *string             `gorm:"size:255" json:"client,omitempty"`
	RevenueAmount decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"revenue_amount"`
	TaxAmount     decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"tax_amount"`
	DotCode       *string             `gorm:"size:50" json:"dot_code,omitempty"`

	IsPreviousYearInvoice   bool           `gorm:"not null;default:false" json:"is_previous_year_invoice"`
	IsAdvanceInvoice        bool           `gorm:"not null;default:false" json:"is_advance_invoice"`
	IsAtObjectInvoice       bool           `gorm:"not null;default:false" json:"is_at_object_invoice"`
	IsPreviousPeriodBilling bool           `gorm:"not null;default:false" json:"is_previous_period_billing"`
	AnomalyTags             pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"anomaly_tags"`
	AnomalyNotes            datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"anomaly_notes"`
}

func (SalesJournal) TableName() string { return "journal_ventes" }

func (s *SalesJournal) LegacyTerritoryCode() *string { return s.DotCode }
func (s *SalesJournal) OrganizationName() string     { return textValue(s.Organization) }
