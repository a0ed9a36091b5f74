package models

import "time"

// Data source tags. Each source-record table carries one; anomalies record
// the tag of the table that produced them.
const (
	DataSourceJournal         = "journal"
	DataSourceEtat            = "etat"
	DataSourceParc            = "parc"
	DataSourceCreance         = "creance"
	DataSourcePeriodicRevenue = "ca_periodique"
	DataSourceNonPeriodic     = "ca_non_periodique"
	DataSourceAdjustmentRev   = "ca_dnt"
	DataSourceRefundRevenue   = "ca_rfd"
	DataSourceCancellationRev = "ca_cnt"
)

// SourceRecord is implemented by every imported extract line
type SourceRecord interface {
	RecordID() uint
	ParentInvoiceID() uint
	TerritoryID() *uint
	// LegacyTerritoryCode returns the free-text DOT column, nil when the
	// table has none or the cell is empty
	LegacyTerritoryCode() *string
	OrganizationName() string
}

// SourceRecordBase holds the columns shared by all nine source tables
type SourceRecordBase struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	InvoiceID uint      `gorm:"not null;index" json:"invoice_id"`
	DotID     *uint     `gorm:"index" json:"dot_id,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (b *SourceRecordBase) RecordID() uint        { return b.ID }
func (b *SourceRecordBase) ParentInvoiceID() uint { return b.InvoiceID }
func (b *SourceRecordBase) TerritoryID() *uint    { return b.DotID }

func textValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
