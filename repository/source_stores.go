package repository

import (
	"github.com/amirphl/invoice-sentinel/models"
	"gorm.io/gorm"
)

// SourceStores bundles one record store per source-record table
type SourceStores struct {
	Journal      *RecordStore[models.SalesJournal]
	Etat         *RecordStore[models.CollectionStatement]
	Parc         *RecordStore[models.SubscriberRoster]
	Creance      *RecordStore[models.Receivable]
	Periodic     *RecordStore[models.PeriodicRevenue]
	NonPeriodic  *RecordStore[models.NonPeriodicRevenue]
	Adjustment   *RecordStore[models.AdjustmentRevenue]
	Refund       *RecordStore[models.RefundRevenue]
	Cancellation *RecordStore[models.CancellationRevenue]
}

// NewSourceStores creates the record stores of every source table
func NewSourceStores(db *gorm.DB) *SourceStores {
	return &SourceStores{
		Journal:      NewRecordStore[models.SalesJournal](db),
		Etat:         NewRecordStore[models.CollectionStatement](db),
		Parc:         NewRecordStore[models.SubscriberRoster](db),
		Creance:      NewRecordStore[models.Receivable](db),
		Periodic:     NewRecordStore[models.PeriodicRevenue](db),
		NonPeriodic:  NewRecordStore[models.NonPeriodicRevenue](db),
		Adjustment:   NewRecordStore[models.AdjustmentRevenue](db),
		Refund:       NewRecordStore[models.RefundRevenue](db),
		Cancellation: NewRecordStore[models.CancellationRevenue](db),
	}
}
