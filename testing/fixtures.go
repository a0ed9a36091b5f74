package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// Amount parses a decimal literal into a valid NullDecimal. It panics on bad input.
func Amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// Text returns a pointer to s
func Text(s string) *string {
	return utils.ToPtr(s)
}

// Date returns a UTC midnight date pointer
func Date(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

// CreateTestInvoice inserts an invoice with a unique number
func (tf *TestFixtures) CreateTestInvoice() (*models.Invoice, error) {
	invoice := &models.Invoice{
		InvoiceNumber: fmt.Sprintf("INV-%s", uuid.NewString()[:8]),
		Status:        models.InvoiceStatusCompleted,
		UploadedAt:    utils.UTCNow(),
	}
	if err := tf.DB.DB.Create(invoice).Error; err != nil {
		return nil, fmt.Errorf("failed to create test invoice: %w", err)
	}
	return invoice, nil
}

// CreateTestTerritory inserts a territory
func (tf *TestFixtures) CreateTestTerritory(code, name string, active bool) (*models.Territory, error) {
	territory := &models.Territory{Code: code, Name: name, IsActive: active}
	if err := tf.DB.DB.Create(territory).Error; err != nil {
		return nil, fmt.Errorf("failed to create territory %s: %w", code, err)
	}
	// is_active defaults to true at the column level, so a false value needs an explicit update
	if !active {
		if err := tf.DB.DB.Model(territory).Update("is_active", false).Error; err != nil {
			return nil, fmt.Errorf("failed to deactivate territory %s: %w", code, err)
		}
	}
	return territory, nil
}

// Insert stores rows in one batch
func Insert[T any](tf *TestFixtures, rows ...*T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := tf.DB.DB.Create(rows).Error; err != nil {
		var zero T
		return fmt.Errorf("failed to insert %T rows: %w", zero, err)
	}
	return nil
}

// CreateTestAnomaly inserts an anomaly of the given type created at the given time
func (tf *TestFixtures) CreateTestAnomaly(invoiceID uint, anomalyType, source string, createdAt time.Time) (*models.Anomaly, error) {
	anomaly := &models.Anomaly{
		InvoiceID:   invoiceID,
		Type:        anomalyType,
		Description: fmt.Sprintf("test %s %d", anomalyType, rand.Intn(1_000_000)),
		Data:        map[string]any{"record_id": rand.Intn(1_000_000)},
		DataSource:  source,
		Status:      models.AnomalyStatusOpen,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if err := tf.DB.DB.Create(anomaly).Error; err != nil {
		return nil, fmt.Errorf("failed to create test anomaly: %w", err)
	}
	return anomaly, nil
}

// JournalLine builds an unsaved sales journal row
func JournalLine(invoiceID uint, organization, invoiceNumber, revenue string) *models.SalesJournal {
	row := &models.SalesJournal{
		Organization:  Text(organization),
		InvoiceNumber: Text(invoiceNumber),
		InvoiceDate:   Date(2024, time.March, 1),
		AccountCode:   Text("706100"),
		RevenueAmount: Amount(revenue),
	}
	row.InvoiceID = invoiceID
	return row
}

// CollectionLine builds an unsaved collection statement row
func CollectionLine(invoiceID uint, organization, invoiceNumber, collected string) *models.CollectionStatement {
	row := &models.CollectionStatement{
		Organization:    Text(organization),
		InvoiceNumber:   Text(invoiceNumber),
		InvoiceType:     Text("FACT"),
		InvoiceDate:     Date(2024, time.March, 1),
		CollectionDate:  Date(2024, time.April, 1),
		InvoiceAmount:   Amount(collected),
		CollectedAmount: Amount(collected),
	}
	row.InvoiceID = invoiceID
	return row
}

// RosterLine builds an unsaved subscriber roster row
func RosterLine(invoiceID uint, customerCode, tierCode string) *models.SubscriberRoster {
	row := &models.SubscriberRoster{
		CustomerCode:     Text(customerCode),
		CustomerName:     Text("Customer " + customerCode),
		CustomerTierCode: Text(tierCode),
		OfferName:        Text("Business Fiber"),
		SubscriberStatus: Text("active"),
	}
	row.InvoiceID = invoiceID
	return row
}
