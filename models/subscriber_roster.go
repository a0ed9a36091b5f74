package models

import "github.com/shopspring/decimal"

// SubscriberRoster is one corporate subscriber line ("parc corporate").
// Table: parc_corporate
// The roster carries no legacy free-text DOT column, only dot_id.
type SubscriberRoster struct {
	SourceRecordBase

	CustomerCode     *string             `gorm:"size:100;index" json:"customer_code,omitempty"`
	CustomerName     *string             `gorm:"size:255;index" json:"customer_name,omitempty"`
	CustomerTierCode *string             `gorm:"size:20" json:"customer_tier_code,omitempty"`
	OfferName        *string             `gorm:"size:255" json:"offer_name,omitempty"`
	SubscriberStatus *string             `gorm:"size:50" json:"subscriber_status,omitempty"`
	TelecomType      *string             `gorm:"size:50" json:"telecom_type,omitempty"`
	PreTaxAmount     decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"pre_tax_amount"`
	DiscountPercent  decimal.NullDecimal `gorm:"type:numeric(7,2)" json:"discount_percent"`
	TotalAmount      decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"total_amount"`
	MonthlyFee       decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"monthly_fee"`
}

func (SubscriberRoster) TableName() string { return "parc_corporate" }

func (s *SubscriberRoster) LegacyTerritoryCode() *string { return nil }
func (s *SubscriberRoster) OrganizationName() string     { return textValue(s.CustomerName) }
