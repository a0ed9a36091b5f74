package models

import "time"

// TerritoryCodeMaxLength bounds Territory.Code
const TerritoryCodeMaxLength = 10

// HeadquartersTerritory is the display name of the head-office territory
const HeadquartersTerritory = "Siège"

// Territory is the canonical regional directorate ("DOT") referenced by source rows.
// Table: territories
type Territory struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Code     string `gorm:"size:10;not null;uniqueIndex:uk_territories_code" json:"code"`
	Name     string `gorm:"size:255;not null" json:"name"`
	IsActive bool   `gorm:"not null;default:true;index:idx_territories_is_active" json:"is_active"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Territory) TableName() string { return "territories" }

// TerritoryFilter represents filter criteria for territory queries
type TerritoryFilter struct {
	ID       *uint
	Code     *string
	IsActive *bool
}
