package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOf(t *testing.T) {
	tests := map[string]string{
		AnomalyTypeDuplicateData:   SeverityCritical,
		AnomalyTypeInvalidDot:      SeverityCritical,
		AnomalyTypeOutlier:         SeverityHigh,
		AnomalyTypeMissingRecord:   SeverityHigh,
		AnomalyTypeZeroValue:       SeverityMedium,
		AnomalyTypeTemporalPattern: SeverityMedium,
		AnomalyTypeEmptyField:      SeverityLow,
		AnomalyTypeDotMismatch:     SeverityMedium,
		AnomalyTypeAmountMismatch:  SeverityMedium,
		"something_new":            SeverityMedium,
	}
	for anomalyType, want := range tests {
		assert.Equal(t, want, SeverityOf(anomalyType), anomalyType)
	}
}

func TestExplicitlyMappedTypesExcludeMedium(t *testing.T) {
	mapped := ExplicitlyMappedTypes()
	assert.ElementsMatch(t, []string{
		AnomalyTypeEmptyField,
		AnomalyTypeDuplicateData,
		AnomalyTypeOutlier,
		AnomalyTypeMissingRecord,
		AnomalyTypeInvalidDot,
	}, mapped)
	for _, ty := range mapped {
		assert.NotEqual(t, SeverityMedium, SeverityOf(ty))
	}
}

func TestTypesWithSeverity(t *testing.T) {
	assert.ElementsMatch(t, []string{AnomalyTypeDuplicateData, AnomalyTypeInvalidDot}, TypesWithSeverity(SeverityCritical))
	assert.ElementsMatch(t, []string{AnomalyTypeEmptyField}, TypesWithSeverity(SeverityLow))
}

func TestCapabilities(t *testing.T) {
	assert.Len(t, Capabilities, 9)
	assert.Equal(t, []string{"journal_ventes", "etat_encaissements", "parc_corporate"}, HeadlineTables())

	parc, ok := CapabilityFor(DataSourceParc)
	assert.True(t, ok)
	assert.True(t, parc.HasDotReference)
	assert.False(t, parc.HasLegacyDotCode)

	_, ok = CapabilityFor("unknown")
	assert.False(t, ok)
}
