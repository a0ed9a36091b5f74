package businessflow

import (
	"context"
	"fmt"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DotRepairFlow rewrites legacy dot_code text from the referenced territory
type DotRepairFlow interface {
	RepairDotCodes(ctx context.Context) (map[string]int64, error)
}

// DotRepairFlowImpl implements DotRepairFlow
type DotRepairFlowImpl struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewDotRepairFlow creates a new DOT repair flow
func NewDotRepairFlow(db *gorm.DB, logger *logrus.Logger) DotRepairFlow {
	return &DotRepairFlowImpl{db: db, logger: logger}
}

// RepairDotCodes sets dot_code to the code of the territory dot_id points at,
// for every table that still carries the legacy column. Rows without dot_id
// are left alone. A code equal to the territory code after trimming and case
// folding is already consistent, the same rule the dot_mismatch scan applies,
// so only blank and mismatching codes are rewritten. The whole repair is one
// transaction; the result maps table name to rows updated.
func (f *DotRepairFlowImpl) RepairDotCodes(ctx context.Context) (map[string]int64, error) {
	territories := models.Territory{}.TableName()
	updated := make(map[string]int64)

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		for _, capability := range models.Capabilities {
			if !capability.HasLegacyDotCode {
				continue
			}
			n, err := repository.Exec(txCtx, f.db, fmt.Sprintf(
				"UPDATE %[1]s SET dot_code = t.code FROM %[2]s t WHERE %[1]s.dot_id = t.id AND "+
					"(NULLIF(TRIM(%[1]s.dot_code), '') IS NULL OR LOWER(TRIM(%[1]s.dot_code)) <> LOWER(t.code))",
				capability.Table, territories,
			))
			if err != nil {
				return fmt.Errorf("failed to repair dot codes of %s: %w", capability.Table, err)
			}
			updated[capability.Table] = n
		}
		return nil
	})
	if err != nil {
		f.logger.WithError(err).Error("DOT code repair failed")
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{"updated": updated}).Info("DOT codes repaired")
	return updated, nil
}
