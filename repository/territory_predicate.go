package repository

import (
	"fmt"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/utils"
)

// TerritoryMatchExpr builds a boolean SQL expression that is TRUE when the
// row of table resolves to target through any of its representations: the
// referenced territory's name or code, or the legacy dot_code text compared
// with the target and with its normalized form. The expression never yields
// NULL.
func TerritoryMatchExpr(table string, withLegacy bool, target string) (string, []any) {
	territories := models.Territory{}.TableName()
	expr := fmt.Sprintf(
		"COALESCE(%s.dot_id IN (SELECT id FROM %s WHERE LOWER(name) = LOWER(?) OR LOWER(code) = LOWER(?)), FALSE)",
		table, territories,
	)
	args := []any{target, target}
	if withLegacy {
		expr += fmt.Sprintf(
			" OR COALESCE(LOWER(TRIM(%s.dot_code)) IN (LOWER(?), ?), FALSE)",
			table,
		)
		args = append(args, target, utils.NormalizeTerritory(target))
	}
	return "(" + expr + ")", args
}

// MatchesTerritory keeps rows whose territory resolves to target
func MatchesTerritory(table string, withLegacy bool, target string) Predicate {
	expr, args := TerritoryMatchExpr(table, withLegacy, target)
	return Where(expr, args...)
}

// NotMatchesTerritory keeps rows whose territory does not resolve to target,
// including rows with no territory at all
func NotMatchesTerritory(table string, withLegacy bool, target string) Predicate {
	expr, args := TerritoryMatchExpr(table, withLegacy, target)
	return Where("NOT "+expr, args...)
}
