// Package businessflow contains the anomaly scanner, the business rule cleaner and the DOT repair flow
package businessflow

import (
	"errors"
)

// Business flow error constants
var (
	// Scan errors
	ErrScanLocked   = errors.New("a scan is already running for this scope")
	ErrScanPanicked = errors.New("scan panicked")

	// Cleaning errors
	ErrUnknownTable = errors.New("unknown source table")
)

func IsScanLocked(err error) bool {
	return errors.Is(err, ErrScanLocked)
}

func IsUnknownTable(err error) bool {
	return errors.Is(err, ErrUnknownTable)
}
