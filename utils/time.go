// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// DaysAgo returns the UTC instant n days before now
func DaysAgo(n int) time.Time {
	return UTCNow().AddDate(0, 0, -n)
}
