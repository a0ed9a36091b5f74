// Package utils provides utility functions for the application.
package utils

import "strings"

func ToPtr[T any](v T) *T {
	return &v
}

// IsBlank reports whether a nullable text value is nil or only whitespace
func IsBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// Deref returns the pointed-to value or the zero value
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
