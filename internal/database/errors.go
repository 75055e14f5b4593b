package database

import "strings"

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
// Both sqlite drivers in use report the constraint in the message text.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
