package util

import (
	"regexp"
)

var sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// IsValidSessionID accepts ids that are safe as path segments and keys.
func IsValidSessionID(s string) bool {
	return sessionIDRegex.MatchString(s)
}
