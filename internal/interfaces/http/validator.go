package http

import "regexp"

const (
	MaxUsernameLength = 64
	MinPasswordLength = 6
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	phoneRe    = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// ValidUsername checks if a username is safe (alphanumeric + underscore + hyphen)
func ValidUsername(s string) bool {
	if s == "" || len(s) > MaxUsernameLength {
		return false
	}
	return usernameRe.MatchString(s)
}

// ValidPhone checks for an E.164-ish phone number.
func ValidPhone(s string) bool {
	return phoneRe.MatchString(s)
}
