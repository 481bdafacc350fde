package auth

import (
	"net/mail"
	"regexp"
	"strings"
)

var nameRegex = regexp.MustCompile(`^[\pL\pN_. ]+$`)

// ValidateEmail parses and normalizes an email address, returning the normalized form. Returns
// ErrInvalidEmail if the format is invalid.
func ValidateEmail(email string) (normalized string, err error) {
	addr, parseErr := mail.ParseAddress(email)
	if parseErr != nil {
		return "", ErrInvalidEmail
	}

	normalized = strings.ToLower(addr.Address)
	parts := strings.SplitN(normalized, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

// ValidateName checks that a display name is 2-32 characters and contains only letters, digits,
// underscores, periods, and spaces (§3).
func ValidateName(name string) error {
	if len(name) < 2 || len(name) > 32 {
		return ErrUsernameLength
	}
	if !nameRegex.MatchString(name) {
		return ErrUsernameInvalidChars
	}
	return nil
}

// ValidatePassword checks that a password is between 8 and 128 characters (§3).
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	if len(password) > 128 {
		return ErrPasswordTooLong
	}
	return nil
}
