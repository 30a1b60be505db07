package util

import (
	"errors"
	"strings"
)

const (
	UserServer  = "s.whatsapp.net"
	GroupServer = "g.us"
)

var ErrInvalidAddress = errors.New("address has no digits")

// NormalizeRecipient turns a phone number in any common notation into the
// network address form. Input that already carries a server part is returned
// unchanged, so normalizing twice is a no-op. A national number with a
// leading zero gets countryCode in place of the zero.
func NormalizeRecipient(input, countryCode string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "@") {
		if strings.HasPrefix(input, "@") {
			return "", ErrInvalidAddress
		}
		return input, nil
	}

	digits := DigitsOnly(input)
	if digits == "" {
		return "", ErrInvalidAddress
	}
	if strings.HasPrefix(digits, "0") && countryCode != "" {
		digits = countryCode + strings.TrimLeft(digits, "0")
	}
	return digits + "@" + UserServer, nil
}

func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func IsGroupAddress(address string) bool {
	return strings.HasSuffix(address, "@"+GroupServer)
}

// PhoneFromAddress strips the server and device parts of a user address.
func PhoneFromAddress(address string) string {
	user, _, _ := strings.Cut(address, "@")
	user, _, _ = strings.Cut(user, ":")
	user, _, _ = strings.Cut(user, ".")
	return user
}

// NormalizeGroup appends the group server to a bare group id.
func NormalizeGroup(input string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "@") {
		if strings.HasPrefix(input, "@") {
			return "", ErrInvalidAddress
		}
		return input, nil
	}
	if input == "" || DigitsOnly(strings.ReplaceAll(input, "-", "")) != strings.ReplaceAll(input, "-", "") {
		return "", ErrInvalidAddress
	}
	return input + "@" + GroupServer, nil
}
