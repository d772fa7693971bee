// Package phone canonicalizes Egyptian phone-number input into a WhatsApp
// JID. The rewrite rules intentionally mirror the formats seen in the wild:
// international prefixes, doubled country codes and local trunk forms.
package phone

import (
	"fmt"
	"strings"

	notifyerrors "fleet-notify/pkg/errors"
)

// JIDSuffix is the canonical WhatsApp address suffix
const JIDSuffix = "@s.whatsapp.net"

// CountryCode is the Egyptian dialing code
const CountryCode = "20"

var mobilePrefixes = []string{"10", "11", "12", "15"}

// Normalize converts an arbitrary phone-number format into a canonical JID.
// It is pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
//
//	01012345678     -> 201012345678@s.whatsapp.net
//	0020101234567x  -> 20...@s.whatsapp.net
//	2001012345678   -> 201012345678@s.whatsapp.net
//	1012345678      -> 201012345678@s.whatsapp.net
func Normalize(raw string) (string, error) {
	// Already a fully-qualified recipient identifier
	if strings.Contains(raw, "@") {
		return raw, nil
	}

	cleaned := stripNonDigits(raw)

	// International form with 00: 0020... -> 20...
	if strings.HasPrefix(cleaned, "00"+CountryCode) {
		cleaned = cleaned[2:]
	}

	// Doubled country code: 200... of length >= 13 -> 20...
	if strings.HasPrefix(cleaned, CountryCode+"0") && len(cleaned) >= 13 {
		cleaned = CountryCode + cleaned[3:]
	}

	// Local trunk form: 01xxxxxxxxx -> 201xxxxxxxxx
	if strings.HasPrefix(cleaned, "0") && len(cleaned) == 11 {
		cleaned = CountryCode + cleaned[1:]
	}

	// Bare 10-digit subscriber number: 10/11/12/15xxxxxxxx -> 20...
	if len(cleaned) == 10 && hasMobilePrefix(cleaned) {
		cleaned = CountryCode + cleaned
	}

	if len(cleaned) < 10 {
		return "", fmt.Errorf("%w: %q (too short)", notifyerrors.ErrInvalidPhoneNumber, raw)
	}
	if len(cleaned) > 15 {
		return "", fmt.Errorf("%w: %q (too long)", notifyerrors.ErrInvalidPhoneNumber, raw)
	}

	return cleaned + JIDSuffix, nil
}

// BareDigits returns the digits of a normalized JID without the suffix.
// The pairing-code transport call wants the bare number.
func BareDigits(jid string) string {
	return strings.TrimSuffix(jid, JIDSuffix)
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hasMobilePrefix(s string) bool {
	for _, p := range mobilePrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
