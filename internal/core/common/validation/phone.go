package validation

import (
	"errors"
	"strings"
)

// msisdnLength is the full international length the gateway expects:
// country code 254 plus a 9-digit subscriber number.
const msisdnLength = 12

var (
	ErrPhoneNotNumeric = errors.New("phone number must contain only digits")
	ErrPhoneBadFormat  = errors.New("phone number must be a Kenyan mobile number (07..., 01..., 2547..., 2541...)")
)

// NormalizeMSISDN converts the accepted local input formats to the
// 254XXXXXXXXX form required by the STK push API:
//
//	0712345678   -> 254712345678
//	0112345678   -> 254112345678
//	+254712345678 -> 254712345678
//	254712345678 -> 254712345678
//	712345678    -> 254712345678
func NormalizeMSISDN(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "+")

	if s == "" {
		return "", ErrPhoneBadFormat
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", ErrPhoneNotNumeric
		}
	}

	switch {
	case len(s) == 10 && s[0] == '0':
		s = "254" + s[1:]
	case len(s) == 9 && (s[0] == '7' || s[0] == '1'):
		s = "254" + s
	}

	if len(s) != msisdnLength || !strings.HasPrefix(s, "254") {
		return "", ErrPhoneBadFormat
	}
	if s[3] != '7' && s[3] != '1' {
		return "", ErrPhoneBadFormat
	}

	return s, nil
}
