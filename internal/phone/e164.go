// Package phone normalizes dialable input into E.164.
//
// The accepted shapes are a policy, not a parser: digits are extracted, a
// 10-digit national number gets the default country code, an 11-digit number
// that already starts with the default country code gets a leading '+', and
// '+'-prefixed input is kept as its digits. Anything else either falls back to
// the default country code or, in strict mode, is rejected.
package phone

import (
	"errors"
	"strings"
)

var ErrInvalidNumber = errors.New("phone: invalid number")

const (
	minE164Digits = 8
	maxE164Digits = 15
)

type Policy struct {
	// DefaultCountryCode without '+', e.g. "1".
	DefaultCountryCode string
	// Strict rejects input outside the recognized shapes.
	Strict bool
}

// DefaultPolicy assumes North American numbering.
func DefaultPolicy() Policy { return Policy{DefaultCountryCode: "1"} }

// Normalize returns the E.164 form of raw.
func (p Policy) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	digits := Digits(raw)
	if digits == "" {
		return "", ErrInvalidNumber
	}
	cc := p.DefaultCountryCode
	if cc == "" {
		cc = "1"
	}

	var out string
	switch {
	case strings.HasPrefix(raw, "+"):
		out = "+" + digits
	case len(digits) == 10:
		out = "+" + cc + digits
	case len(digits) == 10+len(cc) && strings.HasPrefix(digits, cc):
		out = "+" + digits
	case p.Strict:
		return "", ErrInvalidNumber
	default:
		out = "+" + cc + digits
	}

	if n := len(out) - 1; n < minE164Digits || n > maxE164Digits {
		return "", ErrInvalidNumber
	}
	return out, nil
}

// Equal reports whether two inputs normalize to the same E.164 number.
func (p Policy) Equal(a, b string) bool {
	na, err := p.Normalize(a)
	if err != nil {
		return false
	}
	nb, err := p.Normalize(b)
	if err != nil {
		return false
	}
	return na == nb
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
