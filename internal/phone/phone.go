// Package phone holds the phone-number rules used by the verification flow:
// digit sanitising, per-country validation, and the supported country list.
package phone

import (
	"regexp"
	"strings"
)

const (
	// DefaultCountryCode is selected when nothing is configured.
	DefaultCountryCode = "+91"

	// StrictCountryCode is the one code with a national numbering rule.
	// It does not follow the configured default country.
	StrictCountryCode = "+91"

	// MaxDigits caps national numbers; the lenient rule never accepts more.
	MaxDigits = 15

	minLenientDigits = 10
)

var strictPattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)

// Country describes one entry of the country selector.
type Country struct {
	Code string
	Name string
}

// DefaultCountries is used when no list is configured. The default country is first.
var DefaultCountries = []Country{
	{Code: "+91", Name: "India"},
	{Code: "+1", Name: "United States"},
	{Code: "+44", Name: "United Kingdom"},
	{Code: "+61", Name: "Australia"},
	{Code: "+971", Name: "United Arab Emirates"},
}

// Candidate is the number being typed on the phone stage.
type Candidate struct {
	CountryCode    string
	NationalNumber string
}

// NewCandidate builds a candidate, sanitising the national part.
func NewCandidate(countryCode, raw string) Candidate {
	return Candidate{
		CountryCode:    NormalizeCountryCode(countryCode),
		NationalNumber: SanitizeDigits(raw),
	}
}

// Valid reports whether the candidate passes Validate.
func (c Candidate) Valid() bool {
	return Validate(c.CountryCode, c.NationalNumber)
}

// Full returns the fully-qualified number, e.g. +919876543210.
func (c Candidate) Full() string {
	return c.CountryCode + c.NationalNumber
}

// SanitizeDigits strips everything except ASCII digits and truncates the
// result to MaxDigits.
func SanitizeDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r < '0' || r > '9' {
			continue
		}
		if b.Len() == MaxDigits {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Validate checks a national number against its country's rule. +91
// requires exactly ten digits starting with 6-9; every other code accepts
// 10-15 digits.
func Validate(countryCode, national string) bool {
	if NormalizeCountryCode(countryCode) == StrictCountryCode {
		return strictPattern.MatchString(national)
	}
	if len(national) < minLenientDigits || len(national) > MaxDigits {
		return false
	}
	for _, r := range national {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeCountryCode trims the code and makes sure it carries a leading '+'.
func NormalizeCountryCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if !strings.HasPrefix(code, "+") {
		code = "+" + code
	}
	return code
}

// IndexOf returns the position of code in countries, or -1.
func IndexOf(countries []Country, code string) int {
	code = NormalizeCountryCode(code)
	for i, c := range countries {
		if NormalizeCountryCode(c.Code) == code {
			return i
		}
	}
	return -1
}

// Mask hides all but the country code and the last four digits, for logs.
func Mask(full string) string {
	digits := []rune(full)
	keepHead := 0
	if strings.HasPrefix(full, "+") {
		keepHead = 3
	}
	if len(digits) <= keepHead+4 {
		return full
	}
	for i := keepHead; i < len(digits)-4; i++ {
		digits[i] = '*'
	}
	return string(digits)
}
