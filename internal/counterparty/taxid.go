package counterparty

import (
	"strconv"
	"strings"
)

const (
	organizationLen   = 10
	soleProprietorLen = 12
)

// LegalForm selects the processing branch and the template for a
// counterparty.
type LegalForm int

const (
	FormUnknown LegalForm = iota
	FormOrganization
	FormSoleProprietor
)

func (f LegalForm) String() string {
	switch f {
	case FormOrganization:
		return "organization"
	case FormSoleProprietor:
		return "sole_proprietor"
	default:
		return "unknown"
	}
}

// ParseLegalForm is the inverse of String.
func ParseLegalForm(s string) (LegalForm, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "organization", "ooo", "ul":
		return FormOrganization, true
	case "sole_proprietor", "ip":
		return FormSoleProprietor, true
	default:
		return FormUnknown, false
	}
}

// CleanTaxID turns a spreadsheet-mangled identifier into its digit-only
// form. Scientific notation ("7.84806E+11") is resolved to an integer
// string, a trailing ".0" is dropped and every non-digit is removed.
// Applying it twice yields the same value.
func CleanTaxID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.Join(strings.Fields(s), "")

	if strings.ContainsAny(s, "eE") {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil && f >= 0 {
			s = strconv.FormatFloat(f, 'f', 0, 64)
		}
	}

	s = strings.TrimSuffix(s, ".0")
	s = strings.TrimSuffix(s, ",0")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Classify routes a cleaned tax ID by length: 12 digits is a sole
// proprietor, 10 an organization. Anything else is a ClassificationFailure.
func Classify(taxID string) (LegalForm, error) {
	switch len(taxID) {
	case soleProprietorLen:
		return FormSoleProprietor, nil
	case organizationLen:
		return FormOrganization, nil
	default:
		return FormUnknown, Errorf(KindClassification, taxID, "tax ID has %d digits, want %d or %d",
			len(taxID), organizationLen, soleProprietorLen)
	}
}
