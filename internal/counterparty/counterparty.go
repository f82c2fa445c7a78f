// Package counterparty holds the record types shared by every stage of
// agreement processing: the counterparty row, the sending company, the
// resolved representative, and the error kinds stages report.
package counterparty

import (
	"strings"
	"time"
)

// Status labels written to the registry.
const (
	StatusSent         = "Отправлено через Диадок"
	StatusSendSkipped  = "Отправка пропущена"
	SoleProprietorMark = "ИП"
)

// Counterparty is one row of a company registry. TaxID is always the
// digit-only form produced by CleanTaxID.
type Counterparty struct {
	TaxID         string    `json:"tax_id"`
	Name          string    `json:"name"`
	Supplier      string    `json:"supplier,omitempty"`
	Quantity      string    `json:"quantity,omitempty"`
	KPP           string    `json:"kpp,omitempty"`
	ParticipantID string    `json:"participant_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	StatusChanged time.Time `json:"status_changed,omitzero"`
	OperatorOrgID string    `json:"operator_org_id,omitempty"`
	OperatorBoxID string    `json:"operator_box_id,omitempty"`
}

// Normalize cleans the identifier columns in place. Registration codes are
// dropped for sole proprietors, who never have one.
func (c *Counterparty) Normalize() {
	c.TaxID = CleanTaxID(c.TaxID)
	c.KPP = CleanTaxID(c.KPP)
	c.Name = strings.TrimSpace(c.Name)
	if len(c.TaxID) == soleProprietorLen {
		c.KPP = ""
	}
}

// HasStatusDate reports whether the row carries a parseable status-change date.
func (c Counterparty) HasStatusDate() bool {
	return !c.StatusChanged.IsZero()
}

// ChangedWithin reports whether the status-change date falls inside the
// inclusive day range [from, to]. Rows without a date never match.
func (c Counterparty) ChangedWithin(from, to time.Time) bool {
	if !c.HasStatusDate() {
		return false
	}
	d := truncateDay(c.StatusChanged)
	return !d.Before(truncateDay(from)) && !d.After(truncateDay(to))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Representative is the signer resolved for a tax ID.
type Representative struct {
	Title    string `json:"title"`
	FullName string `json:"full_name"`
}

// IsSoleProprietor reports whether the title is the sole-proprietor sentinel.
func (r Representative) IsSoleProprietor() bool {
	return r.Title == SoleProprietorMark
}

// Company is one of the configured sending legal entities. Code namespaces
// the registry and the template set.
type Company struct {
	Code        string
	Name        string
	SenderTaxID string
	SenderKPP   string
	Templates   map[LegalForm]string
}

// Status dates are written as "dd.mm.yyyy HH:MM". Reading also accepts a
// bare date and a trailing seconds field.
const StatusDateLayout = "02.01.2006 15:04"

var statusDateLayouts = []string{
	"02.01.2006 15:04:05",
	StatusDateLayout,
	"02.01.2006",
	"2.1.2006",
}

// ParseStatusDate parses a registry status-change date in local time.
func ParseStatusDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range statusDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	// Only the date token matters for period filtering.
	if first, _, ok := strings.Cut(s, " "); ok {
		if t, err := time.ParseInLocation("02.01.2006", first, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatStatusDate is the inverse of ParseStatusDate. The zero time
// renders as an empty string.
func FormatStatusDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(StatusDateLayout)
}
