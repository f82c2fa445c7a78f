// Package status summarizes company registries by status label.
package status

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/registry"
)

// NoStatus labels records that carry no status.
const NoStatus = "(без статуса)"

// LabelCount is the number of records carrying one status label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CompanyStatus holds the registry summary of one company.
type CompanyStatus struct {
	Company      string       `json:"company"`
	Name         string       `json:"name"`
	Total        int          `json:"total"`
	Labels       []LabelCount `json:"labels"`
	LastChange   time.Time    `json:"lastChange,omitzero"`
	LastChangeBy string       `json:"lastChangeTaxId,omitempty"`
}

// Count returns the number of records with label.
func (s CompanyStatus) Count(label string) int {
	for _, l := range s.Labels {
		if l.Label == label {
			return l.Count
		}
	}
	return 0
}

// Summarize counts records per status label, most frequent first, and
// finds the latest status change.
func Summarize(company counterparty.Company, records []counterparty.Counterparty) CompanyStatus {
	s := CompanyStatus{Company: company.Code, Name: company.Name, Total: len(records)}
	counts := map[string]int{}
	for _, r := range records {
		label := r.Status
		if label == "" {
			label = NoStatus
		}
		counts[label]++
		if r.StatusChanged.After(s.LastChange) {
			s.LastChange = r.StatusChanged
			s.LastChangeBy = r.TaxID
		}
	}
	for label, n := range counts {
		s.Labels = append(s.Labels, LabelCount{Label: label, Count: n})
	}
	sort.Slice(s.Labels, func(i, j int) bool {
		if s.Labels[i].Count != s.Labels[j].Count {
			return s.Labels[i].Count > s.Labels[j].Count
		}
		return s.Labels[i].Label < s.Labels[j].Label
	})
	return s
}

// Collect summarizes every company's registry.
func Collect(ctx context.Context, store registry.Store, companies []counterparty.Company) ([]CompanyStatus, error) {
	out := make([]CompanyStatus, 0, len(companies))
	for _, c := range companies {
		records, err := store.List(ctx, c.Code)
		if err != nil {
			return nil, eris.Wrapf(err, "status: list %s", c.Code)
		}
		out = append(out, Summarize(c, records))
	}
	return out, nil
}
