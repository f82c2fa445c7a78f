// Package export writes a company registry out as CSV or JSON.
package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// RegistryExport is the top-level JSON export structure.
type RegistryExport struct {
	Company    string                      `json:"company"`
	ExportedAt string                      `json:"exportedAt"`
	Records    []counterparty.Counterparty `json:"records"`
}

// WriteJSON writes records as an indented RegistryExport.
func WriteJSON(w io.Writer, company string, records []counterparty.Counterparty, now time.Time) error {
	if records == nil {
		records = []counterparty.Counterparty{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	err := enc.Encode(RegistryExport{
		Company:    company,
		ExportedAt: now.UTC().Format(time.RFC3339),
		Records:    records,
	})
	return eris.Wrap(err, "export: write json")
}
