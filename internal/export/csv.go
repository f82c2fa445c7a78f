package export

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/source"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes records with the registry headers, UTF-8 with a byte
// order mark so spreadsheet programs pick the right charset. The output
// reads back through source.Parse.
func WriteCSV(w io.Writer, records []counterparty.Counterparty) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return eris.Wrap(err, "export: write csv")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(source.Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		if err := cw.Write(row(r)); err != nil {
			return eris.Wrapf(err, "export: write %s", r.TaxID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// row follows the order of source.Columns.
func row(c counterparty.Counterparty) []string {
	return []string{
		c.Name,
		c.Supplier,
		c.Quantity,
		c.TaxID,
		c.KPP,
		c.ParticipantID,
		c.Status,
		counterparty.FormatStatusDate(c.StatusChanged),
		c.OperatorOrgID,
		c.OperatorBoxID,
	}
}
