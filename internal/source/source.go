// Package source reads counterparty listings exported from accounting
// spreadsheets. Encoding and delimiter are not known in advance, so every
// combination is tried until one yields a multi-column header.
package source

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// Registry column headers, in file order.
const (
	ColName          = "Название организации"
	ColSupplier      = "Поставщик"
	ColQuantity      = "Количество"
	ColTaxID         = "ИНН"
	ColKPP           = "КПП"
	ColParticipantID = "Идентификатор участника ЭДО"
	ColStatus        = "Статус"
	ColStatusChanged = "Дата изменения статуса"
	ColOperatorOrgID = "ID организации"
	ColOperatorBoxID = "ID ящика"
)

// Columns lists the registry headers in the order they are written.
var Columns = []string{
	ColName, ColSupplier, ColQuantity, ColTaxID, ColKPP,
	ColParticipantID, ColStatus, ColStatusChanged, ColOperatorOrgID, ColOperatorBoxID,
}

// Alternative spellings of the organization name column.
var nameAliases = []string{"Юр.лицо", "Юр. лицо", "Название", "Организация"}

var delimiters = []rune{';', ',', '\t'}

type encoding struct {
	name   string
	decode func([]byte) ([]byte, bool)
}

var encodings = []encoding{
	{"cp1251", decodeCP1251},
	{"utf-8-sig", decodeUTF8SIG},
	{"utf-8", decodeUTF8},
	{"latin1", decodeLatin1},
}

// Table is a decoded listing. Every cell is kept as text.
type Table struct {
	Encoding  string
	Delimiter rune
	Header    []string
	Rows      [][]string
}

// ReadFile reads and sniffs a listing from disk. A path of "-" reads
// standard input.
func ReadFile(path string) (*Table, error) {
	if path == "-" {
		return Read(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close()
	t, err := Read(f)
	if err != nil {
		return nil, eris.Wrapf(err, "source: %s", path)
	}
	return t, nil
}

// Read sniffs a listing from r.
func Read(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "source: read")
	}
	return Parse(data)
}

// Parse tries each encoding against each delimiter and keeps the first
// combination whose header has more than one column.
func Parse(data []byte) (*Table, error) {
	for _, enc := range encodings {
		text, ok := enc.decode(data)
		if !ok {
			continue
		}
		for _, delim := range delimiters {
			records, err := readAll(text, delim)
			if err != nil || len(records) == 0 || len(records[0]) < 2 {
				continue
			}
			header := make([]string, len(records[0]))
			for i, h := range records[0] {
				header[i] = strings.TrimSpace(h)
			}
			return &Table{
				Encoding:  enc.name,
				Delimiter: delim,
				Header:    header,
				Rows:      records[1:],
			}, nil
		}
	}
	return nil, eris.New("source: no encoding and delimiter combination produced a multi-column header")
}

func readAll(text []byte, delim rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// Index returns the position of a column, or -1. The organization name
// column is also found under its aliases.
func (t *Table) Index(col string) int {
	for i, h := range t.Header {
		if h == col {
			return i
		}
	}
	if col == ColName {
		for _, alias := range nameAliases {
			for i, h := range t.Header {
				if h == alias {
					return i
				}
			}
		}
	}
	return -1
}

// Counterparties converts rows into normalized records. Rows whose tax ID
// cleans to nothing are dropped; duplicates are kept in file order.
func (t *Table) Counterparties() []counterparty.Counterparty {
	idx := make(map[string]int, len(Columns))
	for _, c := range Columns {
		idx[c] = t.Index(c)
	}
	cell := func(row []string, col string) string {
		i := idx[col]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]counterparty.Counterparty, 0, len(t.Rows))
	for _, row := range t.Rows {
		c := counterparty.Counterparty{
			Name:          cell(row, ColName),
			Supplier:      cell(row, ColSupplier),
			Quantity:      cell(row, ColQuantity),
			TaxID:         cell(row, ColTaxID),
			KPP:           cell(row, ColKPP),
			ParticipantID: cell(row, ColParticipantID),
			Status:        cell(row, ColStatus),
			OperatorOrgID: cell(row, ColOperatorOrgID),
			OperatorBoxID: cell(row, ColOperatorBoxID),
		}
		c.StatusChanged, _ = counterparty.ParseStatusDate(cell(row, ColStatusChanged))
		c.Normalize()
		if c.TaxID == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Unique drops repeated tax IDs, keeping the first occurrence.
func Unique(rows []counterparty.Counterparty) []counterparty.Counterparty {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		if seen[r.TaxID] {
			continue
		}
		seen[r.TaxID] = true
		out = append(out, r)
	}
	return out
}

// ---------- decoders ----------

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Windows-1251 maps every byte, so it would happily turn UTF-8 into
// mojibake. It is refused when the input already is non-ASCII UTF-8.
func decodeCP1251(data []byte) ([]byte, bool) {
	if bytes.HasPrefix(data, utf8BOM) || (utf8.Valid(data) && !isASCII(data)) {
		return nil, false
	}
	out, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return nil, false
	}
	return out, true
}

func decodeUTF8SIG(data []byte) ([]byte, bool) {
	if !bytes.HasPrefix(data, utf8BOM) {
		return nil, false
	}
	return decodeUTF8(data[len(utf8BOM):])
}

func decodeUTF8(data []byte) ([]byte, bool) {
	if !utf8.Valid(data) {
		return nil, false
	}
	return data, true
}

func decodeLatin1(data []byte) ([]byte, bool) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return out, err == nil
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
