// Package docfill produces agreement documents by substituting
// placeholders in .docx templates.
//
// A .docx file is a zip archive; text lives in word/document.xml and the
// header and footer parts. Word splits a paragraph's text across runs at
// arbitrary points, so a placeholder is matched against the whole
// paragraph text. When a paragraph changes, its text is put into the first
// run and the remaining runs are emptied, which keeps the first run's
// formatting. Placeholders with no value stay in the document as written.
package docfill

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// Placeholder names. Templates write them as {{name}}; {name} is accepted
// for older templates.
const (
	KeySoleProprietor      = "IP"
	KeySoleProprietorTaxID = "IP_INN"
	KeyShortName           = "fio"
	KeyOrganization        = "JL"
	KeyOrganizationTaxID   = "JL_INN"
	KeyOrganizationKPP     = "JL_KPP"
	KeyTitle               = "post"
	KeyTitleGenitive       = "post_fixed"
	KeyNameGenitive        = "fio_fixed"
	KeyDay                 = "dd"
	KeyMonth               = "mm"
	KeyYear                = "yy"
)

var genitiveMonths = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// DateFields returns the date placeholders for t: two-digit day, month
// name in the genitive and four-digit year.
func DateFields(t time.Time) map[string]string {
	return map[string]string{
		KeyDay:   fmt.Sprintf("%02d", t.Day()),
		KeyMonth: genitiveMonths[t.Month()-1],
		KeyYear:  fmt.Sprintf("%d", t.Year()),
	}
}

// SoleProprietorFields maps a sole proprietor onto template placeholders.
// fullName is the nominative "Surname Name Patronymic".
func SoleProprietorFields(taxID, fullName string) map[string]string {
	return map[string]string{
		KeySoleProprietor:      counterparty.SoleProprietorMark + " " + fullName,
		KeySoleProprietorTaxID: taxID,
		KeyShortName:           counterparty.ShortName(fullName),
	}
}

// OrganizationFields maps an organization onto template placeholders. The
// genitive pair fills the "in the person of" clause.
func OrganizationFields(name, taxID, kpp string, rep counterparty.Representative, genTitle, genName string) map[string]string {
	return map[string]string{
		KeyOrganization:      name,
		KeyOrganizationTaxID: taxID,
		KeyOrganizationKPP:   kpp,
		KeyTitle:             rep.Title,
		KeyShortName:         counterparty.ShortName(rep.FullName),
		KeyTitleGenitive:     genTitle,
		KeyNameGenitive:      genName,
	}
}

// Request describes one document to produce.
type Request struct {
	Company     counterparty.Company
	Form        counterparty.LegalForm
	TaxID       string
	DisplayName string
	Fields      map[string]string
}

// Filler writes filled templates under OutputRoot.
type Filler struct {
	templatesDir string
	outputRoot   string
	now          func() time.Time
	logger       *zap.Logger
}

// Option configures a Filler.
type Option func(*Filler)

// WithClock replaces time.Now for the run date and date placeholders.
func WithClock(now func() time.Time) Option {
	return func(f *Filler) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Filler) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Filler reading templates from templatesDir.
func New(templatesDir, outputRoot string, opts ...Option) *Filler {
	f := &Filler{
		templatesDir: templatesDir,
		outputRoot:   outputRoot,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OutputDir is <output_root>/<company>/<dd.mm.yy>.
func (f *Filler) OutputDir(company counterparty.Company) string {
	name := company.Name
	if name == "" {
		name = company.Code
	}
	return filepath.Join(f.outputRoot, counterparty.SafeFileName(name), f.now().Format("02.01.06"))
}

// Fill renders req and returns the saved document path. Date
// placeholders are added unless req.Fields sets them. Failures are
// TemplateFillFailure.
func (f *Filler) Fill(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", counterparty.NewError(counterparty.KindTemplateFill, req.TaxID, err)
	}
	name, ok := req.Company.Templates[req.Form]
	if !ok || name == "" {
		return "", counterparty.Errorf(counterparty.KindTemplateFill, req.TaxID,
			"no %s template configured for %s", req.Form, req.Company.Code)
	}
	tplPath := name
	if !filepath.IsAbs(tplPath) {
		tplPath = filepath.Join(f.templatesDir, name)
	}

	fields := DateFields(f.now())
	for k, v := range req.Fields {
		fields[k] = v
	}

	dir := f.OutputDir(req.Company)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", counterparty.NewError(counterparty.KindTemplateFill, req.TaxID, eris.Wrap(err, "docfill: create output dir"))
	}
	out := filepath.Join(dir, "Agreement_"+counterparty.SafeFileName(req.DisplayName)+".docx")

	if err := FillFile(tplPath, out, fields); err != nil {
		return "", counterparty.NewError(counterparty.KindTemplateFill, req.TaxID, err)
	}
	f.logger.Info("document created",
		zap.String("company", req.Company.Code), zap.String("tax_id", req.TaxID), zap.String("path", out))
	return out, nil
}

// FillFile substitutes fields into the template at tplPath and writes the
// result to outPath. The output is written to a temporary file first and
// renamed into place.
func FillFile(tplPath, outPath string, fields map[string]string) error {
	zr, err := zip.OpenReader(tplPath)
	if err != nil {
		return eris.Wrapf(err, "docfill: open template %s", tplPath)
	}
	defer zr.Close()

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".agreement-*.docx")
	if err != nil {
		return eris.Wrap(err, "docfill: create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := rewrite(&zr.Reader, tmp, newReplacer(fields)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "docfill: close temp file")
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return eris.Wrap(err, "docfill: save document")
	}
	return nil
}

func rewrite(zr *zip.Reader, w io.Writer, r *strings.Replacer) error {
	zw := zip.NewWriter(w)
	for _, f := range zr.File {
		if !isTextPart(f.Name) {
			if err := zw.Copy(f); err != nil {
				return eris.Wrapf(err, "docfill: copy %s", f.Name)
			}
			continue
		}
		data, err := readPart(f)
		if err != nil {
			return err
		}
		dst, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: f.Modified})
		if err != nil {
			return eris.Wrapf(err, "docfill: write %s", f.Name)
		}
		if _, err := dst.Write(replaceParagraphs(data, r)); err != nil {
			return eris.Wrapf(err, "docfill: write %s", f.Name)
		}
	}
	return eris.Wrap(zw.Close(), "docfill: finish archive")
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "docfill: open %s", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	return data, eris.Wrapf(err, "docfill: read %s", f.Name)
}

func isTextPart(name string) bool {
	if name == "word/document.xml" {
		return true
	}
	base := strings.TrimPrefix(name, "word/")
	if base == name || !strings.HasSuffix(base, ".xml") || strings.Contains(base, "/") {
		return false
	}
	return strings.HasPrefix(base, "header") || strings.HasPrefix(base, "footer")
}

// newReplacer lists double-brace tokens before single-brace ones.
func newReplacer(fields map[string]string) *strings.Replacer {
	pairs := make([]string, 0, len(fields)*4)
	for k, v := range fields {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	for k, v := range fields {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...)
}

var (
	paragraphRe = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*[^/>])?>.*?</w:p>`)
	textRunRe   = regexp.MustCompile(`(?s)(<w:t(?:\s[^>]*[^/>])?>)(.*?)(</w:t>)`)
)

func replaceParagraphs(doc []byte, r *strings.Replacer) []byte {
	return paragraphRe.ReplaceAllFunc(doc, func(p []byte) []byte {
		return replaceParagraph(p, r)
	})
}

func replaceParagraph(p []byte, r *strings.Replacer) []byte {
	runs := textRunRe.FindAllSubmatchIndex(p, -1)
	if len(runs) == 0 {
		return p
	}
	var text strings.Builder
	for _, m := range runs {
		text.WriteString(html.UnescapeString(string(p[m[4]:m[5]])))
	}
	before := text.String()
	after := r.Replace(before)
	if after == before {
		return p
	}

	var out bytes.Buffer
	last := 0
	for i, m := range runs {
		out.Write(p[last:m[0]])
		if i == 0 {
			out.WriteString(`<w:t xml:space="preserve">`)
			xml.EscapeText(&out, []byte(after))
		} else {
			out.Write(p[m[2]:m[3]])
		}
		out.Write(p[m[6]:m[7]])
		last = m[1]
	}
	out.Write(p[last:])
	return out.Bytes()
}
