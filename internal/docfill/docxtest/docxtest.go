// Package docxtest builds minimal .docx archives for tests.
package docxtest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const contentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const docTail = `</w:body></w:document>`

// Para renders one paragraph whose text is split into the given runs.
func Para(runs ...string) string {
	var b strings.Builder
	b.WriteString(`<w:p w:rsidR="00A1"><w:pPr><w:jc w:val="both"/></w:pPr>`)
	for _, r := range runs {
		b.WriteString(`<w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">`)
		b.WriteString(r)
		b.WriteString(`</w:t></w:r>`)
	}
	b.WriteString(`</w:p>`)
	return b.String()
}

// Write creates a .docx at path whose body is the given paragraphs. The
// optional header paragraph goes into word/header1.xml.
func Write(t testing.TB, path string, header string, paragraphs ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	add := func(name, body string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatal(err)
		}
	}
	add("[Content_Types].xml", contentTypes)
	add("word/document.xml", docHead+strings.Join(paragraphs, "")+docTail)
	if header != "" {
		add("word/header1.xml", `<w:hdr xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">`+header+`</w:hdr>`)
	}
	add("word/media/image1.png", "\x89PNG fake")
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

// Text returns the concatenated run text of a part of the .docx at path.
func Text(t testing.TB, path, part string) string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != part {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatal(err)
		}
		return runText(string(data))
	}
	t.Fatalf("part %s not found in %s", part, path)
	return ""
}

func runText(doc string) string {
	var b strings.Builder
	for {
		i := strings.Index(doc, "<w:t")
		if i < 0 {
			break
		}
		doc = doc[i+4:]
		// skip <w:tab/>, <w:tbl> and friends
		if len(doc) == 0 || (doc[0] != '>' && doc[0] != ' ') {
			continue
		}
		j := strings.Index(doc, ">")
		k := strings.Index(doc, "</w:t>")
		if j < 0 || k < 0 || k < j {
			break
		}
		b.WriteString(doc[j+1 : k])
		doc = doc[k:]
	}
	return b.String()
}
