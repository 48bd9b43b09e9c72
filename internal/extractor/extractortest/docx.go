// Package extractortest builds small DOCX and ZIP fixtures in memory for tests.
package extractortest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"strings"
)

// File is one archive member.
type File struct {
	Name string
	Data []byte
}

// Zip packs files into a ZIP archive. It panics on writer errors, which cannot happen for an
// in-memory buffer.
func Zip(files ...File) []byte {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, f := range files {
		fw, err := w.Create(f.Name)
		if err != nil {
			panic(err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DOCX returns a minimal Word document with one paragraph per argument.
func DOCX(paragraphs ...string) []byte {
	var body strings.Builder
	for _, p := range paragraphs {
		fmt.Fprintf(&body, "<w:p><w:r><w:t xml:space=\"preserve\">%s</w:t></w:r></w:p>", html.EscapeString(p))
	}
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`
	return Zip(
		File{Name: "[Content_Types].xml", Data: []byte(`<Types/>`)},
		File{Name: "word/document.xml", Data: []byte(doc)},
	)
}
