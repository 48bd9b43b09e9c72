package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/tika"
)

type zipEntry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, e := range entries {
		f, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = f.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func buildDOCX(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	for _, p := range paragraphs {
		fmt.Fprintf(&body, "<w:p><w:r><w:t>%s</w:t></w:r></w:p>", p)
	}
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`
	return buildZip(t,
		zipEntry{name: "[Content_Types].xml", data: []byte(`<Types/>`)},
		zipEntry{name: "word/document.xml", data: []byte(doc)},
	)
}

type fakePDF struct {
	text  string
	err   error
	calls int
}

func (f *fakePDF) ExtractText(_ context.Context, r io.Reader, _ string) (string, error) {
	f.calls++
	_, _ = io.Copy(io.Discard, r)
	return f.text, f.err
}

func defaultLimits() Limits {
	return Limits{MaxDecompressedBytes: 1 << 20, MaxDepth: 2, MaxEntries: 100}
}

func TestNormalizeContentType(t *testing.T) {
	tests := []struct {
		ct, name, want string
	}{
		{"application/pdf", "a.pdf", ContentTypePDF},
		{"Application/PDF; charset=binary", "", ContentTypePDF},
		{"application/x-zip-compressed", "batch.zip", ContentTypeZIP},
		{"application/octet-stream", "cv.DOCX", ContentTypeDOCX},
		{"", "cv.zip", ContentTypeZIP},
		{"text/plain", "notes.txt", "text/plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeContentType(tt.ct, tt.name), "%s / %s", tt.ct, tt.name)
	}
}

func TestExtract_DOCX(t *testing.T) {
	ex := New(nil, defaultLimits())
	out, err := ex.Extract(context.Background(), "cv.docx", buildDOCX(t, "Jane Doe", "5 years Python"), ContentTypeDOCX)
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "Jane Doe\n5 years Python", out.Text())
}

func TestExtract_DOCXTable(t *testing.T) {
	doc := `<w:document xmlns:w="w"><w:body><w:tbl><w:tr>` +
		`<w:tc><w:p><w:r><w:t>Skill</w:t></w:r></w:p></w:tc>` +
		`<w:tc><w:p><w:r><w:t>Go</w:t></w:r></w:p></w:tc>` +
		`</w:tr></w:tbl></w:body></w:document>`
	data := buildZip(t, zipEntry{name: "word/document.xml", data: []byte(doc)})

	out, err := New(nil, defaultLimits()).Extract(context.Background(), "t.docx", data, ContentTypeDOCX)
	require.NoError(t, err)
	assert.Contains(t, out.Text(), "Skill")
	assert.Contains(t, out.Text(), "Go")
}

func TestExtract_EmptyDOCX(t *testing.T) {
	_, err := New(nil, defaultLimits()).Extract(context.Background(), "empty.docx", buildDOCX(t), ContentTypeDOCX)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoText)

	var ef *ExtractionFailed
	require.True(t, errors.As(err, &ef))
	assert.Equal(t, "empty.docx", ef.Identity)
}

func TestExtract_CorruptDOCX(t *testing.T) {
	_, err := New(nil, defaultLimits()).Extract(context.Background(), "bad.docx", []byte("not a zip"), ContentTypeDOCX)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestExtract_Unsupported(t *testing.T) {
	_, err := New(nil, defaultLimits()).Extract(context.Background(), "notes.txt", []byte("hi"), "text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtract_PDF(t *testing.T) {
	pdf := &fakePDF{text: "  Python developer\r\n"}
	out, err := New(pdf, defaultLimits()).Extract(context.Background(), "cv.pdf", []byte("%PDF-1.7 ..."), ContentTypePDF)
	require.NoError(t, err)
	assert.Equal(t, "Python developer", out.Text())
	assert.Equal(t, 1, pdf.calls)
}

func TestExtract_PDFWithoutHeaderIsCorrupt(t *testing.T) {
	pdf := &fakePDF{text: "x"}
	_, err := New(pdf, defaultLimits()).Extract(context.Background(), "cv.pdf", []byte("garbage"), ContentTypePDF)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Zero(t, pdf.calls)
}

func TestExtract_PDFViaTika(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Senior Go engineer"))
	}))
	defer srv.Close()

	ex := New(tika.NewClient(config.TikaConfig{ServerURL: srv.URL}), defaultLimits())
	out, err := ex.Extract(context.Background(), "cv.pdf", []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "Senior Go engineer", out.Text())
}

func TestExtract_ZipSiblingFailuresAreIsolated(t *testing.T) {
	pdf := &fakePDF{text: "PDF resume text"}
	data := buildZip(t,
		zipEntry{name: "good.docx", data: buildDOCX(t, "Good resume")},
		zipEntry{name: "bad.docx", data: []byte("garbage")},
		zipEntry{name: "notes.txt", data: []byte("ignored")},
		zipEntry{name: "__MACOSX/._good.docx", data: []byte("meta")},
		zipEntry{name: "scan.pdf", data: []byte("%PDF-1.5")},
	)

	out, err := New(pdf, defaultLimits()).Extract(context.Background(), "batch.zip", data, "application/x-zip-compressed")
	require.NoError(t, err)
	require.Len(t, out.Entries, 3)

	assert.Equal(t, "batch.zip/good.docx", out.Entries[0].Name)
	assert.Equal(t, "Good resume", out.Entries[0].Text)
	assert.ErrorIs(t, out.Entries[1].Err, ErrCorrupt)
	assert.Equal(t, "PDF resume text", out.Entries[2].Text)

	assert.Len(t, out.Succeeded(), 2)
	assert.Len(t, out.Failed(), 1)
	assert.ElementsMatch(t, []string{"batch.zip/notes.txt", "batch.zip/__MACOSX/._good.docx"}, out.Skipped)
}

func TestExtract_ZipNested(t *testing.T) {
	inner := buildZip(t, zipEntry{name: "inner.docx", data: buildDOCX(t, "Nested resume")})
	outer := buildZip(t, zipEntry{name: "inner.zip", data: inner})

	out, err := New(nil, defaultLimits()).Extract(context.Background(), "outer.zip", outer, ContentTypeZIP)
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "outer.zip/inner.zip/inner.docx", out.Entries[0].Name)
	assert.Equal(t, "Nested resume", out.Entries[0].Text)
}

func TestExtract_ZipDepthLimit(t *testing.T) {
	level2 := buildZip(t, zipEntry{name: "deep.docx", data: buildDOCX(t, "deep")})
	level1 := buildZip(t, zipEntry{name: "l2.zip", data: level2})
	top := buildZip(t, zipEntry{name: "l1.zip", data: level1})

	limits := defaultLimits()
	limits.MaxDepth = 1
	_, err := New(nil, limits).Extract(context.Background(), "top.zip", top, ContentTypeZIP)
	assert.ErrorIs(t, err, ErrArchiveLimit)
}

func TestExtract_ZipBomb(t *testing.T) {
	// Highly compressible payload far larger than the allowance.
	bomb := buildZip(t, zipEntry{name: "huge.docx", data: bytes.Repeat([]byte{0}, 4<<20)})
	require.Less(t, len(bomb), 64<<10)

	limits := defaultLimits()
	limits.MaxDecompressedBytes = 1 << 20
	_, err := New(nil, limits).Extract(context.Background(), "bomb.zip", bomb, ContentTypeZIP)
	assert.ErrorIs(t, err, ErrArchiveLimit)

	var ef *ExtractionFailed
	require.True(t, errors.As(err, &ef))
	assert.Equal(t, "bomb.zip", ef.Identity)
}

func TestExtract_ZipEntryLimit(t *testing.T) {
	data := buildZip(t,
		zipEntry{name: "a.docx", data: buildDOCX(t, "a")},
		zipEntry{name: "b.docx", data: buildDOCX(t, "b")},
		zipEntry{name: "c.docx", data: buildDOCX(t, "c")},
	)
	limits := defaultLimits()
	limits.MaxEntries = 2
	_, err := New(nil, limits).Extract(context.Background(), "many.zip", data, ContentTypeZIP)
	assert.ErrorIs(t, err, ErrArchiveLimit)
}

func TestExtract_CorruptZip(t *testing.T) {
	_, err := New(nil, defaultLimits()).Extract(context.Background(), "x.zip", []byte("PK nope"), ContentTypeZIP)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestExtract_InvalidUTF8IsSanitized(t *testing.T) {
	pdf := &fakePDF{text: "caf\xe9 owner"}
	out, err := New(pdf, defaultLimits()).Extract(context.Background(), "cv.pdf", []byte("%PDF-1.5"), ContentTypePDF)
	require.NoError(t, err)
	assert.Equal(t, "caf� owner", out.Text())
}

func TestUnpack_ReturnsRawEntries(t *testing.T) {
	inner := buildZip(t, zipEntry{name: "b.pdf", data: []byte("%PDF-1.4 b")})
	data := buildZip(t,
		zipEntry{name: "a.docx", data: buildDOCX(t, "a")},
		zipEntry{name: "nested.zip", data: inner},
		zipEntry{name: "broken.zip", data: []byte("not a zip")},
		zipEntry{name: "readme.md", data: []byte("skip")},
	)

	out, err := New(nil, defaultLimits()).Unpack(context.Background(), "batch.zip", data)
	require.NoError(t, err)
	require.Len(t, out.Files, 2)
	assert.Equal(t, "batch.zip/a.docx", out.Files[0].Name)
	assert.Equal(t, ContentTypeDOCX, out.Files[0].ContentType)
	assert.Equal(t, "batch.zip/nested.zip/b.pdf", out.Files[1].Name)
	assert.Equal(t, []byte("%PDF-1.4 b"), out.Files[1].Data)

	require.Len(t, out.Failed, 1)
	assert.Equal(t, "batch.zip/broken.zip", out.Failed[0].Name)
	assert.ErrorIs(t, out.Failed[0].Err, ErrCorrupt)
	assert.Equal(t, []string{"batch.zip/readme.md"}, out.Skipped)
}

func TestUnpack_HonoursLimits(t *testing.T) {
	bomb := buildZip(t, zipEntry{name: "huge.pdf", data: bytes.Repeat([]byte{0}, 4<<20)})
	_, err := New(nil, defaultLimits()).Unpack(context.Background(), "bomb.zip", bomb)
	assert.ErrorIs(t, err, ErrArchiveLimit)
}
