// Package extractor turns uploaded PDF, DOCX and ZIP bytes into plain UTF-8 text.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"resumerag-go/internal/config"
)

// Supported content types.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeZIP  = "application/zip"
)

var (
	// ErrUnsupportedType indicates a content type the extractor does not handle.
	ErrUnsupportedType = errors.New("unsupported content type")

	// ErrArchiveLimit indicates a container exceeded the decompressed size, depth or entry bounds.
	// It fails the whole container.
	ErrArchiveLimit = errors.New("archive exceeds extraction limits")

	// ErrNoText indicates the document parsed but contained no text.
	ErrNoText = errors.New("no extractable text")

	// ErrCorrupt indicates the bytes could not be parsed as the declared type.
	ErrCorrupt = errors.New("corrupt document")
)

// ExtractionFailed reports which document (or container entry) could not be extracted and why.
type ExtractionFailed struct {
	Identity string
	Err      error
}

func (e *ExtractionFailed) Error() string {
	return fmt.Sprintf("extraction failed for %q: %v", e.Identity, e.Err)
}

func (e *ExtractionFailed) Unwrap() error {
	return e.Err
}

func failed(identity string, err error) *ExtractionFailed {
	return &ExtractionFailed{Identity: identity, Err: err}
}

// TextExtractor extracts text from a binary document. pkg/tika.Client implements it.
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, contentType string) (string, error)
}

// Limits bounds container extraction.
type Limits struct {
	MaxDecompressedBytes int64
	MaxDepth             int
	MaxEntries           int
}

// LimitsFromConfig converts the extraction config section.
func LimitsFromConfig(cfg config.ExtractionConfig) Limits {
	return Limits{
		MaxDecompressedBytes: cfg.MaxDecompressedBytes,
		MaxDepth:             cfg.MaxDepth,
		MaxEntries:           cfg.MaxEntries,
	}
}

// Entry is the outcome of extracting one document. Err is an *ExtractionFailed when set.
type Entry struct {
	Name        string
	ContentType string
	Text        string
	Err         error
}

// Extraction is the ordered result of an Extract call. A single document yields one entry;
// a container yields one entry per supported document found inside it.
type Extraction struct {
	Entries []Entry
	// Skipped lists container entries ignored because their type is unsupported.
	Skipped []string
}

// Succeeded returns the entries that produced text.
func (x *Extraction) Succeeded() []Entry {
	var out []Entry
	for _, e := range x.Entries {
		if e.Err == nil {
			out = append(out, e)
		}
	}
	return out
}

// Failed returns the entries that could not be extracted.
func (x *Extraction) Failed() []Entry {
	var out []Entry
	for _, e := range x.Entries {
		if e.Err != nil {
			out = append(out, e)
		}
	}
	return out
}

// Text joins the text of all successful entries, separated by a blank line.
func (x *Extraction) Text() string {
	parts := make([]string, 0, len(x.Entries))
	for _, e := range x.Succeeded() {
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Extractor dispatches on content type. PDF extraction is delegated to a TextExtractor (Tika);
// DOCX and ZIP are parsed in-process.
type Extractor struct {
	pdf    TextExtractor
	limits Limits
}

// New creates an Extractor. pdf may be nil, in which case PDF inputs fail extraction.
func New(pdf TextExtractor, limits Limits) *Extractor {
	return &Extractor{pdf: pdf, limits: limits}
}

// NormalizeContentType strips parameters, folds case and resolves aliases. When the declared
// type is empty or generic, the file extension of name decides.
func NormalizeContentType(contentType, name string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mediaType
	}
	switch ct {
	case "application/x-zip-compressed", "application/x-zip", "multipart/x-zip":
		return ContentTypeZIP
	case "", "application/octet-stream", "binary/octet-stream":
		return typeFromExtension(name)
	}
	return ct
}

func typeFromExtension(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return ContentTypePDF
	case ".docx":
		return ContentTypeDOCX
	case ".zip":
		return ContentTypeZIP
	}
	return ""
}

// Supported reports whether the normalized content type can be extracted.
func Supported(contentType string) bool {
	switch contentType {
	case ContentTypePDF, ContentTypeDOCX, ContentTypeZIP:
		return true
	}
	return false
}

// Extract converts data into text. name identifies the upload in errors.
//
// For a single document the returned error is an *ExtractionFailed when the document cannot be
// read. For a container, per-entry failures are recorded on the entries and do not fail the call;
// only a corrupt container or a breached limit (ErrArchiveLimit) does.
func (e *Extractor) Extract(ctx context.Context, name string, data []byte, contentType string) (*Extraction, error) {
	ct := NormalizeContentType(contentType, name)
	if !Supported(ct) {
		return nil, failed(name, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType))
	}

	out := &Extraction{}
	if ct == ContentTypeZIP {
		b := &budget{remaining: e.limits.MaxDecompressedBytes}
		if err := e.extractArchive(ctx, name, data, b, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	b := &budget{remaining: e.limits.MaxDecompressedBytes}
	text, err := e.extractDocument(ctx, name, data, ct, b)
	if err != nil {
		if errors.Is(err, ErrArchiveLimit) {
			return nil, failed(name, err)
		}
		out.Entries = append(out.Entries, Entry{Name: name, ContentType: ct, Err: err})
		return out, err
	}
	out.Entries = append(out.Entries, Entry{Name: name, ContentType: ct, Text: text})
	return out, nil
}

// extractDocument handles a single non-container document.
func (e *Extractor) extractDocument(ctx context.Context, name string, data []byte, ct string, b *budget) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch ct {
	case ContentTypeDOCX:
		text, err = extractDOCX(data, b)
	case ContentTypePDF:
		text, err = e.extractPDF(ctx, data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedType, ct)
	}
	if err != nil {
		if errors.Is(err, ErrArchiveLimit) {
			return "", err
		}
		return "", failed(name, err)
	}

	text = sanitize(text)
	if text == "" {
		return "", failed(name, ErrNoText)
	}
	return text, nil
}

var pdfMagic = []byte("%PDF-")

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return "", fmt.Errorf("%w: missing PDF header", ErrCorrupt)
	}
	if e.pdf == nil {
		return "", errors.New("pdf extraction backend not configured")
	}
	text, err := e.pdf.ExtractText(ctx, bytes.NewReader(data), ContentTypePDF)
	if err != nil {
		return "", fmt.Errorf("pdf extraction: %w", err)
	}
	return text, nil
}

// sanitize forces valid UTF-8, normalizes line endings and trims surrounding whitespace.
func sanitize(text string) string {
	text = strings.ToValidUTF8(text, "�")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
