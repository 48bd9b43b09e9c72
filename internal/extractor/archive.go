package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"resumerag-go/pkg/log"
)

// budget tracks decompressed bytes and entries across a whole container, nested archives included.
type budget struct {
	remaining int64
	entries   int
}

// read decompresses r, charging the bytes against the budget. It never reads more than one byte
// past the remaining allowance, so a bomb is detected without being inflated.
func (b *budget) read(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, b.remaining+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > b.remaining {
		return nil, fmt.Errorf("%w: decompressed size over limit", ErrArchiveLimit)
	}
	b.remaining -= int64(len(data))
	return data, nil
}

// leafVisitor receives every supported non-container document found inside an archive.
// A returned error other than ErrArchiveLimit or a context error is recorded on that entry only.
type leafVisitor func(entryName, ct string, content []byte) error

func (e *Extractor) extractArchive(ctx context.Context, name string, data []byte, b *budget, out *Extraction) error {
	return e.walkArchive(ctx, name, data, 0, b, out, func(entryName, ct string, content []byte) error {
		text, err := e.extractDocument(ctx, entryName, content, ct, b)
		if err != nil {
			return err
		}
		out.Entries = append(out.Entries, Entry{Name: entryName, ContentType: ct, Text: text})
		return nil
	})
}

func (e *Extractor) walkArchive(ctx context.Context, name string, data []byte, depth int, b *budget, out *Extraction, visit leafVisitor) error {
	if depth > e.limits.MaxDepth {
		return failed(name, fmt.Errorf("%w: nesting depth %d", ErrArchiveLimit, depth))
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return failed(name, fmt.Errorf("%w: %v", ErrCorrupt, err))
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			continue
		}

		b.entries++
		if b.entries > e.limits.MaxEntries {
			return failed(name, fmt.Errorf("%w: more than %d entries", ErrArchiveLimit, e.limits.MaxEntries))
		}

		entryName := name + "/" + f.Name
		ct := typeFromExtension(f.Name)
		if ct == "" || isMetadataEntry(f.Name) {
			out.Skipped = append(out.Skipped, entryName)
			continue
		}

		content, err := openEntry(f, b)
		if err != nil {
			if errors.Is(err, ErrArchiveLimit) {
				return failed(name, err)
			}
			log.Warnf("[Extractor] 读取压缩包条目失败, entry: %s, error: %v", entryName, err)
			out.Entries = append(out.Entries, Entry{Name: entryName, ContentType: ct, Err: failed(entryName, err)})
			continue
		}

		if ct == ContentTypeZIP {
			err := e.walkArchive(ctx, entryName, content, depth+1, b, out, visit)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrArchiveLimit) || ctx.Err() != nil {
				return err
			}
			// A corrupt nested archive only fails itself.
			out.Entries = append(out.Entries, Entry{Name: entryName, ContentType: ct, Err: err})
			continue
		}

		if err := visit(entryName, ct, content); err != nil {
			if errors.Is(err, ErrArchiveLimit) {
				return failed(name, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Warnf("[Extractor] 条目提取失败, entry: %s, error: %v", entryName, err)
			out.Entries = append(out.Entries, Entry{Name: entryName, ContentType: ct, Err: err})
		}
	}
	return nil
}

// File is one document unpacked from a container, still in its original encoding.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Unpacked lists the documents of a container without extracting their text.
// Failed holds entries that could not be read (for example a corrupt nested archive).
type Unpacked struct {
	Files   []File
	Failed  []Entry
	Skipped []string
}

// Unpack walks a ZIP container under the same limits as Extract and returns its supported
// documents as raw bytes, so each can be ingested on its own.
func (e *Extractor) Unpack(ctx context.Context, name string, data []byte) (*Unpacked, error) {
	b := &budget{remaining: e.limits.MaxDecompressedBytes}
	walk := &Extraction{}
	var files []File
	err := e.walkArchive(ctx, name, data, 0, b, walk, func(entryName, ct string, content []byte) error {
		files = append(files, File{Name: entryName, ContentType: ct, Data: content})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Unpacked{Files: files, Failed: walk.Failed(), Skipped: walk.Skipped}, nil
}

func openEntry(f *zip.File, b *budget) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rc.Close()
	data, err := b.read(rc)
	if err != nil {
		if errors.Is(err, ErrArchiveLimit) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return data, nil
}

// isMetadataEntry filters resource-fork and hidden files archivers add next to real documents.
func isMetadataEntry(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	return strings.HasPrefix(base, "._")
}
