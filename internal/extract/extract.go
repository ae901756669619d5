// Package extract converts raw document files into text segments with
// positional metadata. Supported file types form a closed set: adding a new
// type means adding a Kind and a case to Extract.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFileType is returned for file extensions outside the
// {.txt, .pdf} allow-list. User-correctable, never retried.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// Kind identifies an extraction strategy.
type Kind int

const (
	// KindText treats the whole file as a single segment.
	KindText Kind = iota
	// KindPDF emits one segment per page that yields extractable text.
	KindPDF
)

// Segment is one extracted span of text plus its source metadata.
// Text segments carry only file_name; PDF segments add page, total_pages and
// any scalar document-level properties.
type Segment struct {
	Text     string
	Metadata map[string]any
}

// KindForPath maps a file path to its extraction Kind by extension.
// The extension comparison is case-insensitive.
func KindForPath(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return KindText, nil
	case ".pdf":
		return KindPDF, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFileType, path)
	}
}

// FileExtractor extracts segments from files on the local filesystem.
type FileExtractor struct{}

// Extract reads the file at path using the strategy for kind.
// Segments that yield no text are dropped rather than emitted empty.
func (FileExtractor) Extract(path string, kind Kind) ([]Segment, error) {
	switch kind {
	case KindText:
		return extractText(path)
	case KindPDF:
		return extractPDF(path)
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedFileType, kind)
	}
}

func extractText(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return []Segment{{
		Text: string(data),
		Metadata: map[string]any{
			"file_name": filepath.Base(path),
		},
	}}, nil
}

func extractPDF(path string) ([]Segment, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	fileName := filepath.Base(path)
	totalPages := reader.NumPage()
	docProps := documentProperties(reader)

	var segments []Segment
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Image-only or corrupt pages are skipped, not fatal.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		metadata := map[string]any{
			"file_name":   fileName,
			"page":        pageNum,
			"total_pages": totalPages,
		}
		for k, v := range docProps {
			metadata[k] = v
		}
		segments = append(segments, Segment{Text: text, Metadata: metadata})
	}
	return segments, nil
}

// documentProperties collects scalar string/integer entries from the PDF
// Info dictionary (Title, Author, Producer and the like).
func documentProperties(reader *pdf.Reader) map[string]any {
	props := map[string]any{}
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return props
	}
	for _, key := range info.Keys() {
		value := info.Key(key)
		switch value.Kind() {
		case pdf.String:
			props[key] = value.Text()
		case pdf.Integer:
			props[key] = value.Int64()
		}
	}
	return props
}
