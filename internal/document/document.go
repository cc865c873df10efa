// Package document turns uploaded bytes into text segments the anonymizer can
// read and rewrite, and turns the rewritten segments back into bytes of the
// same format.
//
// Plain text, Markdown and CSV are a single segment. Word documents (.docx)
// expose paragraphs and table cells; HTML exposes text nodes. Everything that
// is not text (layout, styles, markup, other archive entries) passes through
// unchanged.
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for filenames whose extension has no codec.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrParse is returned when a structured document cannot be opened.
	ErrParse = errors.New("document parse failure")
)

// Format identifies a codec.
type Format string

const (
	FormatText Format = "text"
	FormatDocx Format = "docx"
	FormatHTML Format = "html"
)

var formats = map[string]Format{
	".txt":  FormatText,
	".md":   FormatText,
	".csv":  FormatText,
	".docx": FormatDocx,
	".html": FormatHTML,
	".htm":  FormatHTML,
}

// Surface is the editable text of a document.
type Surface interface {
	// Segments returns the text segments in document order.
	Segments() []string
	// Rewrite applies fn to every text node and returns how many changed.
	Rewrite(fn func(string) string) int
	// Bytes serializes the document with all rewrites applied.
	Bytes() ([]byte, error)
}

// Document is an opened document with its decoding details.
type Document struct {
	Name     string
	Format   Format
	Encoding string
	Lossy    bool
	Surface
}

// Text returns all segments joined by newlines.
func (d *Document) Text() string {
	return strings.Join(d.Segments(), "\n")
}

// Detect returns the codec for name, by extension.
func Detect(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	f, ok := formats[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	return f, nil
}

// Supported reports whether name has a known extension.
func Supported(name string) bool {
	_, err := Detect(name)
	return err == nil
}

// Extensions lists the accepted file extensions, sorted.
func Extensions() []string {
	out := make([]string, 0, len(formats))
	for ext := range formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Open decodes data according to the extension of name. A nil dec decodes
// UTF-8 only.
func Open(name string, data []byte, dec *Decoder) (*Document, error) {
	format, err := Detect(name)
	if err != nil {
		return nil, err
	}

	doc := &Document{Name: name, Format: format}
	switch format {
	case FormatDocx:
		s, err := ParseDocx(data)
		if err != nil {
			return nil, err
		}
		doc.Encoding = "utf-8"
		doc.Surface = s
	case FormatHTML:
		decoded := dec.Decode(data)
		s, err := ParseHTML(decoded.Text)
		if err != nil {
			return nil, err
		}
		if decoded.Encoding != "utf-8" {
			s.DeclareUTF8()
		}
		doc.Encoding, doc.Lossy = decoded.Encoding, decoded.Lossy
		doc.Surface = s
	default:
		decoded := dec.Decode(data)
		doc.Encoding, doc.Lossy = decoded.Encoding, decoded.Lossy
		doc.Surface = NewText(decoded.Text)
	}
	return doc, nil
}
