package document

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decoded is text recovered from raw bytes.
type Decoded struct {
	Text     string
	Encoding string // WHATWG name of the encoding that was used
	Lossy    bool   // some bytes were replaced with U+FFFD
}

// Decoder tries UTF-8 first and then a single fallback encoding.
type Decoder struct {
	fallback     encoding.Encoding
	fallbackName string
}

// NewDecoder resolves fallback by its WHATWG label ("shift_jis", "sjis",
// "windows-1252", ...). An empty label disables the fallback.
func NewDecoder(fallback string) (*Decoder, error) {
	d := &Decoder{}
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return d, nil
	}
	enc, err := htmlindex.Get(fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback encoding %q: %w", fallback, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = strings.ToLower(fallback)
	}
	d.fallback = enc
	d.fallbackName = name
	return d, nil
}

// Fallback returns the canonical name of the fallback encoding, or "".
func (d *Decoder) Fallback() string {
	if d == nil {
		return ""
	}
	return d.fallbackName
}

// Decode never fails: bytes neither encoding accepts become U+FFFD and the
// result is marked lossy.
func (d *Decoder) Decode(data []byte) Decoded {
	hadBOM := bytes.HasPrefix(data, utf8BOM)
	if hadBOM {
		data = data[len(utf8BOM):]
	}
	if utf8.Valid(data) {
		return Decoded{Text: string(data), Encoding: "utf-8"}
	}

	if !hadBOM && d != nil && d.fallback != nil {
		out, err := d.fallback.NewDecoder().Bytes(data)
		if err == nil {
			text := string(out)
			return Decoded{
				Text:     text,
				Encoding: d.fallbackName,
				Lossy:    strings.ContainsRune(text, utf8.RuneError),
			}
		}
	}

	return Decoded{
		Text:     strings.ToValidUTF8(string(data), string(utf8.RuneError)),
		Encoding: "utf-8",
		Lossy:    true,
	}
}
