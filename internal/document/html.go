package document

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// htmlToken is one tokenizer token kept as raw source. Text tokens also keep
// their unescaped text.
type htmlToken struct {
	raw      string
	text     string
	editable bool
	meta     *html.Token // <meta> tags, for the charset declaration
}

// HTML is an HTML page whose text nodes are editable. Script and style
// contents are neither read nor rewritten. Tokens that are not rewritten are
// written back byte for byte.
type HTML struct {
	tokens []*htmlToken
}

// ParseHTML tokenizes src.
func ParseHTML(src string) (*HTML, error) {
	z := html.NewTokenizer(strings.NewReader(src))
	h := &HTML{}
	rawText := "" // open script/style element, if any

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				return h, nil
			}
			return nil, fmt.Errorf("%w: html: %w", ErrParse, z.Err())
		}

		tok := &htmlToken{raw: string(z.Raw())}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch n := string(name); {
			case n == "meta" && hasAttr:
				m := html.Token{Type: tt, Data: n}
				for more := true; more; {
					var k, v []byte
					k, v, more = z.TagAttr()
					m.Attr = append(m.Attr, html.Attribute{Key: string(k), Val: string(v)})
				}
				tok.meta = &m
			case tt == html.StartTagToken && (n == "script" || n == "style"):
				rawText = n
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == rawText {
				rawText = ""
			}
		case html.TextToken:
			if rawText == "" {
				tok.text = string(z.Text())
				tok.editable = true
			}
		}
		h.tokens = append(h.tokens, tok)
	}
}

// Segments returns the text nodes that contain more than whitespace.
func (h *HTML) Segments() []string {
	var out []string
	for _, t := range h.tokens {
		if t.editable && strings.TrimSpace(t.text) != "" {
			out = append(out, t.text)
		}
	}
	return out
}

func (h *HTML) Rewrite(fn func(string) string) int {
	n := 0
	for _, t := range h.tokens {
		if !t.editable {
			continue
		}
		out := fn(t.text)
		if out == t.text {
			continue
		}
		t.text = out
		t.raw = html.EscapeString(out)
		n++
	}
	return n
}

// DeclareUTF8 rewrites every <meta> charset declaration to utf-8, for pages
// decoded from a legacy encoding and written back as UTF-8. It returns how
// many tags changed.
func (h *HTML) DeclareUTF8() int {
	n := 0
	for _, t := range h.tokens {
		if t.meta == nil {
			continue
		}
		changed := false
		httpEquiv := false
		for _, a := range t.meta.Attr {
			if a.Key == "http-equiv" && strings.EqualFold(strings.TrimSpace(a.Val), "content-type") {
				httpEquiv = true
			}
		}
		for i, a := range t.meta.Attr {
			switch {
			case a.Key == "charset" && !strings.EqualFold(strings.TrimSpace(a.Val), "utf-8"):
				t.meta.Attr[i].Val = "utf-8"
				changed = true
			case a.Key == "content" && httpEquiv && !strings.EqualFold(a.Val, "text/html; charset=utf-8"):
				t.meta.Attr[i].Val = "text/html; charset=utf-8"
				changed = true
			}
		}
		if changed {
			t.raw = t.meta.String()
			n++
		}
	}
	return n
}

func (h *HTML) Bytes() ([]byte, error) {
	var b strings.Builder
	for _, t := range h.tokens {
		b.WriteString(t.raw)
	}
	return []byte(b.String()), nil
}
