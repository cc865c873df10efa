package document

// Text is a single-segment surface for plain text, Markdown and CSV.
type Text struct {
	text string
}

// NewText wraps already decoded text.
func NewText(text string) *Text { return &Text{text: text} }

func (t *Text) Segments() []string { return []string{t.text} }

func (t *Text) Rewrite(fn func(string) string) int {
	out := fn(t.text)
	if out == t.text {
		return 0
	}
	t.text = out
	return 1
}

func (t *Text) Bytes() ([]byte, error) { return []byte(t.text), nil }
