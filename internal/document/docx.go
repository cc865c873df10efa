package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// docxBodyPart is the archive entry holding the main document body.
const docxBodyPart = "word/document.xml"

// docxCorePart holds the core properties (author, last editor).
const docxCorePart = "docProps/core.xml"

// storyPart matches the parts besides the body whose w:t text is editable.
// people.xml carries no text but its person attributes are scrubbed.
var storyPart = regexp.MustCompile(`^word/(header\d*|footer\d*|footnotes|endnotes|comments|people)\.xml$`)

// wordPrefix is the namespace prefix WordprocessingML uses for its elements.
// Raw tokens are matched by prefix, not by namespace URI.
const wordPrefix = "w"

// personAttrs are attribute local names that identify a person: revision and
// comment authors, their initials and presence ids.
var personAttrs = map[string]bool{"author": true, "initials": true, "userId": true}

// personProps are the core properties blanked on rewrite.
var personProps = map[xml.Name]bool{
	{Space: "dc", Local: "creator"}:        true,
	{Space: "cp", Local: "lastModifiedBy"}: true,
}

// textNode is one edit in an XML part: the content of a w:t element, or a
// metadata span that is blanked on rewrite. start and end delimit the
// replaced bytes. raw text is markup and is written unescaped.
type textNode struct {
	start, end int64
	text       string
	changed    bool
	raw        bool
}

// docxPart is one XML entry of the archive with its edits in offset order.
type docxPart struct {
	name  string
	data  []byte
	edits []*textNode
}

type paragraph struct {
	nodes []*textNode
}

func (p *paragraph) text() string {
	var b strings.Builder
	for _, n := range p.nodes {
		b.WriteString(n.text)
	}
	return b.String()
}

type cell struct {
	paragraphs []*paragraph
	tables     []*table // nested tables, in document order
}

func (c *cell) text() string {
	parts := make([]string, len(c.paragraphs))
	for i, p := range c.paragraphs {
		parts[i] = p.text()
	}
	return strings.Join(parts, "\n")
}

type row struct {
	cells []*cell
}

type table struct {
	rows []*row
}

func (t *table) appendSegments(out []string) []string {
	for _, r := range t.rows {
		for _, c := range r.cells {
			out = append(out, c.text())
			for _, nested := range c.tables {
				out = nested.appendSegments(out)
			}
		}
	}
	return out
}

// Table is the text shape of a table: rows of cell texts.
type Table [][]string

// Docx is a Word document. The text of w:t elements in the body, headers,
// footers, notes and comments is editable; every other byte of the archive is
// kept, except person metadata, which is blanked when the document is
// rewritten.
type Docx struct {
	archive []byte
	zr      *zip.Reader
	parts   []*docxPart // body first

	nodes      []*textNode // every w:t in document order
	scrubs     []*textNode
	paragraphs []*paragraph
	tables     []*table
	stories    []*paragraph // paragraphs outside the body, tables flattened
}

// ParseDocx opens a .docx archive.
func ParseDocx(data []byte) (*Docx, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: docx archive: %w", ErrParse, err)
	}

	var body, core *zip.File
	var stories []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == docxBodyPart:
			body = f
		case f.Name == docxCorePart:
			core = f
		case storyPart.MatchString(f.Name):
			stories = append(stories, f)
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%w: docx archive has no %s", ErrParse, docxBodyPart)
	}
	sort.Slice(stories, func(i, j int) bool { return stories[i].Name < stories[j].Name })

	d := &Docx{archive: data, zr: zr}
	if err := d.parseFile(body, false); err != nil {
		return nil, err
	}
	for _, f := range stories {
		if err := d.parseFile(f, true); err != nil {
			return nil, err
		}
	}
	if core != nil {
		if err := d.parseFile(core, true); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Docx) parseFile(f *zip.File, story bool) error {
	data, err := readZipFile(f)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrParse, f.Name, err)
	}
	p := &docxPart{name: f.Name, data: data}
	if err := d.parse(p, story); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrParse, f.Name, err)
	}
	d.parts = append(d.parts, p)
	return nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck // read-only entry
	return io.ReadAll(rc)
}

// frame is one open element while walking the part. At most one field is set.
type frame struct {
	tbl  *table
	tr   *row
	tc   *cell
	p    *paragraph
	t    *textNode
	prop *textNode
}

// parse walks one part. Story parts keep no table structure: their
// paragraphs are collected flat.
func (d *Docx) parse(part *docxPart, story bool) error {
	dec := xml.NewDecoder(bytes.NewReader(part.data))
	var stack []frame

	nearest := func(match func(frame) bool) (frame, bool) {
		for i := len(stack) - 1; i >= 0; i-- {
			if match(stack[i]) {
				return stack[i], true
			}
		}
		return frame{}, false
	}

	for {
		offset := dec.InputOffset()
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			end := dec.InputOffset()
			if tag, ok := scrubTag(tok, part.data[offset:end]); ok {
				n := &textNode{start: offset, end: end, text: tag, raw: true}
				part.edits = append(part.edits, n)
				d.scrubs = append(d.scrubs, n)
			}
			var f frame
			switch {
			case personProps[tok.Name]:
				f.prop = &textNode{start: end, end: end}
				part.edits = append(part.edits, f.prop)
				d.scrubs = append(d.scrubs, f.prop)
			case tok.Name.Space == wordPrefix:
				f = d.open(tok.Name.Local, end, story, nearest)
				if f.t != nil {
					part.edits = append(part.edits, f.t)
				}
			}
			stack = append(stack, f)

		case xml.EndElement:
			if len(stack) == 0 {
				return fmt.Errorf("unexpected </%s:%s> at offset %d", tok.Name.Space, tok.Name.Local, offset)
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.t != nil {
				top.t.end = offset
			}
			if top.prop != nil {
				top.prop.end = offset
			}

		case xml.CharData:
			if len(stack) > 0 && stack[len(stack)-1].t != nil {
				stack[len(stack)-1].t.text += string(tok)
			}
		}
	}

	if len(stack) != 0 {
		return fmt.Errorf("%d unclosed elements", len(stack))
	}
	return nil
}

// scrubTag returns the start tag re-rendered with blank person attributes,
// or false when it carries none. raw is the tag as written.
func scrubTag(tok xml.StartElement, raw []byte) (string, bool) {
	found := false
	for _, a := range tok.Attr {
		if personAttrs[a.Name.Local] && a.Name.Space != "" && a.Value != "" {
			found = true
			break
		}
	}
	if !found {
		return "", false
	}

	var b strings.Builder
	b.WriteString("<")
	b.WriteString(qualified(tok.Name))
	for _, a := range tok.Attr {
		val := a.Value
		if personAttrs[a.Name.Local] && a.Name.Space != "" {
			val = ""
		}
		b.WriteString(" ")
		b.WriteString(qualified(a.Name))
		b.WriteString(`="`)
		xml.EscapeText(&b, []byte(val)) //nolint:errcheck // strings.Builder writes do not fail
		b.WriteString(`"`)
	}
	if bytes.HasSuffix(raw, []byte("/>")) {
		b.WriteString("/>")
	} else {
		b.WriteString(">")
	}
	return b.String(), true
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// open builds the frame for a w: element starting at contentStart.
func (d *Docx) open(local string, contentStart int64, story bool, nearest func(func(frame) bool) (frame, bool)) frame {
	var f frame
	switch local {
	case "tbl":
		if story {
			break
		}
		f.tbl = &table{}
		if c, ok := nearest(func(x frame) bool { return x.tc != nil }); ok {
			c.tc.tables = append(c.tc.tables, f.tbl)
		} else {
			d.tables = append(d.tables, f.tbl)
		}
	case "tr":
		if t, ok := nearest(func(x frame) bool { return x.tbl != nil }); ok {
			f.tr = &row{}
			t.tbl.rows = append(t.tbl.rows, f.tr)
		}
	case "tc":
		if r, ok := nearest(func(x frame) bool { return x.tr != nil }); ok {
			f.tc = &cell{}
			r.tr.cells = append(r.tr.cells, f.tc)
		}
	case "p":
		f.p = &paragraph{}
		if story {
			d.stories = append(d.stories, f.p)
		} else if c, ok := nearest(func(x frame) bool { return x.tc != nil }); ok {
			c.tc.paragraphs = append(c.tc.paragraphs, f.p)
		} else {
			d.paragraphs = append(d.paragraphs, f.p)
		}
	case "t":
		f.t = &textNode{start: contentStart, end: contentStart}
		d.nodes = append(d.nodes, f.t)
		if p, ok := nearest(func(x frame) bool { return x.p != nil }); ok {
			p.p.nodes = append(p.p.nodes, f.t)
		}
	}
	return f
}

// Segments returns body paragraphs first, then every table cell row by row,
// then the paragraphs of headers, footers, notes and comments. A cell's
// paragraphs are joined by newlines; nested tables follow their cell.
func (d *Docx) Segments() []string {
	out := make([]string, 0, len(d.paragraphs)+len(d.stories))
	for _, p := range d.paragraphs {
		out = append(out, p.text())
	}
	for _, t := range d.tables {
		out = t.appendSegments(out)
	}
	for _, p := range d.stories {
		out = append(out, p.text())
	}
	return out
}

// Tables returns the shape of the top-level tables.
func (d *Docx) Tables() []Table {
	out := make([]Table, 0, len(d.tables))
	for _, t := range d.tables {
		rows := make(Table, 0, len(t.rows))
		for _, r := range t.rows {
			cells := make([]string, 0, len(r.cells))
			for _, c := range r.cells {
				cells = append(cells, c.text())
			}
			rows = append(rows, cells)
		}
		out = append(out, rows)
	}
	return out
}

// Rewrite applies fn to each w:t node on its own and blanks person metadata.
// A name split across runs is never seen whole and stays unchanged.
func (d *Docx) Rewrite(fn func(string) string) int {
	n := 0
	for _, node := range d.nodes {
		out := fn(node.text)
		if out == node.text {
			continue
		}
		node.text = out
		node.changed = true
		n++
	}
	for _, s := range d.scrubs {
		if s.start == s.end && !s.raw {
			continue
		}
		if !s.changed {
			s.changed = true
			n++
		}
	}
	return n
}

// Bytes returns the archive with the rewritten parts. When nothing changed
// the original bytes are returned.
func (d *Docx) Bytes() ([]byte, error) {
	rendered := make(map[string][]byte)
	for _, p := range d.parts {
		if out, changed := p.render(); changed {
			rendered[p.name] = out
		}
	}
	if len(rendered) == 0 {
		return bytes.Clone(d.archive), nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range d.zr.File {
		part, ok := rendered[f.Name]
		if !ok {
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("copy %s: %w", f.Name, err)
			}
			continue
		}
		hdr := f.FileHeader
		w, err := zw.CreateHeader(&hdr)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.Name, err)
		}
		if _, err := w.Write(part); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close docx archive: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *docxPart) render() ([]byte, bool) {
	var buf bytes.Buffer
	var prev int64
	changed := false
	for _, n := range p.edits {
		if !n.changed {
			continue
		}
		changed = true
		buf.Write(p.data[prev:n.start])
		if n.raw {
			buf.WriteString(n.text)
		} else {
			xml.EscapeText(&buf, []byte(n.text)) //nolint:errcheck // bytes.Buffer writes do not fail
		}
		prev = n.end
	}
	if !changed {
		return p.data, false
	}
	buf.Write(p.data[prev:])
	return buf.Bytes(), true
}
