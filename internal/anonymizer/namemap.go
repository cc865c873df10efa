package anonymizer

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const labelLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Placeholders live in the Unicode private use area. Names are first replaced
// by «open index close» and swapped for labels at the end, so a label written
// for a long name is never rewritten by a shorter one. The index is written
// in base placeholderBase with one private-use rune per digit, so a
// placeholder holds no character a name could match.
const (
	placeholderOpen  = '\uE000'
	placeholderClose = '\uE001'
	placeholderDigit = '\uF000'
	placeholderBase  = 256
)

func isPlaceholderRune(r rune) bool {
	return r == placeholderOpen || r == placeholderClose ||
		(r >= placeholderDigit && r < placeholderDigit+placeholderBase)
}

// Label returns the pseudonym for the i-th name: marker_A .. marker_Z, then
// marker_A26, marker_B27, ... so labels stay unique past 26 names.
func Label(marker string, i int) string {
	l := marker + "_" + string(labelLetters[i%len(labelLetters)])
	if i >= len(labelLetters) {
		l += strconv.Itoa(i)
	}
	return l
}

// Entry is one name -> label pair.
type Entry struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// NameMap is an ordered name -> label mapping for one document. Entries are
// ordered by descending name length (characters), ties broken
// lexicographically; Apply relies on that order.
type NameMap struct {
	entries []Entry
	index   map[string]int
	direct  bool // some name contains placeholder runes
}

// BuildNameMap assigns labels to names. Empty and duplicate names are dropped.
func BuildNameMap(names []string, marker string) *NameMap {
	uniq := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	sort.Slice(uniq, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(uniq[i]), utf8.RuneCountInString(uniq[j])
		if li != lj {
			return li > lj
		}
		return uniq[i] < uniq[j]
	})

	m := &NameMap{
		entries: make([]Entry, len(uniq)),
		index:   make(map[string]int, len(uniq)),
	}
	for i, n := range uniq {
		m.entries[i] = Entry{Name: n, Label: Label(marker, i)}
		m.index[n] = i
		if strings.ContainsFunc(n, isPlaceholderRune) {
			m.direct = true
		}
	}
	return m
}

// Len returns the number of names in the map.
func (m *NameMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns a copy of the pairs in application order.
func (m *NameMap) Entries() []Entry {
	if m == nil {
		return nil
	}
	return append([]Entry(nil), m.entries...)
}

// Lookup returns the label assigned to name.
func (m *NameMap) Lookup(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	i, ok := m.index[name]
	if !ok {
		return "", false
	}
	return m.entries[i].Label, true
}

// Apply replaces every occurrence of every name in text.
func (m *NameMap) Apply(text string) string {
	out, _ := m.ApplyCount(text)
	return out
}

// ApplyCount is Apply that also reports how many occurrences were replaced.
func (m *NameMap) ApplyCount(text string) (string, int) {
	if m.Len() == 0 || text == "" {
		return text, 0
	}
	if m.direct || strings.ContainsFunc(text, isPlaceholderRune) {
		return m.applyDirect(text)
	}

	total := 0
	pairs := make([]string, 0, 2*len(m.entries))
	for i, e := range m.entries {
		n := strings.Count(text, e.Name)
		if n == 0 {
			continue
		}
		total += n
		ph := placeholder(i)
		text = strings.ReplaceAll(text, e.Name, ph)
		pairs = append(pairs, ph, e.Label)
	}
	if total == 0 {
		return text, 0
	}
	return strings.NewReplacer(pairs...).Replace(text), total
}

// applyDirect is the plain longest-first replacement, used when the text or
// a name already carries placeholder runes.
func (m *NameMap) applyDirect(text string) (string, int) {
	total := 0
	for _, e := range m.entries {
		if n := strings.Count(text, e.Name); n > 0 {
			total += n
			text = strings.ReplaceAll(text, e.Name, e.Label)
		}
	}
	return text, total
}

// ApplyFilename substitutes names in the stem of filename and keeps the
// extension verbatim.
func (m *NameMap) ApplyFilename(filename string) string {
	stem, ext := SplitExt(filename)
	return m.Apply(stem) + ext
}

func placeholder(i int) string {
	var digits []rune
	for {
		digits = append(digits, placeholderDigit+rune(i%placeholderBase))
		i /= placeholderBase
		if i == 0 {
			break
		}
	}
	slices.Reverse(digits)
	return string(placeholderOpen) + string(digits) + string(placeholderClose)
}

// SplitExt splits filename at the last extension separator of its base name.
// A base name whose only dot is the leading one has no extension.
func SplitExt(filename string) (stem, ext string) {
	dot := strings.LastIndexByte(filename, '.')
	sep := strings.LastIndexAny(filename, `/\`)
	if dot <= sep+1 {
		return filename, ""
	}
	return filename[:dot], filename[dot:]
}
