package anonymizer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Vocabulary answers case-insensitive membership for the ignore list.
// Implementations must be safe for concurrent use.
type Vocabulary interface {
	Contains(word string) bool
}

// WordSet is a fixed, case-insensitive Vocabulary.
type WordSet map[string]struct{}

// NewWordSet builds a WordSet from words. Blank entries are dropped.
func NewWordSet(words ...string) WordSet {
	s := make(WordSet, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			s[strings.ToLower(w)] = struct{}{}
		}
	}
	return s
}

// Contains reports whether word is in the set, ignoring case.
func (s WordSet) Contains(word string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(word))]
	return ok
}

// Check is one named rejection predicate. Reject returns true when the
// candidate must not become a name.
type Check struct {
	Name   string
	Reject func(value string) bool
}

// Check names.
const (
	CheckTooShort = "too-short"
	CheckDigits   = "digits"
	CheckIgnored  = "ignored"
	CheckDateLike = "date-like"
	CheckMarker   = "marker"
)

// TooShort rejects values that are empty after trimming or one character long.
func TooShort() Check {
	return Check{Name: CheckTooShort, Reject: func(v string) bool {
		return utf8.RuneCountInString(strings.TrimSpace(v)) <= 1
	}}
}

// DigitsOnly rejects values made entirely of digits.
func DigitsOnly() Check {
	return Check{Name: CheckDigits, Reject: func(v string) bool {
		v = strings.TrimSpace(v)
		if v == "" {
			return false
		}
		for _, r := range v {
			if !unicode.IsDigit(r) {
				return false
			}
		}
		return true
	}}
}

// Ignored rejects exact, case-insensitive matches against vocab.
func Ignored(vocab Vocabulary) Check {
	return Check{Name: CheckIgnored, Reject: func(v string) bool {
		return vocab != nil && vocab.Contains(v)
	}}
}

// DateLike rejects timestamps and dates: a digit plus one of / - _ and no @.
// Hyphenated alphanumeric names are rejected too; email addresses survive.
func DateLike() Check {
	return Check{Name: CheckDateLike, Reject: func(v string) bool {
		if strings.Contains(v, "@") || !strings.ContainsAny(v, "/-_") {
			return false
		}
		return strings.IndexFunc(v, unicode.IsDigit) >= 0
	}}
}

// Marker rejects anything containing the pseudonym marker, so labels from an
// earlier run are never anonymized again.
func Marker(marker string) Check {
	lower := strings.ToLower(marker)
	return Check{Name: CheckMarker, Reject: func(v string) bool {
		return lower != "" && strings.Contains(strings.ToLower(v), lower)
	}}
}

// DefaultChecks returns every built-in check in its canonical order.
func DefaultChecks(vocab Vocabulary, marker string) []Check {
	return []Check{TooShort(), DigitsOnly(), Ignored(vocab), DateLike(), Marker(marker)}
}

// ChecksByName resolves check names to built-in checks, keeping the given
// order. An empty list selects DefaultChecks.
func ChecksByName(names []string, vocab Vocabulary, marker string) ([]Check, error) {
	all := DefaultChecks(vocab, marker)
	if len(names) == 0 {
		return all, nil
	}
	known := make(map[string]Check, len(all))
	for _, c := range all {
		known[c.Name] = c
	}
	checks := make([]Check, 0, len(names))
	for _, n := range names {
		c, ok := known[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown filter check %q", n)
		}
		checks = append(checks, c)
	}
	return checks, nil
}

// Filter accepts or rejects candidates. A candidate is valid only when no
// check rejects it.
type Filter struct {
	checks []Check
}

// NewFilter creates a Filter running checks in order.
func NewFilter(checks ...Check) *Filter {
	return &Filter{checks: checks}
}

// Check returns the name of the first check that rejects value, or ok=true.
func (f *Filter) Check(value string) (rejectedBy string, ok bool) {
	for _, c := range f.checks {
		if c.Reject(value) {
			return c.Name, false
		}
	}
	return "", true
}

// Valid reports whether value passes every check.
func (f *Filter) Valid(value string) bool {
	_, ok := f.Check(value)
	return ok
}

// Select returns the unique candidate values that pass, in input order, and a
// per-check count of rejections.
func (f *Filter) Select(candidates []Candidate) (names []string, rejected map[string]int) {
	rejected = make(map[string]int)
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if seen[c.Value] {
			continue
		}
		seen[c.Value] = true
		if by, ok := f.Check(c.Value); !ok {
			rejected[by]++
			continue
		}
		names = append(names, c.Value)
	}
	return names, rejected
}
