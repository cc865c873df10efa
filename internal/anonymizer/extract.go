package anonymizer

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleKind tags a candidate with the extraction rule that produced it.
type RuleKind string

// Candidate rule kinds.
const (
	RuleLabelColon     RuleKind = "label-colon"
	RuleEmail          RuleKind = "email"
	RuleInitialName    RuleKind = "initial-name"
	RuleBracketSegment RuleKind = "bracket-segment"
	RuleBracketPart    RuleKind = "bracket-part"
)

// Candidate is a substring suspected of identifying a person. It has not been
// validated yet.
type Candidate struct {
	Value string   `json:"value"`
	Rule  RuleKind `json:"rule"`
}

// Source is the input a Rule scans: the document body and the filename stem.
type Source struct {
	Text string
	Stem string

	// HeadLimit bounds the number of body characters the head-scoped rules see.
	HeadLimit int
}

// Head returns the filename stem followed by the first HeadLimit characters
// of the body. Bracket and initial-name rules only look here.
func (s Source) Head() string {
	body := s.Text
	if s.HeadLimit >= 0 {
		n := 0
		for i := range body {
			if n == s.HeadLimit {
				body = body[:i]
				break
			}
			n++
		}
	}
	if s.Stem == "" {
		return body
	}
	return s.Stem + "\n" + body
}

// Rule is one independent extraction heuristic.
type Rule interface {
	Name() string
	Extract(src Source) []Candidate
}

var (
	// Line-leading speaker label, optionally after a "[12:03]" style tag.
	// Half-width and full-width colons are both accepted.
	labelColonRe = regexp.MustCompile(`(?m)^(?:\[.*?\]\s*)?([^\n\r：:]{2,20}?)\s*[:：]`)

	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// "H.Sakai" style initial + surname. Underscore counts as a separator so
	// "call_R.Okuzumi" matches.
	initialNameRe = regexp.MustCompile(`(?:^|[^A-Za-z0-9])([A-Z]\.[A-Z][A-Za-z]+)`)

	bracketRe      = regexp.MustCompile(`[(（]([^()（）]+)[)）]`)
	bracketSplitRe = regexp.MustCompile(`[\s\-_/]+`)
)

type labelColonRule struct{}

func (labelColonRule) Name() string { return "label-colon" }

func (labelColonRule) Extract(src Source) []Candidate {
	var out []Candidate
	for _, m := range labelColonRe.FindAllStringSubmatch(src.Text, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, Candidate{Value: v, Rule: RuleLabelColon})
		}
	}
	return out
}

type emailRule struct{}

func (emailRule) Name() string { return "email" }

func (emailRule) Extract(src Source) []Candidate {
	var out []Candidate
	for _, s := range []string{src.Text, src.Stem} {
		for _, m := range emailRe.FindAllString(s, -1) {
			out = append(out, Candidate{Value: m, Rule: RuleEmail})
		}
	}
	return out
}

type initialNameRule struct{}

func (initialNameRule) Name() string { return "initial-name" }

func (initialNameRule) Extract(src Source) []Candidate {
	var out []Candidate
	for _, m := range initialNameRe.FindAllStringSubmatch(src.Head(), -1) {
		out = append(out, Candidate{Value: m[1], Rule: RuleInitialName})
	}
	return out
}

// bracketRule emits each parenthesized segment and every fragment of it.
// Fragments can be nonsense ("C" from "Speaker_C"); the filter is expected to
// discard what it can.
type bracketRule struct{}

func (bracketRule) Name() string { return "bracket" }

func (bracketRule) Extract(src Source) []Candidate {
	var out []Candidate
	for _, m := range bracketRe.FindAllStringSubmatch(src.Head(), -1) {
		seg := strings.TrimSpace(m[1])
		if seg == "" {
			continue
		}
		out = append(out, Candidate{Value: seg, Rule: RuleBracketSegment})
		for _, part := range bracketSplitRe.Split(seg, -1) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, Candidate{Value: part, Rule: RuleBracketPart})
			}
		}
	}
	return out
}

// DefaultRules returns every built-in rule in its canonical order.
func DefaultRules() []Rule {
	return []Rule{labelColonRule{}, emailRule{}, initialNameRule{}, bracketRule{}}
}

// RulesByName resolves rule names to built-in rules, keeping the given order.
// An empty list selects DefaultRules.
func RulesByName(names []string) ([]Rule, error) {
	if len(names) == 0 {
		return DefaultRules(), nil
	}
	known := make(map[string]Rule)
	for _, r := range DefaultRules() {
		known[r.Name()] = r
	}
	rules := make([]Rule, 0, len(names))
	for _, n := range names {
		r, ok := known[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown extraction rule %q", n)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Extractor runs an ordered list of rules and merges their output.
type Extractor struct {
	rules     []Rule
	headLimit int
}

// NewExtractor creates an Extractor. headLimit bounds the body prefix that
// head-scoped rules scan; a negative value scans the whole body.
func NewExtractor(headLimit int, rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules, headLimit: headLimit}
}

// Extract returns the merged candidate set for text and filename. Duplicate
// values collapse to the first rule that produced them.
func (e *Extractor) Extract(text, filename string) []Candidate {
	stem, _ := SplitExt(filename)
	src := Source{Text: text, Stem: stem, HeadLimit: e.headLimit}

	seen := make(map[string]bool)
	var out []Candidate
	for _, r := range e.rules {
		for _, c := range r.Extract(src) {
			if seen[c.Value] {
				continue
			}
			seen[c.Value] = true
			out = append(out, c)
		}
	}
	return out
}
