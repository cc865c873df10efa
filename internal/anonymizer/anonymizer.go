// Package anonymizer detects person-identifying tokens in transcript-like
// text and replaces each with a stable pseudonym.
//
// A document goes through four strictly sequential stages:
//  1. Extract: independent rules propose candidates from the body and the
//     filename (speaker labels, emails, initial names, bracketed segments).
//  2. Filter: ordered checks reject boilerplate, numbers, dates, ignored words
//     and labels produced by an earlier run.
//  3. Map: surviving names get Speaker_A, Speaker_B, ... longest name first.
//  4. Apply: the map rewrites the body and the filename stem.
//
// The map lives for one document only and is never persisted.
package anonymizer

import "fmt"

// Options configures an Anonymizer. Zero values select the defaults.
type Options struct {
	// Marker prefixes labels and guards against re-anonymization. Default "Speaker".
	Marker string

	// HeadLimit bounds how much of the body bracket and initial-name rules
	// scan. Zero selects 500; negative scans the whole body.
	HeadLimit int

	// Rules and Checks select built-in rules and checks by name, in order.
	Rules  []string
	Checks []string

	Vocabulary Vocabulary
}

// DefaultMarker is the label prefix used when Options.Marker is empty.
const DefaultMarker = "Speaker"

// DefaultHeadLimit is the body prefix length scanned by head-scoped rules.
const DefaultHeadLimit = 500

// Anonymizer holds the configured extractor and filter. It keeps no
// per-document state and is safe for concurrent use.
type Anonymizer struct {
	marker    string
	extractor *Extractor
	filter    *Filter
}

// New creates an Anonymizer from opts.
func New(opts Options) (*Anonymizer, error) {
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.HeadLimit == 0 {
		opts.HeadLimit = DefaultHeadLimit
	}
	rules, err := RulesByName(opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("configure extractor: %w", err)
	}
	checks, err := ChecksByName(opts.Checks, opts.Vocabulary, opts.Marker)
	if err != nil {
		return nil, fmt.Errorf("configure filter: %w", err)
	}
	return &Anonymizer{
		marker:    opts.Marker,
		extractor: NewExtractor(opts.HeadLimit, rules...),
		filter:    NewFilter(checks...),
	}, nil
}

// Marker returns the label prefix.
func (a *Anonymizer) Marker() string { return a.marker }

// Analysis is the outcome of extract + filter + map for one document.
type Analysis struct {
	Candidates []Candidate
	Rejected   map[string]int // check name -> rejected candidates
	Map        *NameMap
}

// Analyze builds the name map for text and filename.
func (a *Anonymizer) Analyze(text, filename string) *Analysis {
	cands := a.extractor.Extract(text, filename)
	names, rejected := a.filter.Select(cands)
	return &Analysis{
		Candidates: cands,
		Rejected:   rejected,
		Map:        BuildNameMap(names, a.marker),
	}
}

// BuildMap is Analyze without the diagnostics.
func (a *Anonymizer) BuildMap(text, filename string) *NameMap {
	return a.Analyze(text, filename).Map
}

// Result is an anonymized flat-text document.
type Result struct {
	Text         string
	Filename     string
	Replacements int
	Analysis     *Analysis
}

// AnonymizeText anonymizes text and filename with one shared map, so a name
// found in both gets the same label in both.
func (a *Anonymizer) AnonymizeText(text, filename string) Result {
	an := a.Analyze(text, filename)
	out, n := an.Map.ApplyCount(text)
	return Result{
		Text:         out,
		Filename:     an.Map.ApplyFilename(filename),
		Replacements: n,
		Analysis:     an,
	}
}
