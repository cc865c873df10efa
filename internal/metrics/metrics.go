// Package metrics provides lightweight, lock-minimal counters for the
// transcript anonymizer.
//
// Counters use sync/atomic so workers in a batch never contend on a mutex.
// Latency statistics use a single mutex per dimension; they are updated at
// most once per document or batch.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownRules lists the extraction rules that produce candidates, and
// knownChecks the filter checks that reject them. Maps keyed by these are
// populated in New() so Snapshot() iterates a fixed set without racing on
// map writes.
var (
	knownRules = []string{
		"label-colon", "email", "initial-name", "bracket-segment", "bracket-part",
	}
	knownChecks = []string{
		"too-short", "digits", "ignored", "date-like", "marker",
	}
)

// Metrics holds all runtime counters for a running anonymizer instance.
// The zero value is NOT valid for the per-rule and per-check counters; use New().
type Metrics struct {
	// Document outcomes
	DocumentsTotal      atomic.Int64
	DocumentsAnonymized atomic.Int64 // at least one name replaced
	DocumentsUnchanged  atomic.Int64 // no names found
	DocumentsFailed     atomic.Int64

	// Decoding
	DecodeFallbacks atomic.Int64 // decoded with the fallback encoding
	DecodeLossy     atomic.Int64 // some bytes replaced with U+FFFD

	// Error counters
	ErrorsInput       atomic.Int64 // source could not be read
	ErrorsUnsupported atomic.Int64
	ErrorsParse       atomic.Int64
	ErrorsOutput      atomic.Int64

	// Name volume
	NamesMapped   atomic.Int64 // distinct names across documents
	NamesReplaced atomic.Int64 // occurrences rewritten

	// Batches and HTTP
	BatchesTotal  atomic.Int64
	RequestsTotal atomic.Int64
	RequestsAuth  atomic.Int64 // rejected for a bad or missing token

	// Maps are written only in New(); concurrent reads are safe without a lock.
	candidates map[string]*atomic.Int64
	rejections map[string]*atomic.Int64

	docMu   sync.Mutex
	docStat latencyStats

	batchMu   sync.Mutex
	batchStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and the per-rule and
// per-check maps pre-populated.
func New() *Metrics {
	m := &Metrics{
		startTime:  time.Now(),
		candidates: make(map[string]*atomic.Int64, len(knownRules)),
		rejections: make(map[string]*atomic.Int64, len(knownChecks)),
	}
	for _, r := range knownRules {
		m.candidates[r] = new(atomic.Int64)
	}
	for _, c := range knownChecks {
		m.rejections[c] = new(atomic.Int64)
	}
	return m
}

// RecordCandidate counts n candidates proposed by rule.
// Unknown rules are silently ignored.
func (m *Metrics) RecordCandidate(rule string, n int) {
	if c, ok := m.candidates[rule]; ok {
		c.Add(int64(n))
	}
}

// RecordRejection counts n candidates rejected by check.
// Unknown checks are silently ignored.
func (m *Metrics) RecordRejection(check string, n int) {
	if c, ok := m.rejections[check]; ok {
		c.Add(int64(n))
	}
}

// RecordDocumentLatency records the duration of one document pass.
func (m *Metrics) RecordDocumentLatency(d time.Duration) {
	m.docMu.Lock()
	m.docStat.record(float64(d.Microseconds()) / 1000.0)
	m.docMu.Unlock()
}

// RecordBatchLatency records the wall time of one batch.
func (m *Metrics) RecordBatchLatency(d time.Duration) {
	m.batchMu.Lock()
	m.batchStat.record(float64(d.Microseconds()) / 1000.0)
	m.batchMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.docMu.Lock()
	doc := m.docStat.snapshot()
	m.docMu.Unlock()

	m.batchMu.Lock()
	batch := m.batchStat.snapshot()
	m.batchMu.Unlock()

	return Snapshot{
		Documents: DocumentSnapshot{
			Total:      m.DocumentsTotal.Load(),
			Anonymized: m.DocumentsAnonymized.Load(),
			Unchanged:  m.DocumentsUnchanged.Load(),
			Failed:     m.DocumentsFailed.Load(),
			Fallback:   m.DecodeFallbacks.Load(),
			Lossy:      m.DecodeLossy.Load(),
		},
		Errors: ErrorSnapshot{
			Input:       m.ErrorsInput.Load(),
			Unsupported: m.ErrorsUnsupported.Load(),
			Parse:       m.ErrorsParse.Load(),
			Output:      m.ErrorsOutput.Load(),
		},
		Names: NameSnapshot{
			Mapped:     m.NamesMapped.Load(),
			Replaced:   m.NamesReplaced.Load(),
			Candidates: nonZero(m.candidates),
			Rejections: nonZero(m.rejections),
		},
		Batches: m.BatchesTotal.Load(),
		Requests: RequestSnapshot{
			Total: m.RequestsTotal.Load(),
			Auth:  m.RequestsAuth.Load(),
		},
		Latency: LatencyGroup{
			DocumentMs: doc,
			BatchMs:    batch,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

func nonZero(counters map[string]*atomic.Int64) map[string]int64 {
	out := make(map[string]int64, len(counters))
	for k, c := range counters {
		if n := c.Load(); n > 0 {
			out[k] = n
		}
	}
	return out
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Documents  DocumentSnapshot `json:"documents"`
	Errors     ErrorSnapshot    `json:"errors"`
	Names      NameSnapshot     `json:"names"`
	Batches    int64            `json:"batches"`
	Requests   RequestSnapshot  `json:"requests"`
	Latency    LatencyGroup     `json:"latency"`
	UptimeSecs float64          `json:"uptimeSecs"`
}

// DocumentSnapshot holds document-level counters.
type DocumentSnapshot struct {
	Total      int64 `json:"total"`
	Anonymized int64 `json:"anonymized"`
	Unchanged  int64 `json:"unchanged"`
	Failed     int64 `json:"failed"`
	Fallback   int64 `json:"decodeFallback"`
	Lossy      int64 `json:"decodeLossy"`
}

// ErrorSnapshot holds error counters by kind.
type ErrorSnapshot struct {
	Input       int64 `json:"input"`
	Unsupported int64 `json:"unsupported"`
	Parse       int64 `json:"parse"`
	Output      int64 `json:"output"`
}

// NameSnapshot holds name volume and per-rule/per-check counters.
type NameSnapshot struct {
	Mapped   int64 `json:"mapped"`
	Replaced int64 `json:"replaced"`

	// Only rules and checks with non-zero counts appear.
	Candidates map[string]int64 `json:"candidates,omitempty"`
	Rejections map[string]int64 `json:"rejections,omitempty"`
}

// RequestSnapshot holds HTTP request counters.
type RequestSnapshot struct {
	Total int64 `json:"total"`
	Auth  int64 `json:"auth"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	DocumentMs LatencySnapshot `json:"documentMs"`
	BatchMs    LatencySnapshot `json:"batchMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
