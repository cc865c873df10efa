// Package pipeline runs documents through decode, analysis, substitution and
// re-encoding, one document at a time or as a batch on a bounded worker pool.
//
// Each document gets its own name map; nothing learned from one document is
// applied to another. A failing document never aborts its siblings: it is
// reported in its Result and counted in the batch Summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"transcript-anonymizer/internal/anonymizer"
	"transcript-anonymizer/internal/archive"
	"transcript-anonymizer/internal/document"
	"transcript-anonymizer/internal/ledger"
	"transcript-anonymizer/internal/logger"
	"transcript-anonymizer/internal/metrics"
)

var (
	// ErrInput is returned when a document's source could not be read.
	ErrInput = errors.New("input failure")

	// ErrOutput is returned when an anonymized document cannot be serialized.
	ErrOutput = errors.New("output failure")
)

// Input is one document to anonymize. An Input with Err set could not be
// read; it fails on its own without affecting the rest of the batch.
type Input struct {
	Name string
	Data []byte
	Err  error
}

// Result is the outcome of one document. Name and Data are set only when Err
// is nil.
type Result struct {
	Index        int
	Name         string // anonymized filename
	Data         []byte
	Format       document.Format
	Encoding     string
	Lossy        bool
	Names        int // distinct names in the map
	Replacements int // occurrences rewritten in the body
	Duration     time.Duration
	Err          error

	analysis *anonymizer.Analysis
}

// OK reports whether the document was processed.
func (r Result) OK() bool { return r.Err == nil }

// Status classifies the result for the ledger.
func (r Result) Status() ledger.Status {
	switch {
	case r.Err != nil:
		return ledger.StatusFailed
	case r.Names > 0:
		return ledger.StatusAnonymized
	default:
		return ledger.StatusUnchanged
	}
}

// Entry converts r into a ledger entry. Only the anonymized filename is kept.
func (r Result) Entry(batchID string) ledger.Entry {
	e := ledger.Entry{
		BatchID:      batchID,
		Index:        r.Index,
		Format:       string(r.Format),
		Status:       r.Status(),
		Names:        r.Names,
		Replacements: r.Replacements,
		Encoding:     r.Encoding,
		Lossy:        r.Lossy,
		DurationMs:   float64(r.Duration.Microseconds()) / 1000.0,
		At:           time.Now().UTC(),
	}
	if r.Err != nil {
		e.Error = ErrorKind(r.Err)
	} else {
		e.Output = r.Name
	}
	return e
}

// ErrorKind names the class of err without repeating its message, which may
// quote the source filename.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, document.ErrUnsupportedFormat):
		return "unsupported format"
	case errors.Is(err, document.ErrParse):
		return "parse failure"
	case errors.Is(err, ErrInput):
		return "input failure"
	case errors.Is(err, ErrOutput):
		return "output failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// Summary is the tally of a batch.
type Summary struct {
	BatchID   string
	Processed int
	Total     int
	Failed    int
}

// String renders the success count the way the upload report shows it.
func (s Summary) String() string { return fmt.Sprintf("%d/%d", s.Processed, s.Total) }

// Options configures a Processor. Zero values select the defaults.
type Options struct {
	Workers int // default runtime.NumCPU()
	Metrics *metrics.Metrics
	Ledger  ledger.Ledger // nil disables recording
	Logger  *logger.Logger
}

// Processor anonymizes documents. It is safe for concurrent use.
type Processor struct {
	anon    *anonymizer.Anonymizer
	dec     *document.Decoder
	workers int
	metrics *metrics.Metrics
	ledger  ledger.Ledger
	log     *logger.Logger
}

// New creates a Processor.
func New(anon *anonymizer.Anonymizer, dec *document.Decoder, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("PIPELINE", "info")
	}
	return &Processor{
		anon:    anon,
		dec:     dec,
		workers: opts.Workers,
		metrics: opts.Metrics,
		ledger:  opts.Ledger,
		log:     opts.Logger,
	}
}

// Metrics returns the counters the processor updates.
func (p *Processor) Metrics() *metrics.Metrics { return p.metrics }

// Process anonymizes a single document.
func (p *Processor) Process(name string, data []byte) Result {
	return p.processAt(0, Input{Name: name, Data: data})
}

func (p *Processor) processAt(index int, in Input) Result {
	start := time.Now()
	var res Result
	if in.Err != nil {
		res = Result{Err: fmt.Errorf("%w: %w", ErrInput, in.Err)}
	} else {
		res = p.process(in.Name, in.Data)
	}
	res.Index = index
	res.Duration = time.Since(start)
	p.observe(res)
	return res
}

func (p *Processor) process(name string, data []byte) Result {
	doc, err := document.Open(name, data, p.dec)
	if err != nil {
		return Result{Err: err}
	}

	res := Result{Format: doc.Format, Encoding: doc.Encoding, Lossy: doc.Lossy}

	// Extraction sees the whole document at once; replacement then visits
	// each text node with the same map.
	res.analysis = p.anon.Analyze(doc.Text(), name)
	m := res.analysis.Map
	res.Names = m.Len()
	if m.Len() > 0 {
		doc.Rewrite(func(s string) string {
			out, n := m.ApplyCount(s)
			res.Replacements += n
			return out
		})
	}

	out, err := doc.Bytes()
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrOutput, err)
		return res
	}
	res.Name = m.ApplyFilename(name)
	res.Data = out
	return res
}

func (p *Processor) observe(res Result) {
	m := p.metrics
	m.DocumentsTotal.Add(1)
	m.RecordDocumentLatency(res.Duration)

	if res.Err != nil {
		m.DocumentsFailed.Add(1)
		switch {
		case errors.Is(res.Err, ErrInput):
			m.ErrorsInput.Add(1)
		case errors.Is(res.Err, document.ErrUnsupportedFormat):
			m.ErrorsUnsupported.Add(1)
		case errors.Is(res.Err, document.ErrParse):
			m.ErrorsParse.Add(1)
		default:
			m.ErrorsOutput.Add(1)
		}
		p.log.Warnf("document", "#%d skipped: %s", res.Index, ErrorKind(res.Err))
		return
	}

	if res.Encoding != "utf-8" {
		m.DecodeFallbacks.Add(1)
	}
	if res.Lossy {
		m.DecodeLossy.Add(1)
		p.log.Warnf("decode", "#%d decoded with replacement characters (%s)", res.Index, res.Encoding)
	}
	if res.Names > 0 {
		m.DocumentsAnonymized.Add(1)
	} else {
		m.DocumentsUnchanged.Add(1)
	}
	m.NamesMapped.Add(int64(res.Names))
	m.NamesReplaced.Add(int64(res.Replacements))

	if res.analysis != nil {
		for _, c := range res.analysis.Candidates {
			m.RecordCandidate(string(c.Rule), 1)
		}
		for check, n := range res.analysis.Rejected {
			m.RecordRejection(check, n)
		}
	}

	p.log.Debugf("document", "#%d -> %s format=%s names=%d replacements=%d in %s",
		res.Index, res.Name, res.Format, res.Names, res.Replacements, res.Duration.Round(time.Microsecond))
}

// Batch anonymizes inputs on the worker pool and returns one Result per
// input, in input order. Cancelling ctx stops scheduling further documents;
// documents already running finish, the rest fail with the context error.
func (p *Processor) Batch(ctx context.Context, inputs []Input) ([]Result, Summary) {
	start := time.Now()
	sum := Summary{BatchID: uuid.NewString(), Total: len(inputs)}
	results := make([]Result, len(inputs))

	workers := min(p.workers, len(inputs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.processAt(i, inputs[i])
			}
		}()
	}

	scheduled := 0
feed:
	for i := range inputs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
			scheduled++
		}
	}
	close(jobs)
	wg.Wait()

	for i := scheduled; i < len(inputs); i++ {
		results[i] = Result{Index: i, Err: fmt.Errorf("not scheduled: %w", ctx.Err())}
	}

	for _, r := range results {
		if r.OK() {
			sum.Processed++
		} else {
			sum.Failed++
		}
		if p.ledger != nil {
			if err := p.ledger.Record(r.Entry(sum.BatchID)); err != nil {
				p.log.Warnf("ledger", "batch %s #%d: %v", sum.BatchID, r.Index, err)
			}
		}
	}

	elapsed := time.Since(start)
	p.metrics.BatchesTotal.Add(1)
	p.metrics.RecordBatchLatency(elapsed)
	p.log.Infof("batch", "%s processed %s (%d failed) in %s", sum.BatchID, sum, sum.Failed, elapsed.Round(time.Millisecond))
	return results, sum
}

// Files returns the successful outputs as archive entries, in input order.
func Files(results []Result) []archive.File {
	files := make([]archive.File, 0, len(results))
	for _, r := range results {
		if r.OK() {
			files = append(files, archive.File{Name: r.Name, Data: r.Data})
		}
	}
	return files
}
