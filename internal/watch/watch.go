// Package watch anonymizes documents dropped into an inbox directory and
// writes the results to an outbox directory.
//
// Editors and copy tools often produce several write events for one file, so
// each path is debounced: it is processed once no event has arrived for it
// for the configured delay.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"transcript-anonymizer/internal/archive"
	"transcript-anonymizer/internal/document"
	"transcript-anonymizer/internal/logger"
	"transcript-anonymizer/internal/pipeline"
)

// DefaultDelay is the quiet period before a changed file is processed.
const DefaultDelay = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Delay time.Duration // default DefaultDelay

	// Existing processes files already in the inbox when Run starts.
	Existing bool

	// OnResult, when set, is called after every processed file.
	OnResult func(src string, res pipeline.Result)

	Logger *logger.Logger
}

// Watcher moves anonymized copies of inbox files to the outbox.
type Watcher struct {
	inbox, outbox string
	proc          *pipeline.Processor
	opts          Options
	log           *logger.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup

	outMu   sync.Mutex
	outputs map[string]output // inbox path -> outbox file written for it
}

// output records the outbox file claimed for one inbox file.
type output struct {
	name string // anonymized name before any " (k)" suffix
	file string
}

// New validates the directories and returns a Watcher. The outbox is created
// if missing; it must not be the inbox.
func New(inbox, outbox string, proc *pipeline.Processor, opts Options) (*Watcher, error) {
	in, err := filepath.Abs(inbox)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	out, err := filepath.Abs(outbox)
	if err != nil {
		return nil, fmt.Errorf("outbox: %w", err)
	}
	if in == out {
		return nil, errors.New("inbox and outbox must differ")
	}
	if st, err := os.Stat(in); err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("inbox %s is not a directory", in)
	}
	if err := os.MkdirAll(out, 0o750); err != nil {
		return nil, fmt.Errorf("outbox: %w", err)
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("WATCH", "info")
	}
	return &Watcher{
		inbox:   in,
		outbox:  out,
		proc:    proc,
		opts:    opts,
		log:     opts.Logger,
		timers:  make(map[string]*time.Timer),
		outputs: make(map[string]output),
	}, nil
}

// eligible reports whether path names a supported, non-hidden file directly
// inside the inbox.
func (w *Watcher) eligible(path string) bool {
	if filepath.Dir(path) != w.inbox {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	return document.Supported(base)
}

// Run watches the inbox until ctx is cancelled. Files still waiting out their
// debounce delay at that point are dropped; files being processed finish.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close() //nolint:errcheck // shutdown

	if err := fsw.Add(w.inbox); err != nil {
		return fmt.Errorf("watch %s: %w", w.inbox, err)
	}
	w.log.Infof("start", "Watching %s -> %s", w.inbox, w.outbox)

	if w.opts.Existing {
		w.sweep(ctx)
	}

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("stop", "Watcher stopped")
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.eligible(ev.Name) {
				continue
			}
			w.trigger(ctx, ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("watch", "fsnotify: %v", err)
		}
	}
}

func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		w.log.Warnf("sweep", "read inbox: %v", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.inbox, e.Name())
		if e.Type().IsRegular() && w.eligible(path) {
			w.trigger(ctx, path)
		}
	}
}

// trigger (re)starts the debounce timer for path.
func (w *Watcher) trigger(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.opts.Delay)
		return
	}
	w.timers[path] = time.AfterFunc(w.opts.Delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		if w.stopped || ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		res, err := w.ProcessFile(ctx, path)
		if err != nil {
			w.log.Warnf("process", "%s: %v", filepath.Base(path), err)
		}
		if w.opts.OnResult != nil {
			w.opts.OnResult(path, res)
		}
	})
}

// stop cancels pending timers and waits for running files.
func (w *Watcher) stop() {
	w.mu.Lock()
	w.stopped = true
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// ProcessFile anonymizes one inbox file as a single-document batch and writes
// the output under its anonymized name in the outbox.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (pipeline.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Result{Err: err}, fmt.Errorf("read: %w", err)
	}

	results, sum := w.proc.Batch(ctx, []pipeline.Input{{Name: filepath.Base(path), Data: data}})
	res := results[0]
	if res.Err != nil {
		return res, fmt.Errorf("batch %s: %s", sum.BatchID, pipeline.ErrorKind(res.Err))
	}

	file, err := w.claim(path, res.Name)
	if err == nil {
		err = writeAtomic(filepath.Join(w.outbox, file), res.Data)
		if err != nil {
			w.release(path)
		}
	}
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", pipeline.ErrOutput, err)
		return res, res.Err
	}
	res.Name = file
	w.log.Infof("process", "batch %s wrote %s (%d names)", sum.BatchID, res.Name, res.Names)
	return res, nil
}

// claim picks the outbox file for src. A source that was written before under
// the same anonymized name keeps its file; otherwise the first free name among
// name, "name (2)", "name (3)", ... is reserved with an exclusive create, so
// two sources that anonymize to the same name never overwrite each other.
func (w *Watcher) claim(src, name string) (string, error) {
	w.outMu.Lock()
	defer w.outMu.Unlock()

	prev, seen := w.outputs[src]
	if seen && prev.name == name {
		return prev.file, nil
	}
	for k := 1; ; k++ {
		file := name
		if k > 1 {
			file = archive.Numbered(name, k)
		}
		f, err := os.OpenFile(filepath.Join(w.outbox, file), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		f.Close() //nolint:errcheck // empty placeholder, replaced by writeAtomic
		if seen {
			// The source was renamed by its new content; drop the stale output.
			os.Remove(filepath.Join(w.outbox, prev.file)) //nolint:errcheck // best-effort cleanup
		}
		w.outputs[src] = output{name: name, file: file}
		return file, nil
	}
}

// release forgets and removes the output claimed for src after a failed write.
func (w *Watcher) release(src string) {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	if o, ok := w.outputs[src]; ok {
		os.Remove(filepath.Join(w.outbox, o.file)) //nolint:errcheck // best-effort cleanup
		delete(w.outputs, src)
	}
}

// writeAtomic writes via a temp file in the same directory and renames it
// into place, so readers of the outbox never see a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".anon-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()     //nolint:errcheck // already failing
		os.Remove(name) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name) //nolint:errcheck // best-effort cleanup
		return err
	}
	return nil
}
