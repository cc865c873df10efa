package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-anonymizer/internal/anonymizer"
	"transcript-anonymizer/internal/document"
	"transcript-anonymizer/internal/ledger"
	"transcript-anonymizer/internal/logger"
	"transcript-anonymizer/internal/pipeline"
)

func newWatcher(t *testing.T, opts Options) (*Watcher, string, string, ledger.Ledger) {
	t.Helper()
	anon, err := anonymizer.New(anonymizer.Options{})
	require.NoError(t, err)
	dec, err := document.NewDecoder("shift_jis")
	require.NoError(t, err)
	l := ledger.NewMemory()
	proc := pipeline.New(anon, dec, pipeline.Options{
		Workers: 1,
		Ledger:  l,
		Logger:  logger.New("PIPELINE", "error"),
	})

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	if opts.Logger == nil {
		opts.Logger = logger.New("WATCH", "error")
	}
	w, err := New(in, out, proc, opts)
	require.NoError(t, err)
	return w, in, out, l
}

func TestNew_Validation(t *testing.T) {
	dir := t.TempDir()
	proc := pipeline.New(nil, nil, pipeline.Options{})

	_, err := New(dir, dir, proc, Options{})
	assert.Error(t, err, "same directory")

	_, err = New(filepath.Join(dir, "missing"), filepath.Join(dir, "out"), proc, Options{})
	assert.Error(t, err, "missing inbox")

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(file, filepath.Join(dir, "out"), proc, Options{})
	assert.Error(t, err, "inbox is a file")

	w, err := New(dir, filepath.Join(dir, "out"), proc, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDelay, w.opts.Delay)
	assert.DirExists(t, filepath.Join(dir, "out"))
}

func TestEligible(t *testing.T) {
	w, in, out, _ := newWatcher(t, Options{})

	assert.True(t, w.eligible(filepath.Join(in, "a.txt")))
	assert.True(t, w.eligible(filepath.Join(in, "minutes.docx")))
	assert.False(t, w.eligible(filepath.Join(in, "a.pdf")))
	assert.False(t, w.eligible(filepath.Join(in, ".hidden.txt")))
	assert.False(t, w.eligible(filepath.Join(in, "~$lock.docx")))
	assert.False(t, w.eligible(filepath.Join(in, "sub", "a.txt")))
	assert.False(t, w.eligible(filepath.Join(out, "a.txt")))
}

func TestProcessFile_WritesAnonymizedName(t *testing.T) {
	w, in, out, l := newWatcher(t, Options{})
	src := filepath.Join(in, "meeting_Tanaka.txt")
	require.NoError(t, os.WriteFile(src, []byte("Tanaka: Hello\nSuzuki: Hi\n"), 0o600))

	res, err := w.ProcessFile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "meeting_Speaker_B.txt", res.Name)

	got, err := os.ReadFile(filepath.Join(out, "meeting_Speaker_B.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Speaker_B: Hello\nSpeaker_A: Hi\n", string(got))
	assert.NoFileExists(t, filepath.Join(out, "meeting_Tanaka.txt"))

	ids, err := l.Batches()
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestProcessFile_Failure(t *testing.T) {
	w, in, out, _ := newWatcher(t, Options{})
	src := filepath.Join(in, "broken.docx")
	require.NoError(t, os.WriteFile(src, []byte("not a zip"), 0o600))

	res, err := w.ProcessFile(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, res.Err, document.ErrParse)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = w.ProcessFile(context.Background(), filepath.Join(in, "gone.txt"))
	assert.Error(t, err)
}

func TestProcessFile_CollidingNamesKeepBothOutputs(t *testing.T) {
	w, in, out, _ := newWatcher(t, Options{})
	first := filepath.Join(in, "meeting_Tanaka.txt")
	second := filepath.Join(in, "meeting_Suzuki.txt")
	require.NoError(t, os.WriteFile(first, []byte("Tanaka: first doc\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("Suzuki: second doc\n"), 0o600))

	res, err := w.ProcessFile(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, "meeting_Speaker_A.txt", res.Name)

	res, err = w.ProcessFile(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "meeting_Speaker_A (2).txt", res.Name)

	got, err := os.ReadFile(filepath.Join(out, "meeting_Speaker_A.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Speaker_A: first doc\n", string(got))
	got, err = os.ReadFile(filepath.Join(out, "meeting_Speaker_A (2).txt"))
	require.NoError(t, err)
	assert.Equal(t, "Speaker_A: second doc\n", string(got))

	// Reprocessing a source reuses its own output.
	require.NoError(t, os.WriteFile(first, []byte("Tanaka: first doc, edited\n"), 0o600))
	res, err = w.ProcessFile(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, "meeting_Speaker_A.txt", res.Name)
	got, err = os.ReadFile(filepath.Join(out, "meeting_Speaker_A.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Speaker_A: first doc, edited\n", string(got))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestProcessFile_ExistingOutboxFileIsKept(t *testing.T) {
	w, in, out, _ := newWatcher(t, Options{})
	require.NoError(t, os.WriteFile(filepath.Join(out, "notes.txt"), []byte("keep me"), 0o600))
	src := filepath.Join(in, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("Alice: hi\n"), 0o600))

	res, err := w.ProcessFile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "notes (2).txt", res.Name)

	got, err := os.ReadFile(filepath.Join(out, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got))
}

type collector struct {
	mu      sync.Mutex
	results map[string]pipeline.Result
	calls   int
}

func (c *collector) add(src string, res pipeline.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		c.results = make(map[string]pipeline.Result)
	}
	c.results[filepath.Base(src)] = res
	c.calls++
}

func (c *collector) get(name string) (pipeline.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[name]
	return r, ok
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRun_ProcessesNewFiles(t *testing.T) {
	var c collector
	w, in, out, _ := newWatcher(t, Options{Delay: 200 * time.Millisecond, OnResult: c.add})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register the inbox.
	time.Sleep(100 * time.Millisecond)

	src := filepath.Join(in, "notes.md")
	require.NoError(t, os.WriteFile(src, []byte("Alice: draft\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(in, "skip.pdf"), []byte("%PDF"), 0o600))
	// A second write inside the delay is folded into the first.
	require.NoError(t, os.WriteFile(src, []byte("Alice: final\n"), 0o600))

	require.Eventually(t, func() bool {
		_, ok := c.get("notes.md")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(out, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "Speaker_A: final\n", string(got))

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, c.count())
	_, skipped := c.get("skip.pdf")
	assert.False(t, skipped)
}

func TestRun_Existing(t *testing.T) {
	var c collector
	w, in, out, _ := newWatcher(t, Options{Delay: 10 * time.Millisecond, Existing: true, OnResult: c.add})
	require.NoError(t, os.WriteFile(filepath.Join(in, "old.txt"), []byte("Bob: earlier\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := c.get("old.txt")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got, err := os.ReadFile(filepath.Join(out, "old.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Speaker_A: earlier\n", string(got))
}
