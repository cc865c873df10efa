// Package ledger records per-document outcomes of each batch: status,
// counts, output filename and error kind. It never stores a source filename,
// a detected name or a name mapping.
//
// Two implementations are provided:
//   - memoryLedger  in-memory only, used in tests and when no path is configured.
//   - boltLedger    embedded key-value store (bbolt), survives restarts so
//     `anonymizer report` can inspect earlier batches.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by Batch for an unknown batch ID.
var ErrNotFound = errors.New("batch not found")

// Status is the outcome of one document.
type Status string

const (
	StatusAnonymized Status = "anonymized"
	StatusUnchanged  Status = "unchanged"
	StatusFailed     Status = "failed"
)

// Entry is the record of one document within a batch.
type Entry struct {
	BatchID      string    `json:"batchId"`
	Index        int       `json:"index"`
	Output       string    `json:"output,omitempty"` // anonymized filename; empty on failure
	Format       string    `json:"format,omitempty"`
	Status       Status    `json:"status"`
	Names        int       `json:"names"`
	Replacements int       `json:"replacements"`
	Encoding     string    `json:"encoding,omitempty"`
	Lossy        bool      `json:"lossy,omitempty"`
	Error        string    `json:"error,omitempty"` // error kind, never the raw message
	DurationMs   float64   `json:"durationMs"`
	At           time.Time `json:"at"`
}

// Ledger stores entries grouped by batch ID.
// All implementations must be safe for concurrent use.
type Ledger interface {
	// Record stores e under e.BatchID, replacing any entry with the same index.
	Record(e Entry) error

	// Batch returns the entries of one batch ordered by index.
	Batch(id string) ([]Entry, error)

	// Batches returns all known batch IDs, sorted.
	Batches() ([]string, error)

	// Close releases any resources held by the ledger.
	Close() error
}

// Open returns a bbolt ledger at path, or an in-memory ledger when path is empty.
func Open(path string) (Ledger, error) {
	if path == "" {
		return NewMemory(), nil
	}
	return openBolt(path)
}

// --- memoryLedger ------------------------------------------------------------

type memoryLedger struct {
	mu      sync.RWMutex
	batches map[string]map[int]Entry
}

// NewMemory returns an in-memory Ledger.
func NewMemory() Ledger {
	return &memoryLedger{batches: make(map[string]map[int]Entry)}
}

func (l *memoryLedger) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.batches[e.BatchID]
	if !ok {
		b = make(map[int]Entry)
		l.batches[e.BatchID] = b
	}
	b[e.Index] = e
	return nil
}

func (l *memoryLedger) Batch(id string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := make([]Entry, 0, len(b))
	for _, e := range b {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (l *memoryLedger) Batches() ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.batches))
	for id := range l.batches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *memoryLedger) Close() error { return nil }

// --- boltLedger --------------------------------------------------------------

// boltRoot holds one nested bucket per batch; keys inside are big-endian
// document indexes so a cursor walks them in order.
const boltRoot = "batches"

type boltLedger struct {
	db *bolt.DB
}

func openBolt(path string) (Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltRoot))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create ledger bucket: %w", err)
	}

	log.Printf("[LEDGER] opened at %s", path)
	return &boltLedger{db: db}, nil
}

func indexKey(i int) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(i))
	return k[:]
}

func (l *boltLedger) Record(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(boltRoot))
		if root == nil {
			return fmt.Errorf("bucket %q not found", boltRoot)
		}
		b, err := root.CreateBucketIfNotExists([]byte(e.BatchID))
		if err != nil {
			return fmt.Errorf("create batch bucket: %w", err)
		}
		return b.Put(indexKey(e.Index), data)
	})
}

func (l *boltLedger) Batch(id string) ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(boltRoot))
		if root == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		b := root.Bucket([]byte(id))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode ledger entry: %w", err)
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *boltLedger) Batches() ([]string, error) {
	var ids []string
	err := l.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(boltRoot))
		if root == nil {
			return nil
		}
		return root.ForEach(func(k, v []byte) error {
			if v == nil { // nested bucket
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *boltLedger) Close() error {
	return l.db.Close()
}
