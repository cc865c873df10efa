// Package vocabulary holds the ignore list: words that look like speaker
// labels in transcripts (metadata headings, media extensions, institutional
// terms) but never name a person.
//
// The Registry is shared between the anonymizer filter and the HTTP API.
// Runtime changes are persisted to disk via atomic file writes so they
// survive restarts.
package vocabulary

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// MaxWordLen bounds ignored words, in characters.
const MaxWordLen = 64

// Valid accepts a single-line word of at most MaxWordLen characters,
// ignoring surrounding space.
func Valid(word string) bool {
	word = strings.TrimSpace(word)
	if word == "" || utf8.RuneCountInString(word) > MaxWordLen {
		return false
	}
	for _, r := range word {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// DefaultWords is the built-in ignore list for Japanese and English
// transcript exports.
func DefaultWords() []string {
	return []string{
		// transcript metadata
		"参加者", "話者", "詳細", "まとめ", "日時", "文字起こし", "メモ", "長さ",
		"議題", "場所", "日付", "時間", "件名", "タイトル", "要約", "録音",
		"Source", "Time", "Unknown", "Date", "Title", "Duration", "Summary",
		"Notes", "Note", "Agenda", "Participants", "Attendees", "Transcript",
		"Location", "Subject", "Minutes", "Topic", "Action Items",
		// URL schemes caught by the label rule
		"http", "https", "mailto",
		// media and document extensions
		"mp3", "mp4", "m4a", "wav", "webm", "ogg", "flac", "aac", "mov",
		"txt", "md", "csv", "docx", "vtt", "srt",
		// meeting tools and institutional terms
		"Zoom", "Teams", "Google Meet", "Webex", "Otter", "Notta",
		"Inc", "Ltd", "Corp", "株式会社", "会議", "打ち合わせ",
		// pseudonym marker
		"Speaker",
	}
}

// Registry is the mutable, case-insensitive ignore list.
type Registry struct {
	mu          sync.RWMutex
	words       map[string]string // lower-case key -> word as entered
	persistPath string            // empty = no persistence
}

// NewRegistry creates a registry seeded from seed. If persistPath is
// non-empty and the file exists, its contents take precedence (it represents
// runtime overrides).
func NewRegistry(seed []string, persistPath string) *Registry {
	r := &Registry{
		words:       make(map[string]string, len(seed)),
		persistPath: persistPath,
	}

	if persistPath != "" {
		words, err := r.loadFromDisk()
		switch {
		case err == nil:
			r.addAll(words)
			log.Printf("[VOCABULARY] Loaded %d words from %s", len(r.words), persistPath)
			return r
		case !os.IsNotExist(err):
			log.Printf("[VOCABULARY] Warning: failed to load %s: %v (using defaults)", persistPath, err)
		}
	}

	r.addAll(seed)
	return r
}

func (r *Registry) addAll(words []string) {
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			r.words[strings.ToLower(w)] = w
		}
	}
}

// Contains reports whether word is ignored, comparing case-insensitively.
func (r *Registry) Contains(word string) bool {
	key := strings.ToLower(strings.TrimSpace(word))
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.words[key]
	return ok
}

// Add adds a word and persists to disk. Blank words are ignored.
func (r *Registry) Add(word string) {
	word = strings.TrimSpace(word)
	if word == "" {
		return
	}
	r.mu.Lock()
	r.words[strings.ToLower(word)] = word
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// Remove removes a word (any casing) and persists to disk. It reports
// whether the word was present.
func (r *Registry) Remove(word string) bool {
	key := strings.ToLower(strings.TrimSpace(word))
	r.mu.Lock()
	_, ok := r.words[key]
	delete(r.words, key)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	if ok {
		r.persist(snapshot)
	}
	return ok
}

// All returns a sorted slice of all ignored words.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of ignored words.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.words)
}

// Missing returns the non-blank words that the registry does not contain, in
// input order.
func (r *Registry) Missing(words []string) []string {
	var out []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" && !r.Contains(w) {
			out = append(out, w)
		}
	}
	return out
}

// loadFromDisk reads the persisted word list from disk.
func (r *Registry) loadFromDisk() ([]string, error) {
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		return nil, err
	}
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.persistPath, err)
	}
	return words, nil
}

// snapshotLocked returns a sorted copy of the current word set.
// Caller must hold r.mu.
func (r *Registry) snapshotLocked() []string {
	out := make([]string, 0, len(r.words))
	for _, w := range r.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// persist writes the given snapshot to disk atomically.
// It does NOT hold r.mu, so it won't block Contains calls from the filter.
func (r *Registry) persist(words []string) {
	if r.persistPath == "" {
		return
	}

	data, err := json.MarshalIndent(words, "", "  ")
	if err != nil {
		log.Printf("[VOCABULARY] Marshal error: %v", err)
		return
	}

	// Atomic write: temp file → rename
	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".ignore-vocabulary-*.tmp")
	if err != nil {
		log.Printf("[VOCABULARY] Persist error (create temp): %v", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
		log.Printf("[VOCABULARY] Persist error (write): %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
		log.Printf("[VOCABULARY] Persist error (close): %v", err)
		return
	}
	if err := os.Rename(tmpName, r.persistPath); err != nil { // #nosec G703 -- paths from trusted config
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
		log.Printf("[VOCABULARY] Persist error (rename): %v", err)
		return
	}
}
