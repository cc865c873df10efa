// Package server provides the HTTP API of the anonymizer.
//
// Endpoints:
//
//	GET  /status             - health, active configuration, vocabulary size
//	GET  /metrics            - counter snapshot
//	GET  /vocabulary         - ignore list
//	POST /vocabulary/add     - add an ignored word {"word":"Agenda"}
//	POST /vocabulary/remove  - remove an ignored word {"word":"Agenda"}
//	POST /anonymize          - multipart "files" upload, responds with a zip
//	GET  /batches/{id}       - ledger entries of one batch
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"transcript-anonymizer/internal/archive"
	"transcript-anonymizer/internal/config"
	"transcript-anonymizer/internal/document"
	"transcript-anonymizer/internal/ledger"
	"transcript-anonymizer/internal/logger"
	"transcript-anonymizer/internal/metrics"
	"transcript-anonymizer/internal/pipeline"
	"transcript-anonymizer/internal/vocabulary"
)

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	proc      *pipeline.Processor
	vocab     *vocabulary.Registry
	ledger    ledger.Ledger    // nil = batch lookup disabled
	token     string           // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics // shared with the processor
	log       *logger.Logger
}

// New creates an API server.
func New(cfg *config.Config, proc *pipeline.Processor, vocab *vocabulary.Registry, l ledger.Ledger) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		proc:      proc,
		vocab:     vocab,
		ledger:    l,
		token:     cfg.ManagementToken,
		metrics:   proc.Metrics(),
		log:       logger.New("SERVER", cfg.LogLevel),
	}
	if s.token != "" {
		s.log.Info("auth", "Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)
	r.Use(s.authMiddleware)

	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/vocabulary", s.handleVocabulary)
	r.Post("/vocabulary/add", s.handleAddWord)
	r.Post("/vocabulary/remove", s.handleRemoveWord)
	r.Post("/anonymize", s.handleAnonymize)
	r.Get("/batches/{id}", s.handleBatch)
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RequestsTotal.Add(1)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.metrics.RequestsAuth.Add(1)
			s.log.Warnf("auth", "Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status           string   `json:"status"`
		Uptime           string   `json:"uptime"`
		Port             int      `json:"port"`
		Marker           string   `json:"marker"`
		Rules            []string `json:"rules"`
		Checks           []string `json:"checks"`
		FallbackEncoding string   `json:"fallbackEncoding"`
		Workers          int      `json:"workers"`
		Formats          []string `json:"formats"`
		VocabularySize   int      `json:"vocabularySize"`
		Ledger           bool     `json:"ledger"`
	}

	s.writeJSON(w, http.StatusOK, response{
		Status:           "running",
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		Port:             s.cfg.Port,
		Marker:           s.cfg.Marker,
		Rules:            s.cfg.Rules,
		Checks:           s.cfg.Checks,
		FallbackEncoding: s.cfg.FallbackEncoding,
		Workers:          s.cfg.Workers,
		Formats:          document.Extensions(),
		VocabularySize:   s.vocab.Len(),
		Ledger:           s.ledger != nil,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleVocabulary(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"words": s.vocab.All()})
}

// decodeWord reads {"word":"..."} and validates it.
func decodeWord(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Word string `json:"word"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Word) == "" {
		http.Error(w, "invalid request: need {\"word\":\"...\"}", http.StatusBadRequest)
		return "", false
	}
	word := strings.TrimSpace(req.Word)
	if !vocabulary.Valid(word) {
		http.Error(w, "invalid word", http.StatusBadRequest)
		return "", false
	}
	return word, true
}

func (s *Server) handleAddWord(w http.ResponseWriter, r *http.Request) {
	word, ok := decodeWord(w, r)
	if !ok {
		return
	}
	s.vocab.Add(word)
	s.log.Infof("vocabulary", "Added ignored word (%d total)", s.vocab.Len())
	s.writeJSON(w, http.StatusOK, map[string]string{"added": word})
}

func (s *Server) handleRemoveWord(w http.ResponseWriter, r *http.Request) {
	word, ok := decodeWord(w, r)
	if !ok {
		return
	}
	if !s.vocab.Remove(word) {
		http.Error(w, "word not in vocabulary", http.StatusNotFound)
		return
	}
	s.log.Infof("vocabulary", "Removed ignored word (%d total)", s.vocab.Len())
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": word})
}

// batchReport is returned instead of a zip when no document succeeded.
type batchReport struct {
	BatchID   string   `json:"batchId"`
	Processed int      `json:"processed"`
	Total     int      `json:"total"`
	Errors    []string `json:"errors"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.MaxUploadMB) << 20
	if limit <= 0 {
		limit = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, fmt.Sprintf("upload exceeds %d MB", s.cfg.MaxUploadMB), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid multipart upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // best-effort temp file cleanup

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		http.Error(w, `no files: send them as multipart field "files"`, http.StatusBadRequest)
		return
	}

	inputs := make([]pipeline.Input, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "cannot read upload", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close() //nolint:errcheck // multipart part, read fully
		if err != nil {
			http.Error(w, "cannot read upload", http.StatusBadRequest)
			return
		}
		inputs = append(inputs, pipeline.Input{Name: fh.Filename, Data: data})
	}

	results, sum := s.proc.Batch(r.Context(), inputs)

	if sum.Processed == 0 {
		report := batchReport{BatchID: sum.BatchID, Total: sum.Total}
		for _, res := range results {
			report.Errors = append(report.Errors, pipeline.ErrorKind(res.Err))
		}
		s.writeJSON(w, http.StatusUnprocessableEntity, report)
		return
	}

	bundle, err := archive.Bytes(pipeline.Files(results))
	if err != nil {
		s.log.Errorf("anonymize", "batch %s: build archive: %v", sum.BatchID, err)
		http.Error(w, "failed to build archive", http.StatusInternalServerError)
		return
	}

	name := s.cfg.ArchiveName
	if name == "" {
		name = archive.DefaultName
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Batch-Id", sum.BatchID)
	w.Header().Set("X-Processed", sum.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(bundle); err != nil {
		s.log.Warnf("anonymize", "batch %s: write response: %v", sum.BatchID, err)
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "ledger not enabled", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	entries, err := s.ledger.Batch(id)
	if errors.Is(err, ledger.ErrNotFound) {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Errorf("batches", "lookup %s: %v", id, err)
		http.Error(w, "ledger error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("json", "encode error: %v", err)
	}
}

// ListenAndServe serves the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listen", "Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutdown", "Shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
