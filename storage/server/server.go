// Package server exposes an object store over a small HTTP API. It is
// written against the storage.ObjectStore interface so either the S3-backed
// or MinIO-backed client can serve it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PyYel/golcloud/storage"
	storageerrors "github.com/PyYel/golcloud/storage/errors"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = "0.0.0.0:5001"

	// maxUploadSize bounds multipart upload payloads.
	maxUploadSize = 512 << 20

	shutdownTimeout = 10 * time.Second
)

// response is the envelope returned by every endpoint.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Config holds the server settings.
type Config struct {
	// Addr is the listen address, defaulting to DefaultAddr.
	Addr string

	// Store is the backing object store. Required.
	Store storage.ObjectStore

	// Logger is the structured logger; a nil logger disables logging.
	Logger *slog.Logger
}

// Server serves the object-store HTTP API.
type Server struct {
	store  storage.ObjectStore
	logger *slog.Logger
	http   *http.Server
}

// New builds a Server from the config. It returns an error when no store is
// provided.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{store: cfg.Store, logger: cfg.Logger}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Routes assembles the router. Exposed so tests can drive the handlers with
// httptest without binding a socket.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.logger != nil {
		r.Use(s.logRequests)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/buckets", s.handleListBuckets)
	r.Get("/files", s.handleListFiles)
	r.Get("/download", s.handleDownload)
	r.Post("/upload", s.handleUpload)
	return r
}

// ListenAndServe starts the server and blocks until ctx is cancelled or the
// listener fails. On cancellation the server drains in-flight requests
// before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logInfo(ctx, "server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logInfo(shutdownCtx, "server shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, response{Success: true, Message: "ok"})
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.ListBuckets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Message: "buckets listed", Data: names})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket_name")
	if bucket == "" {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "bucket_name is required"})
		return
	}
	prefix := r.URL.Query().Get("prefix")

	keys, err := s.store.ListKeys(r.Context(), bucket, prefix)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Message: "files listed", Data: keys})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket_name")
	key := r.URL.Query().Get("key")
	if bucket == "" || key == "" {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "bucket_name and key are required"})
		return
	}

	data, err := s.store.Get(r.Context(), bucket, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", keyBasename(key)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "invalid multipart form: " + err.Error()})
		return
	}

	bucket := r.FormValue("bucket_name")
	if bucket == "" {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "bucket_name is required"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "file is required"})
		return
	}
	defer file.Close()

	key := r.FormValue("key")
	if key == "" {
		key = header.Filename
	}
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "key is required when the file has no name"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "failed to read file: " + err.Error()})
		return
	}

	var opts []storage.UploadOption
	if ct := header.Header.Get("Content-Type"); ct != "" {
		opts = append(opts, storage.WithContentType(ct))
	}

	if err := s.store.Put(r.Context(), bucket, key, data, opts...); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, response{
		Success: true,
		Message: "file uploaded",
		Data:    map[string]any{"bucket": bucket, "key": key, "size": len(data)},
	})
}

// writeError maps store errors to HTTP statuses inside the envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case storageerrors.IsNotFound(err):
		status = http.StatusNotFound
	case storageerrors.IsAccessDenied(err):
		status = http.StatusForbidden
	case errors.Is(err, storageerrors.ErrInvalidInput),
		errors.Is(err, storageerrors.ErrInvalidBucketName),
		errors.Is(err, storageerrors.ErrInvalidObjectKey):
		status = http.StatusBadRequest
	case errors.Is(err, storageerrors.ErrTooManyRequests):
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		s.logError(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, response{Success: false, Message: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logError(context.Background(), "failed to encode response", "error", err)
	}
}

// logRequests is a chi middleware that logs each request with its status
// and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logInfo(r.Context(), "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func keyBasename(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}

func (s *Server) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *Server) logError(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, msg, args...)
	}
}
