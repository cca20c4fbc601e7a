package httpserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/webdav"

	"filebay/internal/auth"
	"filebay/internal/bufpool"
	"filebay/internal/config"
	"filebay/internal/download"
	"filebay/internal/storage"
	"filebay/internal/upload"
)

// streamBufSize is the chunk size for all file streaming; each active
// stream holds at most one such buffer.
const streamBufSize = 256 * 1024

type Options struct {
	Config config.Config
	Logger *slog.Logger
}

type Server struct {
	cfg      config.Config
	dir      *storage.Dir
	gate     *auth.Gate
	ingester *upload.Ingester
	streamer *download.Streamer
	archiver *download.Archiver
	log      *slog.Logger

	webFS fs.FS
}

//go:embed web/index.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dir, err := storage.Open(opts.Config.StorageDir)
	if err != nil {
		return nil, err
	}
	pool := bufpool.New(streamBufSize)
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      opts.Config,
		dir:      dir,
		gate:     auth.NewGate(opts.Config),
		ingester: upload.New(dir, opts.Config.MaxUploadBytes, opts.Config.AllowedExtSet(), log),
		streamer: download.NewStreamer(dir, pool, log),
		archiver: download.NewArchiver(dir, pool, log),
		log:      log,
		webFS:    sub,
	}, nil
}

// Dir exposes the storage directory, mainly for tests.
func (s *Server) Dir() *storage.Dir {
	return s.dir
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/health", s.handleHealth)

	// Read-only WebDAV mirror of the storage directory.
	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.Dir(s.dir.Root()),
		LockSystem: webdav.NewMemLS(),
	}
	mux.Handle("/dav/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET", "HEAD", "OPTIONS", "PROPFIND":
			dav.ServeHTTP(w, r)
		default:
			// The storage dir is owned by this process; writes go
			// through the upload pipeline only.
			http.Error(w, "read-only", http.StatusMethodNotAllowed)
		}
	}))

	// UI index
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		b, err := fs.ReadFile(s.webFS, "index.html")
		if err != nil {
			http.Error(w, "missing ui", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	// api
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/download/", s.handleDownload)
	mux.HandleFunc("/api/download-multiple", s.handleDownloadMultiple)
	mux.HandleFunc("/api/preview/", s.handlePreview)
	mux.HandleFunc("/api/thumb/", s.handleThumb)
	mux.Handle("/api/upload", s.gate.Require(http.HandlerFunc(s.handleUpload)))
	mux.Handle("/api/delete/", s.gate.Require(http.HandlerFunc(s.handleDelete)))

	return mux
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.dir.List()
	if err != nil {
		s.log.Error("list failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Error reading directory")
		return
	}
	if q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q"))); q != "" {
		filtered := files[:0]
		for _, f := range files {
			if strings.Contains(strings.ToLower(f.DisplayName), q) {
				filtered = append(filtered, f)
			}
		}
		files = filtered
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dir.Stat()
	if err != nil {
		s.log.Error("stats failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Error getting statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/download/")
	sf, err := s.dir.Resolve(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	plan := download.Negotiate(sf.SizeBytes, r.Header.Get("Range"), download.Validators{
		ETag:         download.ETagFor(sf.SizeBytes, sf.ModifiedAt),
		LastModified: sf.ModifiedAt,
	}, download.ConditionalsFrom(r))

	h := w.Header()
	h.Set("Content-Type", sf.ContentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sf.DisplayName))
	h.Set("Cache-Control", "public, max-age=31536000")
	s.streamer.Stream(w, sf.StorageName, plan, r.Method == http.MethodGet)
}

func (s *Server) handleDownloadMultiple(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "No files specified")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="files.zip"`)
	if err := s.archiver.Build(r.Context(), req.Files, w); err != nil {
		// Headers are committed; nothing left to tell the client.
		s.log.Warn("archive aborted", slog.Any("err", err))
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/preview/")
	sf, err := s.dir.Resolve(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if !previewable(sf.ContentType) {
		writeError(w, http.StatusUnsupportedMediaType, "Preview not available for this file type")
		return
	}

	plan := download.Negotiate(sf.SizeBytes, r.Header.Get("Range"), download.Validators{
		ETag:         download.ETagFor(sf.SizeBytes, sf.ModifiedAt),
		LastModified: sf.ModifiedAt,
	}, download.ConditionalsFrom(r))

	h := w.Header()
	h.Set("Content-Type", sf.ContentType)
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", sf.DisplayName))
	h.Set("Cache-Control", "public, max-age=86400")
	s.streamer.Stream(w, sf.StorageName, plan, r.Method == http.MethodGet)
}

func previewable(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "text/")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	results, err := s.ingester.IngestMultipart(r.Context(), r)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrNoFiles):
			writeError(w, http.StatusBadRequest, "No valid files uploaded")
		case errors.Is(err, upload.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
		default:
			s.log.Error("upload failed", slog.Any("err", err))
			writeError(w, http.StatusInternalServerError, "Upload failed")
		}
		return
	}
	var total int64
	for _, res := range results {
		total += res.SizeBytes
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("%d file(s) uploaded successfully.", len(results)),
		"files":     results,
		"totalSize": total,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/delete/")
	if err := s.dir.Remove(name); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		s.log.Error("delete failed", slog.String("file", name), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Delete failed")
		return
	}
	s.log.Info("file deleted", slog.String("file", name))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("File %s deleted successfully", name),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
