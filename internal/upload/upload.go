// Package upload ingests multipart file uploads into the storage
// directory, producing collision-suffixed storage names and a SHA-256 per
// file. Uploads are written to a temp file first and renamed into place,
// so a blob is either fully present or absent.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filebay/internal/storage"
)

var (
	ErrNoFiles        = errors.New("no files in request")
	ErrTypeNotAllowed = errors.New("file type not allowed")
	ErrTooLarge       = errors.New("upload too large")
)

// Result describes one ingested file.
type Result struct {
	OriginalName string    `json:"originalName"`
	StorageName  string    `json:"filename"`
	SizeBytes    int64     `json:"size"`
	ContentType  string    `json:"type"`
	SHA256       string    `json:"hash"`
	UploadedAt   time.Time `json:"uploadTime"`
}

// Ingester writes uploaded blobs into the storage directory.
type Ingester struct {
	dir      *storage.Dir
	maxBytes int64
	allowed  map[string]bool
	log      *slog.Logger

	// now is swappable in tests; storage names embed the timestamp.
	now func() time.Time
}

func New(dir *storage.Dir, maxBytes int64, allowedExts map[string]bool, log *slog.Logger) *Ingester {
	return &Ingester{
		dir:      dir,
		maxBytes: maxBytes,
		allowed:  allowedExts,
		log:      log.With(slog.String("component", "upload")),
		now:      time.Now,
	}
}

// Allowed reports whether the filename's extension is on the allow-list.
func (in *Ingester) Allowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && in.allowed[ext]
}

// IngestMultipart parses the request's multipart form and stores every
// part under the "files" key. Files with disallowed extensions are
// skipped; if nothing valid remains, ErrNoFiles is returned.
func (in *Ingester) IngestMultipart(ctx context.Context, r *http.Request) ([]Result, error) {
	if in.maxBytes > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, in.maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("bad multipart: %w", err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return nil, ErrNoFiles
	}

	results := make([]Result, 0, len(headers))
	for _, fh := range headers {
		if fh.Filename == "" {
			continue
		}
		if !in.Allowed(fh.Filename) {
			in.log.Warn("upload rejected", slog.String("file", fh.Filename), slog.String("reason", "extension"))
			continue
		}
		res, err := in.ingestOne(ctx, fh)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return nil, ErrNoFiles
	}
	return results, nil
}

func (in *Ingester) ingestOne(ctx context.Context, fh *multipart.FileHeader) (Result, error) {
	src, err := fh.Open()
	if err != nil {
		return Result{}, fmt.Errorf("open upload part: %w", err)
	}
	defer src.Close()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Bump the timestamp while the name is taken; two files with the
	// same name in one batch land in the same millisecond.
	now := in.now()
	storageName := storage.StorageName(fh.Filename, now)
	dstAbs, err := in.dir.Path(storageName)
	if err != nil {
		return Result{}, err
	}
	for i := 0; i < 1000; i++ {
		if _, statErr := os.Stat(dstAbs); errors.Is(statErr, os.ErrNotExist) {
			break
		}
		now = now.Add(time.Millisecond)
		storageName = storage.StorageName(fh.Filename, now)
		if dstAbs, err = in.dir.Path(storageName); err != nil {
			return Result{}, err
		}
	}

	tmp, err := os.CreateTemp(in.dir.Root(), ".ingest-*")
	if err != nil {
		return Result{}, fmt.Errorf("tmp create: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // no-op after successful rename
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		return Result{}, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, err
	}
	if err := tmp.Close(); err != nil {
		return Result{}, err
	}
	if err := os.Rename(tmpName, dstAbs); err != nil {
		return Result{}, fmt.Errorf("commit upload: %w", err)
	}

	in.log.Info("file ingested",
		slog.String("file", storageName),
		slog.Int64("size", size))

	return Result{
		OriginalName: storage.SanitizeFilename(fh.Filename),
		StorageName:  storageName,
		SizeBytes:    size,
		ContentType:  storage.ContentTypeForName(storageName),
		SHA256:       hex.EncodeToString(h.Sum(nil)),
		UploadedAt:   now,
	}, nil
}
