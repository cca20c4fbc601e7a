package download

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"filebay/internal/bufpool"
	"filebay/internal/storage"
)

// Streamer emits single-file download responses from a negotiated plan.
// It copies through a pooled fixed-size buffer, so resident memory per
// stream stays at one buffer regardless of file size.
type Streamer struct {
	dir  *storage.Dir
	pool *bufpool.Pool
	log  *slog.Logger
}

func NewStreamer(dir *storage.Dir, pool *bufpool.Pool, log *slog.Logger) *Streamer {
	return &Streamer{dir: dir, pool: pool, log: log.With(slog.String("component", "streamer"))}
}

// Stream writes the plan's status, validator headers, and byte window for
// the named file. The file is opened only for plans that carry a body and
// the descriptor is closed on every exit path. writeBody false (HEAD)
// emits headers only.
//
// A write failure means the client went away: headers and possibly part
// of the body are already on the wire, so the error is logged and
// swallowed, never surfaced as a response.
func (s *Streamer) Stream(w http.ResponseWriter, name string, plan Plan, writeBody bool) {
	h := w.Header()
	if plan.ETag != "" {
		h.Set("ETag", plan.ETag)
	}
	if !plan.LastModified.IsZero() {
		h.Set("Last-Modified", plan.LastModified.UTC().Format(http.TimeFormat))
	}

	switch plan.Kind {
	case NotModified:
		// 304 must not carry entity headers describing a body.
		h.Del("Content-Type")
		h.Del("Content-Disposition")
		w.WriteHeader(http.StatusNotModified)
		return
	case RangeNotSatisfiable:
		h.Set("Content-Range", "bytes */"+strconv.FormatInt(plan.Size, 10))
		h.Del("Content-Type")
		h.Del("Content-Disposition")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(plan.BodyLength(), 10))
	status := http.StatusOK
	if plan.Kind == PartialContent {
		h.Set("Content-Range", contentRange(plan))
		status = http.StatusPartialContent
	}

	if !writeBody {
		w.WriteHeader(status)
		return
	}

	f, err := s.dir.Open(name)
	if err != nil {
		// Vanished after resolve. Headers are not committed yet, so a
		// clean 404 is still possible.
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		http.Error(w, "open failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.WriteHeader(status)

	buf := s.pool.Get()
	defer s.pool.Put(buf)
	sr := io.NewSectionReader(f, plan.Start, plan.BodyLength())
	if _, err := io.CopyBuffer(w, sr, buf); err != nil {
		// Client disconnect or the source going away mid-read. Either
		// way: stop immediately, release the fd, no retry.
		s.logStreamError(name, err)
	}
}

func (s *Streamer) logStreamError(name string, err error) {
	level := slog.LevelDebug
	if errors.Is(err, os.ErrNotExist) {
		level = slog.LevelWarn
	}
	s.log.Log(context.Background(), level, "stream aborted", slog.String("file", name), slog.Any("err", err))
}

func contentRange(p Plan) string {
	return "bytes " + strconv.FormatInt(p.Start, 10) + "-" + strconv.FormatInt(p.End, 10) +
		"/" + strconv.FormatInt(p.Size, 10)
}
