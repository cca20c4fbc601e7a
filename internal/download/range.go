// Package download implements the download/archive subsystem: HTTP range
// negotiation with cache validators, byte-window streaming of single
// files, and on-demand streamed ZIP archives for bulk downloads. All
// paths hold at most one pooled buffer of unflushed bytes per stream.
package download

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PlanKind classifies the negotiated response for one download request.
type PlanKind int

const (
	// FullContent emits the entire file, status 200.
	FullContent PlanKind = iota + 1
	// PartialContent emits one byte window, status 206.
	PartialContent
	// NotModified is the body-less 304 short-circuit.
	NotModified
	// RangeNotSatisfiable is the body-less 416 rejection.
	RangeNotSatisfiable
)

// Validators are the cache-validation values derived from stat data.
type Validators struct {
	ETag         string
	LastModified time.Time
}

// Conditionals carries the raw conditional request headers.
type Conditionals struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// Plan is the negotiated decision for one request. Start/End are the
// inclusive byte window for FullContent and PartialContent; Size is the
// file's total size in every variant.
type Plan struct {
	Kind       PlanKind
	Start, End int64
	Size       int64
	Validators
}

// BodyLength returns the Content-Length implied by the plan.
func (p Plan) BodyLength() int64 {
	switch p.Kind {
	case FullContent, PartialContent:
		return p.End - p.Start + 1
	default:
		return 0
	}
}

// ETagFor derives a validator from stat data alone. It changes exactly
// when size or mtime change, so no content hashing is needed per request.
func ETagFor(size int64, modTime time.Time) string {
	return fmt.Sprintf("\"%x-%x\"", size, modTime.UnixNano())
}

// Negotiate classifies one download request against the file's current
// size and validators.
//
// Conditional headers are checked first: a matching If-None-Match (or,
// absent that header, an If-Modified-Since at or after mtime) wins over
// any Range header. Range parsing is lenient: a malformed header is
// ignored and the request served as FullContent; of a multi-range header
// only the first range is honored. A start at or beyond the file size is
// RangeNotSatisfiable.
func Negotiate(size int64, rangeHeader string, v Validators, c Conditionals) Plan {
	p := Plan{Size: size, Validators: v}

	if notModified(v, c) {
		p.Kind = NotModified
		return p
	}

	if rangeHeader == "" {
		p.Kind = FullContent
		p.Start, p.End = 0, size-1
		return p
	}

	start, end, ok, unsatisfiable := parseRange(rangeHeader, size)
	switch {
	case unsatisfiable:
		p.Kind = RangeNotSatisfiable
	case !ok:
		p.Kind = FullContent
		p.Start, p.End = 0, size-1
	default:
		p.Kind = PartialContent
		p.Start, p.End = start, end
	}
	return p
}

func notModified(v Validators, c Conditionals) bool {
	if im := strings.TrimSpace(c.IfNoneMatch); im != "" {
		if im == "*" {
			return true
		}
		for _, part := range strings.Split(im, ",") {
			part = strings.TrimSpace(part)
			part = strings.TrimPrefix(part, "W/")
			if part == v.ETag {
				return true
			}
		}
		return false
	}
	if c.IfModifiedSince != "" && !v.LastModified.IsZero() {
		if t, err := http.ParseTime(c.IfModifiedSince); err == nil {
			// Last-Modified has second resolution on the wire.
			return !v.LastModified.Truncate(time.Second).After(t)
		}
	}
	return false
}

// parseRange accepts the single-range forms "bytes=a-b", "bytes=a-" and
// the suffix form "bytes=-n". Multi-range headers contribute only their
// first range. ok is false for anything malformed; unsatisfiable is true
// when the requested start lies at or beyond the file size.
func parseRange(header string, size int64) (start, end int64, ok, unsatisfiable bool) {
	const prefix = "bytes="
	h := strings.TrimSpace(header)
	if !strings.HasPrefix(h, prefix) {
		return 0, 0, false, false
	}
	spec := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	// First range only.
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = strings.TrimSpace(spec[:i])
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, false, false
	}
	startStr := strings.TrimSpace(spec[:dash])
	endStr := strings.TrimSpace(spec[dash+1:])

	if startStr == "" {
		// Suffix form: last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, false
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return 0, 0, false, true
		}
		return size - n, size - 1, true, false
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false, false
	}
	if start >= size {
		return 0, 0, false, true
	}
	if endStr == "" {
		return start, size - 1, true, false
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, false, false
	}
	if end > size-1 {
		end = size - 1
	}
	return start, end, true, false
}

// ConditionalsFrom extracts the conditional headers from a request.
func ConditionalsFrom(r *http.Request) Conditionals {
	return Conditionals{
		IfNoneMatch:     r.Header.Get("If-None-Match"),
		IfModifiedSince: r.Header.Get("If-Modified-Since"),
	}
}
