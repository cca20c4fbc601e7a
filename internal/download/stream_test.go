package download

import (
	"bytes"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filebay/internal/bufpool"
	"filebay/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type streamFixture struct {
	dir      *storage.Dir
	streamer *Streamer
	pool     *bufpool.Pool
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	d, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	pool := bufpool.New(64 * 1024)
	return &streamFixture{
		dir:      d,
		streamer: NewStreamer(d, pool, testLogger()),
		pool:     pool,
	}
}

func (fx *streamFixture) write(t *testing.T, name string, content []byte) storage.StoredFile {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir.Root(), name), content, 0o644))
	sf, err := fx.dir.Resolve(name)
	require.NoError(t, err)
	return sf
}

func (fx *streamFixture) get(t *testing.T, sf storage.StoredFile, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	plan := Negotiate(sf.SizeBytes, rangeHeader, Validators{
		ETag:         ETagFor(sf.SizeBytes, sf.ModifiedAt),
		LastModified: sf.ModifiedAt,
	}, Conditionals{})
	rec := httptest.NewRecorder()
	fx.streamer.Stream(rec, sf.StorageName, plan, true)
	return rec
}

func TestStreamFullContent(t *testing.T) {
	fx := newStreamFixture(t)
	content := []byte("the quick brown fox jumps over the lazy dog")
	sf := fx.write(t, "fox.txt", content)

	rec := fx.get(t, sf, "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "43", rec.Header().Get("Content-Length"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
}

func TestStreamPartialWindow(t *testing.T) {
	fx := newStreamFixture(t)
	content := make([]byte, 1000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	sf := fx.write(t, "report.pdf", content)

	rec := fx.get(t, sf, "bytes=500-")
	assert.Equal(t, 206, rec.Code)
	assert.Equal(t, "bytes 500-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "500", rec.Header().Get("Content-Length"))
	assert.Equal(t, content[500:], rec.Body.Bytes())
}

func TestStreamRangeRoundTrip(t *testing.T) {
	// Reassembling disjoint covering ranges reconstructs the file.
	fx := newStreamFixture(t)
	content := make([]byte, 10_000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	sf := fx.write(t, "blob.bin", content)

	var rebuilt bytes.Buffer
	for start := int64(0); start < sf.SizeBytes; start += 1337 {
		end := start + 1336
		if end > sf.SizeBytes-1 {
			end = sf.SizeBytes - 1
		}
		header := "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
		plan := Negotiate(sf.SizeBytes, header, Validators{}, Conditionals{})
		require.Equal(t, PartialContent, plan.Kind)
		rec := httptest.NewRecorder()
		fx.streamer.Stream(rec, sf.StorageName, plan, true)
		require.Equal(t, 206, rec.Code)
		rebuilt.Write(rec.Body.Bytes())
	}
	assert.Equal(t, content, rebuilt.Bytes())
}

func TestStreamUnsatisfiable(t *testing.T) {
	fx := newStreamFixture(t)
	sf := fx.write(t, "small.txt", []byte("1234"))

	rec := fx.get(t, sf, "bytes=4-")
	assert.Equal(t, 416, rec.Code)
	assert.Equal(t, "bytes */4", rec.Header().Get("Content-Range"))
	assert.Zero(t, rec.Body.Len())
}

func TestStreamNotModified(t *testing.T) {
	fx := newStreamFixture(t)
	sf := fx.write(t, "cached.txt", []byte("abc"))

	etag := ETagFor(sf.SizeBytes, sf.ModifiedAt)
	plan := Negotiate(sf.SizeBytes, "", Validators{ETag: etag, LastModified: sf.ModifiedAt},
		Conditionals{IfNoneMatch: etag})
	require.Equal(t, NotModified, plan.Kind)

	rec := httptest.NewRecorder()
	fx.streamer.Stream(rec, sf.StorageName, plan, true)
	assert.Equal(t, 304, rec.Code)
	assert.Zero(t, rec.Body.Len())
	assert.Equal(t, etag, rec.Header().Get("ETag"))
}

func TestStreamHeadOmitsBody(t *testing.T) {
	fx := newStreamFixture(t)
	sf := fx.write(t, "h.txt", []byte("abcdef"))

	plan := Negotiate(sf.SizeBytes, "", Validators{}, Conditionals{})
	rec := httptest.NewRecorder()
	fx.streamer.Stream(rec, sf.StorageName, plan, false)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "6", rec.Header().Get("Content-Length"))
	assert.Zero(t, rec.Body.Len())
}

func TestStreamVanishedFile(t *testing.T) {
	fx := newStreamFixture(t)
	sf := fx.write(t, "gone.txt", []byte("abc"))
	require.NoError(t, os.Remove(filepath.Join(fx.dir.Root(), "gone.txt")))

	plan := Negotiate(sf.SizeBytes, "", Validators{}, Conditionals{})
	rec := httptest.NewRecorder()
	fx.streamer.Stream(rec, sf.StorageName, plan, true)
	assert.Equal(t, 404, rec.Code)
}

func TestStreamConcurrentDisjointRanges(t *testing.T) {
	fx := newStreamFixture(t)
	content := make([]byte, 4096)
	_, err := rand.Read(content)
	require.NoError(t, err)
	sf := fx.write(t, "shared.bin", content)

	var wg sync.WaitGroup
	windows := []struct {
		header string
		want   []byte
	}{
		{"bytes=0-2047", content[:2048]},
		{"bytes=2048-4095", content[2048:]},
	}
	for _, win := range windows {
		win := win
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := fx.get(t, sf, win.header)
			assert.Equal(t, 206, rec.Code)
			assert.Equal(t, win.want, rec.Body.Bytes())
		}()
	}
	wg.Wait()
}
