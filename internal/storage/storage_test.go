package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	return d
}

func writeFile(t *testing.T, d *Dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(d.Root(), name), []byte(content), 0o644))
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report_1748236800123.pdf", "report.pdf"},
		{"photo_1.png", "photo.png"},
		{"notes_abc.txt", "notes_abc.txt"},
		{"plain.txt", "plain.txt"},
		{"no_ext_1748236800123", "no_ext"},
		{"trailing_.txt", "trailing_.txt"},
		{"multi_part_name_99.tar", "multi_part_name.tar"},
		{"_5.bin", ".bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DisplayName(tt.in), "input %q", tt.in)
	}
}

func TestStorageNameRoundTrip(t *testing.T) {
	now := time.UnixMilli(1748236800123)
	tests := []struct {
		original string
		stored   string
	}{
		{"report.pdf", "report_1748236800123.pdf"},
		{"no-ext", "no-ext_1748236800123"},
		{"../../etc/passwd", "passwd_1748236800123"},
		{"a b:c.txt", "a b_c_1748236800123.txt"},
	}
	for _, tt := range tests {
		got := StorageName(tt.original, now)
		assert.Equal(t, tt.stored, got, "original %q", tt.original)
		assert.Equal(t, SanitizeFilename(tt.original), DisplayName(got))
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"a.txt", "report_1748236800123.pdf", "weird name.bin"}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), "name %q", name)
	}
	invalid := []string{"", ".", "..", "a/b.txt", "..\\x", "../x", "/etc/passwd", "a\x00b"}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidName, "name %q", name)
	}
}

func TestResolve(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "hello_1700000000000.txt", "hello world")

	sf, err := d.Resolve("hello_1700000000000.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello_1700000000000.txt", sf.StorageName)
	assert.Equal(t, "hello.txt", sf.DisplayName)
	assert.Equal(t, int64(11), sf.SizeBytes)
	assert.Equal(t, "text/plain; charset=utf-8", sf.ContentType)
	assert.False(t, sf.ModifiedAt.IsZero())
}

func TestResolveNotFound(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "present.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(d.Root(), "subdir"), 0o755))

	for _, name := range []string{
		"absent.txt",
		"subdir",              // directories are not stored files
		"../present.txt",      // traversal
		"..%2Fpresent.txt",    // encoded traversal junk is just a miss
		"a/../../present.txt", // deeper traversal
	} {
		_, err := d.Resolve(name)
		assert.ErrorIs(t, err, ErrNotFound, "name %q", name)
	}
}

func TestResolveDeletionRace(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "gone.txt", "x")
	require.NoError(t, os.Remove(filepath.Join(d.Root(), "gone.txt")))
	_, err := d.Resolve("gone.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSkipsDotFilesAndDirs(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "b_100.txt", "bb")
	writeFile(t, d, "a_100.txt", "a")
	writeFile(t, d, ".gitkeep", "")
	require.NoError(t, os.Mkdir(filepath.Join(d.Root(), ".filebay"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(d.Root(), "nested"), 0o755))

	files, err := d.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	// sorted by display name
	assert.Equal(t, "a_100.txt", files[0].StorageName)
	assert.Equal(t, "b_100.txt", files[1].StorageName)
}

func TestStat(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "a.txt", "1234")
	writeFile(t, d, "b.txt", "123456")

	stats, err := d.Stat()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, int64(10), stats.TotalSize)
	assert.InDelta(t, 5.0, stats.AverageSize, 0.001)
	assert.Len(t, stats.Files, 2)
}

func TestStatEmpty(t *testing.T) {
	d := newTestDir(t)
	stats, err := d.Stat()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalFiles)
	assert.Zero(t, stats.AverageSize)
}

func TestRemove(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "x.txt", "x")

	require.NoError(t, d.Remove("x.txt"))
	assert.ErrorIs(t, d.Remove("x.txt"), ErrNotFound)
	assert.ErrorIs(t, d.Remove("../x.txt"), ErrInvalidName)
}

func TestHashFile(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "h.txt", "hello world")
	sum, err := HashFile(context.Background(), filepath.Join(d.Root(), "h.txt"))
	require.NoError(t, err)
	// sha256("hello world")
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", sum)
}

func TestContentTypeForName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"a.pdf", "application/pdf"},
		{"a.zip", "application/zip"},
		{"noext", "application/octet-stream"},
		{"a.unknownext", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContentTypeForName(tt.name), "name %q", tt.name)
	}
}
