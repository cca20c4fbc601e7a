// Package storage owns the flat directory holding all uploaded blobs and
// derives file metadata from filesystem state. There is no persisted index:
// every query re-stats the directory, so a concurrent upload or delete is
// visible on the very next request.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound means the requested storage name does not resolve to a
	// regular file. Traversal-bearing names resolve to this as well, so
	// callers cannot distinguish a probe from a genuine miss.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidName means the name cannot be a storage name at all
	// (empty, path separators, traversal, NUL).
	ErrInvalidName = errors.New("invalid storage name")
)

// StoredFile is the derived, read-time view of one blob. Size and
// timestamps come fresh from stat on every resolve.
type StoredFile struct {
	StorageName string    `json:"name"`
	DisplayName string    `json:"originalName"`
	SizeBytes   int64     `json:"size"`
	ContentType string    `json:"type"`
	CreatedAt   time.Time `json:"created"`
	ModifiedAt  time.Time `json:"modified"`
}

// Dir is the storage directory. All operations take bare storage names;
// anything that looks like a path is rejected before touching the disk.
type Dir struct {
	root string
}

// Open ensures the directory exists and returns it with an absolute root.
func Open(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute storage directory path.
func (d *Dir) Root() string {
	return d.root
}

// ValidateName rejects names that could escape the storage directory or
// are not plausible storage names. It never touches the filesystem.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidName
	}
	// Belt and braces: the checks above already exclude separators.
	if name != filepath.Base(name) {
		return ErrInvalidName
	}
	return nil
}

// Path returns the absolute path for a storage name after validation.
func (d *Dir) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(d.root, name), nil
}

// Resolve derives a StoredFile from the on-disk state of name. Invalid
// names, directories, and stat races all come back as ErrNotFound: the
// caller asked for a file that, right now, is not there.
func (d *Dir) Resolve(name string) (StoredFile, error) {
	abs, err := d.Path(name)
	if err != nil {
		return StoredFile{}, ErrNotFound
	}
	st, err := os.Stat(abs)
	if err != nil || !st.Mode().IsRegular() {
		return StoredFile{}, ErrNotFound
	}
	return fromStat(name, st), nil
}

func fromStat(name string, st os.FileInfo) StoredFile {
	// Birth time is not portable; mtime stands in for both timestamps,
	// which is exact for write-once blobs.
	return StoredFile{
		StorageName: name,
		DisplayName: DisplayName(name),
		SizeBytes:   st.Size(),
		ContentType: ContentTypeForName(name),
		CreatedAt:   st.ModTime(),
		ModifiedAt:  st.ModTime(),
	}
}

// List returns all stored files sorted by display name. Dot-files (state
// dir, .gitkeep) and subdirectories are not stored files and are skipped.
func (d *Dir) List() ([]StoredFile, error) {
	ents, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}
	files := make([]StoredFile, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Deleted between ReadDir and stat.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, fromStat(name, info))
	}
	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i].DisplayName) < strings.ToLower(files[j].DisplayName)
	})
	return files, nil
}

// Remove deletes a blob. ErrNotFound when it is already gone.
func (d *Dir) Remove(name string) error {
	abs, err := d.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Open opens a blob for reading.
func (d *Dir) Open(name string) (*os.File, error) {
	abs, err := d.Path(name)
	if err != nil {
		return nil, ErrNotFound
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Stats summarizes the storage directory.
type Stats struct {
	TotalFiles  int          `json:"totalFiles"`
	TotalSize   int64        `json:"totalSize"`
	AverageSize float64      `json:"averageSize"`
	Files       []StoredFile `json:"files"`
}

// Stat computes storage statistics from a fresh listing.
func (d *Dir) Stat() (Stats, error) {
	files, err := d.List()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Files: files}
	for _, f := range files {
		s.TotalFiles++
		s.TotalSize += f.SizeBytes
	}
	if s.TotalFiles > 0 {
		s.AverageSize = float64(s.TotalSize) / float64(s.TotalFiles)
	}
	return s, nil
}

// HashFile computes the SHA-256 of a file in bounded chunks.
func HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1024*1024)
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
