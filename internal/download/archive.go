package download

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"filebay/internal/bufpool"
	"filebay/internal/storage"
)

// Archiver streams ZIP archives for bulk downloads. Each member is read
// and compressed incrementally through one pooled buffer; neither a whole
// source file nor the archive is ever held in memory.
type Archiver struct {
	dir  *storage.Dir
	pool *bufpool.Pool
	log  *slog.Logger
}

func NewArchiver(dir *storage.Dir, pool *bufpool.Pool, log *slog.Logger) *Archiver {
	return &Archiver{dir: dir, pool: pool, log: log.With(slog.String("component", "archiver"))}
}

// Build streams a ZIP containing the requested storage names, in request
// order, to w.
//
// Names that do not resolve (absent, deleted meanwhile, traversal) are
// skipped, not fatal; an entry whose source vanishes between resolve and
// open is skipped the same way. Duplicate requests produce duplicate
// entries with " (n)" uniquified names so extractors do not clobber.
// Zero resolvable members still yields a well-formed empty archive.
//
// A read error after an entry's header has been written aborts the whole
// stream: the member would otherwise be silently truncated.
func (a *Archiver) Build(ctx context.Context, names []string, w io.Writer) error {
	zw := zip.NewWriter(w)
	// The klauspost deflate is considerably faster than stdlib at the
	// same ratio, and every archive download recompresses from scratch.
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	buf := a.pool.Get()
	defer a.pool.Put(buf)

	used := map[string]int{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return err
		}
		sf, err := a.dir.Resolve(name)
		if err != nil {
			a.log.Debug("archive member skipped", slog.String("file", name))
			continue
		}
		if err := a.addMember(zw, sf, uniqueName(used, sf.DisplayName), buf); err != nil {
			_ = zw.Close()
			return fmt.Errorf("archive member %q: %w", name, err)
		}
	}
	return zw.Close()
}

func (a *Archiver) addMember(zw *zip.Writer, sf storage.StoredFile, entryName string, buf []byte) error {
	f, err := a.dir.Open(sf.StorageName)
	if err != nil {
		// Vanished between resolve and open; same as absent.
		a.log.Debug("archive member vanished", slog.String("file", sf.StorageName))
		return nil
	}
	defer f.Close()

	wr, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entryName,
		Method:   zip.Deflate,
		Modified: sf.ModifiedAt,
	})
	if err != nil {
		return err
	}
	// Bound the read to the resolved size so a file growing mid-archive
	// cannot desync the entry.
	sr := io.NewSectionReader(f, 0, sf.SizeBytes)
	_, err = io.CopyBuffer(wr, sr, buf)
	return err
}

// uniqueName disambiguates repeated entry names with a " (n)" suffix
// before the extension.
func uniqueName(used map[string]int, base string) string {
	n := used[base]
	used[base] = n + 1
	if n == 0 {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}
