package storage

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DisplayName strips the collision-avoidance suffix from a storage name:
// a trailing "_<digits>" segment immediately before the extension (or at
// the end when there is no extension). Names without the suffix pass
// through unchanged. Presentation only, never a lookup key.
func DisplayName(storageName string) string {
	ext := filepath.Ext(storageName)
	stem := strings.TrimSuffix(storageName, ext)
	i := strings.LastIndexByte(stem, '_')
	if i < 0 {
		return storageName
	}
	suffix := stem[i+1:]
	if suffix == "" || !isDigits(suffix) {
		return storageName
	}
	return stem[:i] + ext
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// StorageName builds the on-disk name for an uploaded file: the sanitized
// original name with "_<unix-millis>" inserted before the extension, which
// is the collision-avoidance convention DisplayName reverses.
func StorageName(originalName string, now time.Time) string {
	base := SanitizeFilename(originalName)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return stem + "_" + strconv.FormatInt(now.UnixMilli(), 10) + ext
}

// SanitizeFilename reduces an untrusted client filename to a safe bare
// name: path components dropped, control and separator characters
// replaced, never empty.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = name[strings.LastIndexByte(name, '/')+1:]
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			// drop control characters
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "file"
	}
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}
