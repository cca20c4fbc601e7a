package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Config is intentionally small and JSON-friendly.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:5000".
	Addr string `json:"addr"`

	// StorageDir is the flat directory holding all uploaded blobs.
	// It is owned exclusively by the server process.
	StorageDir string `json:"storageDir"`

	// StateDir stores derived state (thumbnail cache).
	// Default: <storageDir>/.filebay
	StateDir string `json:"stateDir"`

	// AdminKey is the shared secret protecting upload/delete routes.
	// Compared in constant time against the presented credential.
	AdminKey string `json:"adminKey"`

	// AdminKeyBcrypt optionally holds a bcrypt hash of the admin key
	// instead of the plain value. Generate one with `filebay hashkey`.
	// When set, it takes precedence over AdminKey.
	AdminKeyBcrypt string `json:"adminKeyBcrypt"`

	// MaxUploadBytes caps a single multipart upload request.
	// Default: 100 MiB (0 means default, -1 means unlimited).
	MaxUploadBytes int64 `json:"maxUploadBytes"`

	// AllowedExtensions restricts upload file types (without dots).
	// Empty means the built-in default set.
	AllowedExtensions []string `json:"allowedExtensions"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `json:"logLevel"`
}

const DefaultMaxUploadBytes = 100 << 20

// DefaultAllowedExtensions is the upload allow-list used when the config
// does not provide one.
var DefaultAllowedExtensions = []string{
	"jpg", "jpeg", "png", "gif", "webp",
	"pdf", "doc", "docx", "txt", "md",
	"zip", "rar", "tar", "gz",
	"mp3", "mp4", "avi", "mkv", "webm",
}

// Load reads a JSON config file.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize fills defaults and resolves paths. StorageDir must be set.
func (c *Config) Normalize() error {
	abs, err := filepath.Abs(c.StorageDir)
	if err != nil {
		return err
	}
	c.StorageDir = abs
	if c.Addr == "" {
		c.Addr = "0.0.0.0:5000"
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.StorageDir, ".filebay")
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// AllowedExtSet returns the effective upload allow-list as a lookup set,
// keys lowercased without dots.
func (c *Config) AllowedExtSet() map[string]bool {
	exts := c.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			set[e] = true
		}
	}
	return set
}
