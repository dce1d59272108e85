// Package cache defines the cache-provider capability trait and the
// default filesystem-backed implementation: one regular file per artifact,
// named by a content-addressed hex digest, with no index and no sidecar
// files.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"crispy/internal/crispyerr"
)

const artifactSuffix = ".so"

// Provider is the capability trait the orchestrator and config loader
// consume. ComputeHash/PathForHash/Valid are safe to call concurrently;
// Purge must be externally serialized against concurrent writers of a
// shared cache directory.
type Provider interface {
	// ComputeHash deterministically hashes source bytes, an extra-flags
	// string and a required compiler-version string into a lowercase hex
	// digest. Identical inputs always yield identical output; any change
	// in any input changes the output with cryptographic confidence.
	ComputeHash(source []byte, extraFlags, compilerVersion string) string
	// PathForHash maps a hex digest to the filesystem path of its artifact.
	// The mapping is total and injective.
	PathForHash(hash string) string
	// Valid reports whether a usable artifact is present for hash. When
	// sourcePath is empty, existence of a regular file suffices. When
	// sourcePath is non-empty, the artifact's mtime must be at least the
	// source's mtime. A stat failure on either path means invalid, not an
	// error.
	Valid(hash string, sourcePath string) bool
	// Purge removes every artifact this provider manages. An empty purge
	// is not an error.
	Purge() error
	// Coalesce runs fn under a key shared by every other Coalesce call
	// presently in flight for the same hash, so concurrent callers racing
	// to fill the same cache entry (a script run and a config reload
	// landing on the same hash, or two goroutines sharing an Orchestrator's
	// collaborators) compile it once and all observe the one outcome,
	// rather than clobbering each other's write to the same artifact path.
	Coalesce(hash string, fn func() error) error
}

// FileCache is the default Provider: a single directory holding one
// "<hex>.so" file per cached artifact.
type FileCache struct {
	dir string
	log *zap.Logger
	sf  singleflight.Group
}

// NewFileCache creates (if needed, mode 0755) and returns a FileCache
// rooted at dir.
func NewFileCache(dir string, log *zap.Logger) (*FileCache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, crispyerr.Wrap(crispyerr.IO, "create cache directory "+dir, err)
	}
	return &FileCache{dir: dir, log: log}, nil
}

// Dir returns the cache directory this provider is rooted at.
func (c *FileCache) Dir() string { return c.dir }

// ComputeHash concatenates source, extraFlags and compilerVersion with NUL
// separators before hashing, so no input's boundary can be confused with
// another's content.
func (c *FileCache) ComputeHash(source []byte, extraFlags, compilerVersion string) string {
	h := sha256.New()
	h.Write(source)
	h.Write([]byte{0})
	h.Write([]byte(extraFlags))
	h.Write([]byte{0})
	h.Write([]byte(compilerVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// PathForHash returns "<dir>/<hash>.so".
func (c *FileCache) PathForHash(hash string) string {
	return filepath.Join(c.dir, hash+artifactSuffix)
}

// Valid implements the freshness contract described on Provider.
func (c *FileCache) Valid(hash string, sourcePath string) bool {
	artifactPath := c.PathForHash(hash)
	artifactInfo, err := os.Stat(artifactPath)
	if err != nil || !artifactInfo.Mode().IsRegular() {
		return false
	}
	if sourcePath == "" {
		return true
	}
	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return false
	}
	return !artifactInfo.ModTime().Before(sourceInfo.ModTime())
}

// Purge removes every "*.so" file directly under the cache directory.
func (c *FileCache) Purge() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+artifactSuffix))
	if err != nil {
		return crispyerr.Wrap(crispyerr.Cache, "enumerate cache directory "+c.dir, err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return crispyerr.Wrap(crispyerr.Cache, "remove cache artifact "+m, err)
		}
	}
	c.log.Debug("cache purged", zap.Int("removed", len(matches)), zap.String("dir", c.dir))
	return nil
}

// Coalesce deduplicates concurrent fills of the same hash via a
// singleflight.Group keyed by hash. Every concurrent caller for a given
// hash blocks on the first call's fn and shares its error; callers for
// different hashes never block each other.
func (c *FileCache) Coalesce(hash string, fn func() error) error {
	_, err, _ := c.sf.Do(hash, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DefaultDir returns os.UserCacheDir()/crispy, honoring CRISPY_CACHE_DIR
// as an ambient override when set.
func DefaultDir() (string, error) {
	if override := os.Getenv("CRISPY_CACHE_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", crispyerr.Wrap(crispyerr.IO, "resolve user cache directory", err)
	}
	return filepath.Join(base, "crispy"), nil
}
