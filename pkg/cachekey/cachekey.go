package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Version of the derived artifact format, bumping it orphans every
// previously produced artifact.
const Version = 3

// DefaultCacheDir is the cache directory name created next to the sources.
const DefaultCacheDir = ".cache"

const maxBaseLength = 60
const hashLength = 16

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// Key identifies one derived artifact. Two keys are equal exactly when
// they describe the same source revision in the same format version.
type Key struct {
	Version int
	RelPath string
	Size    int64
	ModTime int64 // unix milliseconds
}

func NewKey(relPath string, size int64, modTime time.Time) Key {
	return Key{
		Version: Version,
		RelPath: filepath.ToSlash(relPath),
		Size:    size,
		ModTime: modTime.UnixMilli(),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("v%d:%s:%d:%d", k.Version, k.RelPath, k.Size, k.ModTime)
}

// Hash is a hex encoded sha256 of the whole key tuple.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// Category is the top level folder of the source, empty for root files.
func (k Key) Category() string {
	parts := strings.SplitN(k.RelPath, "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

type Artifact struct {
	Key     Key
	AbsPath string
	RelPath string // relative to the media root, slash separated
}

type Locator struct {
	Root     string // media root
	CacheDir string // cache directory name, defaults to .cache
	Version  int    // overrides format version, used by tests
}

func NewLocator(root string) *Locator {
	return &Locator{
		Root:     root,
		CacheDir: DefaultCacheDir,
	}
}

// DirName is the cache directory name used inside every scope.
func (l *Locator) DirName() string {
	if l.CacheDir == "" {
		return DefaultCacheDir
	}
	return l.CacheDir
}

// Key derives a cache key, honoring version override.
func (l *Locator) Key(relPath string, size int64, modTime time.Time) Key {
	key := NewKey(relPath, size, modTime)
	if l.Version != 0 {
		key.Version = l.Version
	}
	return key
}

// ScopeDir returns the cache directory relative to the media root for the
// given source. Categorized sources get a cache inside their category
// so that every title can be pruned independently.
func (l *Locator) ScopeDir(relPath string) string {
	parts := strings.SplitN(filepath.ToSlash(relPath), "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		return l.DirName()
	}
	return path.Join(parts[0], l.DirName())
}

// ScopeAbsDir is ScopeDir joined with the media root.
func (l *Locator) ScopeAbsDir(relPath string) string {
	return filepath.Join(l.Root, filepath.FromSlash(l.ScopeDir(relPath)))
}

// FileName builds filesystem safe artifact name, readable prefix is only
// for operators, uniqueness comes from the hash suffix.
func FileName(key Key) string {
	base := path.Base(key.RelPath)
	base = strings.TrimSuffix(base, path.Ext(base))
	base = unsafeChars.ReplaceAllString(base, "_")
	if len(base) > maxBaseLength {
		base = base[len(base)-maxBaseLength:]
	}
	return fmt.Sprintf("%s-%s.mp4", base, key.Hash()[:hashLength])
}

func (l *Locator) Locate(relPath string, size int64, modTime time.Time) Artifact {
	return l.LocateKey(l.Key(relPath, size, modTime))
}

func (l *Locator) LocateKey(key Key) Artifact {
	rel := path.Join(l.ScopeDir(key.RelPath), FileName(key))
	return Artifact{
		Key:     key,
		AbsPath: filepath.Join(l.Root, filepath.FromSlash(rel)),
		RelPath: rel,
	}
}
