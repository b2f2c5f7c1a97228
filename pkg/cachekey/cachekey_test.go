package cachekey

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocate(t *testing.T) {
	l := NewLocator("/media")
	mtime := time.UnixMilli(1700000000123)

	t.Run("deterministic", func(t *testing.T) {
		a := l.Locate("Show/S01E01.mkv", 1000, mtime)
		b := l.Locate("Show/S01E01.mkv", 1000, mtime)
		assert.Equal(t, a, b)
	})

	t.Run("size and mtime change the key", func(t *testing.T) {
		base := l.Locate("Show/S01E01.mkv", 1000, mtime)
		bySize := l.Locate("Show/S01E01.mkv", 1001, mtime)
		byTime := l.Locate("Show/S01E01.mkv", 1000, mtime.Add(time.Millisecond))

		assert.NotEqual(t, base.AbsPath, bySize.AbsPath)
		assert.NotEqual(t, base.AbsPath, byTime.AbsPath)
		assert.NotEqual(t, base.Key, bySize.Key)
	})

	t.Run("same basename in different folders does not collide", func(t *testing.T) {
		a := l.Locate("Show/Season 1/E01.mkv", 1000, mtime)
		b := l.Locate("Show/Season 2/E01.mkv", 1000, mtime)
		assert.NotEqual(t, a.AbsPath, b.AbsPath)
	})

	t.Run("version bump orphans artifacts", func(t *testing.T) {
		other := &Locator{Root: "/media", Version: Version + 1}
		assert.NotEqual(t, l.Locate("a.mkv", 1, mtime).AbsPath, other.Locate("a.mkv", 1, mtime).AbsPath)
	})
}

func TestScopeDir(t *testing.T) {
	l := NewLocator("/media")

	tests := []struct {
		name    string
		relPath string
		want    string
	}{
		{"uncategorized", "movie.mkv", ".cache"},
		{"category", "Show/S01E01.mkv", "Show/.cache"},
		{"nested category", "Show/Season 1/S01E01.mkv", "Show/.cache"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.ScopeDir(tt.relPath))
		})
	}

	a := l.Locate("Show/Season 1/S01E01.mkv", 1, time.Unix(0, 0))
	assert.Equal(t, filepath.Join("/media", "Show", ".cache"), filepath.Dir(a.AbsPath))
	assert.True(t, strings.HasPrefix(a.RelPath, "Show/.cache/"))
}

func TestFileName(t *testing.T) {
	key := NewKey("Show/Ünïcode name: with *stars* & spaces.mkv", 1, time.Unix(0, 0))
	name := FileName(key)

	assert.Regexp(t, `^[a-zA-Z0-9\-_.]+-[0-9a-f]{16}\.mp4$`, name)

	long := NewKey(strings.Repeat("x", 200)+".mkv", 1, time.Unix(0, 0))
	assert.LessOrEqual(t, len(FileName(long)), maxBaseLength+1+hashLength+len(".mp4"))
}
