package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	return full
}

func relPaths(sources []Source) []string {
	out := []string{}
	for _, s := range sources {
		out = append(out, s.RelPath)
	}
	return out
}

func TestWalk(t *testing.T) {
	root := t.TempDir()

	write(t, root, "Show/.include", "")
	write(t, root, "Show/S01/Show.S01E01.mkv", "a")
	write(t, root, "Show/S01/Show.S01E01.srt", "a")
	write(t, root, "Show/.cache/Show-0123.mp4", "a")
	write(t, root, "Hidden/movie.mp4", "a")
	write(t, root, "Hidden/Deep/.INCLUDE", "")
	write(t, root, "Hidden/Deep/clip.webm", "a")
	write(t, root, "node_modules/.include", "")
	write(t, root, "node_modules/x.mp4", "a")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "Hidden/Deep/clip.webm"), old, old))

	sources, err := Walk(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"Show/S01/Show.S01E01.mkv", "Hidden/Deep/clip.webm"}, relPaths(sources))

	s := sources[0]
	assert.Equal(t, "Show.S01E01.mkv", s.Name)
	assert.Equal(t, "Show", s.Category)
	assert.Equal(t, ".mkv", s.Ext)
	assert.Equal(t, "video/x-matroska", s.Mime)
	assert.Equal(t, int64(1), s.Size)
}

func TestWalkExclude(t *testing.T) {
	root := t.TempDir()
	write(t, root, ".include", "")
	write(t, root, "Show/ep.mkv", "a")
	write(t, root, "Show/cache/ep-f0f955ff0de33c87.mp4", "a")
	write(t, root, "cache/movie-0123456789abcdef.mp4", "a")

	sources, err := Walk(root, "cache")
	require.NoError(t, err)
	assert.Equal(t, []string{"Show/ep.mkv"}, relPaths(sources))

	// built in exclusions still apply
	write(t, root, "Show/.cache/ep-0123456789abcdef.mp4", "a")
	sources, err = Walk(root, "cache")
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}

func TestWalkRootFiles(t *testing.T) {
	root := t.TempDir()
	write(t, root, ".include", "")
	write(t, root, "movie.MP4", "a")

	sources, err := Walk(root)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, Uncategorized, sources[0].Category)
}

func TestResolveSafe(t *testing.T) {
	root := t.TempDir()

	_, err := ResolveSafe(root, "../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ResolveSafe(root, "Show/../../outside.mkv")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ResolveSafe(root, "")
	assert.ErrorIs(t, err, ErrNotFound)

	full, err := ResolveSafe(root, "Show/../Show/ep.mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Show", "ep.mkv"), full)
}

func TestStat(t *testing.T) {
	root := t.TempDir()
	write(t, root, "Show/ep.mkv", "abc")

	s, full, err := Stat(root, "Show/ep.mkv")
	require.NoError(t, err)
	assert.Equal(t, "Show/ep.mkv", s.RelPath)
	assert.Equal(t, int64(3), s.Size)
	assert.Equal(t, filepath.Join(root, "Show", "ep.mkv"), full)

	_, _, err = Stat(root, "Show/missing.mkv")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = Stat(root, "Show")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupByCategory(t *testing.T) {
	groups := GroupByCategory([]Source{
		{RelPath: "b/1.mp4", Category: "b"},
		{RelPath: "a/1.mp4", Category: "a"},
		{RelPath: "b/2.mp4", Category: "b"},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].Name)
	assert.Equal(t, 2, groups[1].Count)
	assert.Equal(t, "b/1.mp4", groups[1].Items[0].RelPath)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"00:03", 3 * time.Second, true},
		{"1:30", 90 * time.Second, true},
		{"01:02:03", time.Hour + 2*time.Minute + 3*time.Second, true},
		{"00:01.5", 1500 * time.Millisecond, true},
		{"90", 0, false},
		{"aa:bb", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSkipIntroMarker(t *testing.T) {
	root := t.TempDir()
	video := write(t, root, "Show/S01/ep.mkv", "a")

	_, ok := FindSkipIntro(root, video)
	assert.False(t, ok)

	write(t, root, "Show/.skipintro", "start: 00:05\nend -> 01:30 # intro\n")
	window, ok := FindSkipIntro(root, video)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, window.Start)
	assert.Equal(t, 90*time.Second, window.End)

	// invalid nearer marker falls through to the parent one
	write(t, root, "Show/S01/.skipintro", "s=00:10\ne=00:05\n")
	window, ok = FindSkipIntro(root, video)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, window.Start)

	write(t, root, "Show/S01/.skipintro", "s=00:10\ne=00:40\n")
	window, ok = FindSkipIntro(root, video)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, window.Start)
	assert.Equal(t, 40*time.Second, window.End)
}

func TestNextEpisodeMarker(t *testing.T) {
	root := t.TempDir()
	video := write(t, root, "Show/ep.mkv", "a")
	write(t, root, ".nextepisode", "# comment\noutro: -00:45\n")

	next, ok := FindNextEpisode(root, video)
	require.True(t, ok)
	assert.Equal(t, -45*time.Second, next.Offset)
	assert.Equal(t, 1255*time.Second, next.At(1300*time.Second))
	assert.Equal(t, time.Duration(0), next.At(30*time.Second))

	write(t, root, "Show/.nextepisode", "next=47:00\n")
	next, ok = FindNextEpisode(root, video)
	require.True(t, ok)
	assert.Equal(t, 47*time.Minute, next.Offset)
	assert.Equal(t, 40*time.Minute, next.At(40*time.Minute))
}
