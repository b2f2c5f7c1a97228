package thumb

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	video := filepath.Join(root, "Show", "Episode.mkv")
	touch(t, video)

	_, ok := Find(video, root)
	assert.False(t, ok)

	touch(t, filepath.Join(root, "poster.png"))
	got, ok := Find(video, root)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "poster.png"), got)

	touch(t, filepath.Join(root, "Show", "Cover.JPG"))
	got, ok = Find(video, root)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "Show", "Cover.JPG"), got)

	touch(t, filepath.Join(root, "Show", "episode.webp"))
	got, ok = Find(video, root)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "Show", "episode.webp"), got)
}

func TestResize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cover.png")

	img := imaging.New(400, 200, color.NRGBA{R: 200, A: 255})
	require.NoError(t, imaging.Save(img, src))

	r := NewResizer(filepath.Join(dir, ".cache"))

	out, err := r.Resize(src, 100)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".cache", "thumbs"), filepath.Dir(out))

	resized, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(100, 50), resized.Bounds().Size())

	again, err := r.Resize(src, 100)
	require.NoError(t, err)
	assert.Equal(t, out, again)

	// never upscaled
	out, err = r.Resize(src, 800)
	require.NoError(t, err)
	resized, err = imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 400, resized.Bounds().Dx())

	same, err := r.Resize(src, 0)
	require.NoError(t, err)
	assert.Equal(t, src, same)
}
