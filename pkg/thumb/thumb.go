package thumb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp" // webp decoding for imaging.Open

	"github.com/m1k1o/localwatch/internal/utils"
)

var Extensions = []string{".jpg", ".jpeg", ".png", ".webp"}

var fallbackNames = []string{"fallback", "cover", "poster", "folder", "thumbnail", "thumb"}

const (
	cacheSubdir = "thumbs"
	maxWidth    = 1920
)

func isImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Find returns the image for a video: a sibling with the same basename,
// then a folder fallback in its directory, then one in root.
func Find(videoPath, root string) (string, bool) {
	dir := filepath.Dir(videoPath)
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath)))

	entries, _ := os.ReadDir(dir)

	images := map[string]string{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isImage(entry.Name()) {
			continue
		}

		name := strings.ToLower(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		if name == base {
			return filepath.Join(dir, entry.Name()), true
		}
		if _, ok := images[name]; !ok {
			images[name] = entry.Name()
		}
	}

	for _, name := range fallbackNames {
		if file, ok := images[name]; ok {
			return filepath.Join(dir, file), true
		}
	}

	if root != "" && filepath.Clean(root) != filepath.Clean(dir) {
		for _, name := range fallbackNames {
			for _, ext := range Extensions {
				candidate := filepath.Join(root, name+ext)
				if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
					return candidate, true
				}
			}
		}
	}

	return "", false
}

type Resizer struct {
	logger   zerolog.Logger
	cacheDir string
}

func NewResizer(cacheDir string) *Resizer {
	return &Resizer{
		logger:   log.With().Str("module", "thumb").Logger(),
		cacheDir: cacheDir,
	}
}

// Resize returns a jpeg of src fitted to width, cached by path, mtime
// and width. Images narrower than width are not upscaled.
func (r *Resizer) Resize(src string, width int) (string, error) {
	if width <= 0 {
		return src, nil
	}
	if width > maxWidth {
		width = maxWidth
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", src, info.ModTime().UnixMilli(), width)))
	out := filepath.Join(r.cacheDir, cacheSubdir, hex.EncodeToString(sum[:])[:16]+".jpg")

	if _, err := os.Stat(out); err == nil {
		return out, nil
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("unable to open image: %w", err)
	}

	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("unable to encode thumbnail: %w", err)
	}

	if err := utils.WriteFileAtomic(out, buf.Bytes(), 0644); err != nil {
		return "", err
	}

	r.logger.Debug().Str("src", src).Int("width", width).Msg("thumbnail resized")
	return out, nil
}
