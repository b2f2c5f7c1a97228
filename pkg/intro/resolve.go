package intro

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/m1k1o/localwatch/pkg/catalog"
)

// ErrNoMapping means no reference clip is configured for a source.
var ErrNoMapping = errors.New("no intro reference mapping")

// MissingReferenceError means a mapping points at a file that does not exist.
type MissingReferenceError struct {
	Marker string
	Path   string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("intro reference %q from %q does not exist", e.Path, e.Marker)
}

// Resolver finds the reference clip for a source.
type Resolver interface {
	Resolve(sourcePath string) (string, error)
}

type ResolverFunc func(sourcePath string) (string, error)

func (f ResolverFunc) Resolve(sourcePath string) (string, error) {
	return f(sourcePath)
}

const ReferenceMarker = ".introref"

var referenceExtensions = []string{".mp3", ".m4a", ".aac", ".wav", ".flac", ".ogg", ".opus", ".mka", ".mp4", ".mkv", ".webm"}

var seasonKeyRegex = regexp.MustCompile(`(?i)^s(?:eason)?\s*0*(\d{1,3})$`)

// FileResolver looks for references from the source directory up to
// root. In every directory an `.introref` marker wins over `intro.*`
// files. Marker lines are `S01: intro-s1.mp3` or `default: intro.mp3`;
// a single bare path applies to every season.
//
// Season specific clips `intro-s01.*`, `intro.s1.*` are preferred over a
// plain `intro.*` when the source has a SxxEyy token.
type FileResolver struct {
	Root string
}

func NewFileResolver(root string) *FileResolver {
	return &FileResolver{Root: root}
}

func (r *FileResolver) Resolve(sourcePath string) (string, error) {
	absRoot, err := filepath.Abs(r.Root)
	if err != nil {
		return "", err
	}

	sourcePath, err = filepath.Abs(sourcePath)
	if err != nil {
		return "", err
	}

	season, _, hasSeason := catalog.EpisodeToken(filepath.Base(sourcePath))

	dir := filepath.Dir(sourcePath)
	for {
		rel, err := filepath.Rel(absRoot, dir)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", ErrNoMapping
		}

		marker := filepath.Join(dir, ReferenceMarker)
		if ref, ok, err := readMarker(marker, season, hasSeason); err != nil {
			return "", err
		} else if ok {
			if !isFile(ref) {
				return "", &MissingReferenceError{Marker: marker, Path: ref}
			}
			return ref, nil
		}

		if ref, ok := findIntroFile(dir, season, hasSeason); ok {
			return ref, nil
		}

		if rel == "." {
			return "", ErrNoMapping
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoMapping
		}
		dir = parent
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func readMarker(marker string, season int, hasSeason bool) (string, bool, error) {
	f, err := os.Open(marker)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()

	var bySeason, fallback string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			// bare path
			fallback = line
			continue
		}

		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch m := seasonKeyRegex.FindStringSubmatch(key); {
		case m != nil:
			n, _ := strconv.Atoi(m[1])
			if hasSeason && n == season {
				bySeason = value
			}
		case strings.EqualFold(key, "default"), key == "*":
			fallback = value
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}

	ref := bySeason
	if ref == "" {
		ref = fallback
	}
	if ref == "" {
		return "", false, nil
	}

	if !filepath.IsAbs(ref) {
		ref = filepath.Join(filepath.Dir(marker), filepath.FromSlash(ref))
	}
	return ref, true, nil
}

func findIntroFile(dir string, season int, hasSeason bool) (string, bool) {
	bases := []string{}
	if hasSeason {
		bases = append(bases,
			fmt.Sprintf("intro-s%02d", season),
			fmt.Sprintf("intro.s%02d", season),
			fmt.Sprintf("intro-s%d", season),
			fmt.Sprintf("intro.s%d", season),
		)
	}
	bases = append(bases, "intro")

	for _, base := range bases {
		for _, ext := range referenceExtensions {
			candidate := filepath.Join(dir, base+ext)
			if isFile(candidate) {
				return candidate, true
			}
		}
	}

	return "", false
}
