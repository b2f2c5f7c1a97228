package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/m1k1o/localwatch/internal/utils"
)

var ErrNotFound = errors.New("not found")

const (
	IncludeMarker = ".include"
	Uncategorized = "Uncategorized"
)

var Extensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mkv":  true,
	".mov":  true,
	".m4v":  true,
	".avi":  true,
}

var excludedDirs = map[string]bool{
	".cache":       true,
	"node_modules": true,
}

type Source struct {
	Name     string    `json:"name"`
	RelPath  string    `json:"rel_path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mtime"`
	Ext      string    `json:"ext"`
	Mime     string    `json:"mime"`
	Category string    `json:"category"`
	Duration *int64    `json:"duration,omitempty"` // whole seconds, filled by listing
}

func IsAllowed(name string) bool {
	return Extensions[strings.ToLower(filepath.Ext(name))]
}

func newSource(relPath string, info os.FileInfo) Source {
	relPath = filepath.ToSlash(relPath)

	category := Uncategorized
	if parts := strings.SplitN(relPath, "/", 2); len(parts) > 1 {
		category = parts[0]
	}

	return Source{
		Name:     info.Name(),
		RelPath:  relPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Ext:      strings.ToLower(filepath.Ext(info.Name())),
		Mime:     utils.ContentType(info.Name()),
		Category: category,
	}
}

// Walk lists videos under root. Files are only collected in directories
// carrying the include marker, or below one. Directories named in exclude
// are skipped next to the built in ones.
func Walk(root string, exclude ...string) ([]Source, error) {
	excluded := make(map[string]bool, len(excludedDirs)+len(exclude))
	for name := range excludedDirs {
		excluded[name] = true
	}
	for _, name := range exclude {
		excluded[name] = true
	}

	sources := []Source{}
	if err := walk(root, root, false, excluded, &sources); err != nil {
		return nil, err
	}

	// newest first
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].ModTime.After(sources[j].ModTime)
	})

	return sources, nil
}

func walk(root, dir string, included bool, excluded map[string]bool, sources *[]Source) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	if !included {
		for _, entry := range entries {
			if entry.Type().IsRegular() && strings.ToLower(entry.Name()) == IncludeMarker {
				included = true
				break
			}
		}
	}

	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)

		if entry.IsDir() {
			if excluded[name] {
				continue
			}

			// recurse everywhere, deeper folders can mark themselves
			if err := walk(root, full, included, excluded, sources); err != nil {
				log.Warn().Err(err).Str("module", "catalog").Str("dir", full).Msg("unable to read directory")
			}
			continue
		}

		if !included || !entry.Type().IsRegular() || !IsAllowed(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed while walking
			continue
		}

		rel, err := filepath.Rel(root, full)
		if err != nil {
			continue
		}

		*sources = append(*sources, newSource(rel, info))
	}

	return nil
}

// ResolveSafe joins rel to root, paths escaping root are not found.
func ResolveSafe(root, rel string) (string, error) {
	if rel == "" {
		return "", ErrNotFound
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	full := filepath.Join(absRoot, filepath.FromSlash(rel))
	check, err := filepath.Rel(absRoot, full)
	if err != nil || check == ".." || strings.HasPrefix(check, ".."+string(filepath.Separator)) {
		return "", ErrNotFound
	}

	return full, nil
}

// Stat looks up a single known file.
func Stat(root, rel string) (Source, string, error) {
	full, err := ResolveSafe(root, rel)
	if err != nil {
		return Source{}, "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Source{}, "", ErrNotFound
		}
		return Source{}, "", fmt.Errorf("unable to stat source: %w", err)
	}

	if !info.Mode().IsRegular() {
		return Source{}, "", ErrNotFound
	}

	absRoot, _ := filepath.Abs(root)
	relPath, _ := filepath.Rel(absRoot, full)
	return newSource(relPath, info), full, nil
}

type Group struct {
	Key   string   `json:"key"`
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Items []Source `json:"items"`
}

// GroupByCategory keeps item order, groups are sorted by name.
func GroupByCategory(sources []Source) []Group {
	index := map[string]int{}
	groups := []Group{}

	for _, s := range sources {
		i, ok := index[s.Category]
		if !ok {
			i = len(groups)
			index[s.Category] = i
			groups = append(groups, Group{Key: s.Category, Name: s.Category})
		}
		groups[i].Items = append(groups[i].Items, s)
		groups[i].Count++
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].Name) < strings.ToLower(groups[j].Name)
	})

	return groups
}
