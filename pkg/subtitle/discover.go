package subtitle

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/m1k1o/localwatch/pkg/catalog"
)

var Extensions = map[string]bool{
	".vtt": true,
	".srt": true,
	".ass": true,
	".ssa": true,
}

const defaultLanguage = "en"

var languageRegex = regexp.MustCompile(`(?i)[.\-_]([a-z]{2,3})(?:-[a-z]{2})?$`)

type Track struct {
	File  string `json:"file"` // basename next to the video
	Path  string `json:"-"`
	Lang  string `json:"lang"`
	Label string `json:"label"`
}

// ISO3 is the ISO 639-2 code used in mp4 track metadata.
func (t Track) ISO3() string {
	tag, err := language.Parse(t.Lang)
	if err != nil {
		return "und"
	}
	base, _ := tag.Base()
	return base.ISO3()
}

// ParseLanguage reads the trailing language token of a subtitle
// filename, e.g. `show.s01e02.tr.srt`.
func ParseLanguage(name string) (string, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	match := languageRegex.FindStringSubmatch(base)
	if match == nil {
		return "", false
	}
	return strings.ToLower(match[1]), true
}

// Label is the English display name of a language code.
func Label(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToUpper(code)
	}

	name := display.English.Languages().Name(tag)
	if name == "" {
		return strings.ToUpper(code)
	}
	return name
}

func episodeMatcher(season, episode int) *regexp.Regexp {
	// zero padding tolerant, optional separator, E1 must not match E10
	return regexp.MustCompile(fmt.Sprintf(`(?i)s0*%d[^a-z0-9]?e0*%d(?:[^0-9]|$)`, season, episode))
}

// Discover lists subtitle files next to the video that belong to it.
// Unreadable directories yield no tracks.
func Discover(videoPath string) []Track {
	dir := filepath.Dir(videoPath)
	videoBase := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var matcher *regexp.Regexp
	if season, episode, ok := catalog.EpisodeToken(videoBase); ok {
		matcher = episodeMatcher(season, episode)
	}

	tracks := []Track{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !Extensions[ext] {
			continue
		}

		var matches bool
		if matcher != nil {
			matches = matcher.MatchString(name)
		} else {
			nameNoExt := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
			matches = strings.Contains(nameNoExt, strings.ToLower(videoBase))
		}

		if !matches {
			continue
		}

		lang, ok := ParseLanguage(name)
		if !ok {
			lang = defaultLanguage
		}

		tracks = append(tracks, Track{
			File:  name,
			Path:  filepath.Join(dir, name),
			Lang:  lang,
			Label: Label(lang),
		})
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if (a.Lang == defaultLanguage) != (b.Lang == defaultLanguage) {
			return a.Lang == defaultLanguage
		}
		if a.Lang != b.Lang {
			return a.Lang < b.Lang
		}
		return a.File < b.File
	})

	return tracks
}
