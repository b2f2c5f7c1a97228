package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	SkipIntroMarker   = ".skipintro"
	NextEpisodeMarker = ".nextepisode"
)

var (
	clockRegex       = regexp.MustCompile(`^(?:(\d{1,2}):)?(\d{1,2}):(\d{2})(?:\.(\d{1,3}))?$`)
	startRegex       = regexp.MustCompile(`(?i)^(start|s)\s*(?:->|:|=)?\s*([^#;]+)`)
	endRegex         = regexp.MustCompile(`(?i)^(end|e)\s*(?:->|:|=)?\s*([^#;]+)`)
	nextEpisodeRegex = regexp.MustCompile(`(?i)^(nextepisode|next|outro|o)\s*(?:->|:|=)?\s*([^#;]+)`)
)

// ParseClock reads [HH:]MM:SS[.mmm].
func ParseClock(s string) (time.Duration, error) {
	m := clockRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}

	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss, _ := strconv.Atoi(m[3])

	var frac time.Duration
	if m[4] != "" {
		v, _ := strconv.ParseFloat("0."+m[4], 64)
		frac = time.Duration(v * float64(time.Second))
	}

	return time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second + frac, nil
}

// ParseSignedClock is ParseClock with an optional leading sign.
func ParseSignedClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	sign := time.Duration(1)
	if strings.HasPrefix(s, "-") {
		sign = -1
	}
	s = strings.TrimLeft(s, "+-")

	d, err := ParseClock(s)
	if err != nil {
		return 0, err
	}
	return sign * d, nil
}

type SkipIntro struct {
	Start time.Duration
	End   time.Duration
}

func readLines(path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			fn(line)
		}
	}
	return scanner.Err()
}

func ParseSkipIntro(path string) (SkipIntro, bool) {
	var start, end *time.Duration

	err := readLines(path, func(line string) {
		if m := startRegex.FindStringSubmatch(line); m != nil {
			if v, err := ParseClock(m[2]); err == nil {
				start = &v
			}
		}
		if m := endRegex.FindStringSubmatch(line); m != nil {
			if v, err := ParseClock(m[2]); err == nil {
				end = &v
			}
		}
	})

	if err != nil || start == nil || end == nil || *end <= *start {
		return SkipIntro{}, false
	}

	return SkipIntro{Start: *start, End: *end}, true
}

// NextEpisode offset is from the start when positive, from the end when negative.
type NextEpisode struct {
	Offset time.Duration
}

// At resolves the offset against a known duration, clamped to it.
func (n NextEpisode) At(duration time.Duration) time.Duration {
	at := n.Offset
	if at < 0 {
		at = duration + at
	}
	if at < 0 {
		at = 0
	}
	if at > duration {
		at = duration
	}
	return at
}

func ParseNextEpisode(path string) (NextEpisode, bool) {
	var offset *time.Duration

	err := readLines(path, func(line string) {
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			return
		}
		if m := nextEpisodeRegex.FindStringSubmatch(line); m != nil {
			if v, err := ParseSignedClock(m[2]); err == nil {
				offset = &v
			}
		}
	})

	if err != nil || offset == nil {
		return NextEpisode{}, false
	}

	return NextEpisode{Offset: *offset}, true
}

// findUp calls fn for marker in every directory from the video up to
// root, stopping at the first accepted one.
func findUp(root, videoPath, marker string, fn func(path string) bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return
	}

	videoPath, err = filepath.Abs(videoPath)
	if err != nil {
		return
	}

	dir := filepath.Dir(videoPath)
	for {
		rel, err := filepath.Rel(absRoot, dir)
		if err != nil || strings.HasPrefix(rel, "..") {
			return
		}

		candidate := filepath.Join(dir, marker)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			if fn(candidate) {
				return
			}
		}

		if rel == "." {
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// FindSkipIntro returns the nearest valid manual skip window.
func FindSkipIntro(root, videoPath string) (SkipIntro, bool) {
	var out SkipIntro
	var found bool

	findUp(root, videoPath, SkipIntroMarker, func(path string) bool {
		out, found = ParseSkipIntro(path)
		return found
	})

	return out, found
}

// FindNextEpisode returns the nearest valid next episode marker.
func FindNextEpisode(root, videoPath string) (NextEpisode, bool) {
	var out NextEpisode
	var found bool

	findUp(root, videoPath, NextEpisodeMarker, func(path string) bool {
		out, found = ParseNextEpisode(path)
		return found
	})

	return out, found
}
