package catalog

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var episodeRegex = regexp.MustCompile(`(?i)S(\d{1,3})E(\d{1,3})`)

// EpisodeToken extracts season and episode from a SxxEyy token.
func EpisodeToken(name string) (season, episode int, ok bool) {
	match := episodeRegex.FindStringSubmatch(name)
	if match == nil {
		return 0, 0, false
	}
	season, _ = strconv.Atoi(match[1])
	episode, _ = strconv.Atoi(match[2])
	return season, episode, true
}

// NaturalLess compares strings treating digit runs as numbers.
func NaturalLess(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)

	for a != "" && b != "" {
		ra, rb := rune(a[0]), rune(b[0])

		if unicode.IsDigit(ra) && unicode.IsDigit(rb) {
			na, restA := leadingNumber(a)
			nb, restB := leadingNumber(b)
			if na != nb {
				return na < nb
			}
			a, b = restA, restB
			continue
		}

		if ra != rb {
			return ra < rb
		}
		a, b = a[1:], b[1:]
	}

	return len(a) < len(b)
}

func leadingNumber(s string) (uint64, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, _ := strconv.ParseUint(s[:i], 10, 64)
	return n, s[i:]
}

// SortEpisodes orders sources by category, then season and episode,
// then natural name order, so that a show is processed in watch order.
func SortEpisodes(sources []Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.Category != b.Category {
			return NaturalLess(a.Category, b.Category)
		}

		sa, ea, okA := EpisodeToken(a.Name)
		sb, eb, okB := EpisodeToken(b.Name)
		if okA && okB && (sa != sb || ea != eb) {
			if sa != sb {
				return sa < sb
			}
			return ea < eb
		}

		return NaturalLess(path.Dir(a.RelPath)+"/"+a.Name, path.Dir(b.RelPath)+"/"+b.Name)
	})
}
