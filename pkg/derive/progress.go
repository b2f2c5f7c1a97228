package derive

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/m1k1o/localwatch/pkg/jobs"
)

// ParseTimemark parses HH:MM:SS[.frac] into a duration.
func ParseTimemark(mark string) (time.Duration, error) {
	mark = strings.TrimSpace(mark)

	negative := strings.HasPrefix(mark, "-")
	mark = strings.TrimPrefix(mark, "-")

	parts := strings.Split(mark, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timemark %q", mark)
	}

	var seconds float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timemark %q", mark)
		}
		seconds = seconds*60 + v
	}

	d := time.Duration(seconds * float64(time.Second))
	if negative {
		d = -d
	}
	return d, nil
}

// FormatTimemark is inverse of ParseTimemark with centisecond precision.
func FormatTimemark(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := d.Milliseconds() / 10
	return fmt.Sprintf("%02d:%02d:%02d.%02d", cs/360000, cs/6000%60, cs/100%60, cs%100)
}

// ProgressParser turns ffmpeg progress output into job updates.
type ProgressParser struct {
	duration time.Duration
}

func NewProgressParser(duration time.Duration) *ProgressParser {
	return &ProgressParser{duration: duration}
}

// Parse reads either a `-progress` key=value line or a stats line
// containing time=. Lines carrying no time position return false.
func (p *ProgressParser) Parse(line string) (jobs.Progress, bool) {
	line = strings.TrimSpace(line)

	var mark string
	switch {
	case strings.HasPrefix(line, "out_time="):
		mark = strings.TrimPrefix(line, "out_time=")
	case strings.Contains(line, "time="):
		idx := strings.LastIndex(line, "time=")
		mark = line[idx+len("time="):]
		if end := strings.IndexAny(mark, " \t"); end >= 0 {
			mark = mark[:end]
		}
	default:
		return jobs.Progress{}, false
	}

	d, err := ParseTimemark(mark)
	if err != nil {
		return jobs.Progress{}, false
	}

	progress := jobs.Progress{Timemark: FormatTimemark(d)}
	if p.duration > 0 {
		percent := float64(d) / float64(p.duration) * 100
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		progress.Percent = jobs.Percent(percent)
	}

	return progress, true
}
