package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	cueRegex  = regexp.MustCompile(`(?m)^((?:\d{2,}:)?\d{2}:\d{2}\.\d{3}) --> ((?:\d{2,}:)?\d{2}:\d{2}\.\d{3})(.*)$`)
	timeRegex = regexp.MustCompile(`^(?:(\d{2,}):)?(\d{2}):(\d{2})\.(\d{3})$`)
)

func parseCueTime(s string) time.Duration {
	m := timeRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss, _ := strconv.Atoi(m[3])
	ms, _ := strconv.Atoi(m[4])

	return time.Duration(h)*time.Hour +
		time.Duration(mm)*time.Minute +
		time.Duration(ss)*time.Second +
		time.Duration(ms)*time.Millisecond
}

func formatCueTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

// ShiftWebVTT moves every cue by offset, clamping at zero. Cue settings
// after the end time are kept.
func ShiftWebVTT(content string, offset time.Duration) string {
	if offset == 0 {
		return content
	}

	return cueRegex.ReplaceAllStringFunc(content, func(line string) string {
		m := cueRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			return line
		}

		start := parseCueTime(m[1]) + offset
		end := parseCueTime(m[2]) + offset

		out := formatCueTime(start) + " --> " + formatCueTime(end) + m[3]
		if strings.HasSuffix(line, "\r") {
			out += "\r"
		}
		return out
	})
}
