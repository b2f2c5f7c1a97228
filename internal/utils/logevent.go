package utils

import (
	"bufio"
	"io"
	"strings"
)

type LogEventCtx struct {
	event func(message string)
}

func LogEvent(event func(message string)) *LogEventCtx {
	return &LogEventCtx{
		event: event,
	}
}

func (l LogEventCtx) Write(p []byte) (n int, err error) {
	l.event(strings.TrimSpace(string(p)))
	return len(p), nil
}

// ScanLines calls event for every non-empty line read from r until EOF.
func ScanLines(r io.Reader, event func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			event(line)
		}
	}
	return scanner.Err()
}
