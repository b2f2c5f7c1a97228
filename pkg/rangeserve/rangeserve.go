package rangeserve

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/localwatch/internal/utils"
)

var ErrRangeUnsatisfiable = errors.New("range not satisfiable")

// ParseRange parses a single `bytes=start-end` range against size. The
// end is clamped to the last byte, suffix ranges count from the end.
func ParseRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, ErrRangeUnsatisfiable
	}

	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, ErrRangeUnsatisfiable
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	// suffix: last N bytes
	if first == "" {
		n, err := parseOffset(last)
		if err != nil || n <= 0 || size == 0 {
			return 0, 0, ErrRangeUnsatisfiable
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = parseOffset(first)
	if err != nil || start < 0 || start >= size {
		return 0, 0, ErrRangeUnsatisfiable
	}

	if last == "" {
		return start, size - 1, nil
	}

	end, err = parseOffset(last)
	if err != nil || end < start {
		return 0, 0, ErrRangeUnsatisfiable
	}

	if end >= size {
		end = size - 1
	}

	return start, end, nil
}

// parseOffset accepts only decimal digits, no sign.
func parseOffset(s string) (int64, error) {
	if s == "" {
		return 0, ErrRangeUnsatisfiable
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrRangeUnsatisfiable
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

type Server struct {
	logger zerolog.Logger
}

func New() *Server {
	return &Server{
		logger: log.With().Str("module", "rangeserve").Logger(),
	}
}

// ServeFile streams path honoring a single byte range. Read failures are
// reported to the caller before any byte is written.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return os.ErrNotExist
	}

	size := info.Size()
	header := w.Header()
	header.Set("Content-Type", utils.ContentType(path))
	header.Set("Accept-Ranges", "bytes")
	header.Set("Cache-Control", "no-store")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		header.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, io.NewSectionReader(f, 0, size))
		}
		return nil
	}

	start, end, err := ParseRange(rangeHeader, size)
	if err != nil {
		header.Del("Content-Type")
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	length := end - start + 1
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	header.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	if r.Method != http.MethodHead {
		s.copy(w, io.NewSectionReader(f, start, length))
	}
	return nil
}

func (s *Server) copy(w io.Writer, r io.Reader) {
	// client went away mid stream, nothing to report to it
	if _, err := io.Copy(w, r); err != nil {
		s.logger.Debug().Err(err).Msg("stream interrupted")
	}
}

// Handler serves the file returned by resolve.
func (s *Server) Handler(resolve func(r *http.Request) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := resolve(r)
		if err != nil {
			http.Error(w, "404 file not found", http.StatusNotFound)
			return
		}

		if err := s.ServeFile(w, r, path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				http.Error(w, "404 file not found", http.StatusNotFound)
				return
			}
			s.logger.Warn().Err(err).Str("path", path).Msg("unable to serve file")
			http.Error(w, "500 unable to serve file", http.StatusInternalServerError)
		}
	}
}
