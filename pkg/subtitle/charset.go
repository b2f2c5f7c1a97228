package subtitle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/m1k1o/localwatch/internal/utils"
)

// DefaultEncodings are tried in order for subtitles that are not UTF-8.
var DefaultEncodings = []string{
	"windows-1254",
	"iso-8859-9",
	"windows-1252",
	"windows-1251",
	"iso-8859-1",
}

const cacheSubdir = "subs"

type namedEncoding struct {
	name string
	enc  encoding.Encoding
}

type Converter struct {
	logger    zerolog.Logger
	encodings []namedEncoding
}

// NewConverter resolves encoding names through the IANA index, unknown
// names are skipped.
func NewConverter(names []string) *Converter {
	logger := log.With().Str("module", "subtitle").Str("submodule", "charset").Logger()

	if len(names) == 0 {
		names = DefaultEncodings
	}

	encodings := []namedEncoding{}
	for _, name := range names {
		enc, err := ianaindex.IANA.Encoding(name)
		if err != nil || enc == nil {
			logger.Warn().Err(err).Str("encoding", name).Msg("unsupported subtitle encoding")
			continue
		}
		encodings = append(encodings, namedEncoding{name: name, enc: enc})
	}

	return &Converter{
		logger:    logger,
		encodings: encodings,
	}
}

// Decode converts data to UTF-8 using the first encoding that yields no
// replacement characters, falling back to the first encoding.
func (c *Converter) Decode(data []byte) ([]byte, string, error) {
	if utf8.Valid(data) {
		return data, "utf-8", nil
	}

	if len(c.encodings) == 0 {
		return nil, "", fmt.Errorf("no subtitle encodings available")
	}

	var fallback []byte
	for i, ne := range c.encodings {
		out, _, err := transform.Bytes(ne.enc.NewDecoder(), data)
		if err != nil {
			continue
		}

		if !bytes.ContainsRune(out, utf8.RuneError) {
			return out, ne.name, nil
		}

		if i == 0 {
			fallback = out
		}
	}

	if fallback == nil {
		return nil, "", fmt.Errorf("unable to decode subtitle")
	}

	return fallback, c.encodings[0].name, nil
}

// ToUTF8 returns a path of a UTF-8 version of the subtitle. Converted
// files are cached in cacheDir by content hash.
func (c *Converter) ToUTF8(path, cacheDir string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	if utf8.Valid(data) {
		return path, nil
	}

	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:])[:16] + strings.ToLower(filepath.Ext(path))
	out := filepath.Join(cacheDir, cacheSubdir, name)

	if _, err := os.Stat(out); err == nil {
		return out, nil
	}

	decoded, used, err := c.Decode(data)
	if err != nil {
		return "", err
	}

	if err := utils.WriteFileAtomic(out, decoded, 0644); err != nil {
		return "", fmt.Errorf("unable to write converted subtitle: %w", err)
	}

	c.logger.Info().Str("path", path).Str("encoding", used).Msg("converted subtitle to utf-8")
	return out, nil
}
