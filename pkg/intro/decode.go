package intro

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/localwatch/internal/utils"
)

// Decoder extracts mono signed 16-bit PCM at sampleRate, reading at
// most maxDuration of the input.
type Decoder interface {
	Decode(ctx context.Context, path string, sampleRate int, maxDuration time.Duration) ([]int16, error)
}

type FFmpegDecoder struct {
	logger zerolog.Logger
	binary string
}

func NewFFmpegDecoder(binary string) *FFmpegDecoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegDecoder{
		logger: log.With().Str("module", "intro").Str("submodule", "decoder").Logger(),
		binary: binary,
	}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, path string, sampleRate int, maxDuration time.Duration) ([]int16, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if maxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(maxDuration.Seconds(), 'f', 3, 64))
	}

	args = append(args,
		"-i", path,
		"-vn", "-sn", "-dn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-",
	)

	cmd := exec.CommandContext(ctx, d.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, utils.LogEvent(func(message string) {
		d.logger.Debug().Str("path", path).Msg(message)
	}))

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg pcm extract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return PCM(stdout.Bytes()), nil
}

// PCM converts little endian s16 bytes to samples, a trailing odd byte
// is dropped.
func PCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
