package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Metadata is what derivation needs to know about a source.
type Metadata struct {
	FormatName    []string      `json:"format_name"`
	VideoCodec    string        `json:"video_codec"`
	AudioCodec    string        `json:"audio_codec"`
	AudioChannels int           `json:"audio_channels"`
	Duration      time.Duration `json:"duration"` // zero when undeterminable
	VideoStart    float64       `json:"video_start"`
	AudioStart    float64       `json:"audio_start"`
}

// KnownDuration returns duration, ok is false when it is unknown.
func (m *Metadata) KnownDuration() (time.Duration, bool) {
	if m == nil || m.Duration <= 0 {
		return 0, false
	}
	return m.Duration, true
}

// StartSkew is audio start minus video start in seconds, positive
// when audio starts later.
func (m *Metadata) StartSkew() float64 {
	if m == nil {
		return 0
	}
	return m.AudioStart - m.VideoStart
}

type Prober struct {
	logger  zerolog.Logger
	binary  string
	timeout time.Duration
}

func New(ffprobeBinary string) *Prober {
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}

	return &Prober{
		logger:  log.With().Str("module", "probe").Logger(),
		binary:  ffprobeBinary,
		timeout: 30 * time.Second,
	}
}

func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName     string `json:"codec_name"`
		CodecLongName string `json:"codec_long_name"`
		CodecType     string `json:"codec_type"`
		Channels      int    `json:"channels"`
		StartTime     string `json:"start_time"`
		Duration      string `json:"duration"`
		Disposition   struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a media file, it has no side effects.
func (p *Prober) Probe(ctx context.Context, inputFilePath string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "error", // Hide debug information
		"-show_format",  // Show container information
		"-show_streams", // Show codec information
		"-of", "json",
		inputFilePath,
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return Parse(stdout.Bytes())
}

// Parse converts ffprobe json output to metadata.
func Parse(data []byte) (*Metadata, error) {
	out := ffprobeOutput{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unable to parse ffprobe output: %w", err)
	}

	meta := Metadata{}
	var videoDuration float64
	hasVideo, hasAudio := false, false

	for _, stream := range out.Streams {
		codec := stream.CodecName
		if codec == "" {
			codec = stream.CodecLongName
		}

		switch stream.CodecType {
		case "video":
			// cover art is exposed as a video stream
			if hasVideo || stream.Disposition.AttachedPic == 1 {
				continue
			}
			hasVideo = true
			meta.VideoCodec = codec
			meta.VideoStart = parseFloat(stream.StartTime)
			videoDuration = parseFloat(stream.Duration)
		case "audio":
			if hasAudio {
				continue
			}
			hasAudio = true
			meta.AudioCodec = codec
			meta.AudioChannels = stream.Channels
			meta.AudioStart = parseFloat(stream.StartTime)
		}
	}

	if out.Format.FormatName != "" {
		meta.FormatName = strings.Split(out.Format.FormatName, ",")
	}

	seconds := parseFloat(out.Format.Duration)
	if seconds <= 0 {
		seconds = videoDuration
	}
	if seconds > 0 {
		meta.Duration = time.Duration(seconds * float64(time.Second))
	}

	return &meta, nil
}

func parseFloat(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
