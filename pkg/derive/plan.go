package derive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m1k1o/localwatch/pkg/probe"
)

// Treatment of a single track.
type Treatment int

const (
	NeedsReencode Treatment = iota
	Copyable
)

func (t Treatment) String() string {
	if t == Copyable {
		return "copy"
	}
	return "reencode"
}

var (
	copyableVideo = []string{"h264", "avc", "hevc", "h265", "hvc1", "hev1"}
	hevcVideo     = []string{"hevc", "h265", "hvc1", "hev1"}
	copyableAudio = []string{"aac", "mp3"}
)

func matchAny(codec string, list []string) bool {
	codec = strings.ToLower(codec)
	for _, name := range list {
		if strings.Contains(codec, name) {
			return true
		}
	}
	return false
}

// ClassifyVideo tells whether a video codec plays in browsers as is.
func ClassifyVideo(codec string) Treatment {
	if codec != "" && matchAny(codec, copyableVideo) {
		return Copyable
	}
	return NeedsReencode
}

// ClassifyAudio tells whether an audio codec plays in browsers as is.
func ClassifyAudio(codec string) Treatment {
	if codec != "" && matchAny(codec, copyableAudio) {
		return Copyable
	}
	return NeedsReencode
}

func IsHEVC(codec string) bool {
	return codec != "" && matchAny(codec, hevcVideo)
}

type EncodeOptions struct {
	CRF             int
	Preset          string
	Tune            string
	MaxHeight       int    // 0 keeps source height
	AACBitrate      string // stereo
	SurroundBitrate string // 5.1
	ForceReencode   bool
}

func (o EncodeOptions) withDefaultValues() EncodeOptions {
	if o.CRF <= 0 {
		o.CRF = 23
	}
	if o.Preset == "" {
		o.Preset = "veryfast"
	}
	if o.AACBitrate == "" {
		o.AACBitrate = "160k"
	}
	if o.SurroundBitrate == "" {
		o.SurroundBitrate = "384k"
	}
	return o
}

// SubtitleInput is a UTF-8 text subtitle embedded into the artifact.
type SubtitleInput struct {
	Path     string
	Language string // ISO 639-2
	Title    string
}

type Plan struct {
	Video    Treatment
	Audio    Treatment
	HEVC     bool
	Surround bool
	Skew     float64 // audio start minus video start, seconds
	Subtitle *SubtitleInput

	options EncodeOptions
}

// NewPlan decides per track treatment. Unknown metadata means
// everything is re-encoded.
func NewPlan(meta *probe.Metadata, options EncodeOptions) Plan {
	options = options.withDefaultValues()
	plan := Plan{
		Video:   NeedsReencode,
		Audio:   NeedsReencode,
		options: options,
	}

	if meta == nil {
		return plan
	}

	if !options.ForceReencode {
		plan.Video = ClassifyVideo(meta.VideoCodec)
		plan.Audio = ClassifyAudio(meta.AudioCodec)
	}

	plan.HEVC = plan.Video == Copyable && IsHEVC(meta.VideoCodec)
	plan.Surround = meta.AudioChannels >= 6
	plan.Skew = meta.StartSkew()
	return plan
}

// Remux reports whether no track needs encoding.
func (p Plan) Remux() bool {
	return p.Video == Copyable && p.Audio == Copyable
}

func (p Plan) videoArgs() []string {
	if p.Video == Copyable {
		args := []string{"-c:v", "copy"}
		if p.HEVC {
			args = append(args, "-tag:v", "hvc1")
		}
		return args
	}

	args := []string{
		"-c:v", "libx264",
		"-preset", p.options.Preset,
		"-crf", strconv.Itoa(p.options.CRF),
		"-pix_fmt", "yuv420p",
	}

	if p.options.Tune != "" {
		args = append(args, "-tune", p.options.Tune)
	}

	if p.options.MaxHeight > 0 {
		// keep aspect, even width, never upscale
		args = append(args, "-vf", fmt.Sprintf("scale=-2:'min(ih,%d)'", p.options.MaxHeight))
	}

	return args
}

func (p Plan) audioArgs() []string {
	if p.Audio == Copyable {
		return []string{"-c:a", "copy"}
	}

	if p.Surround {
		return []string{"-c:a", "aac", "-ac", "6", "-b:a", p.options.SurroundBitrate}
	}

	return []string{"-c:a", "aac", "-ac", "2", "-b:a", p.options.AACBitrate}
}

// Args builds ffmpeg arguments producing a fast start mp4 at output.
// Progress is written as key=value lines to stdout.
func (p Plan) Args(input, output string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:1",
		"-y",
		"-err_detect", "ignore_err",
		"-i", input,
	}

	if p.Subtitle != nil {
		args = append(args, "-i", p.Subtitle.Path)
	}

	args = append(args,
		"-map", "0:v:0?",
		"-map", "0:a:0?",
	)

	if p.Subtitle != nil {
		args = append(args, "-map", "1:s:0")
	}

	args = append(args, p.videoArgs()...)
	args = append(args, p.audioArgs()...)

	if p.Subtitle != nil {
		args = append(args, "-c:s", "mov_text")
		if p.Subtitle.Language != "" {
			args = append(args, "-metadata:s:s:0", "language="+p.Subtitle.Language)
		}
		if p.Subtitle.Title != "" {
			args = append(args, "-metadata:s:s:0", "title="+p.Subtitle.Title)
		}
		args = append(args, "-disposition:s:0", "default")
	} else {
		args = append(args, "-sn")
	}

	return append(args,
		"-dn",
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	)
}

// skewThreshold below which audio and video are treated as aligned.
const skewThreshold = 0.0005

// LiveArgs builds ffmpeg arguments streaming fragmented mp4 to stdout.
// Start offset difference between streams is preserved by opening the
// source twice and delaying the earlier one.
func (p Plan) LiveArgs(input string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-err_detect", "ignore_err",
	}

	var videoMap, audioMap string
	switch {
	case p.Skew > skewThreshold:
		// audio starts later, delay the audio input
		args = append(args,
			"-itsoffset", strconv.FormatFloat(p.Skew, 'f', 6, 64), "-i", input,
			"-i", input,
		)
		videoMap, audioMap = "1:v:0", "0:a:0?"
	case p.Skew < -skewThreshold:
		args = append(args,
			"-itsoffset", strconv.FormatFloat(-p.Skew, 'f', 6, 64), "-i", input,
			"-i", input,
		)
		videoMap, audioMap = "0:v:0", "1:a:0?"
	default:
		args = append(args, "-i", input)
		videoMap, audioMap = "0:v:0", "0:a:0?"
	}

	args = append(args, "-map", videoMap, "-map", audioMap)
	args = append(args, p.videoArgs()...)
	args = append(args, p.audioArgs()...)

	return append(args,
		"-sn",
		"-dn",
		"-movflags", "frag_keyframe+empty_moov+faststart",
		"-f", "mp4",
		"pipe:1",
	)
}
