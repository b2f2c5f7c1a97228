package derive

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/localwatch/pkg/probe"
)

func TestClassify(t *testing.T) {
	video := map[string]Treatment{
		"h264":      Copyable,
		"AVC":       Copyable,
		"hevc":      Copyable,
		"h265":      Copyable,
		"vp9":       NeedsReencode,
		"mpeg4":     NeedsReencode,
		"msmpeg4v3": NeedsReencode,
		"":          NeedsReencode,
	}
	for codec, want := range video {
		assert.Equal(t, want, ClassifyVideo(codec), codec)
	}

	audio := map[string]Treatment{
		"aac":  Copyable,
		"mp3":  Copyable,
		"ac3":  NeedsReencode,
		"eac3": NeedsReencode,
		"dts":  NeedsReencode,
		"":     NeedsReencode,
	}
	for codec, want := range audio {
		assert.Equal(t, want, ClassifyAudio(codec), codec)
	}

	assert.True(t, IsHEVC("hev1"))
	assert.False(t, IsHEVC("h264"))
}

func TestNewPlan(t *testing.T) {
	t.Run("unknown metadata re-encodes", func(t *testing.T) {
		plan := NewPlan(nil, EncodeOptions{})
		assert.Equal(t, NeedsReencode, plan.Video)
		assert.Equal(t, NeedsReencode, plan.Audio)
		assert.False(t, plan.Remux())

		args := strings.Join(plan.Args("in.avi", "out.mp4"), " ")
		assert.Contains(t, args, "-c:v libx264 -preset veryfast -crf 23")
		assert.Contains(t, args, "-c:a aac -ac 2 -b:a 160k")
		assert.Contains(t, args, "-sn")
		assert.True(t, strings.HasSuffix(args, "-f mp4 out.mp4"))
	})

	t.Run("remux", func(t *testing.T) {
		plan := NewPlan(&probe.Metadata{VideoCodec: "h264", AudioCodec: "aac", AudioChannels: 2}, EncodeOptions{})
		assert.True(t, plan.Remux())

		args := strings.Join(plan.Args("in.mkv", "out.mp4"), " ")
		assert.Contains(t, args, "-err_detect ignore_err -i in.mkv")
		assert.Contains(t, args, "-c:v copy -c:a copy")
		assert.NotContains(t, args, "hvc1")
	})

	t.Run("forced", func(t *testing.T) {
		plan := NewPlan(&probe.Metadata{VideoCodec: "h264", AudioCodec: "aac"}, EncodeOptions{ForceReencode: true, MaxHeight: 720, CRF: 26})
		args := strings.Join(plan.Args("in.mkv", "out.mp4"), " ")
		assert.Contains(t, args, "-crf 26")
		assert.Contains(t, args, "-vf scale=-2:'min(ih,720)'")
	})
}

func TestLiveArgsSkew(t *testing.T) {
	plan := NewPlan(&probe.Metadata{VideoCodec: "h264", AudioCodec: "aac", VideoStart: 1.5, AudioStart: 0}, EncodeOptions{})
	args := strings.Join(plan.LiveArgs("in.mkv"), " ")
	assert.Contains(t, args, "-itsoffset 1.500000 -i in.mkv -i in.mkv")
	assert.Contains(t, args, "-map 0:v:0 -map 1:a:0?")
	assert.True(t, strings.HasSuffix(args, "pipe:1"))

	plan = NewPlan(&probe.Metadata{VideoCodec: "h264", AudioCodec: "aac", VideoStart: 0.0001}, EncodeOptions{})
	args = strings.Join(plan.LiveArgs("in.mkv"), " ")
	assert.NotContains(t, args, "-itsoffset")
	assert.Contains(t, args, "-map 0:v:0 -map 0:a:0?")
}

func TestParseTimemark(t *testing.T) {
	tests := map[string]time.Duration{
		"00:00:01.50":     1500 * time.Millisecond,
		"01:02:03":        time.Hour + 2*time.Minute + 3*time.Second,
		"02:03.25":        2*time.Minute + 3250*time.Millisecond,
		"-00:00:00.5":     -500 * time.Millisecond,
		"00:00:10.000000": 10 * time.Second,
	}
	for in, want := range tests {
		got, err := ParseTimemark(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want.Seconds(), got.Seconds(), 0.0001, in)
	}

	for _, in := range []string{"N/A", "", "a:b:c", "1:2:3:4"} {
		_, err := ParseTimemark(in)
		assert.Error(t, err, in)
	}

	assert.Equal(t, "01:02:03.45", FormatTimemark(time.Hour+2*time.Minute+3450*time.Millisecond))
}

func TestProgressParser(t *testing.T) {
	parser := NewProgressParser(100 * time.Second)

	p, ok := parser.Parse("out_time=00:00:25.000000")
	require.True(t, ok)
	require.NotNil(t, p.Percent)
	assert.InDelta(t, 25, *p.Percent, 0.001)
	assert.Equal(t, "00:00:25.00", p.Timemark)

	p, ok = parser.Parse("frame= 100 fps=25 q=28.0 size=1024kB time=00:02:00.00 bitrate=1000kbits/s")
	require.True(t, ok)
	assert.InDelta(t, 100, *p.Percent, 0.001)

	_, ok = parser.Parse("out_time=N/A")
	assert.False(t, ok)
	_, ok = parser.Parse("progress=continue")
	assert.False(t, ok)
	_, ok = parser.Parse("out_time_us=25000000")
	assert.False(t, ok)

	p, ok = NewProgressParser(0).Parse("out_time=00:00:25.000000")
	require.True(t, ok)
	assert.Nil(t, p.Percent)
	assert.Equal(t, "00:00:25.00", p.Timemark)
}
