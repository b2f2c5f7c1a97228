package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/localwatch/pkg/cachekey"
	"github.com/m1k1o/localwatch/pkg/subtitle"
)

type Media struct {
	Root          string
	CacheDir      string // directory name below each scope
	FFmpegBinary  string
	FFprobeBinary string

	CRF               int
	LiveCRF           int
	MaxHeight         int
	AACBitrate        string
	SurroundBitrate   string
	EmbedSubtitles    bool
	SubtitleEncodings []string

	HistorySize         int
	HistoryTTL          time.Duration
	ProgressLogInterval time.Duration
}

func (Media) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("media.root", "", "directory with the videos, defaults to ./videos")
	if err := viper.BindPFlag("media.root", cmd.PersistentFlags().Lookup("media.root")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("media.cache-dir", cachekey.DefaultCacheDir, "name of the cache directory created inside the media root")
	if err := viper.BindPFlag("media.cache-dir", cmd.PersistentFlags().Lookup("media.cache-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("media.ffmpeg-binary", "ffmpeg", "path to the ffmpeg binary")
	if err := viper.BindPFlag("media.ffmpeg-binary", cmd.PersistentFlags().Lookup("media.ffmpeg-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("media.ffprobe-binary", "ffprobe", "path to the ffprobe binary")
	if err := viper.BindPFlag("media.ffprobe-binary", cmd.PersistentFlags().Lookup("media.ffprobe-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("media.crf", 23, "x264 quality of cached re-encodes")
	if err := viper.BindPFlag("media.crf", cmd.PersistentFlags().Lookup("media.crf")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("media.live-crf", 26, "x264 quality of live transcodes")
	if err := viper.BindPFlag("media.live-crf", cmd.PersistentFlags().Lookup("media.live-crf")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("media.max-height", 1080, "maximum height of live transcodes, 0 keeps the source height")
	if err := viper.BindPFlag("media.max-height", cmd.PersistentFlags().Lookup("media.max-height")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("media.aac-bitrate", "160k", "stereo aac bitrate")
	if err := viper.BindPFlag("media.aac-bitrate", cmd.PersistentFlags().Lookup("media.aac-bitrate")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("media.surround-bitrate", "384k", "surround aac bitrate")
	if err := viper.BindPFlag("media.surround-bitrate", cmd.PersistentFlags().Lookup("media.surround-bitrate")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("media.embed-subtitles", true, "embed the preferred sibling subtitle into cached copies")
	if err := viper.BindPFlag("media.embed-subtitles", cmd.PersistentFlags().Lookup("media.embed-subtitles")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringSlice("media.subtitle-encodings", subtitle.DefaultEncodings, "legacy subtitle encodings tried in order")
	if err := viper.BindPFlag("media.subtitle-encodings", cmd.PersistentFlags().Lookup("media.subtitle-encodings")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("media.history-size", 50, "number of finished jobs kept in the status history")
	if err := viper.BindPFlag("media.history-size", cmd.PersistentFlags().Lookup("media.history-size")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("media.history-ttl", 6*time.Hour, "how long finished jobs stay in the status history")
	if err := viper.BindPFlag("media.history-ttl", cmd.PersistentFlags().Lookup("media.history-ttl")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("media.progress-log-interval", 10*time.Second, "minimum interval between derivation progress log lines")
	if err := viper.BindPFlag("media.progress-log-interval", cmd.PersistentFlags().Lookup("media.progress-log-interval")); err != nil {
		return err
	}

	return nil
}

func (m *Media) Set() {
	m.Root = viper.GetString("media.root")
	if m.Root == "" {
		cwd, _ := os.Getwd()
		m.Root = filepath.Join(cwd, "videos")
	}

	m.CacheDir = viper.GetString("media.cache-dir")
	if m.CacheDir == "" {
		m.CacheDir = cachekey.DefaultCacheDir
	}

	m.FFmpegBinary = viper.GetString("media.ffmpeg-binary")
	if m.FFmpegBinary == "" {
		m.FFmpegBinary = "ffmpeg"
	}

	m.FFprobeBinary = viper.GetString("media.ffprobe-binary")
	if m.FFprobeBinary == "" {
		m.FFprobeBinary = "ffprobe"
	}

	m.CRF = viper.GetInt("media.crf")
	m.LiveCRF = viper.GetInt("media.live-crf")
	m.MaxHeight = viper.GetInt("media.max-height")
	m.AACBitrate = viper.GetString("media.aac-bitrate")
	m.SurroundBitrate = viper.GetString("media.surround-bitrate")
	m.EmbedSubtitles = viper.GetBool("media.embed-subtitles")
	m.SubtitleEncodings = viper.GetStringSlice("media.subtitle-encodings")

	m.HistorySize = viper.GetInt("media.history-size")
	m.HistoryTTL = viper.GetDuration("media.history-ttl")
	m.ProgressLogInterval = viper.GetDuration("media.progress-log-interval")
}

// CacheAbsDir is the root level cache directory.
func (m *Media) CacheAbsDir() string {
	return filepath.Join(m.Root, m.CacheDir)
}
