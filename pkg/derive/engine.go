package derive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/localwatch/internal/utils"
	"github.com/m1k1o/localwatch/pkg/cachekey"
	"github.com/m1k1o/localwatch/pkg/catalog"
	"github.com/m1k1o/localwatch/pkg/jobs"
	"github.com/m1k1o/localwatch/pkg/probe"
	"github.com/m1k1o/localwatch/pkg/subtitle"
)

// Transcoder is the external ffmpeg capability.
type Transcoder interface {
	Runner
	Streamer
}

// MetadataSource returns probed metadata, nil when unavailable.
type MetadataSource interface {
	Get(ctx context.Context, path string) *probe.Metadata
}

type Config struct {
	CRF                 int
	LiveCRF             int
	MaxHeight           int // applies to live transcoding
	AACBitrate          string
	SurroundBitrate     string
	EmbedSubtitles      bool
	SubtitleEncodings   []string
	ProgressLogInterval time.Duration
}

func (c Config) withDefaultValues() Config {
	if c.CRF <= 0 {
		c.CRF = 23
	}
	if c.LiveCRF <= 0 {
		c.LiveCRF = 26
	}
	if c.AACBitrate == "" {
		c.AACBitrate = "160k"
	}
	if c.SurroundBitrate == "" {
		c.SurroundBitrate = "384k"
	}
	if c.ProgressLogInterval <= 0 {
		c.ProgressLogInterval = 10 * time.Second
	}
	return c
}

// Target is a resolved source with its artifact location.
type Target struct {
	Source   catalog.Source
	Path     string
	Artifact cachekey.Artifact
}

type EngineCtx struct {
	logger zerolog.Logger
	config Config

	root       string
	locator    *cachekey.Locator
	registry   *jobs.RegistryCtx
	metadata   MetadataSource
	transcoder Transcoder
	converter  *subtitle.Converter
}

func New(config Config, locator *cachekey.Locator, registry *jobs.RegistryCtx, metadata MetadataSource, transcoder Transcoder) *EngineCtx {
	config = config.withDefaultValues()

	return &EngineCtx{
		logger: log.With().Str("module", "derive").Str("submodule", "engine").Logger(),
		config: config,

		root:       locator.Root,
		locator:    locator,
		registry:   registry,
		metadata:   metadata,
		transcoder: transcoder,
		converter:  subtitle.NewConverter(config.SubtitleEncodings),
	}
}

func (e *EngineCtx) cacheOptions() EncodeOptions {
	return EncodeOptions{
		CRF:             e.config.CRF,
		Preset:          "veryfast",
		AACBitrate:      e.config.AACBitrate,
		SurroundBitrate: e.config.SurroundBitrate,
	}
}

func (e *EngineCtx) liveOptions(forceReencode bool) EncodeOptions {
	return EncodeOptions{
		CRF:             e.config.LiveCRF,
		Preset:          "veryfast",
		Tune:            "fastdecode",
		MaxHeight:       e.config.MaxHeight,
		AACBitrate:      e.config.AACBitrate,
		SurroundBitrate: e.config.SurroundBitrate,
		ForceReencode:   forceReencode,
	}
}

// Resolve finds a source below root and its artifact location.
func (e *EngineCtx) Resolve(relPath string) (*Target, error) {
	source, path, err := catalog.Stat(e.root, relPath)
	if err != nil {
		return nil, err
	}

	return &Target{
		Source:   source,
		Path:     path,
		Artifact: e.locator.Locate(source.RelPath, source.Size, source.ModTime),
	}, nil
}

// Artifact is where the derived copy of source lives.
func (e *EngineCtx) Artifact(source catalog.Source) cachekey.Artifact {
	return e.locator.Locate(source.RelPath, source.Size, source.ModTime)
}

// PlanFor probes the source and decides the cached production plan.
func (e *EngineCtx) PlanFor(ctx context.Context, path string) (Plan, *probe.Metadata) {
	meta := e.metadata.Get(ctx, path)
	return NewPlan(meta, e.cacheOptions()), meta
}

// Ensure makes sure a seekable artifact exists for the source.
func (e *EngineCtx) Ensure(ctx context.Context, relPath string, reason jobs.Reason) (cachekey.Artifact, error) {
	target, err := e.Resolve(relPath)
	if err != nil {
		return cachekey.Artifact{}, err
	}

	return e.EnsureTarget(ctx, target, reason)
}

func (e *EngineCtx) EnsureTarget(ctx context.Context, target *Target, reason jobs.Reason) (cachekey.Artifact, error) {
	return e.SubmitTarget(target, reason).Wait(ctx)
}

// SubmitTarget registers derivation of target without waiting for it.
func (e *EngineCtx) SubmitTarget(target *Target, reason jobs.Reason) *jobs.Ticket {
	return e.registry.Submit(target.Artifact, reason, func(ctx context.Context, progress chan<- jobs.Progress) error {
		return e.Derive(ctx, target, progress)
	})
}

func (e *EngineCtx) subtitleInput(target *Target) *SubtitleInput {
	tracks := subtitle.Discover(target.Path)
	if len(tracks) == 0 {
		return nil
	}

	track := tracks[0]
	path, err := e.converter.ToUTF8(track.Path, e.locator.ScopeAbsDir(target.Source.RelPath))
	if err != nil {
		e.logger.Warn().Err(err).Str("subtitle", track.Path).Msg("unable to prepare subtitle")
		return nil
	}

	return &SubtitleInput{
		Path:     path,
		Language: track.ISO3(),
		Title:    track.Label,
	}
}

// Derive produces the artifact for target. Output is written under a
// temporary name and renamed into place once complete.
func (e *EngineCtx) Derive(ctx context.Context, target *Target, progress chan<- jobs.Progress) error {
	plan, meta := e.PlanFor(ctx, target.Path)
	if e.config.EmbedSubtitles {
		plan.Subtitle = e.subtitleInput(target)
	}

	artifact := target.Artifact
	logger := e.logger.With().Str("source", target.Source.RelPath).Logger()

	dir := filepath.Dir(artifact.AbsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: unable to create cache dir: %v", ErrProductionFailed, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.part", filepath.Base(artifact.AbsPath), ulid.Make()))
	defer os.Remove(tmp)

	logger.Info().
		Str("video", plan.Video.String()).
		Str("audio", plan.Audio.String()).
		Bool("subtitle", plan.Subtitle != nil).
		Msg("deriving artifact")

	duration, _ := meta.KnownDuration()
	err := e.run(ctx, logger, plan, target.Path, tmp, duration, progress)
	if err != nil && plan.Subtitle != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("derivation with subtitle failed, retrying without it")
		plan.Subtitle = nil
		err = e.run(ctx, logger, plan, target.Path, tmp, duration, progress)
	}
	if err != nil {
		if !errors.Is(err, ErrProductionFailed) {
			err = fmt.Errorf("%w: %v", ErrProductionFailed, err)
		}
		return err
	}

	if err := VerifyFastStart(tmp); err != nil {
		return fmt.Errorf("%w: %v", ErrProductionFailed, err)
	}

	if err := os.Rename(tmp, artifact.AbsPath); err != nil {
		return fmt.Errorf("%w: unable to promote artifact: %v", ErrProductionFailed, err)
	}

	return nil
}

func (e *EngineCtx) run(ctx context.Context, logger zerolog.Logger, plan Plan, input, output string, duration time.Duration, progress chan<- jobs.Progress) error {
	_ = os.Remove(output)

	parser := NewProgressParser(duration)
	throttle := utils.NewThrottle(e.config.ProgressLogInterval)

	return e.transcoder.Run(ctx, plan.Args(input, output), func(line string) {
		p, ok := parser.Parse(line)
		if !ok {
			return
		}

		jobs.Report(progress, p)

		if throttle.Allow() {
			event := logger.Debug().Str("timemark", p.Timemark)
			if p.Percent != nil {
				event = event.Float64("percent", *p.Percent)
			}
			event.Msg("derivation progress")
		}
	})
}

// Live streams a fragmented mp4 of the source to w, nothing is cached.
// The transcoder stops when ctx is done.
func (e *EngineCtx) Live(ctx context.Context, w io.Writer, path string, forceReencode bool) error {
	meta := e.metadata.Get(ctx, path)
	plan := NewPlan(meta, e.liveOptions(forceReencode))

	e.logger.Info().
		Str("path", path).
		Str("video", plan.Video.String()).
		Str("audio", plan.Audio.String()).
		Float64("skew", plan.Skew).
		Msg("live transcode started")

	return e.transcoder.Stream(ctx, plan.LiveArgs(path), w)
}

// SubtitleToWebVTT converts a subtitle file to WebVTT written to w,
// shifted by offset.
func (e *EngineCtx) SubtitleToWebVTT(ctx context.Context, w io.Writer, path string, offset time.Duration) error {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if offset != 0 {
		args = append(args, "-itsoffset", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64))
	}

	args = append(args, "-i", path, "-f", "webvtt", "pipe:1")
	return e.transcoder.Stream(ctx, args, w)
}
