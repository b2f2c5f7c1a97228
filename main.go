package localwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/localwatch/internal/config"
	"github.com/m1k1o/localwatch/internal/server"
	"github.com/m1k1o/localwatch/modules/library"
	"github.com/m1k1o/localwatch/pkg/cachekey"
	"github.com/m1k1o/localwatch/pkg/derive"
	"github.com/m1k1o/localwatch/pkg/intro"
	"github.com/m1k1o/localwatch/pkg/jobs"
	"github.com/m1k1o/localwatch/pkg/preconvert"
	"github.com/m1k1o/localwatch/pkg/probe"
)

var Service *Main

func init() {
	Service = &Main{
		ServerConfig:     &config.Server{},
		MediaConfig:      &config.Media{},
		PreconvertConfig: &config.Preconvert{},
		IntroConfig:      &config.Intro{},
	}
}

type Main struct {
	ServerConfig     *config.Server
	MediaConfig      *config.Media
	PreconvertConfig *config.Preconvert
	IntroConfig      *config.Intro

	logger       zerolog.Logger
	locator      *cachekey.Locator
	registry     *jobs.RegistryCtx
	probes       *probe.Cache
	engine       *derive.EngineCtx
	detector     *intro.DetectorCtx
	preconverter *preconvert.PreconverterCtx
	library      *library.ModuleCtx
	server       *server.ServerManagerCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

// build wires the core components shared by every command.
func (main *Main) build() {
	media := main.MediaConfig

	locator := cachekey.NewLocator(media.Root)
	locator.CacheDir = media.CacheDir
	main.locator = locator

	main.registry = jobs.New(jobs.Config{
		HistorySize:       media.HistorySize,
		HistoryTTL:        media.HistoryTTL,
		BackgroundWorkers: main.PreconvertConfig.Workers,
	})

	main.probes = probe.NewCache(probe.New(media.FFprobeBinary))

	main.engine = derive.New(derive.Config{
		CRF:                 media.CRF,
		LiveCRF:             media.LiveCRF,
		MaxHeight:           media.MaxHeight,
		AACBitrate:          media.AACBitrate,
		SurroundBitrate:     media.SurroundBitrate,
		EmbedSubtitles:      media.EmbedSubtitles,
		SubtitleEncodings:   media.SubtitleEncodings,
		ProgressLogInterval: media.ProgressLogInterval,
	}, locator, main.registry, main.probes, derive.NewFFmpeg(media.FFmpegBinary))

	main.detector = intro.New(intro.Config{
		SampleRate:   main.IntroConfig.SampleRate,
		Frame:        main.IntroConfig.Frame,
		Smooth:       main.IntroConfig.Smooth,
		MinScore:     main.IntroConfig.MinScore,
		MaxScan:      main.IntroConfig.MaxScan,
		MaxReference: main.IntroConfig.MaxReference,
	}, locator, intro.NewFileResolver(media.Root), intro.NewFFmpegDecoder(media.FFmpegBinary), main.probes)
}

func (main *Main) Start() error {
	if info, err := os.Stat(main.MediaConfig.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("media root %q is not a directory", main.MediaConfig.Root)
	}

	main.build()

	// stays a nil interface when detection is disabled
	var detector library.Detector
	if main.IntroConfig.Enabled {
		detector = main.detector
	}

	main.library = library.New(library.Config{
		Root:              main.MediaConfig.Root,
		CacheDir:          main.MediaConfig.CacheAbsDir(),
		SubtitleEncodings: main.MediaConfig.SubtitleEncodings,
	}, main.locator, main.engine, main.probes, main.registry, detector)

	main.server = server.New(main.ServerConfig)
	main.server.Mount(func(r *chi.Mux) {
		main.library.Mount(r)
	})
	main.server.Static()
	main.server.Start()

	if main.PreconvertConfig.Enabled {
		main.preconverter = preconvert.New(preconvert.Config{
			Schedule:   main.PreconvertConfig.Schedule,
			StartDelay: main.PreconvertConfig.StartDelay,
			MaxLoad:    main.PreconvertConfig.MaxLoad,
		}, main.locator, main.engine)

		if err := main.preconverter.Start(); err != nil {
			return err
		}
	}

	return nil
}

func (main *Main) Shutdown() {
	if main.server != nil {
		if err := main.server.Shutdown(); err != nil {
			main.logger.Err(err).Msg("server shutdown with an error")
		} else {
			main.logger.Debug().Msg("server shutdown")
		}
	}

	if main.preconverter != nil {
		if err := main.preconverter.Shutdown(); err != nil {
			main.logger.Err(err).Msg("preconverter shutdown with an error")
		} else {
			main.logger.Debug().Msg("preconverter shutdown")
		}
	}

	if main.library != nil {
		main.library.Shutdown()
	}

	if main.registry != nil {
		if err := main.registry.Shutdown(); err != nil {
			main.logger.Err(err).Msg("job registry shutdown with an error")
		} else {
			main.logger.Debug().Msg("job registry shutdown")
		}
	}
}

func (main *Main) ServeCommand(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	if err := main.Start(); err != nil {
		main.logger.Fatal().Err(err).Msg("unable to start")
	}
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}

// commandContext is cancelled on interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (main *Main) DetectCommand(cmd *cobra.Command, args []string) error {
	main.build()
	defer main.Shutdown()

	ctx, cancel := commandContext()
	defer cancel()

	for _, relPath := range args {
		target, err := main.engine.Resolve(relPath)
		if err != nil {
			return fmt.Errorf("%s: %w", relPath, err)
		}

		verdict, err := main.detector.Detect(ctx, target.Path, target.Source.RelPath)
		if err != nil {
			return fmt.Errorf("%s: %w", relPath, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", target.Source.RelPath, verdict)
	}

	return nil
}

func (main *Main) ConvertCommand(cmd *cobra.Command, args []string) error {
	main.build()
	defer main.Shutdown()

	ctx, cancel := commandContext()
	defer cancel()

	for _, relPath := range args {
		target, err := main.engine.Resolve(relPath)
		if err != nil {
			return fmt.Errorf("%s: %w", relPath, err)
		}

		done := make(chan struct{})
		go main.reportProgress(cmd, target.Artifact.Key, done)

		started := time.Now()
		artifact, err := main.engine.EnsureTarget(ctx, target, jobs.ReasonOnDemand)
		close(done)

		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			return fmt.Errorf("%s: %w", relPath, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", target.Source.RelPath, artifact.RelPath, time.Since(started).Round(time.Second))
	}

	return nil
}

func (main *Main) reportProgress(cmd *cobra.Command, key cachekey.Key, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		for _, job := range main.registry.Status().Active {
			if job.Key != key.Hash() {
				continue
			}

			if job.Percent != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %.1f%%\n", job.RelPath, job.Timemark, *job.Percent)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", job.RelPath, job.Timemark)
			}
		}
	}
}
