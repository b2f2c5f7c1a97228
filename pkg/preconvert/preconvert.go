package preconvert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/load"

	"github.com/m1k1o/localwatch/internal/metrics"
	"github.com/m1k1o/localwatch/pkg/cachekey"
	"github.com/m1k1o/localwatch/pkg/catalog"
	"github.com/m1k1o/localwatch/pkg/derive"
	"github.com/m1k1o/localwatch/pkg/jobs"
)

// natively streamable containers, everything else is always derived
var streamable = map[string]bool{
	".mp4":  true,
	".webm": true,
}

type PreconverterCtx struct {
	logger zerolog.Logger
	config Config

	locator *cachekey.Locator
	engine  Engine
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	loadAvg func(ctx context.Context) (float64, error)
}

func New(config Config, locator *cachekey.Locator, engine Engine) *PreconverterCtx {
	config = config.withDefaultValues()
	logger := log.With().Str("module", "preconvert").Logger()

	return &PreconverterCtx{
		logger: logger,
		config: config,

		locator: locator,
		engine:  engine,
		cron: cron.New(
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),

		loadAvg: func(ctx context.Context) (float64, error) {
			avg, err := load.AvgWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return avg.Load1, nil
		},
	}
}

// Start schedules periodic scans, the first one runs after the start delay.
func (p *PreconverterCtx) Start() error {
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if _, err := p.cron.AddFunc(p.config.Schedule, p.scheduled); err != nil {
		p.cancel()
		return fmt.Errorf("invalid schedule %q: %w", p.config.Schedule, err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.config.StartDelay):
		}

		p.scheduled()
		if p.ctx.Err() == nil {
			p.cron.Start()
		}
	}()

	p.logger.Info().
		Str("schedule", p.config.Schedule).
		Dur("start-delay", p.config.StartDelay).
		Msg("preconverter started")

	return nil
}

func (p *PreconverterCtx) scheduled() {
	if _, err := p.Scan(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Err(err).Msg("background scan failed")
	}
}

func (p *PreconverterCtx) Shutdown() error {
	if p.cancel == nil {
		return nil
	}

	p.cancel()
	p.wg.Wait()
	<-p.cron.Stop().Done()
	return nil
}

// NeedsDerivation tells whether the source has no browser friendly form
// without a derived copy.
func (p *PreconverterCtx) NeedsDerivation(ctx context.Context, target *derive.Target) bool {
	if !streamable[target.Source.Ext] {
		return true
	}

	plan, _ := p.engine.PlanFor(ctx, target.Path)
	return plan.Video == derive.NeedsReencode
}

// Scan walks the catalog in watch order and submits every missing
// artifact as background work. It returns once all of them finished.
func (p *PreconverterCtx) Scan(ctx context.Context) (ScanResult, error) {
	result := ScanResult{}

	if p.config.MaxLoad > 0 {
		avg, err := p.loadAvg(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("unable to read load average")
		} else if avg > p.config.MaxLoad {
			p.logger.Info().Float64("load", avg).Float64("max-load", p.config.MaxLoad).Msg("system busy, skipping scan")
			metrics.PreconvertScansTotal.WithLabelValues("skipped").Inc()
			result.Skipped = true
			return result, nil
		}
	}

	sources, err := catalog.Walk(p.locator.Root, p.locator.DirName())
	if err != nil {
		metrics.PreconvertScansTotal.WithLabelValues("error").Inc()
		return result, err
	}
	catalog.SortEpisodes(sources)
	result.Scanned = len(sources)

	pending := []*derive.Target{}
	for _, source := range sources {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		target, err := p.engine.Resolve(source.RelPath)
		if err != nil {
			continue
		}

		if _, err := os.Stat(target.Artifact.AbsPath); err == nil {
			continue
		}

		if p.NeedsDerivation(ctx, target) {
			pending = append(pending, target)
		}
	}

	result.Pending = len(pending)
	metrics.PreconvertPending.Set(float64(len(pending)))
	if len(pending) > 0 {
		p.logger.Info().Int("pending", len(pending)).Msg("deriving missing artifacts")
	}

	// submitted in watch order, the registry runs them in that order
	tickets := make([]*jobs.Ticket, 0, len(pending))
	for _, target := range pending {
		tickets = append(tickets, p.engine.SubmitTarget(target, jobs.ReasonBackground))
	}

	for i, ticket := range tickets {
		_, err := ticket.Wait(ctx)
		if ctx.Err() != nil {
			break
		}

		if err != nil {
			result.Failed++
			p.logger.Warn().Err(err).Str("source", pending[i].Source.RelPath).Msg("background derivation failed")
		} else {
			result.Derived++
		}

		metrics.PreconvertPending.Dec()
	}

	if ctx.Err() != nil {
		metrics.PreconvertScansTotal.WithLabelValues("canceled").Inc()
		return result, ctx.Err()
	}

	metrics.PreconvertScansTotal.WithLabelValues("ok").Inc()
	p.logger.Debug().
		Int("scanned", result.Scanned).
		Int("derived", result.Derived).
		Int("failed", result.Failed).
		Msg("background scan finished")

	return result, nil
}

//
// cron logging
//

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
