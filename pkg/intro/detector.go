package intro

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/m1k1o/localwatch/internal/metrics"
	"github.com/m1k1o/localwatch/pkg/cachekey"
	"github.com/m1k1o/localwatch/pkg/probe"
)

type Config struct {
	SampleRate   int
	Frame        time.Duration
	Smooth       int
	MinScore     float64
	MaxScan      time.Duration // bounded prefix of the target
	MaxReference time.Duration
}

func (c Config) withDefaultValues() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.Frame <= 0 {
		c.Frame = 250 * time.Millisecond
	}
	if c.Smooth <= 0 {
		c.Smooth = 3
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.7
	}
	if c.MaxScan <= 0 {
		c.MaxScan = 10 * time.Minute
	}
	if c.MaxReference <= 0 {
		c.MaxReference = 3 * time.Minute
	}
	return c
}

func (c Config) frameSize() int {
	n := int(float64(c.SampleRate) * c.Frame.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

// references shorter than this are not a usable fingerprint
const minReferenceFrames = 4

// MetadataSource is optional, used to clamp windows to the duration.
type MetadataSource interface {
	Get(ctx context.Context, path string) *probe.Metadata
}

type DetectorCtx struct {
	logger zerolog.Logger
	config Config

	locator  *cachekey.Locator
	resolver Resolver
	decoder  Decoder
	metadata MetadataSource

	store Store
	group singleflight.Group
}

func New(config Config, locator *cachekey.Locator, resolver Resolver, decoder Decoder, metadata MetadataSource) *DetectorCtx {
	return &DetectorCtx{
		logger: log.With().Str("module", "intro").Str("submodule", "detector").Logger(),
		config: config.withDefaultValues(),

		locator:  locator,
		resolver: resolver,
		decoder:  decoder,
		metadata: metadata,
	}
}

// Cached returns the stored verdict without checking staleness.
func (d *DetectorCtx) Cached(relPath string) (Verdict, bool) {
	v, ok, err := d.store.Get(d.locator.ScopeAbsDir(relPath), relPath)
	if err != nil {
		d.logger.Warn().Err(err).Str("source", relPath).Msg("unable to read intro verdicts")
		return Verdict{}, false
	}
	return v, ok
}

// Detect returns a verdict for the source, computing it when no fresh
// one is stored. Negative outcomes are verdicts, not errors. An error is
// returned only when the source itself cannot be read. The detection
// runs detached from the caller, canceling ctx only stops waiting for it.
func (d *DetectorCtx) Detect(ctx context.Context, sourcePath, relPath string) (Verdict, error) {
	detectCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(relPath, func() (interface{}, error) {
		return d.detect(detectCtx, sourcePath, relPath)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Verdict{}, res.Err
		}
		return res.Val.(Verdict), nil
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	}
}

func (d *DetectorCtx) detect(ctx context.Context, sourcePath, relPath string) (Verdict, error) {
	logger := d.logger.With().Str("source", relPath).Logger()

	source, err := fingerprintPath(sourcePath)
	if err != nil {
		return Verdict{}, err
	}

	// reference is resolved every time, so that a newly added or
	// changed reference invalidates the stored verdict
	refPath, refErr := d.resolver.Resolve(sourcePath)
	var refPrint *Fingerprint
	if refErr == nil {
		if fp, err := fingerprintPath(refPath); err == nil {
			refPrint = &fp
		} else {
			refErr = &MissingReferenceError{Path: refPath}
		}
	}

	dir := d.locator.ScopeAbsDir(relPath)
	if cached, ok, err := d.store.Get(dir, relPath); err != nil {
		logger.Warn().Err(err).Msg("unable to read intro verdicts")
	} else if ok && fresh(cached, source, refPath, refPrint, refErr) {
		metrics.IntroCacheHitsTotal.Inc()
		return cached, nil
	}

	verdict := Verdict{
		Source:     source,
		DetectedAt: time.Now(),
	}

	if refErr != nil {
		verdict.Status = StatusUnreferenced
		verdict.Reason = ReasonNoMapping

		var missing *MissingReferenceError
		if errors.As(refErr, &missing) {
			verdict.Reason = ReasonMissingReference
			verdict.Reference = missing.Path
		} else if !errors.Is(refErr, ErrNoMapping) {
			logger.Warn().Err(refErr).Msg("unable to resolve intro reference")
		}
	} else {
		verdict.Reference = refPath
		verdict.RefPrint = refPrint
		d.compute(ctx, logger, sourcePath, refPath, &verdict)
	}

	metrics.IntroDetectionsTotal.WithLabelValues(string(verdict.Status)).Inc()

	if err := d.store.Put(dir, relPath, verdict); err != nil {
		logger.Warn().Err(err).Msg("unable to store intro verdict")
	}

	logger.Info().
		Str("status", string(verdict.Status)).
		Str("reason", verdict.Reason).
		Float64("score", verdict.Score).
		Float64("start", verdict.Start).
		Float64("end", verdict.End).
		Msg("intro detection finished")

	return verdict, nil
}

func fresh(cached Verdict, source Fingerprint, refPath string, refPrint *Fingerprint, refErr error) bool {
	if cached.Source != source {
		return false
	}

	if cached.Status == StatusUnreferenced {
		// still unreferenced
		return refErr != nil
	}

	if refErr != nil || refPrint == nil || cached.RefPrint == nil {
		return false
	}

	return cached.Reference == refPath && *cached.RefPrint == *refPrint
}

func (d *DetectorCtx) compute(ctx context.Context, logger zerolog.Logger, sourcePath, refPath string, verdict *Verdict) {
	var target, reference []int16
	var targetErr, referenceErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reference, referenceErr = d.decoder.Decode(gctx, refPath, d.config.SampleRate, d.config.MaxReference)
		return nil
	})
	g.Go(func() error {
		target, targetErr = d.decoder.Decode(gctx, sourcePath, d.config.SampleRate, d.config.MaxScan)
		return nil
	})
	_ = g.Wait()

	verdict.Status = StatusFailed

	frameSize := d.config.frameSize()
	refEnv := Smooth(Envelope(reference, frameSize), d.config.Smooth)
	if referenceErr != nil || len(refEnv) < minReferenceFrames {
		logger.Warn().Err(referenceErr).Str("reference", refPath).Msg("intro reference unloadable")
		verdict.Reason = ReasonReferenceUnloadable
		return
	}

	targetEnv := Smooth(Envelope(target, frameSize), d.config.Smooth)
	if targetErr != nil || len(targetEnv) == 0 {
		logger.Warn().Err(targetErr).Msg("target audio undecodable")
		verdict.Reason = ReasonTargetUndecodable
		return
	}

	offset, score := Correlate(targetEnv, refEnv)
	verdict.Score = score

	if offset < 0 {
		// flat reference or target shorter than it
		if len(targetEnv) < len(refEnv) {
			verdict.Reason = ReasonLowConfidence
		} else {
			verdict.Reason = ReasonReferenceUnloadable
		}
		return
	}

	if score < d.config.MinScore {
		verdict.Reason = ReasonLowConfidence
		return
	}

	frame := d.config.Frame.Seconds()
	start := float64(offset) * frame
	end := start + float64(len(reference))/float64(d.config.SampleRate)

	if d.metadata != nil {
		if duration, ok := d.metadata.Get(ctx, sourcePath).KnownDuration(); ok && end > duration.Seconds() {
			end = duration.Seconds()
		}
	}

	if end <= start {
		verdict.Reason = ReasonLowConfidence
		return
	}

	verdict.Status = StatusOK
	verdict.Start = start
	verdict.End = end
}

// Path of the verdict store for a source, for diagnostics.
func (d *DetectorCtx) StorePath(relPath string) string {
	return filepath.Join(d.locator.ScopeAbsDir(relPath), StoreFileName)
}

func (v Verdict) String() string {
	if start, end, ok := v.Window(); ok {
		return fmt.Sprintf("%s %s-%s score=%.3f", v.Status, start, end, v.Score)
	}
	return fmt.Sprintf("%s %s score=%.3f", v.Status, v.Reason, v.Score)
}

