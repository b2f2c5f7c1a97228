package library

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/m1k1o/localwatch/pkg/cachekey"
	"github.com/m1k1o/localwatch/pkg/derive"
	"github.com/m1k1o/localwatch/pkg/intro"
	"github.com/m1k1o/localwatch/pkg/jobs"
	"github.com/m1k1o/localwatch/pkg/probe"
)

type Engine interface {
	Resolve(relPath string) (*derive.Target, error)
	EnsureTarget(ctx context.Context, target *derive.Target, reason jobs.Reason) (cachekey.Artifact, error)
	Live(ctx context.Context, w io.Writer, path string, forceReencode bool) error
	SubtitleToWebVTT(ctx context.Context, w io.Writer, path string, offset time.Duration) error
}

type MetadataSource interface {
	Get(ctx context.Context, path string) *probe.Metadata
}

type StatusSource interface {
	Status() jobs.Status
}

type Detector interface {
	Detect(ctx context.Context, sourcePath, relPath string) (intro.Verdict, error)
}

type Config struct {
	Root              string
	CacheDir          string // absolute, thumbnails are kept below it
	SubtitleEncodings []string
	ProbeWorkers      int // concurrent probes while listing
}

func (c Config) withDefaultValues() Config {
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.Root, cachekey.DefaultCacheDir)
	}
	if c.ProbeWorkers <= 0 {
		c.ProbeWorkers = 4
	}
	return c
}
