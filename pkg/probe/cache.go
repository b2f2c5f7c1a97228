package probe

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/m1k1o/localwatch/internal/metrics"
)

type Interface interface {
	Probe(ctx context.Context, path string) (*Metadata, error)
}

// Cache memoizes probe results by (path, size, mtime). A failed probe is
// remembered as nil until the file changes.
type Cache struct {
	logger zerolog.Logger
	prober Interface

	mu      sync.RWMutex
	entries map[string]entry // by path

	group singleflight.Group
}

func NewCache(prober Interface) *Cache {
	return &Cache{
		logger:  log.With().Str("module", "probe").Str("submodule", "cache").Logger(),
		prober:  prober,
		entries: map[string]entry{},
	}
}

type entry struct {
	key  string
	meta *Metadata
}

func cacheKey(path string, info os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixMilli())
}

// Get returns metadata for path, nil when the file cannot be probed.
func (c *Cache) Get(ctx context.Context, path string) *Metadata {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	return c.GetWithInfo(ctx, path, info)
}

// GetWithInfo probes on a context detached from the caller, so that one
// caller going away does not fail the others sharing the flight. The
// prober's own timeout bounds it.
func (c *Cache) GetWithInfo(ctx context.Context, path string, info os.FileInfo) *Metadata {
	key := cacheKey(path, info)

	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && e.key == key {
		return e.meta
	}

	probeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		meta, err := c.prober.Probe(probeCtx, path)
		if err != nil {
			metrics.ProbesTotal.WithLabelValues("error").Inc()
			c.logger.Warn().Err(err).Str("path", path).Msg("probe unavailable")
			meta = nil
		} else {
			metrics.ProbesTotal.WithLabelValues("ok").Inc()
		}

		// replaces the entry of a previous revision of the file
		c.mu.Lock()
		c.entries[path] = entry{key: key, meta: meta}
		c.mu.Unlock()

		return meta, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*Metadata)
	case <-ctx.Done():
		return nil
	}
}

// Len is number of memoized entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
