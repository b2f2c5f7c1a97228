package library

import (
	"net/http"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/m1k1o/localwatch/pkg/catalog"
)

type videosResponse struct {
	Directory string           `json:"directory"`
	Count     int              `json:"count"`
	Items     []catalog.Source `json:"items"`
	Groups    []catalog.Group  `json:"groups"`
}

func (m *ModuleCtx) videos(w http.ResponseWriter, r *http.Request) {
	items, err := catalog.Walk(m.config.Root, m.locator.DirName())
	if err != nil {
		m.logger.Err(err).Msg("unable to list videos")
		m.fail(w, http.StatusInternalServerError, "failed to list videos", true)
		return
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(m.config.ProbeWorkers)

	for i := range items {
		item := &items[i]
		g.Go(func() error {
			path := filepath.Join(m.config.Root, filepath.FromSlash(item.RelPath))
			if duration, ok := m.metadata.Get(ctx, path).KnownDuration(); ok {
				seconds := int64(duration.Seconds() + 0.5)
				item.Duration = &seconds
			}
			return nil
		})
	}
	//nolint
	_ = g.Wait()

	directory, _ := filepath.Abs(m.config.Root)
	writeJSON(w, http.StatusOK, videosResponse{
		Directory: directory,
		Count:     len(items),
		Items:     items,
		Groups:    catalog.GroupByCategory(items),
	})
}

func (m *ModuleCtx) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.jobs.Status())
}

func (m *ModuleCtx) intro(w http.ResponseWriter, r *http.Request) {
	target, ok := m.target(w, r, true)
	if !ok {
		return
	}

	if m.detector == nil {
		m.fail(w, http.StatusNotFound, "intro detection disabled", true)
		return
	}

	verdict, err := m.detector.Detect(r.Context(), target.Path, target.Source.RelPath)
	if err != nil {
		m.logger.Warn().Err(err).Str("source", target.Source.RelPath).Msg("intro detection failed")
		m.fail(w, http.StatusInternalServerError, "intro detection failed", true)
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}
