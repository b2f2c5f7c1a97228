package library

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/localwatch/modules"
	"github.com/m1k1o/localwatch/pkg/cachekey"
	"github.com/m1k1o/localwatch/pkg/catalog"
	"github.com/m1k1o/localwatch/pkg/derive"
	"github.com/m1k1o/localwatch/pkg/rangeserve"
	"github.com/m1k1o/localwatch/pkg/subtitle"
	"github.com/m1k1o/localwatch/pkg/thumb"
)

var _ modules.Module = (*ModuleCtx)(nil)

type ModuleCtx struct {
	logger zerolog.Logger
	config Config
	router *chi.Mux

	engine    Engine
	metadata  MetadataSource
	jobs      StatusSource
	detector  Detector // nil when intro detection is disabled
	locator   *cachekey.Locator
	ranges    *rangeserve.Server
	thumbs    *thumb.Resizer
	converter *subtitle.Converter
}

func New(config Config, locator *cachekey.Locator, engine Engine, metadata MetadataSource, jobs StatusSource, detector Detector) *ModuleCtx {
	if config.CacheDir == "" {
		config.CacheDir = filepath.Join(config.Root, locator.DirName())
	}
	config = config.withDefaultValues()

	module := &ModuleCtx{
		logger: log.With().Str("module", "library").Logger(),
		config: config,
		router: chi.NewRouter(),

		engine:    engine,
		metadata:  metadata,
		jobs:      jobs,
		detector:  detector,
		locator:   locator,
		ranges:    rangeserve.New(),
		thumbs:    thumb.NewResizer(config.CacheDir),
		converter: subtitle.NewConverter(config.SubtitleEncodings),
	}

	module.Mount(module.router)
	return module
}

func (m *ModuleCtx) Mount(r chi.Router) {
	r.Get("/api/videos", m.videos)
	r.Get("/api/jobs", m.status)
	r.Get("/api/intro", m.intro)

	r.Get("/stream", m.ranges.Handler(m.resolveQuery))
	r.Head("/stream", m.ranges.Handler(m.resolveQuery))
	r.Get("/remux", m.remux)
	r.Get("/play", m.play)

	r.Get("/subs", m.subs)
	r.Get("/sub", m.sub)
	r.Get("/thumb", m.thumb)
	r.Get("/skipintro", m.skipIntro)
	r.Get("/nextepisode", m.nextEpisode)
}

func (m *ModuleCtx) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

func (m *ModuleCtx) Shutdown() {

}

//
// helpers
//

func (m *ModuleCtx) resolveQuery(r *http.Request) (string, error) {
	return catalog.ResolveSafe(m.config.Root, r.URL.Query().Get("p"))
}

// target resolves the p query parameter, writing the error response
// itself when it fails.
func (m *ModuleCtx) target(w http.ResponseWriter, r *http.Request, asJSON bool) (*derive.Target, bool) {
	relPath := r.URL.Query().Get("p")
	if relPath == "" {
		m.fail(w, http.StatusBadRequest, "missing video path", asJSON)
		return nil, false
	}

	target, err := m.engine.Resolve(relPath)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			m.fail(w, http.StatusNotFound, "file not found", asJSON)
		} else {
			m.logger.Warn().Err(err).Str("path", relPath).Msg("unable to resolve source")
			m.fail(w, http.StatusInternalServerError, "unable to resolve source", asJSON)
		}
		return nil, false
	}

	return target, true
}

func (m *ModuleCtx) fail(w http.ResponseWriter, status int, msg string, asJSON bool) {
	if asJSON {
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	http.Error(w, strconv.Itoa(status)+" "+msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint
	_ = json.NewEncoder(w).Encode(v)
}
