package library

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/m1k1o/localwatch/internal/utils"
	"github.com/m1k1o/localwatch/pkg/catalog"
	"github.com/m1k1o/localwatch/pkg/jobs"
	"github.com/m1k1o/localwatch/pkg/thumb"
)

func streamURL(relPath string) string {
	return "/stream?p=" + url.QueryEscape(relPath)
}

// remux derives a seekable copy and redirects to it.
func (m *ModuleCtx) remux(w http.ResponseWriter, r *http.Request) {
	target, ok := m.target(w, r, false)
	if !ok {
		return
	}

	artifact, err := m.engine.EnsureTarget(r.Context(), target, jobs.ReasonOnDemand)
	if err != nil {
		// client is gone, the derivation keeps running
		if errors.Is(err, r.Context().Err()) {
			return
		}
		m.logger.Warn().Err(err).Str("source", target.Source.RelPath).Msg("remux failed")
		http.Error(w, "500 remux failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, streamURL(artifact.RelPath), http.StatusFound)
}

// play streams a live fragmented mp4, nothing is cached.
func (m *ModuleCtx) play(w http.ResponseWriter, r *http.Request) {
	target, ok := m.target(w, r, false)
	if !ok {
		return
	}

	force := r.URL.Query().Get("transcode") == "1"
	if !force && (target.Source.Ext == ".mp4" || target.Source.Ext == ".webm") {
		http.Redirect(w, r, streamURL(target.Source.RelPath), http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if err := m.engine.Live(r.Context(), utils.FlushWriter(w), target.Path, force); err != nil && r.Context().Err() == nil {
		m.logger.Warn().Err(err).Str("source", target.Source.RelPath).Msg("live transcode failed")
	}
}

func (m *ModuleCtx) thumb(w http.ResponseWriter, r *http.Request) {
	target, ok := m.target(w, r, false)
	if !ok {
		return
	}

	path, ok := thumb.Find(target.Path, m.config.Root)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if width, _ := strconv.Atoi(r.URL.Query().Get("w")); width > 0 {
		resized, err := m.thumbs.Resize(path, width)
		if err != nil {
			m.logger.Warn().Err(err).Str("thumb", path).Msg("unable to resize thumbnail")
		} else {
			path = resized
		}
	}

	if err := m.ranges.ServeFile(w, r, path); err != nil {
		http.Error(w, "404 file not found", http.StatusNotFound)
	}
}

type skipIntroResponse struct {
	Start  *float64 `json:"start,omitempty"`
	End    *float64 `json:"end,omitempty"`
	Source string   `json:"source,omitempty"`
}

// skipIntro prefers a manual marker over a detected window.
func (m *ModuleCtx) skipIntro(w http.ResponseWriter, r *http.Request) {
	target, ok := m.target(w, r, true)
	if !ok {
		return
	}

	if window, ok := catalog.FindSkipIntro(m.config.Root, target.Path); ok {
		start, end := window.Start.Seconds(), window.End.Seconds()
		writeJSON(w, http.StatusOK, skipIntroResponse{Start: &start, End: &end, Source: "marker"})
		return
	}

	if m.detector != nil {
		verdict, err := m.detector.Detect(r.Context(), target.Path, target.Source.RelPath)
		if err != nil {
			m.logger.Debug().Err(err).Str("source", target.Source.RelPath).Msg("intro detection unavailable")
		} else if start, end, ok := verdict.Window(); ok {
			s, e := start.Seconds(), end.Seconds()
			writeJSON(w, http.StatusOK, skipIntroResponse{Start: &s, End: &e, Source: "detected"})
			return
		}
	}

	writeJSON(w, http.StatusOK, skipIntroResponse{})
}

type nextEpisodeResponse struct {
	At     *float64 `json:"at,omitempty"`
	Offset *float64 `json:"offset,omitempty"`
}

func (m *ModuleCtx) nextEpisode(w http.ResponseWriter, r *http.Request) {
	target, ok := m.target(w, r, true)
	if !ok {
		return
	}

	marker, ok := catalog.FindNextEpisode(m.config.Root, target.Path)
	if !ok {
		writeJSON(w, http.StatusOK, nextEpisodeResponse{})
		return
	}

	duration, ok := m.metadata.Get(r.Context(), target.Path).KnownDuration()
	if !ok {
		offset := marker.Offset.Seconds()
		writeJSON(w, http.StatusOK, nextEpisodeResponse{Offset: &offset})
		return
	}

	at := marker.At(duration).Seconds()
	writeJSON(w, http.StatusOK, nextEpisodeResponse{At: &at})
}
