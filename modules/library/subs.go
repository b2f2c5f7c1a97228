package library

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m1k1o/localwatch/internal/utils"
	"github.com/m1k1o/localwatch/pkg/subtitle"
)

type trackResponse struct {
	Lang  string `json:"lang"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

type subsResponse struct {
	Tracks []trackResponse `json:"tracks"`
}

func (m *ModuleCtx) subs(w http.ResponseWriter, r *http.Request) {
	target, ok := m.target(w, r, true)
	if !ok {
		return
	}

	tracks := []trackResponse{}
	for _, track := range subtitle.Discover(target.Path) {
		tracks = append(tracks, trackResponse{
			Lang:  track.Lang,
			Label: track.Label,
			URL:   "/sub?p=" + url.QueryEscape(target.Source.RelPath) + "&f=" + url.QueryEscape(track.File),
		})
	}

	writeJSON(w, http.StatusOK, subsResponse{Tracks: tracks})
}

// sub serves one subtitle next to the video as UTF-8 WebVTT, optionally
// shifted by offset_ms.
func (m *ModuleCtx) sub(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("f")
	if name == "" {
		http.Error(w, "400 missing parameters", http.StatusBadRequest)
		return
	}

	target, ok := m.target(w, r, false)
	if !ok {
		return
	}

	dir := filepath.Dir(target.Path)
	path := filepath.Join(dir, filepath.FromSlash(name))
	if filepath.Dir(path) != dir {
		http.Error(w, "400 invalid subtitle", http.StatusBadRequest)
		return
	}

	ext := strings.ToLower(filepath.Ext(path))
	if info, err := os.Stat(path); !subtitle.Extensions[ext] || err != nil || !info.Mode().IsRegular() {
		http.Error(w, "404 subtitle not found", http.StatusNotFound)
		return
	}

	offsetMs, _ := strconv.Atoi(r.URL.Query().Get("offset_ms"))
	offset := time.Duration(offsetMs) * time.Millisecond

	utf8Path, err := m.converter.ToUTF8(path, m.locator.ScopeAbsDir(target.Source.RelPath))
	if err != nil {
		m.logger.Warn().Err(err).Str("subtitle", path).Msg("unable to convert subtitle charset")
		utf8Path = path
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	if ext == ".vtt" {
		data, err := os.ReadFile(utf8Path)
		if err != nil {
			http.Error(w, "500 unable to read subtitle", http.StatusInternalServerError)
			return
		}

		content := string(data)
		if offset != 0 {
			content = subtitle.ShiftWebVTT(content, offset)
		}

		//nolint
		_, _ = w.Write([]byte(content))
		return
	}

	if err := m.engine.SubtitleToWebVTT(r.Context(), utils.FlushWriter(w), utf8Path, offset); err != nil && r.Context().Err() == nil {
		m.logger.Warn().Err(err).Str("subtitle", path).Msg("subtitle convert failed")
		http.Error(w, "500 subtitle convert failed", http.StatusInternalServerError)
	}
}
