package api

import (
	"net/http"
	"strconv"

	"github.com/local/docconvert/internal/patterns"
)

func (s *Server) handleActivePatterns(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source != "" && !patterns.ValidSource(source) {
		writeError(w, badRequest("unknown source %q", source))
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	ps, err := s.deps.Patterns.BuildPrompt(r.Context(), source, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": ps,
		"count":    len(ps),
		"prompt":   patterns.PromptText(ps),
	})
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := patterns.Filter{Source: q.Get("source"), Search: q.Get("search"), SortBy: q.Get("sort_by")}
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, badRequest("active must be a boolean"))
			return
		}
		f.Active = &b
	}
	var err error
	if f.Limit, err = queryInt(r, "limit", 100); err != nil {
		writeError(w, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, err)
		return
	}
	ps, err := s.deps.Patterns.ListPatterns(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": ps, "count": len(ps)})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Active *bool `json:"is_active"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Active == nil {
		writeError(w, badRequest("is_active is required"))
		return
	}
	if err := s.deps.Patterns.SetActive(r.Context(), id, *req.Active); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.deps.Patterns.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleMarkUsed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Patterns.MarkUsed(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	rep, err := s.deps.Patterns.Cleanup(r.Context(), force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Patterns.Config())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch patterns.ConfigPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	cfg, err := s.deps.Patterns.UpdateConfig(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePatternStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Patterns.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := s.deps.Patterns.ListCorrections(r.Context(), r.URL.Query().Get("decision"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"corrections": logs, "count": len(logs)})
}
