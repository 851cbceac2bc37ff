package api

import (
	"net/http"

	"github.com/local/docconvert/internal/corrector"
	"github.com/local/docconvert/internal/review"
)

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	l, err := s.deps.Workspace.ListDocuments(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleReadDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	content, err := s.deps.Workspace.ReadDocument(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filename": name, "content": content, "length": len(content)})
}

func (s *Server) handleAnalyzeDocument(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Workspace.AnalyzeOCRErrors(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleSaveDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Content == "" {
		writeError(w, badRequest("content is required"))
		return
	}
	res, err := s.deps.Workspace.SaveReviewedDocument(r.PathValue("name"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReviewStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Workspace.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWorkdir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dirs, err := s.deps.Workspace.SetWorkingDirectory(req.Path)
	if err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, dirs)
}

func (s *Server) handleReviewPrompt(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	text, err := s.deps.Workspace.ReviewPrompt(r.Context(), format)
	if err != nil {
		writeError(w, err)
		return
	}
	ct := "text/markdown; charset=utf-8"
	if format == "html" {
		ct = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write([]byte(text))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.deps.Reviews.List()})
}

// handleOpenSession opens a session over explicit candidates, or over the
// candidates file of a converted document when none are given.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocID      string                `json:"doc_id"`
		Source     string                `json:"source"`
		Candidates []corrector.Candidate `json:"candidates"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DocID == "" {
		writeError(w, badRequest("doc_id is required"))
		return
	}
	var (
		sess *review.Session
		err  error
	)
	if req.Candidates == nil {
		var dir string
		if dir, err = s.deps.Workspace.DocumentDir(req.DocID); err == nil {
			sess, err = s.deps.Reviews.OpenDir(dir)
		}
	} else {
		sess, err = s.deps.Reviews.Open(req.DocID, req.Source, req.Candidates)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*review.Session, bool) {
	sess, err := s.deps.Reviews.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		writeJSON(w, http.StatusOK, sess.View())
	}
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		CandidateID string          `json:"candidate_id"`
		Decision    review.Decision `json:"decision"`
		Value       string          `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Decide(req.CandidateID, req.Decision, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleConfirmAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	n, err := sess.ConfirmAllRemaining()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": n, "session": sess.View()})
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Reviews.Save(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
