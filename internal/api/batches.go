package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/pool"
)

// StartBatch registers a batch for folder and runs it in the background.
// Its events are folded into the batch store as they arrive.
func (s *Server) StartBatch(ctx context.Context, folder string) (string, error) {
	if folder == "" {
		return "", badRequest("folder is required")
	}
	id := newBatchID()
	if err := s.deps.Batches.Create(ctx, id, folder); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		}()
		s.runBatch(runCtx, id, folder)
	}()
	log.Info().Str("batch_id", id).Str("folder", folder).Msg("batch accepted")
	return id, nil
}

func (s *Server) runBatch(ctx context.Context, id, folder string) {
	emit := func(ev pool.Event) {
		// Status writes outlive a cancelled batch.
		if err := s.deps.Batches.Apply(context.WithoutCancel(ctx), id, ev); err != nil {
			log.Warn().Err(err).Str("batch_id", id).Str("event", string(ev.Type)).Msg("batch status not updated")
		}
	}
	tasks, out, err := s.deps.Prepare(folder)
	if err != nil {
		log.Error().Err(err).Str("batch_id", id).Str("folder", folder).Msg("batch preparation failed")
		emit(pool.Event{Type: pool.EventError, Message: err.Error()})
		emit(pool.Event{Type: pool.EventComplete, Summary: &pool.Summary{}})
		return
	}
	s.deps.Runner.Run(ctx, tasks, out, emit)
}

// Cancel stops a running batch. It reports false when the batch is unknown
// or already finished.
func (s *Server) Cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
		log.Info().Str("batch_id", id).Msg("batch cancel requested")
	}
	return ok
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Folder string `json:"folder"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.StartBatch(r.Context(), req.Folder)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status_url": "/batches/" + id})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, ok, err := s.deps.Batches.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.Cancel(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}
