package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/credits"
	"github.com/local/docconvert/internal/metrics"
	"github.com/local/docconvert/internal/patterns"
	"github.com/local/docconvert/internal/pool"
	"github.com/local/docconvert/internal/review"
	"github.com/local/docconvert/internal/reviewtools"
	"github.com/local/docconvert/internal/statuscheck"
	"github.com/local/docconvert/internal/store"
)

// Runner executes a prepared batch. *pool.Pool satisfies it.
type Runner interface {
	Run(ctx context.Context, tasks []pool.Task, outputFolder string, emit func(pool.Event)) pool.Summary
}

// PrepareFunc turns a folder into tasks and its output root.
type PrepareFunc func(folder string) ([]pool.Task, string, error)

// Deps are the services exposed over HTTP. Every field is required except
// Health.
type Deps struct {
	Runner    Runner
	Prepare   PrepareFunc
	Batches   store.BatchStore
	Workspace *reviewtools.Workspace
	Reviews   *review.Manager
	Patterns  *patterns.Store
	Ledger    *credits.Ledger
	Health    *statuscheck.Checker
}

// Server serves the JSON API and owns the batches started through it.
type Server struct {
	deps Deps

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{deps: deps, base: ctx, stop: cancel, running: map[string]context.CancelFunc{}}
}

// RegisterRoutes mounts the API on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /batches", s.handleStartBatch)
	mux.HandleFunc("GET /batches/{id}", s.handleGetBatch)
	mux.HandleFunc("DELETE /batches/{id}", s.handleCancelBatch)

	mux.HandleFunc("GET /review/documents", s.handleListDocuments)
	mux.HandleFunc("GET /review/documents/{name}", s.handleReadDocument)
	mux.HandleFunc("GET /review/documents/{name}/analysis", s.handleAnalyzeDocument)
	mux.HandleFunc("PUT /review/documents/{name}", s.handleSaveDocument)
	mux.HandleFunc("GET /review/stats", s.handleReviewStats)
	mux.HandleFunc("POST /review/workdir", s.handleWorkdir)
	mux.HandleFunc("GET /review/prompt", s.handleReviewPrompt)

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleOpenSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/decisions", s.handleDecide)
	mux.HandleFunc("POST /sessions/{id}/confirm-all", s.handleConfirmAll)
	mux.HandleFunc("POST /sessions/{id}/save", s.handleSaveSession)

	mux.HandleFunc("GET /patterns", s.handleListPatterns)
	mux.HandleFunc("GET /patterns/active", s.handleActivePatterns)
	mux.HandleFunc("PATCH /patterns/{id}", s.handleSetActive)
	mux.HandleFunc("POST /patterns/{id}/used", s.handleMarkUsed)
	mux.HandleFunc("POST /patterns/cleanup", s.handleCleanup)
	mux.HandleFunc("GET /patterns/config", s.handleGetConfig)
	mux.HandleFunc("PATCH /patterns/config", s.handleUpdateConfig)
	mux.HandleFunc("GET /patterns/stats", s.handlePatternStats)
	mux.HandleFunc("GET /patterns/corrections", s.handleCorrections)

	mux.HandleFunc("GET /credits/balance", s.handleBalance)
	mux.HandleFunc("POST /credits/topup", s.handleTopUp)
	mux.HandleFunc("POST /credits/identity", s.handleIdentity)
	mux.HandleFunc("POST /credits/adjust", s.handleAdjust)
	mux.HandleFunc("GET /credits/packages", s.handlePackages)
	mux.HandleFunc("GET /credits/history", s.handleHistory)
}

// Handler returns a mux with only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close cancels running batches and waits for them to finish.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	sum := s.deps.Health.Summary(r.Context())
	code := http.StatusOK
	if !sum.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// errBadRequest marks malformed input.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, reviewtools.ErrInvalidName),
		errors.Is(err, reviewtools.ErrNoConverted),
		errors.Is(err, review.ErrInvalidDecision),
		errors.Is(err, review.ErrDuplicateID),
		errors.Is(err, patterns.ErrInvalidSource),
		errors.Is(err, patterns.ErrInvalidConfig),
		errors.Is(err, credits.ErrUnknownPackage):
		return http.StatusBadRequest
	case errors.Is(err, reviewtools.ErrNotFound),
		errors.Is(err, review.ErrSessionNotFound),
		errors.Is(err, review.ErrUnknownCandidate),
		errors.Is(err, patterns.ErrNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, review.ErrSessionSaved):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid json: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return n, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, badRequest("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func newBatchID() string { return uuid.NewString() }
