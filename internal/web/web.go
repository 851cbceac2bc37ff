package web

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/credits"
	"github.com/local/docconvert/internal/patterns"
	"github.com/local/docconvert/internal/review"
	"github.com/local/docconvert/internal/reviewtools"
	"github.com/local/docconvert/internal/statuscheck"
	"github.com/local/docconvert/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

const authCookie = "auth"

// Deps are the services the dashboard reads. Start launches a batch and
// returns its id.
type Deps struct {
	Health    *statuscheck.Checker
	Patterns  *patterns.Store
	Ledger    *credits.Ledger
	Reviews   *review.Manager
	Workspace *reviewtools.Workspace
	Batches   store.BatchStore
	Start     func(ctx context.Context, folder string) (string, error)
}

type Web struct {
	tpl      *template.Template
	deps     Deps
	username string
	password string
	token    string
}

// New builds the dashboard. Login is required only when both username and
// password are set.
func New(deps Deps, username, password string) *Web {
	tpl := template.Must(template.ParseFS(templateFS, "templates/*.html"))
	sum := sha256.Sum256([]byte(username + ":" + password))
	return &Web{
		tpl:      tpl,
		deps:     deps,
		username: username,
		password: password,
		token:    hex.EncodeToString(sum[:]),
	}
}

func (w *Web) authEnabled() bool { return w.username != "" && w.password != "" }

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /web/login", w.handleLoginPage)
	mux.HandleFunc("POST /web/login", w.handleLogin)
	mux.HandleFunc("/web/logout", w.handleLogout)
	mux.HandleFunc("GET /{$}", w.requireAuth(w.handleDashboard))
	mux.HandleFunc("POST /web/batches", w.requireAuth(w.handleProcess))
	mux.HandleFunc("GET /web/batches/{id}", w.requireAuth(w.handleProgress))
}

func (w *Web) render(wr http.ResponseWriter, name string, data any) {
	wr.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := w.tpl.ExecuteTemplate(wr, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("render failed")
	}
}

func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		if !w.authEnabled() {
			next(wr, r)
			return
		}
		c, err := r.Cookie(authCookie)
		if err != nil || subtle.ConstantTimeCompare([]byte(c.Value), []byte(w.token)) != 1 {
			http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
			return
		}
		next(wr, r)
	}
}

func (w *Web) handleLoginPage(wr http.ResponseWriter, r *http.Request) {
	w.render(wr, "login.html", map[string]any{"Error": r.URL.Query().Get("error")})
}

func (w *Web) handleLogin(wr http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(wr, r, "/web/login?error=invalid+form", http.StatusSeeOther)
		return
	}
	user := subtle.ConstantTimeCompare([]byte(r.Form.Get("username")), []byte(w.username))
	pass := subtle.ConstantTimeCompare([]byte(r.Form.Get("password")), []byte(w.password))
	if w.authEnabled() && user&pass == 1 {
		http.SetCookie(wr, &http.Cookie{Name: authCookie, Value: w.token, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
		http.Redirect(wr, r, "/", http.StatusSeeOther)
		return
	}
	log.Warn().Str("remote", r.RemoteAddr).Msg("dashboard login rejected")
	http.Redirect(wr, r, "/web/login?error=invalid+credentials", http.StatusSeeOther)
}

func (w *Web) handleLogout(wr http.ResponseWriter, r *http.Request) {
	http.SetCookie(wr, &http.Cookie{Name: authCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
}

type dashboard struct {
	AuthEnabled bool
	Health      *statuscheck.Summary
	Balance     *credits.Balance
	Patterns    *patterns.Stats
	Sessions    []review.View
	Pending     int
	Batch       *store.Batch
	Error       string
}

func (w *Web) handleDashboard(wr http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d := dashboard{AuthEnabled: w.authEnabled(), Error: r.URL.Query().Get("error")}
	if w.deps.Health != nil {
		sum := w.deps.Health.Summary(ctx)
		d.Health = &sum
	}
	if w.deps.Ledger != nil {
		b := w.deps.Ledger.Balance()
		d.Balance = &b
	}
	if w.deps.Patterns != nil {
		if st, err := w.deps.Patterns.Stats(ctx); err == nil {
			d.Patterns = &st
		} else {
			log.Warn().Err(err).Msg("pattern stats unavailable")
		}
	}
	if w.deps.Reviews != nil {
		d.Sessions = w.deps.Reviews.List()
	}
	if w.deps.Workspace != nil {
		if l, err := w.deps.Workspace.ListDocuments("pending"); err == nil {
			d.Pending = l.Count
		}
	}
	if id := r.URL.Query().Get("batch"); id != "" && w.deps.Batches != nil {
		if b, ok, err := w.deps.Batches.Get(ctx, id); err == nil && ok {
			d.Batch = &b
		}
	}
	w.render(wr, "dashboard.html", d)
}

func (w *Web) handleProcess(wr http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(wr, "invalid form", http.StatusBadRequest)
		return
	}
	folder := r.Form.Get("folder")
	if folder == "" || w.deps.Start == nil {
		http.Redirect(wr, r, "/?error=folder+is+required", http.StatusSeeOther)
		return
	}
	id, err := w.deps.Start(r.Context(), folder)
	if err != nil {
		http.Redirect(wr, r, "/?error="+url.QueryEscape(err.Error()), http.StatusSeeOther)
		return
	}
	http.Redirect(wr, r, "/?batch="+url.QueryEscape(id), http.StatusSeeOther)
}

func (w *Web) handleProgress(wr http.ResponseWriter, r *http.Request) {
	if w.deps.Batches == nil {
		http.Error(wr, "no batch store", http.StatusNotFound)
		return
	}
	b, ok, err := w.deps.Batches.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(wr, "progress failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(wr, "not found", http.StatusNotFound)
		return
	}
	wr.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(wr).Encode(b)
}
