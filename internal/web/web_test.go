package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/local/docconvert/internal/credits"
	"github.com/local/docconvert/internal/pool"
	"github.com/local/docconvert/internal/store"
)

func newMux(w *Web) *http.ServeMux {
	mux := http.NewServeMux()
	w.RegisterRoutes(mux)
	return mux
}

func TestDashboardRequiresLogin(t *testing.T) {
	mux := newMux(New(Deps{}, "admin", "secret"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/web/login" {
		t.Fatalf("expected redirect to login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/web/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if !strings.Contains(rec.Header().Get("Location"), "error=") || len(rec.Result().Cookies()) != 0 {
		t.Fatalf("bad credentials accepted")
	}

	form.Set("password", "secret")
	req = httptest.NewRequest(http.MethodPost, "/web/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected auth cookie, got %v", cookies)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Sign out") {
		t.Fatalf("dashboard after login = %d", rec.Code)
	}
}

func TestDashboardStartsBatch(t *testing.T) {
	ledger, err := credits.Open(credits.Options{Path: filepath.Join(t.TempDir(), "credits.json")})
	if err != nil {
		t.Fatalf("credits.Open failed: %v", err)
	}
	batches := store.NewMemoryStore()
	var started string
	w := New(Deps{
		Ledger:  ledger,
		Batches: batches,
		Start: func(ctx context.Context, folder string) (string, error) {
			started = folder
			if err := batches.Create(ctx, "b1", folder); err != nil {
				return "", err
			}
			return "b1", batches.Apply(ctx, "b1", pool.Event{Type: pool.EventInit, Total: 3, Workers: 2})
		},
	}, "", "")
	mux := newMux(w)

	form := url.Values{"folder": {"/data/scans"}}
	req := httptest.NewRequest(http.MethodPost, "/web/batches", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if started != "/data/scans" || rec.Header().Get("Location") != "/?batch=b1" {
		t.Fatalf("unexpected start: folder=%q location=%q", started, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?batch=b1", nil))
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, "Batch b1") || !strings.Contains(body, "0/3 processed") {
		t.Fatalf("dashboard missing batch:\n%s", body)
	}
	if !strings.Contains(body, "0 credits") {
		t.Fatalf("dashboard missing balance:\n%s", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/web/batches/b1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":3`) {
		t.Fatalf("progress = %d %s", rec.Code, rec.Body.String())
	}
}
