package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/skillswap/internal/gatekeeper"
	"github.com/hitoshi/skillswap/internal/identity"
)

// newTestChain はルーターと同じ順序でミドルウェアを組み立てる。
func newTestChain(t *testing.T, resolver *mockResolver, logBuf *bytes.Buffer) http.Handler {
	t.Helper()
	rl := NewRateLimiter(testLimiterConfig(10, 10))
	t.Cleanup(rl.Stop)

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware())
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewLoggingMiddleware(newBufferLogger(logBuf), nil))
	r.Use(NewCORSMiddleware(testOrigin))
	r.Use(NewGateMiddleware(gatekeeper.DefaultTable(), newTestPropagator(resolver), nil))

	r.Route("/api", func(r chi.Router) {
		r.Use(rl.GeneralMiddleware())
		r.Use(NewCSRFMiddleware())
		r.Get("/csrf-token", NewCSRFTokenHandler().ServeHTTP)
		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"id": IdentityFromContext(r.Context()).UserID})
		})
		r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})
	return r
}

func authenticated() *mockResolver {
	return resolvesTo(identity.Resolution{Identity: testIdentity, Outcome: identity.OutcomeValid})
}

func TestMiddlewareChain_AuthenticatedGET(t *testing.T) {
	var logBuf bytes.Buffer
	h := newTestChain(t, authenticated(), &logBuf)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["id"] != testIdentity.UserID {
		t.Errorf("body = %v, err = %v", body, err)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("security headers missing: %v", w.Header())
	}
	if findCookie(w.Result().Cookies(), CSRFCookieName) == nil {
		t.Error("csrf cookie should be issued on the first API GET")
	}
}

func TestMiddlewareChain_POSTRequiresCSRFToken(t *testing.T) {
	var logBuf bytes.Buffer
	h := newTestChain(t, authenticated(), &logBuf)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status without token = %d, want %d", w.Code, http.StatusForbidden)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "tok"})
	req.Header.Set("X-CSRF-Token", "tok")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("status with token = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestMiddlewareChain_AnonymousAPIStopsAtGate(t *testing.T) {
	var logBuf bytes.Buffer
	h := newTestChain(t, &mockResolver{}, &logBuf)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != testOrigin {
		t.Error("CORS headers must be present on 401 responses")
	}
}

func TestMiddlewareChain_PanicIsRecovered(t *testing.T) {
	var logBuf bytes.Buffer
	h := newTestChain(t, authenticated(), &logBuf)

	req := httptest.NewRequest(http.MethodGet, "/api/panic", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Code != "INTERNAL_ERROR" {
		t.Errorf("body = %+v, err = %v", body, err)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers must survive a panic")
	}
}
