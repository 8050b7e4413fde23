package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/skillswap/internal/auth"
	"github.com/hitoshi/skillswap/internal/gatekeeper"
	"github.com/hitoshi/skillswap/internal/identity"
	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/session"
)

const (
	testSecret   = "router-test-secret-0123456789abcdef"
	testEmail    = "ichiro@example.com"
	testPassword = "correct horse battery"
)

type nopEnsurer struct{}

func (nopEnsurer) Ensure(ctx context.Context, id model.Identity) (*model.User, error) {
	return &model.User{ID: id.UserID}, nil
}

type stubHealth struct{ err error }

func (s stubHealth) PingContext(ctx context.Context) error { return s.err }

// newTestServer は固定ユーザーの認証戦略と実際のゲートでルーター全体を起動する。
func newTestServer(t *testing.T, conns *mockConnectionService) *httptest.Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	issuer := identity.NewTokenIssuer(testSecret, "skillswap-test", 15*time.Minute)
	provider, err := identity.NewStaticProvider([]identity.StaticUser{{
		ID:           userA,
		Email:        testEmail,
		PasswordHash: string(hash),
		FullName:     identA.FullName,
	}}, issuer, time.Hour)
	if err != nil {
		t.Fatalf("NewStaticProvider: %v", err)
	}

	verifier := identity.NewTokenVerifier(testSecret)
	resolver := identity.NewResolver(verifier, provider, time.Second, nil, nil)
	propagator := session.NewPropagator(newTestPolicy(), resolver, nil, nil)

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	if conns == nil {
		conns = &mockConnectionService{}
	}

	router := NewRouter(&RouterDeps{
		HealthChecker:       stubHealth{},
		RateLimiter:         limiter,
		RouteTable:          gatekeeper.DefaultTable(),
		Propagator:          propagator,
		AuthService:         auth.NewService(provider, verifier, nopEnsurer{}),
		ConnectionService:   conns,
		NotificationService: &mockNotificationService{},
		SessionLister:       &mockSessionLister{},
		SchedulingService:   &mockScheduler{},
		ProfileService:      &mockProfileService{},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func login(t *testing.T, client *http.Client, srv *httptest.Server, returnURL string) *http.Response {
	t.Helper()
	form := url.Values{"email": {testEmail}, "password": {testPassword}}
	if returnURL != "" {
		form.Set("returnUrl", returnURL)
	}
	resp, err := client.PostForm(srv.URL+"/auth/login", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return resp
}

func TestRouter_ProtectedPageRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newBrowser(t)

	// 未認証でダッシュボードを開くとログインページへ戻り先付きで送られる
	resp, err := client.Get(srv.URL + "/dashboard?tab=upcoming")
	if err != nil {
		t.Fatalf("GET /dashboard: %v", err)
	}
	body := readBody(t, resp)
	if resp.Request.URL.Path != "/login" {
		t.Fatalf("landed on %s, want /login", resp.Request.URL.Path)
	}
	returnURL := resp.Request.URL.Query().Get("returnUrl")
	if returnURL != "/dashboard?tab=upcoming" {
		t.Errorf("returnUrl = %q", returnURL)
	}
	if !strings.Contains(body, `data-authenticated="false"`) {
		t.Errorf("login shell should render anonymous")
	}

	// ログインすると元のページへ戻り、以降のリクエストはCookieで認証される
	resp = login(t, client, srv, returnURL)
	body = readBody(t, resp)
	if resp.Request.URL.Path != "/dashboard" || resp.Request.URL.RawQuery != "tab=upcoming" {
		t.Fatalf("landed on %s, want /dashboard?tab=upcoming", resp.Request.URL)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `data-authenticated="true"`) {
		t.Errorf("dashboard: %d %s", resp.StatusCode, body)
	}

	// 認証済みでログインページを開くとホームへ送られる
	resp, err = client.Get(srv.URL + "/login")
	if err != nil {
		t.Fatalf("GET /login: %v", err)
	}
	readBody(t, resp)
	if resp.Request.URL.Path != "/" {
		t.Errorf("authenticated /login landed on %s, want /", resp.Request.URL.Path)
	}
}

func TestRouter_APIRoundTrip(t *testing.T) {
	var gotReceiver string
	conns := &mockConnectionService{
		requestFn: func(ctx context.Context, id model.Identity, receiverID string) (*model.ConnectionRequest, error) {
			if id.UserID != userA {
				return nil, errors.New("identity was not propagated")
			}
			gotReceiver = receiverID
			return &model.ConnectionRequest{ID: "req-1", SenderID: id.UserID, ReceiverID: receiverID}, nil
		},
	}
	srv := newTestServer(t, conns)
	client := newBrowser(t)

	// 未認証のAPIはリダイレクトせず401を返す
	resp, err := client.Get(srv.URL + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous /api/me = %d, want 401", resp.StatusCode)
	}

	readBody(t, login(t, client, srv, ""))

	resp, err = client.Get(srv.URL + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	var me identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if me.ID != userA || me.Email != testEmail {
		t.Errorf("me = %+v", me)
	}

	// CSRFトークンなしの変更系は拒否される
	body := `{"receiver_id":"` + userB + `"}`
	resp, err = client.Post(srv.URL+"/api/connections/requests", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST without token: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("without csrf = %d, want 403", resp.StatusCode)
	}

	u, _ := url.Parse(srv.URL)
	var token string
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == middleware.CSRFCookieName {
			token = c.Value
		}
	}
	if token == "" {
		t.Fatalf("csrf cookie was not issued on GET")
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/connections/requests", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", token)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("POST with token: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusCreated || gotReceiver != userB {
		t.Errorf("with csrf = %d receiver=%q", resp.StatusCode, gotReceiver)
	}
}

func TestRouter_LogoutClearsCredential(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newBrowser(t)

	readBody(t, login(t, client, srv, ""))

	resp, err := client.PostForm(srv.URL+"/auth/logout", url.Values{})
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	readBody(t, resp)
	if resp.Request.URL.Path != "/login" {
		t.Errorf("logout landed on %s, want /login", resp.Request.URL.Path)
	}

	u, _ := url.Parse(srv.URL)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == testAuthCookie || c.Name == testRefreshCookie {
			t.Errorf("cookie %s survived logout", c.Name)
		}
	}

	resp, err = client.Get(srv.URL + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("after logout /api/me = %d, want 401", resp.StatusCode)
	}
}

func TestRouter_LoginFailureStaysOnLoginPage(t *testing.T) {
	srv := newTestServer(t, nil)
	client := newBrowser(t)

	resp, err := client.PostForm(srv.URL+"/auth/login", url.Values{
		"email":     {testEmail},
		"password":  {"wrong password"},
		"returnUrl": {"/profile"},
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	readBody(t, resp)

	q := resp.Request.URL.Query()
	if resp.Request.URL.Path != "/login" || q.Get("error") != model.ErrCodeInvalidCredentials || q.Get("returnUrl") != "/profile" {
		t.Errorf("landed on %s", resp.Request.URL)
	}
	u, _ := url.Parse(srv.URL)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == testAuthCookie {
			t.Errorf("auth cookie must not be set on failure")
		}
	}
}

func TestRouter_Health(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}
	if len(resp.Cookies()) != 0 {
		t.Errorf("excluded path must not set cookies")
	}
}

func TestHealth_Unavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(stubHealth{err: errors.New("connection refused")})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestShellPage(t *testing.T) {
	rec := httptest.NewRecorder()
	ShellPage("/connections")(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/connections", nil), identA))

	body := rec.Body.String()
	if !strings.Contains(body, `data-page="/connections"`) || !strings.Contains(body, "つながり") {
		t.Errorf("unexpected shell: %s", body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
}
