package session

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/skillswap/internal/identity"
	"github.com/hitoshi/skillswap/internal/model"
)

const (
	roundTripSecret = "round-trip-secret"
	roundTripUserID = "3d2a8c7e-1b4f-4e6a-9c0d-5f7e8a9b0c1d"
)

// newRoundTripServer はログインとIdentity確認のみを持つ最小のサーバーを立てる。
// どちらの経路も同じPropagatorとPolicyを通る。
func newRoundTripServer(t *testing.T) (*httptest.Server, *Propagator) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	provider, err := identity.NewStaticProvider([]identity.StaticUser{{
		ID:           roundTripUserID,
		Email:        "rt@example.com",
		PasswordHash: string(hash),
		FullName:     "Round Trip",
	}}, identity.NewTokenIssuer(roundTripSecret, "static", time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("NewStaticProvider: %v", err)
	}

	resolver := identity.NewResolver(identity.NewTokenVerifier(roundTripSecret), provider, time.Second, nil, nil)
	prop := NewPropagator(testPolicy(false), resolver, nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w, r = prop.Begin(w, r, nil)
		cred, err := provider.SignIn(r.Context(), "rt@example.com", "pw")
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		SetCredential(r.Context(), cred)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		res, mutations := prop.Propagate(r.Context(), r)
		w, r = prop.Begin(w, r, mutations)
		if res.Identity.IsAnonymous() {
			http.Error(w, "anonymous", http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Outcome", string(res.Outcome))
		io.WriteString(w, res.Identity.UserID)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, prop
}

func newJarClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func getMe(t *testing.T, client *http.Client, base string) (int, string, string) {
	t.Helper()
	resp, err := client.Get(base + "/me")
	if err != nil {
		t.Fatalf("GET /me: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), resp.Header.Get("X-Outcome")
}

func TestRoundTrip_LoginThenNextRequestResolves(t *testing.T) {
	srv, _ := newRoundTripServer(t)
	client := newJarClient(t)

	status, _, _ := getMe(t, client, srv.URL)
	if status != http.StatusUnauthorized {
		t.Fatalf("before login: status = %d, want 401", status)
	}

	resp, err := client.Post(srv.URL+"/login", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	status, body, outcome := getMe(t, client, srv.URL)
	if status != http.StatusOK || body != roundTripUserID {
		t.Fatalf("after login: status = %d body = %q", status, body)
	}
	if outcome != string(identity.OutcomeValid) {
		t.Errorf("outcome = %q, want valid", outcome)
	}
}

func TestRoundTrip_RotatedCredentialReachesNextRequest(t *testing.T) {
	srv, prop := newRoundTripServer(t)
	client := newJarClient(t)

	resp, err := client.Post(srv.URL+"/login", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	resp.Body.Close()

	// アクセストークンを期限切れのものに差し替える
	expiredIssuer := identity.NewTokenIssuer(roundTripSecret, "static", -time.Hour)
	expired, _, err := expiredIssuer.Issue(model.Identity{UserID: roundTripUserID})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	u, _ := url.Parse(srv.URL)
	client.Jar.SetCookies(u, []*http.Cookie{prop.Policy().Cookie(prop.Policy().AuthCookieName(), expired, 3600)})

	status, body, outcome := getMe(t, client, srv.URL)
	if status != http.StatusOK || body != roundTripUserID {
		t.Fatalf("refresh request: status = %d body = %q", status, body)
	}
	if outcome != string(identity.OutcomeRefreshed) {
		t.Fatalf("outcome = %q, want refreshed", outcome)
	}

	// 元のリフレッシュトークンは消費済みなので、回転後のCookieが届いていなければ失敗する
	status, body, outcome = getMe(t, client, srv.URL)
	if status != http.StatusOK || body != roundTripUserID {
		t.Fatalf("next request: status = %d body = %q", status, body)
	}
	if outcome != string(identity.OutcomeValid) {
		t.Errorf("outcome = %q, want valid", outcome)
	}
}

func TestRoundTrip_UnusableCredentialIsCleared(t *testing.T) {
	srv, prop := newRoundTripServer(t)
	client := newJarClient(t)

	u, _ := url.Parse(srv.URL)
	client.Jar.SetCookies(u, []*http.Cookie{
		prop.Policy().Cookie(prop.Policy().AuthCookieName(), "tampered", 3600),
	})

	status, _, _ := getMe(t, client, srv.URL)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if n := len(client.Jar.Cookies(u)); n != 0 {
		t.Errorf("expected the unusable credential to be cleared, %d cookies remain", n)
	}
}
