package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/hitoshi/skillswap/internal/identity"
	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/session"
)

const (
	testAuthCookie    = "skillswap-auth-token"
	testRefreshCookie = "skillswap-refresh-token"
)

var testIdentity = model.Identity{
	UserID:   "7c9e6679-7425-40de-944b-e07fc1f90ae7",
	FullName: "佐藤 花子",
	Email:    "hanako@example.com",
}

// --- モック ---

type mockResolver struct {
	resolveFn func(ctx context.Context, cred *model.Credential) identity.Resolution
	calls     int
}

func (m *mockResolver) Resolve(ctx context.Context, cred *model.Credential) identity.Resolution {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, cred)
	}
	return identity.Resolution{Outcome: identity.OutcomeAnonymous}
}

// resolvesTo はクレデンシャルの有無に関わらず固定の結果を返すリゾルバーを作る。
func resolvesTo(res identity.Resolution) *mockResolver {
	return &mockResolver{resolveFn: func(context.Context, *model.Credential) identity.Resolution {
		return res
	}}
}

func newTestPolicy() *session.Policy {
	return session.NewPolicy(session.PolicyConfig{
		AuthCookieName:    testAuthCookie,
		RefreshCookieName: testRefreshCookie,
		MaxAge:            3600,
	})
}

func newTestPropagator(resolver session.IdentityResolver) *session.Propagator {
	return session.NewPropagator(newTestPolicy(), resolver, nil, nil)
}

// withJar はゲートを通さずにCookie変更のジャーだけを取り付ける。
func withJar(next http.Handler) http.Handler {
	p := newTestPropagator(&mockResolver{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw, cr := p.Begin(w, r, nil)
		next.ServeHTTP(cw, cr)
		session.Commit(cw)
	})
}

type recordingMetrics struct {
	metrics.NopCollector
	mu        sync.Mutex
	decisions []string
	statuses  []int
}

func (m *recordingMetrics) RecordGateDecision(category, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, category+":"+outcome)
}

func (m *recordingMetrics) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCode)
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
