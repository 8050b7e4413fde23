package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/skillswap/internal/gatekeeper"
	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/session"
)

// NewGateMiddleware は全ルートの最外周で動くゲートを返す。
//
// 除外パスは何もせずに通す。公開パスはIdentityを解決せず、Cookie変更のジャーだけを取り付ける。
// それ以外のパスはリクエストごとに1回Identityを解決し、分類に応じて通過・リダイレクト・401を決める。
// 下流のハンドラーはIdentityFromContextで解決済みのIdentityを参照する。
func NewGateMiddleware(table *gatekeeper.Table, propagator *session.Propagator, m metrics.MetricsCollector) func(next http.Handler) http.Handler {
	m = metrics.OrNop(m)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := table.Classify(r.URL.Path)
			if c.Excluded {
				next.ServeHTTP(w, r)
				return
			}

			if c.Category == gatekeeper.Public {
				m.RecordGateDecision(string(c.Category), string(gatekeeper.Pass))
				cw, cr := propagator.Begin(w, r, nil)
				cr = cr.WithContext(ContextWithIdentity(cr.Context(), model.Anonymous))
				next.ServeHTTP(cw, cr)
				session.Commit(cw)
				return
			}

			res, mutations := propagator.Propagate(r.Context(), r)
			cw, cr := propagator.Begin(w, r, mutations)
			cr = cr.WithContext(ContextWithIdentity(cr.Context(), res.Identity))

			out := gatekeeper.Decide(c, res.Authenticated(), r.URL.Path, r.URL.RawQuery)
			m.RecordGateDecision(string(c.Category), string(out.Kind))

			switch out.Kind {
			case gatekeeper.Redirect:
				slog.Debug("gate redirect",
					slog.String("path", r.URL.Path),
					slog.String("location", out.Location),
				)
				http.Redirect(cw, cr, out.Location, http.StatusFound)
			case gatekeeper.Unauthorized:
				slog.Info("unauthenticated api request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(cw, http.StatusUnauthorized, model.NewUnauthenticatedError())
			default:
				next.ServeHTTP(cw, cr)
			}
			session.Commit(cw)
		})
	}
}
