package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/skillswap/internal/identity"
	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
)

// IdentityResolver はクレデンシャルをIdentityに解決する。
type IdentityResolver interface {
	Resolve(ctx context.Context, cred *model.Credential) identity.Resolution
}

// Propagator はリクエストごとに1回、最外周のゲートで実行される。
// 解決結果と、レスポンスに書き戻すCookieの変更を返す。
type Propagator struct {
	policy   *Policy
	resolver IdentityResolver
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewPropagator はPropagatorを生成する。
func NewPropagator(policy *Policy, resolver IdentityResolver, m metrics.MetricsCollector, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{
		policy:   policy,
		resolver: resolver,
		metrics:  metrics.OrNop(m),
		logger:   logger,
	}
}

// Policy はPropagatorが使うCookieポリシーを返す。
func (p *Propagator) Policy() *Policy {
	return p.policy
}

// Propagate はリクエストのCookieからIdentityを解決する。
// クレデンシャルが更新された場合は保存用、提示されたが使えなかった場合は削除用のCookieを返す。
// 認証基盤の一時的な障害(OutcomeUnavailable)ではCookieを変更しない。
func (p *Propagator) Propagate(ctx context.Context, r *http.Request) (identity.Resolution, []*http.Cookie) {
	res := p.resolver.Resolve(ctx, p.policy.Read(r))

	switch {
	case res.Rotated != nil:
		return res, p.policy.Write(res.Rotated)
	case res.Outcome == identity.OutcomeFailed:
		return res, p.policy.Clear()
	default:
		return res, nil
	}
}

// Begin はリクエストにCookie変更のジャーを取り付け、ヘッダー書き込み時に一括反映するライターを返す。
// initialはPropagateが返した変更で、ハンドラーが後から積んだ変更と同名の場合は後者が優先される。
func (p *Propagator) Begin(w http.ResponseWriter, r *http.Request, initial []*http.Cookie) (http.ResponseWriter, *http.Request) {
	j := &jar{
		policy:  p.policy,
		metrics: p.metrics,
		logger:  p.logger,
	}
	j.pending = append(j.pending, initial...)

	ctx := context.WithValue(r.Context(), jarKey{}, j)
	r = r.WithContext(ctx)
	return &commitWriter{ResponseWriter: w, jar: j, ctx: ctx}, r
}
