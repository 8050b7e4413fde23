package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
)

// Outcome はアイデンティティ解決の結果の種類。
type Outcome string

const (
	// OutcomeAnonymous はクレデンシャルが提示されなかった。
	OutcomeAnonymous Outcome = "anonymous"
	// OutcomeValid はアクセストークンがそのまま有効だった。
	OutcomeValid Outcome = "valid"
	// OutcomeRefreshed は期限切れのアクセストークンをリフレッシュで更新した。
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomeFailed はクレデンシャルが提示されたが使えなかった。
	OutcomeFailed Outcome = "failed"
	// OutcomeUnavailable はリフレッシュが認証基盤の障害やタイムアウトで完了しなかった。
	// クレデンシャル自体はまだ有効な可能性があるため、破棄しない。
	OutcomeUnavailable Outcome = "unavailable"
)

// Resolution はResolveの結果。Rotatedは新しいクレデンシャルが発行された場合のみ設定される。
type Resolution struct {
	Identity model.Identity
	Rotated  *model.Credential
	Outcome  Outcome
}

// Authenticated は認証済みかどうかを返す。
func (r Resolution) Authenticated() bool {
	return !r.Identity.IsAnonymous()
}

var errNoAccessToken = errors.New("refresh returned no access token")

// Refresher はリフレッシュトークンから新しいクレデンシャルを取得する。
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*model.Credential, error)
}

// Resolver はクレデンシャルをIdentityまたは匿名に解決する。
// 解決の失敗はエラーではなく匿名として返す。
type Resolver struct {
	verifier  *TokenVerifier
	refresher Refresher
	timeout   time.Duration
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewResolver はResolverを生成する。timeoutはリフレッシュ呼び出しの上限時間。
func NewResolver(verifier *TokenVerifier, refresher Refresher, timeout time.Duration, m metrics.MetricsCollector, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier:  verifier,
		refresher: refresher,
		timeout:   timeout,
		metrics:   metrics.OrNop(m),
		logger:    logger,
	}
}

// Resolve はクレデンシャルを解決する。
func (r *Resolver) Resolve(ctx context.Context, cred *model.Credential) Resolution {
	res := r.resolve(ctx, cred)
	r.metrics.RecordIdentityResolution(string(res.Outcome))
	return res
}

func (r *Resolver) resolve(ctx context.Context, cred *model.Credential) Resolution {
	if !cred.HasAccessToken() && !cred.HasRefreshToken() {
		return Resolution{Identity: model.Anonymous, Outcome: OutcomeAnonymous}
	}

	if cred.HasAccessToken() {
		id, err := r.verifier.Verify(cred.AccessToken)
		if err == nil {
			return Resolution{Identity: id, Outcome: OutcomeValid}
		}
		if !errors.Is(err, ErrTokenExpired) {
			r.logger.Debug("access token rejected", slog.String("reason", err.Error()))
			return failed()
		}
	}

	if !cred.HasRefreshToken() || r.refresher == nil {
		return failed()
	}

	rotated, err := r.refresh(ctx, cred.RefreshToken)
	if err != nil {
		r.metrics.RecordCredentialRefresh(false)
		if !refreshRejected(err) {
			r.logger.Warn("credential refresh unavailable", slog.String("reason", err.Error()))
			return Resolution{Identity: model.Anonymous, Outcome: OutcomeUnavailable}
		}
		r.logger.Info("credential refresh rejected", slog.String("reason", err.Error()))
		return failed()
	}

	id, err := r.verifier.Verify(rotated.AccessToken)
	if err != nil {
		r.metrics.RecordCredentialRefresh(false)
		r.logger.Warn("refreshed access token rejected", slog.String("reason", err.Error()))
		return failed()
	}

	r.metrics.RecordCredentialRefresh(true)
	return Resolution{Identity: id, Rotated: rotated, Outcome: OutcomeRefreshed}
}

func (r *Resolver) refresh(ctx context.Context, refreshToken string) (*model.Credential, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cred, err := r.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !cred.HasAccessToken() {
		return nil, errNoAccessToken
	}
	if !cred.HasRefreshToken() {
		// 新しいリフレッシュトークンが返らない場合は既存のものを使い続ける
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

// refreshRejected はリフレッシュトークン自体が拒否されたかどうかを返す。
// それ以外のエラーは一時的な障害として扱う。
func refreshRejected(err error) bool {
	return errors.Is(err, ErrRefreshRejected) ||
		errors.Is(err, errNoAccessToken) ||
		model.HasCode(err, model.ErrCodeInvalidCredentials)
}

func failed() Resolution {
	return Resolution{Identity: model.Anonymous, Outcome: OutcomeFailed}
}
