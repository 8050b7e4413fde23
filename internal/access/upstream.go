package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/repository"
)

// DefaultUpstreamTimeout はUpstream.Timeoutが未設定の場合のタイムアウト。
const DefaultUpstreamTimeout = 5 * time.Second

// Upstream はバックエンド呼び出しのタイムアウト・再試行・エラー変換を共通化する。
// 読み取りは一時的なエラーで1回だけ再試行し、書き込みは再試行しない。
type Upstream struct {
	Timeout time.Duration
	Metrics metrics.MetricsCollector
	Logger  *slog.Logger
}

func (u *Upstream) timeout() time.Duration {
	if u == nil || u.Timeout <= 0 {
		return DefaultUpstreamTimeout
	}
	return u.Timeout
}

func (u *Upstream) collector() metrics.MetricsCollector {
	if u == nil {
		return metrics.NopCollector{}
	}
	return metrics.OrNop(u.Metrics)
}

func (u *Upstream) logger() *slog.Logger {
	if u == nil || u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}

// Read は冪等な読み取りを実行する。各試行にタイムアウトを設定し、
// 一時的なエラーの場合は呼び出し元のコンテキストが有効な限り1回だけ再試行する。
func Read[T any](ctx context.Context, u *Upstream, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() { u.collector().RecordQueryLatency(op, time.Since(start)) }()

	v, err := attempt(ctx, u, fn)
	if err != nil && repository.IsTransient(err) && ctx.Err() == nil {
		u.collector().RecordUpstreamRetry(op)
		u.logger().Warn("retrying read after transient failure",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		v, err = attempt(ctx, u, fn)
	}
	if err != nil {
		var zero T
		return zero, u.translate(ctx, op, err)
	}
	return v, nil
}

// Write は書き込みを1回だけ実行する。重複作成を避けるため再試行しない。
func Write[T any](ctx context.Context, u *Upstream, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() { u.collector().RecordQueryLatency(op, time.Since(start)) }()

	v, err := attempt(ctx, u, fn)
	if err != nil {
		var zero T
		return zero, u.translate(ctx, op, err)
	}
	return v, nil
}

func attempt[T any](ctx context.Context, u *Upstream, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, u.timeout())
	defer cancel()
	return fn(callCtx)
}

// translate は一時的なエラーをUPSTREAM_UNAVAILABLEに、usersへの外部キー違反をPROFILE_REQUIREDに変換する。
// リポジトリの番兵エラーとAPIErrorは呼び出し元で判定できるようそのまま返す。
func (u *Upstream) translate(ctx context.Context, op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	if repository.IsMissingUser(err) {
		u.logger().Warn("write referenced a user without a profile row",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return model.NewProfileRequiredError()
	}
	if repository.IsTransient(err) {
		u.logger().Error("upstream unavailable",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamUnavailableError()
	}
	return fmt.Errorf("%s: %w", op, err)
}
