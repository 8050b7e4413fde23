// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/skillswap/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// identityContextKey はゲートが解決したIdentityを格納するキー。
	identityContextKey = contextKey("identity")
	// requestLogContextKey はアクセスログ用の可変領域を格納するキー。
	requestLogContextKey = contextKey("request_log")
)

// requestLog はロギングミドルウェアより内側で判明した値を外側へ渡す。
type requestLog struct {
	userID string
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// ロギングミドルウェアの内側で呼ばれた場合はアクセスログにもuser_idを残す。
func ContextWithIdentity(ctx context.Context, id model.Identity) context.Context {
	if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		rl.userID = id.UserID
	}
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext はリクエストコンテキストからIdentityを取得する。
// ゲートを通過していないリクエストではAnonymousを返す。
func IdentityFromContext(ctx context.Context) model.Identity {
	id, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok {
		return model.Anonymous
	}
	return id
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	id := IdentityFromContext(ctx)
	if id.IsAnonymous() {
		return "", fmt.Errorf("user ID not found in context")
	}
	return id.UserID, nil
}
