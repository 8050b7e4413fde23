// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, access, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeAccessDenied          = "ACCESS_DENIED"
	ErrCodeNotAccessible         = "NOT_ACCESSIBLE"
	ErrCodeConnectionNotFound    = "CONNECTION_NOT_FOUND"
	ErrCodeRequestNotFound       = "REQUEST_NOT_FOUND"
	ErrCodeSessionNotFound       = "SESSION_NOT_FOUND"
	ErrCodeGroupSessionNotFound  = "GROUP_SESSION_NOT_FOUND"
	ErrCodeNotificationNotFound  = "NOTIFICATION_NOT_FOUND"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeInvalidState          = "INVALID_STATE"
	ErrCodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeGroupSessionFull      = "GROUP_SESSION_FULL"
	ErrCodeDuplicateRequest      = "DUPLICATE_REQUEST"
	ErrCodeProfileRequired       = "PROFILE_REQUIRED"
)

// HasCode はerrがAPIErrorであり、指定コードを持つかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewAccessDeniedError は認証済みだが対象リソースの当事者でない場合のエラーを生成する。
// resourceはログ・デバッグ用の識別子で、外部応答ではNewNotAccessibleErrorに置き換えられる。
func NewAccessDeniedError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeAccessDenied,
		Message:  fmt.Sprintf("このリソースへのアクセス権がありません: %s", resource),
		Category: "access",
		Action:   "アクセス権を持つアカウントでログインしてください。",
	}
}

// NewNotAccessibleError は存在の有無を漏らさない汎用のアクセス不可エラーを生成する。
func NewNotAccessibleError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAccessible,
		Message:  "指定されたリソースにはアクセスできません。",
		Category: "access",
		Action:   "URLを確認するか、一覧から選択し直してください。",
	}
}

// NewConnectionNotFoundError はつながりが見つからない場合のエラーを生成する。
func NewConnectionNotFoundError(connectionID string) *APIError {
	return &APIError{
		Code:     ErrCodeConnectionNotFound,
		Message:  fmt.Sprintf("指定されたつながりが見つかりません: %s", connectionID),
		Category: "access",
		Action:   "つながり一覧から選択し直してください。",
	}
}

// NewRequestNotFoundError はつながりリクエストが見つからない場合のエラーを生成する。
func NewRequestNotFoundError(requestID string) *APIError {
	return &APIError{
		Code:     ErrCodeRequestNotFound,
		Message:  fmt.Sprintf("指定されたリクエストが見つかりません: %s", requestID),
		Category: "access",
		Action:   "リクエスト一覧を再読み込みしてください。",
	}
}

// NewSessionNotFoundError はセッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "access",
		Action:   "セッション一覧から選択し直してください。",
	}
}

// NewGroupSessionNotFoundError はグループセッションが見つからない場合のエラーを生成する。
func NewGroupSessionNotFoundError(groupSessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeGroupSessionNotFound,
		Message:  fmt.Sprintf("指定されたグループセッションが見つかりません: %s", groupSessionID),
		Category: "access",
		Action:   "グループセッション一覧から選択し直してください。",
	}
}

// NewNotificationNotFoundError は通知が見つからない場合のエラーを生成する。
func NewNotificationNotFoundError(notificationID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", notificationID),
		Category: "access",
		Action:   "通知一覧を再読み込みしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidInputError は入力値不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidStateError は現在の状態では実行できない操作のエラーを生成する。
func NewInvalidStateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("現在の状態では実行できません: %s", reason),
		Category: "validation",
		Action:   "画面を再読み込みして最新の状態を確認してください。",
	}
}

// NewUpstreamUnavailableError はバックエンドの一時的な障害を表すエラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "サーバーが一時的に応答できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProfileRequiredError は操作したユーザーのプロフィールがまだ作成されていないことを表すエラーを生成する。
func NewProfileRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileRequired,
		Message:  "プロフィールが作成されていません。",
		Category: "auth",
		Action:   "一度ログアウトして、再度ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン情報の誤りを表すエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewGroupSessionFullError はグループセッションの定員超過エラーを生成する。
func NewGroupSessionFullError() *APIError {
	return &APIError{
		Code:     ErrCodeGroupSessionFull,
		Message:  "グループセッションは定員に達しています。",
		Category: "validation",
		Action:   "別のグループセッションを選択してください。",
	}
}

// NewDuplicateRequestError は既に承認待ちまたは承認済みのつながりがある場合のエラーを生成する。
func NewDuplicateRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateRequest,
		Message:  "このユーザーとは既につながっているか、リクエストが承認待ちです。",
		Category: "validation",
		Action:   "つながり一覧またはリクエスト一覧を確認してください。",
	}
}
