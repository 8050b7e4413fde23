package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/skillswap/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの本文。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

var internalError = model.APIError{
	Code:     "INTERNAL_ERROR",
	Message:  "内部エラーが発生しました。",
	Category: "system",
	Action:   "しばらく待ってから再度お試しください。",
}

// WriteErrorResponse はAPIErrorをJSONで書き込む。apiErrがnilの場合は内部エラーとして扱う。
// エラーレスポンスはキャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		apiErr = &internalError
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}); err != nil {
		slog.Warn("failed to encode error response", slog.String("error", err.Error()))
	}
}

// WriteInternalServerError は内部エラーを書き込む。詳細はログにのみ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, nil)
}

// WriteError はサービス層のエラーを書き込む。
// 共有リソースの権限なしと不存在は区別せず404 NOT_ACCESSIBLEにする。
// APIError以外は500として扱う。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		if err != nil {
			slog.Error("internal server error", slog.String("error", err.Error()))
		}
		WriteInternalServerError(w)
		return
	}
	if masksAsNotAccessible(apiErr.Code) {
		WriteErrorResponse(w, http.StatusNotFound, model.NewNotAccessibleError())
		return
	}
	WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
}

func masksAsNotAccessible(code string) bool {
	switch code {
	case model.ErrCodeAccessDenied,
		model.ErrCodeConnectionNotFound,
		model.ErrCodeRequestNotFound,
		model.ErrCodeSessionNotFound,
		model.ErrCodeGroupSessionNotFound,
		model.ErrCodeNotificationNotFound:
		return true
	default:
		return false
	}
}

// StatusForAPIError はAPIErrorのコードに対応するHTTPステータスを返す。
func StatusForAPIError(apiErr *model.APIError) int {
	if apiErr == nil {
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeAccessDenied:
		return http.StatusForbidden
	case model.ErrCodeNotAccessible, model.ErrCodeUserNotFound,
		model.ErrCodeConnectionNotFound, model.ErrCodeRequestNotFound,
		model.ErrCodeSessionNotFound, model.ErrCodeGroupSessionNotFound,
		model.ErrCodeNotificationNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case model.ErrCodeInvalidState, model.ErrCodeDuplicateRequest, model.ErrCodeGroupSessionFull,
		model.ErrCodeProfileRequired:
		return http.StatusConflict
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
