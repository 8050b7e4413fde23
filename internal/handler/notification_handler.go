package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/model"
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	ListNotifications(ctx context.Context, id model.Identity, page model.PageRequest) (*model.Page[*model.Notification], error)
	UnreadNotificationCount(ctx context.Context, id model.Identity) (int, error)
	MarkNotificationRead(ctx context.Context, id model.Identity, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, id model.Identity) (int64, error)
}

// NotificationHandler は通知のHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

type notificationListResponse struct {
	pageResponse[notificationResponse]
	UnreadCount int `json:"unread_count"`
}

// ListNotifications は自分宛ての通知を新しい順に返す。未読件数も含める。
// GET /api/notifications?cursor=...&limit=...
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequestFromQuery(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	id := middleware.IdentityFromContext(r.Context())

	list, err := h.service.ListNotifications(r.Context(), id, page)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	unread, err := h.service.UnreadNotificationCount(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, notificationListResponse{
		pageResponse: toPageResponse(list, toNotificationResponse),
		UnreadCount:  unread,
	})
}

// MarkRead は通知を既読にする。宛先ユーザーのみが実行できる。
// POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkNotificationRead(r.Context(), middleware.IdentityFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead は自分宛ての通知をすべて既読にする。
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkAllNotificationsRead(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}
