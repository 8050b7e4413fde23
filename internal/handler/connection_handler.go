package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/model"
)

// ConnectionServiceInterface はつながり・メッセージのハンドラーが必要とするサービスインターフェース。
// access.Serviceが実装する。
type ConnectionServiceInterface interface {
	ListConnections(ctx context.Context, id model.Identity) ([]model.Connection, error)
	ListIncomingRequests(ctx context.Context, id model.Identity) ([]model.IncomingRequest, error)
	RequestConnection(ctx context.Context, id model.Identity, receiverID string) (*model.ConnectionRequest, error)
	RespondToRequest(ctx context.Context, id model.Identity, requestID string, accept bool) (*model.ConnectionRequest, error)
	ListMessages(ctx context.Context, id model.Identity, connectionID string, page model.PageRequest) (*model.Page[*model.Message], error)
	SendMessage(ctx context.Context, id model.Identity, connectionID, content string) (*model.Message, error)
	MarkMessagesRead(ctx context.Context, id model.Identity, connectionID string) (int64, error)
}

// ConnectionHandler はつながりとメッセージのHTTPハンドラー。
type ConnectionHandler struct {
	service ConnectionServiceInterface
}

// NewConnectionHandler はConnectionHandlerを生成する。
func NewConnectionHandler(service ConnectionServiceInterface) *ConnectionHandler {
	return &ConnectionHandler{service: service}
}

type requestConnectionRequest struct {
	ReceiverID string `json:"receiver_id"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

// ListConnections は承認済みのつながり一覧を返す。
// GET /api/connections
func (h *ConnectionHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.service.ListConnections(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	res := make([]connectionResponse, len(conns))
	for i, c := range conns {
		res[i] = connectionResponse{ID: c.ConnectionID, User: toUserSummaryResponse(c.Other), Since: c.Since}
	}
	writeJSON(w, http.StatusOK, res)
}

// ListIncomingRequests は受信した承認待ちリクエストを返す。
// GET /api/connections/requests
func (h *ConnectionHandler) ListIncomingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListIncomingRequests(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	res := make([]incomingRequestResponse, len(reqs))
	for i, req := range reqs {
		res[i] = incomingRequestResponse{ID: req.ID, Sender: toUserSummaryResponse(req.Sender), CreatedAt: req.CreatedAt}
	}
	writeJSON(w, http.StatusOK, res)
}

// RequestConnection はつながりリクエストを送る。
// POST /api/connections/requests
func (h *ConnectionHandler) RequestConnection(w http.ResponseWriter, r *http.Request) {
	var req requestConnectionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	created, err := h.service.RequestConnection(r.Context(), middleware.IdentityFromContext(r.Context()), req.ReceiverID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConnectionRequestResponse(created))
}

// AcceptRequest は受信したリクエストを承認する。
// POST /api/connections/requests/{id}/accept
func (h *ConnectionHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, true)
}

// RejectRequest は受信したリクエストを拒否する。
// POST /api/connections/requests/{id}/reject
func (h *ConnectionHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, false)
}

func (h *ConnectionHandler) respond(w http.ResponseWriter, r *http.Request, accept bool) {
	updated, err := h.service.RespondToRequest(r.Context(), middleware.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), accept)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionRequestResponse(updated))
}

// ListMessages はつながり上のメッセージを新しい順に返す。
// GET /api/connections/{id}/messages?cursor=...&limit=...
func (h *ConnectionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequestFromQuery(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	msgs, err := h.service.ListMessages(r.Context(), middleware.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), page)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(msgs, toMessageResponse))
}

// SendMessage はつながり上にメッセージを送信する。
// POST /api/connections/{id}/messages
func (h *ConnectionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	msg, err := h.service.SendMessage(r.Context(), middleware.IdentityFromContext(r.Context()),
		chi.URLParam(r, "id"), req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// MarkMessagesRead は相手から受け取ったメッセージを既読にする。
// POST /api/connections/{id}/messages/read
func (h *ConnectionHandler) MarkMessagesRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkMessagesRead(r.Context(), middleware.IdentityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}
