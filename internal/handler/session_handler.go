package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/scheduling"
)

// SessionListerInterface はセッション一覧の取得に必要なインターフェース。access.Serviceが実装する。
type SessionListerInterface interface {
	ListSessions(ctx context.Context, id model.Identity) ([]*model.Session, error)
	ListGroupSessions(ctx context.Context, id model.Identity) ([]*model.GroupSession, error)
}

// SchedulingServiceInterface はセッション予定の変更に必要なインターフェース。scheduling.Serviceが実装する。
type SchedulingServiceInterface interface {
	ScheduleSession(ctx context.Context, id model.Identity, in scheduling.ScheduleInput) (*model.Session, error)
	CancelSession(ctx context.Context, id model.Identity, sessionID string) (*model.Session, error)
	CreateGroupSession(ctx context.Context, id model.Identity, in scheduling.GroupSessionInput) (*model.GroupSession, error)
	JoinGroupSession(ctx context.Context, id model.Identity, groupSessionID string) (*model.GroupSession, error)
}

// SessionHandler はセッションとグループセッションのHTTPハンドラー。
type SessionHandler struct {
	lister    SessionListerInterface
	scheduler SchedulingServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(lister SessionListerInterface, scheduler SchedulingServiceInterface) *SessionHandler {
	return &SessionHandler{lister: lister, scheduler: scheduler}
}

type scheduleSessionRequest struct {
	ParticipantID   string    `json:"participant_id"`
	Title           string    `json:"title"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

type createGroupSessionRequest struct {
	Title           string    `json:"title"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	MaxParticipants int       `json:"max_participants"`
}

// ListSessions は自分が主催者または参加者のセッションを返す。
// GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.lister.ListSessions(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	res := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		res[i] = toSessionResponse(s)
	}
	writeJSON(w, http.StatusOK, res)
}

// ScheduleSession はつながりのある相手とのセッションを予定する。
// POST /api/sessions
func (h *SessionHandler) ScheduleSession(w http.ResponseWriter, r *http.Request) {
	var req scheduleSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	created, err := h.scheduler.ScheduleSession(r.Context(), middleware.IdentityFromContext(r.Context()), scheduling.ScheduleInput{
		ParticipantID:   req.ParticipantID,
		Title:           req.Title,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(created))
}

// CancelSession は開始前のセッションをキャンセルする。
// POST /api/sessions/{id}/cancel
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.scheduler.CancelSession(r.Context(), middleware.IdentityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(cancelled))
}

// ListGroupSessions は自分が作成または参加しているグループセッションを返す。
// GET /api/group-sessions
func (h *SessionHandler) ListGroupSessions(w http.ResponseWriter, r *http.Request) {
	groups, err := h.lister.ListGroupSessions(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	res := make([]groupSessionResponse, len(groups))
	for i, g := range groups {
		res[i] = toGroupSessionResponse(g)
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateGroupSession はグループセッションを作成する。
// POST /api/group-sessions
func (h *SessionHandler) CreateGroupSession(w http.ResponseWriter, r *http.Request) {
	var req createGroupSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	created, err := h.scheduler.CreateGroupSession(r.Context(), middleware.IdentityFromContext(r.Context()), scheduling.GroupSessionInput{
		Title:           req.Title,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupSessionResponse(created))
}

// JoinGroupSession はグループセッションに参加する。
// POST /api/group-sessions/{id}/join
func (h *SessionHandler) JoinGroupSession(w http.ResponseWriter, r *http.Request) {
	joined, err := h.scheduler.JoinGroupSession(r.Context(), middleware.IdentityFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupSessionResponse(joined))
}
