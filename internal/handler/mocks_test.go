package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/profile"
	"github.com/hitoshi/skillswap/internal/scheduling"
	"github.com/hitoshi/skillswap/internal/session"
)

const (
	userA = "11111111-1111-4111-8111-111111111111"
	userB = "22222222-2222-4222-8222-222222222222"
)

var identA = model.Identity{UserID: userA, FullName: "田中 一郎", Email: "ichiro@example.com"}

// withIdentity はゲートを通過したリクエストと同じ状態を作る。
func withIdentity(r *http.Request, id model.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), id))
}

const (
	testAuthCookie    = "skillswap-auth-token"
	testRefreshCookie = "skillswap-refresh-token"
)

func newTestPolicy() *session.Policy {
	return session.NewPolicy(session.PolicyConfig{
		AuthCookieName:    testAuthCookie,
		RefreshCookieName: testRefreshCookie,
		MaxAge:            3600,
	})
}

// withJar はゲートを通さずにCookie変更のジャーだけを取り付ける。
func withJar(next http.Handler) http.Handler {
	p := session.NewPropagator(newTestPolicy(), nil, nil, nil)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw, cr := p.Begin(w, r, nil)
		next.ServeHTTP(cw, cr)
		session.Commit(cw)
	})
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- モック定義 ---

type mockAuthService struct {
	signInFn  func(ctx context.Context, email, password string) (*model.Credential, model.Identity, error)
	signUpFn  func(ctx context.Context, email, password, fullName string) (*model.Credential, model.Identity, error)
	signOutFn func(ctx context.Context, cred *model.Credential)
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*model.Credential, model.Identity, error) {
	return m.signInFn(ctx, email, password)
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password, fullName string) (*model.Credential, model.Identity, error) {
	return m.signUpFn(ctx, email, password, fullName)
}

func (m *mockAuthService) SignOut(ctx context.Context, cred *model.Credential) {
	if m.signOutFn != nil {
		m.signOutFn(ctx, cred)
	}
}

type mockConnectionService struct {
	listConnectionsFn  func(ctx context.Context, id model.Identity) ([]model.Connection, error)
	listIncomingFn     func(ctx context.Context, id model.Identity) ([]model.IncomingRequest, error)
	requestFn          func(ctx context.Context, id model.Identity, receiverID string) (*model.ConnectionRequest, error)
	respondFn          func(ctx context.Context, id model.Identity, requestID string, accept bool) (*model.ConnectionRequest, error)
	listMessagesFn     func(ctx context.Context, id model.Identity, connectionID string, page model.PageRequest) (*model.Page[*model.Message], error)
	sendMessageFn      func(ctx context.Context, id model.Identity, connectionID, content string) (*model.Message, error)
	markMessagesReadFn func(ctx context.Context, id model.Identity, connectionID string) (int64, error)
}

func (m *mockConnectionService) ListConnections(ctx context.Context, id model.Identity) ([]model.Connection, error) {
	if m.listConnectionsFn != nil {
		return m.listConnectionsFn(ctx, id)
	}
	return []model.Connection{}, nil
}

func (m *mockConnectionService) ListIncomingRequests(ctx context.Context, id model.Identity) ([]model.IncomingRequest, error) {
	if m.listIncomingFn != nil {
		return m.listIncomingFn(ctx, id)
	}
	return []model.IncomingRequest{}, nil
}

func (m *mockConnectionService) RequestConnection(ctx context.Context, id model.Identity, receiverID string) (*model.ConnectionRequest, error) {
	return m.requestFn(ctx, id, receiverID)
}

func (m *mockConnectionService) RespondToRequest(ctx context.Context, id model.Identity, requestID string, accept bool) (*model.ConnectionRequest, error) {
	return m.respondFn(ctx, id, requestID, accept)
}

func (m *mockConnectionService) ListMessages(ctx context.Context, id model.Identity, connectionID string, page model.PageRequest) (*model.Page[*model.Message], error) {
	return m.listMessagesFn(ctx, id, connectionID, page)
}

func (m *mockConnectionService) SendMessage(ctx context.Context, id model.Identity, connectionID, content string) (*model.Message, error) {
	return m.sendMessageFn(ctx, id, connectionID, content)
}

func (m *mockConnectionService) MarkMessagesRead(ctx context.Context, id model.Identity, connectionID string) (int64, error) {
	return m.markMessagesReadFn(ctx, id, connectionID)
}

type mockNotificationService struct {
	listFn        func(ctx context.Context, id model.Identity, page model.PageRequest) (*model.Page[*model.Notification], error)
	unreadFn      func(ctx context.Context, id model.Identity) (int, error)
	markReadFn    func(ctx context.Context, id model.Identity, notificationID string) error
	markAllReadFn func(ctx context.Context, id model.Identity) (int64, error)
}

func (m *mockNotificationService) ListNotifications(ctx context.Context, id model.Identity, page model.PageRequest) (*model.Page[*model.Notification], error) {
	if m.listFn != nil {
		return m.listFn(ctx, id, page)
	}
	return &model.Page[*model.Notification]{Items: []*model.Notification{}}, nil
}

func (m *mockNotificationService) UnreadNotificationCount(ctx context.Context, id model.Identity) (int, error) {
	if m.unreadFn != nil {
		return m.unreadFn(ctx, id)
	}
	return 0, nil
}

func (m *mockNotificationService) MarkNotificationRead(ctx context.Context, id model.Identity, notificationID string) error {
	return m.markReadFn(ctx, id, notificationID)
}

func (m *mockNotificationService) MarkAllNotificationsRead(ctx context.Context, id model.Identity) (int64, error) {
	return m.markAllReadFn(ctx, id)
}

type mockSessionLister struct {
	listSessionsFn func(ctx context.Context, id model.Identity) ([]*model.Session, error)
	listGroupsFn   func(ctx context.Context, id model.Identity) ([]*model.GroupSession, error)
}

func (m *mockSessionLister) ListSessions(ctx context.Context, id model.Identity) ([]*model.Session, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx, id)
	}
	return []*model.Session{}, nil
}

func (m *mockSessionLister) ListGroupSessions(ctx context.Context, id model.Identity) ([]*model.GroupSession, error) {
	if m.listGroupsFn != nil {
		return m.listGroupsFn(ctx, id)
	}
	return []*model.GroupSession{}, nil
}

type mockScheduler struct {
	scheduleFn    func(ctx context.Context, id model.Identity, in scheduling.ScheduleInput) (*model.Session, error)
	cancelFn      func(ctx context.Context, id model.Identity, sessionID string) (*model.Session, error)
	createGroupFn func(ctx context.Context, id model.Identity, in scheduling.GroupSessionInput) (*model.GroupSession, error)
	joinGroupFn   func(ctx context.Context, id model.Identity, groupSessionID string) (*model.GroupSession, error)
}

func (m *mockScheduler) ScheduleSession(ctx context.Context, id model.Identity, in scheduling.ScheduleInput) (*model.Session, error) {
	return m.scheduleFn(ctx, id, in)
}

func (m *mockScheduler) CancelSession(ctx context.Context, id model.Identity, sessionID string) (*model.Session, error) {
	return m.cancelFn(ctx, id, sessionID)
}

func (m *mockScheduler) CreateGroupSession(ctx context.Context, id model.Identity, in scheduling.GroupSessionInput) (*model.GroupSession, error) {
	return m.createGroupFn(ctx, id, in)
}

func (m *mockScheduler) JoinGroupSession(ctx context.Context, id model.Identity, groupSessionID string) (*model.GroupSession, error) {
	return m.joinGroupFn(ctx, id, groupSessionID)
}

type mockProfileService struct {
	getFn    func(ctx context.Context, id model.Identity) (*model.User, error)
	updateFn func(ctx context.Context, id model.Identity, in profile.UpdateInput) (*model.User, error)
}

func (m *mockProfileService) Get(ctx context.Context, id model.Identity) (*model.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &model.User{ID: id.UserID, Email: id.Email, FullName: id.FullName}, nil
}

func (m *mockProfileService) Update(ctx context.Context, id model.Identity, in profile.UpdateInput) (*model.User, error) {
	return m.updateFn(ctx, id, in)
}
