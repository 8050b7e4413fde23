package access

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/notification"
	"github.com/hitoshi/skillswap/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.User{ID: id}, nil
}
func (m *mockUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	return user, nil
}
func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) FindSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	return nil, nil
}

type mockConnectionRepo struct {
	findByIDFn            func(ctx context.Context, id string) (*model.ConnectionRequest, error)
	findActiveBetweenFn   func(ctx context.Context, a, b string) (*model.ConnectionRequest, error)
	createFn              func(ctx context.Context, req *model.ConnectionRequest) error
	respondFn             func(ctx context.Context, id, receiverID string, to model.RequestStatus) (*model.ConnectionRequest, error)
	listAcceptedFn        func(ctx context.Context, userID string) ([]repository.ConnectionRow, error)
	listIncomingPendingFn func(ctx context.Context, receiverID string) ([]repository.IncomingRow, error)
}

func (m *mockConnectionRepo) FindByID(ctx context.Context, id string) (*model.ConnectionRequest, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockConnectionRepo) FindActiveBetween(ctx context.Context, a, b string) (*model.ConnectionRequest, error) {
	if m.findActiveBetweenFn != nil {
		return m.findActiveBetweenFn(ctx, a, b)
	}
	return nil, nil
}
func (m *mockConnectionRepo) Create(ctx context.Context, req *model.ConnectionRequest) error {
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return nil
}
func (m *mockConnectionRepo) Respond(ctx context.Context, id, receiverID string, to model.RequestStatus) (*model.ConnectionRequest, error) {
	return m.respondFn(ctx, id, receiverID, to)
}
func (m *mockConnectionRepo) ListAccepted(ctx context.Context, userID string) ([]repository.ConnectionRow, error) {
	return m.listAcceptedFn(ctx, userID)
}
func (m *mockConnectionRepo) ListIncomingPending(ctx context.Context, receiverID string) ([]repository.IncomingRow, error) {
	return m.listIncomingPendingFn(ctx, receiverID)
}

type mockMessageRepo struct {
	listByConnectionFn func(ctx context.Context, connectionID string, after *repository.Keyset, limit int) ([]*model.Message, error)
	createFn           func(ctx context.Context, msg *model.Message) error
	markReadFn         func(ctx context.Context, connectionID, readerID string) (int64, error)
}

func (m *mockMessageRepo) ListByConnection(ctx context.Context, connectionID string, after *repository.Keyset, limit int) ([]*model.Message, error) {
	return m.listByConnectionFn(ctx, connectionID, after, limit)
}
func (m *mockMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	if m.createFn != nil {
		return m.createFn(ctx, msg)
	}
	msg.SentAt = time.Now()
	return nil
}
func (m *mockMessageRepo) MarkRead(ctx context.Context, connectionID, readerID string) (int64, error) {
	return m.markReadFn(ctx, connectionID, readerID)
}

type mockSessionRepo struct {
	listForUserFn func(ctx context.Context, userID string) ([]*model.Session, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, s *model.Session) error { return nil }
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) ListForUser(ctx context.Context, userID string) ([]*model.Session, error) {
	return m.listForUserFn(ctx, userID)
}
func (m *mockSessionRepo) UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	return false, nil
}
func (m *mockSessionRepo) AdvanceStatuses(ctx context.Context, now time.Time) (repository.StatusAdvance, error) {
	return repository.StatusAdvance{}, nil
}

type mockGroupSessionRepo struct {
	listForUserFn func(ctx context.Context, userID string) ([]*model.GroupSession, error)
}

func (m *mockGroupSessionRepo) Create(ctx context.Context, gs *model.GroupSession) error { return nil }
func (m *mockGroupSessionRepo) FindByID(ctx context.Context, id string) (*model.GroupSession, error) {
	return nil, nil
}
func (m *mockGroupSessionRepo) ListForUser(ctx context.Context, userID string) ([]*model.GroupSession, error) {
	return m.listForUserFn(ctx, userID)
}
func (m *mockGroupSessionRepo) Join(ctx context.Context, groupSessionID, userID string) error {
	return nil
}
func (m *mockGroupSessionRepo) AdvanceStatuses(ctx context.Context, now time.Time) (repository.StatusAdvance, error) {
	return repository.StatusAdvance{}, nil
}

type mockNotificationRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.Notification, error)
	listByUserFn  func(ctx context.Context, userID string, after *repository.Keyset, limit int) ([]*model.Notification, error)
	countUnreadFn func(ctx context.Context, userID string) (int, error)
	markReadFn    func(ctx context.Context, id, userID string) (bool, error)
	markAllReadFn func(ctx context.Context, userID string) (int64, error)
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *model.Notification) error { return nil }
func (m *mockNotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string, after *repository.Keyset, limit int) ([]*model.Notification, error) {
	return m.listByUserFn(ctx, userID, after, limit)
}
func (m *mockNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	return m.countUnreadFn(ctx, userID)
}
func (m *mockNotificationRepo) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	return m.markReadFn(ctx, id, userID)
}
func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return m.markAllReadFn(ctx, userID)
}
func (m *mockNotificationRepo) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	emitFn func(ctx context.Context, in notification.Input) (*model.Notification, error)
	inputs []notification.Input
}

func (m *mockNotifier) Emit(ctx context.Context, in notification.Input) (*model.Notification, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.emitFn != nil {
		return m.emitFn(ctx, in)
	}
	return &model.Notification{UserID: in.Addressee, Type: in.Type}, nil
}

// memConnections はつながりリクエストを保持するインメモリ実装。状態遷移のシナリオに使う。
type memConnections struct {
	mu    sync.Mutex
	reqs  []*model.ConnectionRequest
	users map[string]model.UserSummary
}

func (m *memConnections) FindByID(ctx context.Context, id string) (*model.ConnectionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memConnections) FindActiveBetween(ctx context.Context, a, b string) (*model.ConnectionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		if r.Status == model.RequestStatusRejected {
			continue
		}
		if (r.SenderID == a && r.ReceiverID == b) || (r.SenderID == b && r.ReceiverID == a) {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memConnections) Create(ctx context.Context, req *model.ConnectionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	c := *req
	m.reqs = append(m.reqs, &c)
	return nil
}

func (m *memConnections) Respond(ctx context.Context, id, receiverID string, to model.RequestStatus) (*model.ConnectionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		if r.ID == id && r.ReceiverID == receiverID && r.Status == model.RequestStatusPending {
			r.Status = to
			r.UpdatedAt = time.Now()
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memConnections) ListAccepted(ctx context.Context, userID string) ([]repository.ConnectionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []repository.ConnectionRow
	for _, r := range m.reqs {
		if r.Status != model.RequestStatusAccepted || !r.IsParticipant(userID) {
			continue
		}
		rows = append(rows, repository.ConnectionRow{
			ConnectionID: r.ID,
			Since:        r.UpdatedAt,
			Other:        m.users[r.OtherParty(userID)],
		})
	}
	return rows, nil
}

func (m *memConnections) ListIncomingPending(ctx context.Context, receiverID string) ([]repository.IncomingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []repository.IncomingRow
	for _, r := range m.reqs {
		if r.Status == model.RequestStatusPending && r.ReceiverID == receiverID {
			rows = append(rows, repository.IncomingRow{RequestID: r.ID, CreatedAt: r.CreatedAt, Sender: m.users[r.SenderID]})
		}
	}
	return rows, nil
}

var _ repository.ConnectionRepository = (*memConnections)(nil)
