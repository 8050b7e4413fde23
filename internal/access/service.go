// Package access は認証済みIdentityに対して、閲覧・操作が許可された行だけを扱うクエリ層を提供する。
//
// 呼び出し元が任意のユーザーIDで絞り込むことはできない。すべての操作は解決済みのIdentityを受け取り、
// 所有者・当事者の判定はこのパッケージの中だけで行う。判定結果はAPIErrorで返し、
// ハンドラーやゲートキーパーは結果に反応するだけで独自に判定し直さない。
// 認可の判定はキャッシュせず、毎回現在の状態を問い合わせる。
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/notification"
	"github.com/hitoshi/skillswap/internal/repository"
	"github.com/hitoshi/skillswap/internal/security"
)

// MaxMessageLength はメッセージ本文の最大文字数。
const MaxMessageLength = 2000

// Notifier は通知の作成インターフェース。notification.Emitterが実装する。
type Notifier interface {
	Emit(ctx context.Context, in notification.Input) (*model.Notification, error)
}

// Repositories はServiceが参照するリポジトリの組。
type Repositories struct {
	Users         repository.UserRepository
	Connections   repository.ConnectionRepository
	Messages      repository.MessageRepository
	Sessions      repository.SessionRepository
	GroupSessions repository.GroupSessionRepository
	Notifications repository.NotificationRepository
}

// Service はアクセス範囲を限定したクエリ層。
type Service struct {
	repos     Repositories
	notifier  Notifier
	sanitizer security.ContentSanitizerService
	upstream  *Upstream
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceを生成する。notifierがnilの場合は通知を作成しない。
func NewService(repos Repositories, notifier Notifier, sanitizer security.ContentSanitizerService, upstream *Upstream) *Service {
	if upstream == nil {
		upstream = &Upstream{}
	}
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	return &Service{
		repos:     repos,
		notifier:  notifier,
		sanitizer: sanitizer,
		upstream:  upstream,
		metrics:   upstream.collector(),
		logger:    upstream.logger(),
	}
}

// --- つながり ---

// ListConnections は承認済みのつながりの相手を返す。
// 同じ相手を指す承認済みリクエストが複数あっても相手は1回だけ含める。匿名の場合は空を返す。
func (s *Service) ListConnections(ctx context.Context, id model.Identity) ([]model.Connection, error) {
	if id.IsAnonymous() {
		return []model.Connection{}, nil
	}

	rows, err := Read(ctx, s.upstream, "list_connections", func(ctx context.Context) ([]repository.ConnectionRow, error) {
		return s.repos.Connections.ListAccepted(ctx, id.UserID)
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rows))
	result := make([]model.Connection, 0, len(rows))
	for _, row := range rows {
		if row.Other.ID == "" || row.Other.ID == id.UserID {
			continue
		}
		if _, dup := seen[row.Other.ID]; dup {
			continue
		}
		seen[row.Other.ID] = struct{}{}
		result = append(result, model.Connection{
			ConnectionID: row.ConnectionID,
			Other:        row.Other,
			Since:        row.Since,
		})
	}
	return result, nil
}

// ListIncomingRequests は自分宛ての承認待ちリクエストを返す。匿名の場合は空を返す。
func (s *Service) ListIncomingRequests(ctx context.Context, id model.Identity) ([]model.IncomingRequest, error) {
	if id.IsAnonymous() {
		return []model.IncomingRequest{}, nil
	}

	rows, err := Read(ctx, s.upstream, "list_incoming_requests", func(ctx context.Context) ([]repository.IncomingRow, error) {
		return s.repos.Connections.ListIncomingPending(ctx, id.UserID)
	})
	if err != nil {
		return nil, err
	}

	result := make([]model.IncomingRequest, 0, len(rows))
	for _, row := range rows {
		result = append(result, model.IncomingRequest{
			ID:        row.RequestID,
			Sender:    row.Sender,
			CreatedAt: row.CreatedAt,
		})
	}
	return result, nil
}

// RequestConnection は相手へのつながりリクエストを作成し、相手に通知する。
func (s *Service) RequestConnection(ctx context.Context, id model.Identity, receiverID string) (*model.ConnectionRequest, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	receiverID = strings.TrimSpace(receiverID)
	if err := RequireUUID(receiverID, "receiver_id"); err != nil {
		return nil, err
	}
	if receiverID == id.UserID {
		return nil, model.NewInvalidInputError("自分自身にはリクエストを送信できません")
	}

	receiver, err := Read(ctx, s.upstream, "find_user", func(ctx context.Context) (*model.User, error) {
		return s.repos.Users.FindByID(ctx, receiverID)
	})
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		s.logNotFound("user", receiverID, id)
		return nil, model.NewInvalidInputError("宛先のユーザーが存在しません")
	}

	existing, err := Read(ctx, s.upstream, "find_active_connection", func(ctx context.Context) (*model.ConnectionRequest, error) {
		return s.repos.Connections.FindActiveBetween(ctx, id.UserID, receiverID)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewDuplicateRequestError()
	}

	req := &model.ConnectionRequest{
		ID:         uuid.NewString(),
		SenderID:   id.UserID,
		ReceiverID: receiverID,
		Status:     model.RequestStatusPending,
	}
	_, err = Write(ctx, s.upstream, "create_connection_request", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repos.Connections.Create(ctx, req)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewDuplicateRequestError()
	}
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.Input{
		Addressee:   receiverID,
		Type:        model.NotificationConnectionRequest,
		ReferenceID: req.ID,
		Args:        map[string]string{"name": DisplayName(id)},
		Payload:     map[string]string{"request_id": req.ID, "sender_id": id.UserID},
	})
	return req, nil
}

// RespondToRequest は受信者として承認待ちリクエストを承認または拒否する。
// 状態遷移は1回の条件付きUPDATEで行い、承認した場合は送信者に通知する。
func (s *Service) RespondToRequest(ctx context.Context, id model.Identity, requestID string, accept bool) (*model.ConnectionRequest, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	if err := RequireUUID(requestID, "request_id"); err != nil {
		return nil, err
	}

	to := model.RequestStatusRejected
	if accept {
		to = model.RequestStatusAccepted
	}

	updated, err := Write(ctx, s.upstream, "respond_connection_request", func(ctx context.Context) (*model.ConnectionRequest, error) {
		return s.repos.Connections.Respond(ctx, requestID, id.UserID, to)
	})
	if err != nil {
		return nil, err
	}

	if updated == nil {
		// 条件に一致しなかった理由を判定する
		req, err := Read(ctx, s.upstream, "find_connection_request", func(ctx context.Context) (*model.ConnectionRequest, error) {
			return s.repos.Connections.FindByID(ctx, requestID)
		})
		if err != nil {
			return nil, err
		}
		switch {
		case req == nil:
			s.logNotFound("connection_request", requestID, id)
			return nil, model.NewRequestNotFoundError(requestID)
		case req.ReceiverID != id.UserID:
			s.denied("connection_request", requestID, id)
			return nil, model.NewAccessDeniedError("connection_request")
		default:
			return nil, model.NewInvalidStateError(fmt.Sprintf("リクエストは既に%sです", statusLabel(req.Status)))
		}
	}

	if accept {
		s.notify(ctx, notification.Input{
			Addressee:   updated.SenderID,
			Type:        model.NotificationConnectionAccepted,
			ReferenceID: updated.ID,
			Args:        map[string]string{"name": DisplayName(id)},
			Payload:     map[string]string{"connection_id": updated.ID},
		})
	}
	return updated, nil
}

// --- メッセージ ---

// ListMessages はつながりのメッセージを送信日時の昇順で返す。
// 当事者でない場合は空の成功ではなくACCESS_DENIEDを返す。
func (s *Service) ListMessages(ctx context.Context, id model.Identity, connectionID string, page model.PageRequest) (*model.Page[*model.Message], error) {
	if err := RequireUUID(connectionID, "connection_id"); err != nil {
		return nil, err
	}
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	after, err := decodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	limit := normalizeLimit(page.Limit)

	if _, err := s.authorizeConnection(ctx, id, connectionID); err != nil {
		return nil, err
	}

	msgs, err := Read(ctx, s.upstream, "list_messages", func(ctx context.Context) ([]*model.Message, error) {
		return s.repos.Messages.ListByConnection(ctx, connectionID, after, limit+1)
	})
	if err != nil {
		return nil, err
	}
	return paginate(msgs, limit, func(m *model.Message) (time.Time, string) { return m.SentAt, m.ID }), nil
}

// SendMessage は承認済みつながりの当事者としてメッセージを送信し、相手に通知する。
func (s *Service) SendMessage(ctx context.Context, id model.Identity, connectionID, content string) (*model.Message, error) {
	if err := RequireUUID(connectionID, "connection_id"); err != nil {
		return nil, err
	}
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	content = s.sanitizer.Sanitize(content)
	if content == "" {
		return nil, model.NewInvalidInputError("メッセージ本文が空です")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("メッセージは%d文字以内で入力してください", MaxMessageLength))
	}

	conn, err := s.authorizeConnection(ctx, id, connectionID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:           ksuid.New().String(),
		ConnectionID: connectionID,
		SenderID:     id.UserID,
		Content:      content,
	}
	if _, err := Write(ctx, s.upstream, "create_message", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repos.Messages.Create(ctx, msg)
	}); err != nil {
		return nil, err
	}

	s.notify(ctx, notification.Input{
		Addressee:   conn.OtherParty(id.UserID),
		Type:        model.NotificationNewMessage,
		ReferenceID: connectionID,
		Args:        map[string]string{"name": DisplayName(id)},
		Payload:     map[string]string{"connection_id": connectionID, "message_id": msg.ID},
	})
	return msg, nil
}

// MarkMessagesRead は相手から届いた未読メッセージを既読にし、更新件数を返す。
func (s *Service) MarkMessagesRead(ctx context.Context, id model.Identity, connectionID string) (int64, error) {
	if err := RequireUUID(connectionID, "connection_id"); err != nil {
		return 0, err
	}
	if id.IsAnonymous() {
		return 0, model.NewUnauthenticatedError()
	}
	if _, err := s.authorizeConnection(ctx, id, connectionID); err != nil {
		return 0, err
	}
	return Write(ctx, s.upstream, "mark_messages_read", func(ctx context.Context) (int64, error) {
		return s.repos.Messages.MarkRead(ctx, connectionID, id.UserID)
	})
}

// authorizeConnection はIdentityが承認済みつながりの当事者であることを確認する。
func (s *Service) authorizeConnection(ctx context.Context, id model.Identity, connectionID string) (*model.ConnectionRequest, error) {
	conn, err := Read(ctx, s.upstream, "find_connection", func(ctx context.Context) (*model.ConnectionRequest, error) {
		return s.repos.Connections.FindByID(ctx, connectionID)
	})
	if err != nil {
		return nil, err
	}
	if conn == nil {
		s.logNotFound("connection", connectionID, id)
		return nil, model.NewConnectionNotFoundError(connectionID)
	}
	if !conn.IsParticipant(id.UserID) {
		s.denied("connection", connectionID, id)
		return nil, model.NewAccessDeniedError("connection")
	}
	if conn.Status != model.RequestStatusAccepted {
		// 承認前のリクエストはつながりとして扱わない
		s.logNotFound("connection", connectionID, id)
		return nil, model.NewConnectionNotFoundError(connectionID)
	}
	return conn, nil
}

// --- セッション ---

// ListSessions は主催者または参加者であるセッションを返す。匿名の場合は空を返す。
func (s *Service) ListSessions(ctx context.Context, id model.Identity) ([]*model.Session, error) {
	if id.IsAnonymous() {
		return []*model.Session{}, nil
	}
	list, err := Read(ctx, s.upstream, "list_sessions", func(ctx context.Context) ([]*model.Session, error) {
		return s.repos.Sessions.ListForUser(ctx, id.UserID)
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*model.Session{}
	}
	return list, nil
}

// ListGroupSessions は作成者または参加者であるグループセッションを返す。匿名の場合は空を返す。
func (s *Service) ListGroupSessions(ctx context.Context, id model.Identity) ([]*model.GroupSession, error) {
	if id.IsAnonymous() {
		return []*model.GroupSession{}, nil
	}
	list, err := Read(ctx, s.upstream, "list_group_sessions", func(ctx context.Context) ([]*model.GroupSession, error) {
		return s.repos.GroupSessions.ListForUser(ctx, id.UserID)
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*model.GroupSession{}
	}
	return list, nil
}

// --- 通知 ---

// ListNotifications は自分宛ての通知を新しい順に返す。匿名の場合は空のページを返す。
func (s *Service) ListNotifications(ctx context.Context, id model.Identity, page model.PageRequest) (*model.Page[*model.Notification], error) {
	after, err := decodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	if id.IsAnonymous() {
		return &model.Page[*model.Notification]{Items: []*model.Notification{}}, nil
	}
	limit := normalizeLimit(page.Limit)

	list, err := Read(ctx, s.upstream, "list_notifications", func(ctx context.Context) ([]*model.Notification, error) {
		return s.repos.Notifications.ListByUser(ctx, id.UserID, after, limit+1)
	})
	if err != nil {
		return nil, err
	}
	return paginate(list, limit, func(n *model.Notification) (time.Time, string) { return n.CreatedAt, n.ID }), nil
}

// UnreadNotificationCount は未読通知数を返す。匿名の場合は0を返す。
func (s *Service) UnreadNotificationCount(ctx context.Context, id model.Identity) (int, error) {
	if id.IsAnonymous() {
		return 0, nil
	}
	return Read(ctx, s.upstream, "count_unread_notifications", func(ctx context.Context) (int, error) {
		return s.repos.Notifications.CountUnread(ctx, id.UserID)
	})
}

// MarkNotificationRead は自分宛ての通知を既読にする。
func (s *Service) MarkNotificationRead(ctx context.Context, id model.Identity, notificationID string) error {
	if id.IsAnonymous() {
		return model.NewUnauthenticatedError()
	}
	if _, err := ksuid.Parse(notificationID); err != nil {
		return model.NewInvalidInputError("notification_id の形式が正しくありません")
	}

	ok, err := Write(ctx, s.upstream, "mark_notification_read", func(ctx context.Context) (bool, error) {
		return s.repos.Notifications.MarkRead(ctx, notificationID, id.UserID)
	})
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	n, err := Read(ctx, s.upstream, "find_notification", func(ctx context.Context) (*model.Notification, error) {
		return s.repos.Notifications.FindByID(ctx, notificationID)
	})
	if err != nil {
		return err
	}
	if n == nil {
		s.logNotFound("notification", notificationID, id)
		return model.NewNotificationNotFoundError(notificationID)
	}
	s.denied("notification", notificationID, id)
	return model.NewAccessDeniedError("notification")
}

// MarkAllNotificationsRead は自分宛ての未読通知をすべて既読にし、更新件数を返す。
func (s *Service) MarkAllNotificationsRead(ctx context.Context, id model.Identity) (int64, error) {
	if id.IsAnonymous() {
		return 0, model.NewUnauthenticatedError()
	}
	return Write(ctx, s.upstream, "mark_all_notifications_read", func(ctx context.Context) (int64, error) {
		return s.repos.Notifications.MarkAllRead(ctx, id.UserID)
	})
}

// --- 共通 ---

// notify は通知をベストエフォートで作成する。失敗はログに残すだけで呼び出し元には返さない。
func (s *Service) notify(ctx context.Context, in notification.Input) {
	Notify(ctx, s.upstream, s.notifier, s.logger, in)
}

// Notify は通知をベストエフォートで作成する。schedulingパッケージからも使う。
// 保存は他の書き込みと同じくUpstreamのタイムアウト内で1回だけ試みる。
func Notify(ctx context.Context, u *Upstream, n Notifier, logger *slog.Logger, in notification.Input) {
	if n == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := Write(ctx, u, "emit_notification", func(ctx context.Context) (*model.Notification, error) {
		return n.Emit(ctx, in)
	}); err != nil {
		logger.Warn("failed to emit notification",
			slog.String("type", string(in.Type)),
			slog.String("user_id", in.Addressee),
			slog.String("reference_id", in.ReferenceID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) denied(resource, resourceID string, id model.Identity) {
	Denied(s.metrics, s.logger, resource, resourceID, id)
}

// Denied はアクセス拒否を記録する。存在しない場合のログとは区別する。
func Denied(m metrics.MetricsCollector, logger *slog.Logger, resource, resourceID string, id model.Identity) {
	metrics.OrNop(m).RecordAccessDenied(resource)
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("access denied",
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("user_id", id.UserID),
	)
}

func (s *Service) logNotFound(resource, resourceID string, id model.Identity) {
	NotFound(s.logger, resource, resourceID, id)
}

// NotFound は対象リソースが存在しないことを記録する。
func NotFound(logger *slog.Logger, resource, resourceID string, id model.Identity) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("resource not found",
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("user_id", id.UserID),
	)
}

// RequireUUID はIDが空でなくUUID形式であることを確認する。
func RequireUUID(value, field string) error {
	if value == "" {
		return model.NewInvalidInputError(field + " が指定されていません")
	}
	if _, err := uuid.Parse(value); err != nil {
		return model.NewInvalidInputError(field + " の形式が正しくありません")
	}
	return nil
}

// DisplayName は通知本文に使う表示名を返す。
func DisplayName(id model.Identity) string {
	if name := strings.TrimSpace(id.FullName); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(id.Email, "@"); ok && local != "" {
		return local
	}
	return "ユーザー"
}

func statusLabel(status model.RequestStatus) string {
	switch status {
	case model.RequestStatusAccepted:
		return "承認済み"
	case model.RequestStatusRejected:
		return "拒否済み"
	default:
		return string(status)
	}
}
