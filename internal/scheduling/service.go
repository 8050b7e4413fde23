// Package scheduling はセッションとグループセッションの予定管理を提供する。
//
// 通知はベストエフォートで、通知の保存に失敗してもセッションの作成・キャンセル・参加は成功させる。
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/skillswap/internal/access"
	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/notification"
	"github.com/hitoshi/skillswap/internal/repository"
	"github.com/hitoshi/skillswap/internal/security"
)

// 入力値の範囲
const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 480
	MaxTitleLength     = 200
	MinGroupCapacity   = 2
	MaxGroupCapacity   = 50
)

// 通知本文に使う日時の書式
const whenLayout = "2006-01-02 15:04 MST"

// ScheduleInput は1対1セッションの作成内容。
type ScheduleInput struct {
	ParticipantID   string
	Title           string
	ScheduledAt     time.Time
	DurationMinutes int
}

// GroupSessionInput はグループセッションの作成内容。
type GroupSessionInput struct {
	Title           string
	ScheduledAt     time.Time
	DurationMinutes int
	MaxParticipants int
}

// Service はセッション予定管理のサービス層。
type Service struct {
	connections repository.ConnectionRepository
	sessions    repository.SessionRepository
	groups      repository.GroupSessionRepository
	notifier    access.Notifier
	sanitizer   security.ContentSanitizerService
	upstream    *access.Upstream
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	connections repository.ConnectionRepository,
	sessions repository.SessionRepository,
	groups repository.GroupSessionRepository,
	notifier access.Notifier,
	sanitizer security.ContentSanitizerService,
	upstream *access.Upstream,
) *Service {
	if upstream == nil {
		upstream = &access.Upstream{}
	}
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	logger := upstream.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		connections: connections,
		sessions:    sessions,
		groups:      groups,
		notifier:    notifier,
		sanitizer:   sanitizer,
		upstream:    upstream,
		metrics:     metrics.OrNop(upstream.Metrics),
		logger:      logger,
		now:         time.Now,
	}
}

// ScheduleSession は自分を主催者とするセッションを作成し、参加者に通知する。
// 参加者とは承認済みのつながりが必要。
func (s *Service) ScheduleSession(ctx context.Context, id model.Identity, in ScheduleInput) (*model.Session, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	if err := access.RequireUUID(in.ParticipantID, "participant_id"); err != nil {
		return nil, err
	}
	if in.ParticipantID == id.UserID {
		return nil, model.NewInvalidInputError("自分自身とのセッションは作成できません")
	}
	title, err := s.validateSchedule(in.Title, in.ScheduledAt, in.DurationMinutes)
	if err != nil {
		return nil, err
	}

	conn, err := access.Read(ctx, s.upstream, "find_active_connection", func(ctx context.Context) (*model.ConnectionRequest, error) {
		return s.connections.FindActiveBetween(ctx, id.UserID, in.ParticipantID)
	})
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.Status != model.RequestStatusAccepted {
		access.Denied(s.metrics, s.logger, "session_participant", in.ParticipantID, id)
		return nil, model.NewAccessDeniedError("session_participant")
	}

	session := &model.Session{
		ID:              uuid.NewString(),
		OrganizerID:     id.UserID,
		ParticipantID:   in.ParticipantID,
		Title:           title,
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		Status:          model.SessionStatusUpcoming,
	}
	if _, err := access.Write(ctx, s.upstream, "create_session", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.sessions.Create(ctx, session)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("セッションを作成しました",
		slog.String("session_id", session.ID),
		slog.String("organizer_id", session.OrganizerID),
	)

	access.Notify(ctx, s.upstream, s.notifier, s.logger, notification.Input{
		Addressee:   session.ParticipantID,
		Type:        model.NotificationSessionScheduled,
		ReferenceID: session.ID,
		Args: map[string]string{
			"name":  access.DisplayName(id),
			"title": session.Title,
			"when":  session.ScheduledAt.Format(whenLayout),
		},
		Payload: map[string]any{
			"session_id":       session.ID,
			"scheduled_at":     session.ScheduledAt,
			"duration_minutes": session.DurationMinutes,
		},
	})
	return session, nil
}

// CancelSession は主催者または参加者として開始前のセッションをキャンセルし、相手に通知する。
func (s *Service) CancelSession(ctx context.Context, id model.Identity, sessionID string) (*model.Session, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	if err := access.RequireUUID(sessionID, "session_id"); err != nil {
		return nil, err
	}

	session, err := access.Read(ctx, s.upstream, "find_session", func(ctx context.Context) (*model.Session, error) {
		return s.sessions.FindByID(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		access.NotFound(s.logger, "session", sessionID, id)
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	if !session.IsMember(id.UserID) {
		access.Denied(s.metrics, s.logger, "session", sessionID, id)
		return nil, model.NewAccessDeniedError("session")
	}

	ok, err := access.Write(ctx, s.upstream, "cancel_session", func(ctx context.Context) (bool, error) {
		return s.sessions.UpdateStatus(ctx, sessionID, model.SessionStatusUpcoming, model.SessionStatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewInvalidStateError("開始前のセッションのみキャンセルできます")
	}
	session.Status = model.SessionStatusCancelled

	other := session.ParticipantID
	if id.UserID == session.ParticipantID {
		other = session.OrganizerID
	}
	access.Notify(ctx, s.upstream, s.notifier, s.logger, notification.Input{
		Addressee:   other,
		Type:        model.NotificationSessionCancelled,
		ReferenceID: session.ID,
		Args:        map[string]string{"name": access.DisplayName(id), "title": session.Title},
		Payload:     map[string]string{"session_id": session.ID},
	})
	return session, nil
}

// CreateGroupSession は自分を作成者とするグループセッションを作成する。
func (s *Service) CreateGroupSession(ctx context.Context, id model.Identity, in GroupSessionInput) (*model.GroupSession, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	title, err := s.validateSchedule(in.Title, in.ScheduledAt, in.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if in.MaxParticipants < MinGroupCapacity || in.MaxParticipants > MaxGroupCapacity {
		return nil, model.NewInvalidInputError(fmt.Sprintf("定員は%d〜%d人で指定してください", MinGroupCapacity, MaxGroupCapacity))
	}

	gs := &model.GroupSession{
		ID:              uuid.NewString(),
		CreatorID:       id.UserID,
		Title:           title,
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		MaxParticipants: in.MaxParticipants,
		Status:          model.SessionStatusUpcoming,
	}
	if _, err := access.Write(ctx, s.upstream, "create_group_session", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.groups.Create(ctx, gs)
	}); err != nil {
		return nil, err
	}
	return gs, nil
}

// JoinGroupSession は開始前のグループセッションに参加し、作成者に通知する。
func (s *Service) JoinGroupSession(ctx context.Context, id model.Identity, groupSessionID string) (*model.GroupSession, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	if err := access.RequireUUID(groupSessionID, "group_session_id"); err != nil {
		return nil, err
	}

	gs, err := s.findGroupSession(ctx, id, groupSessionID)
	if err != nil {
		return nil, err
	}
	if gs.CreatorID == id.UserID {
		return nil, model.NewInvalidStateError("作成者は参加者として追加できません")
	}
	if gs.Status != model.SessionStatusUpcoming {
		return nil, model.NewInvalidStateError("開始前のグループセッションのみ参加できます")
	}

	_, err = access.Write(ctx, s.upstream, "join_group_session", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.groups.Join(ctx, groupSessionID, id.UserID)
	})
	switch {
	case errors.Is(err, repository.ErrCapacityReached):
		return nil, model.NewGroupSessionFullError()
	case errors.Is(err, repository.ErrAlreadyJoined):
		return nil, model.NewInvalidStateError("既に参加しています")
	case errors.Is(err, repository.ErrNotFound):
		access.NotFound(s.logger, "group_session", groupSessionID, id)
		return nil, model.NewGroupSessionNotFoundError(groupSessionID)
	case err != nil:
		return nil, err
	}

	access.Notify(ctx, s.upstream, s.notifier, s.logger, notification.Input{
		Addressee:   gs.CreatorID,
		Type:        model.NotificationGroupSessionJoined,
		ReferenceID: gs.ID,
		Args:        map[string]string{"name": access.DisplayName(id), "title": gs.Title},
		Payload:     map[string]string{"group_session_id": gs.ID, "user_id": id.UserID},
	})

	updated, err := s.findGroupSession(ctx, id, groupSessionID)
	if err != nil {
		// 参加自体は成功しているので、再取得できない場合は手元の値で返す
		gs.ParticipantCount++
		return gs, nil
	}
	return updated, nil
}

func (s *Service) findGroupSession(ctx context.Context, id model.Identity, groupSessionID string) (*model.GroupSession, error) {
	gs, err := access.Read(ctx, s.upstream, "find_group_session", func(ctx context.Context) (*model.GroupSession, error) {
		return s.groups.FindByID(ctx, groupSessionID)
	})
	if err != nil {
		return nil, err
	}
	if gs == nil {
		access.NotFound(s.logger, "group_session", groupSessionID, id)
		return nil, model.NewGroupSessionNotFoundError(groupSessionID)
	}
	return gs, nil
}

// AdvanceStatuses は時刻に応じてセッションとグループセッションの状態を進める。ワーカーから呼ばれる。
func (s *Service) AdvanceStatuses(ctx context.Context, now time.Time) (repository.StatusAdvance, error) {
	one, err := s.sessions.AdvanceStatuses(ctx, now)
	if err != nil {
		return repository.StatusAdvance{}, fmt.Errorf("failed to advance session statuses: %w", err)
	}
	group, err := s.groups.AdvanceStatuses(ctx, now)
	if err != nil {
		return one, fmt.Errorf("failed to advance group session statuses: %w", err)
	}
	return repository.StatusAdvance{
		Started:   one.Started + group.Started,
		Completed: one.Completed + group.Completed,
	}, nil
}

// validateSchedule はタイトル・開始日時・所要時間を検証し、サニタイズ済みのタイトルを返す。
func (s *Service) validateSchedule(rawTitle string, at time.Time, minutes int) (string, error) {
	title := strings.TrimSpace(s.sanitizer.Sanitize(rawTitle))
	if title == "" {
		return "", model.NewInvalidInputError("タイトルを入力してください")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", model.NewInvalidInputError(fmt.Sprintf("タイトルは%d文字以内で入力してください", MaxTitleLength))
	}
	if at.IsZero() {
		return "", model.NewInvalidInputError("開始日時を指定してください")
	}
	if !at.After(s.now()) {
		return "", model.NewInvalidInputError("開始日時は未来の日時を指定してください")
	}
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return "", model.NewInvalidInputError(fmt.Sprintf("所要時間は%d〜%d分で指定してください", MinDurationMinutes, MaxDurationMinutes))
	}
	return title, nil
}
