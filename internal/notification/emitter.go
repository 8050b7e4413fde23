// Package notification はドメインイベントから通知を組み立てて保存する。
//
// Emitterは宛先の認可を行わない。呼び出し元は認可済みのドメイン操作であること。
// 保存に失敗してもエラーを返すだけで再試行はしない。
package notification

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/segmentio/ksuid"

	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/repository"
)

// Input は通知1件の作成内容。
type Input struct {
	// Addressee は宛先ユーザーID。
	Addressee   string
	Type        model.NotificationType
	ReferenceID string
	// Args は本文テンプレートに渡す値。
	Args map[string]string
	// Message が指定された場合はテンプレートを使わずにそのまま本文にする。
	Message string
	// Payload は任意の構造化データ。nilの場合は空オブジェクトになる。
	Payload any
}

// 種別ごとの本文テンプレート
var templates = map[model.NotificationType]*template.Template{
	model.NotificationConnectionRequest:  mustTemplate("{{.name}}さんからつながりリクエストが届きました"),
	model.NotificationConnectionAccepted: mustTemplate("{{.name}}さんがつながりリクエストを承認しました"),
	model.NotificationNewMessage:         mustTemplate("{{.name}}さんから新しいメッセージが届きました"),
	model.NotificationSessionScheduled:   mustTemplate("{{.name}}さんがセッション「{{.title}}」を{{.when}}に予定しました"),
	model.NotificationSessionCancelled:   mustTemplate("セッション「{{.title}}」は{{.name}}さんによりキャンセルされました"),
	model.NotificationGroupSessionJoined: mustTemplate("{{.name}}さんがグループセッション「{{.title}}」に参加しました"),
}

func mustTemplate(text string) *template.Template {
	return template.Must(template.New("").Option("missingkey=zero").Parse(text))
}

// Emitter は通知を作成して永続化する。
type Emitter struct {
	repo    repository.NotificationRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	newID   func() string
}

// NewEmitter はEmitterを生成する。loggerがnilの場合はslog.Default()を使う。
func NewEmitter(repo repository.NotificationRepository, m metrics.MetricsCollector, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		repo:    repo,
		metrics: metrics.OrNop(m),
		logger:  logger,
		newID:   func() string { return ksuid.New().String() },
	}
}

// Emit は通知を組み立てて保存し、保存した通知を返す。
func (e *Emitter) Emit(ctx context.Context, in Input) (*model.Notification, error) {
	if in.Addressee == "" {
		return nil, model.NewInvalidInputError("通知の宛先が指定されていません")
	}
	if !in.Type.Valid() {
		return nil, model.NewInvalidInputError(fmt.Sprintf("不明な通知種別: %s", in.Type))
	}

	message := strings.TrimSpace(in.Message)
	if message == "" {
		var err error
		message, err = render(in.Type, in.Args)
		if err != nil {
			return nil, err
		}
	}

	payload, err := model.NewPayload(in.Payload)
	if err != nil {
		return nil, err
	}

	n := &model.Notification{
		ID:          e.newID(),
		UserID:      in.Addressee,
		Type:        in.Type,
		Message:     message,
		ReferenceID: in.ReferenceID,
		Payload:     payload,
	}

	if err := e.repo.Create(ctx, n); err != nil {
		e.metrics.RecordNotificationEmit(string(in.Type), false)
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	e.metrics.RecordNotificationEmit(string(in.Type), true)
	e.logger.Debug("notification emitted",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("type", string(n.Type)),
	)
	return n, nil
}

func render(t model.NotificationType, args map[string]string) (string, error) {
	tmpl, ok := templates[t]
	if !ok {
		return "", fmt.Errorf("no template for notification type %s", t)
	}
	if args == nil {
		args = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, args); err != nil {
		return "", fmt.Errorf("failed to render notification message: %w", err)
	}
	return buf.String(), nil
}
