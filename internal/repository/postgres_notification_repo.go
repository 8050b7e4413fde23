package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/skillswap/internal/model"
)

const notificationColumns = `id, user_id, type, message, reference_id, payload, is_read, created_at`

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sqlx.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sqlx.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Create は通知を作成する。payloadが空の場合は空オブジェクトとして保存する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	if len(n.Payload) == 0 {
		n.Payload = model.Payload("{}")
	}

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO notifications (id, user_id, type, message, reference_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING is_read, created_at`,
		n.ID, n.UserID, n.Type, n.Message, n.ReferenceID, n.Payload,
	).Scan(&n.IsRead, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	n := &model.Notification{}
	err := r.db.GetContext(ctx, n, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}
	return n, nil
}

// ListByUser は宛先ユーザーの通知を(created_at, id)の降順で返す。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string, after *Keyset, limit int) ([]*model.Notification, error) {
	var (
		list []*model.Notification
		err  error
	)
	if after == nil {
		err = r.db.SelectContext(ctx, &list, `
			SELECT `+notificationColumns+`
			FROM notifications
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`,
			userID, limit,
		)
	} else {
		err = r.db.SelectContext(ctx, &list, `
			SELECT `+notificationColumns+`
			FROM notifications
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`,
			userID, after.At, after.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

// CountUnread は宛先ユーザーの未読通知数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND is_read = false`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead は宛先ユーザー本人の通知を既読にする。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkAllRead は宛先ユーザーの未読通知をすべて既読にする。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE user_id = $1 AND is_read = false`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteReadBefore はcutoffより前に作成された既読通知を削除する。
func (r *PostgresNotificationRepo) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE is_read = true AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
