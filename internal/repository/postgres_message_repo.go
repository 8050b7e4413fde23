package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/skillswap/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sqlx.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sqlx.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// ListByConnection はつながりのメッセージを(sent_at, id)の昇順で返す。
func (r *PostgresMessageRepo) ListByConnection(ctx context.Context, connectionID string, after *Keyset, limit int) ([]*model.Message, error) {
	var (
		msgs []*model.Message
		err  error
	)
	if after == nil {
		err = r.db.SelectContext(ctx, &msgs, `
			SELECT id, connection_id, sender_id, content, is_read, sent_at
			FROM messages
			WHERE connection_id = $1
			ORDER BY sent_at, id
			LIMIT $2`,
			connectionID, limit,
		)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `
			SELECT id, connection_id, sender_id, content, is_read, sent_at
			FROM messages
			WHERE connection_id = $1 AND (sent_at, id) > ($2, $3)
			ORDER BY sent_at, id
			LIMIT $4`,
			connectionID, after.At, after.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// Create はメッセージを作成する。sent_atはDB側で採番する。
func (r *PostgresMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO messages (id, connection_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING is_read, sent_at`,
		msg.ID, msg.ConnectionID, msg.SenderID, msg.Content,
	).Scan(&msg.IsRead, &msg.SentAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// MarkRead は読者以外が送信した未読メッセージを既読にする。
func (r *PostgresMessageRepo) MarkRead(ctx context.Context, connectionID, readerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = true
		WHERE connection_id = $1 AND sender_id <> $2 AND is_read = false`,
		connectionID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
