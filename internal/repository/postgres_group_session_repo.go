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

// PostgresGroupSessionRepo はPostgreSQLを使用したグループセッションのリポジトリ。
type PostgresGroupSessionRepo struct {
	db *sqlx.DB
}

// NewPostgresGroupSessionRepo はPostgresGroupSessionRepoを生成する。
func NewPostgresGroupSessionRepo(db *sqlx.DB) *PostgresGroupSessionRepo {
	return &PostgresGroupSessionRepo{db: db}
}

// selectGroupSessions は参加者数を集計したグループセッションのSELECT句。
const selectGroupSessions = `
	SELECT
		gs.id, gs.creator_id, gs.title, gs.scheduled_at, gs.duration_minutes,
		gs.max_participants, gs.status, gs.created_at,
		(SELECT count(*) FROM group_session_participants p WHERE p.group_session_id = gs.id) AS participant_count
	FROM group_sessions gs`

// Create はグループセッションを作成する。
func (r *PostgresGroupSessionRepo) Create(ctx context.Context, gs *model.GroupSession) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO group_sessions (id, creator_id, title, scheduled_at, duration_minutes, max_participants, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING status, created_at`,
		gs.ID, gs.CreatorID, gs.Title, gs.ScheduledAt, gs.DurationMinutes, gs.MaxParticipants, gs.Status,
	).Scan(&gs.Status, &gs.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create group session: %w", err)
	}
	gs.ParticipantCount = 0
	return nil
}

// FindByID は参加者数付きでグループセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresGroupSessionRepo) FindByID(ctx context.Context, id string) (*model.GroupSession, error) {
	gs := &model.GroupSession{}
	err := r.db.GetContext(ctx, gs, selectGroupSessions+` WHERE gs.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group session: %w", err)
	}
	return gs, nil
}

// ListForUser は作成者または参加者であるグループセッションを(scheduled_at, id)の昇順で返す。
func (r *PostgresGroupSessionRepo) ListForUser(ctx context.Context, userID string) ([]*model.GroupSession, error) {
	var list []*model.GroupSession
	err := r.db.SelectContext(ctx, &list, selectGroupSessions+`
		WHERE gs.creator_id = $1
			OR EXISTS (
				SELECT 1 FROM group_session_participants p
				WHERE p.group_session_id = gs.id AND p.user_id = $1
			)
		ORDER BY gs.scheduled_at, gs.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list group sessions: %w", err)
	}
	return list, nil
}

// Join は参加者を追加する。
// グループセッション行をFOR UPDATEでロックし、定員判定と追加を同一トランザクションで行う。
func (r *PostgresGroupSessionRepo) Join(ctx context.Context, groupSessionID, userID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxParticipants int
	err = tx.GetContext(ctx, &maxParticipants,
		`SELECT max_participants FROM group_sessions WHERE id = $1 FOR UPDATE`, groupSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock group session: %w", err)
	}

	var joined bool
	if err := tx.GetContext(ctx, &joined, `
		SELECT EXISTS (SELECT 1 FROM group_session_participants WHERE group_session_id = $1 AND user_id = $2)`,
		groupSessionID, userID,
	); err != nil {
		return fmt.Errorf("failed to check participation: %w", err)
	}
	if joined {
		return ErrAlreadyJoined
	}

	var count int
	if err := tx.GetContext(ctx, &count,
		`SELECT count(*) FROM group_session_participants WHERE group_session_id = $1`, groupSessionID,
	); err != nil {
		return fmt.Errorf("failed to count participants: %w", err)
	}
	if count >= maxParticipants {
		return ErrCapacityReached
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_session_participants (group_session_id, user_id) VALUES ($1, $2)`,
		groupSessionID, userID,
	); err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AdvanceStatuses は時刻に応じて状態を一括遷移させる。
func (r *PostgresGroupSessionRepo) AdvanceStatuses(ctx context.Context, now time.Time) (StatusAdvance, error) {
	return advanceStatuses(ctx, r.db, "group_sessions", now)
}

// compile-time interface check
var _ GroupSessionRepository = (*PostgresGroupSessionRepo)(nil)
