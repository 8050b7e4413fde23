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

const sessionColumns = `id, organizer_id, participant_id, title, scheduled_at, duration_minutes, status, created_at`

// PostgresSessionRepo はPostgreSQLを使用した1対1セッションのリポジトリ。
type PostgresSessionRepo struct {
	db *sqlx.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sqlx.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。statusとcreated_atはDBの値で上書きされる。
func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.Session) error {
	err := r.db.GetContext(ctx, s, `
		INSERT INTO sessions (id, organizer_id, participant_id, title, scheduled_at, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+sessionColumns,
		s.ID, s.OrganizerID, s.ParticipantID, s.Title, s.ScheduledAt, s.DurationMinutes, s.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s := &model.Session{}
	err := r.db.GetContext(ctx, s, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return s, nil
}

// ListForUser は主催者または参加者であるセッションを(scheduled_at, id)の昇順で返す。
func (r *PostgresSessionRepo) ListForUser(ctx context.Context, userID string) ([]*model.Session, error) {
	var sessions []*model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE organizer_id = $1 OR participant_id = $1
		ORDER BY scheduled_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateStatus は現在の状態がfromの場合のみtoへ遷移させる。
func (r *PostgresSessionRepo) UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// AdvanceStatuses は時刻に応じて状態を一括遷移させる。
func (r *PostgresSessionRepo) AdvanceStatuses(ctx context.Context, now time.Time) (StatusAdvance, error) {
	return advanceStatuses(ctx, r.db, "sessions", now)
}

// advanceStatuses は終了時刻を過ぎたものをcompletedに、開始時刻を過ぎたものをongoingにする。
// 1回の呼び出しでupcomingから直接completedになる場合もある。
func advanceStatuses(ctx context.Context, db *sqlx.DB, table string, now time.Time) (StatusAdvance, error) {
	var adv StatusAdvance

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return adv, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	completed, err := tx.ExecContext(ctx, `
		UPDATE `+table+` SET status = 'completed'
		WHERE status IN ('upcoming', 'ongoing')
			AND scheduled_at + make_interval(mins => duration_minutes) <= $1`,
		now,
	)
	if err != nil {
		return adv, fmt.Errorf("failed to complete %s: %w", table, err)
	}
	if adv.Completed, err = completed.RowsAffected(); err != nil {
		return adv, fmt.Errorf("failed to get rows affected: %w", err)
	}

	started, err := tx.ExecContext(ctx, `
		UPDATE `+table+` SET status = 'ongoing'
		WHERE status = 'upcoming' AND scheduled_at <= $1`,
		now,
	)
	if err != nil {
		return adv, fmt.Errorf("failed to start %s: %w", table, err)
	}
	if adv.Started, err = started.RowsAffected(); err != nil {
		return adv, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return adv, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return adv, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
