package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/skillswap/internal/model"
)

const connectionRequestColumns = `id, sender_id, receiver_id, status, created_at, updated_at`

// PostgresConnectionRepo はPostgreSQLを使用したつながりリクエストのリポジトリ。
type PostgresConnectionRepo struct {
	db *sqlx.DB
}

// NewPostgresConnectionRepo はPostgresConnectionRepoを生成する。
func NewPostgresConnectionRepo(db *sqlx.DB) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{db: db}
}

// FindByID は指定IDのリクエストを取得する。見つからない場合はnilを返す。
func (r *PostgresConnectionRepo) FindByID(ctx context.Context, id string) (*model.ConnectionRequest, error) {
	req := &model.ConnectionRequest{}
	err := r.db.GetContext(ctx, req,
		`SELECT `+connectionRequestColumns+` FROM connection_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find connection request: %w", err)
	}
	return req, nil
}

// FindActiveBetween は2人の間の承認待ちまたは承認済みリクエストを取得する。
func (r *PostgresConnectionRepo) FindActiveBetween(ctx context.Context, userA, userB string) (*model.ConnectionRequest, error) {
	req := &model.ConnectionRequest{}
	err := r.db.GetContext(ctx, req, `
		SELECT `+connectionRequestColumns+`
		FROM connection_requests
		WHERE status IN ('pending', 'accepted')
			AND ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		ORDER BY created_at, id
		LIMIT 1`,
		userA, userB,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active connection request: %w", err)
	}
	return req, nil
}

// Create はリクエストを作成する。
func (r *PostgresConnectionRepo) Create(ctx context.Context, req *model.ConnectionRequest) error {
	err := r.db.GetContext(ctx, req, `
		INSERT INTO connection_requests (id, sender_id, receiver_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+connectionRequestColumns,
		req.ID, req.SenderID, req.ReceiverID, req.Status,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create connection request: %w", err)
	}
	return nil
}

// Respond は受信者による承認待ちリクエストの状態遷移を行う。
// 同時に複数の応答があっても、行レベルの原子性により遷移は1回だけ成功する。
func (r *PostgresConnectionRepo) Respond(ctx context.Context, id, receiverID string, to model.RequestStatus) (*model.ConnectionRequest, error) {
	req := &model.ConnectionRequest{}
	err := r.db.GetContext(ctx, req, `
		UPDATE connection_requests
		SET status = $3, updated_at = now()
		WHERE id = $1 AND receiver_id = $2 AND status = 'pending'
		RETURNING `+connectionRequestColumns,
		id, receiverID, to,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update connection request status: %w", err)
	}
	return req, nil
}

// ListAccepted は承認済みリクエストを相手ユーザーの情報付きで返す。
func (r *PostgresConnectionRepo) ListAccepted(ctx context.Context, userID string) ([]ConnectionRow, error) {
	var rows []ConnectionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT
			cr.id AS connection_id,
			cr.updated_at AS since,
			u.id AS "other.id",
			u.full_name AS "other.full_name",
			u.email AS "other.email",
			u.profile_image_url AS "other.profile_image_url"
		FROM connection_requests cr
		JOIN users u
			ON u.id = CASE WHEN cr.sender_id = $1 THEN cr.receiver_id ELSE cr.sender_id END
		WHERE cr.status = 'accepted'
			AND (cr.sender_id = $1 OR cr.receiver_id = $1)
		ORDER BY cr.updated_at, cr.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accepted connections: %w", err)
	}
	return rows, nil
}

// ListIncomingPending は指定ユーザー宛ての承認待ちリクエストを返す。
func (r *PostgresConnectionRepo) ListIncomingPending(ctx context.Context, receiverID string) ([]IncomingRow, error) {
	var rows []IncomingRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT
			cr.id AS request_id,
			cr.created_at,
			u.id AS "sender.id",
			u.full_name AS "sender.full_name",
			u.email AS "sender.email",
			u.profile_image_url AS "sender.profile_image_url"
		FROM connection_requests cr
		JOIN users u ON u.id = cr.sender_id
		WHERE cr.receiver_id = $1 AND cr.status = 'pending'
		ORDER BY cr.created_at DESC, cr.id DESC`,
		receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming requests: %w", err)
	}
	return rows, nil
}

// compile-time interface check
var _ ConnectionRepository = (*PostgresConnectionRepo)(nil)
