package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/skillswap/internal/model"
)

const userColumns = `id, email, full_name, profile_image_url, bio, credits, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sqlx.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sqlx.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// Upsert はサインイン時のプロフィール行を作成または更新する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	query := `
		INSERT INTO users (id, email, full_name, profile_image_url)
		VALUES (:id, :email, :full_name, :profile_image_url)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = CASE WHEN users.full_name = '' THEN EXCLUDED.full_name ELSE users.full_name END,
			profile_image_url = CASE WHEN users.profile_image_url = '' THEN EXCLUDED.profile_image_url ELSE users.profile_image_url END,
			updated_at = now()
		RETURNING ` + userColumns

	rows, err := r.db.NamedQueryContext(ctx, query, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to upsert user %s: %w", user.ID, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil, fmt.Errorf("failed to upsert user: no row returned")
	}

	saved := &model.User{}
	if err := rows.StructScan(saved); err != nil {
		return nil, fmt.Errorf("failed to scan upserted user: %w", err)
	}
	return saved, nil
}

// UpdateProfile はプロフィールの編集可能項目を更新する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*model.User, error) {
	user := &model.User{}
	err := r.db.GetContext(ctx, user, `
		UPDATE users SET
			full_name = COALESCE($2, full_name),
			bio = COALESCE($3, bio),
			profile_image_url = COALESCE($4, profile_image_url),
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		id, update.FullName, update.Bio, update.ProfileImageURL,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// FindSummaries は指定ID群の表示用情報を取得する。
func (r *PostgresUserRepo) FindSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	if len(ids) == 0 {
		return []model.UserSummary{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, full_name, email, profile_image_url FROM users WHERE id IN (?) ORDER BY id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build summaries query: %w", err)
	}

	var summaries []model.UserSummary
	if err := r.db.SelectContext(ctx, &summaries, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to find user summaries: %w", err)
	}
	return summaries, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
