// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証済みユーザーの参照と表示用属性を表す。
// ゼロ値は匿名（Anonymous）を意味する。
type Identity struct {
	UserID          string
	FullName        string
	Email           string
	ProfileImageURL string
}

// Anonymous は未認証を表すIdentity。
var Anonymous = Identity{}

// IsAnonymous はIdentityが匿名かどうかを返す。
func (i Identity) IsAnonymous() bool {
	return i.UserID == ""
}

// Credential はクライアントが保持するベアラートークンの組。
// サーバー側ではリクエスト処理中のみ保持し、永続化しない。
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// HasAccessToken はアクセストークンが存在するかを返す。
func (c *Credential) HasAccessToken() bool {
	return c != nil && c.AccessToken != ""
}

// HasRefreshToken はリフレッシュトークンが存在するかを返す。
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// User はサービス利用ユーザーのプロフィールを表す。
// IDは認証基盤が発行するユーザーID（JWTのsub）と一致する。
type User struct {
	ID              string    `db:"id"`
	Email           string    `db:"email"`
	FullName        string    `db:"full_name"`
	ProfileImageURL string    `db:"profile_image_url"`
	Bio             string    `db:"bio"`
	Credits         int       `db:"credits"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// UserSummary は他ユーザーの表示用の最小情報。
type UserSummary struct {
	ID              string `db:"id"`
	FullName        string `db:"full_name"`
	Email           string `db:"email"`
	ProfileImageURL string `db:"profile_image_url"`
}
