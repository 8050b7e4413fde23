// Package identity はリクエストのクレデンシャルから認証済みのアイデンティティを解決する。
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/skillswap/internal/model"
)

var (
	// ErrTokenExpired はアクセストークンの有効期限切れを表す。リフレッシュで回復できる。
	ErrTokenExpired = errors.New("identity: token expired")
	// ErrTokenInvalid は署名・形式・クレームが不正なトークンを表す。
	ErrTokenInvalid = errors.New("identity: token invalid")
)

// UserMetadata は認証基盤がトークンに埋め込む表示用属性。
type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Claims はアクセストークンのクレーム。subがユーザーIDになる。
type Claims struct {
	jwt.RegisteredClaims
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

// Identity はクレームからIdentityを組み立てる。
func (c *Claims) Identity() model.Identity {
	return model.Identity{
		UserID:          c.Subject,
		FullName:        c.UserMetadata.FullName,
		Email:           c.Email,
		ProfileImageURL: c.UserMetadata.AvatarURL,
	}
}

// TokenVerifier はHS256で署名されたアクセストークンを検証する。
type TokenVerifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewTokenVerifier はTokenVerifierを生成する。secretは認証基盤と共有する署名鍵。
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		leeway: 5 * time.Second,
		now:    time.Now,
	}
}

// Verify はトークンを検証してIdentityを返す。
// 期限切れの場合はErrTokenExpired、それ以外の不正はErrTokenInvalidをラップして返す。
func (v *TokenVerifier) Verify(raw string) (model.Identity, error) {
	if raw == "" {
		return model.Anonymous, ErrTokenInvalid
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Anonymous, ErrTokenExpired
		}
		return model.Anonymous, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Subject == "" {
		return model.Anonymous, fmt.Errorf("%w: missing sub", ErrTokenInvalid)
	}

	return claims.Identity(), nil
}

// TokenIssuer はVerifierと同じ鍵でアクセストークンを発行する。
// 固定ユーザーによる開発用プロバイダーとテストで使う。
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はIdentityのアクセストークンと有効期限を返す。
func (i *TokenIssuer) Issue(id model.Identity) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: id.Email,
		UserMetadata: UserMetadata{
			FullName:  id.FullName,
			AvatarURL: id.ProfileImageURL,
		},
	})

	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}
