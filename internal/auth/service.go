// Package auth はサインイン・サインアップ・サインアウトのフローを提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hitoshi/skillswap/internal/identity"
	"github.com/hitoshi/skillswap/internal/model"
)

// Authenticator はクレデンシャルを発行・更新・失効させる認証戦略。
// 本番では外部認証サービス、開発・テストでは固定ユーザーの実装を起動時に選択する。
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*model.Credential, error)
	SignUp(ctx context.Context, email, password, fullName string) (*model.Credential, error)
	Refresh(ctx context.Context, refreshToken string) (*model.Credential, error)
	SignOut(ctx context.Context, cred *model.Credential) error
}

// ProfileEnsurer はIdentityに対応するプロフィール行を用意する。
type ProfileEnsurer interface {
	Ensure(ctx context.Context, id model.Identity) (*model.User, error)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	authn    Authenticator
	verifier *identity.TokenVerifier
	profiles ProfileEnsurer
}

// NewService はServiceを生成する。
func NewService(authn Authenticator, verifier *identity.TokenVerifier, profiles ProfileEnsurer) *Service {
	return &Service{
		authn:    authn,
		verifier: verifier,
		profiles: profiles,
	}
}

// SignIn はメールアドレスとパスワードでサインインし、クレデンシャルとIdentityを返す。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Credential, model.Identity, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, model.Anonymous, err
	}

	cred, err := s.authn.SignIn(ctx, email, password)
	if err != nil {
		return nil, model.Anonymous, err
	}

	id, err := s.establish(ctx, cred)
	if err != nil {
		return nil, model.Anonymous, err
	}

	slog.Info("user signed in", slog.String("user_id", id.UserID))
	return cred, id, nil
}

// SignUp はユーザーを登録してサインインする。
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (*model.Credential, model.Identity, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, model.Anonymous, err
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, model.Anonymous, model.NewInvalidInputError("氏名を入力してください")
	}

	cred, err := s.authn.SignUp(ctx, email, password, fullName)
	if err != nil {
		return nil, model.Anonymous, err
	}

	id, err := s.establish(ctx, cred)
	if err != nil {
		return nil, model.Anonymous, err
	}

	slog.Info("user signed up", slog.String("user_id", id.UserID))
	return cred, id, nil
}

// SignOut はクレデンシャルを失効させる。失敗してもログに残すだけで呼び出し元には返さない。
// Cookieの削除は呼び出し元が常に行う。
func (s *Service) SignOut(ctx context.Context, cred *model.Credential) {
	if !cred.HasAccessToken() && !cred.HasRefreshToken() {
		return
	}
	if err := s.authn.SignOut(ctx, cred); err != nil {
		slog.Warn("failed to revoke credential", slog.String("error", err.Error()))
		return
	}
	slog.Info("user signed out")
}

// establish は発行されたアクセストークンを検証し、プロフィール行を用意する。
func (s *Service) establish(ctx context.Context, cred *model.Credential) (model.Identity, error) {
	id, err := s.verifier.Verify(cred.AccessToken)
	if err != nil {
		return model.Anonymous, fmt.Errorf("issued access token rejected: %w", err)
	}

	if s.profiles != nil {
		if _, err := s.profiles.Ensure(ctx, id); err != nil {
			return model.Anonymous, fmt.Errorf("failed to ensure profile: %w", err)
		}
	}
	return id, nil
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return model.NewInvalidInputError("メールアドレスとパスワードを入力してください")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.NewInvalidInputError("メールアドレスの形式が正しくありません")
	}
	return nil
}
