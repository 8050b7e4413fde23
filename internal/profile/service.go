// Package profile はユーザープロフィールのドメインロジックを提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/skillswap/internal/access"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/repository"
	"github.com/hitoshi/skillswap/internal/security"
)

// 入力値の上限
const (
	MaxFullNameLength = 100
	MaxBioLength      = 1000
)

// UpdateInput はプロフィール更新の入力。nilの項目は変更しない。
type UpdateInput struct {
	FullName        *string
	Bio             *string
	ProfileImageURL *string
}

// Service はプロフィール管理のサービス層。
type Service struct {
	users     repository.UserRepository
	sanitizer security.ContentSanitizerService
	guard     security.SSRFGuardService
	probe     bool
	upstream  *access.Upstream
}

// NewService はServiceの新しいインスタンスを生成する。
// probeがtrueの場合、画像URLを保存する前に実際に取得してContent-Typeを確認する。
func NewService(
	users repository.UserRepository,
	sanitizer security.ContentSanitizerService,
	guard security.SSRFGuardService,
	probe bool,
	upstream *access.Upstream,
) *Service {
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	if upstream == nil {
		upstream = &access.Upstream{}
	}
	return &Service{
		users:     users,
		sanitizer: sanitizer,
		guard:     guard,
		probe:     probe,
		upstream:  upstream,
	}
}

// Ensure はサインイン時にプロフィール行を作成または補完する。
// 認証基盤の画像URLが安全でない場合は保存しない。
func (s *Service) Ensure(ctx context.Context, id model.Identity) (*model.User, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}

	imageURL := strings.TrimSpace(id.ProfileImageURL)
	if imageURL != "" && s.guard != nil {
		if err := s.guard.ValidateURL(imageURL); err != nil {
			slog.Warn("認証基盤のプロフィール画像URLを破棄しました",
				slog.String("user_id", id.UserID),
				slog.String("error", err.Error()),
			)
			imageURL = ""
		}
	}

	return access.Write(ctx, s.upstream, "upsert_user", func(ctx context.Context) (*model.User, error) {
		return s.users.Upsert(ctx, &model.User{
			ID:              id.UserID,
			Email:           id.Email,
			FullName:        truncate(s.sanitizer.Sanitize(id.FullName), MaxFullNameLength),
			ProfileImageURL: imageURL,
		})
	})
}

// Get は自分のプロフィールを返す。
func (s *Service) Get(ctx context.Context, id model.Identity) (*model.User, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := access.Read(ctx, s.upstream, "find_user", func(ctx context.Context) (*model.User, error) {
		return s.users.FindByID(ctx, id.UserID)
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Update は自分のプロフィールを更新する。
// 氏名と自己紹介はサニタイズし、画像URLはSSRFガードで検証する。空文字列の画像URLは削除を意味する。
func (s *Service) Update(ctx context.Context, id model.Identity, in UpdateInput) (*model.User, error) {
	if id.IsAnonymous() {
		return nil, model.NewUnauthenticatedError()
	}
	if in.FullName == nil && in.Bio == nil && in.ProfileImageURL == nil {
		return nil, model.NewInvalidInputError("更新する項目がありません")
	}

	var update repository.ProfileUpdate

	if in.FullName != nil {
		name := s.sanitizer.Sanitize(*in.FullName)
		if name == "" {
			return nil, model.NewInvalidInputError("氏名を入力してください")
		}
		if utf8.RuneCountInString(name) > MaxFullNameLength {
			return nil, model.NewInvalidInputError(fmt.Sprintf("氏名は%d文字以内で入力してください", MaxFullNameLength))
		}
		update.FullName = &name
	}

	if in.Bio != nil {
		bio := s.sanitizer.Sanitize(*in.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			return nil, model.NewInvalidInputError(fmt.Sprintf("自己紹介は%d文字以内で入力してください", MaxBioLength))
		}
		update.Bio = &bio
	}

	if in.ProfileImageURL != nil {
		imageURL := strings.TrimSpace(*in.ProfileImageURL)
		if imageURL != "" {
			if err := s.checkImageURL(ctx, imageURL); err != nil {
				return nil, err
			}
		}
		update.ProfileImageURL = &imageURL
	}

	user, err := access.Write(ctx, s.upstream, "update_profile", func(ctx context.Context) (*model.User, error) {
		return s.users.UpdateProfile(ctx, id.UserID, update)
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("プロフィールを更新しました", slog.String("user_id", id.UserID))
	return user, nil
}

func (s *Service) checkImageURL(ctx context.Context, imageURL string) error {
	if s.guard == nil {
		return model.NewInvalidInputError("プロフィール画像URLは現在設定できません")
	}
	if err := s.guard.ValidateURL(imageURL); err != nil {
		slog.Info("プロフィール画像URLを拒否しました", slog.String("error", err.Error()))
		return model.NewInvalidInputError("プロフィール画像URLが不正です")
	}
	if !s.probe {
		return nil
	}
	if err := s.guard.ProbeImage(ctx, imageURL); err != nil {
		slog.Info("プロフィール画像の確認に失敗しました", slog.String("error", err.Error()))
		return model.NewInvalidInputError("プロフィール画像URLから画像を取得できません")
	}
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
