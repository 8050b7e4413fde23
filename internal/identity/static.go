package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/skillswap/internal/model"
)

// ErrRefreshRejected はリフレッシュトークンが未知または期限切れの場合のエラー。
var ErrRefreshRejected = errors.New("identity: refresh token rejected")

// StaticUser は固定ユーザーファイルの1エントリ。
type StaticUser struct {
	ID              string `yaml:"id"`
	Email           string `yaml:"email"`
	PasswordHash    string `yaml:"password_hash"`
	FullName        string `yaml:"full_name"`
	ProfileImageURL string `yaml:"profile_image_url"`
}

type staticUsersFile struct {
	Users []StaticUser `yaml:"users"`
}

// LoadStaticUsers はYAMLファイルから固定ユーザーを読み込む。
func LoadStaticUsers(path string) ([]StaticUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read static users file: %w", err)
	}

	var f staticUsersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse static users file: %w", err)
	}
	return f.Users, nil
}

type refreshEntry struct {
	email     string
	expiresAt time.Time
}

// StaticProvider は固定ユーザーでサインインする開発・テスト専用の認証戦略。
// 発行するアクセストークンは本番と同じ鍵で署名されるため、検証経路は共通になる。
// リフレッシュトークンはプロセス内にのみ保持する。
type StaticProvider struct {
	issuer     *TokenIssuer
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	users   map[string]StaticUser
	refresh map[string]refreshEntry
}

// NewStaticProvider はStaticProviderを生成する。
func NewStaticProvider(users []StaticUser, issuer *TokenIssuer, refreshTTL time.Duration) (*StaticProvider, error) {
	p := &StaticProvider{
		issuer:     issuer,
		refreshTTL: refreshTTL,
		now:        time.Now,
		users:      make(map[string]StaticUser, len(users)),
		refresh:    make(map[string]refreshEntry),
	}

	for _, u := range users {
		if _, err := uuid.Parse(u.ID); err != nil {
			return nil, fmt.Errorf("static user %q: invalid id: %w", u.Email, err)
		}
		if u.PasswordHash == "" {
			return nil, fmt.Errorf("static user %q: password_hash is required", u.Email)
		}
		key := normalizeEmail(u.Email)
		if key == "" {
			return nil, fmt.Errorf("static user %s: email is required", u.ID)
		}
		if _, dup := p.users[key]; dup {
			return nil, fmt.Errorf("static user %q: duplicate email", u.Email)
		}
		p.users[key] = u
	}

	return p, nil
}

// SignIn はメールアドレスとパスワードを照合してクレデンシャルを発行する。
func (p *StaticProvider) SignIn(_ context.Context, email, password string) (*model.Credential, error) {
	p.mu.Lock()
	u, ok := p.users[normalizeEmail(email)]
	p.mu.Unlock()
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	return p.issue(u)
}

// SignUp はユーザーをメモリ上に追加してクレデンシャルを発行する。
func (p *StaticProvider) SignUp(_ context.Context, email, password, fullName string) (*model.Credential, error) {
	key := normalizeEmail(email)
	if key == "" || password == "" {
		return nil, model.NewInvalidInputError("メールアドレスとパスワードを入力してください")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	if _, exists := p.users[key]; exists {
		p.mu.Unlock()
		return nil, model.NewInvalidInputError("このメールアドレスは既に登録されています")
	}
	u := StaticUser{
		ID:           uuid.New().String(),
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		FullName:     fullName,
	}
	p.users[key] = u
	p.mu.Unlock()

	return p.issue(u)
}

// Refresh はリフレッシュトークンを消費して新しいクレデンシャルを発行する。
// 使用済みのトークンは再利用できない。
func (p *StaticProvider) Refresh(ctx context.Context, refreshToken string) (*model.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	entry, ok := p.refresh[refreshToken]
	delete(p.refresh, refreshToken)
	var u StaticUser
	if ok {
		u, ok = p.users[entry.email]
	}
	p.mu.Unlock()

	if !ok || !p.now().Before(entry.expiresAt) {
		return nil, ErrRefreshRejected
	}
	return p.issue(u)
}

// SignOut はクレデンシャルのリフレッシュトークンを失効させる。
func (p *StaticProvider) SignOut(_ context.Context, cred *model.Credential) error {
	if !cred.HasRefreshToken() {
		return nil
	}
	p.mu.Lock()
	delete(p.refresh, cred.RefreshToken)
	p.mu.Unlock()
	return nil
}

func (p *StaticProvider) issue(u StaticUser) (*model.Credential, error) {
	access, expiresAt, err := p.issuer.Issue(model.Identity{
		UserID:          u.ID,
		FullName:        u.FullName,
		Email:           u.Email,
		ProfileImageURL: u.ProfileImageURL,
	})
	if err != nil {
		return nil, err
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.refresh[refreshToken] = refreshEntry{
		email:     normalizeEmail(u.Email),
		expiresAt: p.now().Add(p.refreshTTL),
	}
	p.mu.Unlock()

	return &model.Credential{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
