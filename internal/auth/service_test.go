package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/skillswap/internal/identity"
	"github.com/hitoshi/skillswap/internal/model"
)

// --- モック定義 ---

type mockAuthenticator struct {
	signInFn  func(ctx context.Context, email, password string) (*model.Credential, error)
	signUpFn  func(ctx context.Context, email, password, fullName string) (*model.Credential, error)
	refreshFn func(ctx context.Context, refreshToken string) (*model.Credential, error)
	signOutFn func(ctx context.Context, cred *model.Credential) error
}

func (m *mockAuthenticator) SignIn(ctx context.Context, email, password string) (*model.Credential, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthenticator) SignUp(ctx context.Context, email, password, fullName string) (*model.Credential, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, fullName)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthenticator) Refresh(ctx context.Context, refreshToken string) (*model.Credential, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthenticator) SignOut(ctx context.Context, cred *model.Credential) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, cred)
	}
	return nil
}

type mockProfileEnsurer struct {
	ensureFn func(ctx context.Context, id model.Identity) (*model.User, error)
	ensured  []model.Identity
}

func (m *mockProfileEnsurer) Ensure(ctx context.Context, id model.Identity) (*model.User, error) {
	m.ensured = append(m.ensured, id)
	if m.ensureFn != nil {
		return m.ensureFn(ctx, id)
	}
	return &model.User{ID: id.UserID}, nil
}

const (
	testSecret = "auth-service-test-secret"
	testUserID = "0f8fad5b-d9cb-469f-a165-70867728950e"
)

func issueTestCredential(t *testing.T) *model.Credential {
	t.Helper()
	token, exp, err := identity.NewTokenIssuer(testSecret, "test", time.Hour).Issue(model.Identity{
		UserID:   testUserID,
		Email:    "user@example.com",
		FullName: "Test User",
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return &model.Credential{AccessToken: token, RefreshToken: "refresh", ExpiresAt: exp}
}

// --- テスト ---

func TestService_SignIn_EnsuresProfile(t *testing.T) {
	cred := issueTestCredential(t)
	authn := &mockAuthenticator{
		signInFn: func(_ context.Context, email, password string) (*model.Credential, error) {
			if email != "user@example.com" {
				t.Errorf("email = %q, want trimmed address", email)
			}
			return cred, nil
		},
	}
	profiles := &mockProfileEnsurer{}
	svc := NewService(authn, identity.NewTokenVerifier(testSecret), profiles)

	got, id, err := svc.SignIn(context.Background(), "  user@example.com ", "pw")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if got != cred {
		t.Error("expected the credential issued by the authenticator")
	}
	if id.UserID != testUserID {
		t.Errorf("UserID = %q, want %q", id.UserID, testUserID)
	}
	if len(profiles.ensured) != 1 || profiles.ensured[0].FullName != "Test User" {
		t.Errorf("profile ensure calls = %+v", profiles.ensured)
	}
}

func TestService_SignIn_ValidatesInput(t *testing.T) {
	authn := &mockAuthenticator{
		signInFn: func(context.Context, string, string) (*model.Credential, error) {
			t.Fatal("authenticator must not be called for malformed input")
			return nil, nil
		},
	}
	svc := NewService(authn, identity.NewTokenVerifier(testSecret), nil)

	tests := []struct {
		name        string
		email       string
		password    string
		wantMessage string
	}{
		{"empty email", "", "pw", "メールアドレスとパスワードを入力してください"},
		{"empty password", "user@example.com", "", "メールアドレスとパスワードを入力してください"},
		{"malformed email", "not-an-email", "pw", "メールアドレスの形式が正しくありません"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.SignIn(context.Background(), tt.email, tt.password)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidInput {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestService_SignIn_PropagatesInvalidCredentials(t *testing.T) {
	authn := &mockAuthenticator{
		signInFn: func(context.Context, string, string) (*model.Credential, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	svc := NewService(authn, identity.NewTokenVerifier(testSecret), &mockProfileEnsurer{})

	_, _, err := svc.SignIn(context.Background(), "user@example.com", "wrong")
	if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", err)
	}
}

func TestService_SignIn_RejectsUnverifiableToken(t *testing.T) {
	authn := &mockAuthenticator{
		signInFn: func(context.Context, string, string) (*model.Credential, error) {
			return &model.Credential{AccessToken: "garbage"}, nil
		},
	}
	profiles := &mockProfileEnsurer{}
	svc := NewService(authn, identity.NewTokenVerifier(testSecret), profiles)

	if _, _, err := svc.SignIn(context.Background(), "user@example.com", "pw"); err == nil {
		t.Fatal("expected error for an unverifiable access token")
	}
	if len(profiles.ensured) != 0 {
		t.Error("profile must not be ensured for an unverifiable token")
	}
}

func TestService_SignIn_ProfileFailure(t *testing.T) {
	authn := &mockAuthenticator{
		signInFn: func(context.Context, string, string) (*model.Credential, error) {
			return issueTestCredential(t), nil
		},
	}
	profiles := &mockProfileEnsurer{
		ensureFn: func(context.Context, model.Identity) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}
	svc := NewService(authn, identity.NewTokenVerifier(testSecret), profiles)

	if _, _, err := svc.SignIn(context.Background(), "user@example.com", "pw"); err == nil {
		t.Fatal("expected error when the profile cannot be ensured")
	}
}

func TestService_SignUp(t *testing.T) {
	authn := &mockAuthenticator{
		signUpFn: func(_ context.Context, email, password, fullName string) (*model.Credential, error) {
			if fullName != "Test User" {
				t.Errorf("fullName = %q", fullName)
			}
			return issueTestCredential(t), nil
		},
	}
	profiles := &mockProfileEnsurer{}
	svc := NewService(authn, identity.NewTokenVerifier(testSecret), profiles)

	_, id, err := svc.SignUp(context.Background(), "user@example.com", "pw", " Test User ")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if id.UserID != testUserID || len(profiles.ensured) != 1 {
		t.Errorf("id = %+v, ensured = %d", id, len(profiles.ensured))
	}
}

func TestService_SignUp_RequiresFullName(t *testing.T) {
	svc := NewService(&mockAuthenticator{}, identity.NewTokenVerifier(testSecret), nil)

	_, _, err := svc.SignUp(context.Background(), "user@example.com", "pw", "   ")
	if !model.HasCode(err, model.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestService_SignOut_BestEffort(t *testing.T) {
	calls := 0
	authn := &mockAuthenticator{
		signOutFn: func(context.Context, *model.Credential) error {
			calls++
			return errors.New("upstream down")
		},
	}
	svc := NewService(authn, identity.NewTokenVerifier(testSecret), nil)

	// エラーは呼び出し元に返らない
	svc.SignOut(context.Background(), &model.Credential{AccessToken: "a"})
	if calls != 1 {
		t.Errorf("SignOut calls = %d, want 1", calls)
	}

	svc.SignOut(context.Background(), nil)
	if calls != 1 {
		t.Error("SignOut must not call the authenticator without a credential")
	}
}
