package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn      func(ctx context.Context, id string) (*model.User, error)
	upsertFn        func(ctx context.Context, user *model.User) (*model.User, error)
	updateProfileFn func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	return m.upsertFn(ctx, user)
}
func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
	return m.updateProfileFn(ctx, id, update)
}
func (m *mockUserRepo) FindSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	return nil, nil
}

type mockGuard struct {
	validateFn func(rawURL string) error
	probeFn    func(ctx context.Context, rawURL string) error
	probed     int
}

func (m *mockGuard) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}
func (m *mockGuard) ProbeImage(ctx context.Context, rawURL string) error {
	m.probed++
	if m.probeFn != nil {
		return m.probeFn(ctx, rawURL)
	}
	return nil
}

var testIdentity = model.Identity{
	UserID:          "5b0c3c1e-8d0a-4b8e-9d7a-2f6f1b2c3d4e",
	FullName:        "<b>山田 太郎</b>",
	Email:           "taro@example.com",
	ProfileImageURL: "https://cdn.example.com/taro.png",
}

func strPtr(s string) *string { return &s }

// --- テスト ---

func TestService_Ensure(t *testing.T) {
	var upserted *model.User
	repo := &mockUserRepo{
		upsertFn: func(ctx context.Context, user *model.User) (*model.User, error) {
			upserted = user
			return user, nil
		},
	}
	svc := NewService(repo, nil, &mockGuard{}, false, nil)

	user, err := svc.Ensure(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if user.ID != testIdentity.UserID || upserted.FullName != "山田 太郎" || upserted.ProfileImageURL != testIdentity.ProfileImageURL {
		t.Errorf("unexpected upsert: %+v", upserted)
	}
}

func TestService_Ensure_DropsUnsafeImageURL(t *testing.T) {
	var upserted *model.User
	repo := &mockUserRepo{
		upsertFn: func(ctx context.Context, user *model.User) (*model.User, error) {
			upserted = user
			return user, nil
		},
	}
	guard := &mockGuard{validateFn: func(string) error { return errors.New("blocked") }}
	svc := NewService(repo, nil, guard, true, nil)

	if _, err := svc.Ensure(context.Background(), testIdentity); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if upserted.ProfileImageURL != "" {
		t.Errorf("ProfileImageURL = %q, want empty", upserted.ProfileImageURL)
	}
	if guard.probed != 0 {
		t.Errorf("Ensure must not probe the image")
	}
}

func TestService_Ensure_Anonymous(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil, false, nil)
	if _, err := svc.Ensure(context.Background(), model.Anonymous); !model.HasCode(err, model.ErrCodeUnauthenticated) {
		t.Fatalf("expected UNAUTHENTICATED, got %v", err)
	}
}

func TestService_Get(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == testIdentity.UserID {
				return &model.User{ID: id, Bio: "Goを教えます"}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(repo, nil, nil, false, nil)

	user, err := svc.Get(context.Background(), testIdentity)
	if err != nil || user.Bio != "Goを教えます" {
		t.Fatalf("Get() = %+v, %v", user, err)
	}

	_, err = svc.Get(context.Background(), model.Identity{UserID: "other"})
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestService_Update(t *testing.T) {
	var got repository.ProfileUpdate
	repo := &mockUserRepo{
		updateProfileFn: func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
			got = update
			return &model.User{ID: id}, nil
		},
	}
	guard := &mockGuard{}
	svc := NewService(repo, nil, guard, true, nil)

	_, err := svc.Update(context.Background(), testIdentity, UpdateInput{
		FullName:        strPtr(" 山田 <i>花子</i> "),
		Bio:             strPtr("<script>x</script>Rustを学びたい"),
		ProfileImageURL: strPtr("https://cdn.example.com/hanako.png"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if *got.FullName != "山田 花子" {
		t.Errorf("FullName = %q", *got.FullName)
	}
	if *got.Bio != "Rustを学びたい" {
		t.Errorf("Bio = %q", *got.Bio)
	}
	if *got.ProfileImageURL != "https://cdn.example.com/hanako.png" {
		t.Errorf("ProfileImageURL = %q", *got.ProfileImageURL)
	}
	if guard.probed != 1 {
		t.Errorf("probed = %d, want 1", guard.probed)
	}
}

func TestService_Update_ClearImage(t *testing.T) {
	var got repository.ProfileUpdate
	repo := &mockUserRepo{
		updateProfileFn: func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
			got = update
			return &model.User{ID: id}, nil
		},
	}
	guard := &mockGuard{validateFn: func(string) error {
		t.Fatal("empty URL must not be validated")
		return nil
	}}
	svc := NewService(repo, nil, guard, true, nil)

	if _, err := svc.Update(context.Background(), testIdentity, UpdateInput{ProfileImageURL: strPtr(" ")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.ProfileImageURL == nil || *got.ProfileImageURL != "" || got.FullName != nil || got.Bio != nil {
		t.Errorf("unexpected update: %+v", got)
	}
}

func TestService_Update_Rejects(t *testing.T) {
	repo := &mockUserRepo{
		updateProfileFn: func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
			t.Fatal("UpdateProfile must not be called")
			return nil, nil
		},
	}
	longBio := make([]rune, MaxBioLength+1)
	for i := range longBio {
		longBio[i] = 'あ'
	}

	tests := []struct {
		name  string
		guard *mockGuard
		probe bool
		in    UpdateInput
	}{
		{name: "nothing to update", guard: &mockGuard{}, in: UpdateInput{}},
		{name: "empty name", guard: &mockGuard{}, in: UpdateInput{FullName: strPtr("<p></p>")}},
		{name: "long bio", guard: &mockGuard{}, in: UpdateInput{Bio: strPtr(string(longBio))}},
		{
			name:  "private image url",
			guard: &mockGuard{validateFn: func(string) error { return errors.New("blocked") }},
			in:    UpdateInput{ProfileImageURL: strPtr("http://10.0.0.1/a.png")},
		},
		{
			name:  "not an image",
			guard: &mockGuard{probeFn: func(context.Context, string) error { return errors.New("text/html") }},
			probe: true,
			in:    UpdateInput{ProfileImageURL: strPtr("https://example.com/page")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(repo, nil, tt.guard, tt.probe, nil)
			_, err := svc.Update(context.Background(), testIdentity, tt.in)
			if !model.HasCode(err, model.ErrCodeInvalidInput) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestService_Update_ProbeDisabled(t *testing.T) {
	repo := &mockUserRepo{
		updateProfileFn: func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
	}
	guard := &mockGuard{}
	svc := NewService(repo, nil, guard, false, nil)

	if _, err := svc.Update(context.Background(), testIdentity, UpdateInput{ProfileImageURL: strPtr("https://example.com/a.png")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if guard.probed != 0 {
		t.Errorf("probe must be skipped when disabled")
	}
}

func TestService_Update_UserMissing(t *testing.T) {
	repo := &mockUserRepo{
		updateProfileFn: func(ctx context.Context, id string, update repository.ProfileUpdate) (*model.User, error) {
			return nil, nil
		},
	}
	svc := NewService(repo, nil, &mockGuard{}, false, nil)

	_, err := svc.Update(context.Background(), testIdentity, UpdateInput{Bio: strPtr("hi")})
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}
