package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/profile"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, id model.Identity) (*model.User, error)
	Update(ctx context.Context, id model.Identity, in profile.UpdateInput) (*model.User, error)
}

// ProfileHandler は自分のプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// updateProfileRequest は省略した項目を変更しない。
type updateProfileRequest struct {
	FullName        *string `json:"full_name"`
	Bio             *string `json:"bio"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// GetProfile は自分のプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateProfile は自分のプロフィールを部分更新する。
// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.service.Update(r.Context(), middleware.IdentityFromContext(r.Context()), profile.UpdateInput{
		FullName:        req.FullName,
		Bio:             req.Bio,
		ProfileImageURL: req.ProfileImageURL,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
