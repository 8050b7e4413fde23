package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/hitoshi/skillswap/internal/gatekeeper"
	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/session"
)

const signupPath = "/signup"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, email, password string) (*model.Credential, model.Identity, error)
	SignUp(ctx context.Context, email, password, fullName string) (*model.Credential, model.Identity, error)
	SignOut(ctx context.Context, cred *model.Credential)
}

// CredentialReader はリクエストから現在のクレデンシャルを読み取る。session.Policyが実装する。
type CredentialReader interface {
	Read(r *http.Request) *model.Credential
}

// AuthHandler はサインイン・サインアップ・サインアウトのHTTPハンドラー。
// フォーム送信にはリダイレクトで、JSONリクエストにはJSONで応答する。
type AuthHandler struct {
	service     AuthServiceInterface
	credentials CredentialReader
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, credentials CredentialReader) *AuthHandler {
	return &AuthHandler{
		service:     service,
		credentials: credentials,
	}
}

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	ReturnURL string `json:"returnUrl"`
}

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	ReturnURL string `json:"returnUrl"`
}

type authResponse struct {
	User        identityResponse `json:"user"`
	RedirectURL string           `json:"redirect_url"`
}

// Login はメールアドレスとパスワードでサインインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	form := isFormRequest(r)

	var req loginRequest
	if form {
		if err := r.ParseForm(); err != nil {
			http.Redirect(w, r, authErrorURL(gatekeeper.LoginPath, "INVALID_REQUEST", ""), http.StatusSeeOther)
			return
		}
		req = loginRequest{
			Email:     r.PostForm.Get("email"),
			Password:  r.PostForm.Get("password"),
			ReturnURL: returnURLFrom(r),
		}
	} else if !decodeJSONBody(w, r, &req) {
		return
	}

	cred, id, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	h.complete(w, r, form, gatekeeper.LoginPath, req.ReturnURL, cred, id, err)
}

// Signup はユーザーを登録してサインインする。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	form := isFormRequest(r)

	var req signupRequest
	if form {
		if err := r.ParseForm(); err != nil {
			http.Redirect(w, r, authErrorURL(signupPath, "INVALID_REQUEST", ""), http.StatusSeeOther)
			return
		}
		req = signupRequest{
			Email:     r.PostForm.Get("email"),
			Password:  r.PostForm.Get("password"),
			FullName:  r.PostForm.Get("full_name"),
			ReturnURL: returnURLFrom(r),
		}
	} else if !decodeJSONBody(w, r, &req) {
		return
	}

	cred, id, err := h.service.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	h.complete(w, r, form, signupPath, req.ReturnURL, cred, id, err)
}

// complete はサインイン・サインアップの結果をレスポンスに反映する。
func (h *AuthHandler) complete(w http.ResponseWriter, r *http.Request, form bool, page, returnURL string,
	cred *model.Credential, id model.Identity, err error) {
	target := gatekeeper.SafeReturnURL(returnURL)

	if err != nil {
		if form {
			http.Redirect(w, r, authErrorURL(page, errorCode(err), returnURL), http.StatusSeeOther)
			return
		}
		handleServiceError(w, err)
		return
	}

	session.SetCredential(r.Context(), cred)

	if form {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: toIdentityResponse(id), RedirectURL: target})
}

// Logout はクレデンシャルを失効させ、Cookieを削除する。
// 失効に失敗してもCookieは削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cred := h.credentials.Read(r); cred != nil {
		h.service.SignOut(r.Context(), cred)
	}
	session.ClearCredential(r.Context())

	if isFormRequest(r) {
		http.Redirect(w, r, gatekeeper.LoginPath, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me はゲートが解決したIdentityを返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id.IsAnonymous() {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(id))
}

// isFormRequest はHTMLフォームからの送信かどうかを返す。
func isFormRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

// returnURLFrom はフォームまたはクエリの戻り先を返す。
func returnURLFrom(r *http.Request) string {
	if v := r.PostForm.Get(gatekeeper.ReturnURLParam); v != "" {
		return v
	}
	return r.URL.Query().Get(gatekeeper.ReturnURLParam)
}

// authErrorURL はエラーコードと安全な戻り先を付けたページのURLを返す。
func authErrorURL(page, code, returnURL string) string {
	q := url.Values{}
	q.Set("error", code)
	if ret := gatekeeper.SafeReturnURL(returnURL); ret != gatekeeper.HomePath {
		q.Set(gatekeeper.ReturnURLParam, ret)
	}
	return page + "?" + q.Encode()
}

func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	slog.Error("authentication failed", slog.String("error", err.Error()))
	return "INTERNAL_ERROR"
}

var _ CredentialReader = (*session.Policy)(nil)
