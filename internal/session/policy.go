// Package session はクレデンシャルCookieの読み書きと、リクエスト処理中の
// クレデンシャル更新をレスポンスへ反映する仕組みを提供する。
//
// Cookieの属性はPolicyだけが決める。認証トークン・リフレッシュトークン・CSRFトークンの
// すべてのCookieはPolicy経由で生成する。
package session

import (
	"net/http"

	"github.com/hitoshi/skillswap/internal/model"
)

// PolicyConfig はCookieポリシーの設定。
type PolicyConfig struct {
	AuthCookieName    string
	RefreshCookieName string
	Domain            string
	Secure            bool // 本番環境のみtrue
	MaxAge            int  // 秒
}

// Policy は唯一のCookie読み書きポリシー。
// 属性は Path=/、SameSite=Lax、HttpOnly=false に固定する。
// 認証トークンはクライアント側のUI判定でも読むため HttpOnly にしない。
type Policy struct {
	cfg PolicyConfig
}

// NewPolicy はPolicyを生成する。
func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{cfg: cfg}
}

// AuthCookieName は認証トークンCookieの名前を返す。
func (p *Policy) AuthCookieName() string {
	return p.cfg.AuthCookieName
}

// RefreshCookieName はリフレッシュトークンCookieの名前を返す。
func (p *Policy) RefreshCookieName() string {
	return p.cfg.RefreshCookieName
}

// Read はリクエストのCookieからクレデンシャルを読み取る。どちらのトークンもなければnilを返す。
func (p *Policy) Read(r *http.Request) *model.Credential {
	cred := &model.Credential{
		AccessToken:  cookieValue(r, p.cfg.AuthCookieName),
		RefreshToken: cookieValue(r, p.cfg.RefreshCookieName),
	}
	if !cred.HasAccessToken() && !cred.HasRefreshToken() {
		return nil
	}
	return cred
}

// Write はクレデンシャルを保存するCookieを返す。
// リフレッシュトークンが空の場合は既存のCookieを残すため生成しない。
func (p *Policy) Write(cred *model.Credential) []*http.Cookie {
	if !cred.HasAccessToken() {
		return nil
	}
	cookies := []*http.Cookie{p.Cookie(p.cfg.AuthCookieName, cred.AccessToken, p.cfg.MaxAge)}
	if cred.HasRefreshToken() {
		cookies = append(cookies, p.Cookie(p.cfg.RefreshCookieName, cred.RefreshToken, p.cfg.MaxAge))
	}
	return cookies
}

// Clear はクレデンシャルCookieを削除するCookieを返す。
func (p *Policy) Clear() []*http.Cookie {
	return []*http.Cookie{
		p.Cookie(p.cfg.AuthCookieName, "", -1),
		p.Cookie(p.cfg.RefreshCookieName, "", -1),
	}
}

// Cookie はポリシーの固定属性でCookieを生成する。maxAgeが負の場合は削除用になる。
func (p *Policy) Cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   p.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   p.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
