package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/skillswap/internal/model"
)

const (
	tokenPath  = "/auth/v1/token"
	signupPath = "/auth/v1/signup"
	logoutPath = "/auth/v1/logout"
)

// BaaSConfig は外部認証サービスクライアントの設定。
type BaaSConfig struct {
	BaseURL string
	AnonKey string
	Timeout time.Duration

	// テスト用にオーバーライド可能なトランスポート
	Transport http.RoundTripper
}

// BaaSClient は外部認証サービスのトークンエンドポイントを利用するAuthenticator。
// パスワードとリフレッシュトークンのグラントはOAuth2として扱う。
type BaaSClient struct {
	baseURL    string
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewBaaSClient はBaaSClientを生成する。
func NewBaaSClient(cfg BaaSConfig) *BaaSClient {
	base := strings.TrimRight(cfg.BaseURL, "/")

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &BaaSClient{
		baseURL: base,
		oauth: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &apiKeyTransport{key: cfg.AnonKey, base: transport},
		},
	}
}

// apiKeyTransport はすべてのリクエストにapikeyヘッダーを付与する。
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.key == "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("apikey", t.key)
	return t.base.RoundTrip(clone)
}

// SignIn はパスワードグラントでクレデンシャルを取得する。
func (c *BaaSClient) SignIn(ctx context.Context, email, password string) (*model.Credential, error) {
	tok, err := c.oauth.PasswordCredentialsToken(c.clientContext(ctx), email, password)
	if err != nil {
		return nil, mapTokenError("sign in", err)
	}
	return credentialFromToken(tok)
}

// Refresh はリフレッシュトークングラントで新しいクレデンシャルを取得する。
func (c *BaaSClient) Refresh(ctx context.Context, refreshToken string) (*model.Credential, error) {
	// アクセストークンを持たないトークンは常に無効とみなされ、即座に更新される
	src := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapTokenError("refresh", err)
	}
	return credentialFromToken(tok)
}

type signupRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type errorResponse struct {
	Msg              string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

// SignUp はユーザーを登録し、そのままサインインしたクレデンシャルを返す。
func (c *BaaSClient) SignUp(ctx context.Context, email, password, fullName string) (*model.Credential, error) {
	body, err := json.Marshal(signupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]any{"full_name": fullName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+signupPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create signup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signup request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read signup response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		slog.Info("signup rejected by auth provider",
			slog.Int("status", resp.StatusCode),
			slog.String("reason", upstreamMessage(respBody, "unknown")),
		)
		return nil, model.NewInvalidInputError("登録できませんでした。入力内容を確認してください")
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, fmt.Errorf("signup failed with status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse signup response: %w", err)
	}
	if tr.AccessToken == "" {
		// メール確認が必要な設定ではトークンが返らない
		return nil, model.NewInvalidStateError("サインインの前にメールアドレスの確認を完了してください")
	}

	return &model.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// SignOut はアクセストークンに紐づくリフレッシュトークンを失効させる。
func (c *BaaSClient) SignOut(ctx context.Context, cred *model.Credential) error {
	if !cred.HasAccessToken() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+logoutPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *BaaSClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// mapTokenError は資格情報の誤り（400/401）をINVALID_CREDENTIALSに変換する。
func mapTokenError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return model.NewInvalidCredentialsError()
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func credentialFromToken(tok *oauth2.Token) (*model.Credential, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("empty access token in response")
	}
	return &model.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

func upstreamMessage(body []byte, fallback string) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Msg != "" {
			return er.Msg
		}
		if er.ErrorDescription != "" {
			return er.ErrorDescription
		}
	}
	return fallback
}

// compile-time interface check
var _ Authenticator = (*BaaSClient)(nil)
