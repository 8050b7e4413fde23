package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrNotAnImage はプローブしたURLが画像を返さなかった場合のエラー。
var ErrNotAnImage = errors.New("url does not serve an image")

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// プロフィール画像URLの保存時に使用される。
type SSRFGuardService interface {
	// ValidateURL はURLの安全性を事前に検証する。
	// スキーム、ホスト、IPアドレスの検証を行い、危険なURLの場合はエラーを返す。
	ValidateURL(rawURL string) error

	// ProbeImage はURLへ実際にリクエストし、image/* のContent-Typeが返ることを確認する。
	ProbeImage(ctx context.Context, rawURL string) error
}

// allowedSchemes はSSRF防止で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はSSRF防止でブロックされるネットワーク範囲。
// パッケージ初期化時に1回だけパースし、ValidateURLでの検証に使用する。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// CGNAT (RFC 6598)
		"100.64.0.0/10",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// SSRFGuardOption はssrfGuardの設定を変更する。
type SSRFGuardOption func(*ssrfGuard)

// WithProbeClient はプローブに使うHTTPクライアントを差し替える。テスト用。
func WithProbeClient(c *http.Client) SSRFGuardOption {
	return func(g *ssrfGuard) { g.client = c }
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	client *http.Client
}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
// プローブにはsafeurlのクライアントを使う。
func NewSSRFGuard(timeout time.Duration, opts ...SSRFGuardOption) *ssrfGuard {
	g := &ssrfGuard{}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = NewSafeClient(timeout)
	}
	return g
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディング攻撃にも対応している。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// DNS再バインディングはプローブ側のクライアントで防止される。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in URL are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// ProbeImage はHEADリクエストでContent-Typeを確認する。
// HEADを受け付けないサーバーにはGETで再確認し、本文は読み捨てる。
func (g *ssrfGuard) ProbeImage(ctx context.Context, rawURL string) error {
	if err := g.ValidateURL(rawURL); err != nil {
		return err
	}

	contentType, err := g.fetchContentType(ctx, http.MethodHead, rawURL)
	if err != nil || contentType == "" {
		contentType, err = g.fetchContentType(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		return err
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: content type %q", ErrNotAnImage, contentType)
	}
	return nil
}

func (g *ssrfGuard) fetchContentType(ctx context.Context, method, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return resp.Header.Get("Content-Type"), nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range blockedHostnames {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return true
		}
	}
	return false
}

var _ SSRFGuardService = (*ssrfGuard)(nil)
