package gatekeeper

import (
	"net/url"
	"strings"
)

// OutcomeKind は判定結果の種類。
type OutcomeKind string

const (
	// Pass はそのまま処理を続ける。
	Pass OutcomeKind = "pass"
	// Redirect はLocationへリダイレクトする。
	Redirect OutcomeKind = "redirect"
	// Unauthorized は401を返す（APIパスのみ）。
	Unauthorized OutcomeKind = "unauthorized"
)

const (
	// LoginPath はログインページのパス。
	LoginPath = "/login"
	// HomePath は認証済みユーザーの既定の遷移先。
	HomePath = "/"
	// ReturnURLParam は元のパスを保持するクエリパラメータ名。
	ReturnURLParam = "returnUrl"
)

// Outcome はゲートキーパーの判定結果。リダイレクトや401の書き込みは呼び出し元が行う。
type Outcome struct {
	Kind     OutcomeKind
	Location string
}

// Decide は分類と認証状態から遷移を決める。pathとrawQueryは元のリクエストのもの。
func Decide(c Classification, authenticated bool, path, rawQuery string) Outcome {
	if c.Excluded {
		return Outcome{Kind: Pass}
	}

	switch c.Category {
	case Protected:
		if authenticated {
			return Outcome{Kind: Pass}
		}
		if c.API {
			return Outcome{Kind: Unauthorized}
		}
		return Outcome{Kind: Redirect, Location: LoginURL(returnTarget(path, rawQuery))}
	case AuthOnly:
		if authenticated {
			return Outcome{Kind: Redirect, Location: HomePath}
		}
	}
	return Outcome{Kind: Pass}
}

// LoginURL は戻り先を付けたログインページのURLを返す。
func LoginURL(returnTo string) string {
	returnTo = SafeReturnURL(returnTo)
	if returnTo == HomePath {
		return LoginPath
	}
	// クエリ中の "/" はエスケープ不要なので読みやすさのため残す
	return LoginPath + "?" + ReturnURLParam + "=" + strings.ReplaceAll(url.QueryEscape(returnTo), "%2F", "/")
}

// SafeReturnURL はサイト内の絶対パスのみを受け付け、それ以外は "/" を返す。
// スキーム付きURLやプロトコル相対URL（//host）によるオープンリダイレクトを防ぐ。
func SafeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return HomePath
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, `/\`) {
		return HomePath
	}
	if strings.ContainsAny(raw, "\r\n\t") {
		return HomePath
	}

	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || u.Scheme != "" {
		return HomePath
	}
	return raw
}

func returnTarget(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}
