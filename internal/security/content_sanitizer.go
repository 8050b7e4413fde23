// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はメッセージ本文・自己紹介・セッションタイトルなどの
// ユーザー入力からHTMLを取り除き、プレーンテキストとして保存できる形にする。
// 出力はプレーンテキストであり、表示側でのエスケープを前提とする。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はユーザー入力テキストのサニタイズ機能のインターフェース。
type ContentSanitizerService interface {
	// Sanitize はHTMLタグとscript/styleの中身を除去し、制御文字を落として前後の空白を詰める。
	// 改行とタブは残す。空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// すべての要素を許可しないStrictPolicyを使う。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はユーザー入力をプレーンテキストにする。
func (s *contentSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	stripped := s.policy.Sanitize(raw)
	// StrictPolicyは & < > などを実体参照にするため、保存用に戻す
	text := html.UnescapeString(stripped)
	text = strings.Map(dropControl, text)
	return strings.TrimSpace(text)
}

func dropControl(r rune) rune {
	if r == '\n' || r == '\t' {
		return r
	}
	if unicode.IsControl(r) {
		return -1
	}
	return r
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)
