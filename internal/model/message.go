package model

import "time"

// Message はつながり上で送信されたメッセージ。
// 作成後は既読フラグ以外変更されない。
type Message struct {
	ID           string    `db:"id"`
	ConnectionID string    `db:"connection_id"`
	SenderID     string    `db:"sender_id"`
	Content      string    `db:"content"`
	IsRead       bool      `db:"is_read"`
	SentAt       time.Time `db:"sent_at"`
}

// PageRequest はキーセットページネーションの要求。
// Cursorは前ページの最終要素から生成された不透明な文字列。
type PageRequest struct {
	Cursor string
	Limit  int
}

// Page は一覧取得の結果と次ページのカーソル。
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}
