package model

import "time"

// RequestStatus はつながりリクエストの状態を表す。
type RequestStatus string

const (
	// RequestStatusPending は承認待ち。
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusAccepted は承認済み。承認済みのリクエストのみがつながりとして扱われる。
	RequestStatusAccepted RequestStatus = "accepted"
	// RequestStatusRejected は拒否済み。
	RequestStatusRejected RequestStatus = "rejected"
)

// ConnectionRequest は送信者から受信者への有向のつながりリクエスト。
type ConnectionRequest struct {
	ID         string        `db:"id"`
	SenderID   string        `db:"sender_id"`
	ReceiverID string        `db:"receiver_id"`
	Status     RequestStatus `db:"status"`
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}

// IsParticipant は指定ユーザーがリクエストの送信者または受信者かを返す。
func (c *ConnectionRequest) IsParticipant(userID string) bool {
	return userID != "" && (c.SenderID == userID || c.ReceiverID == userID)
}

// OtherParty は指定ユーザーから見た相手のユーザーIDを返す。
func (c *ConnectionRequest) OtherParty(userID string) string {
	if c.SenderID == userID {
		return c.ReceiverID
	}
	return c.SenderID
}

// Connection はあるユーザーから見た承認済みのつながり（読み取り専用ビュー）。
type Connection struct {
	ConnectionID string
	Other        UserSummary
	Since        time.Time
}

// IncomingRequest は受信した承認待ちリクエストと送信者情報。
type IncomingRequest struct {
	ID        string
	Sender    UserSummary
	CreatedAt time.Time
}
