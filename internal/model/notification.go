package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType は通知の種別を表す。
type NotificationType string

const (
	NotificationConnectionRequest  NotificationType = "connection_request"
	NotificationConnectionAccepted NotificationType = "connection_accepted"
	NotificationNewMessage         NotificationType = "new_message"
	NotificationSessionScheduled   NotificationType = "session_scheduled"
	NotificationSessionCancelled   NotificationType = "session_cancelled"
	NotificationGroupSessionJoined NotificationType = "group_session_joined"
)

// Valid は既知の通知種別かどうかを返す。
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationConnectionRequest, NotificationConnectionAccepted, NotificationNewMessage,
		NotificationSessionScheduled, NotificationSessionCancelled, NotificationGroupSessionJoined:
		return true
	default:
		return false
	}
}

// Notification は1人のユーザーに宛てた通知。
// 既読化は宛先ユーザーのみが行える。
type Notification struct {
	ID          string           `db:"id"`
	UserID      string           `db:"user_id"`
	Type        NotificationType `db:"type"`
	Message     string           `db:"message"`
	ReferenceID string           `db:"reference_id"`
	Payload     Payload          `db:"payload"`
	IsRead      bool             `db:"is_read"`
	CreatedAt   time.Time        `db:"created_at"`
}

// Payload は通知に付随する構造化データ（JSONオブジェクト）。
// 空の場合は空オブジェクトとして扱う。
type Payload []byte

// NewPayload は値をJSONにエンコードしてPayloadを生成する。nilの場合は空オブジェクトを返す。
func NewPayload(v any) (Payload, error) {
	if v == nil {
		return Payload("{}"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification payload: %w", err)
	}
	return Payload(b), nil
}

// MarshalJSON はjson.Marshalerを実装する。
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return p, nil
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// Scan はsql.Scannerを実装する。ドライバのバッファを保持しないようコピーする。
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Payload("{}")
	case []byte:
		*p = append(Payload(nil), v...)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}
	return nil
}

// Value はdriver.Valuerを実装する。
func (p Payload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	return string(p), nil
}
