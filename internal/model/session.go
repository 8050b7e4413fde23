package model

import "time"

// SessionStatus はスケジュール済みセッションの状態を表す。
type SessionStatus string

const (
	// SessionStatusUpcoming は開始前。
	SessionStatusUpcoming SessionStatus = "upcoming"
	// SessionStatusOngoing は開催中。
	SessionStatusOngoing SessionStatus = "ongoing"
	// SessionStatusCompleted は終了済み。
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusCancelled はキャンセル済み。
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Session は主催者と参加者の1対1のスケジュール済みセッション。
type Session struct {
	ID              string        `db:"id"`
	OrganizerID     string        `db:"organizer_id"`
	ParticipantID   string        `db:"participant_id"`
	Title           string        `db:"title"`
	ScheduledAt     time.Time     `db:"scheduled_at"`
	DurationMinutes int           `db:"duration_minutes"`
	Status          SessionStatus `db:"status"`
	CreatedAt       time.Time     `db:"created_at"`
}

// IsMember は指定ユーザーが主催者または参加者かを返す。
func (s *Session) IsMember(userID string) bool {
	return userID != "" && (s.OrganizerID == userID || s.ParticipantID == userID)
}

// EndsAt はセッションの終了予定時刻を返す。
func (s *Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// GroupSession は作成者1人と複数の参加者によるセッション。
// 参加者は結合テーブル group_session_participants で管理される。
type GroupSession struct {
	ID               string        `db:"id"`
	CreatorID        string        `db:"creator_id"`
	Title            string        `db:"title"`
	ScheduledAt      time.Time     `db:"scheduled_at"`
	DurationMinutes  int           `db:"duration_minutes"`
	MaxParticipants  int           `db:"max_participants"`
	Status           SessionStatus `db:"status"`
	CreatedAt        time.Time     `db:"created_at"`
	ParticipantCount int           `db:"participant_count"`
}
