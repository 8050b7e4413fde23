// Package repository はデータ永続化のインターフェースを定義する。
//
// リポジトリはユーザーIDを引数に取るが、そのIDが認証済みの本人かどうかは検証しない。
// 所有者の検証はaccessパッケージが行い、ハンドラーから直接呼び出さないこと。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/skillswap/internal/model"
)

// Keyset はキーセットページネーションの位置（タイムスタンプとタイブレーク用ID）。
type Keyset struct {
	At time.Time
	ID string
}

// UserRepository はユーザープロフィールの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Upsert はサインイン時のプロフィール行を作成または更新する。
	// 既存行の氏名・画像URLが空の場合のみ認証基盤の値で補完し、ユーザーの編集内容は上書きしない。
	Upsert(ctx context.Context, user *model.User) (*model.User, error)

	// UpdateProfile はプロフィールの編集可能項目を更新する。見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*model.User, error)

	// FindSummaries は指定ID群の表示用情報を取得する。存在しないIDは結果に含まれない。
	FindSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error)
}

// ProfileUpdate はプロフィール更新の入力。nilの項目は変更しない。
type ProfileUpdate struct {
	FullName        *string
	Bio             *string
	ProfileImageURL *string
}

// ConnectionRepository はつながりリクエストの永続化インターフェース。
type ConnectionRepository interface {
	// FindByID は指定IDのリクエストを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ConnectionRequest, error)

	// FindActiveBetween は2人の間の承認待ちまたは承認済みリクエストを向きに関係なく取得する。
	// 見つからない場合はnilを返す。
	FindActiveBetween(ctx context.Context, userA, userB string) (*model.ConnectionRequest, error)

	// Create はリクエストを作成する。同じ2人の間に有効なリクエストがある場合はErrDuplicateを返す。
	Create(ctx context.Context, req *model.ConnectionRequest) error

	// Respond は受信者による承認待ちリクエストの状態遷移を1回の条件付きUPDATEで行う。
	// 条件に一致する行がない場合（受信者でない、承認待ちでない）はnilを返す。
	Respond(ctx context.Context, id, receiverID string, to model.RequestStatus) (*model.ConnectionRequest, error)

	// ListAccepted は指定ユーザーが送信者または受信者である承認済みリクエストを相手の情報付きで返す。
	// 承認日時の昇順、同時刻はリクエストIDの昇順。重複は除去しない。
	ListAccepted(ctx context.Context, userID string) ([]ConnectionRow, error)

	// ListIncomingPending は指定ユーザー宛ての承認待ちリクエストを送信者の情報付きで返す。
	ListIncomingPending(ctx context.Context, receiverID string) ([]IncomingRow, error)
}

// ConnectionRow は承認済みリクエスト1行と相手ユーザーの情報。
type ConnectionRow struct {
	ConnectionID string            `db:"connection_id"`
	Since        time.Time         `db:"since"`
	Other        model.UserSummary `db:"other"`
}

// IncomingRow は承認待ちリクエスト1行と送信者の情報。
type IncomingRow struct {
	RequestID string            `db:"request_id"`
	CreatedAt time.Time         `db:"created_at"`
	Sender    model.UserSummary `db:"sender"`
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	// ListByConnection はつながりのメッセージを送信日時の昇順で返す。
	// afterが指定された場合はその位置より後ろのみを返す。
	ListByConnection(ctx context.Context, connectionID string, after *Keyset, limit int) ([]*model.Message, error)

	// Create はメッセージを作成する。
	Create(ctx context.Context, msg *model.Message) error

	// MarkRead は読者以外が送信した未読メッセージを既読にし、更新件数を返す。
	MarkRead(ctx context.Context, connectionID, readerID string) (int64, error)
}

// SessionRepository は1対1セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// ListForUser は主催者または参加者であるセッションを開始日時の昇順で返す。
	ListForUser(ctx context.Context, userID string) ([]*model.Session, error)

	// UpdateStatus は現在の状態がfromの場合のみtoへ遷移させる。遷移した場合にtrueを返す。
	UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error)

	// AdvanceStatuses は時刻に応じてupcoming→ongoing→completedへ一括遷移させる。
	AdvanceStatuses(ctx context.Context, now time.Time) (StatusAdvance, error)
}

// StatusAdvance は一括状態遷移の件数。
type StatusAdvance struct {
	Started   int64
	Completed int64
}

// GroupSessionRepository はグループセッションの永続化インターフェース。
type GroupSessionRepository interface {
	// Create はグループセッションを作成する。
	Create(ctx context.Context, gs *model.GroupSession) error

	// FindByID は参加者数付きでグループセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.GroupSession, error)

	// ListForUser は作成者または参加者であるグループセッションを開始日時の昇順で返す。
	ListForUser(ctx context.Context, userID string) ([]*model.GroupSession, error)

	// Join は参加者を追加する。定員に達している場合はErrCapacityReached、
	// 参加済みの場合はErrAlreadyJoined、見つからない場合はErrNotFoundを返す。
	Join(ctx context.Context, groupSessionID, userID string) error

	// AdvanceStatuses は時刻に応じてupcoming→ongoing→completedへ一括遷移させる。
	AdvanceStatuses(ctx context.Context, now time.Time) (StatusAdvance, error)
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知を作成する。
	Create(ctx context.Context, n *model.Notification) error

	// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Notification, error)

	// ListByUser は宛先ユーザーの通知を作成日時の降順で返す。
	// afterが指定された場合はその位置より古いもののみを返す。
	ListByUser(ctx context.Context, userID string, after *Keyset, limit int) ([]*model.Notification, error)

	// CountUnread は宛先ユーザーの未読通知数を返す。
	CountUnread(ctx context.Context, userID string) (int, error)

	// MarkRead は宛先ユーザー本人の通知を既読にする。対象行がない場合はfalseを返す。
	MarkRead(ctx context.Context, id, userID string) (bool, error)

	// MarkAllRead は宛先ユーザーの未読通知をすべて既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, userID string) (int64, error)

	// DeleteReadBefore はcutoffより前に作成された既読通知を削除し、削除件数を返す。
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
