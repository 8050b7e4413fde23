package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("repository: duplicate row")
	// ErrNotFound は更新対象の行が存在しないことを表す。
	ErrNotFound = errors.New("repository: row not found")
	// ErrCapacityReached はグループセッションの定員超過を表す。
	ErrCapacityReached = errors.New("repository: capacity reached")
	// ErrAlreadyJoined はグループセッションへの参加済みを表す。
	ErrAlreadyJoined = errors.New("repository: already joined")
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"

	pqClassConnectionException   = "08"
	pqClassTransactionRollback   = "40"
	pqClassInsufficientResources = "53"
	pqClassOperatorIntervention  = "57"
)

// IsTransient は再試行で回復し得る一時的なエラーかどうかを返す。
// 接続断、タイムアウト、シリアライズ失敗、DB側の一時的なリソース不足を一時的とみなす。
// 呼び出し元のコンテキストがキャンセルされた場合は一時的とみなさない。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code.Class()) {
		case pqClassConnectionException, pqClassTransactionRollback,
			pqClassInsufficientResources, pqClassOperatorIntervention:
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// IsMissingUser は外部キー違反のうち、参照先のusers行が存在しないものかを返す。
// 認証基盤でサインインしたがプロフィール行がまだ無いユーザーの書き込みで起きる。
func IsMissingUser(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pqForeignKeyViolation {
		return false
	}
	return strings.Contains(pqErr.Detail, `table "users"`)
}
