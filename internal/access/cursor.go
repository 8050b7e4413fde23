package access

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/skillswap/internal/model"
	"github.com/hitoshi/skillswap/internal/repository"
)

// ページサイズ
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// normalizeLimit は未指定・範囲外のlimitを丸める。
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// encodeCursor はキーセット位置を不透明な文字列にする。
// PostgreSQLのtimestamptzはマイクロ秒精度なので、マイクロ秒で保存すれば往復で値が変わらない。
func encodeCursor(at time.Time, id string) string {
	raw := strconv.FormatInt(at.UnixMicro(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor はカーソル文字列をキーセット位置に戻す。空文字列はnilを返す。
func decodeCursor(cursor string) (*repository.Keyset, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, model.NewInvalidInputError("無効なカーソル値です")
	}
	micros, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, model.NewInvalidInputError("無効なカーソル値です")
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return nil, model.NewInvalidInputError("無効なカーソル値です")
	}
	return &repository.Keyset{At: time.UnixMicro(us).UTC(), ID: id}, nil
}

// paginate はlimit+1件で取得した結果をページにする。
func paginate[T any](items []T, limit int, key func(T) (time.Time, string)) *model.Page[T] {
	page := &model.Page[T]{Items: items}
	if page.Items == nil {
		page.Items = []T{}
	}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		at, id := key(page.Items[limit-1])
		page.NextCursor = encodeCursor(at, id)
	}
	return page
}
