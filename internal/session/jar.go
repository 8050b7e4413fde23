package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/model"
)

type jarKey struct{}

// jar はリクエスト処理中に積まれたCookie変更を保持する。
// レスポンスヘッダーが最初に書き込まれた時点で一括反映し、以降の変更は破棄する。
type jar struct {
	policy  *Policy
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu        sync.Mutex
	pending   []*http.Cookie
	committed bool
}

// SetCredential はクレデンシャルの保存をレスポンスに予約する。
// レスポンス変更が許されない文脈では破棄してfalseを返す。エラーにはしない。
func SetCredential(ctx context.Context, cred *model.Credential) bool {
	j, ok := ctx.Value(jarKey{}).(*jar)
	if !ok {
		dropWithoutJar("set_credential")
		return false
	}
	return j.add("set_credential", j.policy.Write(cred)...)
}

// ClearCredential はクレデンシャルCookieの削除をレスポンスに予約する。
func ClearCredential(ctx context.Context) bool {
	j, ok := ctx.Value(jarKey{}).(*jar)
	if !ok {
		dropWithoutJar("clear_credential")
		return false
	}
	return j.add("clear_credential", j.policy.Clear()...)
}

// SetCookie はポリシーの属性でCookieの保存を予約する。CSRFトークンなどに使う。
func SetCookie(ctx context.Context, name, value string, maxAge int) bool {
	j, ok := ctx.Value(jarKey{}).(*jar)
	if !ok {
		dropWithoutJar("set_cookie")
		return false
	}
	return j.add("set_cookie", j.policy.Cookie(name, value, maxAge))
}

func dropWithoutJar(op string) {
	slog.Warn("cookie mutation dropped: response is not mutable here",
		slog.String("operation", op),
	)
}

func (j *jar) add(op string, cookies ...*http.Cookie) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.committed {
		j.metrics.RecordDroppedCookieMutation()
		j.logger.Warn("cookie mutation dropped: response already committed",
			slog.String("operation", op),
		)
		return false
	}
	j.pending = append(j.pending, cookies...)
	return true
}

// commit は保留中の変更をヘッダーに反映する。コンテキストがキャンセル済みなら何も反映しない。
func (j *jar) commit(ctx context.Context, h http.Header) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.committed {
		return
	}
	j.committed = true

	pending := j.pending
	j.pending = nil

	if len(pending) == 0 {
		return
	}
	if ctx.Err() != nil {
		j.logger.Debug("cookie mutations discarded: request cancelled",
			slog.Int("count", len(pending)),
		)
		return
	}

	for _, c := range dedupeByName(pending) {
		if v := c.String(); v != "" {
			h.Add("Set-Cookie", v)
		}
	}
}

// dedupeByName は同名のCookieのうち最後に積まれたものだけを残す。順序は最後の出現位置に従う。
func dedupeByName(cookies []*http.Cookie) []*http.Cookie {
	last := make(map[string]int, len(cookies))
	for i, c := range cookies {
		last[c.Name] = i
	}
	out := make([]*http.Cookie, 0, len(last))
	for i, c := range cookies {
		if last[c.Name] == i {
			out = append(out, c)
		}
	}
	return out
}

// Commit はハンドラーが何も書き込まずに戻った場合に保留中の変更を反映する。
// Beginが返したライター以外では何もしない。
func Commit(w http.ResponseWriter) {
	if cw, ok := w.(*commitWriter); ok {
		cw.jar.commit(cw.ctx, cw.ResponseWriter.Header())
	}
}

// commitWriter は最初のヘッダー書き込みでjarを反映するResponseWriter。
type commitWriter struct {
	http.ResponseWriter
	jar *jar
	ctx context.Context
}

func (w *commitWriter) WriteHeader(code int) {
	w.jar.commit(w.ctx, w.ResponseWriter.Header())
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.jar.commit(w.ctx, w.ResponseWriter.Header())
	return w.ResponseWriter.Write(b)
}

// Flush はhttp.Flusherを実装する。
func (w *commitWriter) Flush() {
	w.jar.commit(w.ctx, w.ResponseWriter.Header())
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap はhttp.ResponseControllerのために元のライターを返す。
func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
