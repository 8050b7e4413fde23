package handler

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/skillswap/internal/middleware"
)

//go:embed templates/shell.html
var templateFS embed.FS

var shellTemplate = template.Must(template.ParseFS(templateFS, "templates/shell.html"))

// pageTitles はシェルを返すページパスとタイトルの対応。
var pageTitles = map[string]string{
	"/":              "ホーム",
	"/login":         "ログイン",
	"/signup":        "新規登録",
	"/profile":       "プロフィール",
	"/dashboard":     "ダッシュボード",
	"/connections":   "つながり",
	"/messages":      "メッセージ",
	"/sessions":      "セッション",
	"/notifications": "通知",
}

type shellData struct {
	Page          string
	Title         string
	Authenticated bool
}

// ShellPage はクライアント側で描画するページの静的シェルを返す。
// アクセス可否はゲートが決めるため、ここでは判定しない。
func ShellPage(page string) http.HandlerFunc {
	title, ok := pageTitles[page]
	if !ok {
		title = "SkillSwap"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		err := shellTemplate.Execute(&buf, shellData{
			Page:          page,
			Title:         title,
			Authenticated: !middleware.IdentityFromContext(r.Context()).IsAnonymous(),
		})
		if err != nil {
			slog.Error("failed to render shell page", slog.String("page", page), slog.String("error", err.Error()))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(buf.Bytes())
	}
}

// HealthChecker はデータベース疎通確認のインターフェース。*sqlx.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Health はデータベースに疎通できれば200、できなければ503を返す。
// GET /health
func Health(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
