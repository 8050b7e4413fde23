package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Options はロガーの出力設定。
type Options struct {
	Level         string // debug, info, warn, error
	File          string // 空でなければ日次ローテーションのファイルにも出力する
	RetentionDays int
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。未知の値はInfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はOptionsに従ってグローバルロガーを設定する。
// wがnilの場合はos.Stdoutに出力する。
// Fileが指定された場合はwと日次ローテーションファイルの両方に出力する。
// 返されるio.Closerはプロセス終了時に閉じる。
func SetupDefault(w io.Writer, opts Options) (io.Closer, error) {
	if w == nil {
		w = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rl, err := newRotateWriter(opts.File, opts.RetentionDays)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(w, rl)
		closer = rl
	}

	slog.SetDefault(Setup(w, ParseLevel(opts.Level)))
	return closer, nil
}

// newRotateWriter は path.YYYYMMDD 形式で日次ローテーションするwriterを生成する。
// pathにはローテーション後の最新ファイルへのシンボリックリンクが張られる。
func newRotateWriter(path string, retentionDays int) (*rotatelogs.RotateLogs, error) {
	if retentionDays <= 0 {
		retentionDays = 14
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log file path: %w", err)
	}

	rl, err := rotatelogs.New(
		abs+".%Y%m%d",
		rotatelogs.WithLinkName(abs),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(retentionDays)*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open rotating log file: %w", err)
	}
	return rl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
