package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/skillswap/internal/access"
	"github.com/hitoshi/skillswap/internal/auth"
	"github.com/hitoshi/skillswap/internal/config"
	"github.com/hitoshi/skillswap/internal/database"
	"github.com/hitoshi/skillswap/internal/gatekeeper"
	"github.com/hitoshi/skillswap/internal/handler"
	"github.com/hitoshi/skillswap/internal/identity"
	"github.com/hitoshi/skillswap/internal/logger"
	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/notification"
	"github.com/hitoshi/skillswap/internal/profile"
	"github.com/hitoshi/skillswap/internal/repository"
	"github.com/hitoshi/skillswap/internal/scheduling"
	"github.com/hitoshi/skillswap/internal/security"
	"github.com/hitoshi/skillswap/internal/session"
	"github.com/hitoshi/skillswap/internal/worker/cleanup"
)

// staticAccessTokenTTL は固定ユーザー戦略で発行するアクセストークンの有効期間。
const staticAccessTokenTTL = time.Hour

// Init はアプリケーションの初期化を行う。
// まずINFOレベルのJSONログを設定し、環境変数からConfigを読み込んだ後に
// LOG_LEVELとLOG_FILEに従ってロガーを設定し直す。
// 返されるio.Closerはログファイルを閉じるため、プロセス終了時に呼び出す。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	if _, err := logger.SetupDefault(w, logger.Options{}); err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってロガーを再設定する
	closer, err := logger.SetupDefault(w, logger.Options{
		Level:         cfg.LogLevel,
		File:          cfg.LogFile,
		RetentionDays: cfg.LogRetentionDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	return cfg, closer, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, closer, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("auth_provider", cfg.AuthProvider),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		action, ok := ParseMigrateAction(args)
		if !ok {
			return fmt.Errorf("unknown migrate action: %q (allowed: up, down, version)", args[1])
		}
		return runMigrate(cfg, action)
	default:
		return runServe(cfg)
	}
}

// runServe はHTTPサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス（プロセス専用のレジストリ）
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	repos := access.Repositories{
		Users:         repository.NewPostgresUserRepo(db),
		Connections:   repository.NewPostgresConnectionRepo(db),
		Messages:      repository.NewPostgresMessageRepo(db),
		Sessions:      repository.NewPostgresSessionRepo(db),
		GroupSessions: repository.NewPostgresGroupSessionRepo(db),
		Notifications: repository.NewPostgresNotificationRepo(db),
	}

	// 4. セキュリティサービスの初期化
	sanitizer := security.NewContentSanitizer()
	ssrfGuard := security.NewSSRFGuard(cfg.UpstreamTimeout)

	// 5. ドメインサービスの初期化
	upstream := &access.Upstream{Timeout: cfg.UpstreamTimeout, Metrics: collector, Logger: slog.Default()}
	emitter := notification.NewEmitter(repos.Notifications, collector, slog.Default())

	accessService := access.NewService(repos, emitter, sanitizer, upstream)
	schedulingService := scheduling.NewService(repos.Connections, repos.Sessions, repos.GroupSessions, emitter, sanitizer, upstream)
	profileService := profile.NewService(repos.Users, sanitizer, ssrfGuard, cfg.ProfileImageProbe, upstream)

	// 6. 認証とゲートの初期化
	authn, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}
	verifier := identity.NewTokenVerifier(cfg.AuthJWTSecret)
	resolver := identity.NewResolver(verifier, authn, cfg.UpstreamTimeout, collector, slog.Default())
	propagator := session.NewPropagator(session.NewPolicy(session.PolicyConfig{
		AuthCookieName:    cfg.AuthCookieName,
		RefreshCookieName: cfg.RefreshCookieName,
		Domain:            cfg.CookieDomain,
		Secure:            cfg.CookieSecure,
		MaxAge:            cfg.CredentialMaxAge,
	}), resolver, collector, slog.Default())

	routeTable, err := loadRouteTable(cfg.RoutesFile)
	if err != nil {
		return err
	}

	// 7. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitMessage))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		RouteTable: routeTable,
		Propagator: propagator,

		AuthService: auth.NewService(authn, verifier, profileService),

		ConnectionService:   accessService,
		NotificationService: accessService,
		SessionLister:       accessService,
		SchedulingService:   schedulingService,
		ProfileService:      profileService,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// authenticator はサインインとリフレッシュの両方を担う認証戦略。
type authenticator interface {
	auth.Authenticator
	identity.Refresher
}

// newAuthenticator は設定に応じて外部認証サービスまたは固定ユーザーの戦略を返す。
func newAuthenticator(cfg *config.Config) (authenticator, error) {
	switch cfg.AuthProvider {
	case config.AuthProviderStatic:
		users, err := identity.LoadStaticUsers(cfg.StaticUsersFile)
		if err != nil {
			return nil, err
		}
		issuer := identity.NewTokenIssuer(cfg.AuthJWTSecret, "skillswap-static", staticAccessTokenTTL)
		provider, err := identity.NewStaticProvider(users, issuer, time.Duration(cfg.CredentialMaxAge)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to create static provider: %w", err)
		}
		slog.Warn("static identity provider is enabled; do not use outside development",
			slog.Int("users", len(users)),
		)
		return provider, nil
	default:
		return auth.NewBaaSClient(auth.BaaSConfig{
			BaseURL: cfg.BaaSURL,
			AnonKey: cfg.BaaSAnonKey,
			Timeout: cfg.UpstreamTimeout,
		}), nil
	}
}

// loadRouteTable はROUTES_FILEが指定されていればその分類表を、なければ組み込みの表を返す。
func loadRouteTable(path string) (*gatekeeper.Table, error) {
	if path == "" {
		return gatekeeper.DefaultTable(), nil
	}
	table, err := gatekeeper.LoadTable(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load route table: %w", err)
	}
	slog.Info("route table loaded", slog.String("path", path), slog.Int("rules", len(table.Rules)))
	return table, nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、通知のクリーンアップとセッション状態の更新を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリとサービスの初期化
	notifRepo := repository.NewPostgresNotificationRepo(db)
	schedulingService := scheduling.NewService(
		repository.NewPostgresConnectionRepo(db),
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresGroupSessionRepo(db),
		nil, nil, nil,
	)

	// 3. ジョブの登録
	scheduler := cleanup.NewScheduler(slog.Default()).
		Every(24*time.Hour, cleanup.NewRetentionJob(notifRepo, slog.Default(), cfg.NotificationRetentionDays)).
		Every(cfg.SessionStatusInterval, cleanup.NewStatusJob(schedulingService, slog.Default()))

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Int("notification_retention_days", cfg.NotificationRetentionDays),
		slog.Duration("session_status_interval", cfg.SessionStatusInterval),
	)

	// シグナルを受けるまでブロックする
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("database migrations completed",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
