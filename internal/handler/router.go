package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/skillswap/internal/gatekeeper"
	"github.com/hitoshi/skillswap/internal/metrics"
	"github.com/hitoshi/skillswap/internal/middleware"
	"github.com/hitoshi/skillswap/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ゲート
	RouteTable *gatekeeper.Table
	Propagator *session.Propagator

	// 認証
	AuthService AuthServiceInterface

	// ドメイン
	ConnectionService   ConnectionServiceInterface
	NotificationService NotificationServiceInterface
	SessionLister       SessionListerInterface
	SchedulingService   SchedulingServiceInterface
	ProfileService      ProfileServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Gate → (API: RateLimit → CSRF)
//
// ゲートは全ルートを包み、パスの分類に応じてIdentityの解決とリダイレクト・401を行う。
// /health と /metrics は分類表で除外されているためIdentityを解決しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewGateMiddleware(deps.RouteTable, deps.Propagator, deps.Metrics))

	authHandler := NewAuthHandler(deps.AuthService, deps.Propagator.Policy())
	connHandler := NewConnectionHandler(deps.ConnectionService)
	notifHandler := NewNotificationHandler(deps.NotificationService)
	sessHandler := NewSessionHandler(deps.SessionLister, deps.SchedulingService)
	profileHandler := NewProfileHandler(deps.ProfileService)

	// --- 運用 ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証（公開） ---
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/signup", authHandler.Signup)
		r.Post("/logout", authHandler.Logout)
	})

	// --- ページ ---
	for page := range pageTitles {
		r.Get(page, ShellPage(page))
	}
	r.Get("/messages/{id}", ShellPage("/messages"))

	// --- API ---
	// ミドルウェアスタック: RateLimit(General) → CSRF
	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware())

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler().ServeHTTP)
		r.Get("/me", authHandler.Me)

		r.Get("/profile", profileHandler.GetProfile)
		r.Patch("/profile", profileHandler.UpdateProfile)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", connHandler.ListConnections)

			r.Route("/requests", func(r chi.Router) {
				r.Get("/", connHandler.ListIncomingRequests)
				r.Post("/", connHandler.RequestConnection)
				r.Post("/{id}/accept", connHandler.AcceptRequest)
				r.Post("/{id}/reject", connHandler.RejectRequest)
			})

			r.Route("/{id}/messages", func(r chi.Router) {
				r.Get("/", connHandler.ListMessages)
				// メッセージ送信は専用のレート制限を追加
				r.With(deps.RateLimiter.MessageMiddleware()).Post("/", connHandler.SendMessage)
				r.Post("/read", connHandler.MarkMessagesRead)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessHandler.ListSessions)
			r.Post("/", sessHandler.ScheduleSession)
			r.Post("/{id}/cancel", sessHandler.CancelSession)
		})

		r.Route("/group-sessions", func(r chi.Router) {
			r.Get("/", sessHandler.ListGroupSessions)
			r.Post("/", sessHandler.CreateGroupSession)
			r.Post("/{id}/join", sessHandler.JoinGroupSession)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notifHandler.ListNotifications)
			r.Post("/read-all", notifHandler.MarkAllRead)
			r.Post("/{id}/read", notifHandler.MarkRead)
		})
	})

	return r
}
