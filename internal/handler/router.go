package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskdesk/internal/metrics"
	"github.com/hitoshi/taskdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger             // nilの場合はslog.Default()
	Metrics           metrics.MetricsCollector // nilの場合は記録しない
	MetricsHandler    http.Handler             // nilの場合は/metricsを公開しない
	HealthChecker     HealthChecker
	TrustedProxies    []netip.Prefix // 空の場合は転送ヘッダーを参照しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// リソース
	TaskService TaskServiceInterface
	TodoService TodoServiceInterface
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP(信頼済みプロキシのみ) → Logging → Metrics → SecurityHeaders → CORS
//	  /auth/{register,login,forgot-password,reset-password}: + RateLimit(Auth, IP単位)
//	  /auth/me, /api/*: + Auth → RateLimit(General, ユーザー単位)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewTrustedRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "not found"})
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	taskHandler := NewTaskHandler(deps.TaskService)
	todoHandler := NewTodoHandler(deps.TodoService)
	userHandler := NewUserHandler(deps.UserService)
	authenticate := middleware.NewAuthMiddleware(deps.TokenVerifier, deps.UserFinder)

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート ---
	r.Route("/auth", func(r chi.Router) {
		// 資格情報を扱うエンドポイントはIP単位で制限する
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		// Googleログインは設定されている場合のみ公開する
		if deps.AuthService.OAuthEnabled() {
			r.Get("/google", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
		}

		r.Post("/logout", authHandler.Logout)

		r.With(authenticate, deps.RateLimiter.GeneralMiddleware()).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// タスク管理
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.ListTasks)
			r.Post("/", taskHandler.CreateTask)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.GetTask)
				r.Put("/", taskHandler.UpdateTask)
				r.Delete("/", taskHandler.DeleteTask)
				r.Patch("/toggle", taskHandler.ToggleTaskStatus)
			})
		})

		// Todo管理
		r.Route("/todos", func(r chi.Router) {
			r.Get("/", todoHandler.ListTodos)
			r.Post("/", todoHandler.CreateTodo)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", todoHandler.UpdateTodo)
				r.Delete("/", todoHandler.DeleteTodo)
				r.Patch("/toggle", todoHandler.ToggleTodo)
			})
		})

		// ユーザー管理
		r.Delete("/users/me", userHandler.Withdraw)
	})

	return r
}
