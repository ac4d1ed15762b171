// Package app はアプリケーションの初期化と起動モードごとのワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/taskdesk/internal/auth"
	"github.com/hitoshi/taskdesk/internal/config"
	"github.com/hitoshi/taskdesk/internal/database"
	"github.com/hitoshi/taskdesk/internal/handler"
	"github.com/hitoshi/taskdesk/internal/logger"
	"github.com/hitoshi/taskdesk/internal/mail"
	"github.com/hitoshi/taskdesk/internal/metrics"
	"github.com/hitoshi/taskdesk/internal/middleware"
	"github.com/hitoshi/taskdesk/internal/password"
	"github.com/hitoshi/taskdesk/internal/repository"
	"github.com/hitoshi/taskdesk/internal/task"
	"github.com/hitoshi/taskdesk/internal/todo"
	"github.com/hitoshi/taskdesk/internal/token"
	"github.com/hitoshi/taskdesk/internal/user"
	"github.com/hitoshi/taskdesk/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		printUsage(w)
		return err
	}
	if cmd == CommandHelp {
		printUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. 依存関係のワイヤリング
	deps, err := buildRouterDeps(cfg, db, collector, slog.Default())
	if err != nil {
		return err
	}
	defer deps.RateLimiter.Stop()
	deps.MetricsHandler = metrics.Handler(reg)

	// 4. HTTPサーバーの起動（停止後に送信中のリセットメールを待つ）
	if d, ok := deps.AuthService.(mailDrainer); ok {
		defer d.Wait()
	}
	server := newHTTPServer(cfg.ServerPort, handler.NewRouter(deps))
	return serveUntilSignal(server, "API server")
}

// mailDrainer はバックグラウンドで送信中のメールを待機できるサービス。
type mailDrainer interface {
	Wait()
}

var _ mailDrainer = (*auth.Service)(nil)

// buildRouterDeps はリポジトリ・サービス・ミドルウェア依存を組み立てる。
func buildRouterDeps(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector, log *slog.Logger) (*handler.RouterDeps, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)
	todoRepo := repository.NewPostgresTodoRepo(db)

	// 2. 認証基盤の初期化
	issuer, err := token.NewIssuer(token.Config{
		Secret: cfg.JWTSecret,
		TTL:    cfg.JWTTTL,
		Issuer: cfg.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	mailer, err := newMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(
		userRepo,
		password.NewBcryptHasher(cfg.BcryptCost),
		issuer,
		newOAuthProvider(cfg),
		mailer,
		collector,
		auth.ServiceConfig{
			ResetTokenTTL: cfg.ResetTokenTTL,
			FrontendURL:   cfg.FrontendURL,
			MailTimeout:   cfg.SMTPTimeout,
		},
	)

	// 3. リソースサービスの初期化
	taskService := task.NewService(taskRepo)
	todoService := todo.NewService(todoRepo)
	userService := user.NewService(userRepo)

	return &handler.RouterDeps{
		TokenVerifier:     issuer,
		UserFinder:        userRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		Logger:            log,
		Metrics:           collector,
		HealthChecker:     db,
		TrustedProxies:    cfg.TrustedProxyPrefixes,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:  cfg.FrontendURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		TaskService: taskService,
		TodoService: todoService,
		UserService: userService,
	}, nil
}

// newOAuthProvider はGoogleログインが設定されていればプロバイダーを返す。
// 未設定の場合はnilインターフェースを返し、OAuthルートは公開されない。
func newOAuthProvider(cfg *config.Config) auth.OAuthProvider {
	if !cfg.GoogleEnabled() {
		return nil
	}
	return auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Timeout:      cfg.OAuthHTTPTimeout,
	})
}

// newMailer はSMTPが設定されていればSMTPMailerを、そうでなければログ出力のMailerを返す。
func newMailer(cfg *config.Config, log *slog.Logger) (mail.Mailer, error) {
	if !cfg.SMTPEnabled() {
		log.Warn("SMTP_SERVER is not set; reset mails are written to the log")
		return mail.NewLogMailer(log), nil
	}
	m, err := mail.NewSMTPMailer(mail.SMTPConfig{
		Server:   cfg.SMTPServer,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.SMTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP mailer: %w", err)
	}
	return m, nil
}

// rateLimiterConfig はreq/min単位の設定値からレート制限設定を生成する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	return middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth)
}

// runWorker はワーカーモードで起動する。
// 期限切れリセットトークンのクリーンアップを定期実行し、
// 同じポートでヘルスチェックとメトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. クリーンアップジョブの初期化
	job := cleanup.NewResetTokenCleanupJob(db, slog.Default(), collector)

	// 4. 運用エンドポイント
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(db))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	server := newHTTPServer(cfg.ServerPort, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("reset_cleanup_interval", cfg.ResetCleanupInterval),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx, cfg.ResetCleanupInterval)
	}()

	err = serveUntilSignal(server, "worker")
	cancel()
	<-done

	slog.Info("worker stopped gracefully")
	return err
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// --- ヘルパー関数 ---

func openDB(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newRegistry はGo・プロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newHTTPServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serveUntilSignal はサーバーを起動し、SIGINT/SIGTERMを受信するとグレースフルシャットダウンする。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-stop:
	}

	slog.Info("shutting down " + name + "...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.Redacted()
}
