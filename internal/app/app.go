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

	"github.com/hitoshi/atelier/internal/auth"
	"github.com/hitoshi/atelier/internal/config"
	"github.com/hitoshi/atelier/internal/csrf"
	"github.com/hitoshi/atelier/internal/database"
	"github.com/hitoshi/atelier/internal/handler"
	"github.com/hitoshi/atelier/internal/imagestore"
	"github.com/hitoshi/atelier/internal/logger"
	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/project"
	"github.com/hitoshi/atelier/internal/repository"
	"github.com/hitoshi/atelier/internal/security"
	"github.com/hitoshi/atelier/internal/worker/cleanup"
)

const (
	// adminPrefix は管理画面のパス。
	adminPrefix = "/admin"
	// adminLoginPath はログイン画面のパス。
	adminLoginPath = "/admin/login"
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// LOG_LEVELは.envからも読まれるため、設定確定後に再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
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
	ctx := context.Background()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	projectRepo := repository.NewPostgresProjectRepo(db)
	authRepo := repository.NewPostgresAuthRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. CSRF
	limiter, err := newAttemptLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	csrfService := csrf.NewService(csrf.Config{
		CookieSecure:      cfg.CookieSecure,
		CookieDomain:      cfg.CookieDomain,
		TokenMaxAge:       cfg.CSRFTokenMaxAge,
		ExemptPaths:       cfg.CSRFExemptPaths,
		SessionCookieName: auth.SessionCookieName,
	}, limiter)
	defer csrfService.Close()

	// 5. ドメインサービスの初期化
	authService := auth.NewService(authRepo, auth.ServiceConfig{
		SessionTTL: cfg.SessionTTL,
		BcryptCost: cfg.BcryptCost,
	})

	store, mediaRoot, err := newImageStore(ctx, cfg)
	if err != nil {
		return err
	}
	projectService := project.NewService(
		projectRepo, store, security.NewTextSanitizer(), collector,
		project.ServiceConfig{MaxUploadBytes: cfg.UploadMaxBytes},
	)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitUpload),
	)
	defer rateLimiter.Stop()

	cookie := auth.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CSRF:              csrfService,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxy:        cfg.TrustProxy,
		AdminGate: middleware.AdminGateConfig{
			Prefix:    adminPrefix,
			LoginPath: adminLoginPath,
		},

		AuthService: authService,
		Cookie:      cookie,

		ProjectService: projectService,
		ProjectConfig:  handler.ProjectHandlerConfig{RequestMaxBytes: cfg.RequestMaxBytes},

		DB:             db,
		StoreTimeout:   cfg.DBConnectTimeout,
		MetricsHandler: metrics.Handler(registry),

		MediaPrefix: cfg.UploadURLPrefix,
		MediaRoot:   mediaRoot,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("image_storage", cfg.ImageStorage),
			slog.String("rate_limit_store", cfg.RateLimitStore),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newAttemptLimiter はRATE_LIMIT_STOREに応じたCSRF失敗カウンタを生成する。
func newAttemptLimiter(ctx context.Context, cfg *config.Config) (csrf.AttemptLimiter, error) {
	limiterCfg := csrf.LimiterConfig{
		MaxFailures: cfg.CSRFMaxFailedAttempts,
		Window:      cfg.CSRFRateWindow,
	}

	switch cfg.RateLimitStore {
	case config.RateLimitStoreRedis:
		client, err := csrf.NewRedisClient(ctx, cfg.RedisURL, cfg.DBConnectTimeout)
		if err != nil {
			return nil, err
		}
		slog.Info("csrf limiter uses redis")
		return csrf.NewRedisLimiter(client, limiterCfg, nil), nil
	default:
		return csrf.NewMemoryLimiter(limiterCfg, nil), nil
	}
}

// newImageStore はIMAGE_STORAGEに応じた画像ストアを生成する。
// ファイルシステムの場合は配信用のルートディレクトリも返す。
func newImageStore(ctx context.Context, cfg *config.Config) (imagestore.Store, string, error) {
	switch cfg.ImageStorage {
	case config.ImageStorageFilesystem:
		store, err := imagestore.NewFilesystemStore(cfg.UploadDir, cfg.UploadURLPrefix)
		if err != nil {
			return nil, "", fmt.Errorf("failed to init filesystem image store: %w", err)
		}
		return store, store.Root(), nil

	case config.ImageStorageS3:
		store, err := imagestore.NewS3Store(imagestore.S3Config{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			UseSSL:        cfg.S3UseSSL,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to init s3 image store: %w", err)
		}
		bucketCtx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
		defer cancel()
		if err := store.EnsureBucket(bucketCtx); err != nil {
			return nil, "", fmt.Errorf("failed to prepare s3 bucket: %w", err)
		}
		return store, "", nil

	default:
		return imagestore.NewEmbeddedStore(), "", nil
	}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの削除を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewSessionCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("session_sweep_interval", cfg.SessionSweepInterval),
	)

	// メインgoroutineで実行（ブロッキング）
	cleanupJob.RunEvery(ctx, cfg.SessionSweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
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
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
