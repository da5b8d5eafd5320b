package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/pryv/bridge-thryve/internal/config"
	"github.com/pryv/bridge-thryve/internal/database"
	"github.com/pryv/bridge-thryve/internal/handler"
	"github.com/pryv/bridge-thryve/internal/logger"
	"github.com/pryv/bridge-thryve/internal/metrics"
	"github.com/pryv/bridge-thryve/internal/middleware"
	"github.com/pryv/bridge-thryve/internal/repository"
	"github.com/pryv/bridge-thryve/internal/security"
	"github.com/pryv/bridge-thryve/internal/source"
	bridgesync "github.com/pryv/bridge-thryve/internal/sync"
	"github.com/pryv/bridge-thryve/internal/target"
	"github.com/pryv/bridge-thryve/internal/worker/syncer"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildSyncService は同期パイプラインの依存関係をワイヤリングする。
// serveモードとworkerモードで共通の構築処理。
func buildSyncService(
	cfg *config.Config,
	repo repository.UserLinkRepository,
	guard security.SSRFGuardService,
	reg prometheus.Registerer,
) (*bridgesync.Service, *source.Client) {
	sourceClient := source.NewClient(
		&http.Client{Timeout: cfg.ThryveTimeout},
		slog.Default(),
		cfg.ThryveAPIBase,
		source.Credentials{
			AuthUser:     cfg.ThryveAuthUser,
			AuthPassword: cfg.ThryveAuthPassword,
			AppID:        cfg.ThryveAppID,
		},
	)

	// Pryvエンドポイントはユーザー入力のURLのため、SSRF防止付きクライアントで接続する
	targetClient := target.NewClient(
		guard.NewSafeClient(cfg.PryvTimeout),
		slog.Default(),
		cfg.PryvMaxBodySize,
	)

	collector := metrics.NewCollector(reg)

	svc := bridgesync.NewService(
		repo, sourceClient, targetClient, collector, slog.Default(),
		bridgesync.ServiceConfig{
			MaxConcurrent: cfg.SyncMaxConcurrent,
			BacklogAge:    cfg.SyncBacklogAge,
		},
	)

	return svc, sourceClient
}

// startMetricsServer はPrometheusスクレイプ用のメトリクスサーバーを起動する。
// 返されるshutdown関数でグレースフルに停止できる。
func startMetricsServer(port string, gatherer prometheus.Gatherer) func(ctx context.Context) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      metrics.SetupMetricsRoute(gatherer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		slog.Info("metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	return server.Shutdown
}

// runServe はAPIサーバーモードで起動する。
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

	// 2. リポジトリとセキュリティサービスの初期化
	userLinkRepo := repository.NewPostgresUserLinkRepo(db)
	ssrfGuard := security.NewSSRFGuard()

	// 3. 同期パイプラインの構築
	registry := prometheus.NewRegistry()
	syncService, sourceClient := buildSyncService(cfg, userLinkRepo, ssrfGuard, registry)

	// 4. ルーターの構築
	rateLimiterCfg := middleware.RateLimiterConfig{
		// configのレートはreq/min単位なのでreq/secに変換する
		GeneralRate:       rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:      cfg.RateLimitGeneral,
		RegistrationRate:  rate.Limit(float64(cfg.RateLimitRegistration) / 60.0),
		RegistrationBurst: cfg.RateLimitRegistration,
		CleanupInterval:   5 * time.Minute,
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,

		HealthChecker: db,

		RegistrationService: syncService,
		UserLinkFinder:      userLinkRepo,
		UserInfoFetcher:     sourceClient,
		EndpointValidator:   ssrfGuard,

		TriggerService: syncService,
	})

	// 5. メトリクスサーバーの起動
	shutdownMetrics := startMetricsServer(cfg.MetricsPort, registry)

	// 6. HTTPサーバーの起動
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

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := shutdownMetrics(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、定期同期スケジューラを起動する。
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

	// 2. 同期パイプラインの構築
	userLinkRepo := repository.NewPostgresUserLinkRepo(db)
	ssrfGuard := security.NewSSRFGuard()

	registry := prometheus.NewRegistry()
	syncService, _ := buildSyncService(cfg, userLinkRepo, ssrfGuard, registry)

	// 3. スケジューラの構築
	scheduler := syncer.NewScheduler(syncService, slog.Default())

	// 4. メトリクスサーバーの起動
	shutdownMetrics := startMetricsServer(cfg.MetricsPort, registry)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// 定期同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := shutdownMetrics(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

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
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
