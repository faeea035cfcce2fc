// Package app はコマンドの実行と依存関係の組み立てを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/notekeeper/internal/appuser"
	"github.com/hitoshi/notekeeper/internal/auth"
	"github.com/hitoshi/notekeeper/internal/config"
	"github.com/hitoshi/notekeeper/internal/database"
	"github.com/hitoshi/notekeeper/internal/handler"
	"github.com/hitoshi/notekeeper/internal/logger"
	"github.com/hitoshi/notekeeper/internal/metrics"
	"github.com/hitoshi/notekeeper/internal/middleware"
	"github.com/hitoshi/notekeeper/internal/note"
	"github.com/hitoshi/notekeeper/internal/outbox"
	"github.com/hitoshi/notekeeper/internal/repository"
	outboxworker "github.com/hitoshi/notekeeper/internal/worker/outbox"
)

const (
	shutdownTimeout = 30 * time.Second

	privateKeyFile = "token_private.pem"
	publicKeyFile  = "token_public.pem"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func logStartup(cmd Command, cfg *config.Config) {
	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newMetrics はプロセス単位のレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, metrics.NewCollector(registry)
}

// newDispatcher はイベントディスパッチャーを生成し、コンシューマを登録する。
// serveとworkerで同じ登録内容を使う。
func newDispatcher(
	cfg *config.Config,
	publications outbox.Completer,
	notes note.OwnerNoteDeleter,
	collector *metrics.Collector,
) *outbox.Dispatcher {
	d := outbox.NewDispatcher(publications, slog.Default(),
		outbox.WithRecorder(collector),
		outbox.WithAsyncTimeout(cfg.OutboxDispatchTimeout),
	)
	d.Register(outbox.EventAppuserDeleted, "note-cascade",
		note.NewCascadeConsumer(notes, slog.Default(), collector))
	return d
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. トークン鍵
	if err := cfg.RequireTokenKeys(); err != nil {
		return err
	}
	keys, err := auth.LoadKeyPair([]byte(cfg.TokenPrivateKeyPEM), []byte(cfg.TokenPublicKeyPEM))
	if err != nil {
		return fmt.Errorf("failed to load token keys: %w", err)
	}
	if keys.Private == nil {
		return errors.New("serve requires a private key to issue tokens")
	}

	// 2. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. リポジトリとメトリクス
	appuserRepo := repository.NewPostgresAppuserRepo(db)
	noteRepo := repository.NewPostgresNoteRepo(db)
	publicationRepo := repository.NewPostgresEventPublicationRepo(db)
	txManager := repository.NewPostgresTxManager(db)

	registry, collector := newMetrics()

	// 4. 認証
	codec := auth.NewTokenCodec(keys, cfg.TokenIssuer, cfg.TokenLifetime)
	hasher := auth.NewBcryptHasher(0)
	authenticator, err := auth.NewAuthenticator(appuserRepo, codec, hasher, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	// 5. ドメインサービス
	dispatcher := newDispatcher(cfg, publicationRepo, noteRepo, collector)
	defer dispatcher.Wait()

	appuserService := appuser.NewService(
		appuserRepo, txManager, hasher, authenticator, codec, dispatcher,
		appuser.WithRecorder(collector),
	)
	noteService := note.NewService(noteRepo, note.NewSanitizer())

	if cfg.AdminUsername != "" {
		if _, err := appuserService.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to seed admin account: %w", err)
		}
	}

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:              slog.Default(),
		Authenticator:       authenticator,
		AuthFailureRecorder: collector,
		HTTPStatusRecorder:  collector,
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
		RateLimiter:         rateLimiter,
		HealthChecker:       db,
		MetricsHandler:      metrics.Handler(registry),
		AppuserService:      appuserService,
		NoteService:         noteService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
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

// runWorker はワーカーモードで起動する。
// 未完了イベントの再送と完了済みイベントの削除をcronスケジュールで実行し、
// メトリクスサーバーを公開する。ctxがキャンセルされると実行中のジョブを待って終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリとメトリクス
	noteRepo := repository.NewPostgresNoteRepo(db)
	publicationRepo := repository.NewPostgresEventPublicationRepo(db)
	registry, collector := newMetrics()

	// 3. ジョブ
	dispatcher := newDispatcher(cfg, publicationRepo, noteRepo, collector)

	reaper := outboxworker.NewReaper(publicationRepo, slog.Default(), collector)
	reaper.Retention = cfg.OutboxRetentionWindow

	resubmitter := outboxworker.NewResubmitter(publicationRepo, dispatcher, slog.Default(), outboxworker.ResubmitConfig{
		StaleWindow:         cfg.OutboxStaleWindow,
		BatchSize:           cfg.OutboxBatchSize,
		MaxConcurrency:      cfg.OutboxMaxConcurrency,
		EscalationThreshold: cfg.OutboxEscalationThreshold,
	}, collector)

	scheduler := outboxworker.NewScheduler(slog.Default())
	if err := scheduler.Add(cfg.OutboxResubmitSchedule, resubmitter); err != nil {
		return err
	}
	if err := scheduler.Add(cfg.OutboxReaperSchedule, reaper); err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.String("resubmit_schedule", cfg.OutboxResubmitSchedule),
		slog.String("reaper_schedule", cfg.OutboxReaperSchedule),
		slog.Duration("stale_window", cfg.OutboxStaleWindow),
		slog.Int("max_concurrency", cfg.OutboxMaxConcurrency),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("worker metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()

		slog.Info("shutting down worker...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		scheduler.Stop(shutdownCtx)
		dispatcher.Wait()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はすべての未適用マイグレーションを順番に適用する。
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

// runMigrateDown は指定数のマイグレーションをロールバックする。
func runMigrateDown(cfg *config.Config, steps int) error {
	slog.Warn("rolling back database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("steps", steps),
	)

	if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	slog.Info("database rollback completed", slog.Int("steps", steps))
	return nil
}

// runMigrateVersion は現在のマイグレーションバージョンをwに出力する。
func runMigrateVersion(w io.Writer, cfg *config.Config) error {
	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	_, err = fmt.Fprintf(w, "version=%d dirty=%t\n", version, dirty)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// runKeygen はRSA鍵ペアを生成し、dir配下にPEMファイルとして書き出す。
// forceがfalseの場合、既存ファイルは上書きしない。
func runKeygen(w io.Writer, dir string, bits int, force bool) error {
	privatePath := filepath.Join(dir, privateKeyFile)
	publicPath := filepath.Join(dir, publicKeyFile)

	if !force {
		for _, p := range []string{privatePath, publicPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", p)
			}
		}
	}

	keys, err := auth.GenerateKeyPair(bits)
	if err != nil {
		return err
	}
	privatePEM, publicPEM, err := keys.EncodePEM()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	_, err = fmt.Fprintf(w, "wrote %s and %s\n", privatePath, publicPath)
	return err
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
