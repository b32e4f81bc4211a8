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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/passgate/internal/auth"
	"github.com/hitoshi/passgate/internal/config"
	"github.com/hitoshi/passgate/internal/database"
	"github.com/hitoshi/passgate/internal/flash"
	"github.com/hitoshi/passgate/internal/handler"
	"github.com/hitoshi/passgate/internal/logger"
	"github.com/hitoshi/passgate/internal/metrics"
	"github.com/hitoshi/passgate/internal/middleware"
	"github.com/hitoshi/passgate/internal/password"
	"github.com/hitoshi/passgate/internal/repository"
	"github.com/hitoshi/passgate/internal/security"
	"github.com/hitoshi/passgate/internal/session"
	"github.com/hitoshi/passgate/internal/view"
	"github.com/hitoshi/passgate/internal/worker/cleanup"
)

const (
	externalHTTPTimeout = 10 * time.Second
	shutdownTimeout     = 30 * time.Second
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

	// 3. LOG_LEVELを反映する
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// App はワイヤリング済みのアプリケーション。
// Closeで開いたDB接続やセッションストアを解放する。
type App struct {
	Handler  http.Handler
	Sessions *session.Manager
	Cleanup  *cleanup.CleanupJob

	closers []func() error
}

// Close は保持しているリソースを逆順に解放する。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Build は設定に従って全依存関係をワイヤリングしたAppを返す。
// 失敗した場合は途中まで開いたリソースを解放してからエラーを返す。
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	app := &App{}
	built := false
	defer func() {
		if !built {
			_ = app.Close()
		}
	}()

	var healthChecks []handler.Pinger

	// 1. DB接続（インメモリ構成では開かない）
	var db *sql.DB
	if !cfg.InMemoryDatabase() {
		var err error
		db, err = database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		healthChecks = append(healthChecks, db)
		log.Info("database connection established")
	}

	// 2. リポジトリの初期化
	var users repository.UserRepository
	if db != nil {
		users = repository.NewPostgresUserRepo(db)
	} else {
		users = repository.NewMemoryUserRepo()
		log.Warn("using in-memory user store; accounts are lost on restart")
	}

	sessionRepo, pinger, err := openSessionRepo(ctx, cfg, db, app)
	if err != nil {
		return nil, err
	}
	if pinger != nil {
		healthChecks = append(healthChecks, pinger)
	}

	sessions, err := session.NewManager(sessionRepo, cfg.SessionTTL(session.CookieTTL))
	if err != nil {
		return nil, err
	}
	app.Sessions = sessions

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	// 4. 認証サービスの初期化
	hasher, err := password.NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	guard := security.NewURLGuard()
	strategy := auth.NewStrategy(users, hasher, security.NewTextSanitizer(), guard, mc)

	var external auth.ExternalProvider
	if cfg.GoogleEnabled() {
		external = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, guard.NewSafeClient(externalHTTPTimeout))
		log.Info("external login enabled", slog.String("provider", external.Name()))
	}
	authService := auth.NewService(strategy, users, sessions, hasher, external, mc)

	// 5. 描画
	templates, err := view.New()
	if err != nil {
		return nil, err
	}

	// 6. ルーターの構築
	app.Handler = handler.NewRouter(&handler.RouterDeps{
		Sessions: sessions,
		Cookie: middleware.SessionCookie{
			Name:   middleware.DefaultSessionCookieName,
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
		},
		AuthService:    authService,
		Flash:          flash.New([]byte(cfg.SessionSecret), cfg.CookieSecure),
		View:           templates,
		Logger:         log,
		Metrics:        mc,
		MetricsHandler: metrics.Handler(reg),
		HealthChecks:   healthChecks,
		HSTS:           cfg.CookieSecure,
	})

	// 7. 期限切れセッションのクリーンアップ
	app.Cleanup = cleanup.NewCleanupJob(sessions, log, mc)

	built = true
	return app, nil
}

// openSessionRepo はSESSION_STOREに応じたセッションリポジトリを開く。
// 開いたリソースのCloseはappに登録する。疎通確認が可能なストアはPingerも返す。
func openSessionRepo(ctx context.Context, cfg *config.Config, db *sql.DB, app *App) (repository.SessionRepository, handler.Pinger, error) {
	switch cfg.SessionStore {
	case config.SessionStoreMemory:
		return repository.NewMemorySessionRepo(), nil, nil

	case config.SessionStorePostgres:
		if db == nil {
			return nil, nil, errors.New("postgres session store requires a postgres DATABASE_URL")
		}
		return repository.NewPostgresSessionRepo(db), nil, nil

	case config.SessionStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		app.closers = append(app.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		ping := handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		return repository.NewRedisSessionRepo(rdb), ping, nil

	case config.SessionStoreBolt:
		repo, err := repository.OpenBoltSessionRepo(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, repo.Close)
		return repo, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// runServe はHTTPサーバーを起動する。
// 期限切れセッションのクリーンアップをバックグラウンドで実行し、
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	app, err := Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer app.Close()

	go app.Cleanup.Start(ctx, cfg.SessionSweepInterval)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      app.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("session_store", cfg.SessionStore),
			slog.Duration("session_ttl", app.Sessions.TTL()),
		)
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
	case <-ctx.Done():
	}

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.InMemoryDatabase() {
		slog.Info("in-memory database configured; nothing to migrate")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runSweep は期限切れセッションの削除を1回だけ実行する。
// cronなど外部スケジューラから呼び出す用途を想定する。
func runSweep(cfg *config.Config) error {
	ctx := context.Background()

	app, err := Build(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer app.Close()

	return app.Cleanup.Run(ctx)
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

// healthcheckPort はSERVER_PORTを返す。未設定の場合は8080。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
