package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/gofinances/internal/auth"
	"github.com/hitoshi/gofinances/internal/config"
	"github.com/hitoshi/gofinances/internal/database"
	"github.com/hitoshi/gofinances/internal/identity"
	"github.com/hitoshi/gofinances/internal/metrics"
	"github.com/hitoshi/gofinances/internal/repository"
	"github.com/hitoshi/gofinances/internal/security"
	"github.com/hitoshi/gofinances/internal/session"
)

// components はコマンドが使う構築済みの依存関係。
type components struct {
	service *auth.Service

	registry        *prometheus.Registry
	metricsTextfile string
	closers         []func() error
}

// buildFunc は設定から依存関係を構築する。テストでは差し替える。
type buildFunc func(ctx context.Context, cfg *config.Config, stdout io.Writer) (*components, error)

// Close は接続を閉じ、設定されていればメトリクスをtextfileに書き出す。
func (c *components) Close() {
	if c.metricsTextfile != "" && c.registry != nil {
		if err := metrics.WriteTextfile(c.metricsTextfile, c.registry); err != nil {
			slog.Warn("failed to write metrics textfile", slog.String("error", err.Error()))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// buildComponents は全依存関係をワイヤリングして認証コーディネータを構築する。
func buildComponents(_ context.Context, cfg *config.Config, stdout io.Writer) (*components, error) {
	c := &components{metricsTextfile: cfg.MetricsTextfile}

	// 1. ストレージバックエンド
	repo, closer, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}

	// 2. セキュリティサービスの初期化
	sealer, err := security.NewAESGCMSealerFromHex(cfg.IdentityCacheKey)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create identity cache sealer: %w", err)
	}
	ssrfGuard := security.NewSSRFGuard()
	httpClient := ssrfGuard.NewSafeClient(cfg.HTTPTimeout)
	sanitizer := security.NewNameSanitizer()

	// 3. プロバイダーの初期化
	opener := newBrowserOpener(stdout)
	googleSession := auth.NewLoopbackAuthSession(auth.LoopbackConfig{
		Timeout: cfg.LoginTimeout,
	}, opener, slog.Default())
	google := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:    cfg.GoogleClientID,
		RedirectURL: cfg.GoogleRedirectURL,
	}, googleSession, httpClient, ssrfGuard, sanitizer)

	var apple auth.Provider
	if cfg.AppleEnabled() {
		appleSession := auth.NewLoopbackAuthSession(auth.LoopbackConfig{
			ListenAddr: cfg.AppleListenAddr,
			Timeout:    cfg.LoginTimeout,
		}, opener, slog.Default())
		requester := auth.NewAppleWebRequester(auth.AppleWebConfig{
			ClientID:    cfg.AppleClientID,
			RedirectURL: cfg.AppleRedirectURL,
		}, appleSession)
		verifier := auth.NewAppleTokenVerifier(cfg.AppleClientID, auth.NewAppleKeySet("", httpClient))
		apple = auth.NewAppleProvider(requester, verifier, sanitizer)
	}

	// 4. メトリクス
	c.registry = prometheus.NewRegistry()
	collector := metrics.NewCollector(c.registry)

	// 5. 認証コーディネータ
	c.service = auth.NewService(
		google, apple,
		session.NewStore(repo),
		identity.NewCache(repo, sealer),
		collector,
		auth.ServiceConfig{AvatarBaseURL: cfg.AvatarBaseURL},
	)

	slog.Debug("components initialized",
		slog.String("storage_backend", cfg.StorageBackend),
		slog.Bool("apple_enabled", cfg.AppleEnabled()),
	)
	return c, nil
}

// openRepository は設定されたストレージバックエンドを開く。
// SQLiteは端末ローカルのファイルのため、開く前にマイグレーションを適用する。
func openRepository(cfg *config.Config) (repository.KeyValueRepository, func() error, error) {
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		if err := database.RunSQLiteMigrations(cfg.SQLitePath); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
		}
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return repository.NewSQLiteKVRepo(db), db.Close, nil

	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return repository.NewPostgresKVRepo(db), db.Close, nil

	case config.BackendRedis:
		client, err := repository.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis: %w", err)
		}
		return repository.NewRedisKVRepo(client, cfg.RedisKeyPrefix), client.Close, nil

	case config.BackendMemory:
		return repository.NewMemoryKVRepo(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %s", cfg.StorageBackend)
	}
}
