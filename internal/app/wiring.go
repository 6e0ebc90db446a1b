package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/ssolink/internal/auth"
	"github.com/hitoshi/ssolink/internal/cache"
	"github.com/hitoshi/ssolink/internal/config"
	"github.com/hitoshi/ssolink/internal/database"
	"github.com/hitoshi/ssolink/internal/handler"
	"github.com/hitoshi/ssolink/internal/metrics"
	"github.com/hitoshi/ssolink/internal/middleware"
	"github.com/hitoshi/ssolink/internal/partner"
	"github.com/hitoshi/ssolink/internal/repository"
	"github.com/hitoshi/ssolink/internal/security"
	"github.com/hitoshi/ssolink/internal/sso"
	"github.com/hitoshi/ssolink/internal/worker/cleanup"
)

// components は設定から構築した依存関係をまとめたもの。
// STORE_DRIVER=memory の場合 db は nil。
type components struct {
	cfg   *config.Config
	db    *sql.DB
	clock clockwork.Clock

	users       repository.UserRepository
	sessions    repository.SessionRepository
	partnerRepo repository.PartnerRepository
	tokens      repository.TokenRepository

	cache    cache.Client
	registry *partner.Registry

	metricsRegistry *prometheus.Registry
	collector       *metrics.Collector
}

// newComponents はストア、キャッシュ、パートナーレジストリ、メトリクスを初期化する。
func newComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{
		cfg:             cfg,
		clock:           clockwork.NewRealClock(),
		metricsRegistry: prometheus.NewRegistry(),
	}
	c.collector = metrics.NewCollector(c.metricsRegistry)

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		c.users = repository.NewMemoryUserRepo()
		c.sessions = repository.NewMemorySessionRepo(c.clock)
		c.partnerRepo = repository.NewMemoryPartnerRepo(c.clock)
		c.tokens = repository.NewMemoryTokenRepo()
		slog.Warn("in-memory store is enabled; state is not shared between processes")
	default:
		db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established", slog.String("driver", cfg.DatabaseDriver))
		c.db = db

		var sealer repository.PayloadSealer
		if len(cfg.ClaimsEncryptionKey) > 0 {
			s, err := security.NewClaimsSealer(cfg.ClaimsEncryptionKey)
			if err != nil {
				db.Close()
				return nil, err
			}
			sealer = s
		}
		c.users = repository.NewPostgresUserRepo(db)
		c.sessions = repository.NewPostgresSessionRepo(db, c.clock)
		c.partnerRepo = repository.NewPostgresPartnerRepo(db)
		c.tokens = repository.NewPostgresTokenRepo(db, sealer)
	}

	switch cfg.CacheDriver {
	case config.CacheDriverRedis:
		r := cache.NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.PartnerCacheTTL)
		if err := r.Ping(ctx); err != nil {
			// キャッシュは補助的なため、接続できなくても起動は継続する
			slog.Warn("redis is unreachable; partner reads fall back to the store",
				slog.String("error", err.Error()),
			)
		}
		c.cache = r
	default:
		c.cache = cache.NewMemory(cfg.PartnerCacheTTL)
	}

	c.registry = partner.NewRegistry(c.partnerRepo, c.cache, cfg.PartnerCacheTTL, security.NewNameSanitizer(), slog.Default())
	return c, nil
}

// Close は保持しているリソースを解放する。
func (c *components) Close() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			slog.Warn("failed to close cache", slog.String("error", err.Error()))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// syncPartners は SSO_PARTNERS_FILE が設定されていればストアへ反映する。
func (c *components) syncPartners(ctx context.Context) (partner.SyncResult, error) {
	if c.cfg.PartnersFile == "" {
		return partner.SyncResult{}, nil
	}
	configs, err := config.LoadPartnersFile(c.cfg.PartnersFile)
	if err != nil {
		return partner.SyncResult{}, err
	}
	return c.registry.Sync(ctx, configs)
}

// healthChecker は /health で疎通確認する対象を返す。
func (c *components) healthChecker() handler.HealthChecker {
	if c.db == nil {
		return nil
	}
	return c.db
}

// newRouter はSSOの各サービスを組み立ててHTTPハンドラーを返す。
// 返されるstop関数でレートリミッターのクリーンアップを停止する。
func (c *components) newRouter() (http.Handler, func(), error) {
	cfg := c.cfg
	logger := slog.Default()

	issuer := sso.NewIssuer(c.registry, c.users, c.tokens,
		sso.IssuerConfig{SourceApp: cfg.AppIdentifier, Lifetime: cfg.TokenLifetime},
		sso.WithIssuerClock(c.clock),
		sso.WithIssuerRecorder(c.collector),
		sso.WithIssuerLogger(logger),
	)
	validator := sso.NewValidator(c.tokens,
		sso.WithValidatorClock(c.clock),
		sso.WithValidatorRecorder(c.collector),
		sso.WithValidatorLogger(logger),
		sso.WithClaimsMaxAge(cfg.ClaimsMaxAge),
	)
	authenticator := auth.NewAuthenticator(c.users, c.clock, logger)
	sessionService := auth.NewSessionService(c.users, c.sessions,
		auth.SessionConfig{SessionMaxAge: cfg.SessionMaxAge}, c.clock)

	guard, err := security.NewReturnURLGuard(cfg.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid BASE_URL: %w", err)
	}

	cookie := middleware.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}

	ssoHandler := handler.NewSSOHandler(handler.SSOHandlerDeps{
		Partners:   c.registry,
		Builder:    sso.NewService(c.registry, issuer),
		Redeemer:   validator,
		Users:      authenticator,
		Sessions:   sessionService,
		ReturnURLs: guard,
		Clock:      c.clock,
		Logger:     logger,
	}, handler.SSOHandlerConfig{
		RedirectAfterLogin: cfg.RedirectAfterLogin,
		LoginPath:          cfg.LoginPath,
		StoreTimeout:       cfg.StoreTimeout,
		Cookie:             cookie,
	})

	// 設定値は req/min 単位
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitCallback > 0 {
		rlCfg.CallbackRate = middleware.PerMinute(cfg.RateLimitCallback)
		rlCfg.CallbackBurst = cfg.RateLimitCallback
	}
	if cfg.RateLimitRedirect > 0 {
		rlCfg.RedirectRate = middleware.PerMinute(cfg.RateLimitRedirect)
		rlCfg.RedirectBurst = cfg.RateLimitRedirect
	}
	rateLimiter := middleware.NewRateLimiter(rlCfg)

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:  c.sessions,
		RateLimiter:    rateLimiter,
		StatusRecorder: c.collector,
		Logger:         logger,
		SSOHandler:     ssoHandler,
		SessionService: sessionService,
		AuthConfig:     handler.AuthHandlerConfig{LoginPath: cfg.LoginPath, Cookie: cookie},
		AllowedOrigin:  cfg.BaseURL,
		HealthChecker:  c.healthChecker(),
		MetricsHandler: metrics.Handler(c.metricsRegistry),
	})
	return router, rateLimiter.Stop, nil
}

// newCleanupJob は期限切れトークンとセッションを削除するジョブを返す。
func (c *components) newCleanupJob() *cleanup.CleanupJob {
	return cleanup.NewCleanupJob(c.tokens, slog.Default(),
		cleanup.WithSessions(c.sessions),
		cleanup.WithRecorder(c.collector),
		cleanup.WithClock(c.clock),
	)
}
