package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/pizza42/internal/auth"
	"github.com/hitoshi/pizza42/internal/authz"
	"github.com/hitoshi/pizza42/internal/config"
	"github.com/hitoshi/pizza42/internal/database"
	"github.com/hitoshi/pizza42/internal/handler"
	"github.com/hitoshi/pizza42/internal/metrics"
	"github.com/hitoshi/pizza42/internal/middleware"
	"github.com/hitoshi/pizza42/internal/order"
	"github.com/hitoshi/pizza42/internal/profile"
	"github.com/hitoshi/pizza42/internal/repository"
	"github.com/hitoshi/pizza42/internal/security"
)

// apiWriteTimeout はAPIサーバーのレスポンス書き込みの上限時間。
const apiWriteTimeout = 15 * time.Second

// orderStore は注文リポジトリとヘルスチェックを兼ねるストア。
type orderStore interface {
	repository.OrderRepository
	repository.Pinger
}

// Server はAPIサーバーの構成要素を保持する。
type Server struct {
	cfg      *config.Config
	handler  http.Handler
	registry *prometheus.Registry
	limiter  *middleware.RateLimiter
	closers  []io.Closer
}

// NewServer は設定から全依存関係をワイヤリングしてServerを生成する。
// 注文ストアへの接続確認に失敗した場合はエラーを返す。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. IdPへの外向き通信
	guard := security.NewSSRFGuard(cfg.IDPAllowPrivate)
	if err := guard.ValidateURL(cfg.IssuerBaseURL); err != nil {
		return nil, fmt.Errorf("invalid ISSUER_BASE_URL: %w", err)
	}
	if cfg.JWKSURL != "" {
		if err := guard.ValidateURL(cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("invalid JWKS_URL: %w", err)
		}
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		IssuerURL:          cfg.IssuerBaseURL,
		Audience:           cfg.Audience,
		JWKSURL:            cfg.JWKSURL,
		OrdersContextClaim: cfg.OrdersContextClaim,
		Leeway:             cfg.JWTLeeway,
		HTTPClient:         guard.NewSafeClient(cfg.JWKSFetchTimeout),
		FetchTimeout:       cfg.JWKSFetchTimeout,
		MinRefreshInterval: cfg.JWKSMinRefreshInterval,
		Metrics:            collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	// 3. 注文ストア
	store, closer, err := openOrderStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, registry: registry}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	// 4. プロフィール（Management API）。未設定の場合はnilインターフェースのまま渡す
	var (
		profileStore  order.ProfileStore
		profileLookup authz.ProfileLookup
	)
	if cfg.ProfileEnabled() {
		if err := guard.ValidateURL("https://" + cfg.MgmtDomain); err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid MGMT_DOMAIN: %w", err)
		}
		client, err := profile.NewClient(profile.Config{
			Domain:       cfg.MgmtDomain,
			ClientID:     cfg.MgmtClientID,
			ClientSecret: cfg.MgmtClientSecret,
			HTTPClient:   guard.NewSafeClient(cfg.ProfileTimeout),
			Timeout:      cfg.ProfileTimeout,
		}, slog.Default())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create profile client: %w", err)
		}
		profileStore = client
		profileLookup = client
	}

	// 5. ドメインサービス
	// 注文作成ではメール確認の取得と履歴保存がそれぞれPROFILE_TIMEOUTまでかかりうる
	if cfg.ProfileEnabled() && 2*cfg.ProfileTimeout >= apiWriteTimeout {
		slog.Warn("PROFILE_TIMEOUT may exceed the response write timeout on order creation",
			slog.Duration("profile_timeout", cfg.ProfileTimeout),
			slog.Duration("write_timeout", apiWriteTimeout),
		)
	}
	service := order.NewService(store, profileStore, collector, order.ServiceConfig{
		Retention:      cfg.OrderRetention,
		HistoryTimeout: cfg.ProfileTimeout,
	}, slog.Default())
	validator := order.NewValidator(security.NewNoteSanitizer())
	checker := authz.NewChecker(profileLookup)

	// 6. ルーター（レート設定はreq/minからreq/secに変換する）
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitOrderCreate > 0 {
		rlCfg.OrderCreateRate = rate.Limit(float64(cfg.RateLimitOrderCreate) / 60.0)
		rlCfg.OrderCreateBurst = cfg.RateLimitOrderCreate
	}
	s.limiter = middleware.NewRateLimiter(rlCfg)

	s.handler = handler.NewRouter(&handler.RouterDeps{
		Verifier:          verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       s.limiter,
		Logger:            slog.Default(),
		HTTPMetrics:       collector,
		OrderService:      service,
		Validator:         validator,
		Authorizer:        checker,
		Scopes:            handler.DefaultOrderScopes(),
		EnableHistory:     service.HistoryEnabled(),
		Audience:          cfg.Audience,
		HealthChecker:     store,
	})

	slog.Info("server wired",
		slog.String("order_store", cfg.OrderStore),
		slog.String("jwks_url", verifier.JWKSURL()),
		slog.Bool("profile_enabled", cfg.ProfileEnabled()),
	)

	return s, nil
}

// Handler はAPIのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry はメトリクスのレジストリを返す。
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Serve はAPIサーバーとメトリクスサーバーを起動し、ctxがキャンセルされると
// グレースフルシャットダウンする。どちらかのリスナーが失敗した場合はそのエラーを返す。
func (s *Server) Serve(ctx context.Context) error {
	api := &http.Server{
		Addr:         ":" + s.cfg.ServerPort,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: apiWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              ":" + s.cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(s.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{api, metricsServer} {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			shutdown(api, metricsServer)
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
		slog.Info("listener starting", slog.String("addr", ln.Addr().String()))
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv, ln)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down API server...")
	case serveErr = <-errCh:
		slog.Error("server listen error", slog.String("error", serveErr.Error()))
	}

	if err := shutdown(api, metricsServer); err != nil && serveErr == nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if serveErr == nil {
		slog.Info("API server stopped gracefully")
	}
	return serveErr
}

// Close はレートリミッターと注文ストアの接続を解放する。
func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func shutdown(servers ...*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// openOrderStore はORDER_STOREに応じた注文ストアを開き、接続を確認する。
func openOrderStore(ctx context.Context, cfg *config.Config) (orderStore, io.Closer, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch cfg.OrderStore {
	case config.StorePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		repo := repository.NewPostgresOrderRepo(db)
		if err := repo.Ping(pingCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return repo, db, nil

	case config.StoreRedis:
		client, err := repository.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewRedisOrderRepo(client, cfg.RedisKeyPrefix)
		if err := repo.Ping(pingCtx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		return repo, client, nil

	default:
		slog.Warn("using in-memory order store; orders are lost on restart")
		return repository.NewMemoryOrderRepo(), nil, nil
	}
}
