// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pizza42/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPMetrics

	// 注文
	OrderService  OrderServiceInterface
	Validator     OrderValidator
	Authorizer    Authorizer
	Scopes        OrderScopes
	EnableHistory bool

	// メタデータ・ヘルスチェック
	Audience      string
	HealthChecker HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → BearerAuth → RateLimit(General)
//
// /health とリソースメタデータは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPMetrics))

	orderHandler := NewOrderHandler(deps.OrderService, deps.Validator, deps.Authorizer, deps.Scopes)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	r.Get("/.well-known/oauth-protected-resource",
		NewProtectedResourceHandler(deps.Audience, deps.Verifier.Issuer(), orderHandler.scopes))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.Verifier))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Route("/api/orders", func(r chi.Router) {
			r.Get("/", orderHandler.ListOrders)

			// POST /api/orders - 注文作成（作成専用レート制限を追加）
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.OrderCreateMiddleware()).Post("/", orderHandler.CreateOrder)
			} else {
				r.Post("/", orderHandler.CreateOrder)
			}

			if deps.EnableHistory {
				r.Get("/history", orderHandler.OrderHistory)
			}
		})
	})

	return r
}
