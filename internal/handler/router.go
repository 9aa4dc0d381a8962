package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/paygate/internal/metrics"
	"github.com/hitoshi/paygate/internal/middleware"
	"github.com/hitoshi/paygate/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	TokenValidator middleware.TokenValidator
	TokenIssuer    TokenIssuer
	ClientSecret   string

	// 決済
	PaymentService PaymentServiceInterface

	// ヘルスチェック
	Pinger repository.Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  → (/api/payment のみ) BearerAuth → RateLimit(General)
//
// /health, /metrics, /api/auth/token は認証不要。
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

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.TokenIssuer, deps.ClientSecret, collector)
	paymentHandler := NewPaymentHandler(deps.PaymentService)
	healthHandler := NewHealthHandler(deps.Pinger)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Post("/api/auth/token", authHandler.IssueToken)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.TokenValidator, collector))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Route("/api/payment", func(r chi.Router) {
			// POST /api/payment - 決済作成（作成専用レート制限を追加）
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.PaymentCreateMiddleware()).Post("/", paymentHandler.CreatePayment)
			} else {
				r.Post("/", paymentHandler.CreatePayment)
			}
			r.Get("/", paymentHandler.ListPayments)
			r.Put("/", paymentHandler.UpdatePayment)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", paymentHandler.GetPayment)
				r.Put("/", paymentHandler.UpdatePayment)
				r.Post("/settle", paymentHandler.SettlePayment)
			})
		})
	})

	return r
}
