package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/paygate/internal/config"
	"github.com/hitoshi/paygate/internal/database"
	"github.com/hitoshi/paygate/internal/gateway"
	"github.com/hitoshi/paygate/internal/handler"
	"github.com/hitoshi/paygate/internal/metrics"
	"github.com/hitoshi/paygate/internal/middleware"
	"github.com/hitoshi/paygate/internal/payment"
	"github.com/hitoshi/paygate/internal/repository"
	"github.com/hitoshi/paygate/internal/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// paymentStore は決済ストアとして必要な操作をまとめたインターフェース。
type paymentStore interface {
	repository.PaymentRepository
	repository.Pinger
}

// openStore はSTORE_DRIVERに応じた決済ストアを開く。
// 戻り値の関数でストアを閉じる。
func openStore(cfg *config.Config) (paymentStore, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory payment store; payments are lost on restart")
		return repository.NewMemoryPaymentRepo(), func() {}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return repository.NewPostgresPaymentRepo(db), func() { db.Close() }, nil
}

// newSettler はGATEWAY_URLが設定されていればHTTPクライアントを、なければプロセス内シミュレーターを返す。
func newSettler(cfg *config.Config) gateway.Settler {
	if cfg.GatewayURL != "" {
		return gateway.NewClient(cfg.GatewayURL, cfg.GatewayTimeout, slog.Default())
	}
	return gateway.NewSimulator(cfg.GatewayDelay)
}

// newMetricsRegistry はランタイムとプロセスのメトリクスを登録済みのレジストリを返す。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildAPIHandler はAPIサーバーの全依存関係をワイヤリングしたルーターを返す。
// 戻り値の関数でレートリミッターのクリーンアップを停止する。
func buildAPIHandler(cfg *config.Config, store paymentStore, reg *prometheus.Registry) (http.Handler, func()) {
	collector := metrics.NewCollector(reg)

	codec := token.NewCodec(cfg.SigningKey,
		token.WithTTL(cfg.TokenTTL),
		token.WithIssuer(cfg.TokenIssuer),
	)

	svc := payment.NewService(store, newSettler(cfg), collector,
		payment.WithSettleTimeout(cfg.GatewayTimeout),
		payment.WithLogger(slog.Default()),
	)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitPaymentCreate),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		TokenValidator: codec,
		TokenIssuer:    codec,
		ClientSecret:   cfg.ClientSecret,

		PaymentService: svc,
		Pinger:         store,
	})

	return router, rateLimiter.Stop
}

// buildGatewayHandler はゲートウェイシミュレーターのルーターを返す。
func buildGatewayHandler(cfg *config.Config, reg *prometheus.Registry) http.Handler {
	collector := metrics.NewCollector(reg)
	gw := gateway.NewHandler(gateway.NewSimulator(cfg.GatewayDelay), slog.Default())

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewMetricsMiddleware(collector))

	r.Get("/health", handler.NewHealthHandler(nil).Health)
	r.Handle("/metrics", metrics.Handler(reg))
	r.Mount("/", gw.Routes())

	return r
}
