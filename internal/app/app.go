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

	"github.com/hitoshi/paygate/internal/config"
	"github.com/hitoshi/paygate/internal/database"
	"github.com/hitoshi/paygate/internal/logger"
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

	// 3. LOG_LEVELに従ってログを再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// InitGateway はゲートウェイシミュレーター用の初期化を行う。
// 必須環境変数がないため失敗しない。
func InitGateway(w io.Writer) *config.Config {
	cfg := config.LoadGateway()
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	switch cmd {
	case CommandHealthcheck:
		// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
		return runHealthcheck(healthcheckPort(args))
	case CommandGateway:
		cfg := InitGateway(w)
		slog.Info("starting application",
			slog.String("command", string(cmd)),
			slog.String("port", cfg.GatewayPort),
		)
		return runGateway(cfg)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_driver", string(cfg.StoreDriver)),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// 決済ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 決済ストア
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 2. 依存関係のワイヤリング
	router, stop := buildAPIHandler(cfg, store, newMetricsRegistry())
	defer stop()

	if cfg.GatewayURL != "" {
		slog.Info("using remote payment gateway", slog.String("gateway_url", cfg.GatewayURL))
	} else {
		slog.Info("using in-process payment gateway simulator", slog.Duration("delay", cfg.GatewayDelay))
	}

	// 3. HTTPサーバーの起動
	return serveUntilSignal(newHTTPServer(cfg.ServerPort, router), "API server")
}

// runGateway はゲートウェイシミュレーターを単独のHTTPサービスとして起動する。
func runGateway(cfg *config.Config) error {
	router := buildGatewayHandler(cfg, newMetricsRegistry())
	return serveUntilSignal(newHTTPServer(cfg.GatewayPort, router), "gateway simulator")
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migration requires DATABASE_URL")
	}

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
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckPort はヘルスチェック対象のポートを返す。
// "healthcheck gateway" の場合はゲートウェイのポートを使う。
func healthcheckPort(args []string) string {
	key, def := "SERVER_PORT", "8080"
	if len(args) > 1 && args[1] == string(CommandGateway) {
		key, def = "GATEWAY_PORT", "8090"
	}
	if port := os.Getenv(key); port != "" {
		return port
	}
	return def
}

// newHTTPServer はタイムアウト設定済みのhttp.Serverを生成する。
func newHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMを受信するまでブロックする。
// 受信後は処理中のリクエストを最大30秒待ってから停止する。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}

	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
