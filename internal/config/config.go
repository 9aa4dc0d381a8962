package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreDriver は決済レコードの保存先を表す。
type StoreDriver string

const (
	// StoreDriverPostgres はPostgreSQLに保存する。
	StoreDriverPostgres StoreDriver = "postgres"
	// StoreDriverMemory はプロセス内メモリに保存する（開発・テスト用）。
	StoreDriverMemory StoreDriver = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 署名鍵はローテーションに対応するためConfigには保持せず、SigningKeySourceから都度読み込む。
type Config struct {
	// Store
	StoreDriver StoreDriver
	DatabaseURL string

	// Token
	TokenTTL     time.Duration
	TokenIssuer  string
	SigningKey   SigningKeySource
	ClientSecret string

	// Gateway
	GatewayURL     string
	GatewayDelay   time.Duration
	GatewayTimeout time.Duration
	GatewayPort    string

	// Rate Limit（req/min）
	RateLimitGeneral       int
	RateLimitPaymentCreate int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.StoreDriver = StoreDriver(strings.ToLower(getEnvString("STORE_DRIVER", string(StoreDriverPostgres))))
	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q", cfg.StoreDriver)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreDriver == StoreDriverPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	// 鍵ファイルが指定されていればファイルを優先する
	if path := os.Getenv("TOKEN_SIGNING_KEY_FILE"); path != "" {
		cfg.SigningKey = FileSigningKey{Path: path}
	} else if os.Getenv("TOKEN_SIGNING_KEY") != "" {
		cfg.SigningKey = EnvSigningKey{Name: "TOKEN_SIGNING_KEY"}
	} else {
		missing = append(missing, "TOKEN_SIGNING_KEY")
	}

	cfg.ClientSecret = os.Getenv("AUTH_CLIENT_SECRET")
	if cfg.ClientSecret == "" {
		missing = append(missing, "AUTH_CLIENT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 30*time.Minute)
	cfg.TokenIssuer = getEnvString("TOKEN_ISSUER", "paygate")
	cfg.GatewayURL = strings.TrimRight(getEnvString("GATEWAY_URL", ""), "/")
	cfg.GatewayDelay = getEnvDuration("GATEWAY_DELAY", 200*time.Millisecond)
	cfg.GatewayTimeout = getEnvDuration("GATEWAY_TIMEOUT", 5*time.Second)
	cfg.GatewayPort = getEnvString("GATEWAY_PORT", "8090")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPaymentCreate = getEnvInt("RATE_LIMIT_PAYMENT_CREATE", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// LoadGateway はゲートウェイシミュレーター用の設定を読み込む。
// シミュレーターは決済ストアや署名鍵を使わないため、必須環境変数はない。
func LoadGateway() *Config {
	return &Config{
		GatewayDelay: getEnvDuration("GATEWAY_DELAY", 200*time.Millisecond),
		GatewayPort:  getEnvString("GATEWAY_PORT", "8090"),
		LogLevel:     getEnvString("LOG_LEVEL", "info"),
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
