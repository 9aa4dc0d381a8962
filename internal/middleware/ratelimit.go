package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/paygate/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate        rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst       int           // API全般のバーストサイズ
	PaymentCreateRate  rate.Limit    // 決済作成のレート（req/sec）。30/60
	PaymentCreateBurst int           // 決済作成のバーストサイズ
	CleanupInterval    time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/subject、決済作成 30 req/min/subject
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 30)
}

// NewRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
// バーストサイズは1分あたりの上限と同じにする。
func NewRateLimiterConfig(generalPerMinute, paymentCreatePerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:        rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:       generalPerMinute,
		PaymentCreateRate:  rate.Limit(float64(paymentCreatePerMinute) / 60.0),
		PaymentCreateBurst: paymentCreatePerMinute,
		CleanupInterval:    5 * time.Minute,
	}
}

// subjectLimiter はsubjectごとのレートリミッターとアクセス時刻を保持する。
type subjectLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1種類のレート制限についてsubjectごとのリミッターを管理する。
type limiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*subjectLimiter
	rate     rate.Limit
	burst    int
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limiters: make(map[string]*subjectLimiter),
		rate:     r,
		burst:    burst,
	}
}

// get はsubjectのリミッターを取得または作成する。
func (s *limiterSet) get(subject string) *rate.Limiter {
	s.mu.RLock()
	sl, exists := s.limiters[subject]
	s.mu.RUnlock()

	if exists {
		s.mu.Lock()
		sl.lastAccess = time.Now()
		s.mu.Unlock()
		return sl.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if sl, exists := s.limiters[subject]; exists {
		sl.lastAccess = time.Now()
		return sl.limiter
	}

	limiter := rate.NewLimiter(s.rate, s.burst)
	s.limiters[subject] = &subjectLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

func (s *limiterSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// evict は最終アクセスからttlを超えたエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, sl := range s.limiters {
		if now.Sub(sl.lastAccess) > ttl {
			delete(s.limiters, subject)
		}
	}
}

// RateLimiter はsubjectごとのレート制限を管理する。
// API全般のレート制限と決済作成のレート制限の2種類を提供する。
type RateLimiter struct {
	config        RateLimiterConfig
	general       *limiterSet
	paymentCreate *limiterSet

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:        config,
		general:       newLimiterSet(config.GeneralRate, config.GeneralBurst),
		paymentCreate: newLimiterSet(config.PaymentCreateRate, config.PaymentCreateBurst),
		stopCh:        make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにsubjectが含まれている必要がある（ベアラー認証ミドルウェアの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general")
}

// PaymentCreateMiddleware は決済作成専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) PaymentCreateMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.paymentCreate, "payment_create")
}

func (rl *RateLimiter) middleware(set *limiterSet, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := SubjectFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenMissingError())
				return
			}

			if !set.get(subject).Allow() {
				writeRateLimitResponse(w, set.rate)
				slog.Warn("rate limit exceeded",
					slog.String("subject", subject),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// PaymentCreateLimiterCount は現在管理されている決済作成リミッターのエントリ数を返す。
func (rl *RateLimiter) PaymentCreateLimiterCount() int {
	return rl.paymentCreate.count()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.general.evict(now, ttl)
	rl.paymentCreate.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitExceededError())
}
