package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	Rate  rate.Limit // 許可するリクエストレート（req/sec）
	Burst int        // バーストサイズ
}

// DefaultRateLimiterConfig はコールバックサーバー用のデフォルト設定を返す。
// 1回のサインインで発生するリクエストは数件のため、2 req/sec・バースト10とする。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:  rate.Limit(2),
		Burst: 10,
	}
}

// NewRateLimitMiddleware はサーバー全体で1つのリミッターを共有するレート制限ミドルウェアを返す。
// コールバックサーバーはループバックで待ち受ける単一ユーザー用のため、クライアント単位では区別しない。
func NewRateLimitMiddleware(config RateLimiterConfig) func(next http.Handler) http.Handler {
	limiter := rate.NewLimiter(config.Rate, config.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeRateLimitResponse(w, config.Rate)
				slog.Warn("rate limit exceeded",
					slog.String("path", r.URL.Path),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}
