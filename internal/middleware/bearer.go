// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/paygate/internal/model"
)

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// subjectContextKey はリクエストコンテキストに認証済みsubjectを格納するためのキー。
var subjectContextKey = contextKey("subject")

// TokenValidator はベアラートークンの検証に必要なインターフェース。
// token.Codecが実装する。
type TokenValidator interface {
	Validate(token string) (*model.Credential, error)
}

// AuthFailureRecorder は認証失敗の記録に必要なインターフェース。
// metrics.MetricsCollectorの部分集合として定義する。
type AuthFailureRecorder interface {
	RecordAuthFailure(reason string)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証するミドルウェアを返す。
// 検証に成功した場合はsubjectをリクエストコンテキストに注入する。
// ヘッダー欠落・トークン不正の場合は401を返し、後続のハンドラーは実行しない。
// recorderがnilの場合は認証失敗を記録しない。
func NewBearerAuthMiddleware(validator TokenValidator, recorder AuthFailureRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				rejectUnauthorized(w, recorder, model.NewTokenMissingError())
				return
			}

			cred, err := validator.Validate(raw)
			if err != nil {
				if !isTokenError(err) {
					// 署名鍵を読み込めない等、トークン自体に起因しない失敗
					slog.Error("failed to validate bearer token",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
				slog.Debug("bearer token rejected",
					slog.String("error", err.Error()),
				)
				rejectUnauthorized(w, recorder, model.NewTokenError(err))
				return
			}

			setLogSubject(r.Context(), cred.Subject)
			ctx := ContextWithSubject(r.Context(), cred.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

func isTokenError(err error) bool {
	return errors.Is(err, model.ErrTokenMalformed) ||
		errors.Is(err, model.ErrTokenInvalidSignature) ||
		errors.Is(err, model.ErrTokenExpired)
}

func rejectUnauthorized(w http.ResponseWriter, recorder AuthFailureRecorder, apiErr *model.APIError) {
	if recorder != nil {
		recorder.RecordAuthFailure(apiErr.Code)
	}
	if apiErr.Code == model.ErrCodeTokenMissing {
		w.Header().Set("WWW-Authenticate", `Bearer`)
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
}

// SubjectFromContext はリクエストコンテキストから認証済みsubjectを取得する。
// ベアラー認証ミドルウェアを通過したリクエストでのみ有効。
func SubjectFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(subjectContextKey).(string)
	if !ok || subject == "" {
		return "", fmt.Errorf("subject not found in context")
	}
	return subject, nil
}

// ContextWithSubject はコンテキストにsubjectを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}
