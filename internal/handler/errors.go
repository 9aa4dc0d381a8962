// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/paygate/internal/middleware"
	"github.com/hitoshi/paygate/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// decodeJSON はリクエストボディをdstにデコードする。
// 上限サイズを超えるボディはデコードエラーとして扱う。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var argErr *model.ArgumentError
	switch {
	case errors.As(err, &argErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError(argErr.Reason))
		return
	case errors.Is(err, model.ErrInvalidArgument):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError(err.Error()))
		return
	case errors.Is(err, model.ErrPaymentNotFound):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewPaymentNotFoundError())
		return
	case errors.Is(err, model.ErrInvalidTransition):
		writeAPIErrorResponse(w, http.StatusConflict, model.NewInvalidTransitionError())
		return
	case errors.Is(err, model.ErrGatewayTimeout):
		writeAPIErrorResponse(w, http.StatusGatewayTimeout, model.NewGatewayTimeoutError())
		return
	case errors.Is(err, model.ErrGatewayUnavailable):
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewGatewayUnavailableError())
		return
	}

	// 上記以外は内部エラー。詳細はログのみに残す
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case model.ErrCodeTokenMissing, model.ErrCodeTokenMalformed,
		model.ErrCodeTokenInvalidSignature, model.ErrCodeTokenExpired,
		model.ErrCodeInvalidClientCredential:
		return http.StatusUnauthorized
	case model.ErrCodePaymentNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidTransition:
		return http.StatusConflict
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeGatewayUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
