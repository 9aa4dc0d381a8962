package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/paygate/internal/repository"
)

// defaultHealthTimeout はストアへの疎通確認のタイムアウト。
const defaultHealthTimeout = 2 * time.Second

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	pinger  repository.Pinger
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。
// pingerがnilの場合は常に正常を返す。
func NewHealthHandler(pinger repository.Pinger) *HealthHandler {
	return &HealthHandler{
		pinger:  pinger,
		timeout: defaultHealthTimeout,
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health はストアへの疎通を確認する。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		if err := h.pinger.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
