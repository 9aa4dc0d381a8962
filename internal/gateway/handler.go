package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/paygate/internal/middleware"
	"github.com/hitoshi/paygate/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限（1MiB）。
const maxRequestBodyBytes = 1 << 20

// Handler はゲートウェイの決済エンドポイントを提供するHTTPハンドラー。
// 受け取った決済をSettlerで処理し、結果を返す。
type Handler struct {
	settler Settler
	logger  *slog.Logger
}

// NewHandler はHandlerを生成する。
func NewHandler(settler Settler, logger *slog.Logger) *Handler {
	return &Handler{settler: settler, logger: logger}
}

// Settle は決済を処理して結果を返す。
// POST /gateway/settle
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req settlementPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	if req.ID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError("id is required"))
		return
	}

	settled, err := h.settler.Settle(r.Context(), req.toModel())
	if err != nil {
		h.logger.Warn("決済処理を完了できませんでした",
			slog.String("payment_id", req.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewGatewayUnavailableError())
		return
	}

	h.logger.Info("決済を処理しました",
		slog.String("payment_id", settled.ID),
		slog.String("status", string(settled.Status)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPayload(settled))
}

// Routes はゲートウェイのルーティングを設定したchi.Routerを返す。
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post(SettlePath, h.Settle)
	return r
}
