package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/paygate/internal/model"
	"github.com/shopspring/decimal"
)

// PaymentServiceInterface は決済ハンドラーが必要とするサービスインターフェース。
type PaymentServiceInterface interface {
	// Create は未決済の決済を作成する。
	Create(ctx context.Context, req model.PaymentRequest) (*model.Payment, error)
	// Update は決済を置き換える。pathIDが空でない場合はreq.IDと一致する必要がある。
	Update(ctx context.Context, pathID string, req model.PaymentRequest) (*model.Payment, error)
	// FindByID は決済を取得する。
	FindByID(ctx context.Context, id string) (*model.Payment, error)
	// ListPage は決済一覧を取得する。pageかsizeがnilの場合は全件を返す。
	ListPage(ctx context.Context, page, size *int) ([]*model.Payment, error)
	// Settle は決済ゲートウェイを呼び出して決済をPAIDにする。
	Settle(ctx context.Context, id string) (*model.Payment, error)
}

// PaymentHandler は決済管理のHTTPハンドラー。
type PaymentHandler struct {
	service PaymentServiceInterface
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(service PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// paymentRequest は決済の作成・更新リクエストのボディ。
// 作成時はidとstatusを無視する。
type paymentRequest struct {
	ID                string          `json:"id"`
	BankCardReference string          `json:"bank_card_reference"`
	OrderReference    string          `json:"order_reference"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
}

// paymentResponse は決済情報のAPIレスポンス。
type paymentResponse struct {
	ID                string      `json:"id"`
	BankCardReference string      `json:"bank_card_reference"`
	OrderReference    string      `json:"order_reference"`
	Status            string      `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	Amount            json.Number `json:"amount"`
}

// CreatePayment は決済を作成する。
// POST /api/payment
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	p, err := h.service.Create(r.Context(), req.toModel())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// GetPayment は決済を取得する。
// GET /api/payment/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// ListPayments は決済一覧を取得する。
// GET /api/payment?page=0&size=20
// 該当なしの場合は204を返す。
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	page, err := parseOptionalInt(r, "page")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError("pageは整数で指定してください"))
		return
	}
	size, err := parseOptionalInt(r, "size")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError("sizeは整数で指定してください"))
		return
	}

	payments, err := h.service.ListPage(r.Context(), page, size)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	results := make([]paymentResponse, len(payments))
	for i, p := range payments {
		results[i] = toPaymentResponse(p)
	}
	writeJSON(w, http.StatusOK, results)
}

// UpdatePayment は決済を置き換える。
// PUT /api/payment と PUT /api/payment/{id}
// パスにIDがある場合はボディのidと一致しなければならない。
func (h *PaymentHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	p, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req.toModel())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// SettlePayment は決済ゲートウェイを呼び出して決済を完了させる。
// POST /api/payment/{id}/settle
func (h *PaymentHandler) SettlePayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Settle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// --- ヘルパー関数 ---

func (req paymentRequest) toModel() model.PaymentRequest {
	return model.PaymentRequest{
		ID:                req.ID,
		BankCardReference: req.BankCardReference,
		OrderReference:    req.OrderReference,
		Status:            model.PaymentStatus(req.Status),
		Amount:            req.Amount,
	}
}

// toPaymentResponse はmodel.PaymentからAPIレスポンスに変換する。
// 金額は小数点以下2桁の数値として出力する。
func toPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:                p.ID,
		BankCardReference: p.BankCardReference,
		OrderReference:    p.OrderReference,
		Status:            string(p.Status),
		CreatedAt:         p.CreatedAt.UTC(),
		Amount:            json.Number(p.Amount.StringFixed(2)),
	}
}

// parseOptionalInt はクエリパラメータを整数として読み取る。
// 未指定の場合はnilを返す。
func parseOptionalInt(r *http.Request, key string) (*int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
