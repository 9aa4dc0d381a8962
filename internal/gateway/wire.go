package gateway

import (
	"time"

	"github.com/hitoshi/paygate/internal/model"
	"github.com/shopspring/decimal"
)

// settlementPayload はゲートウェイとの間でやり取りする決済のJSON表現。
type settlementPayload struct {
	ID                string          `json:"id"`
	BankCardReference string          `json:"bank_card_reference"`
	OrderReference    string          `json:"order_reference"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	Amount            decimal.Decimal `json:"amount"`
}

func toPayload(p *model.Payment) settlementPayload {
	return settlementPayload{
		ID:                p.ID,
		BankCardReference: p.BankCardReference,
		OrderReference:    p.OrderReference,
		Status:            string(p.Status),
		CreatedAt:         p.CreatedAt,
		Amount:            p.Amount,
	}
}

func (s settlementPayload) toModel() *model.Payment {
	return &model.Payment{
		ID:                s.ID,
		BankCardReference: s.BankCardReference,
		OrderReference:    s.OrderReference,
		Status:            model.PaymentStatus(s.Status),
		CreatedAt:         s.CreatedAt,
		Amount:            s.Amount,
	}
}
