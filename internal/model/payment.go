// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus は決済の状態を表す。
type PaymentStatus string

const (
	// PaymentStatusNotPaid は未決済。作成直後の状態。
	PaymentStatusNotPaid PaymentStatus = "NOT_PAID"
	// PaymentStatusPaid は決済済み。終端状態。
	PaymentStatusPaid PaymentStatus = "PAID"
)

// IsValid は定義済みのステータスかどうかを返す。
func (s PaymentStatus) IsValid() bool {
	return s == PaymentStatusNotPaid || s == PaymentStatusPaid
}

// CanTransitionTo はsからnextへの遷移が許可されているかを返す。
// 同一状態への遷移は常に許可する。PAIDからNOT_PAIDへは戻れない。
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	return s == PaymentStatusNotPaid && next == PaymentStatusPaid
}

// Payment は1件の決済レコードを表す。
// IDはストアが採番し、以後変更されない。
type Payment struct {
	ID                string
	BankCardReference string
	OrderReference    string
	Status            PaymentStatus
	CreatedAt         time.Time
	Amount            decimal.Decimal
}

// NewPayment は未決済状態の新規Paymentを生成する。
// ステータスは呼び出し元から指定できず、常にNOT_PAIDになる。
func NewPayment(bankCardReference, orderReference string, amount decimal.Decimal, createdAt time.Time) *Payment {
	return &Payment{
		BankCardReference: bankCardReference,
		OrderReference:    orderReference,
		Status:            PaymentStatusNotPaid,
		CreatedAt:         createdAt,
		Amount:            amount,
	}
}

// Clone はPaymentのコピーを返す。
func (p *Payment) Clone() *Payment {
	c := *p
	return &c
}

// TransitionTo はステータスをnextに遷移させる。
// 許可されていない遷移の場合はErrInvalidTransitionを返し、ステータスは変更しない。
func (p *Payment) TransitionTo(next PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
	}
	p.Status = next
	return nil
}

// PaymentRequest は決済の作成・更新リクエストを表す。
// 作成時はIDとStatusを無視する。
type PaymentRequest struct {
	ID                string
	BankCardReference string
	OrderReference    string
	Status            PaymentStatus
	Amount            decimal.Decimal
}

// PageRequest はゼロ始まりのページ指定。
type PageRequest struct {
	Page int
	Size int
}

// Offset は先頭から読み飛ばす件数を返す。
// Page*Sizeがintに収まらない場合はmath.MaxIntに飽和させる。
func (p PageRequest) Offset() int {
	if p.Page <= 0 || p.Size <= 0 {
		return 0
	}
	if p.Page > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return p.Page * p.Size
}

// BeyondRange はOffsetが飽和し、どのデータ件数でも該当なしになる場合にtrueを返す。
func (p PageRequest) BeyondRange() bool {
	return p.Size > 0 && p.Page > math.MaxInt/p.Size
}
