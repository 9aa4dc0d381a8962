// Package gateway は決済ゲートウェイとの連携を提供する。
// 固定遅延で決済を完了させるシミュレーター、HTTP経由で別プロセスのゲートウェイを呼び出すクライアント、
// シミュレーターを公開するHTTPハンドラーを含む。
package gateway

import (
	"context"

	"github.com/hitoshi/paygate/internal/model"
)

// Settler は決済ゲートウェイの抽象。
// 未決済のPaymentを受け取り、ゲートウェイが処理した結果のPaymentを返す。
// 失敗時はmodel.ErrGatewayUnavailableまたはmodel.ErrGatewayTimeoutをラップしたエラーを返す。
type Settler interface {
	Settle(ctx context.Context, payment *model.Payment) (*model.Payment, error)
}

// SettlerFunc は関数をSettlerとして扱うためのアダプタ。
type SettlerFunc func(ctx context.Context, payment *model.Payment) (*model.Payment, error)

// Settle はf(ctx, payment)を呼び出す。
func (f SettlerFunc) Settle(ctx context.Context, payment *model.Payment) (*model.Payment, error) {
	return f(ctx, payment)
}
