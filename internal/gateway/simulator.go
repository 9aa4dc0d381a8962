package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/paygate/internal/model"
)

// DefaultDelay はシミュレーターの既定の処理時間。
const DefaultDelay = 200 * time.Millisecond

// Simulator は固定の遅延後に決済を完了させるゲートウェイ。
// 外部の決済事業者は存在しないため、serveの既定とgatewayサブコマンドで使用する。
type Simulator struct {
	delay time.Duration
}

// NewSimulator はSimulatorを生成する。delayが0以下の場合はDefaultDelayを使用する。
func NewSimulator(delay time.Duration) *Simulator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Simulator{delay: delay}
}

// Delay は1件あたりの処理時間を返す。
func (s *Simulator) Delay() time.Duration {
	return s.delay
}

// Settle はdelayだけ待機してからステータスをPAIDにしたコピーを返す。
// 待機中にctxが終了した場合は、期限切れならErrGatewayTimeout、キャンセルならErrGatewayUnavailableを返す。
func (s *Simulator) Settle(ctx context.Context, payment *model.Payment) (*model.Payment, error) {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	case <-timer.C:
	}

	settled := payment.Clone()
	settled.Status = model.PaymentStatusPaid
	return settled, nil
}

// contextError はctxのエラーをゲートウェイの番兵エラーに変換する。
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
}

// compile-time interface check
var _ Settler = (*Simulator)(nil)
