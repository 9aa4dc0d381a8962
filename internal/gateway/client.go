package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/paygate/internal/model"
)

// SettlePath はゲートウェイの決済エンドポイントのパス。
const SettlePath = "/gateway/settle"

// maxResponseBytes はゲートウェイ応答として読み込む最大バイト数。
const maxResponseBytes = 1 << 20

// Client はHTTP経由で決済ゲートウェイを呼び出すクライアント。
// GATEWAY_URLが設定されている場合にserveが使用する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewClient はClientを生成する。
// baseURLはゲートウェイのベースURL（例: "http://gateway:8090"）、timeoutは1回の呼び出しの上限。
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		endpoint:   baseURL + SettlePath,
	}
}

// Settle はゲートウェイに決済を送信し、処理結果のPaymentを返す。
// タイムアウトはErrGatewayTimeout、接続失敗・200以外のステータス・不正な応答はErrGatewayUnavailableとして返す。
func (c *Client) Settle(ctx context.Context, payment *model.Payment) (*model.Payment, error) {
	body, err := json.Marshal(toPayload(payment))
	if err != nil {
		return nil, fmt.Errorf("failed to encode settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Paygate/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("決済ゲートウェイの呼び出しに失敗しました",
			slog.String("payment_id", payment.ID),
			slog.String("error", err.Error()),
		)
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("決済ゲートウェイがエラーステータスを返しました",
			slog.String("payment_id", payment.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: gateway returned status %d", model.ErrGatewayUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	var result settlementPayload
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("決済ゲートウェイの応答のパースに失敗しました",
			slog.String("payment_id", payment.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: failed to decode gateway response: %v", model.ErrGatewayUnavailable, err)
	}

	return result.toModel(), nil
}

// classifyTransportError はHTTP呼び出しのエラーをタイムアウトと接続失敗に分類する。
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrGatewayTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", model.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
}

// compile-time interface check
var _ Settler = (*Client)(nil)
