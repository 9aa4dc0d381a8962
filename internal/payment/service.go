// Package payment は決済ライフサイクルのドメインロジックを提供する。
// 決済の作成・更新・取得・一覧と、決済ゲートウェイを介したPAIDへの遷移を扱う。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/paygate/internal/gateway"
	"github.com/hitoshi/paygate/internal/metrics"
	"github.com/hitoshi/paygate/internal/model"
	"github.com/hitoshi/paygate/internal/repository"
	"github.com/shopspring/decimal"
)

// DefaultSettleTimeout はゲートウェイ呼び出しの既定の上限時間。
const DefaultSettleTimeout = 5 * time.Second

// amountScale は金額の小数点以下の最大桁数（NUMERIC(19,2)に合わせる）。
const amountScale = 2

// Service は決済ライフサイクルのサービス層。
type Service struct {
	repo          repository.PaymentRepository
	settler       gateway.Settler
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	settleTimeout time.Duration
	now           func() time.Time
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithSettleTimeout はゲートウェイ呼び出しの上限時間を設定する。
func WithSettleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.settleTimeout = d
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(repo repository.PaymentRepository, settler gateway.Settler, collector metrics.MetricsCollector, opts ...Option) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	s := &Service{
		repo:          repo,
		settler:       settler,
		metrics:       collector,
		logger:        slog.Default(),
		settleTimeout: DefaultSettleTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create は未決済の決済を作成する。
// リクエストのIDとStatusは無視し、常にNOT_PAIDで保存する。
func (s *Service) Create(ctx context.Context, req model.PaymentRequest) (*model.Payment, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	// PostgreSQLのTIMESTAMPTZに合わせてマイクロ秒に丸める
	createdAt := s.now().UTC().Truncate(time.Microsecond)
	p := model.NewPayment(req.BankCardReference, req.OrderReference, req.Amount, createdAt)

	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("決済の作成に失敗しました: %w", err)
	}

	s.metrics.RecordPaymentCreated()
	s.logger.Info("決済を作成しました",
		slog.String("payment_id", created.ID),
		slog.String("order_reference", created.OrderReference),
	)

	return created, nil
}

// Update は既存の決済をリクエストの内容で置き換える。
// 対象はリクエストボディのIDで特定する。pathIDが空でない場合はボディのIDと一致しなければならない。
// IDとCreatedAtは既存レコードの値を引き継ぐ。Statusが空の場合は既存のステータスを維持する。
func (s *Service) Update(ctx context.Context, pathID string, req model.PaymentRequest) (*model.Payment, error) {
	if req.ID == "" {
		return nil, model.InvalidArgument("payment id is required")
	}
	bodyID, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, model.InvalidArgument("payment id is not a valid UUID: %q", req.ID)
	}
	if pathID != "" {
		pid, err := uuid.Parse(pathID)
		if err != nil {
			return nil, model.InvalidArgument("path id is not a valid UUID: %q", pathID)
		}
		if pid != bodyID {
			return nil, model.InvalidArgument("path id %s does not match body id %s", pathID, req.ID)
		}
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, bodyID.String())
	if err != nil {
		return nil, fmt.Errorf("決済の取得に失敗しました: %w", err)
	}

	replacement := existing.Clone()
	replacement.BankCardReference = req.BankCardReference
	replacement.OrderReference = req.OrderReference
	replacement.Amount = req.Amount

	if req.Status != "" {
		if !req.Status.IsValid() {
			return nil, model.InvalidArgument("unknown payment status: %q", req.Status)
		}
		if err := replacement.TransitionTo(req.Status); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Replace(ctx, replacement); err != nil {
		return nil, fmt.Errorf("決済の更新に失敗しました: %w", err)
	}

	if existing.Status != model.PaymentStatusPaid && replacement.Status == model.PaymentStatusPaid {
		s.metrics.RecordPaymentSettled()
	}
	s.logger.Info("決済を更新しました",
		slog.String("payment_id", replacement.ID),
		slog.String("status", string(replacement.Status)),
	)

	return replacement, nil
}

// FindByID は指定IDの決済を取得する。
func (s *Service) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	pid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.FindByID(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("決済の取得に失敗しました: %w", err)
	}
	return p, nil
}

// ListPage は決済一覧を返す。
// pageとsizeの両方が指定された場合はその1ページ分、どちらかがnilの場合は全件を返す。
// 該当なしの場合は空のスライスを返す。
func (s *Service) ListPage(ctx context.Context, page, size *int) ([]*model.Payment, error) {
	var pr *model.PageRequest
	if page != nil && size != nil {
		if *page < 0 {
			return nil, model.InvalidArgument("page must be zero or greater: %d", *page)
		}
		if *size <= 0 {
			return nil, model.InvalidArgument("size must be greater than zero: %d", *size)
		}
		pr = &model.PageRequest{Page: *page, Size: *size}
		if pr.BeyondRange() {
			return []*model.Payment{}, nil
		}
	}

	payments, err := s.repo.FindAll(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("決済一覧の取得に失敗しました: %w", err)
	}
	if payments == nil {
		payments = []*model.Payment{}
	}
	return payments, nil
}

// Settle は決済ゲートウェイを呼び出して決済をPAIDに遷移させる。
// すでにPAIDの場合はゲートウェイを呼ばずにそのまま返す。
// ゲートウェイが失敗した場合、決済はNOT_PAIDのまま残り、ErrGatewayUnavailableまたはErrGatewayTimeoutを返す。
func (s *Service) Settle(ctx context.Context, id string) (*model.Payment, error) {
	pid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("決済の取得に失敗しました: %w", err)
	}
	if existing.Status == model.PaymentStatusPaid {
		return existing, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	defer cancel()

	start := s.now()
	result, err := s.settler.Settle(gctx, existing.Clone())
	s.metrics.RecordSettleLatency(s.now().Sub(start))

	if err != nil {
		err = normalizeGatewayError(err)
		s.recordGatewayFailure(existing.ID, err)
		return nil, fmt.Errorf("決済ゲートウェイの呼び出しに失敗しました: %w", err)
	}
	if result == nil || result.Status != model.PaymentStatusPaid {
		err := fmt.Errorf("%w: gateway did not confirm payment", model.ErrGatewayUnavailable)
		s.recordGatewayFailure(existing.ID, err)
		return nil, err
	}

	settled := existing.Clone()
	if err := settled.TransitionTo(model.PaymentStatusPaid); err != nil {
		return nil, err
	}
	if err := s.repo.Replace(ctx, settled); err != nil {
		return nil, fmt.Errorf("決済ステータスの更新に失敗しました: %w", err)
	}

	s.metrics.RecordPaymentSettled()
	s.logger.Info("決済が完了しました",
		slog.String("payment_id", settled.ID),
		slog.String("order_reference", settled.OrderReference),
	)

	return settled, nil
}

func (s *Service) recordGatewayFailure(paymentID string, err error) {
	reason := "unavailable"
	if errors.Is(err, model.ErrGatewayTimeout) {
		reason = "timeout"
	}
	s.metrics.RecordGatewayFailure(reason)
	s.logger.Warn("決済ゲートウェイの呼び出しに失敗しました",
		slog.String("payment_id", paymentID),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

// normalizeGatewayError はゲートウェイの番兵エラーを含まないエラーをErrGatewayUnavailableとして扱う。
func normalizeGatewayError(err error) error {
	if errors.Is(err, model.ErrGatewayTimeout) || errors.Is(err, model.ErrGatewayUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
}

// validateAmount は金額が正の値で、小数点以下2桁以内であることを検証する。
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return model.InvalidArgument("amount must be greater than zero: %s", amount)
	}
	if !amount.Equal(amount.Round(amountScale)) {
		return model.InvalidArgument("amount must have at most %d decimal places: %s", amountScale, amount)
	}
	return nil
}

// parseID は決済IDを検証し、正規化した文字列を返す。
func parseID(id string) (string, error) {
	if id == "" {
		return "", model.InvalidArgument("payment id is required")
	}
	pid, err := uuid.Parse(id)
	if err != nil {
		return "", model.InvalidArgument("payment id is not a valid UUID: %q", id)
	}
	return pid.String(), nil
}
