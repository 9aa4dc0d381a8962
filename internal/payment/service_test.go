package payment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/paygate/internal/gateway"
	"github.com/hitoshi/paygate/internal/model"
	"github.com/hitoshi/paygate/internal/repository"
	"github.com/shopspring/decimal"
)

// --- モック ---

type mockPaymentRepo struct {
	createFn   func(ctx context.Context, p *model.Payment) (*model.Payment, error)
	findByIDFn func(ctx context.Context, id string) (*model.Payment, error)
	findAllFn  func(ctx context.Context, page *model.PageRequest) ([]*model.Payment, error)
	replaceFn  func(ctx context.Context, p *model.Payment) error
}

func (m *mockPaymentRepo) Create(ctx context.Context, p *model.Payment) (*model.Payment, error) {
	return m.createFn(ctx, p)
}
func (m *mockPaymentRepo) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockPaymentRepo) FindAll(ctx context.Context, page *model.PageRequest) ([]*model.Payment, error) {
	return m.findAllFn(ctx, page)
}
func (m *mockPaymentRepo) Replace(ctx context.Context, p *model.Payment) error {
	return m.replaceFn(ctx, p)
}

type mockMetrics struct {
	mu              sync.Mutex
	created         int
	settled         int
	gatewayFailures []string
	latencies       int
}

func (m *mockMetrics) RecordPaymentCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}
func (m *mockMetrics) RecordPaymentSettled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled++
}
func (m *mockMetrics) RecordGatewayFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayFailures = append(m.gatewayFailures, reason)
}
func (m *mockMetrics) RecordSettleLatency(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}
func (m *mockMetrics) RecordAuthFailure(string) {}
func (m *mockMetrics) RecordHTTPStatus(int)     {}

// --- ヘルパー ---

var fixedNow = time.Date(2026, 4, 1, 10, 30, 0, 123456789, time.UTC)

func paidSettler() gateway.Settler {
	return gateway.SettlerFunc(func(ctx context.Context, p *model.Payment) (*model.Payment, error) {
		out := p.Clone()
		out.Status = model.PaymentStatusPaid
		return out, nil
	})
}

func newTestService(t *testing.T, settler gateway.Settler) (*Service, *repository.MemoryPaymentRepo, *mockMetrics) {
	t.Helper()
	repo := repository.NewMemoryPaymentRepo()
	m := &mockMetrics{}
	var buf bytes.Buffer
	svc := NewService(repo, settler, m,
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))),
	)
	return svc, repo, m
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createPayment(t *testing.T, svc *Service, amt string) *model.Payment {
	t.Helper()
	p, err := svc.Create(context.Background(), model.PaymentRequest{
		BankCardReference: "card-1",
		OrderReference:    "order-1",
		Amount:            amount(amt),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return p
}

func intPtr(i int) *int { return &i }

// --- Create ---

func TestCreate_StoresNotPaidPayment(t *testing.T) {
	svc, repo, m := newTestService(t, paidSettler())

	p, err := svc.Create(context.Background(), model.PaymentRequest{
		ID:                "ignored",
		BankCardReference: "card-9",
		OrderReference:    "order-9",
		Status:            model.PaymentStatusPaid,
		Amount:            amount("10.00"),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if p.ID == "" || p.ID == "ignored" {
		t.Errorf("ID = %q, want a store-assigned id", p.ID)
	}
	if p.Status != model.PaymentStatusNotPaid {
		t.Errorf("Status = %s, want NOT_PAID", p.Status)
	}
	if !p.CreatedAt.Equal(fixedNow.Truncate(time.Microsecond)) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, fixedNow.Truncate(time.Microsecond))
	}

	stored, err := repo.FindByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if stored.Status != model.PaymentStatusNotPaid || stored.BankCardReference != "card-9" {
		t.Errorf("stored = %+v", stored)
	}
	if m.created != 1 {
		t.Errorf("created metric = %d, want 1", m.created)
	}
}

func TestCreate_InvalidAmount_ReturnsInvalidArgument(t *testing.T) {
	svc, _, m := newTestService(t, paidSettler())

	for _, amt := range []string{"0", "-5", "1.234"} {
		_, err := svc.Create(context.Background(), model.PaymentRequest{Amount: amount(amt)})
		if !errors.Is(err, model.ErrInvalidArgument) {
			t.Errorf("amount %s: err = %v, want ErrInvalidArgument", amt, err)
		}
	}
	if m.created != 0 {
		t.Errorf("created metric = %d, want 0", m.created)
	}
}

func TestCreate_RepositoryError_IsWrapped(t *testing.T) {
	repoErr := errors.New("connection reset")
	repo := &mockPaymentRepo{
		createFn: func(ctx context.Context, p *model.Payment) (*model.Payment, error) {
			return nil, repoErr
		},
	}
	svc := NewService(repo, paidSettler(), nil)

	_, err := svc.Create(context.Background(), model.PaymentRequest{Amount: amount("1")})
	if !errors.Is(err, repoErr) {
		t.Errorf("err = %v, want wrapped repository error", err)
	}
}

// --- Update ---

func TestUpdate_PreservesIDAndCreatedAt(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())
	created := createPayment(t, svc, "10.00")

	updated, err := svc.Update(context.Background(), created.ID, model.PaymentRequest{
		ID:                created.ID,
		BankCardReference: "card-2",
		OrderReference:    "order-2",
		Amount:            amount("12.50"),
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if updated.ID != created.ID {
		t.Errorf("ID = %q, want %q", updated.ID, created.ID)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", updated.CreatedAt, created.CreatedAt)
	}
	if updated.Status != model.PaymentStatusNotPaid {
		t.Errorf("Status = %s, want NOT_PAID kept", updated.Status)
	}
	if updated.BankCardReference != "card-2" || !updated.Amount.Equal(amount("12.50")) {
		t.Errorf("updated = %+v", updated)
	}

	got, err := svc.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got.OrderReference != "order-2" {
		t.Errorf("stored OrderReference = %q, want order-2", got.OrderReference)
	}
}

func TestUpdate_EmptyPathID_UsesBodyID(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())
	created := createPayment(t, svc, "10.00")

	updated, err := svc.Update(context.Background(), "", model.PaymentRequest{
		ID:     created.ID,
		Amount: amount("11"),
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("ID = %q, want %q", updated.ID, created.ID)
	}
}

func TestUpdate_NotPaidToPaid_RecordsSettled(t *testing.T) {
	svc, _, m := newTestService(t, paidSettler())
	created := createPayment(t, svc, "10.00")

	updated, err := svc.Update(context.Background(), created.ID, model.PaymentRequest{
		ID:     created.ID,
		Status: model.PaymentStatusPaid,
		Amount: amount("10.00"),
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Status != model.PaymentStatusPaid {
		t.Errorf("Status = %s, want PAID", updated.Status)
	}
	if m.settled != 1 {
		t.Errorf("settled metric = %d, want 1", m.settled)
	}
}

func TestUpdate_PaidToNotPaid_ReturnsInvalidTransition(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())
	created := createPayment(t, svc, "10.00")
	if _, err := svc.Settle(context.Background(), created.ID); err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}

	_, err := svc.Update(context.Background(), created.ID, model.PaymentRequest{
		ID:     created.ID,
		Status: model.PaymentStatusNotPaid,
		Amount: amount("10.00"),
	})
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	got, _ := svc.FindByID(context.Background(), created.ID)
	if got.Status != model.PaymentStatusPaid {
		t.Errorf("stored Status = %s, want PAID", got.Status)
	}
}

func TestUpdate_InvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())
	created := createPayment(t, svc, "10.00")
	other := "0b8f7c5e-3a2d-4e1f-9c8b-7a6d5e4f3a2b"

	tests := []struct {
		name   string
		pathID string
		req    model.PaymentRequest
	}{
		{"missing body id", created.ID, model.PaymentRequest{Amount: amount("1")}},
		{"malformed body id", "", model.PaymentRequest{ID: "not-a-uuid", Amount: amount("1")}},
		{"mismatched path id", other, model.PaymentRequest{ID: created.ID, Amount: amount("1")}},
		{"malformed path id", "xyz", model.PaymentRequest{ID: created.ID, Amount: amount("1")}},
		{"unknown status", created.ID, model.PaymentRequest{ID: created.ID, Status: "REFUNDED", Amount: amount("1")}},
		{"zero amount", created.ID, model.PaymentRequest{ID: created.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(context.Background(), tt.pathID, tt.req)
			if !errors.Is(err, model.ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestUpdate_UnknownID_ReturnsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())
	id := "0b8f7c5e-3a2d-4e1f-9c8b-7a6d5e4f3a2b"

	_, err := svc.Update(context.Background(), id, model.PaymentRequest{ID: id, Amount: amount("1")})
	if !errors.Is(err, model.ErrPaymentNotFound) {
		t.Errorf("err = %v, want ErrPaymentNotFound", err)
	}
}

// --- FindByID ---

func TestFindByID_InvalidID(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())

	for _, id := range []string{"", "12345"} {
		_, err := svc.FindByID(context.Background(), id)
		if !errors.Is(err, model.ErrInvalidArgument) {
			t.Errorf("id %q: err = %v, want ErrInvalidArgument", id, err)
		}
	}
}

func TestFindByID_Absent_ReturnsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())

	_, err := svc.FindByID(context.Background(), "0b8f7c5e-3a2d-4e1f-9c8b-7a6d5e4f3a2b")
	if !errors.Is(err, model.ErrPaymentNotFound) {
		t.Errorf("err = %v, want ErrPaymentNotFound", err)
	}
}

// --- ListPage ---

func TestListPage_NilParams_ReturnsAll(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())
	for i := 0; i < 3; i++ {
		createPayment(t, svc, "1")
	}

	all, err := svc.ListPage(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ListPage returned error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}

	// どちらか一方だけの指定も全件扱い
	all, err = svc.ListPage(context.Background(), intPtr(0), nil)
	if err != nil {
		t.Fatalf("ListPage returned error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}
}

func TestListPage_Paged(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())
	for i := 0; i < 5; i++ {
		createPayment(t, svc, "1")
	}

	page, err := svc.ListPage(context.Background(), intPtr(1), intPtr(2))
	if err != nil {
		t.Fatalf("ListPage returned error: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("len = %d, want 2", len(page))
	}

	last, err := svc.ListPage(context.Background(), intPtr(2), intPtr(2))
	if err != nil {
		t.Fatalf("ListPage returned error: %v", err)
	}
	if len(last) != 1 {
		t.Errorf("len = %d, want 1", len(last))
	}
}

func TestListPage_Empty_ReturnsEmptySlice(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())

	got, err := svc.ListPage(context.Background(), intPtr(0), intPtr(10))
	if err != nil {
		t.Fatalf("ListPage returned error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got = %v, want empty non-nil slice", got)
	}
}

func TestListPage_PageBeyondIntRange_ReturnsEmpty(t *testing.T) {
	repo := &mockPaymentRepo{
		findAllFn: func(ctx context.Context, page *model.PageRequest) ([]*model.Payment, error) {
			t.Error("repository should not be queried for an unreachable page")
			return nil, nil
		},
	}
	svc := NewService(repo, paidSettler(), &mockMetrics{})

	got, err := svc.ListPage(context.Background(), intPtr(math.MaxInt/2), intPtr(4))
	if err != nil {
		t.Fatalf("ListPage returned error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got = %v, want empty non-nil slice", got)
	}
}

func TestListPage_InvalidParams(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())

	if _, err := svc.ListPage(context.Background(), intPtr(-1), intPtr(10)); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("negative page: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.ListPage(context.Background(), intPtr(0), intPtr(0)); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("zero size: err = %v, want ErrInvalidArgument", err)
	}
}

// --- Settle ---

func TestSettle_TransitionsToPaid(t *testing.T) {
	svc, _, m := newTestService(t, paidSettler())
	created := createPayment(t, svc, "49.90")

	settled, err := svc.Settle(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if settled.Status != model.PaymentStatusPaid {
		t.Errorf("Status = %s, want PAID", settled.Status)
	}
	if settled.ID != created.ID || !settled.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("settled = %+v, want id and createdAt preserved", settled)
	}

	stored, _ := svc.FindByID(context.Background(), created.ID)
	if stored.Status != model.PaymentStatusPaid {
		t.Errorf("stored Status = %s, want PAID", stored.Status)
	}
	if m.settled != 1 || m.latencies != 1 {
		t.Errorf("metrics settled=%d latencies=%d, want 1/1", m.settled, m.latencies)
	}
}

func TestSettle_AlreadyPaid_DoesNotCallGateway(t *testing.T) {
	calls := 0
	settler := gateway.SettlerFunc(func(ctx context.Context, p *model.Payment) (*model.Payment, error) {
		calls++
		out := p.Clone()
		out.Status = model.PaymentStatusPaid
		return out, nil
	})
	svc, _, _ := newTestService(t, settler)
	created := createPayment(t, svc, "1")

	if _, err := svc.Settle(context.Background(), created.ID); err != nil {
		t.Fatalf("first Settle returned error: %v", err)
	}
	again, err := svc.Settle(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("second Settle returned error: %v", err)
	}
	if again.Status != model.PaymentStatusPaid {
		t.Errorf("Status = %s, want PAID", again.Status)
	}
	if calls != 1 {
		t.Errorf("gateway calls = %d, want 1", calls)
	}
}

func TestSettle_GatewayFailure_LeavesNotPaid(t *testing.T) {
	tests := []struct {
		name       string
		gatewayErr error
		wantErr    error
		wantReason string
	}{
		{"unavailable", model.ErrGatewayUnavailable, model.ErrGatewayUnavailable, "unavailable"},
		{"timeout", model.ErrGatewayTimeout, model.ErrGatewayTimeout, "timeout"},
		{"unclassified", errors.New("boom"), model.ErrGatewayUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settler := gateway.SettlerFunc(func(ctx context.Context, p *model.Payment) (*model.Payment, error) {
				return nil, tt.gatewayErr
			})
			svc, _, m := newTestService(t, settler)
			created := createPayment(t, svc, "1")

			_, err := svc.Settle(context.Background(), created.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}

			stored, _ := svc.FindByID(context.Background(), created.ID)
			if stored.Status != model.PaymentStatusNotPaid {
				t.Errorf("stored Status = %s, want NOT_PAID", stored.Status)
			}
			if len(m.gatewayFailures) != 1 || m.gatewayFailures[0] != tt.wantReason {
				t.Errorf("gateway failures = %v, want [%s]", m.gatewayFailures, tt.wantReason)
			}
		})
	}
}

func TestSettle_GatewayDoesNotConfirm_ReturnsUnavailable(t *testing.T) {
	settler := gateway.SettlerFunc(func(ctx context.Context, p *model.Payment) (*model.Payment, error) {
		return p.Clone(), nil
	})
	svc, _, _ := newTestService(t, settler)
	created := createPayment(t, svc, "1")

	_, err := svc.Settle(context.Background(), created.ID)
	if !errors.Is(err, model.ErrGatewayUnavailable) {
		t.Errorf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestSettle_SlowGateway_IsBoundedByTimeout(t *testing.T) {
	repo := repository.NewMemoryPaymentRepo()
	svc := NewService(repo, gateway.NewSimulator(time.Second), nil, WithSettleTimeout(20*time.Millisecond))
	created := createPayment(t, svc, "1")

	start := time.Now()
	_, err := svc.Settle(context.Background(), created.ID)
	if !errors.Is(err, model.ErrGatewayTimeout) {
		t.Fatalf("err = %v, want ErrGatewayTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Settle took %v, want it bounded by the timeout", elapsed)
	}
}

func TestSettle_Absent_ReturnsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, paidSettler())

	_, err := svc.Settle(context.Background(), "0b8f7c5e-3a2d-4e1f-9c8b-7a6d5e4f3a2b")
	if !errors.Is(err, model.ErrPaymentNotFound) {
		t.Errorf("err = %v, want ErrPaymentNotFound", err)
	}
}

// TestLifecycle_CreateSettleAndRejectRevert は作成から決済完了、差し戻し拒否までの一連の流れを検証する。
func TestLifecycle_CreateSettleAndRejectRevert(t *testing.T) {
	repo := repository.NewMemoryPaymentRepo()
	svc := NewService(repo, gateway.NewSimulator(5*time.Millisecond), nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, model.PaymentRequest{
		BankCardReference: "card-x",
		OrderReference:    "order-x",
		Amount:            amount("100.00"),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Status != model.PaymentStatusNotPaid {
		t.Fatalf("Status = %s, want NOT_PAID", created.Status)
	}

	settled, err := svc.Settle(ctx, created.ID)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if settled.Status != model.PaymentStatusPaid || settled.ID != created.ID {
		t.Fatalf("settled = %+v", settled)
	}

	_, err = svc.Update(ctx, created.ID, model.PaymentRequest{
		ID:     created.ID,
		Status: model.PaymentStatusNotPaid,
		Amount: amount("100.00"),
	})
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	all, err := svc.ListPage(ctx, nil, nil)
	if err != nil {
		t.Fatalf("ListPage returned error: %v", err)
	}
	if len(all) != 1 || all[0].Status != model.PaymentStatusPaid {
		t.Errorf("all = %+v, want single PAID payment", all)
	}
}
