package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/paygate/internal/config"
	"github.com/hitoshi/paygate/internal/gateway"
	"github.com/hitoshi/paygate/internal/metrics"
	"github.com/hitoshi/paygate/internal/middleware"
	"github.com/hitoshi/paygate/internal/model"
	"github.com/hitoshi/paygate/internal/payment"
	"github.com/hitoshi/paygate/internal/repository"
	"github.com/hitoshi/paygate/internal/token"
	"github.com/prometheus/client_golang/prometheus"
)

type testServer struct {
	*httptest.Server
}

// newTestServer はメモリストアとシミュレーターで構成したルーターを起動する。
func newTestServer(t *testing.T, settler gateway.Settler, rlConfig *middleware.RateLimiterConfig) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	repo := repository.NewMemoryPaymentRepo()
	codec := token.NewCodec(config.StaticSigningKey("router-test-key"))
	svc := payment.NewService(repo, settler, collector,
		payment.WithSettleTimeout(time.Second),
		payment.WithLogger(logger),
	)

	var rl *middleware.RateLimiter
	if rlConfig != nil {
		rl = middleware.NewRateLimiter(*rlConfig)
		t.Cleanup(rl.Stop)
	}

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		TokenValidator:    codec,
		TokenIssuer:       codec,
		ClientSecret:      testClientSecret,
		PaymentService:    svc,
		Pinger:            repo,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv}
}

func (s *testServer) do(t *testing.T, method, path, bearer, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) issueToken(t *testing.T, subject string) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/auth/token", "",
		fmt.Sprintf(`{"subject": %q, "client_secret": %q}`, subject, testClientSecret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token issue status = %d, want 200", resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	return tr.AccessToken
}

func decodePayment(t *testing.T, resp *http.Response) paymentResponse {
	t.Helper()
	var p paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode payment: %v", err)
	}
	return p
}

func TestRouter_PaymentLifecycle(t *testing.T) {
	srv := newTestServer(t, gateway.NewSimulator(time.Millisecond), nil)
	tok := srv.issueToken(t, "alice")

	// 空の一覧は204
	if resp := srv.do(t, http.MethodGet, "/api/payment", tok, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("empty list status = %d, want 204", resp.StatusCode)
	}

	// 作成。statusを指定しても常にNOT_PAID
	resp := srv.do(t, http.MethodPost, "/api/payment", tok,
		`{"bank_card_reference": "card-1", "order_reference": "order-1", "status": "PAID", "amount": 12.50}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, want 200", resp.StatusCode)
	}
	created := decodePayment(t, resp)
	if created.Status != string(model.PaymentStatusNotPaid) {
		t.Errorf("created status = %q, want NOT_PAID", created.Status)
	}
	if created.ID == "" {
		t.Fatal("created id is empty")
	}

	// 取得
	resp = srv.do(t, http.MethodGet, "/api/payment/"+created.ID, tok, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	if got := decodePayment(t, resp); got.Amount != "12.50" {
		t.Errorf("amount = %q, want 12.50", got.Amount)
	}

	// 決済
	resp = srv.do(t, http.MethodPost, "/api/payment/"+created.ID+"/settle", tok, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settle status = %d, want 200", resp.StatusCode)
	}
	settled := decodePayment(t, resp)
	if settled.Status != string(model.PaymentStatusPaid) {
		t.Errorf("settled status = %q, want PAID", settled.Status)
	}
	if settled.ID != created.ID || !settled.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("settle must preserve id and created_at: got %+v, created %+v", settled, created)
	}

	// PAIDからNOT_PAIDには戻せない
	body := fmt.Sprintf(`{"id": %q, "status": "NOT_PAID", "amount": 12.50}`, created.ID)
	if resp := srv.do(t, http.MethodPut, "/api/payment/"+created.ID, tok, body); resp.StatusCode != http.StatusConflict {
		t.Errorf("revert status = %d, want 409", resp.StatusCode)
	}

	// パスIDとボディIDの不一致
	body = fmt.Sprintf(`{"id": %q, "amount": 12.50}`, created.ID)
	if resp := srv.do(t, http.MethodPut, "/api/payment/8a7f4f0e-2a53-4b5e-9d0c-3b1f3f2c9e11", tok, body); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatch status = %d, want 400", resp.StatusCode)
	}

	// 一覧
	resp = srv.do(t, http.MethodGet, "/api/payment?page=0&size=10", tok, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var list []paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 1 || list[0].Status != string(model.PaymentStatusPaid) {
		t.Errorf("list = %+v, want one PAID payment", list)
	}
}

func TestRouter_PaymentRoutes_RequireBearerToken(t *testing.T) {
	srv := newTestServer(t, gateway.NewSimulator(time.Millisecond), nil)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/payment"},
		{http.MethodPost, "/api/payment"},
		{http.MethodPut, "/api/payment"},
		{http.MethodGet, "/api/payment/8a7f4f0e-2a53-4b5e-9d0c-3b1f3f2c9e11"},
		{http.MethodPost, "/api/payment/8a7f4f0e-2a53-4b5e-9d0c-3b1f3f2c9e11/settle"},
	}

	for _, rt := range routes {
		resp := srv.do(t, rt.method, rt.path, "", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", rt.method, rt.path, resp.StatusCode)
		}
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Errorf("%s %s: missing WWW-Authenticate header", rt.method, rt.path)
		}
	}

	// 別の鍵で署名されたトークン
	forged, err := token.NewCodec(config.StaticSigningKey("other-key")).Issue("mallory")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	resp := srv.do(t, http.MethodGet, "/api/payment", forged, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d, want 401", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["code"] != model.ErrCodeTokenInvalidSignature {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeTokenInvalidSignature)
	}
}

func TestRouter_GatewayFailure_LeavesPaymentNotPaid(t *testing.T) {
	failing := gateway.SettlerFunc(func(ctx context.Context, p *model.Payment) (*model.Payment, error) {
		return nil, model.ErrGatewayUnavailable
	})
	srv := newTestServer(t, failing, nil)
	tok := srv.issueToken(t, "alice")

	created := decodePayment(t, srv.do(t, http.MethodPost, "/api/payment", tok, `{"amount": 5}`))

	resp := srv.do(t, http.MethodPost, "/api/payment/"+created.ID+"/settle", tok, "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("settle status = %d, want 502", resp.StatusCode)
	}

	got := decodePayment(t, srv.do(t, http.MethodGet, "/api/payment/"+created.ID, tok, ""))
	if got.Status != string(model.PaymentStatusNotPaid) {
		t.Errorf("status after failed settle = %q, want NOT_PAID", got.Status)
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	srv := newTestServer(t, gateway.NewSimulator(time.Millisecond), nil)

	resp := srv.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("expected X-Request-ID header on response")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on response")
	}

	resp = srv.do(t, http.MethodGet, "/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(data, []byte("paygate_http_status_total")) {
		t.Error("expected paygate_http_status_total in metrics output")
	}

	resp = srv.do(t, http.MethodOptions, "/api/payment", "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
}

func TestRouter_PaymentCreateRateLimit(t *testing.T) {
	cfg := middleware.DefaultRateLimiterConfig()
	cfg.PaymentCreateBurst = 1
	srv := newTestServer(t, gateway.NewSimulator(time.Millisecond), &cfg)
	tok := srv.issueToken(t, "alice")

	body := `{"order_reference": "order-1", "amount": 1}`
	if resp := srv.do(t, http.MethodPost, "/api/payment", tok, body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first create status = %d, want 200", resp.StatusCode)
	}

	resp := srv.do(t, http.MethodPost, "/api/payment", tok, body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second create status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// 別のsubjectは影響を受けない
	other := srv.issueToken(t, "bob")
	if resp := srv.do(t, http.MethodPost, "/api/payment", other, body); resp.StatusCode != http.StatusOK {
		t.Errorf("other subject status = %d, want 200", resp.StatusCode)
	}

	// 一覧取得は作成専用の制限を受けない
	if resp := srv.do(t, http.MethodGet, "/api/payment", tok, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("list status = %d, want 200", resp.StatusCode)
	}
}

func TestRouter_ListPayments_HugePage_ReturnsNoContent(t *testing.T) {
	srv := newTestServer(t, gateway.NewSimulator(time.Millisecond), nil)
	tok := srv.issueToken(t, "alice")

	if resp := srv.do(t, http.MethodPost, "/api/payment", tok, `{"amount": 1}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, want 200", resp.StatusCode)
	}

	// page*sizeがintに収まらないページ指定
	resp := srv.do(t, http.MethodGet, "/api/payment?page=2305843009213693952&size=4", tok, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("huge page status = %d, want 204", resp.StatusCode)
	}
}
