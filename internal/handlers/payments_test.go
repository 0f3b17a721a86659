package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/payments"
	"github.com/framecraft/api/internal/platform/auth"
	"github.com/framecraft/api/internal/services"
)

type stubGateway struct {
	provider   string
	initiateFn func(context.Context, payments.InitiateRequest) (payments.Session, error)
}

func (g *stubGateway) Provider() string { return g.provider }

func (g *stubGateway) Initiate(ctx context.Context, req payments.InitiateRequest) (payments.Session, error) {
	if g.initiateFn != nil {
		return g.initiateFn(ctx, req)
	}
	return payments.Session{}, errors.New("not implemented")
}

func (g *stubGateway) Verify(context.Context, payments.Evidence) (payments.Verification, error) {
	return payments.Verification{}, errors.New("not implemented")
}

func (g *stubGateway) AuthenticateCallback(context.Context, payments.Evidence) (payments.CallbackResult, error) {
	return payments.CallbackResult{}, errors.New("not implemented")
}

type stubReconciler struct {
	calls       int
	provider    string
	evidence    payments.Evidence
	reconcileFn func(context.Context, string, payments.Evidence) services.ReconcileResult
}

func (s *stubReconciler) Reconcile(ctx context.Context, provider string, evidence payments.Evidence) services.ReconcileResult {
	s.calls++
	s.provider = provider
	s.evidence = evidence
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, provider, evidence)
	}
	return services.ReconcileResult{}
}

func newPaymentTestRouter(h *PaymentHandlers, identity *auth.Identity) chi.Router {
	router := chi.NewRouter()
	router.Use(withTestIdentity(identity))
	router.Route("/payments", h.Routes)
	return router
}

func ownedOrderService(t *testing.T, order services.Order) *stubOrderService {
	t.Helper()
	return &stubOrderService{
		getFn: func(_ context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			if orderID != order.ID || (opts.OwnerID != "" && opts.OwnerID != order.UserID) {
				return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, orderID)
			}
			return order, nil
		},
	}
}

func mustManager(t *testing.T, gateways ...payments.Gateway) *payments.Manager {
	t.Helper()
	manager, err := payments.NewManager(gateways...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func TestPaymentHandlersInitiateStripe(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	var captured payments.InitiateRequest
	gateway := &stubGateway{
		provider: payments.ProviderStripe,
		initiateFn: func(_ context.Context, req payments.InitiateRequest) (payments.Session, error) {
			captured = req
			return payments.Session{Provider: payments.ProviderStripe, ClientSecret: "pi_1_secret", PaymentIntentID: "pi_1"}, nil
		},
	}
	h := NewPaymentHandlers(nil, ownedOrderService(t, order), mustManager(t, gateway), &stubReconciler{})

	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe/initiate", strings.NewReader(`{"orderId": "ord_123"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.TransactionID != "TXN_abc" || captured.Amount != 1249 {
		t.Fatalf("unexpected initiate request %#v", captured)
	}
	if captured.Customer.Email != "asha@example.com" || captured.UDF[0] != "ord_123" {
		t.Fatalf("unexpected customer or udf %#v", captured)
	}
	if captured.ProductInfo != "Order FR202405120001" {
		t.Fatalf("unexpected product info %q", captured.ProductInfo)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["clientSecret"] != "pi_1_secret" || body["paymentIntentId"] != "pi_1" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestPaymentHandlersInitiateRazorpay(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	gateway := &stubGateway{
		provider: payments.ProviderRazorpay,
		initiateFn: func(context.Context, payments.InitiateRequest) (payments.Session, error) {
			return payments.Session{
				Provider:        payments.ProviderRazorpay,
				ProviderOrderID: "order_rzp_1",
				AmountMinor:     124900,
				Currency:        "INR",
				KeyID:           "rzp_test_key",
			}, nil
		},
	}
	h := NewPaymentHandlers(nil, ownedOrderService(t, order), mustManager(t, gateway), &stubReconciler{})

	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/razorpay/initiate", strings.NewReader(`{"orderId": "ord_123"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body razorpaySessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.OrderID != "order_rzp_1" || body.Amount != 124900 || body.Currency != "INR" || body.Key != "rzp_test_key" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestPaymentHandlersInitiateRejects(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	paid := sampleOrder(now)
	paid.PaymentStatus = domain.PaymentStatusPaid
	gateway := &stubGateway{
		provider: payments.ProviderStripe,
		initiateFn: func(context.Context, payments.InitiateRequest) (payments.Session, error) {
			t.Fatalf("gateway must not be called")
			return payments.Session{}, nil
		},
	}

	cases := []struct {
		name     string
		order    services.Order
		identity *auth.Identity
		target   string
		status   int
	}{
		{"unknown provider", sampleOrder(now), customer, "/payments/paypal/initiate", http.StatusNotFound},
		{"already paid", paid, customer, "/payments/stripe/initiate", http.StatusConflict},
		{"not owner", sampleOrder(now), &auth.Identity{UID: "user-2"}, "/payments/stripe/initiate", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewPaymentHandlers(nil, ownedOrderService(t, tc.order), mustManager(t, gateway), &stubReconciler{})
			rr := httptest.NewRecorder()
			newPaymentTestRouter(h, tc.identity).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(`{"orderId": "ord_123"}`)))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPaymentHandlersInitiateProviderFailure(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	gateway := &stubGateway{
		provider: payments.ProviderStripe,
		initiateFn: func(context.Context, payments.InitiateRequest) (payments.Session, error) {
			return payments.Session{}, errors.New("stripe: connection reset")
		},
	}
	h := NewPaymentHandlers(nil, ownedOrderService(t, order), mustManager(t, gateway), &stubReconciler{})

	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe/initiate", strings.NewReader(`{"orderId": "ord_123"}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestPaymentHandlersVerifyRazorpay(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	reconciler := &stubReconciler{
		reconcileFn: func(_ context.Context, _ string, evidence payments.Evidence) services.ReconcileResult {
			return services.ReconcileResult{Success: true, OrderID: evidence.Reference().OrderID, Message: "payment verified"}
		},
	}
	h := NewPaymentHandlers(nil, ownedOrderService(t, order), mustManager(t, &stubGateway{provider: payments.ProviderRazorpay}), reconciler)

	payload := `{"orderId": "ord_123", "razorpayOrderId": "order_rzp_1", "paymentId": "pay_1", "signature": "abc"}`
	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/razorpay/verify", strings.NewReader(payload)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if reconciler.provider != payments.ProviderRazorpay {
		t.Fatalf("expected razorpay reconciliation, got %q", reconciler.provider)
	}
	proof, ok := reconciler.evidence.(payments.RazorpayProof)
	if !ok {
		t.Fatalf("expected RazorpayProof, got %T", reconciler.evidence)
	}
	if proof.ProviderOrderID != "order_rzp_1" || proof.PaymentID != "pay_1" || proof.Signature != "abc" {
		t.Fatalf("unexpected proof %#v", proof)
	}
	var body verifyPaymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Success || body.OrderID != "ord_123" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestPaymentHandlersVerifyStripeFailure(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	reconciler := &stubReconciler{
		reconcileFn: func(context.Context, string, payments.Evidence) services.ReconcileResult {
			return services.ReconcileResult{OrderID: "ord_123", Message: "payment not completed"}
		},
	}
	h := NewPaymentHandlers(nil, ownedOrderService(t, order), mustManager(t, &stubGateway{provider: payments.ProviderStripe}), reconciler)

	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe/verify", strings.NewReader(`{"orderId": "ord_123", "paymentIntentId": "pi_1"}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] != "payment_verification_failed" || body["message"] != "payment not completed" || body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := reconciler.evidence.(payments.StripeIntentProof); !ok {
		t.Fatalf("expected StripeIntentProof, got %T", reconciler.evidence)
	}
}

func TestPaymentHandlersVerifyRequiresOwnership(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	reconciler := &stubReconciler{}
	h := NewPaymentHandlers(nil, ownedOrderService(t, order), mustManager(t, &stubGateway{provider: payments.ProviderStripe}), reconciler)

	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, &auth.Identity{UID: "user-2"}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe/verify", strings.NewReader(`{"orderId": "ord_123", "paymentIntentId": "pi_1"}`)))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if reconciler.calls != 0 {
		t.Fatalf("reconciler must not run for foreign orders")
	}
}

func payuTransactionService(t *testing.T, order services.Order) *stubOrderService {
	t.Helper()
	return &stubOrderService{
		getTxnFn: func(_ context.Context, txnID string, opts services.OrderReadOptions) (services.Order, error) {
			if txnID != order.TransactionID || (opts.OwnerID != "" && opts.OwnerID != order.UserID) {
				return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, txnID)
			}
			return order, nil
		},
	}
}

func TestPaymentHandlersPayUHash(t *testing.T) {
	gateway, err := payments.NewPayUGateway(payments.PayUConfig{Key: "merchant", Salt: "salt"})
	if err != nil {
		t.Fatalf("NewPayUGateway: %v", err)
	}
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	h := NewPaymentHandlers(nil, payuTransactionService(t, order), mustManager(t, gateway), &stubReconciler{})

	payload := `{"txnid": "TXN_abc", "amount": 1, "productinfo": "Order FR1", "firstname": "Asha", "email": "asha@example.com", "udf1": "ord_123"}`
	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/payu/hash", strings.NewReader(payload)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	want := gateway.PaymentHash(payments.PayUHashInput{
		TxnID:       "TXN_abc",
		Amount:      "1249.00",
		ProductInfo: "Order FR1",
		FirstName:   "Asha",
		Email:       "asha@example.com",
		UDF:         [5]string{"ord_123"},
	})
	var body payuHashResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Hash != want || body.Amount != "1249.00" {
		t.Fatalf("expected the order total to be signed, got %#v", body)
	}
}

func TestPaymentHandlersPayUHashRejectsForeignOrPaidOrders(t *testing.T) {
	gateway, err := payments.NewPayUGateway(payments.PayUConfig{Key: "merchant", Salt: "salt"})
	if err != nil {
		t.Fatalf("NewPayUGateway: %v", err)
	}
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	payload := `{"txnid": "TXN_abc", "productinfo": "Order FR1", "firstname": "Asha", "email": "asha@example.com"}`

	h := NewPaymentHandlers(nil, payuTransactionService(t, order), mustManager(t, gateway), &stubReconciler{})
	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, &auth.Identity{UID: "user-2"}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/payu/hash", strings.NewReader(payload)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for another user's transaction, got %d", rr.Code)
	}

	order.PaymentStatus = domain.PaymentStatusPaid
	h = NewPaymentHandlers(nil, payuTransactionService(t, order), mustManager(t, gateway), &stubReconciler{})
	rr = httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/payu/hash", strings.NewReader(payload)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for a paid order, got %d", rr.Code)
	}
}

func TestPaymentHandlersVerifyRazorpayRequiresProviderOrder(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	reconciler := &stubReconciler{}
	h := NewPaymentHandlers(nil, ownedOrderService(t, order), mustManager(t, &stubGateway{provider: payments.ProviderRazorpay}), reconciler)

	payload := `{"orderId": "ord_123", "paymentId": "pay_1", "signature": "abc"}`
	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/razorpay/verify", strings.NewReader(payload)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if reconciler.calls != 0 {
		t.Fatalf("reconciler must not run without a provider order id")
	}
}

func TestPaymentHandlersPayUHashWithoutGateway(t *testing.T) {
	h := NewPaymentHandlers(nil, &stubOrderService{}, mustManager(t, &stubGateway{provider: payments.ProviderStripe}), &stubReconciler{})

	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/payu/hash", strings.NewReader(`{}`)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestPaymentHandlersOrderByTransaction(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	svc := &stubOrderService{
		getTxnFn: func(_ context.Context, txnID string, opts services.OrderReadOptions) (services.Order, error) {
			if txnID != "TXN_abc" || opts.OwnerID != "user-1" {
				t.Fatalf("unexpected lookup %s %#v", txnID, opts)
			}
			return order, nil
		},
	}
	h := NewPaymentHandlers(nil, svc, mustManager(t, &stubGateway{provider: payments.ProviderPayU}), &stubReconciler{})

	rr := httptest.NewRecorder()
	newPaymentTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/payu/orders/TXN_abc", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.TransactionID != "TXN_abc" {
		t.Fatalf("unexpected order %#v", body)
	}
}

func TestPaymentHandlersRateLimit(t *testing.T) {
	order := sampleOrder(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC))
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	reconciler := &stubReconciler{
		reconcileFn: func(context.Context, string, payments.Evidence) services.ReconcileResult {
			return services.ReconcileResult{Success: true, OrderID: "ord_123"}
		},
	}
	h := NewPaymentHandlers(nil, ownedOrderService(t, order), mustManager(t, &stubGateway{provider: payments.ProviderStripe}), reconciler,
		WithPaymentRateLimit(2, time.Minute, func() time.Time { return now }))
	router := newPaymentTestRouter(h, customer)

	send := func() *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/stripe/verify", strings.NewReader(`{"orderId": "ord_123", "paymentIntentId": "pi_1"}`)))
		return rr
	}
	for i := 0; i < 2; i++ {
		if rr := send(); rr.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected status 200, got %d", i+1, rr.Code)
		}
	}
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}

	now = now.Add(time.Minute)
	if rr := send(); rr.Code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}
