package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/platform/auth"
	"github.com/framecraft/api/internal/services"
)

type stubOrderService struct {
	createFn   func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn      func(context.Context, string, services.OrderReadOptions) (services.Order, error)
	getTxnFn   func(context.Context, string, services.OrderReadOptions) (services.Order, error)
	listFn     func(context.Context, services.OrderListFilter) (domain.Page[services.Order], error)
	byStatusFn func(context.Context, domain.OrderStatus, domain.PageRequest) (domain.Page[services.Order], error)
	searchFn   func(context.Context, services.OrderSearchCriteria) (domain.Page[services.Order], error)
	updateFn   func(context.Context, services.UpdateOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, opts)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrderByTransaction(ctx context.Context, txnID string, opts services.OrderReadOptions) (services.Order, error) {
	if s.getTxnFn != nil {
		return s.getTxnFn(ctx, txnID, opts)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderService) ListByStatus(ctx context.Context, status domain.OrderStatus, page domain.PageRequest) (domain.Page[services.Order], error) {
	if s.byStatusFn != nil {
		return s.byStatusFn(ctx, status, page)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderService) SearchOrders(ctx context.Context, criteria services.OrderSearchCriteria) (domain.Page[services.Order], error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, criteria)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubStateMachine struct {
	transitionFn func(context.Context, services.TransitionCommand) (services.Order, error)
}

func (s *stubStateMachine) Transition(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubStateMachine) RecordPayment(context.Context, services.RecordPaymentCommand) (services.PaymentRecordResult, error) {
	return services.PaymentRecordResult{}, errors.New("not implemented")
}

type stubBulkCoordinator struct {
	bulkFn func(context.Context, services.BulkUpdateCommand) (services.BulkUpdateResult, error)
}

func (s *stubBulkCoordinator) BulkUpdate(ctx context.Context, cmd services.BulkUpdateCommand) (services.BulkUpdateResult, error) {
	if s.bulkFn != nil {
		return s.bulkFn(ctx, cmd)
	}
	return services.BulkUpdateResult{}, errors.New("not implemented")
}

func withTestIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newOrderTestRouter(h *OrderHandlers, identity *auth.Identity) chi.Router {
	router := chi.NewRouter()
	router.Use(withTestIdentity(identity))
	router.Route("/orders", h.Routes)
	return router
}

var (
	customer = &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}}
	admin    = &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
)

func sampleOrder(now time.Time) services.Order {
	return services.Order{
		ID:            "ord_123",
		OrderNumber:   "FR202405120001",
		UserID:        "user-1",
		TotalAmount:   1249,
		ShippingCost:  99,
		TaxAmount:     150,
		Currency:      "inr",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		TransactionID: "TXN_abc",
		Items: []services.OrderItem{
			{ProductID: "frame-a4", Quantity: 1, Price: 1000, Size: "A4", FrameType: "oak"},
		},
		ShippingAddress: services.ShippingAddress{
			FirstName: "Asha",
			LastName:  "Verma",
			Email:     "asha@example.com",
			Phone:     "9876543210",
			City:      "Pune",
			Country:   "IN",
		},
		StatusHistory: []services.StatusHistoryEntry{
			{Status: domain.OrderStatusPending, Timestamp: now, Notes: "Order created"},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

const createOrderBody = `{
	"items": [{"productId": "frame-a4", "quantity": 1, "price": 1000, "size": "A4", "frameType": "oak"}],
	"totalAmount": 1249,
	"shippingCost": 99,
	"taxAmount": 150,
	"currency": "INR",
	"shippingAddress": {"firstName": "Asha", "lastName": "Verma", "email": "asha@example.com", "phone": "9876543210"}
}`

func TestOrderHandlersCreateOrderJSON(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(now), nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), customer)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createOrderBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected caller uid on command, got %q", captured.UserID)
	}
	if !captured.SendEmail {
		t.Fatalf("expected sendEmail to default to true")
	}
	if len(captured.Items) != 1 || captured.Items[0].FrameType != "oak" {
		t.Fatalf("unexpected items %#v", captured.Items)
	}
	if captured.ShippingAddress.Email != "asha@example.com" {
		t.Fatalf("unexpected address %#v", captured.ShippingAddress)
	}

	var body orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.OrderNumber != "FR202405120001" || body.Currency != "INR" {
		t.Fatalf("unexpected payload %#v", body)
	}
	if len(body.StatusHistory) != 1 || body.StatusHistory[0].Status != "PENDING" {
		t.Fatalf("unexpected history %#v", body.StatusHistory)
	}
	if body.CreatedAt != "2024-05-12T10:00:00Z" {
		t.Fatalf("unexpected createdAt %s", body.CreatedAt)
	}
}

func TestOrderHandlersCreateOrderValidation(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			t.Fatalf("service must not be called")
			return services.Order{}, nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), customer)

	payload := `{"items": [], "shippingAddress": {"firstName": "Asha", "email": "not-an-email"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] != "validation_failed" {
		t.Fatalf("expected validation_failed, got %v", body["error"])
	}
	message, _ := body["message"].(string)
	if !strings.Contains(message, "items must be at least 1") || !strings.Contains(message, "shippingAddress.email must be a valid email") {
		t.Fatalf("unexpected message %q", message)
	}
}

func TestOrderHandlersCreateOrderServiceError(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: total does not match items", services.ErrOrderInvalidInput)
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), customer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createOrderBody)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func multipartOrderRequest(t *testing.T, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("order", createOrderBody); err != nil {
		t.Fatalf("write order field: %v", err)
	}
	for _, name := range []string{"front.png", "back.png", "notes.txt"} {
		contentType, ok := files[name]
		if !ok {
			continue
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="frameImages"; filename="%s"`, name))
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte("data-" + name))
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/orders", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestOrderHandlersCreateOrderMultipart(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(now), nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), customer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, multipartOrderRequest(t, map[string]string{
		"front.png": "image/png",
		"back.png":  "image/png",
	}))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(captured.Images))
	}
	for i, image := range captured.Images {
		if image.ItemIndex != i {
			t.Fatalf("expected image %d bound to item %d, got %d", i, i, image.ItemIndex)
		}
	}
	if captured.Images[1].Name != "back.png" || string(captured.Images[1].Data) != "data-back.png" {
		t.Fatalf("unexpected second image %#v", captured.Images[1])
	}
}

func TestOrderHandlersCreateOrderMultipartRejectsNonImages(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			t.Fatalf("service must not be called")
			return services.Order{}, nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), customer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, multipartOrderRequest(t, map[string]string{"notes.txt": "text/plain"}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderUsesIdempotencyMiddleware(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return sampleOrder(now), nil
		},
	}
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Idempotency-Guard", "on")
			next.ServeHTTP(w, r)
		})
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil, WithOrderIdempotency(guard)), customer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createOrderBody)))
	if rr.Header().Get("X-Idempotency-Guard") != "on" {
		t.Fatalf("expected idempotency middleware on create")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rr.Header().Get("X-Idempotency-Guard") != "" {
		t.Fatalf("idempotency middleware should only guard create")
	}
}

func TestOrderHandlersListOrdersScopesToCaller(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	var filters []services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
			filters = append(filters, filter)
			return domain.Page[services.Order]{
				Items:      []services.Order{sampleOrder(now)},
				Pagination: domain.NewPagination(filter.Pagination.Page, filter.Pagination.Limit, 21),
			}, nil
		},
	}
	h := NewOrderHandlers(nil, svc, nil, nil)

	rr := httptest.NewRecorder()
	newOrderTestRouter(h, customer).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders?page=2&limit=10&status=pending,shipped", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Orders) != 1 || body.Pagination.Pages != 3 || body.Pagination.Page != 2 || body.Pagination.Total != 21 {
		t.Fatalf("unexpected list response %#v", body)
	}

	rr = httptest.NewRecorder()
	newOrderTestRouter(h, admin).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if len(filters) != 2 {
		t.Fatalf("expected two list calls, got %d", len(filters))
	}
	if filters[0].UserID != "user-1" {
		t.Fatalf("expected customer list scoped to uid, got %q", filters[0].UserID)
	}
	if len(filters[0].Statuses) != 2 || filters[0].Statuses[1] != domain.OrderStatusShipped {
		t.Fatalf("unexpected statuses %v", filters[0].Statuses)
	}
	if filters[1].UserID != "" {
		t.Fatalf("expected admin list to be unscoped, got %q", filters[1].UserID)
	}
	if filters[1].Pagination.Limit != 10 || filters[1].Pagination.Page != 1 {
		t.Fatalf("expected default paging, got %#v", filters[1].Pagination)
	}
}

func TestOrderHandlersListOrdersInvalidParams(t *testing.T) {
	router := newOrderTestRouter(NewOrderHandlers(nil, &stubOrderService{}, nil, nil), customer)

	for _, target := range []string{"/orders?page=zero", "/orders?status=lost"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", target, rr.Code)
		}
	}
}

func TestOrderHandlersUnauthenticated(t *testing.T) {
	router := newOrderTestRouter(NewOrderHandlers(nil, &stubOrderService{}, nil, nil), nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersServiceUnavailable(t *testing.T) {
	router := newOrderTestRouter(NewOrderHandlers(nil, nil, nil, nil), customer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderOwnerScope(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			if orderID != "ord_999" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			if opts.OwnerID != "user-1" {
				t.Fatalf("expected owner scope, got %q", opts.OwnerID)
			}
			return services.Order{}, fmt.Errorf("%w: ord_999", services.ErrOrderNotFound)
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), customer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_999", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != "order_not_found" {
		t.Fatalf("expected order_not_found, got %v", body["error"])
	}
}

func TestOrderHandlersAdminRoutesRequireAdmin(t *testing.T) {
	router := newOrderTestRouter(NewOrderHandlers(nil, &stubOrderService{}, &stubStateMachine{}, &stubBulkCoordinator{}), customer)

	cases := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/orders/search"},
		{http.MethodGet, "/orders/status/PENDING"},
		{http.MethodPatch, "/orders/ord_123/status"},
		{http.MethodPut, "/orders/ord_123"},
		{http.MethodPut, "/orders/bulk-update"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, strings.NewReader(`{}`)))
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected status 403, got %d", tc.method, tc.target, rr.Code)
		}
	}
}

func TestOrderHandlersSearchOrders(t *testing.T) {
	var captured services.OrderSearchCriteria
	svc := &stubOrderService{
		searchFn: func(_ context.Context, criteria services.OrderSearchCriteria) (domain.Page[services.Order], error) {
			captured = criteria
			return domain.Page[services.Order]{Pagination: domain.NewPagination(1, 10, 0)}, nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), admin)

	target := "/orders/search?orderNumber=FR2024&customerEmail=asha&customerName=Verma&customerPhone=98765" +
		"&status=SHIPPED&paymentStatus=paid&fromDate=2024-06-01&toDate=2024-06-10&minAmount=500&maxAmount=600&trackingNumber=TRK"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderNumber != "FR2024" || captured.Email != "asha" || captured.Name != "Verma" || captured.Phone != "98765" || captured.TrackingNumber != "TRK" {
		t.Fatalf("unexpected text criteria %#v", captured)
	}
	if len(captured.Statuses) != 1 || captured.Statuses[0] != domain.OrderStatusShipped {
		t.Fatalf("unexpected statuses %v", captured.Statuses)
	}
	if len(captured.PaymentStatuses) != 1 || captured.PaymentStatuses[0] != domain.PaymentStatusPaid {
		t.Fatalf("unexpected payment statuses %v", captured.PaymentStatuses)
	}
	if captured.From == nil || !captured.From.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", captured.From)
	}
	if captured.To == nil || !captured.To.Equal(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected to %v", captured.To)
	}
	if captured.MinAmount == nil || *captured.MinAmount != 500 || captured.MaxAmount == nil || *captured.MaxAmount != 600 {
		t.Fatalf("unexpected amount range %v %v", captured.MinAmount, captured.MaxAmount)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if orders, ok := body["orders"].([]any); !ok || len(orders) != 0 {
		t.Fatalf("expected empty orders array, got %v", body["orders"])
	}
}

func TestOrderHandlersSearchOrdersInvalidDate(t *testing.T) {
	router := newOrderTestRouter(NewOrderHandlers(nil, &stubOrderService{}, nil, nil), admin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/search?fromDate=yesterday", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListByStatus(t *testing.T) {
	var got domain.OrderStatus
	svc := &stubOrderService{
		byStatusFn: func(_ context.Context, status domain.OrderStatus, _ domain.PageRequest) (domain.Page[services.Order], error) {
			got = status
			return domain.Page[services.Order]{}, nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), admin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/status/processing", nil))
	if rr.Code != http.StatusOK || got != domain.OrderStatusProcessing {
		t.Fatalf("expected PROCESSING lookup, got %d %q", rr.Code, got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/status/lost", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown status, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	var captured services.TransitionCommand
	machine := &stubStateMachine{
		transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(now)
			order.Status = domain.OrderStatusShipped
			order.TrackingNumber = "TRK-1"
			return order, nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, &stubOrderService{}, machine, nil), admin)

	payload := `{"status": "shipped", "trackingNumber": " TRK-1 ", "notes": "Dispatched", "paymentStatus": "paid", "paymentId": "pay_1", "expectedVersion": 3}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/orders/ord_123/status", strings.NewReader(payload)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.Status != domain.OrderStatusShipped || captured.Notes != "Dispatched" {
		t.Fatalf("unexpected transition %#v", captured)
	}
	if captured.TrackingNumber == nil || *captured.TrackingNumber != "TRK-1" {
		t.Fatalf("expected trimmed tracking number, got %v", captured.TrackingNumber)
	}
	if captured.Payment == nil || captured.Payment.PaymentStatus != domain.PaymentStatusPaid || captured.Payment.PaymentID != "pay_1" {
		t.Fatalf("unexpected payment fields %#v", captured.Payment)
	}
	if captured.ExpectedVersion == nil || *captured.ExpectedVersion != 3 {
		t.Fatalf("expected version 3, got %v", captured.ExpectedVersion)
	}
}

func TestOrderHandlersUpdateStatusErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"illegal", fmt.Errorf("%w: DELIVERED -> PENDING", services.ErrOrderIllegalTransition), http.StatusUnprocessableEntity, "illegal_transition"},
		{"conflict", fmt.Errorf("%w: version 2", services.ErrOrderConflict), http.StatusConflict, "order_conflict"},
		{"unavailable", fmt.Errorf("%w: store down", services.ErrOrderUnavailable), http.StatusServiceUnavailable, "order_store_unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			machine := &stubStateMachine{
				transitionFn: func(context.Context, services.TransitionCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newOrderTestRouter(NewOrderHandlers(nil, &stubOrderService{}, machine, nil), admin)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/orders/ord_123/status", strings.NewReader(`{"status": "PENDING"}`)))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			_ = json.Unmarshal(rr.Body.Bytes(), &body)
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestOrderHandlersUpdateOrder(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	var captured services.UpdateOrderCommand
	svc := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(now), nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, svc, nil, nil), admin)

	payload := `{"status": "processing", "shippingAddress": {"city": "Mumbai"}, "items": [{"index": 0, "quantity": 2}], "notes": "gift wrap"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/orders/ord_123", strings.NewReader(payload)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected status patch, got %v", captured.Status)
	}
	if captured.ShippingAddress == nil || captured.ShippingAddress.City == nil || *captured.ShippingAddress.City != "Mumbai" {
		t.Fatalf("unexpected address patch %#v", captured.ShippingAddress)
	}
	if captured.ShippingAddress.Street != nil {
		t.Fatalf("absent fields must stay nil")
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity == nil || *captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected item patch %#v", captured.Items)
	}
	if captured.Notes == nil || *captured.Notes != "gift wrap" {
		t.Fatalf("unexpected notes %v", captured.Notes)
	}
}

func TestOrderHandlersBulkUpdate(t *testing.T) {
	var captured services.BulkUpdateCommand
	bulk := &stubBulkCoordinator{
		bulkFn: func(_ context.Context, cmd services.BulkUpdateCommand) (services.BulkUpdateResult, error) {
			captured = cmd
			return services.BulkUpdateResult{Updated: 1, Failed: []string{"ord_2: order not found"}}, nil
		},
	}
	router := newOrderTestRouter(NewOrderHandlers(nil, &stubOrderService{}, nil, bulk), admin)

	payload := `{"orderIds": ["ord_1", "ord_2"], "status": "shipped", "trackingNumber": "TRK-9"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/orders/bulk-update", strings.NewReader(payload)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.OrderIDs) != 2 || captured.Status == nil || *captured.Status != domain.OrderStatusShipped {
		t.Fatalf("unexpected command %#v", captured)
	}
	var body bulkUpdateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Updated != 1 || len(body.Failed) != 1 {
		t.Fatalf("unexpected response %#v", body)
	}
}

func TestOrderHandlersBulkUpdateRequiresIDs(t *testing.T) {
	router := newOrderTestRouter(NewOrderHandlers(nil, &stubOrderService{}, nil, &stubBulkCoordinator{}), admin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/orders/bulk-update", strings.NewReader(`{"orderIds": []}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
