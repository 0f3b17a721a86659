package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/repositories/memory"
)

var fixedNow = time.Date(2024, time.June, 1, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type recordingDispatcher struct {
	mu   sync.Mutex
	sent map[string][]OrderNotification
	err  error
}

func (d *recordingDispatcher) record(kind string, n OrderNotification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sent == nil {
		d.sent = make(map[string][]OrderNotification)
	}
	d.sent[kind] = append(d.sent[kind], n)
	return d.err
}

func (d *recordingDispatcher) count(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent[kind])
}

func (d *recordingDispatcher) last(kind string) OrderNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.sent[kind]
	if len(list) == 0 {
		return OrderNotification{}
	}
	return list[len(list)-1]
}

func (d *recordingDispatcher) SendOrderConfirmation(_ context.Context, n OrderNotification) error {
	return d.record(notificationOrderConfirmation, n)
}

func (d *recordingDispatcher) SendStatusUpdate(_ context.Context, n OrderNotification) error {
	return d.record(notificationStatusUpdate, n)
}

func (d *recordingDispatcher) SendPaymentSuccess(_ context.Context, n OrderNotification) error {
	return d.record(notificationPaymentSuccess, n)
}

func (d *recordingDispatcher) SendPaymentFailure(_ context.Context, n OrderNotification) error {
	return d.record(notificationPaymentFailure, n)
}

type stubUploader struct {
	mu    sync.Mutex
	calls int
	fn    func(data []byte, name, scopeID string, index int) (string, error)
}

func (u *stubUploader) UploadImage(_ context.Context, data []byte, name, scopeID string, index int) (string, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	if u.fn != nil {
		return u.fn(data, name, scopeID, index)
	}
	return fmt.Sprintf("https://storage.example/frames/%s/item-%d/%s", scopeID, index, name), nil
}

type harness struct {
	orders        *memory.OrderRepository
	counters      *memory.CounterRepository
	notifications *recordingDispatcher
	uploader      *stubUploader
	machine       OrderStateMachine
	service       OrderService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		orders:        memory.NewOrderRepository(),
		counters:      memory.NewCounterRepository(),
		notifications: &recordingDispatcher{},
		uploader:      &stubUploader{},
	}
	numbers, err := NewSequenceGenerator(SequenceGeneratorDeps{Counters: h.counters, Clock: fixedClock})
	if err != nil {
		t.Fatalf("new sequence generator: %v", err)
	}
	h.machine, err = NewOrderStateMachine(OrderStateMachineDeps{
		Orders:        h.orders,
		Notifications: h.notifications,
		Clock:         fixedClock,
	})
	if err != nil {
		t.Fatalf("new state machine: %v", err)
	}
	h.service, err = NewOrderService(OrderServiceDeps{
		Orders:        h.orders,
		Numbers:       numbers,
		StateMachine:  h.machine,
		Images:        h.uploader,
		Notifications: h.notifications,
		Clock:         fixedClock,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return h
}

func sampleCreateCommand() CreateOrderCommand {
	return CreateOrderCommand{
		UserID: "user-1",
		Items: []OrderItem{{
			ProductID: "frame-classic",
			Quantity:  1,
			Price:     582,
			Size:      "9x12",
			FrameType: "wood",
			ImageURL:  "https://images.example/p.jpg",
		}},
		TotalAmount: 582,
		ShippingAddress: ShippingAddress{
			FirstName: "Asha",
			LastName:  "Rao",
			Email:     "asha@example.com",
			Phone:     "9999999999",
			Street:    "12 MG Road",
			City:      "Bengaluru",
			State:     "KA",
			ZipCode:   "560001",
			Country:   "IN",
		},
	}
}

func createOrder(t *testing.T, h *harness) Order {
	t.Helper()
	order, err := h.service.CreateOrder(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func mustFind(t *testing.T, h *harness, id string) Order {
	t.Helper()
	order, err := h.orders.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find order %s: %v", id, err)
	}
	return order
}

func statusPtr(s domain.OrderStatus) *domain.OrderStatus { return &s }

func paymentStatusPtr(s domain.PaymentStatus) *domain.PaymentStatus { return &s }

func stringPtr(s string) *string { return &s }

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
