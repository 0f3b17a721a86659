// Package notifications delivers order notifications to a message sink without blocking the
// request that caused them.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/framecraft/api/internal/services"
)

const defaultTimeout = 10 * time.Second

// Kinds carried on Event.Kind and as the "kind" message attribute.
const (
	KindOrderConfirmation = "order_confirmation"
	KindStatusUpdate      = "status_update"
	KindPaymentSuccess    = "payment_success"
	KindPaymentFailure    = "payment_failure"
)

// Outcomes reported to the Observer.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// ErrDispatcherClosed is returned for sends after Close.
var ErrDispatcherClosed = errors.New("notifications: dispatcher closed")

// Event is the serialised notification handed to a sink.
type Event struct {
	Kind           string    `json:"kind"`
	Recipient      string    `json:"recipient,omitempty"`
	Name           string    `json:"name,omitempty"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	Status         string    `json:"status,omitempty"`
	PaymentStatus  string    `json:"paymentStatus,omitempty"`
	TotalAmount    float64   `json:"totalAmount"`
	Currency       string    `json:"currency,omitempty"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Sink delivers one event. Deliver must honour ctx cancellation.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Observer counts delivery outcomes.
type Observer interface {
	ObserveNotification(kind, outcome string)
}

type Option func(*Dispatcher)

// WithTimeout bounds each delivery.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(d *Dispatcher) {
		if observer != nil {
			d.observer = observer
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// Dispatcher implements services.NotificationDispatcher. Each send runs on its own goroutine
// detached from the caller's cancellation and bounded by the configured timeout. Failures are
// logged and counted, never returned.
type Dispatcher struct {
	sink     Sink
	timeout  time.Duration
	logger   *zap.Logger
	observer Observer
	clock    func() time.Time

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

var _ services.NotificationDispatcher = (*Dispatcher)(nil)

func NewDispatcher(sink Sink, opts ...Option) (*Dispatcher, error) {
	if sink == nil {
		return nil, errors.New("notifications: sink is required")
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = d.logger.Named("notifications").With(zap.String("sink", sink.Name()))
	return d, nil
}

func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, n services.OrderNotification) error {
	return d.dispatch(ctx, KindOrderConfirmation, n)
}

func (d *Dispatcher) SendStatusUpdate(ctx context.Context, n services.OrderNotification) error {
	return d.dispatch(ctx, KindStatusUpdate, n)
}

func (d *Dispatcher) SendPaymentSuccess(ctx context.Context, n services.OrderNotification) error {
	return d.dispatch(ctx, KindPaymentSuccess, n)
}

func (d *Dispatcher) SendPaymentFailure(ctx context.Context, n services.OrderNotification) error {
	return d.dispatch(ctx, KindPaymentFailure, n)
}

func (d *Dispatcher) dispatch(ctx context.Context, kind string, n services.OrderNotification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	event := newEvent(kind, n, d.clock().UTC())
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.deliver(context.WithoutCancel(ctx), event)
	}()
	return nil
}

func (d *Dispatcher) deliver(parent context.Context, event Event) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	started := d.clock()
	err := d.sink.Deliver(ctx, event)
	fields := []zap.Field{
		zap.String("kind", event.Kind),
		zap.String("order_id", event.OrderID),
		zap.Duration("latency", d.clock().Sub(started)),
	}
	switch {
	case err == nil:
		d.observe(event.Kind, OutcomeDelivered)
		d.logger.Debug("notification delivered", fields...)
	case errors.Is(err, context.DeadlineExceeded):
		d.observe(event.Kind, OutcomeTimeout)
		d.logger.Warn("notification timed out", append(fields, zap.Error(err))...)
	default:
		d.observe(event.Kind, OutcomeFailed)
		d.logger.Warn("notification failed", append(fields, zap.Error(err))...)
	}
}

func (d *Dispatcher) observe(kind, outcome string) {
	if d.observer != nil {
		d.observer.ObserveNotification(kind, outcome)
	}
}

// Close stops accepting sends and waits for in-flight deliveries or ctx expiry.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications: drain: %w", ctx.Err())
	}
}

func newEvent(kind string, n services.OrderNotification, now time.Time) Event {
	return Event{
		Kind:           kind,
		Recipient:      n.Recipient,
		Name:           n.Name,
		OrderID:        n.OrderID,
		OrderNumber:    n.OrderNumber,
		Status:         string(n.Status),
		PaymentStatus:  string(n.PaymentStatus),
		TotalAmount:    n.TotalAmount,
		Currency:       n.Currency,
		TrackingNumber: n.TrackingNumber,
		Notes:          n.Notes,
		ErrorMessage:   n.ErrorMessage,
		OccurredAt:     now,
	}
}
