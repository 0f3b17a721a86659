package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/repositories"
)

// maxConflictRetries bounds re-reads after a lost compare-and-swap.
const maxConflictRetries = 3

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusFailed},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

var paymentStateTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending: {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusFailed:  {domain.PaymentStatusPending, domain.PaymentStatusPaid},
	domain.PaymentStatusPaid:    {domain.PaymentStatusRefunded},
}

// errNoChange aborts a mutation without writing.
var errNoChange = errors.New("order: no change")

// OrderStateMachineDeps bundles collaborators for the state machine.
type OrderStateMachineDeps struct {
	Orders        repositories.OrderRepository
	Notifications NotificationDispatcher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderStateMachine struct {
	orders   repositories.OrderRepository
	notifier notifier
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewOrderStateMachine constructs the component that owns order and payment status changes.
func NewOrderStateMachine(deps OrderStateMachineDeps) (OrderStateMachine, error) {
	if deps.Orders == nil {
		return nil, errors.New("order state machine: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderStateMachine{
		orders:   deps.Orders,
		notifier: notifier{dispatcher: deps.Notifications, logger: logger},
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CanTransition reports whether an order may move from one status to another. Terminal statuses
// accept nothing; every other status accepts itself.
func CanTransition(from, to domain.OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if from == to {
		return true
	}
	return slices.Contains(orderStateTransitions[from], to)
}

// CanChangePayment reports whether a payment status change is legal.
func CanChangePayment(from, to domain.PaymentStatus) bool {
	if from == to {
		return true
	}
	return slices.Contains(paymentStateTransitions[from], to)
}

func (m *orderStateMachine) Transition(ctx context.Context, cmd TransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Status != "" && !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	if cmd.Payment != nil && cmd.Payment.PaymentStatus != "" && !cmd.Payment.PaymentStatus.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.Payment.PaymentStatus)
	}
	if cmd.Status == "" && cmd.Payment == nil && cmd.TrackingNumber == nil && cmd.EstimatedDelivery == nil && cmd.Patch == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}

	var previous domain.OrderStatus
	updated, err := m.mutate(ctx, orderID, cmd.ExpectedVersion, func(order *Order, now time.Time) error {
		previous = order.Status
		if cmd.Status != "" {
			if order.Status.IsTerminal() {
				return fmt.Errorf("%w: order %s is %s", ErrOrderIllegalTransition, order.ID, order.Status)
			}
			if !CanTransition(order.Status, cmd.Status) {
				return fmt.Errorf("%w: %s -> %s", ErrOrderIllegalTransition, order.Status, cmd.Status)
			}
		}
		if cmd.Payment != nil {
			if err := applyPaymentFields(order, *cmd.Payment); err != nil {
				return err
			}
		}
		if cmd.TrackingNumber != nil {
			order.TrackingNumber = strings.TrimSpace(*cmd.TrackingNumber)
		}
		if cmd.EstimatedDelivery != nil {
			eta := cmd.EstimatedDelivery.UTC()
			order.EstimatedDelivery = &eta
		}
		if cmd.Patch != nil {
			if err := cmd.Patch(order); err != nil {
				return err
			}
		}
		if cmd.Status != "" {
			appendHistory(order, cmd.Status, cmd.Notes, now)
		}
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if cmd.Status != "" {
		m.logger(ctx, "order.status.changed", map[string]any{
			"orderId": updated.ID,
			"from":    string(previous),
			"to":      string(updated.Status),
		})
		if !cmd.SkipNotification {
			m.notifier.statusUpdate(ctx, updated)
		}
	}
	return updated, nil
}

// RecordPayment applies a payment outcome. A pending order that is paid becomes confirmed; every
// recorded payment appends a history entry carrying the order's resulting status. Recording the
// payment status the order already has is reported as a duplicate and changes nothing.
func (m *orderStateMachine) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (PaymentRecordResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentRecordResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.PaymentStatus.Valid() {
		return PaymentRecordResult{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.PaymentStatus)
	}

	duplicate := false
	updated, err := m.mutate(ctx, orderID, nil, func(order *Order, now time.Time) error {
		if order.PaymentStatus == cmd.PaymentStatus {
			duplicate = true
			return errNoChange
		}
		if err := applyPaymentFields(order, PaymentFields{
			PaymentStatus: cmd.PaymentStatus,
			PaymentID:     cmd.PaymentID,
			PaymentMethod: cmd.PaymentMethod,
		}); err != nil {
			return err
		}
		status := order.Status
		if cmd.PaymentStatus == domain.PaymentStatusPaid && order.Status == domain.OrderStatusPending {
			status = domain.OrderStatusConfirmed
		}
		appendHistory(order, status, cmd.Notes, now)
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return PaymentRecordResult{}, err
	}
	if !duplicate {
		m.logger(ctx, "order.payment.recorded", map[string]any{
			"orderId":       updated.ID,
			"paymentStatus": string(updated.PaymentStatus),
			"status":        string(updated.Status),
		})
	}
	return PaymentRecordResult{Order: updated, Duplicate: duplicate}, nil
}

// mutate re-reads the order, applies fn and writes it back under a version check. Lost races are
// retried unless the caller pinned an expected version.
func (m *orderStateMachine) mutate(ctx context.Context, orderID string, expectedVersion *int64, fn func(*Order, time.Time) error) (Order, error) {
	for attempt := 0; ; attempt++ {
		order, err := m.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, mapRepositoryError(err)
		}
		if expectedVersion != nil && order.Version != *expectedVersion {
			return Order{}, fmt.Errorf("%w: order %s is at version %d, expected %d", ErrOrderConflict, orderID, order.Version, *expectedVersion)
		}

		version := order.Version
		if err := fn(&order, m.clock()); err != nil {
			if errors.Is(err, errNoChange) {
				return order, nil
			}
			return Order{}, err
		}

		updated, err := m.orders.Update(ctx, order, version)
		if err == nil {
			return updated, nil
		}
		mapped := mapRepositoryError(err)
		if !errors.Is(mapped, ErrOrderConflict) || expectedVersion != nil || attempt >= maxConflictRetries {
			return Order{}, mapped
		}
		m.logger(ctx, "order.update.retry", map[string]any{
			"orderId": orderID,
			"attempt": attempt + 1,
		})
	}
}

func applyPaymentFields(order *Order, fields PaymentFields) error {
	if fields.PaymentStatus != "" {
		if !CanChangePayment(order.PaymentStatus, fields.PaymentStatus) {
			return fmt.Errorf("%w: payment %s -> %s", ErrOrderIllegalTransition, order.PaymentStatus, fields.PaymentStatus)
		}
		order.PaymentStatus = fields.PaymentStatus
	}
	if id := strings.TrimSpace(fields.PaymentID); id != "" {
		order.PaymentID = id
	}
	if method := strings.TrimSpace(fields.PaymentMethod); method != "" {
		order.PaymentMethod = method
	}
	return nil
}

func appendHistory(order *Order, status domain.OrderStatus, notes string, now time.Time) {
	order.Status = status
	order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
		Status:    status,
		Timestamp: now,
		Notes:     strings.TrimSpace(notes),
	})
	if status == domain.OrderStatusDelivered && order.DeliveredAt == nil {
		delivered := now
		order.DeliveredAt = &delivered
	}
}
