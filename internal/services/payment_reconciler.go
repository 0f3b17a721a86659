package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/payments"
	"github.com/framecraft/api/internal/repositories"
)

// Reconciliation outcomes reported to metrics.
const (
	ReconcileOutcomePaid      = "paid"
	ReconcileOutcomeFailed    = "failed"
	ReconcileOutcomeDuplicate = "duplicate"
	ReconcileOutcomeRejected  = "rejected"
	ReconcileOutcomeNotFound  = "not_found"
	ReconcileOutcomeIgnored   = "ignored"
	ReconcileOutcomePending   = "pending"
	ReconcileOutcomeError     = "error"
)

// ReconcileMetrics observes reconciliation outcomes per provider.
type ReconcileMetrics interface {
	ObserveReconciliation(provider, outcome string)
}

// PaymentReconcilerDeps bundles collaborators for the reconciler.
type PaymentReconcilerDeps struct {
	Orders        repositories.OrderRepository
	StateMachine  OrderStateMachine
	Gateways      *payments.Manager
	Notifications NotificationDispatcher
	Metrics       ReconcileMetrics
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders   repositories.OrderRepository
	machine  OrderStateMachine
	gateways *payments.Manager
	notifier notifier
	metrics  ReconcileMetrics
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentReconciler constructs the reconciler.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.StateMachine == nil {
		return nil, errors.New("payment reconciler: state machine is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment reconciler: gateway manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentReconciler{
		orders:   deps.Orders,
		machine:  deps.StateMachine,
		gateways: deps.Gateways,
		notifier: notifier{dispatcher: deps.Notifications, logger: logger},
		metrics:  deps.Metrics,
		logger:   logger,
	}, nil
}

// Reconcile authenticates the evidence with the provider's gateway and records the outcome.
// Evidence that carries no order reference is authenticated before any lookup; everything else
// resolves the order first so an unknown order never reaches the provider.
func (r *paymentReconciler) Reconcile(ctx context.Context, provider string, evidence payments.Evidence) ReconcileResult {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if evidence == nil || evidence.Provider() != provider {
		return r.finish(ctx, provider, ReconcileOutcomeRejected, ReconcileResult{Message: "evidence does not match provider", Rejected: true})
	}
	gateway, err := r.gateways.Gateway(provider)
	if err != nil {
		return r.finish(ctx, provider, ReconcileOutcomeError, ReconcileResult{Message: "payment provider not configured"})
	}

	var (
		callback      payments.CallbackResult
		authErr       error
		authenticated bool
	)
	ref := evidence.Reference()
	if ref.OrderID == "" && ref.TransactionID == "" {
		callback, authErr = gateway.AuthenticateCallback(ctx, evidence)
		if authErr != nil {
			r.logger(ctx, "payment.reconcile.rejected", map[string]any{"provider": provider, "error": authErr.Error()})
			return r.finish(ctx, provider, ReconcileOutcomeRejected, ReconcileResult{
				Message:  "payment evidence could not be authenticated",
				Rejected: true,
			})
		}
		if callback.Outcome == payments.OutcomeIgnored {
			return r.finish(ctx, provider, ReconcileOutcomeIgnored, ReconcileResult{Success: true, Message: "event ignored"})
		}
		ref = callback.Reference
		authenticated = true
	}

	order, err := r.resolveOrder(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return r.finish(ctx, provider, ReconcileOutcomeNotFound, ReconcileResult{Message: "order not found"})
		}
		r.logger(ctx, "payment.reconcile.lookup_failed", map[string]any{"provider": provider, "error": err.Error()})
		return r.finish(ctx, provider, ReconcileOutcomeError, ReconcileResult{Message: "order lookup failed"})
	}

	if !authenticated {
		callback, authErr = gateway.AuthenticateCallback(ctx, evidence)
		if authErr != nil && !errors.Is(authErr, payments.ErrCallbackNotAuthentic) {
			r.logger(ctx, "payment.reconcile.verify_failed", map[string]any{
				"provider": provider,
				"orderId":  order.ID,
				"error":    authErr.Error(),
			})
			return r.finish(ctx, provider, ReconcileOutcomeError, ReconcileResult{OrderID: order.ID, Message: "payment verification failed"})
		}
	}

	target, note, failure := r.classify(provider, order, callback, authErr)
	if target == "" {
		return r.finish(ctx, provider, ReconcileOutcomePending, ReconcileResult{OrderID: order.ID, Message: "payment not completed"})
	}

	if order.PaymentStatus == target {
		return r.finish(ctx, provider, ReconcileOutcomeDuplicate, ReconcileResult{
			Success:   target == domain.PaymentStatusPaid,
			OrderID:   order.ID,
			Message:   "payment already recorded",
			Duplicate: true,
		})
	}

	paymentID := callback.PaymentID
	record, err := r.machine.RecordPayment(ctx, RecordPaymentCommand{
		OrderID:       order.ID,
		PaymentStatus: target,
		PaymentID:     paymentID,
		PaymentMethod: provider,
		Notes:         note,
	})
	if err != nil {
		r.logger(ctx, "payment.reconcile.record_failed", map[string]any{
			"provider": provider,
			"orderId":  order.ID,
			"target":   string(target),
			"error":    err.Error(),
		})
		return r.finish(ctx, provider, ReconcileOutcomeError, ReconcileResult{OrderID: order.ID, Message: recordFailureMessage(err)})
	}
	if record.Duplicate {
		return r.finish(ctx, provider, ReconcileOutcomeDuplicate, ReconcileResult{
			Success:   target == domain.PaymentStatusPaid,
			OrderID:   order.ID,
			Message:   "payment already recorded",
			Duplicate: true,
		})
	}

	if target == domain.PaymentStatusPaid {
		r.notifier.paymentSuccess(ctx, record.Order)
		return r.finish(ctx, provider, ReconcileOutcomePaid, ReconcileResult{Success: true, OrderID: order.ID, Message: "payment verified"})
	}
	r.notifier.paymentFailure(ctx, record.Order, failure)
	return r.finish(ctx, provider, ReconcileOutcomeFailed, ReconcileResult{OrderID: order.ID, Message: "payment failed"})
}

func (r *paymentReconciler) resolveOrder(ctx context.Context, ref payments.Reference) (Order, error) {
	var (
		order Order
		err   error
	)
	switch {
	case strings.TrimSpace(ref.OrderID) != "":
		order, err = r.orders.FindByID(ctx, strings.TrimSpace(ref.OrderID))
	case strings.TrimSpace(ref.TransactionID) != "":
		order, err = r.orders.FindByTransactionID(ctx, strings.TrimSpace(ref.TransactionID))
	default:
		return Order{}, fmt.Errorf("%w: evidence carries no order reference", ErrOrderNotFound)
	}
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

// classify maps an authenticated callback to the payment status to record. An empty target
// means the payment is still in flight. A success that settled another amount than the order
// total is recorded as a failure.
func (r *paymentReconciler) classify(provider string, order Order, callback payments.CallbackResult, authErr error) (domain.PaymentStatus, string, string) {
	if authErr != nil {
		failure := fmt.Errorf("%w: %v", ErrPaymentNotAuthentic, authErr).Error()
		return domain.PaymentStatusFailed, fmt.Sprintf("Payment verification failed via %s", provider), failure
	}
	switch callback.Outcome {
	case payments.OutcomeSucceeded:
		if !callback.AmountMatches(order.TotalAmount) {
			failure := fmt.Errorf("%w: settled %.2f, order total %.2f", ErrPaymentAmountMismatch,
				float64(callback.AmountMinor)/100, order.TotalAmount).Error()
			return domain.PaymentStatusFailed, fmt.Sprintf("Payment failed via %s: %s", provider, failure), failure
		}
		return domain.PaymentStatusPaid, fmt.Sprintf("Payment received via %s", provider), ""
	case payments.OutcomeFailed:
		failure := callback.ErrorMessage
		if failure == "" {
			failure = "payment " + callback.ProviderStatus
		}
		return domain.PaymentStatusFailed, fmt.Sprintf("Payment failed via %s: %s", provider, failure), failure
	default:
		return "", "", ""
	}
}

func (r *paymentReconciler) finish(ctx context.Context, provider, outcome string, result ReconcileResult) ReconcileResult {
	if r.metrics != nil {
		r.metrics.ObserveReconciliation(provider, outcome)
	}
	r.logger(ctx, "payment.reconciled", map[string]any{
		"provider":  provider,
		"outcome":   outcome,
		"orderId":   result.OrderID,
		"success":   result.Success,
		"duplicate": result.Duplicate,
	})
	return result
}

func recordFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrOrderIllegalTransition):
		return "payment status change not allowed"
	case errors.Is(err, ErrOrderNotFound):
		return "order not found"
	default:
		return "payment could not be recorded"
	}
}
