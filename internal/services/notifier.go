package services

import (
	"context"
	"fmt"
)

const (
	notificationOrderConfirmation = "order_confirmation"
	notificationStatusUpdate      = "status_update"
	notificationPaymentSuccess    = "payment_success"
	notificationPaymentFailure    = "payment_failure"
)

// notifier hands notifications to the dispatcher and logs refusals. It never fails the caller.
type notifier struct {
	dispatcher NotificationDispatcher
	logger     func(context.Context, string, map[string]any)
}

func (n notifier) orderConfirmation(ctx context.Context, order Order) {
	n.send(ctx, notificationOrderConfirmation, order, "")
}

func (n notifier) statusUpdate(ctx context.Context, order Order) {
	n.send(ctx, notificationStatusUpdate, order, "")
}

func (n notifier) paymentSuccess(ctx context.Context, order Order) {
	n.send(ctx, notificationPaymentSuccess, order, "")
}

func (n notifier) paymentFailure(ctx context.Context, order Order, message string) {
	n.send(ctx, notificationPaymentFailure, order, message)
}

func (n notifier) send(ctx context.Context, kind string, order Order, message string) {
	if n.dispatcher == nil {
		return
	}
	payload := OrderNotification{
		Recipient:      order.ShippingAddress.Email,
		Name:           order.ShippingAddress.FullName(),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		TrackingNumber: order.TrackingNumber,
		ErrorMessage:   message,
	}
	if last := len(order.StatusHistory); last > 0 {
		payload.Notes = order.StatusHistory[last-1].Notes
	}

	var err error
	switch kind {
	case notificationOrderConfirmation:
		err = n.dispatcher.SendOrderConfirmation(ctx, payload)
	case notificationStatusUpdate:
		err = n.dispatcher.SendStatusUpdate(ctx, payload)
	case notificationPaymentSuccess:
		err = n.dispatcher.SendPaymentSuccess(ctx, payload)
	case notificationPaymentFailure:
		err = n.dispatcher.SendPaymentFailure(ctx, payload)
	default:
		err = fmt.Errorf("unknown notification kind %q", kind)
	}
	if err != nil && n.logger != nil {
		n.logger(ctx, "order.notification.failed", map[string]any{
			"orderId": order.ID,
			"kind":    kind,
			"error":   fmt.Errorf("%w: %v", ErrNotificationFailed, err).Error(),
		})
	}
}
