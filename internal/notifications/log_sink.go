package notifications

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to the log. It is used when no message sink is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("order notification",
		zap.String("kind", event.Kind),
		zap.String("order_id", event.OrderID),
		zap.String("order_number", event.OrderNumber),
		zap.String("status", event.Status),
		zap.String("payment_status", event.PaymentStatus),
	)
	return nil
}
