package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// BulkOrderServiceDeps bundles collaborators for bulk updates.
type BulkOrderServiceDeps struct {
	StateMachine OrderStateMachine
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type bulkOrderService struct {
	machine OrderStateMachine
	logger  func(context.Context, string, map[string]any)
}

// NewBulkOrderService constructs the bulk operation coordinator.
func NewBulkOrderService(deps BulkOrderServiceDeps) (BulkOperationCoordinator, error) {
	if deps.StateMachine == nil {
		return nil, errors.New("bulk order service: state machine is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &bulkOrderService{machine: deps.StateMachine, logger: logger}, nil
}

// BulkUpdate applies the command to each order independently. A failing order is reported in
// Failed and never stops the rest; repeated ids are processed once.
func (s *bulkOrderService) BulkUpdate(ctx context.Context, cmd BulkUpdateCommand) (BulkUpdateResult, error) {
	ids := uniqueIDs(cmd.OrderIDs)
	if len(ids) == 0 {
		return BulkUpdateResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}
	if cmd.Status == nil && cmd.PaymentStatus == nil && cmd.TrackingNumber == nil {
		return BulkUpdateResult{}, fmt.Errorf("%w: status, payment status or tracking number is required", ErrOrderInvalidInput)
	}
	if cmd.Status != nil && !cmd.Status.Valid() {
		return BulkUpdateResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, *cmd.Status)
	}
	if cmd.PaymentStatus != nil && !cmd.PaymentStatus.Valid() {
		return BulkUpdateResult{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, *cmd.PaymentStatus)
	}

	result := BulkUpdateResult{Failed: []string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("Order %s: %v", id, err))
			continue
		}
		transition := TransitionCommand{
			OrderID:        id,
			Notes:          cmd.Notes,
			TrackingNumber: cmd.TrackingNumber,
		}
		if cmd.Status != nil {
			transition.Status = *cmd.Status
		}
		if cmd.PaymentStatus != nil {
			transition.Payment = &PaymentFields{PaymentStatus: *cmd.PaymentStatus}
		}

		if _, err := s.machine.Transition(ctx, transition); err != nil {
			result.Failed = append(result.Failed, bulkFailureMessage(id, err))
			continue
		}
		result.Updated++
	}

	s.logger(ctx, "order.bulk_update.completed", map[string]any{
		"requested": len(ids),
		"updated":   result.Updated,
		"failed":    len(result.Failed),
	})
	return result, nil
}

func bulkFailureMessage(id string, err error) string {
	if errors.Is(err, ErrOrderNotFound) {
		return fmt.Sprintf("Order %s not found", id)
	}
	return fmt.Sprintf("Order %s: %v", id, err)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
