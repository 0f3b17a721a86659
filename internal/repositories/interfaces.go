package repositories

import (
	"context"
	"time"

	domain "github.com/framecraft/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	// Insert stores a new order. Duplicate ids, order numbers or transaction ids yield a conflict.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByTransactionID resolves the order owning a provider correlation key.
	FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	// Update replaces the stored order when its version still equals expectedVersion. The stored
	// version is incremented and the persisted order returned. A stale version yields a conflict.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error)
}

// CounterRepository provides atomic day-scoped sequence numbers.
type CounterRepository interface {
	// Next atomically increments the counter, creating it on first use, and returns the
	// post-increment value.
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// OrderListFilter narrows order listings. String matchers are case-insensitive substrings.
type OrderListFilter struct {
	UserID          string
	Statuses        []domain.OrderStatus
	PaymentStatuses []domain.PaymentStatus
	CreatedRange    domain.RangeQuery[time.Time]
	AmountRange     domain.RangeQuery[float64]
	OrderNumber     string
	Email           string
	Name            string
	Phone           string
	TrackingNumber  string
	Pagination      domain.PageRequest
}
