// Package memory provides process-local repositories used for local development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/repositories"
)

// OrderRepository keeps orders in a mutex-guarded map with the same uniqueness and
// version semantics as the durable stores.
type OrderRepository struct {
	mu            sync.RWMutex
	orders        map[string]domain.Order
	byOrderNumber map[string]string
	byTransaction map[string]string
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository returns an empty in-memory order store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:        make(map[string]domain.Order),
		byOrderNumber: make(map[string]string),
		byTransaction: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return repositories.NewStoreError("orders.insert", repositories.StoreErrorConflict, fmt.Errorf("order %s already exists", order.ID))
	}
	if _, exists := r.byOrderNumber[order.OrderNumber]; exists {
		return repositories.NewStoreError("orders.insert", repositories.StoreErrorConflict, fmt.Errorf("order number %s already assigned", order.OrderNumber))
	}
	if order.TransactionID != "" {
		if _, exists := r.byTransaction[order.TransactionID]; exists {
			return repositories.NewStoreError("orders.insert", repositories.StoreErrorConflict, fmt.Errorf("transaction id %s already assigned", order.TransactionID))
		}
		r.byTransaction[order.TransactionID] = order.ID
	}
	r.byOrderNumber[order.OrderNumber] = order.ID
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewStoreError("orders.get", repositories.StoreErrorNotFound, fmt.Errorf("order %s not found", orderID))
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	r.mu.RLock()
	orderID, ok := r.byTransaction[transactionID]
	r.mu.RUnlock()
	if !ok || transactionID == "" {
		return domain.Order{}, repositories.NewStoreError("orders.get_by_transaction", repositories.StoreErrorNotFound, fmt.Errorf("transaction %s not found", transactionID))
	}
	return r.FindByID(ctx, orderID)
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	r.mu.RLock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Matches(order) {
			matched = append(matched, cloneOrder(order))
		}
	}
	r.mu.RUnlock()
	return repositories.Paginate(matched, filter.Pagination), nil
}

func (r *OrderRepository) Update(_ context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return domain.Order{}, repositories.NewStoreError("orders.update", repositories.StoreErrorNotFound, fmt.Errorf("order %s not found", order.ID))
	}
	if current.Version != expectedVersion {
		return domain.Order{}, repositories.NewStoreError("orders.update", repositories.StoreErrorConflict, fmt.Errorf("order %s version %d, expected %d", order.ID, current.Version, expectedVersion))
	}
	if current.TransactionID != "" && order.TransactionID != current.TransactionID {
		return domain.Order{}, repositories.NewStoreError("orders.update", repositories.StoreErrorConflict, fmt.Errorf("order %s transaction id is immutable", order.ID))
	}
	order.Version = expectedVersion + 1
	r.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	order.StatusHistory = slices.Clone(order.StatusHistory)
	if order.EstimatedDelivery != nil {
		value := *order.EstimatedDelivery
		order.EstimatedDelivery = &value
	}
	if order.DeliveredAt != nil {
		value := *order.DeliveredAt
		order.DeliveredAt = &value
	}
	return order
}
