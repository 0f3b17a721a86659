package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/framecraft/api/internal/domain"
	pfirestore "github.com/framecraft/api/internal/platform/firestore"
	"github.com/framecraft/api/internal/repositories"
)

const (
	ordersCollection    = "orders"
	orderKeysCollection = "order_keys"
)

// orderKeyDocument reserves a unique secondary key (order number or transaction id) for an order.
type orderKeyDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderNumber       string                `firestore:"orderNumber"`
	UserID            string                `firestore:"userId"`
	Items             []orderItemDocument   `firestore:"items"`
	TotalAmount       float64               `firestore:"totalAmount"`
	ShippingCost      float64               `firestore:"shippingCost"`
	TaxAmount         float64               `firestore:"taxAmount"`
	Currency          string                `firestore:"currency"`
	Status            string                `firestore:"status"`
	PaymentStatus     string                `firestore:"paymentStatus"`
	PaymentID         string                `firestore:"paymentId,omitempty"`
	PaymentMethod     string                `firestore:"paymentMethod,omitempty"`
	TransactionID     string                `firestore:"transactionId"`
	TrackingNumber    string                `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time            `firestore:"estimatedDelivery,omitempty"`
	DeliveredAt       *time.Time            `firestore:"deliveredAt,omitempty"`
	ShippingAddress   addressDocument       `firestore:"shippingAddress"`
	Notes             string                `firestore:"notes,omitempty"`
	StatusHistory     []statusEntryDocument `firestore:"statusHistory"`
	Version           int64                 `firestore:"version"`
	CreatedAt         time.Time             `firestore:"createdAt"`
	UpdatedAt         time.Time             `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string  `firestore:"productId"`
	Quantity    int     `firestore:"quantity"`
	Price       float64 `firestore:"price"`
	Size        string  `firestore:"size"`
	FrameType   string  `firestore:"frameType"`
	ImageURL    string  `firestore:"imageUrl"`
	Notes       string  `firestore:"notes,omitempty"`
	FrameColor  string  `firestore:"frameColor,omitempty"`
	BorderColor string  `firestore:"borderColor,omitempty"`
	BorderWidth string  `firestore:"borderWidth,omitempty"`
	Material    string  `firestore:"material,omitempty"`
	Effect      string  `firestore:"effect,omitempty"`
}

type addressDocument struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Email     string `firestore:"email"`
	Phone     string `firestore:"phone"`
	Street    string `firestore:"street"`
	City      string `firestore:"city"`
	State     string `firestore:"state"`
	ZipCode   string `firestore:"zipCode"`
	Country   string `firestore:"country"`
}

type statusEntryDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Notes     string    `firestore:"notes,omitempty"`
}

// OrderRepository implements repositories.OrderRepository on Firestore. Secondary unique keys are
// enforced by reserving documents in the order_keys collection within the insert transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func orderNumberKey(orderNumber string) string { return "orderNumber_" + orderNumber }
func transactionKey(transactionID string) string { return "transactionId_" + transactionID }

// Insert creates the order document together with its unique key reservations.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	orders := client.Collection(ordersCollection)
	keys := client.Collection(orderKeysCollection)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		key := orderKeyDocument{OrderID: order.ID, CreatedAt: order.CreatedAt}
		if err := tx.Create(keys.Doc(orderNumberKey(order.OrderNumber)), key); err != nil {
			return err
		}
		if order.TransactionID != "" {
			if err := tx.Create(keys.Doc(transactionKey(order.TransactionID)), key); err != nil {
				return err
			}
		}
		return tx.Create(orders.Doc(order.ID), encodeOrder(order))
	})
	return pfirestore.WrapError("orders.insert", err)
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	collection, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.Order{}, err
	}
	snapshot, err := collection.Doc(orderID).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrder(snapshot)
}

// FindByTransactionID resolves the order through its reserved transaction key.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	if strings.TrimSpace(transactionID) == "" {
		return domain.Order{}, pfirestore.NotFound("orders.get_by_transaction", errors.New("transaction id is empty"))
	}
	collection, err := r.provider.Collection(ctx, orderKeysCollection)
	if err != nil {
		return domain.Order{}, err
	}
	snapshot, err := collection.Doc(transactionKey(transactionID)).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get_by_transaction", err)
	}
	var key orderKeyDocument
	if err := snapshot.DataTo(&key); err != nil {
		return domain.Order{}, fmt.Errorf("decode order key %s: %w", snapshot.Ref.ID, err)
	}
	return r.FindByID(ctx, key.OrderID)
}

// List pushes owner and creation-time constraints into the query and applies the remaining
// criteria in memory, since Firestore has no case-insensitive substring matching.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	collection, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	query := collection.Query
	if filter.UserID != "" {
		query = query.Where("userId", "==", filter.UserID)
	}
	if from := filter.CreatedRange.From; from != nil {
		query = query.Where("createdAt", ">=", *from)
	}
	if to := filter.CreatedRange.To; to != nil {
		query = query.Where("createdAt", "<=", *to)
	}
	query = query.OrderBy("createdAt", firestore.Desc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	matched := make([]domain.Order, 0)
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.Page[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		order, err := decodeOrder(snapshot)
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		if filter.Matches(order) {
			matched = append(matched, order)
		}
	}
	return repositories.Paginate(matched, filter.Pagination), nil
}

// Update replaces the order when the stored version equals expectedVersion.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	collection, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.Order{}, err
	}
	ref := collection.Doc(order.ID)

	var saved domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeOrder(snapshot)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return pfirestore.Conflict("orders.update", fmt.Errorf("order %s version %d, expected %d", order.ID, current.Version, expectedVersion))
		}
		if current.TransactionID != "" && order.TransactionID != current.TransactionID {
			return pfirestore.Conflict("orders.update", fmt.Errorf("order %s transaction id is immutable", order.ID))
		}
		order.Version = expectedVersion + 1
		saved = order
		return tx.Set(ref, encodeOrder(order))
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return saved, nil
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument(item))
	}
	history := make([]statusEntryDocument, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, statusEntryDocument{
			Status:    string(entry.Status),
			Timestamp: entry.Timestamp.UTC(),
			Notes:     entry.Notes,
		})
	}
	return orderDocument{
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Items:             items,
		TotalAmount:       order.TotalAmount,
		ShippingCost:      order.ShippingCost,
		TaxAmount:         order.TaxAmount,
		Currency:          order.Currency,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentID:         order.PaymentID,
		PaymentMethod:     order.PaymentMethod,
		TransactionID:     order.TransactionID,
		TrackingNumber:    order.TrackingNumber,
		EstimatedDelivery: order.EstimatedDelivery,
		DeliveredAt:       order.DeliveredAt,
		ShippingAddress:   addressDocument(order.ShippingAddress),
		Notes:             order.Notes,
		StatusHistory:     history,
		Version:           order.Version,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
}

func decodeOrder(snapshot *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snapshot.Ref.ID, err)
	}
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem(item))
	}
	history := make([]domain.StatusHistoryEntry, 0, len(doc.StatusHistory))
	for _, entry := range doc.StatusHistory {
		history = append(history, domain.StatusHistoryEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp,
			Notes:     entry.Notes,
		})
	}
	return domain.Order{
		ID:                snapshot.Ref.ID,
		OrderNumber:       doc.OrderNumber,
		UserID:            doc.UserID,
		Items:             items,
		TotalAmount:       doc.TotalAmount,
		ShippingCost:      doc.ShippingCost,
		TaxAmount:         doc.TaxAmount,
		Currency:          doc.Currency,
		Status:            domain.OrderStatus(doc.Status),
		PaymentStatus:     domain.PaymentStatus(doc.PaymentStatus),
		PaymentID:         doc.PaymentID,
		PaymentMethod:     doc.PaymentMethod,
		TransactionID:     doc.TransactionID,
		TrackingNumber:    doc.TrackingNumber,
		EstimatedDelivery: doc.EstimatedDelivery,
		DeliveredAt:       doc.DeliveredAt,
		ShippingAddress:   domain.ShippingAddress(doc.ShippingAddress),
		Notes:             doc.Notes,
		StatusHistory:     history,
		Version:           doc.Version,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}, nil
}
