package mongo

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/repositories"
)

type orderDocument struct {
	ID                string                `bson:"_id"`
	OrderNumber       string                `bson:"orderNumber"`
	UserID            string                `bson:"userId"`
	Items             []orderItemDocument   `bson:"items"`
	TotalAmount       float64               `bson:"totalAmount"`
	ShippingCost      float64               `bson:"shippingCost"`
	TaxAmount         float64               `bson:"taxAmount"`
	Currency          string                `bson:"currency"`
	Status            string                `bson:"status"`
	PaymentStatus     string                `bson:"paymentStatus"`
	PaymentID         string                `bson:"paymentId,omitempty"`
	PaymentMethod     string                `bson:"paymentMethod,omitempty"`
	TransactionID     string                `bson:"transactionId,omitempty"`
	TrackingNumber    string                `bson:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time            `bson:"estimatedDelivery,omitempty"`
	DeliveredAt       *time.Time            `bson:"deliveredAt,omitempty"`
	ShippingAddress   addressDocument       `bson:"shippingAddress"`
	Notes             string                `bson:"notes,omitempty"`
	StatusHistory     []statusEntryDocument `bson:"statusHistory"`
	Version           int64                 `bson:"version"`
	CreatedAt         time.Time             `bson:"createdAt"`
	UpdatedAt         time.Time             `bson:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string  `bson:"productId"`
	Quantity    int     `bson:"quantity"`
	Price       float64 `bson:"price"`
	Size        string  `bson:"size"`
	FrameType   string  `bson:"frameType"`
	ImageURL    string  `bson:"imageUrl"`
	Notes       string  `bson:"notes,omitempty"`
	FrameColor  string  `bson:"frameColor,omitempty"`
	BorderColor string  `bson:"borderColor,omitempty"`
	BorderWidth string  `bson:"borderWidth,omitempty"`
	Material    string  `bson:"material,omitempty"`
	Effect      string  `bson:"effect,omitempty"`
}

type addressDocument struct {
	FirstName string `bson:"firstName"`
	LastName  string `bson:"lastName"`
	Email     string `bson:"email"`
	Phone     string `bson:"phone"`
	Street    string `bson:"street"`
	City      string `bson:"city"`
	State     string `bson:"state"`
	ZipCode   string `bson:"zipCode"`
	Country   string `bson:"country"`
}

type statusEntryDocument struct {
	Status    string    `bson:"status"`
	Timestamp time.Time `bson:"timestamp"`
	Notes     string    `bson:"notes,omitempty"`
}

// OrderRepository stores orders in a MongoDB collection. Uniqueness of order numbers and
// transaction ids is enforced by the indexes from EnsureOrderIndexes.
type OrderRepository struct {
	orders *mongo.Collection
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{orders: db.Collection(ordersCollection)}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	_, err := r.orders.InsertOne(ctx, encodeOrder(order))
	return wrapError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.get", bson.M{"_id": orderID})
}

func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	if strings.TrimSpace(transactionID) == "" {
		return domain.Order{}, repositories.NewStoreError("orders.get_by_transaction", repositories.StoreErrorNotFound, fmt.Errorf("transaction id is empty"))
	}
	return r.findOne(ctx, "orders.get_by_transaction", bson.M{"transactionId": transactionID})
}

func (r *OrderRepository) findOne(ctx context.Context, op string, filter bson.M) (domain.Order, error) {
	var doc orderDocument
	if err := r.orders.FindOne(ctx, filter).Decode(&doc); err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	return decodeOrder(doc), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	page := repositories.NormalizePage(filter.Pagination)
	query := buildFilter(filter)

	total, err := r.orders.CountDocuments(ctx, query)
	if err != nil {
		return domain.Page[domain.Order]{}, wrapError("orders.count", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page.Page - 1) * page.Limit)).
		SetLimit(int64(page.Limit))
	cursor, err := r.orders.Find(ctx, query, opts)
	if err != nil {
		return domain.Page[domain.Order]{}, wrapError("orders.list", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return domain.Page[domain.Order]{}, wrapError("orders.list", err)
	}
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrder(doc))
	}
	return domain.Page[domain.Order]{
		Items:      items,
		Pagination: domain.NewPagination(page.Page, page.Limit, total),
	}, nil
}

// Update performs a conditional replace keyed on the expected version.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	order.Version = expectedVersion + 1
	filter := bson.M{"_id": order.ID, "version": expectedVersion}
	if order.TransactionID != "" {
		filter["$or"] = bson.A{
			bson.M{"transactionId": order.TransactionID},
			bson.M{"transactionId": bson.M{"$exists": false}},
		}
	}
	result, err := r.orders.ReplaceOne(ctx, filter, encodeOrder(order))
	if err != nil {
		return domain.Order{}, wrapError("orders.update", err)
	}
	if result.MatchedCount == 0 {
		if _, err := r.FindByID(ctx, order.ID); err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, repositories.NewStoreError("orders.update", repositories.StoreErrorConflict,
			fmt.Errorf("order %s changed since version %d", order.ID, expectedVersion))
	}
	return order, nil
}

// buildFilter translates the list filter into a query document. Substring matchers become
// unanchored case-insensitive regular expressions over escaped input.
func buildFilter(filter repositories.OrderListFilter) bson.M {
	query := bson.M{}
	if filter.UserID != "" {
		query["userId"] = filter.UserID
	}
	if len(filter.Statuses) > 0 {
		values := make(bson.A, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			values = append(values, string(status))
		}
		query["status"] = bson.M{"$in": values}
	}
	if len(filter.PaymentStatuses) > 0 {
		values := make(bson.A, 0, len(filter.PaymentStatuses))
		for _, status := range filter.PaymentStatuses {
			values = append(values, string(status))
		}
		query["paymentStatus"] = bson.M{"$in": values}
	}
	if created := rangeClause(filter.CreatedRange.From, filter.CreatedRange.To); created != nil {
		query["createdAt"] = created
	}
	if amount := rangeClause(filter.AmountRange.From, filter.AmountRange.To); amount != nil {
		query["totalAmount"] = amount
	}
	for field, value := range map[string]string{
		"orderNumber":           filter.OrderNumber,
		"shippingAddress.email": filter.Email,
		"shippingAddress.phone": filter.Phone,
		"trackingNumber":        filter.TrackingNumber,
	} {
		if rx, ok := containsRegex(value); ok {
			query[field] = rx
		}
	}
	if rx, ok := containsRegex(filter.Name); ok {
		query["$or"] = bson.A{
			bson.M{"shippingAddress.firstName": rx},
			bson.M{"shippingAddress.lastName": rx},
		}
	}
	return query
}

func rangeClause[T any](from, to *T) bson.M {
	if from == nil && to == nil {
		return nil
	}
	clause := bson.M{}
	if from != nil {
		clause["$gte"] = *from
	}
	if to != nil {
		clause["$lte"] = *to
	}
	return clause
}

func containsRegex(value string) (primitive.Regex, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return primitive.Regex{}, false
	}
	return primitive.Regex{Pattern: regexp.QuoteMeta(value), Options: "i"}, true
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument(item))
	}
	history := make([]statusEntryDocument, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, statusEntryDocument{Status: string(entry.Status), Timestamp: entry.Timestamp.UTC(), Notes: entry.Notes})
	}
	return orderDocument{
		ID:                order.ID,
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

func decodeOrder(doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem(item))
	}
	history := make([]domain.StatusHistoryEntry, 0, len(doc.StatusHistory))
	for _, entry := range doc.StatusHistory {
		history = append(history, domain.StatusHistoryEntry{Status: domain.OrderStatus(entry.Status), Timestamp: entry.Timestamp, Notes: entry.Notes})
	}
	return domain.Order{
		ID:                doc.ID,
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
	}
}
