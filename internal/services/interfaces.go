package services

import (
	"context"
	"time"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/payments"
	"github.com/framecraft/api/internal/repositories"
)

// Order and friends alias the domain aggregate so handlers only import services.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	ShippingAddress    = domain.ShippingAddress
	StatusHistoryEntry = domain.StatusHistoryEntry
	OrderListFilter    = repositories.OrderListFilter
)

// OrderService exposes order creation and read paths plus the privileged patch.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	GetOrderByTransaction(ctx context.Context, transactionID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, page domain.PageRequest) (domain.Page[Order], error)
	SearchOrders(ctx context.Context, criteria OrderSearchCriteria) (domain.Page[Order], error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
}

// OrderStateMachine owns every mutation of order status and payment status.
type OrderStateMachine interface {
	Transition(ctx context.Context, cmd TransitionCommand) (Order, error)
	RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (PaymentRecordResult, error)
}

// PaymentReconciler turns provider evidence into order state. It never returns an error.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, provider string, evidence payments.Evidence) ReconcileResult
}

// BulkOperationCoordinator applies one change to many orders with per-order isolation.
type BulkOperationCoordinator interface {
	BulkUpdate(ctx context.Context, cmd BulkUpdateCommand) (BulkUpdateResult, error)
}

// NotificationDispatcher hands order notifications to a delivery channel. Implementations
// return quickly; a returned error means the notification was not accepted.
type NotificationDispatcher interface {
	SendOrderConfirmation(ctx context.Context, n OrderNotification) error
	SendStatusUpdate(ctx context.Context, n OrderNotification) error
	SendPaymentSuccess(ctx context.Context, n OrderNotification) error
	SendPaymentFailure(ctx context.Context, n OrderNotification) error
}

// ImageUploader stores a binary object and returns its public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, data []byte, name string, scopeID string, index int) (string, error)
}

// OrderNotification is the payload handed to the notification dispatcher.
type OrderNotification struct {
	Recipient      string
	Name           string
	OrderID        string
	OrderNumber    string
	Status         domain.OrderStatus
	PaymentStatus  domain.PaymentStatus
	TotalAmount    float64
	Currency       string
	TrackingNumber string
	Notes          string
	ErrorMessage   string
}

// OrderReadOptions scopes reads to an owner. An empty OwnerID means unrestricted.
type OrderReadOptions struct {
	OwnerID string
}

// OrderImage is an uploaded frame image bound to one item of a new order.
type OrderImage struct {
	ItemIndex   int
	Name        string
	ContentType string
	Data        []byte
}

// CreateOrderCommand carries a validated storefront checkout.
type CreateOrderCommand struct {
	UserID          string
	Items           []OrderItem
	TotalAmount     float64
	ShippingCost    float64
	TaxAmount       float64
	Currency        string
	ShippingAddress ShippingAddress
	Notes           string
	Images          []OrderImage
	SendEmail       bool
}

// OrderSearchCriteria drives the admin search. Dates are inclusive and To covers its whole day.
type OrderSearchCriteria struct {
	OrderNumber     string
	Email           string
	Name            string
	Phone           string
	TrackingNumber  string
	Statuses        []domain.OrderStatus
	PaymentStatuses []domain.PaymentStatus
	From            *time.Time
	To              *time.Time
	MinAmount       *float64
	MaxAmount       *float64
	Page            domain.PageRequest
}

// ItemPatch merges into the item at Index. Nil fields are left untouched.
type ItemPatch struct {
	Index       int
	Quantity    *int
	Price       *float64
	Size        *string
	FrameType   *string
	ImageURL    *string
	Notes       *string
	FrameColor  *string
	BorderColor *string
	BorderWidth *string
	Material    *string
	Effect      *string
}

// AddressPatch merges into the shipping address.
type AddressPatch struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	Street    *string
	City      *string
	State     *string
	ZipCode   *string
	Country   *string
}

// UpdateOrderCommand is the privileged order patch. A Status is routed through the state machine.
type UpdateOrderCommand struct {
	OrderID           string
	Status            *domain.OrderStatus
	StatusNotes       string
	PaymentStatus     *domain.PaymentStatus
	TotalAmount       *float64
	ShippingCost      *float64
	TaxAmount         *float64
	PaymentID         *string
	PaymentMethod     *string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	Notes             *string
	ShippingAddress   *AddressPatch
	Items             []ItemPatch
	ExpectedVersion   *int64
}

// PaymentFields are applied together with a status transition.
type PaymentFields struct {
	PaymentStatus domain.PaymentStatus
	PaymentID     string
	PaymentMethod string
}

// TransitionCommand moves an order to Status. An empty Status leaves the status unchanged and
// only applies the remaining fields.
type TransitionCommand struct {
	OrderID           string
	Status            domain.OrderStatus
	Notes             string
	Payment           *PaymentFields
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	ExpectedVersion   *int64
	SkipNotification  bool
	// Patch applies further field changes inside the same versioned write.
	Patch func(*Order) error
}

// RecordPaymentCommand applies an authenticated provider outcome to an order.
type RecordPaymentCommand struct {
	OrderID       string
	PaymentStatus domain.PaymentStatus
	PaymentID     string
	PaymentMethod string
	Notes         string
}

// PaymentRecordResult reports what RecordPayment changed.
type PaymentRecordResult struct {
	Order Order
	// Duplicate is set when the order already carried the requested payment status.
	Duplicate bool
}

// ReconcileResult is the stable outcome of a payment reconciliation.
type ReconcileResult struct {
	Success   bool
	OrderID   string
	Message   string
	Duplicate bool
	// Rejected marks evidence that failed authentication before any order was resolved.
	Rejected bool
}

// BulkUpdateCommand applies the populated fields to every listed order.
type BulkUpdateCommand struct {
	OrderIDs       []string
	Status         *domain.OrderStatus
	PaymentStatus  *domain.PaymentStatus
	TrackingNumber *string
	Notes          string
}

// BulkUpdateResult counts successes and describes each failure.
type BulkUpdateResult struct {
	Updated int
	Failed  []string
}
