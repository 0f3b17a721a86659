package domain

import (
	"math"
	"time"
)

// PageRequest defines offset-based paging inputs for list operations.
type PageRequest struct {
	Page  int
	Limit int
}

// Pagination describes the page returned by a list operation.
type Pagination struct {
	Page  int
	Limit int
	Total int64
	Pages int
}

// NewPagination computes the page count for the supplied totals.
func NewPagination(page, limit int, total int64) Pagination {
	pages := 0
	if limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// Page packages list results with their pagination summary.
type Page[T any] struct {
	Items      []T
	Pagination Pagination
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created and awaits payment.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed indicates payment succeeded.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing indicates the frame is being produced.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order has been cancelled.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusFailed marks a payment-originated terminal failure.
	OrderStatusFailed OrderStatus = "FAILED"
)

// OrderStatuses lists every order status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusFailed,
}

// IsTerminal reports whether no further transitions are accepted from the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is a known order status.
func (s OrderStatus) Valid() bool {
	for _, candidate := range OrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// PaymentStatus enumerates the settlement state of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Valid reports whether the status is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// Order is the aggregate root for a customer purchase.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	Items             []OrderItem
	TotalAmount       float64
	ShippingCost      float64
	TaxAmount         float64
	Currency          string
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	PaymentID         string
	PaymentMethod     string
	TransactionID     string
	TrackingNumber    string
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time
	ShippingAddress   ShippingAddress
	Notes             string
	StatusHistory     []StatusHistoryEntry
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem is a single framed print within an order.
type OrderItem struct {
	ProductID   string
	Quantity    int
	Price       float64
	Size        string
	FrameType   string
	ImageURL    string
	Notes       string
	FrameColor  string
	BorderColor string
	BorderWidth string
	Material    string
	Effect      string
}

// ShippingAddress holds the delivery contact for an order.
type ShippingAddress struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Street    string
	City      string
	State     string
	ZipCode   string
	Country   string
}

// FullName joins first and last name.
func (a ShippingAddress) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// StatusHistoryEntry records one status change. Entries are only ever appended.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Notes     string
}

// LastHistoryStatus returns the status of the most recent history entry.
func (o Order) LastHistoryStatus() (OrderStatus, bool) {
	if len(o.StatusHistory) == 0 {
		return "", false
	}
	return o.StatusHistory[len(o.StatusHistory)-1].Status, true
}
