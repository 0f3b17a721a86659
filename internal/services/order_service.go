package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/payments"
	"github.com/framecraft/api/internal/repositories"
)

const (
	orderIDPrefix       = "ord_"
	transactionIDPrefix = "txn_"

	defaultOrderCurrency = "INR"
	orderCreatedNote     = "Order created"
)

// OrderNumberGenerator issues human-readable order numbers.
type OrderNumberGenerator interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Numbers       OrderNumberGenerator
	StateMachine  OrderStateMachine
	Images        ImageUploader
	Notifications NotificationDispatcher
	Clock         func() time.Time
	IDGenerator   func() string
	// Sanitize cleans free-text notes before they are stored.
	Sanitize func(string) string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	numbers  OrderNumberGenerator
	machine  OrderStateMachine
	images   ImageUploader
	notifier notifier
	clock    func() time.Time
	newID    func() string
	sanitize func(string) string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number generator is required")
	}
	if deps.StateMachine == nil {
		return nil, errors.New("order service: state machine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		numbers:  deps.Numbers,
		machine:  deps.StateMachine,
		images:   deps.Images,
		notifier: notifier{dispatcher: deps.Notifications, logger: logger},
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCreateOrder(cmd); err != nil {
		return Order{}, err
	}
	currency := defaultOrderCurrency
	if strings.TrimSpace(cmd.Currency) != "" {
		code, err := payments.NormalizeCurrency(cmd.Currency)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		currency = code
	}
	if len(cmd.Images) > 0 && s.images == nil {
		return Order{}, fmt.Errorf("%w: image upload is not configured", ErrOrderUnavailable)
	}

	orderID := orderIDPrefix + s.newID()
	items := make([]OrderItem, len(cmd.Items))
	for i, item := range cmd.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Notes = s.sanitize(item.Notes)
		items[i] = item
	}

	for _, image := range cmd.Images {
		url, err := s.images.UploadImage(ctx, image.Data, image.Name, orderID, image.ItemIndex)
		if err != nil {
			return Order{}, fmt.Errorf("%w: upload image for item %d: %v", ErrOrderUnavailable, image.ItemIndex, err)
		}
		items[image.ItemIndex].ImageURL = url
	}

	number, err := s.numbers.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	order := Order{
		ID:              orderID,
		OrderNumber:     number,
		UserID:          strings.TrimSpace(cmd.UserID),
		Items:           items,
		TotalAmount:     cmd.TotalAmount,
		ShippingCost:    cmd.ShippingCost,
		TaxAmount:       cmd.TaxAmount,
		Currency:        currency,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		TransactionID:   transactionIDPrefix + s.newID(),
		ShippingAddress: trimAddress(cmd.ShippingAddress),
		Notes:           s.sanitize(cmd.Notes),
		StatusHistory: []StatusHistoryEntry{{
			Status:    domain.OrderStatusPending,
			Timestamp: now,
			Notes:     orderCreatedNote,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"images":      len(cmd.Images),
	})
	if cmd.SendEmail {
		s.notifier.orderConfirmation(ctx, order)
	}
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return scopeToOwner(order, opts)
}

func (s *orderService) GetOrderByTransaction(ctx context.Context, transactionID string, opts OrderReadOptions) (Order, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return Order{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return scopeToOwner(order, opts)
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	if filter.CreatedRange.To != nil {
		to := repositories.EndOfDay(*filter.CreatedRange.To)
		filter.CreatedRange.To = &to
	}
	filter.Pagination = repositories.NormalizePage(filter.Pagination)
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListByStatus(ctx context.Context, status domain.OrderStatus, page domain.PageRequest) (domain.Page[Order], error) {
	if !status.Valid() {
		return domain.Page[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
	}
	return s.ListOrders(ctx, OrderListFilter{
		Statuses:   []domain.OrderStatus{status},
		Pagination: page,
	})
}

func (s *orderService) SearchOrders(ctx context.Context, criteria OrderSearchCriteria) (domain.Page[Order], error) {
	for _, status := range criteria.Statuses {
		if !status.Valid() {
			return domain.Page[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	for _, status := range criteria.PaymentStatuses {
		if !status.Valid() {
			return domain.Page[Order]{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, status)
		}
	}
	if criteria.MinAmount != nil && criteria.MaxAmount != nil && *criteria.MinAmount > *criteria.MaxAmount {
		return domain.Page[Order]{}, fmt.Errorf("%w: minimum amount exceeds maximum amount", ErrOrderInvalidInput)
	}
	if criteria.From != nil && criteria.To != nil && criteria.From.After(*criteria.To) {
		return domain.Page[Order]{}, fmt.Errorf("%w: start date is after end date", ErrOrderInvalidInput)
	}
	return s.ListOrders(ctx, OrderListFilter{
		Statuses:        criteria.Statuses,
		PaymentStatuses: criteria.PaymentStatuses,
		CreatedRange:    domain.RangeQuery[time.Time]{From: criteria.From, To: criteria.To},
		AmountRange:     domain.RangeQuery[float64]{From: criteria.MinAmount, To: criteria.MaxAmount},
		OrderNumber:     strings.TrimSpace(criteria.OrderNumber),
		Email:           strings.TrimSpace(criteria.Email),
		Name:            strings.TrimSpace(criteria.Name),
		Phone:           strings.TrimSpace(criteria.Phone),
		TrackingNumber:  strings.TrimSpace(criteria.TrackingNumber),
		Pagination:      criteria.Page,
	})
}

// UpdateOrder applies the privileged patch in a single versioned write through the state machine.
func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := validateOrderPatch(cmd); err != nil {
		return Order{}, err
	}

	transition := TransitionCommand{
		OrderID:           orderID,
		Notes:             s.sanitize(cmd.StatusNotes),
		TrackingNumber:    cmd.TrackingNumber,
		EstimatedDelivery: cmd.EstimatedDelivery,
		ExpectedVersion:   cmd.ExpectedVersion,
		Patch:             s.orderPatch(cmd),
	}
	if cmd.Status != nil {
		transition.Status = *cmd.Status
	}
	if cmd.PaymentStatus != nil || cmd.PaymentID != nil || cmd.PaymentMethod != nil {
		fields := PaymentFields{}
		if cmd.PaymentStatus != nil {
			fields.PaymentStatus = *cmd.PaymentStatus
		}
		if cmd.PaymentID != nil {
			fields.PaymentID = *cmd.PaymentID
		}
		if cmd.PaymentMethod != nil {
			fields.PaymentMethod = *cmd.PaymentMethod
		}
		transition.Payment = &fields
	}

	order, err := s.machine.Transition(ctx, transition)
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "order.updated", map[string]any{"orderId": order.ID, "version": order.Version})
	return order, nil
}

func (s *orderService) orderPatch(cmd UpdateOrderCommand) func(*Order) error {
	if cmd.TotalAmount == nil && cmd.ShippingCost == nil && cmd.TaxAmount == nil &&
		cmd.Notes == nil && cmd.ShippingAddress == nil && len(cmd.Items) == 0 {
		return nil
	}
	return func(order *Order) error {
		if cmd.TotalAmount != nil {
			order.TotalAmount = *cmd.TotalAmount
		}
		if cmd.ShippingCost != nil {
			order.ShippingCost = *cmd.ShippingCost
		}
		if cmd.TaxAmount != nil {
			order.TaxAmount = *cmd.TaxAmount
		}
		if cmd.Notes != nil {
			order.Notes = s.sanitize(*cmd.Notes)
		}
		if cmd.ShippingAddress != nil {
			mergeAddress(&order.ShippingAddress, *cmd.ShippingAddress)
		}
		for _, patch := range cmd.Items {
			if patch.Index < 0 || patch.Index >= len(order.Items) {
				return fmt.Errorf("%w: item index %d out of range", ErrOrderInvalidInput, patch.Index)
			}
			mergeItem(&order.Items[patch.Index], patch, s.sanitize)
		}
		return nil
	}
}

func scopeToOwner(order Order, opts OrderReadOptions) (Order, error) {
	if owner := strings.TrimSpace(opts.OwnerID); owner != "" && order.UserID != owner {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, order.ID)
	}
	return order, nil
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item %d product id is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if !nonNegative(item.Price) {
			return fmt.Errorf("%w: item %d price must not be negative", ErrOrderInvalidInput, i)
		}
	}
	if !nonNegative(cmd.TotalAmount) || !nonNegative(cmd.ShippingCost) || !nonNegative(cmd.TaxAmount) {
		return fmt.Errorf("%w: amounts must not be negative", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddress.Email) == "" {
		return fmt.Errorf("%w: shipping email is required", ErrOrderInvalidInput)
	}
	for _, image := range cmd.Images {
		if image.ItemIndex < 0 || image.ItemIndex >= len(cmd.Items) {
			return fmt.Errorf("%w: image %q refers to item %d", ErrOrderInvalidInput, image.Name, image.ItemIndex)
		}
		if len(image.Data) == 0 {
			return fmt.Errorf("%w: image %q is empty", ErrOrderInvalidInput, image.Name)
		}
		if ct := strings.TrimSpace(image.ContentType); ct != "" && !strings.HasPrefix(ct, "image/") {
			return fmt.Errorf("%w: image %q is not an image", ErrOrderInvalidInput, image.Name)
		}
	}
	return nil
}

func validateOrderPatch(cmd UpdateOrderCommand) error {
	for _, amount := range []*float64{cmd.TotalAmount, cmd.ShippingCost, cmd.TaxAmount} {
		if amount != nil && !nonNegative(*amount) {
			return fmt.Errorf("%w: amounts must not be negative", ErrOrderInvalidInput)
		}
	}
	for _, item := range cmd.Items {
		if item.Quantity != nil && *item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, item.Index)
		}
		if item.Price != nil && !nonNegative(*item.Price) {
			return fmt.Errorf("%w: item %d price must not be negative", ErrOrderInvalidInput, item.Index)
		}
	}
	return nil
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func trimAddress(addr ShippingAddress) ShippingAddress {
	return ShippingAddress{
		FirstName: strings.TrimSpace(addr.FirstName),
		LastName:  strings.TrimSpace(addr.LastName),
		Email:     strings.TrimSpace(addr.Email),
		Phone:     strings.TrimSpace(addr.Phone),
		Street:    strings.TrimSpace(addr.Street),
		City:      strings.TrimSpace(addr.City),
		State:     strings.TrimSpace(addr.State),
		ZipCode:   strings.TrimSpace(addr.ZipCode),
		Country:   strings.TrimSpace(addr.Country),
	}
}

func mergeAddress(dst *ShippingAddress, patch AddressPatch) {
	setString(&dst.FirstName, patch.FirstName)
	setString(&dst.LastName, patch.LastName)
	setString(&dst.Email, patch.Email)
	setString(&dst.Phone, patch.Phone)
	setString(&dst.Street, patch.Street)
	setString(&dst.City, patch.City)
	setString(&dst.State, patch.State)
	setString(&dst.ZipCode, patch.ZipCode)
	setString(&dst.Country, patch.Country)
}

func mergeItem(dst *OrderItem, patch ItemPatch, sanitize func(string) string) {
	if patch.Quantity != nil {
		dst.Quantity = *patch.Quantity
	}
	if patch.Price != nil {
		dst.Price = *patch.Price
	}
	setString(&dst.Size, patch.Size)
	setString(&dst.FrameType, patch.FrameType)
	setString(&dst.ImageURL, patch.ImageURL)
	if patch.Notes != nil {
		dst.Notes = sanitize(*patch.Notes)
	}
	setString(&dst.FrameColor, patch.FrameColor)
	setString(&dst.BorderColor, patch.BorderColor)
	setString(&dst.BorderWidth, patch.BorderWidth)
	setString(&dst.Material, patch.Material)
	setString(&dst.Effect, patch.Effect)
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}
