package handlers

import (
	"strings"
	"time"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/services"
)

type orderItemRequest struct {
	ProductID   string  `json:"productId" validate:"required"`
	Quantity    int     `json:"quantity" validate:"min=1"`
	Price       float64 `json:"price" validate:"gte=0"`
	Size        string  `json:"size"`
	FrameType   string  `json:"frameType"`
	ImageURL    string  `json:"imageUrl"`
	Notes       string  `json:"notes"`
	FrameColor  string  `json:"frameColor"`
	BorderColor string  `json:"borderColor"`
	BorderWidth string  `json:"borderWidth"`
	Material    string  `json:"material"`
	Effect      string  `json:"effect"`
}

type shippingAddressRequest struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
}

type createOrderRequest struct {
	Items           []orderItemRequest     `json:"items" validate:"required,min=1,dive"`
	TotalAmount     float64                `json:"totalAmount" validate:"gte=0"`
	ShippingCost    float64                `json:"shippingCost" validate:"gte=0"`
	TaxAmount       float64                `json:"taxAmount" validate:"gte=0"`
	Currency        string                 `json:"currency"`
	ShippingAddress shippingAddressRequest `json:"shippingAddress"`
	Notes           string                 `json:"notes"`
	SendEmail       *bool                  `json:"sendEmail"`
}

func (req createOrderRequest) toCommand(userID string) services.CreateOrderCommand {
	items := make([]services.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItem{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Size:        strings.TrimSpace(item.Size),
			FrameType:   strings.TrimSpace(item.FrameType),
			ImageURL:    strings.TrimSpace(item.ImageURL),
			Notes:       item.Notes,
			FrameColor:  strings.TrimSpace(item.FrameColor),
			BorderColor: strings.TrimSpace(item.BorderColor),
			BorderWidth: strings.TrimSpace(item.BorderWidth),
			Material:    strings.TrimSpace(item.Material),
			Effect:      strings.TrimSpace(item.Effect),
		})
	}
	sendEmail := true
	if req.SendEmail != nil {
		sendEmail = *req.SendEmail
	}
	addr := req.ShippingAddress
	return services.CreateOrderCommand{
		UserID:       userID,
		Items:        items,
		TotalAmount:  req.TotalAmount,
		ShippingCost: req.ShippingCost,
		TaxAmount:    req.TaxAmount,
		Currency:     strings.TrimSpace(req.Currency),
		ShippingAddress: services.ShippingAddress{
			FirstName: addr.FirstName,
			LastName:  addr.LastName,
			Email:     addr.Email,
			Phone:     addr.Phone,
			Street:    addr.Street,
			City:      addr.City,
			State:     addr.State,
			ZipCode:   addr.ZipCode,
			Country:   addr.Country,
		},
		Notes:     req.Notes,
		SendEmail: sendEmail,
	}
}

type updateStatusRequest struct {
	Status            string     `json:"status" validate:"required"`
	PaymentStatus     string     `json:"paymentStatus"`
	PaymentID         string     `json:"paymentId"`
	PaymentMethod     string     `json:"paymentMethod"`
	TrackingNumber    *string    `json:"trackingNumber"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	Notes             string     `json:"notes"`
	ExpectedVersion   *int64     `json:"expectedVersion"`
}

type itemPatchRequest struct {
	Index       int      `json:"index" validate:"gte=0"`
	Quantity    *int     `json:"quantity" validate:"omitempty,min=1"`
	Price       *float64 `json:"price" validate:"omitempty,gte=0"`
	Size        *string  `json:"size"`
	FrameType   *string  `json:"frameType"`
	ImageURL    *string  `json:"imageUrl"`
	Notes       *string  `json:"notes"`
	FrameColor  *string  `json:"frameColor"`
	BorderColor *string  `json:"borderColor"`
	BorderWidth *string  `json:"borderWidth"`
	Material    *string  `json:"material"`
	Effect      *string  `json:"effect"`
}

type addressPatchRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phone"`
	Street    *string `json:"street"`
	City      *string `json:"city"`
	State     *string `json:"state"`
	ZipCode   *string `json:"zipCode"`
	Country   *string `json:"country"`
}

type updateOrderRequest struct {
	Status            *string              `json:"status"`
	StatusNotes       string               `json:"statusNotes"`
	PaymentStatus     *string              `json:"paymentStatus"`
	TotalAmount       *float64             `json:"totalAmount" validate:"omitempty,gte=0"`
	ShippingCost      *float64             `json:"shippingCost" validate:"omitempty,gte=0"`
	TaxAmount         *float64             `json:"taxAmount" validate:"omitempty,gte=0"`
	PaymentID         *string              `json:"paymentId"`
	PaymentMethod     *string              `json:"paymentMethod"`
	TrackingNumber    *string              `json:"trackingNumber"`
	EstimatedDelivery *time.Time           `json:"estimatedDelivery"`
	Notes             *string              `json:"notes"`
	ShippingAddress   *addressPatchRequest `json:"shippingAddress"`
	Items             []itemPatchRequest   `json:"items" validate:"dive"`
	ExpectedVersion   *int64               `json:"expectedVersion"`
}

func (req updateOrderRequest) toCommand(orderID string) services.UpdateOrderCommand {
	cmd := services.UpdateOrderCommand{
		OrderID:           orderID,
		StatusNotes:       req.StatusNotes,
		TotalAmount:       req.TotalAmount,
		ShippingCost:      req.ShippingCost,
		TaxAmount:         req.TaxAmount,
		PaymentID:         trimmedPtr(req.PaymentID),
		PaymentMethod:     trimmedPtr(req.PaymentMethod),
		TrackingNumber:    trimmedPtr(req.TrackingNumber),
		EstimatedDelivery: req.EstimatedDelivery,
		Notes:             req.Notes,
		ExpectedVersion:   req.ExpectedVersion,
	}
	if req.Status != nil {
		status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}
	if req.PaymentStatus != nil {
		status := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(*req.PaymentStatus)))
		cmd.PaymentStatus = &status
	}
	if addr := req.ShippingAddress; addr != nil {
		cmd.ShippingAddress = &services.AddressPatch{
			FirstName: addr.FirstName,
			LastName:  addr.LastName,
			Email:     addr.Email,
			Phone:     addr.Phone,
			Street:    addr.Street,
			City:      addr.City,
			State:     addr.State,
			ZipCode:   addr.ZipCode,
			Country:   addr.Country,
		}
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.ItemPatch{
			Index:       item.Index,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Size:        item.Size,
			FrameType:   item.FrameType,
			ImageURL:    item.ImageURL,
			Notes:       item.Notes,
			FrameColor:  item.FrameColor,
			BorderColor: item.BorderColor,
			BorderWidth: item.BorderWidth,
			Material:    item.Material,
			Effect:      item.Effect,
		})
	}
	return cmd
}

type bulkUpdateRequest struct {
	OrderIDs       []string `json:"orderIds" validate:"required,min=1,dive,required"`
	Status         *string  `json:"status"`
	PaymentStatus  *string  `json:"paymentStatus"`
	TrackingNumber *string  `json:"trackingNumber"`
	Notes          string   `json:"notes"`
}

func (req bulkUpdateRequest) toCommand() services.BulkUpdateCommand {
	cmd := services.BulkUpdateCommand{
		OrderIDs:       req.OrderIDs,
		TrackingNumber: trimmedPtr(req.TrackingNumber),
		Notes:          strings.TrimSpace(req.Notes),
	}
	if req.Status != nil {
		status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}
	if req.PaymentStatus != nil {
		status := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(*req.PaymentStatus)))
		cmd.PaymentStatus = &status
	}
	return cmd
}

type bulkUpdateResponse struct {
	Updated int      `json:"updated"`
	Failed  []string `json:"failed"`
}

type orderListResponse struct {
	Orders     []orderPayload    `json:"orders"`
	Pagination paginationPayload `json:"pagination"`
}

type paginationPayload struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type orderItemPayload struct {
	ProductID   string  `json:"productId"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	Size        string  `json:"size,omitempty"`
	FrameType   string  `json:"frameType,omitempty"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	FrameColor  string  `json:"frameColor,omitempty"`
	BorderColor string  `json:"borderColor,omitempty"`
	BorderWidth string  `json:"borderWidth,omitempty"`
	Material    string  `json:"material,omitempty"`
	Effect      string  `json:"effect,omitempty"`
}

type addressPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
}

type statusHistoryPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Notes     string `json:"notes,omitempty"`
}

type orderPayload struct {
	ID                string                 `json:"id"`
	OrderNumber       string                 `json:"orderNumber"`
	UserID            string                 `json:"userId"`
	Items             []orderItemPayload     `json:"items"`
	TotalAmount       float64                `json:"totalAmount"`
	ShippingCost      float64                `json:"shippingCost"`
	TaxAmount         float64                `json:"taxAmount"`
	Currency          string                 `json:"currency"`
	Status            string                 `json:"status"`
	PaymentStatus     string                 `json:"paymentStatus"`
	PaymentID         string                 `json:"paymentId,omitempty"`
	PaymentMethod     string                 `json:"paymentMethod,omitempty"`
	TransactionID     string                 `json:"transactionId,omitempty"`
	TrackingNumber    string                 `json:"trackingNumber,omitempty"`
	EstimatedDelivery string                 `json:"estimatedDelivery,omitempty"`
	DeliveredAt       string                 `json:"deliveredAt,omitempty"`
	ShippingAddress   addressPayload         `json:"shippingAddress"`
	Notes             string                 `json:"notes,omitempty"`
	StatusHistory     []statusHistoryPayload `json:"statusHistory"`
	Version           int64                  `json:"version"`
	CreatedAt         string                 `json:"createdAt"`
	UpdatedAt         string                 `json:"updatedAt,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Items:             make([]orderItemPayload, 0, len(order.Items)),
		TotalAmount:       order.TotalAmount,
		ShippingCost:      order.ShippingCost,
		TaxAmount:         order.TaxAmount,
		Currency:          strings.ToUpper(order.Currency),
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentID:         order.PaymentID,
		PaymentMethod:     order.PaymentMethod,
		TransactionID:     order.TransactionID,
		TrackingNumber:    order.TrackingNumber,
		EstimatedDelivery: formatTime(pointerTime(order.EstimatedDelivery)),
		DeliveredAt:       formatTime(pointerTime(order.DeliveredAt)),
		Notes:             order.Notes,
		StatusHistory:     make([]statusHistoryPayload, 0, len(order.StatusHistory)),
		Version:           order.Version,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Size:        item.Size,
			FrameType:   item.FrameType,
			ImageURL:    item.ImageURL,
			Notes:       item.Notes,
			FrameColor:  item.FrameColor,
			BorderColor: item.BorderColor,
			BorderWidth: item.BorderWidth,
			Material:    item.Material,
			Effect:      item.Effect,
		})
	}
	addr := order.ShippingAddress
	payload.ShippingAddress = addressPayload{
		FirstName: addr.FirstName,
		LastName:  addr.LastName,
		Email:     addr.Email,
		Phone:     addr.Phone,
		Street:    addr.Street,
		City:      addr.City,
		State:     addr.State,
		ZipCode:   addr.ZipCode,
		Country:   addr.Country,
	}
	for _, entry := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusHistoryPayload{
			Status:    string(entry.Status),
			Timestamp: formatTime(entry.Timestamp),
			Notes:     entry.Notes,
		})
	}
	return payload
}

func buildOrderListResponse(page domain.Page[services.Order]) orderListResponse {
	orders := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, buildOrderPayload(order))
	}
	return orderListResponse{
		Orders: orders,
		Pagination: paginationPayload{
			Page:  page.Pagination.Page,
			Limit: page.Pagination.Limit,
			Total: page.Pagination.Total,
			Pages: page.Pagination.Pages,
		},
	}
}
