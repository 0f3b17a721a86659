package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/platform/auth"
	"github.com/framecraft/api/internal/platform/httpx"
	"github.com/framecraft/api/internal/platform/pagination"
	"github.com/framecraft/api/internal/services"
)

const (
	maxOrderBodySize     = 256 * 1024
	maxFrameImages       = 10
	maxFrameImageSize    = 10 << 20
	multipartMemoryLimit = 32 << 20
)

// OrderHandlers serves the storefront and admin order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	machine     services.OrderStateMachine
	bulk        services.BulkOperationCoordinator
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with the supplied middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, machine services.OrderStateMachine, bulk services.BulkOperationCoordinator, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:   authn,
		orders:  orders,
		machine: machine,
		bulk:    bulk,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}

	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/", h.listOrders)

	r.Group(func(admin chi.Router) {
		admin.Use(auth.RequireRole(auth.RoleAdmin))
		admin.Get("/search", h.searchOrders)
		admin.Get("/status/{status}", h.listByStatus)
		admin.Put("/bulk-update", h.bulkUpdate)
		admin.Patch("/{orderID}/status", h.updateStatus)
		admin.Put("/{orderID}", h.updateOrder)
	})

	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var (
		req    createOrderRequest
		images []services.OrderImage
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var herr *httpx.Error
		req, images, herr = parseMultipartOrder(w, r)
		if herr != nil {
			httpx.WriteError(ctx, w, *herr)
			return
		}
		if !validatePayload(ctx, w, &req) {
			return
		}
	} else if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}

	cmd := req.toCommand(strings.TrimSpace(identity.UID))
	cmd.Images = images

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

// parseMultipartOrder reads the JSON "order" field and up to ten "frameImages" parts. File i is
// attached to item i.
func parseMultipartOrder(w http.ResponseWriter, r *http.Request) (createOrderRequest, []services.OrderImage, *httpx.Error) {
	var req createOrderRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameImages*maxFrameImageSize+maxOrderBodySize)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, uploadError("payload_too_large", "upload exceeds allowed size", http.StatusRequestEntityTooLarge)
		}
		return req, nil, uploadError("invalid_request", "multipart form is invalid", http.StatusBadRequest)
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	raw := strings.TrimSpace(r.FormValue("order"))
	if raw == "" {
		return req, nil, uploadError("invalid_request", "order field is required", http.StatusBadRequest)
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return req, nil, uploadError("invalid_request", "order field must be valid JSON", http.StatusBadRequest)
	}

	files := r.MultipartForm.File["frameImages"]
	if len(files) > maxFrameImages {
		return req, nil, uploadError("invalid_request", fmt.Sprintf("at most %d frame images are allowed", maxFrameImages), http.StatusBadRequest)
	}
	images := make([]services.OrderImage, 0, len(files))
	for i, header := range files {
		image, herr := readFrameImage(header, i)
		if herr != nil {
			return req, nil, herr
		}
		images = append(images, image)
	}
	return req, images, nil
}

func readFrameImage(header *multipart.FileHeader, index int) (services.OrderImage, *httpx.Error) {
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return services.OrderImage{}, uploadError("invalid_request", "only image files are allowed", http.StatusBadRequest)
	}
	if header.Size > maxFrameImageSize {
		return services.OrderImage{}, uploadError("payload_too_large", "frame image exceeds 10MB", http.StatusRequestEntityTooLarge)
	}
	file, err := header.Open()
	if err != nil {
		return services.OrderImage{}, uploadError("invalid_request", "frame image could not be read", http.StatusBadRequest)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxFrameImageSize+1))
	if err != nil || len(data) > maxFrameImageSize {
		return services.OrderImage{}, uploadError("invalid_request", "frame image could not be read", http.StatusBadRequest)
	}
	return services.OrderImage{
		ItemIndex:   index,
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func uploadError(code, message string, status int) *httpx.Error {
	err := httpx.NewError(code, message, status)
	return &err
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	page, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter := services.OrderListFilter{
		UserID:     ownerScope(identity),
		Pagination: page,
	}
	if filter.Statuses, err = parseOrderStatuses(query["status"]); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(result))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{OwnerID: ownerScope(identity)})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) searchOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	criteria, err := parseSearchCriteria(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	result, err := h.orders.SearchOrders(ctx, criteria)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(result))
}

func parseSearchCriteria(r *http.Request) (services.OrderSearchCriteria, error) {
	query := r.URL.Query()
	page, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		return services.OrderSearchCriteria{}, err
	}
	criteria := services.OrderSearchCriteria{
		OrderNumber:    strings.TrimSpace(query.Get("orderNumber")),
		Email:          strings.TrimSpace(query.Get("customerEmail")),
		Name:           strings.TrimSpace(query.Get("customerName")),
		Phone:          strings.TrimSpace(query.Get("customerPhone")),
		TrackingNumber: strings.TrimSpace(query.Get("trackingNumber")),
		Page:           page,
	}
	if criteria.Statuses, err = parseOrderStatuses(query["status"]); err != nil {
		return criteria, err
	}
	if criteria.PaymentStatuses, err = parsePaymentStatuses(query["paymentStatus"]); err != nil {
		return criteria, err
	}
	if raw := strings.TrimSpace(query.Get("fromDate")); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			return criteria, errors.New("fromDate must be a date or RFC3339 timestamp")
		}
		criteria.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("toDate")); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			return criteria, errors.New("toDate must be a date or RFC3339 timestamp")
		}
		criteria.To = &ts
	}
	if criteria.MinAmount, err = parseAmountParam(query.Get("minAmount"), "minAmount"); err != nil {
		return criteria, err
	}
	if criteria.MaxAmount, err = parseAmountParam(query.Get("maxAmount"), "maxAmount"); err != nil {
		return criteria, err
	}
	return criteria, nil
}

func (h *OrderHandlers) listByStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "status"))))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown order status %q", status), http.StatusBadRequest))
		return
	}
	page, err := pagination.Parse(r.URL.Query(), pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.ListByStatus(ctx, status, page)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(result))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	var req updateStatusRequest
	if !decodeJSONBody(w, r, defaultJSONBodyLimit, &req) {
		return
	}

	cmd := services.TransitionCommand{
		OrderID:           orderID,
		Status:            domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Notes:             strings.TrimSpace(req.Notes),
		TrackingNumber:    trimmedPtr(req.TrackingNumber),
		EstimatedDelivery: req.EstimatedDelivery,
		ExpectedVersion:   req.ExpectedVersion,
	}
	if req.PaymentStatus != "" || req.PaymentID != "" || req.PaymentMethod != "" {
		cmd.Payment = &services.PaymentFields{
			PaymentStatus: domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.PaymentStatus))),
			PaymentID:     strings.TrimSpace(req.PaymentID),
			PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		}
	}

	order, err := h.machine.Transition(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	var req updateOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}

	order, err := h.orders.UpdateOrder(ctx, req.toCommand(orderID))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	serveBulkUpdate(w, r, h.bulk)
}

// serveBulkUpdate is shared by the admin and internal bulk endpoints.
func serveBulkUpdate(w http.ResponseWriter, r *http.Request, bulk services.BulkOperationCoordinator) {
	ctx := r.Context()
	if bulk == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req bulkUpdateRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}

	result, err := bulk.BulkUpdate(ctx, req.toCommand())
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	failed := result.Failed
	if failed == nil {
		failed = []string{}
	}
	writeJSONResponse(w, http.StatusOK, bulkUpdateResponse{Updated: result.Updated, Failed: failed})
}

func parseOrderStatuses(values []string) ([]domain.OrderStatus, error) {
	var statuses []domain.OrderStatus
	for _, raw := range splitQueryValues(values) {
		status := domain.OrderStatus(strings.ToUpper(raw))
		if !status.Valid() {
			return nil, fmt.Errorf("unknown order status %q", raw)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func parsePaymentStatuses(values []string) ([]domain.PaymentStatus, error) {
	var statuses []domain.PaymentStatus
	for _, raw := range splitQueryValues(values) {
		status := domain.PaymentStatus(strings.ToUpper(raw))
		if !status.Valid() {
			return nil, fmt.Errorf("unknown payment status %q", raw)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// splitQueryValues accepts both repeated parameters and comma separated lists.
func splitQueryValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseAmountParam(raw, name string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return nil, fmt.Errorf("%s must be a non-negative number", name)
	}
	return &value, nil
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
