package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/framecraft/api/internal/domain"
	"github.com/framecraft/api/internal/payments"
	"github.com/framecraft/api/internal/platform/auth"
	"github.com/framecraft/api/internal/platform/httpx"
	"github.com/framecraft/api/internal/services"
)

// GatewayResolver looks up a payment gateway by provider tag.
type GatewayResolver interface {
	Gateway(provider string) (payments.Gateway, error)
}

// payuHasher is implemented by the PayU gateway.
type payuHasher interface {
	PaymentHash(in payments.PayUHashInput) string
}

// PaymentHandlers exposes checkout initiation and client-side payment verification.
type PaymentHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	gateways   GatewayResolver
	reconciler services.PaymentReconciler
	limiter    *fixedWindowLimiter
}

// PaymentHandlersOption customises PaymentHandlers.
type PaymentHandlersOption func(*PaymentHandlers)

// WithPaymentRateLimit caps initiate, verify and hash calls per user within window.
func WithPaymentRateLimit(limit int, window time.Duration, clock func() time.Time) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewPaymentHandlers constructs the payment endpoints.
func NewPaymentHandlers(authn *auth.Authenticator, orders services.OrderService, gateways GatewayResolver, reconciler services.PaymentReconciler, opts ...PaymentHandlersOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:      authn,
		orders:     orders,
		gateways:   gateways,
		reconciler: reconciler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/payu/orders/{txnid}", h.orderByTransaction)

	limited := r.With(limitPerUser(h.limiter))
	limited.Post("/stripe/verify", h.verifyStripe)
	limited.Post("/razorpay/verify", h.verifyRazorpay)
	limited.Post("/payu/hash", h.payuHash)
	limited.Post("/{provider}/initiate", h.initiate)
}

type initiatePaymentRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

type stripeSessionResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type razorpaySessionResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Key      string `json:"key"`
}

type payuSessionResponse struct {
	Action        string            `json:"action"`
	Params        map[string]string `json:"params"`
	Hash          string            `json:"hash"`
	HTML          string            `json:"html"`
	TransactionID string            `json:"txnid"`
}

func (h *PaymentHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.gateways == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	gateway, err := h.gateways.Gateway(provider)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("provider_not_configured", fmt.Sprintf("payment provider %q is not available", provider), http.StatusNotFound))
		return
	}

	var req initiatePaymentRequest
	if !decodeJSONBody(w, r, defaultJSONBodyLimit, &req) {
		return
	}
	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(req.OrderID), services.OrderReadOptions{OwnerID: ownerScope(identity)})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", "order has already been paid", http.StatusConflict))
		return
	}
	if order.Status.IsTerminal() {
		httpx.WriteError(ctx, w, httpx.NewError("order_closed", fmt.Sprintf("order is %s", order.Status), http.StatusConflict))
		return
	}

	session, err := gateway.Initiate(ctx, initiateRequestFor(order))
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	switch session.Provider {
	case payments.ProviderStripe:
		writeJSONResponse(w, http.StatusOK, stripeSessionResponse{
			ClientSecret:    session.ClientSecret,
			PaymentIntentID: session.PaymentIntentID,
		})
	case payments.ProviderRazorpay:
		writeJSONResponse(w, http.StatusOK, razorpaySessionResponse{
			OrderID:  session.ProviderOrderID,
			Amount:   session.AmountMinor,
			Currency: session.Currency,
			Key:      session.KeyID,
		})
	default:
		resp := payuSessionResponse{TransactionID: order.TransactionID}
		if form := session.Redirect; form != nil {
			resp.Action = form.Action
			resp.Params = form.Fields
			resp.Hash = form.Hash
			resp.HTML = form.HTML
		}
		writeJSONResponse(w, http.StatusOK, resp)
	}
}

func initiateRequestFor(order services.Order) payments.InitiateRequest {
	addr := order.ShippingAddress
	return payments.InitiateRequest{
		OrderID:       order.ID,
		TransactionID: order.TransactionID,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		ProductInfo:   "Order " + order.OrderNumber,
		Customer: payments.Customer{
			FirstName: addr.FirstName,
			LastName:  addr.LastName,
			Email:     addr.Email,
			Phone:     addr.Phone,
		},
		UDF: [5]string{order.ID},
	}
}

type stripeVerifyRequest struct {
	OrderID         string `json:"orderId" validate:"required"`
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
}

type razorpayVerifyRequest struct {
	OrderID         string `json:"orderId" validate:"required"`
	RazorpayOrderID string `json:"razorpayOrderId" validate:"required"`
	PaymentID       string `json:"paymentId" validate:"required"`
	Signature       string `json:"signature" validate:"required"`
}

type verifyPaymentResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderId"`
	Message   string `json:"message"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (h *PaymentHandlers) verifyStripe(w http.ResponseWriter, r *http.Request) {
	var req stripeVerifyRequest
	if !decodeJSONBody(w, r, defaultJSONBodyLimit, &req) {
		return
	}
	h.verify(w, r, req.OrderID, payments.StripeIntentProof{
		OrderID:         strings.TrimSpace(req.OrderID),
		PaymentIntentID: strings.TrimSpace(req.PaymentIntentID),
	})
}

func (h *PaymentHandlers) verifyRazorpay(w http.ResponseWriter, r *http.Request) {
	var req razorpayVerifyRequest
	if !decodeJSONBody(w, r, defaultJSONBodyLimit, &req) {
		return
	}
	h.verify(w, r, req.OrderID, payments.RazorpayProof{
		OrderID:         strings.TrimSpace(req.OrderID),
		ProviderOrderID: strings.TrimSpace(req.RazorpayOrderID),
		PaymentID:       strings.TrimSpace(req.PaymentID),
		Signature:       strings.TrimSpace(req.Signature),
	})
}

// verify checks the caller may act on the order before handing the proof to the reconciler.
func (h *PaymentHandlers) verify(w http.ResponseWriter, r *http.Request, orderID string, proof payments.Evidence) {
	ctx := r.Context()
	if h.orders == nil || h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if _, err := h.orders.GetOrder(ctx, strings.TrimSpace(orderID), services.OrderReadOptions{OwnerID: ownerScope(identity)}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	result := h.reconciler.Reconcile(ctx, proof.Provider(), proof)
	if !result.Success {
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", result.Message, http.StatusBadRequest).
			WithDetails(map[string]any{"success": false, "orderId": result.OrderID}))
		return
	}
	writeJSONResponse(w, http.StatusOK, verifyPaymentResponse{
		Success:   true,
		OrderID:   result.OrderID,
		Message:   result.Message,
		Duplicate: result.Duplicate,
	})
}

type payuHashRequest struct {
	TxnID       string `json:"txnid" validate:"required"`
	ProductInfo string `json:"productinfo" validate:"required"`
	FirstName   string `json:"firstname" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	UDF1        string `json:"udf1"`
	UDF2        string `json:"udf2"`
	UDF3        string `json:"udf3"`
	UDF4        string `json:"udf4"`
	UDF5        string `json:"udf5"`
}

type payuHashResponse struct {
	Hash   string `json:"hash"`
	Amount string `json:"amount"`
}

// payuHash signs a client-built PayU request for one of the caller's orders. The amount is the
// order total; the merchant salt never leaves the server.
func (h *PaymentHandlers) payuHash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateways == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	gateway, err := h.gateways.Gateway(payments.ProviderPayU)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("provider_not_configured", "payment provider \"payu\" is not available", http.StatusNotFound))
		return
	}
	hasher, ok := gateway.(payuHasher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("provider_not_configured", "payu gateway cannot sign requests", http.StatusNotImplemented))
		return
	}

	var req payuHashRequest
	if !decodeJSONBody(w, r, defaultJSONBodyLimit, &req) {
		return
	}
	order, err := h.orders.GetOrderByTransaction(ctx, strings.TrimSpace(req.TxnID), services.OrderReadOptions{OwnerID: ownerScope(identity)})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", "order has already been paid", http.StatusConflict))
		return
	}
	if order.Status.IsTerminal() {
		httpx.WriteError(ctx, w, httpx.NewError("order_closed", fmt.Sprintf("order is %s", order.Status), http.StatusConflict))
		return
	}

	amount := payments.FormatPayUAmount(order.TotalAmount)
	hash := hasher.PaymentHash(payments.PayUHashInput{
		TxnID:       order.TransactionID,
		Amount:      amount,
		ProductInfo: req.ProductInfo,
		FirstName:   req.FirstName,
		Email:       req.Email,
		UDF:         [5]string{req.UDF1, req.UDF2, req.UDF3, req.UDF4, req.UDF5},
	})
	writeJSONResponse(w, http.StatusOK, payuHashResponse{Hash: hash, Amount: amount})
}

func (h *PaymentHandlers) orderByTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	txnID := strings.TrimSpace(chi.URLParam(r, "txnid"))
	if txnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "transaction id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrderByTransaction(ctx, txnID, services.OrderReadOptions{OwnerID: ownerScope(identity)})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func writePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, payments.ErrInvalidRequest):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrProviderNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("provider_not_configured", err.Error(), http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", "payment provider request failed", http.StatusBadGateway))
	}
}
