package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com"

// errRazorpayOrderMissing is returned by the orders API lookup on a 404.
var errRazorpayOrderMissing = errors.New("razorpay: provider order not found")

// RazorpayConfig configures the instant-payment gateway.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Client    *http.Client
	Logger    Logger
}

// RazorpayProof is the client-submitted checkout result. The signature covers
// "<provider order id>|<payment id>"; OrderID names the order the client claims to pay.
type RazorpayProof struct {
	OrderID         string
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

func (RazorpayProof) Provider() string      { return ProviderRazorpay }
func (p RazorpayProof) Reference() Reference { return Reference{OrderID: p.OrderID} }

// RazorpayGateway implements Gateway against the Razorpay Orders REST API.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
	logger    Logger
}

var _ Gateway = (*RazorpayGateway)(nil)

// NewRazorpayGateway constructs the Razorpay gateway.
func NewRazorpayGateway(cfg RazorpayConfig) (*RazorpayGateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RazorpayGateway{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   baseURL,
		client:    httpClient,
		logger:    logger,
	}, nil
}

func (g *RazorpayGateway) Provider() string { return ProviderRazorpay }

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Initiate creates a provider order whose receipt is the internal order id.
func (g *RazorpayGateway) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	if err := validateInitiate(req); err != nil {
		return Session{}, err
	}
	code, err := NormalizeCurrency(req.Currency)
	if err != nil {
		return Session{}, err
	}

	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   MinorUnits(req.Amount),
		Currency: code,
		Receipt:  req.OrderID,
		Notes:    map[string]string{"orderId": req.OrderID},
	})
	if err != nil {
		return Session{}, fmt.Errorf("razorpay: encode order: %w", err)
	}

	var order razorpayOrderResponse
	if err := g.call(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return Session{}, fmt.Errorf("razorpay: create order: %w", err)
	}
	g.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"orderId":         req.OrderID,
		"providerOrderId": order.ID,
	})
	return Session{
		Provider:        ProviderRazorpay,
		ProviderOrderID: order.ID,
		AmountMinor:     order.Amount,
		Currency:        order.Currency,
		KeyID:           g.keyID,
	}, nil
}

// Verify recomputes the checkout signature and checks the signed provider order was issued for
// the claimed order.
func (g *RazorpayGateway) Verify(ctx context.Context, proof Evidence) (Verification, error) {
	rp, ok := proof.(RazorpayProof)
	if !ok {
		return Verification{}, ErrEvidenceMismatch
	}
	if _, err := g.authenticate(ctx, rp); err != nil {
		if errors.Is(err, ErrCallbackNotAuthentic) {
			return Verification{PaymentID: rp.PaymentID}, nil
		}
		return Verification{}, err
	}
	return Verification{OK: true, PaymentID: rp.PaymentID}, nil
}

// AuthenticateCallback treats the client proof as the provider's callback. The settled amount is
// the provider order's amount.
func (g *RazorpayGateway) AuthenticateCallback(ctx context.Context, evidence Evidence) (CallbackResult, error) {
	rp, ok := evidence.(RazorpayProof)
	if !ok {
		return CallbackResult{}, ErrEvidenceMismatch
	}
	order, err := g.authenticate(ctx, rp)
	if err != nil {
		if errors.Is(err, ErrCallbackNotAuthentic) {
			g.logger(ctx, "payments.razorpay.proof.rejected", map[string]any{
				"orderId":         rp.OrderID,
				"providerOrderId": rp.ProviderOrderID,
				"error":           err.Error(),
			})
			return CallbackResult{PaymentID: rp.PaymentID}, err
		}
		return CallbackResult{}, err
	}
	return CallbackResult{
		Outcome:        OutcomeSucceeded,
		PaymentID:      rp.PaymentID,
		ProviderStatus: "captured",
		Reference:      rp.Reference(),
		AmountMinor:    order.Amount,
		HasAmount:      true,
	}, nil
}

// Sign computes the hex HMAC-SHA256 of "<providerOrderID>|<paymentID>" with the key secret.
func (g *RazorpayGateway) Sign(providerOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(providerOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// authenticate checks the HMAC over the provider order and payment ids, then loads the provider
// order and requires its receipt to be the claimed order id.
func (g *RazorpayGateway) authenticate(ctx context.Context, proof RazorpayProof) (razorpayOrderResponse, error) {
	orderID := strings.TrimSpace(proof.OrderID)
	providerOrderID := strings.TrimSpace(proof.ProviderOrderID)
	paymentID := strings.TrimSpace(proof.PaymentID)
	signature := strings.ToLower(strings.TrimSpace(proof.Signature))
	if orderID == "" || providerOrderID == "" || paymentID == "" || signature == "" {
		return razorpayOrderResponse{}, fmt.Errorf("%w: order id, provider order id, payment id and signature are required", ErrInvalidRequest)
	}
	if !hmac.Equal([]byte(g.Sign(providerOrderID, paymentID)), []byte(signature)) {
		return razorpayOrderResponse{}, fmt.Errorf("%w: signature mismatch for payment %s", ErrCallbackNotAuthentic, paymentID)
	}

	var order razorpayOrderResponse
	err := g.call(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(providerOrderID), nil, &order)
	switch {
	case errors.Is(err, errRazorpayOrderMissing):
		return razorpayOrderResponse{}, fmt.Errorf("%w: provider order %s does not exist", ErrCallbackNotAuthentic, providerOrderID)
	case err != nil:
		return razorpayOrderResponse{}, fmt.Errorf("razorpay: fetch order: %w", err)
	}
	if order.Receipt != orderID {
		return razorpayOrderResponse{}, fmt.Errorf("%w: provider order %s was issued for another order", ErrCallbackNotAuthentic, providerOrderID)
	}
	return order, nil
}

// call performs an authenticated request against the Razorpay API and decodes the JSON reply.
func (g *RazorpayGateway) call(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errRazorpayOrderMissing
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr razorpayErrorResponse
		_ = json.Unmarshal(payload, &apiErr)
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Description)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
