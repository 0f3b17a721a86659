package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
	stripeOrderMetadataKey     = "orderId"
)

// Logger is the structured logging hook shared by the gateways.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the card-rail gateway.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        Logger
	intents       stripePaymentIntentAPI
}

// StripeWebhook is a raw webhook delivery with its Stripe-Signature header.
type StripeWebhook struct {
	Payload   []byte
	Signature string
}

func (StripeWebhook) Provider() string { return ProviderStripe }

// Reference is empty because the order id is only trusted after the signature is checked.
func (StripeWebhook) Reference() Reference { return Reference{} }

// StripeIntentProof is a client-submitted request to verify a payment intent for an order.
type StripeIntentProof struct {
	OrderID         string
	PaymentIntentID string
}

func (StripeIntentProof) Provider() string      { return ProviderStripe }
func (p StripeIntentProof) Reference() Reference { return Reference{OrderID: p.OrderID} }

// StripeGateway implements Gateway on Stripe payment intents.
type StripeGateway struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
	logger        Logger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs the Stripe gateway.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	intents := cfg.intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{
		intents:       intents,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		logger:        logger,
	}, nil
}

func (g *StripeGateway) Provider() string { return ProviderStripe }

// Initiate creates a payment intent tagged with the order id and returns its client secret.
func (g *StripeGateway) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	if err := validateInitiate(req); err != nil {
		return Session{}, err
	}
	code, err := NormalizeCurrency(req.Currency)
	if err != nil {
		return Session{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(code)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(stripeOrderMetadataKey, req.OrderID)
	if req.TransactionID != "" {
		params.AddMetadata("transactionId", req.TransactionID)
		params.SetIdempotencyKey("intent-" + req.TransactionID)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":         req.OrderID,
		"paymentIntentId": intent.ID,
	})
	return Session{
		Provider:        ProviderStripe,
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
	}, nil
}

// Verify re-fetches the intent and accepts only the succeeded state.
func (g *StripeGateway) Verify(ctx context.Context, proof Evidence) (Verification, error) {
	intentProof, ok := proof.(StripeIntentProof)
	if !ok {
		return Verification{}, ErrEvidenceMismatch
	}
	intent, err := g.fetchIntent(ctx, intentProof)
	if err != nil {
		return Verification{}, err
	}
	return Verification{
		OK:        intent.Status == stripe.PaymentIntentStatusSucceeded,
		PaymentID: intent.ID,
	}, nil
}

// AuthenticateCallback accepts either a signed webhook or a client intent proof.
func (g *StripeGateway) AuthenticateCallback(ctx context.Context, evidence Evidence) (CallbackResult, error) {
	switch ev := evidence.(type) {
	case StripeWebhook:
		return g.authenticateWebhook(ctx, ev)
	case StripeIntentProof:
		intent, err := g.fetchIntent(ctx, ev)
		if err != nil {
			return CallbackResult{}, err
		}
		return intentResult(intent, outcomeForIntent(intent.Status)), nil
	default:
		return CallbackResult{}, ErrEvidenceMismatch
	}
}

func (g *StripeGateway) authenticateWebhook(ctx context.Context, hook StripeWebhook) (CallbackResult, error) {
	if g.webhookSecret == "" {
		return CallbackResult{}, errors.New("stripe: webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(hook.Payload, hook.Signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		g.logger(ctx, "payments.stripe.webhook.rejected", map[string]any{"error": err.Error()})
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrCallbackNotAuthentic, err)
	}

	eventType := string(event.Type)
	var outcome Outcome
	switch eventType {
	case stripeEventIntentSucceeded:
		outcome = OutcomeSucceeded
	case stripeEventIntentFailed:
		outcome = OutcomeFailed
	default:
		return CallbackResult{Outcome: OutcomeIgnored, ProviderStatus: eventType}, nil
	}
	if event.Data == nil {
		return CallbackResult{}, fmt.Errorf("%w: event %s has no data", ErrInvalidRequest, event.ID)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return CallbackResult{}, fmt.Errorf("%w: decode payment intent: %v", ErrInvalidRequest, err)
	}
	result := intentResult(&intent, outcome)
	result.ProviderStatus = eventType
	return result, nil
}

func (g *StripeGateway) fetchIntent(ctx context.Context, proof StripeIntentProof) (*stripe.PaymentIntent, error) {
	intentID := strings.TrimSpace(proof.PaymentIntentID)
	if intentID == "" {
		return nil, fmt.Errorf("%w: payment intent id is required", ErrInvalidRequest)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.intents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: retrieve payment intent: %w", err)
	}
	if owner := intent.Metadata[stripeOrderMetadataKey]; owner == "" || owner != strings.TrimSpace(proof.OrderID) {
		return nil, fmt.Errorf("%w: intent %s was not created for order %s", ErrCallbackNotAuthentic, intent.ID, proof.OrderID)
	}
	return intent, nil
}

func outcomeForIntent(status stripe.PaymentIntentStatus) Outcome {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

func intentResult(intent *stripe.PaymentIntent, outcome Outcome) CallbackResult {
	result := CallbackResult{
		Outcome:        outcome,
		PaymentID:      intent.ID,
		ProviderStatus: string(intent.Status),
		Reference:      Reference{OrderID: intent.Metadata[stripeOrderMetadataKey]},
	}
	if outcome == OutcomeSucceeded {
		result.AmountMinor = intent.AmountReceived
		result.HasAmount = true
	}
	if intent.LastPaymentError != nil {
		result.ErrorMessage = intent.LastPaymentError.Msg
	}
	return result
}
