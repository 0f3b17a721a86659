package payments

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"strconv"
	"strings"
)

const defaultPayUEndpoint = "https://test.payu.in/_payment"

// PayUConfig configures the hosted-page gateway.
type PayUConfig struct {
	Key        string
	Salt       string
	Endpoint   string
	SuccessURL string
	FailureURL string
	Logger     Logger
}

// PayUCallback is the form PayU posts back after the hosted page completes.
type PayUCallback struct {
	Key               string
	TxnID             string
	Amount            string
	ProductInfo       string
	FirstName         string
	Email             string
	Phone             string
	Status            string
	Hash              string
	MihpayID          string
	Mode              string
	Error             string
	ErrorMessage      string
	AdditionalCharges string
	UDF               [5]string
}

func (PayUCallback) Provider() string      { return ProviderPayU }
func (c PayUCallback) Reference() Reference { return Reference{TransactionID: c.TxnID} }

// ParsePayUCallback reads a callback from flattened form or query values.
func ParsePayUCallback(values map[string]string) (PayUCallback, error) {
	cb := PayUCallback{
		Key:               values["key"],
		TxnID:             strings.TrimSpace(values["txnid"]),
		Amount:            values["amount"],
		ProductInfo:       values["productinfo"],
		FirstName:         values["firstname"],
		Email:             values["email"],
		Phone:             values["phone"],
		Status:            strings.TrimSpace(values["status"]),
		Hash:              strings.TrimSpace(values["hash"]),
		MihpayID:          values["mihpayid"],
		Mode:              values["mode"],
		Error:             values["error"],
		ErrorMessage:      values["error_Message"],
		AdditionalCharges: values["additionalCharges"],
	}
	for i := range cb.UDF {
		cb.UDF[i] = values["udf"+strconv.Itoa(i+1)]
	}
	if cb.TxnID == "" {
		return PayUCallback{}, fmt.Errorf("%w: txnid is required", ErrInvalidRequest)
	}
	if cb.Hash == "" {
		return PayUCallback{}, fmt.Errorf("%w: hash is required", ErrInvalidRequest)
	}
	return cb, nil
}

// PayUHashInput holds the fields covered by the payment request hash.
type PayUHashInput struct {
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	UDF         [5]string
}

// PayUGateway implements Gateway for PayU hosted checkout.
type PayUGateway struct {
	key        string
	salt       string
	endpoint   string
	successURL string
	failureURL string
	logger     Logger
}

var _ Gateway = (*PayUGateway)(nil)

// NewPayUGateway constructs the PayU gateway.
func NewPayUGateway(cfg PayUConfig) (*PayUGateway, error) {
	key := strings.TrimSpace(cfg.Key)
	salt := strings.TrimSpace(cfg.Salt)
	if key == "" || salt == "" {
		return nil, errors.New("payu: merchant key and salt are required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultPayUEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PayUGateway{
		key:        key,
		salt:       salt,
		endpoint:   endpoint,
		successURL: strings.TrimSpace(cfg.SuccessURL),
		failureURL: strings.TrimSpace(cfg.FailureURL),
		logger:     logger,
	}, nil
}

func (g *PayUGateway) Provider() string { return ProviderPayU }

// Initiate builds the hashed form that redirects the customer to the PayU page.
func (g *PayUGateway) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	if err := validateInitiate(req); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return Session{}, fmt.Errorf("%w: transaction id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Customer.Email) == "" || strings.TrimSpace(req.Customer.FirstName) == "" {
		return Session{}, fmt.Errorf("%w: customer first name and email are required", ErrInvalidRequest)
	}

	udf := req.UDF
	if udf[0] == "" {
		udf[0] = req.OrderID
	}
	productInfo := strings.TrimSpace(req.ProductInfo)
	if productInfo == "" {
		productInfo = "Order " + req.OrderID
	}
	input := PayUHashInput{
		TxnID:       req.TransactionID,
		Amount:      FormatPayUAmount(req.Amount),
		ProductInfo: productInfo,
		FirstName:   req.Customer.FirstName,
		Email:       req.Customer.Email,
		UDF:         udf,
	}
	hash := g.PaymentHash(input)

	fields := map[string]string{
		"key":         g.key,
		"txnid":       input.TxnID,
		"amount":      input.Amount,
		"productinfo": input.ProductInfo,
		"firstname":   input.FirstName,
		"lastname":    req.Customer.LastName,
		"email":       input.Email,
		"phone":       req.Customer.Phone,
		"surl":        g.successURL,
		"furl":        g.failureURL,
		"hash":        hash,
	}
	for i, value := range udf {
		fields["udf"+strconv.Itoa(i+1)] = value
	}

	html, err := renderPayUForm(g.endpoint, fields)
	if err != nil {
		return Session{}, err
	}
	g.logger(ctx, "payments.payu.form.created", map[string]any{
		"orderId":       req.OrderID,
		"transactionId": req.TransactionID,
	})
	return Session{
		Provider: ProviderPayU,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Redirect: &RedirectForm{
			Action: g.endpoint,
			Fields: fields,
			Hash:   hash,
			HTML:   html,
		},
	}, nil
}

// Verify checks the reverse hash and requires a success status.
func (g *PayUGateway) Verify(_ context.Context, proof Evidence) (Verification, error) {
	cb, ok := proof.(PayUCallback)
	if !ok {
		return Verification{}, ErrEvidenceMismatch
	}
	return Verification{
		OK:        g.callbackAuthentic(cb) && strings.EqualFold(cb.Status, "success"),
		PaymentID: cb.MihpayID,
	}, nil
}

// AuthenticateCallback validates the reverse hash and maps the reported status.
func (g *PayUGateway) AuthenticateCallback(ctx context.Context, evidence Evidence) (CallbackResult, error) {
	cb, ok := evidence.(PayUCallback)
	if !ok {
		return CallbackResult{}, ErrEvidenceMismatch
	}
	if !g.callbackAuthentic(cb) {
		g.logger(ctx, "payments.payu.callback.rejected", map[string]any{"transactionId": cb.TxnID})
		return CallbackResult{PaymentID: cb.MihpayID}, fmt.Errorf("%w: hash mismatch for transaction %s", ErrCallbackNotAuthentic, cb.TxnID)
	}

	result := CallbackResult{
		PaymentID:      cb.MihpayID,
		ProviderStatus: cb.Status,
		Reference:      cb.Reference(),
	}
	switch strings.ToLower(cb.Status) {
	case "success":
		amount, err := strconv.ParseFloat(strings.TrimSpace(cb.Amount), 64)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.ErrorMessage = fmt.Sprintf("unreadable amount %q", cb.Amount)
			break
		}
		result.Outcome = OutcomeSucceeded
		result.AmountMinor = MinorUnits(amount)
		result.HasAmount = true
	case "pending":
		result.Outcome = OutcomePending
	default:
		result.Outcome = OutcomeFailed
		result.ErrorMessage = firstNonEmpty(cb.ErrorMessage, cb.Error, "payment "+cb.Status)
	}
	return result, nil
}

// PaymentHash computes the request hash:
// sha512(key|txnid|amount|productinfo|firstname|email|udf1..udf5||||||salt).
func (g *PayUGateway) PaymentHash(in PayUHashInput) string {
	parts := []string{g.key, in.TxnID, in.Amount, in.ProductInfo, in.FirstName, in.Email}
	parts = append(parts, in.UDF[:]...)
	parts = append(parts, "", "", "", "", "", g.salt)
	return sha512Hex(strings.Join(parts, "|"))
}

// ResponseHash computes the reverse hash PayU sends with a callback:
// sha512([additionalCharges|]salt|status||||||udf5..udf1|email|firstname|productinfo|amount|txnid|key).
func (g *PayUGateway) ResponseHash(cb PayUCallback) string {
	parts := make([]string, 0, 18)
	if cb.AdditionalCharges != "" {
		parts = append(parts, cb.AdditionalCharges)
	}
	parts = append(parts, g.salt, cb.Status, "", "", "", "", "")
	for i := len(cb.UDF) - 1; i >= 0; i-- {
		parts = append(parts, cb.UDF[i])
	}
	parts = append(parts, cb.Email, cb.FirstName, cb.ProductInfo, cb.Amount, cb.TxnID, g.key)
	return sha512Hex(strings.Join(parts, "|"))
}

func (g *PayUGateway) callbackAuthentic(cb PayUCallback) bool {
	if cb.Hash == "" {
		return false
	}
	if cb.Key != "" && cb.Key != g.key {
		return false
	}
	expected := g.ResponseHash(cb)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(cb.Hash))) == 1
}

// FormatPayUAmount renders an amount with exactly two decimals.
func FormatPayUAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func sha512Hex(value string) string {
	sum := sha512.Sum512([]byte(value))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var payuFormTemplate = template.Must(template.New("payu").Parse(`<!DOCTYPE html>
<html>
<head><title>Redirecting to PayU</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>`))

type payuFormField struct {
	Name  string
	Value string
}

func renderPayUForm(action string, fields map[string]string) (string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	ordered := make([]payuFormField, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, payuFormField{Name: name, Value: fields[name]})
	}

	var buf bytes.Buffer
	if err := payuFormTemplate.Execute(&buf, struct {
		Action string
		Fields []payuFormField
	}{Action: action, Fields: ordered}); err != nil {
		return "", fmt.Errorf("payu: render form: %w", err)
	}
	return buf.String(), nil
}
