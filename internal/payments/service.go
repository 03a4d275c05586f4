package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aitelephony-platform/internal/ledger"
	"aitelephony-platform/pkg/money"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
)

var (
	ErrInvalidArgument  = errors.New("payments: invalid argument")
	ErrExternalProvider = errors.New("payments: external provider failure")
	ErrUnsupported      = errors.New("payments: processor not configured")
)

// amountToCents converts a money.Amount (scale 1e8) to whole USD cents for
// processor APIs that only speak integer cents.
func amountToCents(a money.Amount) int64 {
	return a.Int64() / 1_000_000
}

type CardConfig struct {
	Provider    string // "square" or "stripe"
	AccessToken string
	LocationID  string
	WebhookKey  string
	BaseURL     string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type CryptoConfig struct {
	APIKey    string
	IPNSecret string
	BaseURL   string
}

type ACHConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

type Service struct {
	db     *sql.DB
	ledger *ledger.Service

	card    CardConfig
	stripe  StripeConfig
	crypto  CryptoConfig
	ach     ACHConfig
	public  string // PUBLIC_BASE_URL, used for success/cancel/callback URLs

	httpClient func(baseURL string) *resty.Client
	clock      func() time.Time
}

func NewService(db *sql.DB, ledgerSvc *ledger.Service, card CardConfig, stripeCfg StripeConfig, crypto CryptoConfig, ach ACHConfig, publicBaseURL string) *Service {
	if stripeCfg.SecretKey != "" {
		stripe.Key = stripeCfg.SecretKey
	}
	return &Service{
		db: db, ledger: ledgerSvc, card: card, stripe: stripeCfg, crypto: crypto, ach: ach, public: publicBaseURL,
		httpClient: func(baseURL string) *resty.Client {
			return resty.New().SetBaseURL(baseURL).SetTimeout(20 * time.Second)
		},
		clock: time.Now,
	}
}

// CreatePaymentLink satisfies internal/actions.PaymentLinkCreator, routing
// to whichever card processor CARD_PAYMENT_PROVIDER names.
func (s *Service) CreatePaymentLink(ctx context.Context, userID string, amount money.Amount, description string) (string, string, error) {
	if userID == "" || amount.IsZero() || amount.IsNegative() {
		return "", "", ErrInvalidArgument
	}
	id := uuid.NewString()
	now := s.clock().UTC()
	req := PaymentRequest{
		ID: id, UserID: userID, AmountCents: amountToCents(amount), Currency: "usd",
		Description: description, Status: PaymentStatusPending, CreatedAt: now, UpdatedAt: now,
	}

	var url, providerID string
	var err error
	switch strings.ToLower(s.card.Provider) {
	case "stripe":
		req.Provider = ProviderStripe
		url, providerID, err = s.createStripeCheckout(ctx, id, userID, req.AmountCents, description)
	case "square", "":
		req.Provider = ProviderSquare
		url, providerID, err = s.createSquarePaymentLink(ctx, id, req.AmountCents, description)
	default:
		return "", "", fmt.Errorf("%w: unknown card processor %q", ErrUnsupported, s.card.Provider)
	}
	if err != nil {
		return "", "", err
	}
	req.PaymentURL = url
	req.ProviderCheckoutID = providerID
	if err := insertPaymentRequest(ctx, s.db, req); err != nil {
		return "", "", err
	}
	return url, providerID, nil
}

// createSquarePaymentLink posts to the Square-style online-checkout API:
// POST /v2/online-checkout/payment-links with an idempotency key.
func (s *Service) createSquarePaymentLink(ctx context.Context, idempotencyKey string, amountCents int64, description string) (url, providerID string, err error) {
	if s.card.AccessToken == "" || s.card.LocationID == "" {
		return "", "", fmt.Errorf("%w: square", ErrUnsupported)
	}
	body := map[string]any{
		"idempotency_key": idempotencyKey,
		"quick_pay": map[string]any{
			"name":        description,
			"price_money": map[string]any{"amount": amountCents, "currency": "USD"},
			"location_id": s.card.LocationID,
		},
	}
	var out struct {
		PaymentLink struct {
			URL     string `json:"url"`
			ID      string `json:"id"`
			OrderID string `json:"order_id"`
		} `json:"payment_link"`
	}
	client := s.httpClient(s.card.BaseURL)
	resp, err := client.R().SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.card.AccessToken).
		SetBody(body).SetResult(&out).
		Post("/v2/online-checkout/payment-links")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return "", "", fmt.Errorf("%w: square status %d: %s", ErrExternalProvider, resp.StatusCode(), resp.String())
	}
	// The order_id, not the payment link id, is what the payment.updated
	// webhook references, so that's what provider_checkout_id is keyed on.
	return out.PaymentLink.URL, out.PaymentLink.OrderID, nil
}

// createStripeCheckout creates a Checkout Session with client_reference_id =
// "st-{user_id}-{billing_id}" so the webhook can recover the local payment
// request even if metadata is stripped in transit.
func (s *Service) createStripeCheckout(ctx context.Context, billingID, userID string, amountCents int64, description string) (url, providerID string, err error) {
	if s.stripe.SecretKey == "" {
		return "", "", fmt.Errorf("%w: stripe", ErrUnsupported)
	}
	clientRef := fmt.Sprintf("st-%s-%s", userID, billingID)
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(amountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(description),
				},
			},
		}},
		SuccessURL:        stripe.String(s.public + "/payments/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.public + "/payments/cancel"),
		ClientReferenceID: stripe.String(clientRef),
	}
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	return sess.URL, sess.ID, nil
}

// CreateCryptoInvoice posts {price_amount, price_currency, order_id,
// ipn_callback_url, success_url, cancel_url} to the crypto processor.
func (s *Service) CreateCryptoInvoice(ctx context.Context, userID string, amount money.Amount, description string) (PaymentRequest, error) {
	if s.crypto.APIKey == "" {
		return PaymentRequest{}, fmt.Errorf("%w: crypto", ErrUnsupported)
	}
	id := uuid.NewString()
	orderID := fmt.Sprintf("np-%s-%s", userID, id)
	body := map[string]any{
		"price_amount":      amount.Float64(),
		"price_currency":    "usd",
		"order_id":          orderID,
		"ipn_callback_url":  s.public + "/webhooks/crypto",
		"success_url":       s.public + "/payments/success",
		"cancel_url":        s.public + "/payments/cancel",
	}
	var out struct {
		ID         string `json:"id"`
		InvoiceURL string `json:"invoice_url"`
	}
	resp, err := s.httpClient(s.crypto.BaseURL).R().SetContext(ctx).
		SetHeader("x-api-key", s.crypto.APIKey).SetBody(body).SetResult(&out).
		Post("/invoice")
	if err != nil {
		return PaymentRequest{}, fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return PaymentRequest{}, fmt.Errorf("%w: crypto status %d: %s", ErrExternalProvider, resp.StatusCode(), resp.String())
	}
	now := s.clock().UTC()
	req := PaymentRequest{
		ID: id, UserID: userID, Provider: ProviderCrypto, AmountCents: amountToCents(amount),
		Currency: "usd", Description: description, PaymentURL: out.InvoiceURL, ProviderCheckoutID: out.ID,
		Status: PaymentStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := insertPaymentRequest(ctx, s.db, req); err != nil {
		return PaymentRequest{}, err
	}
	return req, nil
}

// CreateACHInvoice logs in for a v3 bearer session, creates an invoice, then
// requests its hosted payment link.
func (s *Service) CreateACHInvoice(ctx context.Context, userID string, amount money.Amount, description string) (PaymentRequest, error) {
	if s.ach.APIKey == "" {
		return PaymentRequest{}, fmt.Errorf("%w: ach", ErrUnsupported)
	}
	client := s.httpClient(s.ach.BaseURL)
	var invoiceOut struct {
		ID string `json:"id"`
	}
	resp, err := client.R().SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.ach.APIKey).
		SetBody(map[string]any{"amount": amount.Float64(), "description": description}).
		SetResult(&invoiceOut).
		Post("/v3/invoices")
	if err != nil {
		return PaymentRequest{}, fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return PaymentRequest{}, fmt.Errorf("%w: ach invoice status %d: %s", ErrExternalProvider, resp.StatusCode(), resp.String())
	}

	var linkOut struct {
		URL string `json:"url"`
	}
	resp, err = client.R().SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.ach.APIKey).
		SetResult(&linkOut).
		Post(fmt.Sprintf("/v3/invoices/%s/payment-link", invoiceOut.ID))
	if err != nil {
		return PaymentRequest{}, fmt.Errorf("%w: %v", ErrExternalProvider, err)
	}
	if resp.IsError() {
		return PaymentRequest{}, fmt.Errorf("%w: ach payment-link status %d: %s", ErrExternalProvider, resp.StatusCode(), resp.String())
	}

	id := uuid.NewString()
	now := s.clock().UTC()
	req := PaymentRequest{
		ID: id, UserID: userID, Provider: ProviderACH, AmountCents: amountToCents(amount),
		Currency: "usd", Description: description, PaymentURL: linkOut.URL, ProviderCheckoutID: invoiceOut.ID,
		Status: PaymentStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := insertPaymentRequest(ctx, s.db, req); err != nil {
		return PaymentRequest{}, err
	}
	return req, nil
}

// credit records the deposit row (idempotent on provider+remote_id), claims
// it for crediting (idempotent on the credited flag), and posts the ledger
// credit. Safe to call repeatedly for the same remote event.
func (s *Service) credit(ctx context.Context, provider Provider, remoteID, localOrderID, userID string, amountCents int64, status string, rawPayload string) error {
	d, err := upsertDeposit(ctx, s.db, IncomingDeposit{
		ID: uuid.NewString(), Provider: provider, RemoteID: remoteID, LocalOrderID: localOrderID,
		UserID: userID, AmountCents: amountCents, Status: status, RawPayload: rawPayload, CreatedAt: s.clock().UTC(),
	})
	if err != nil {
		return err
	}
	claimed, ok, err := claimDepositForCredit(ctx, s.db, d.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil // already credited by a prior delivery of this same event
	}
	amount := money.FromFloat(float64(claimed.AmountCents) / 100)
	_, err = s.ledger.Credit(ctx, claimed.UserID, amount, "payment processor deposit: "+string(provider), string(provider), claimed.RemoteID)
	return err
}

// HandleSquareWebhook processes payment.updated / order.updated events,
// crediting on status COMPLETED. The caller (internal/webhookverify) is
// responsible for verifying the HMAC-SHA256 signature before this is called.
func (s *Service) HandleSquareWebhook(ctx context.Context, body []byte) error {
	var evt struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				Payment struct {
					ID        string `json:"id"`
					OrderID   string `json:"order_id"`
					AmountMoney struct {
						Amount int64 `json:"amount"`
					} `json:"amount_money"`
					Status string `json:"status"`
				} `json:"payment"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: square webhook decode: %v", ErrExternalProvider, err)
	}
	p := evt.Data.Object.Payment
	if p.Status != "COMPLETED" {
		return nil
	}
	req, err := s.findPaymentRequestByCheckoutID(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if err := markPaymentRequestPaid(ctx, s.db, req.ID, p.ID, s.clock().UTC()); err != nil {
		return err
	}
	return s.credit(ctx, ProviderSquare, p.ID, req.ID, req.UserID, p.AmountMoney.Amount, p.Status, string(body))
}

// HandleStripeWebhook processes checkout.session.completed /
// checkout.session.expired events. Signature verification happens upstream
// (internal/webhookverify wraps stripe-go's webhook.ConstructEventWithTolerance).
func (s *Service) HandleStripeWebhook(ctx context.Context, eventType string, body []byte) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(body, &sess); err != nil {
		return fmt.Errorf("%w: stripe webhook decode: %v", ErrExternalProvider, err)
	}
	userID, billingID, ok := parseClientReference(sess.ClientReferenceID)
	if !ok {
		return fmt.Errorf("%w: unrecognized client_reference_id %q", ErrExternalProvider, sess.ClientReferenceID)
	}
	switch eventType {
	case "checkout.session.completed":
		if err := markPaymentRequestPaid(ctx, s.db, billingID, sess.PaymentIntent.ID, s.clock().UTC()); err != nil {
			return err
		}
		return s.credit(ctx, ProviderStripe, sess.ID, billingID, userID, sess.AmountTotal, "completed", string(body))
	case "checkout.session.expired":
		return markPaymentRequestStatus(ctx, s.db, billingID, PaymentStatusExpired, s.clock().UTC())
	default:
		return nil
	}
}

// HandleCryptoIPN credits only on status=="finished", per the crypto
// processor's IPN lifecycle.
func (s *Service) HandleCryptoIPN(ctx context.Context, body []byte) error {
	var ipn struct {
		OrderID       string `json:"order_id"`
		PaymentID     string `json:"payment_id"`
		PaymentStatus string `json:"payment_status"`
		PriceAmount   float64 `json:"price_amount"`
	}
	if err := json.Unmarshal(body, &ipn); err != nil {
		return fmt.Errorf("%w: crypto ipn decode: %v", ErrExternalProvider, err)
	}
	if ipn.PaymentStatus != "finished" {
		return nil
	}
	userID, billingID, ok := parseClientReference(ipn.OrderID)
	if !ok {
		return fmt.Errorf("%w: unrecognized order_id %q", ErrExternalProvider, ipn.OrderID)
	}
	if err := markPaymentRequestPaid(ctx, s.db, billingID, ipn.PaymentID, s.clock().UTC()); err != nil {
		return err
	}
	return s.credit(ctx, ProviderCrypto, ipn.PaymentID, billingID, userID, int64(ipn.PriceAmount*100), ipn.PaymentStatus, string(body))
}

// HandleACHWebhook credits only when status == "PAID_IN_FULL".
func (s *Service) HandleACHWebhook(ctx context.Context, body []byte) error {
	var evt struct {
		Type string `json:"type"`
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Amount int64  `json:"amount_cents"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: ach webhook decode: %v", ErrExternalProvider, err)
	}
	if evt.Data.Status != "PAID_IN_FULL" {
		return nil
	}
	req, err := s.findPaymentRequestByCheckoutID(ctx, evt.Data.ID)
	if err != nil {
		return err
	}
	if err := markPaymentRequestPaid(ctx, s.db, req.ID, evt.Data.ID, s.clock().UTC()); err != nil {
		return err
	}
	return s.credit(ctx, ProviderACH, evt.Data.ID, req.ID, req.UserID, evt.Data.Amount, evt.Data.Status, string(body))
}

func (s *Service) findPaymentRequestByCheckoutID(ctx context.Context, providerCheckoutID string) (PaymentRequest, error) {
	const q = `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE provider_checkout_id = $1`
	return scanPaymentRequest(s.db.QueryRowContext(ctx, q, providerCheckoutID))
}

// parseClientReference splits "st-{user_id}-{billing_id}" or
// "np-{user_id}-{billing_id}" back into its parts.
func parseClientReference(ref string) (userID, billingID string, ok bool) {
	prefix, rest, found := strings.Cut(ref, "-")
	if !found || (prefix != "st" && prefix != "np") {
		return "", "", false
	}
	// Both ids are uuids and contain '-' themselves; the billing id is the
	// trailing 36 characters, preceded by one '-' separator.
	if len(rest) < 38 || rest[len(rest)-37] != '-' {
		return "", "", false
	}
	return rest[:len(rest)-37], rest[len(rest)-36:], true
}
