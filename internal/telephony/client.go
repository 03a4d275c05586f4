package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrProvider           = errors.New("telephony: provider error")
	ErrReleaseTooSoon     = errors.New("telephony: number cannot be released before 28 days after purchase")
)

// Client talks to the telephony/room provider's REST API. All calls carry
// the provider API key as a bearer token and a bounded timeout, matching
// the teacher's resty-based provider adapters.
type Client struct {
	http    *resty.Client
	baseURL string
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c, baseURL: baseURL}
}

func (c *Client) ListAvailableNumbers(ctx context.Context, region, city string) ([]AvailableNumber, error) {
	var out struct {
		Numbers []AvailableNumber `json:"numbers"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"region": region, "city": city}).
		SetResult(&out).
		Get("/list-available-numbers")
	if err := checkResp(resp, err); err != nil {
		return nil, err
	}
	return out.Numbers, nil
}

func (c *Client) BuyNumber(ctx context.Context, desiredNumber string) (PurchasedNumber, error) {
	var out PurchasedNumber
	body := map[string]string{}
	if desiredNumber != "" {
		body["number"] = desiredNumber
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/buy-phone-number")
	if err := checkResp(resp, err); err != nil {
		return PurchasedNumber{}, err
	}
	return out, nil
}

// ReleaseNumber releases a purchased number. The provider only allows
// release 28+ days after purchase; callers should surface ErrReleaseTooSoon
// to the operator rather than retrying immediately.
func (c *Client) ReleaseNumber(ctx context.Context, providerNumberID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/release-phone-number/%s", providerNumberID))
	if resp != nil && resp.StatusCode() == 409 {
		return ErrReleaseTooSoon
	}
	return checkResp(resp, err)
}

func (c *Client) CreateDialinConfig(ctx context.Context, cfg DialinConfig) (DialinConfig, error) {
	cfg.Type = "pinless_dialin"
	var out DialinConfig
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(cfg).
		SetResult(&out).
		Post("/domain-dialin-config")
	if err := checkResp(resp, err); err != nil {
		return DialinConfig{}, err
	}
	return out, nil
}

func (c *Client) UpdateDialinConfig(ctx context.Context, cfg DialinConfig) error {
	cfg.Type = "pinless_dialin"
	resp, err := c.http.R().SetContext(ctx).SetBody(cfg).Put("/domain-dialin-config")
	return checkResp(resp, err)
}

func (c *Client) DeleteDialinConfig(ctx context.Context, id string) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(map[string]string{"id": id}).Delete("/domain-dialin-config")
	return checkResp(resp, err)
}

// RegisterWebhooks subscribes a single domain webhook URL to every
// dialin.*/dialout.* event type, done once at process startup.
func (c *Client) RegisterWebhooks(ctx context.Context, callbackURL string) error {
	events := []string{
		EventDialinConnected, EventDialinStopped, EventDialinWarning, EventDialinError,
		EventDialoutStarted, EventDialoutConnected, EventDialoutAnswered,
		EventDialoutStopped, EventDialoutError, EventDialoutWarning,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"url": callbackURL, "events": events}).
		Post("/webhooks")
	return checkResp(resp, err)
}

func checkResp(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode(), resp.String())
	}
	return nil
}
