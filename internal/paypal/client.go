// Package paypal is a small client for the PayPal OAuth2 and Orders v2
// APIs: token, create order, capture order and get order.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	liveBaseURL    = "https://api-m.paypal.com"
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"

	maxBodyBytes = 1 << 20
)

var (
	// ErrAuth means no access token could be obtained.
	ErrAuth = errors.New("paypal: could not authenticate")

	ErrNotConfigured = errors.New("paypal: client id or secret not configured")
)

// APIError is a non-success answer (or no answer) from an Orders endpoint.
type APIError struct {
	Status  int // 0 when the request never got a response
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return "paypal: " + e.Message
	}
	return fmt.Sprintf("paypal: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

type Config struct {
	Mode         string
	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration
}

type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = sandboxBaseURL
		if cfg.Mode == "live" {
			base = liveBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

func (c *Client) BaseURL() string { return c.baseURL }

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type CaptureRef struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Payments struct {
	Captures []CaptureRef `json:"captures"`
}

type PurchaseUnit struct {
	Amount      *Amount   `json:"amount,omitempty"`
	Description string    `json:"description,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type ApplicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
}

type createOrderBody struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []PurchaseUnit     `json:"purchase_units"`
	ApplicationContext ApplicationContext `json:"application_context"`
}

// Order is the subset of a PayPal order the desk reads.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// CaptureID returns purchase_units[0].payments.captures[0].id, or nil when
// any part of that path is missing.
func (o *Order) CaptureID() *string {
	if o == nil || len(o.PurchaseUnits) == 0 {
		return nil
	}
	p := o.PurchaseUnits[0].Payments
	if p == nil || len(p.Captures) == 0 || p.Captures[0].ID == "" {
		return nil
	}
	id := p.Captures[0].ID
	return &id
}

// FirstUnit returns the first purchase unit, or a zero value.
func (o *Order) FirstUnit() PurchaseUnit {
	if o == nil || len(o.PurchaseUnits) == 0 {
		return PurchaseUnit{}
	}
	return o.PurchaseUnits[0]
}

type CreateOrderRequest struct {
	// RequestID is sent as PayPal-Request-Id; PayPal answers a repeated
	// request id with the order it already created.
	RequestID   string
	Amount      Amount
	Description string
	CustomID    string
	BrandName   string
}

// AccessToken performs the client-credentials grant. Every failure,
// including timeouts, is reported as ErrAuth.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrAuth, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuth)
	}
	return payload.AccessToken, nil
}

func (c *Client) CreateOrder(ctx context.Context, in CreateOrderRequest) (*Order, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := createOrderBody{
		Intent: "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{
			Amount:      &in.Amount,
			Description: in.Description,
			CustomID:    in.CustomID,
		}},
		ApplicationContext: ApplicationContext{
			BrandName:          in.BrandName,
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
		},
	}

	status, raw, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, token, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, &APIError{Status: status, Message: errorMessage(raw)}
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil || order.ID == "" {
		return nil, &APIError{Status: status, Message: "no order id in response"}
	}
	return &order, nil
}

// CaptureOrder captures an approved order. A success answer whose body
// cannot be read is still a success: the returned order has no captures and
// CaptureID reports nil.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	status, raw, err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture",
		struct{}{}, token, "")
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, &APIError{Status: status, Message: errorMessage(raw)}
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		order = Order{}
	}
	if order.ID == "" {
		order.ID = orderID
	}
	return &order, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	status, raw, err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, token, "")
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, &APIError{Status: status, Message: errorMessage(raw)}
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, &APIError{Status: status, Message: "unreadable order", Err: err}
	}
	return &order, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, token, requestID string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("paypal: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, &APIError{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &APIError{Message: "request failed: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, &APIError{Status: resp.StatusCode, Message: "read response", Err: err}
	}
	return resp.StatusCode, raw, nil
}

func isSuccess(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated
}

func errorMessage(raw []byte) string {
	var payload struct {
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		if s := strings.TrimSpace(string(raw)); s != "" {
			return s
		}
		return "no detail"
	}
	switch {
	case payload.Message != "":
		return payload.Message
	case payload.ErrorDescription != "":
		return payload.ErrorDescription
	default:
		return "no detail"
	}
}
