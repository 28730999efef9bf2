package smmapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tdngo/boostwatch/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const requestTimeout = 15 * time.Second

// Client speaks the SMM panel API v2: form-encoded POSTs carrying the key
// and an action, JSON replies. Errors come back as {"error": "..."} with a
// 200 status, so every reply is checked for that field.
type Client struct {
	log       *zap.Logger
	transport http.RoundTripper
	baseURL   string
	timeout   time.Duration
}

func NewClient(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) *Client {
	return &Client{log: log, transport: transport, baseURL: cfg.PanelURL, timeout: requestTimeout}
}

// Service is one orderable panel service.
type Service struct {
	ID       json.Number `json:"service"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Category string      `json:"category"`
	Rate     string      `json:"rate"`
	Min      json.Number `json:"min"`
	Max      json.Number `json:"max"`
}

// OrderStatus is the panel's view of a placed order.
type OrderStatus struct {
	Charge     string      `json:"charge"`
	StartCount json.Number `json:"start_count"`
	Status     string      `json:"status"`
	Remains    json.Number `json:"remains"`
	Currency   string      `json:"currency"`
	Error      string      `json:"error"`
}

type orderReply struct {
	Order json.Number `json:"order"`
	Error string      `json:"error"`
}

type balanceReply struct {
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
	Error    string `json:"error"`
}

type refillReply struct {
	Refill json.Number `json:"refill"`
	Error  string      `json:"error"`
}

func (c *Client) post(ctx context.Context, form url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return requests.
		URL(c.baseURL).
		Transport(c.transport).
		BodyForm(form).
		ToJSON(out).
		Fetch(ctx)
}

// CreateOrder submits one order and returns the panel's order id.
func (c *Client) CreateOrder(ctx context.Context, apiKey, serviceID, link string, quantity int) (string, error) {
	form := url.Values{
		"key":      {apiKey},
		"action":   {"add"},
		"service":  {serviceID},
		"link":     {link},
		"quantity": {strconv.Itoa(quantity)},
	}

	var reply orderReply
	if err := c.post(ctx, form, &reply); err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", fmt.Errorf("panel: %s", reply.Error)
	}
	if reply.Order.String() == "" {
		return "", errors.New("panel: no order id in reply")
	}
	return reply.Order.String(), nil
}

// Balance returns the account balance.
func (c *Client) Balance(ctx context.Context, apiKey string) (float64, error) {
	var reply balanceReply
	if err := c.post(ctx, url.Values{"key": {apiKey}, "action": {"balance"}}, &reply); err != nil {
		return 0, err
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("panel: %s", reply.Error)
	}
	balance, err := strconv.ParseFloat(reply.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("panel: unparseable balance %q", reply.Balance)
	}
	return balance, nil
}

// Services lists the panel's orderable services.
func (c *Client) Services(ctx context.Context, apiKey string) ([]Service, error) {
	var services []Service
	if err := c.post(ctx, url.Values{"key": {apiKey}, "action": {"services"}}, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// Status fetches one order's current state.
func (c *Client) Status(ctx context.Context, apiKey, orderID string) (*OrderStatus, error) {
	var status OrderStatus
	form := url.Values{"key": {apiKey}, "action": {"status"}, "order": {orderID}}
	if err := c.post(ctx, form, &status); err != nil {
		return nil, err
	}
	if status.Error != "" {
		return nil, fmt.Errorf("panel: %s", status.Error)
	}
	return &status, nil
}

// Refill requests a refill on a completed order and returns the refill id.
func (c *Client) Refill(ctx context.Context, apiKey, orderID string) (string, error) {
	var reply refillReply
	form := url.Values{"key": {apiKey}, "action": {"refill"}, "order": {orderID}}
	if err := c.post(ctx, form, &reply); err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", fmt.Errorf("panel: %s", reply.Error)
	}
	return reply.Refill.String(), nil
}
