// Package broker holds the only path from this codebase to a real broker
// API, and keeps it shut. Constructing a submitting client requires two
// independent env confirmations plus the exact paper-trading endpoint;
// in the committed configuration construction always refuses.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// PaperBaseURL is the only broker endpoint this build will ever talk to.
const PaperBaseURL = "https://paper-api.alpaca.markets"

// Environment variables gating client construction.
const (
	EnvExecutionEnabled = "EXECUTION_ENABLED"
	EnvExecutionConfirm = "EXECUTION_CONFIRM"
	EnvBrokerBaseURL    = "BROKER_BASE_URL"
	EnvBrokerAPIKey     = "BROKER_API_KEY"
	EnvBrokerAPISecret  = "BROKER_API_SECRET"
)

// Refusal errors, one per failed gate.
var (
	ErrExecutionDisabled = errors.New("broker: EXECUTION_ENABLED is not true")
	ErrConfirmMissing    = errors.New("broker: EXECUTION_CONFIRM is not true")
	ErrNotPaperEndpoint  = errors.New("broker: base URL is not the paper trading endpoint")
	ErrMissingCredential = errors.New("broker: API key and secret are required")
)

// Config is everything needed to decide whether a client may exist.
type Config struct {
	BaseURL          string
	APIKey           string
	APISecret        string
	ExecutionEnabled bool
	ExecutionConfirm bool
}

// LoadConfig reads the broker gates from the environment. Both booleans
// parse strictly: anything other than the literal "true" stays false.
func LoadConfig(getenv func(string) string) Config {
	baseURL := getenv(EnvBrokerBaseURL)
	if baseURL == "" {
		baseURL = PaperBaseURL
	}
	return Config{
		BaseURL:          baseURL,
		APIKey:           getenv(EnvBrokerAPIKey),
		APISecret:        getenv(EnvBrokerAPISecret),
		ExecutionEnabled: getenv(EnvExecutionEnabled) == "true",
		ExecutionConfirm: getenv(EnvExecutionConfirm) == "true",
	}
}

// Check reports why a submitting client cannot be constructed, or nil
// when every gate passes. Gates are checked in a fixed order so refusal
// logs stay stable.
func Check(cfg Config) error {
	if !cfg.ExecutionEnabled {
		return ErrExecutionDisabled
	}
	if !cfg.ExecutionConfirm {
		return ErrConfirmMissing
	}
	if strings.TrimRight(cfg.BaseURL, "/") != PaperBaseURL {
		return fmt.Errorf("%w: %q", ErrNotPaperEndpoint, cfg.BaseURL)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return ErrMissingCredential
	}
	return nil
}

// Order is the submit request accepted by the client.
type Order struct {
	Symbol        string
	Qty           decimal.Decimal
	Side          string // "buy" | "sell"
	Type          string // "market" | "limit"
	LimitPrice    *decimal.Decimal
	TimeInForce   string // "day" | "gtc" | "ioc" | "fok"
	ClientOrderID string
}

// Client submits orders to the paper endpoint. It can only be built
// through New, which enforces the gates.
type Client struct {
	api    *alpaca.Client
	logger *slog.Logger
}

// New constructs a submitting client, or refuses with the first failing
// gate's error.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := Check(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "broker")
	}
	logger.Warn("broker execution client constructed",
		"base_url", cfg.BaseURL)
	return &Client{
		api: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		logger: logger,
	}, nil
}

// SubmitOrder places one paper order.
func (c *Client) SubmitOrder(order Order) (string, error) {
	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &order.Qty,
		Side:          alpaca.Side(order.Side),
		Type:          alpaca.OrderType(order.Type),
		TimeInForce:   alpaca.TimeInForce(order.TimeInForce),
		LimitPrice:    order.LimitPrice,
		ClientOrderID: order.ClientOrderID,
	}
	placed, err := c.api.PlaceOrder(req)
	if err != nil {
		return "", fmt.Errorf("broker: place order %s: %w", order.Symbol, err)
	}
	c.logger.Info("paper order placed",
		"order_id", placed.ID, "symbol", order.Symbol, "side", order.Side)
	return placed.ID, nil
}

// BuyingPower reads the paper account's buying power.
func (c *Client) BuyingPower() (decimal.Decimal, error) {
	acct, err := c.api.GetAccount()
	if err != nil {
		return decimal.Zero, fmt.Errorf("broker: get account: %w", err)
	}
	return acct.BuyingPower, nil
}
