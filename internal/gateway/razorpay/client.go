// Package razorpay is an HTTP client for the subset of the Razorpay API the
// app uses: orders for the download paywall, and contacts, fund accounts
// and payouts (RazorpayX) for author withdrawals.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/notesfy/internal/gateway"
	"github.com/sakif/notesfy/internal/observability"
)

const (
	DefaultBaseURL = "https://api.razorpay.com"
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client talks to the gateway with basic auth. Every call is bounded by the
// configured timeout as well as the caller's context.
type Client struct {
	http      *http.Client
	baseURL   string
	keyID     string
	keySecret string
	logger    *slog.Logger
}

var (
	_ gateway.OrderCreator = (*Client)(nil)
	_ gateway.PayoutClient = (*Client)(nil)
)

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		logger:    logger,
	}, nil
}

type orderBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

func (c *Client) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	var order gateway.Order
	err := c.do(ctx, "create_order", "/v1/orders", "", orderBody{
		Amount:   req.Amount.Paise(),
		Currency: req.Currency,
		Receipt:  req.Receipt,
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

type contactBody struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id,omitempty"`
}

func (c *Client) CreateContact(ctx context.Context, req gateway.ContactRequest) (*gateway.Contact, error) {
	var contact gateway.Contact
	err := c.do(ctx, "create_contact", "/v1/contacts", "", contactBody{
		Name:        req.Name,
		Email:       req.Email,
		Type:        "vendor",
		ReferenceID: req.ReferenceID,
	}, &contact)
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

type bankAccount struct {
	Name          string `json:"name"`
	IFSC          string `json:"ifsc"`
	AccountNumber string `json:"account_number"`
}

type fundAccountBody struct {
	ContactID   string      `json:"contact_id"`
	AccountType string      `json:"account_type"`
	BankAccount bankAccount `json:"bank_account"`
}

func (c *Client) CreateFundAccount(ctx context.Context, req gateway.FundAccountRequest) (*gateway.FundAccount, error) {
	var account gateway.FundAccount
	err := c.do(ctx, "create_fund_account", "/v1/fund_accounts", "", fundAccountBody{
		ContactID:   req.ContactID,
		AccountType: "bank_account",
		BankAccount: bankAccount{
			Name:          req.Name,
			IFSC:          req.IFSC,
			AccountNumber: req.AccountNumber,
		},
	}, &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

type payoutBody struct {
	AccountNumber     string `json:"account_number"`
	FundAccountID     string `json:"fund_account_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Mode              string `json:"mode"`
	Purpose           string `json:"purpose"`
	QueueIfLowBalance bool   `json:"queue_if_low_balance"`
	ReferenceID       string `json:"reference_id,omitempty"`
}

func (c *Client) CreatePayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.Payout, error) {
	var payout gateway.Payout
	err := c.do(ctx, "create_payout", "/v1/payouts", req.IdempotencyKey, payoutBody{
		AccountNumber:     req.SourceAccount,
		FundAccountID:     req.FundAccountID,
		Amount:            req.Amount.Paise(),
		Currency:          req.Currency,
		Mode:              req.Mode,
		Purpose:           req.Purpose,
		QueueIfLowBalance: true,
		ReferenceID:       req.ReferenceID,
	}, &payout)
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// errorBody is the gateway's error envelope.
type errorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// do POSTs body as JSON and decodes a 2xx response into out. Failures are
// returned as *gateway.Error so callers can tell rejections from outages.
func (c *Client) do(ctx context.Context, operation, path, idempotencyKey string, body, out any) error {
	outcome := "error"
	done := observability.TrackGatewayCall(operation)
	defer func() { done(outcome) }()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("razorpay: encoding %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("razorpay: building %s request: %w", operation, err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Payout-Idempotency", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "unavailable"
		c.logger.Warn("gateway call failed",
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return &gateway.Error{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome = "unavailable"
		return &gateway.Error{Operation: operation, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &gateway.Error{Operation: operation, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			gwErr.Code = eb.Error.Code
			gwErr.Description = eb.Error.Description
		}
		outcome = "unavailable"
		if gwErr.Rejected() {
			outcome = "rejected"
		}
		c.logger.Warn("gateway returned an error",
			slog.String("operation", operation),
			slog.Int("status", resp.StatusCode),
			slog.String("code", gwErr.Code),
			slog.Duration("duration", time.Since(start)),
		)
		return gwErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		outcome = "unavailable"
		return &gateway.Error{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	outcome = "ok"
	c.logger.Debug("gateway call succeeded",
		slog.String("operation", operation),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
