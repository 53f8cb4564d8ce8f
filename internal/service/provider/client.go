package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/walletapi/internal/logger"
)

const (
	CodeRetryAfter = "retry-after"
	CodeNoContent  = "no-content"
	CodeUnknown    = "unknown"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultRetryAfter     = 60 // seconds
)

// Payment statuses reported by provider gateway
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

type Error struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, retryAfter int, err error) *Error {
	return &Error{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

type Payment struct {
	TopupID        string `json:"topup_id"`
	Status         string `json:"status"`
	ProviderRef    string `json:"provider_ref,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// Client polls payment gateway for topup payment state
type Client struct {
	Addr string

	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, l logger.Logger) *Client {
	return &Client{
		Addr:   strings.TrimRight(addr, "/"),
		client: &http.Client{},
		logger: l,
	}
}

func (c *Client) GetPayment(ctx context.Context, topupID string) (Payment, error) {
	var p Payment

	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Addr+"/api/payments/"+url.PathEscape(topupID), nil)
	if err != nil {
		return p, NewError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return p, NewError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return c.processSuccess(resp)
	case http.StatusTooManyRequests:
		return p, c.processTooManyRequests(resp)
	case http.StatusNoContent:
		return p, NewError(CodeNoContent, 0, fmt.Errorf("no payment for topup %s", topupID))
	default:
		c.logger.Warn("Failed to get payment", "status_code", resp.StatusCode, "topup_id", topupID)
		return p, NewError(CodeUnknown, 0, fmt.Errorf("unknown status code %d for topup %s", resp.StatusCode, topupID))
	}
}

func (c *Client) processSuccess(resp *http.Response) (Payment, error) {
	var p Payment
	err := json.NewDecoder(resp.Body).Decode(&p)
	if err != nil {
		c.logger.Warn("Failed to decode response", "error", err)
		return p, NewError(CodeUnknown, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	c.logger.Debug("Payment response", "topup_id", p.TopupID, "status", p.Status, "provider_ref", p.ProviderRef)
	return p, nil
}

func (c *Client) processTooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}

	c.logger.Warn("Payment gateway throttled", "retry_after", retryAfter)
	return NewError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}
