package broker

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

	"golang.org/x/time/rate"
)

// Config holds brokerage connection settings
type Config struct {
	BaseURL            string
	APIKey             string
	APISecret          string
	TimeoutSeconds     int
	RateLimitPerMinute int
	MaxRetries         int
	BackoffBaseMs      int
}

// Client is a rate-limited brokerage REST client using service credentials
type Client struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	config      Config
}

func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("brokerage base URL is required")
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 200
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = 250
	}

	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		apiKey:    config.APIKey,
		apiSecret: config.APISecret,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 5),
		config:      config,
	}, nil
}

// GetAccount fetches the brokerage account record (status lives here)
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID), nil, &acct); err != nil {
		return nil, err
	}
	acct.Status = NormalizeStatus(string(acct.Status))
	return &acct, nil
}

// GetTradingAccount fetches balances for the account
func (c *Client) GetTradingAccount(ctx context.Context, accountID string) (*TradingAccount, error) {
	var ta TradingAccount
	path := "/v1/trading/accounts/" + url.PathEscape(accountID) + "/account"
	if err := c.do(ctx, http.MethodGet, path, nil, &ta); err != nil {
		return nil, err
	}
	return &ta, nil
}

// PlaceOrder submits an order. Requests carry a client_order_id, so a retried
// POST cannot create a second order.
func (c *Client) PlaceOrder(ctx context.Context, accountID string, req OrderRequest) (*Order, error) {
	if req.Side == "" {
		req.Side = "buy"
	}
	if req.Type == "" {
		req.Type = "market"
	}
	if req.TimeInForce == "" {
		req.TimeInForce = "day"
	}
	var order Order
	path := "/v1/trading/accounts/" + url.PathEscape(accountID) + "/orders"
	if err := c.do(ctx, http.MethodPost, path, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// do performs one API call with rate limiting and retries on 429/5xx
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(c.config.BackoffBaseMs*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.SetBasicAuth(c.apiKey, c.apiSecret)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%s %s: %w", method, path, err)
			continue
		}

		err = decodeResponse(resp, out)
		resp.Body.Close()
		if err == nil {
			return nil
		}
		lastErr = err
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return err
		}
	}
	return lastErr
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
