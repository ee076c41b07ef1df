// Package stripe is a minimal client for the Stripe customers API.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/entrance/internal/billing/domain"
)

const DefaultBaseURL = "https://api.stripe.com"

type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewClient(secretKey, baseURL string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      httpClient,
	}
}

type customerResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx response from Stripe.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stripe: status %d", e.StatusCode)
	}
	return fmt.Sprintf("stripe: status %d: %s", e.StatusCode, e.Message)
}

// Permanent reports whether repeating the request cannot succeed. Conflicts
// and rate limits are retried; other client errors are not.
func (e *APIError) Permanent() bool {
	if e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func (e *APIError) Unwrap() error {
	if e.Permanent() {
		return domain.ErrPermanent
	}
	return nil
}

// CreateCustomer posts a customer keyed by the request's email address.
func (c *Client) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (string, error) {
	form := url.Values{}
	form.Set("email", req.EmailAddress)
	form.Set("metadata[user_id]", req.UserID.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/customers", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload errorResponse
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Type = payload.Error.Type
			apiErr.Code = payload.Error.Code
			apiErr.Message = payload.Error.Message
		}
		return "", apiErr
	}

	var customer customerResponse
	if err := json.Unmarshal(body, &customer); err != nil {
		return "", fmt.Errorf("stripe: decode customer: %w", err)
	}
	if customer.ID == "" {
		return "", fmt.Errorf("stripe: empty customer id")
	}
	return customer.ID, nil
}
