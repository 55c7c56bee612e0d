// Package client is a Go client for the knowpay HTTP API, used by buyer agents and sellers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/utils"
	"github.com/sigweihq/knowpay/pkg/x402"
)

const defaultTimeout = 30 * time.Second

// Config configures a Client
type Config struct {
	// URL of the knowpay API, https unless local
	URL string

	// UserID is sent as X-User-ID. In production the gateway sets it.
	UserID string

	Timeout time.Duration
}

// Client provides access to the knowpay API.
// The Webhooks sub-client shares the HTTP client and identity.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client

	// Webhooks manages the caller's webhook subscriptions
	// Endpoints: /api/v1/webhooks
	Webhooks *WebhooksClient
}

// Content is an unlocked knowledge item
type Content struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PaymentRequiredError carries the 402 body of a content request
type PaymentRequiredError struct {
	Required *x402.PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	if e.Required.Error != "" {
		return "payment required: " + e.Required.Error
	}
	return "payment required"
}

// NewClient creates a client. The URL must be https except for local development.
func NewClient(config *Config) (*Client, error) {
	if config == nil || config.URL == "" {
		return nil, errors.New("client URL is required")
	}
	if err := utils.ValidateServiceURL(config.URL); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(config.URL, "/"),
		userID:     config.UserID,
		httpClient: utils.CreateHTTPClientWithTimeouts(timeout),
	}
	c.Webhooks = &WebhooksClient{client: c}
	return c, nil
}

func (c *Client) headers() map[string]string {
	headers := map[string]string{}
	if c.userID != "" {
		headers[constants.UserIDHeader] = c.userID
	}
	return headers
}

func (c *Client) endpoint(format string, args ...any) string {
	escaped := make([]any, len(args))
	for i, arg := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(arg))
	}
	return c.baseURL + fmt.Sprintf(format, escaped...)
}

// Purchase settles a payment for itemID.
// Already confirmed purchases are returned with status already_confirmed.
func (c *Client) Purchase(ctx context.Context, itemID string, req types.PurchaseRequest) (*types.PurchaseResponse, error) {
	resp, _, err := utils.MakeJSONRequest[types.PurchaseResponse](
		ctx,
		c.httpClient,
		http.MethodPost,
		c.endpoint("/api/v1/items/%s/purchases", itemID),
		req,
		c.headers(),
	)
	return resp, err
}

// Content fetches the content of itemID. With a nil proof it succeeds only
// for items already purchased; otherwise the requirements come back as a
// *PaymentRequiredError.
func (c *Client) Content(ctx context.Context, itemID string, proof *types.PaymentProof) (*Content, error) {
	headers := c.headers()
	if proof != nil {
		header, err := x402.EncodePaymentHeader(proof, true)
		if err != nil {
			return nil, err
		}
		headers[constants.PaymentHeader] = header
	}

	content, _, err := utils.MakeJSONRequest[Content](
		ctx,
		c.httpClient,
		http.MethodGet,
		c.endpoint("/api/v1/items/%s/content", itemID),
		nil,
		headers,
	)
	if err != nil {
		var httpErr *utils.HTTPError
		if errors.As(err, &httpErr) && httpErr.IsPaymentRequired() {
			var required x402.PaymentRequired
			if jsonErr := json.Unmarshal(httpErr.Body, &required); jsonErr == nil {
				return nil, &PaymentRequiredError{Required: &required}
			}
		}
		return nil, err
	}
	return content, nil
}

// Ready reports whether the server can accept payments
func (c *Client) Ready(ctx context.Context) (bool, error) {
	_, status, err := utils.MakeJSONRequest[map[string]any](ctx, c.httpClient, http.MethodGet, c.baseURL+"/readyz", nil, nil)
	if status == http.StatusServiceUnavailable {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
