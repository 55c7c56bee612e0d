package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/utils"
)

// WebhooksClient manages webhook subscriptions of the calling user
type WebhooksClient struct {
	client *Client
}

type listWebhooksResponse struct {
	Webhooks []types.WebhookSubscription `json:"webhooks"`
}

type listAttemptsResponse struct {
	Attempts []types.WebhookDeliveryAttempt `json:"attempts"`
}

type rotateResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// Register creates a subscription. The returned secret is never shown again.
func (w *WebhooksClient) Register(ctx context.Context, targetURL string, events []string) (*types.RegisterWebhookResponse, error) {
	resp, _, err := utils.MakeJSONRequest[types.RegisterWebhookResponse](
		ctx,
		w.client.httpClient,
		http.MethodPost,
		w.client.endpoint("/api/v1/webhooks"),
		types.RegisterWebhookRequest{URL: targetURL, Events: events},
		w.client.headers(),
	)
	return resp, err
}

func (w *WebhooksClient) List(ctx context.Context) ([]types.WebhookSubscription, error) {
	resp, _, err := utils.MakeJSONRequest[listWebhooksResponse](
		ctx,
		w.client.httpClient,
		http.MethodGet,
		w.client.endpoint("/api/v1/webhooks"),
		nil,
		w.client.headers(),
	)
	if err != nil {
		return nil, err
	}
	return resp.Webhooks, nil
}

func (w *WebhooksClient) SetActive(ctx context.Context, id string, active bool) error {
	_, _, err := utils.MakeJSONRequest[map[string]any](
		ctx,
		w.client.httpClient,
		http.MethodPatch,
		w.client.endpoint("/api/v1/webhooks/%s", id),
		map[string]bool{"active": active},
		w.client.headers(),
	)
	return err
}

// RotateSecret returns the new signing secret
func (w *WebhooksClient) RotateSecret(ctx context.Context, id string) (string, error) {
	resp, _, err := utils.MakeJSONRequest[rotateResponse](
		ctx,
		w.client.httpClient,
		http.MethodPost,
		w.client.endpoint("/api/v1/webhooks/%s/rotate", id),
		nil,
		w.client.headers(),
	)
	if err != nil {
		return "", err
	}
	return resp.Secret, nil
}

// Attempts lists recent delivery attempts, newest first
func (w *WebhooksClient) Attempts(ctx context.Context, id string, params *types.HistoryParams) ([]types.WebhookDeliveryAttempt, error) {
	if params == nil {
		params = &types.HistoryParams{Limit: 50}
	}
	if params.Limit < 1 || params.Limit > 100 {
		return nil, fmt.Errorf("limit must be between 1 and 100, got %d", params.Limit)
	}
	if params.Offset < 0 {
		return nil, fmt.Errorf("offset must be non-negative, got %d", params.Offset)
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(params.Limit))
	q.Set("offset", strconv.Itoa(params.Offset))

	resp, _, err := utils.MakeJSONRequest[listAttemptsResponse](
		ctx,
		w.client.httpClient,
		http.MethodGet,
		w.client.endpoint("/api/v1/webhooks/%s/attempts", id)+"?"+q.Encode(),
		nil,
		w.client.headers(),
	)
	if err != nil {
		return nil, err
	}
	return resp.Attempts, nil
}

// Delete removes a subscription. The 204 answer has no body.
func (w *WebhooksClient) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, w.client.endpoint("/api/v1/webhooks/%s", id), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range w.client.headers() {
		req.Header.Set(k, v)
	}

	resp, err := w.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &utils.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}
