package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/utils"
	"github.com/sigweihq/knowpay/pkg/x402"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(&Config{URL: server.URL + "/", UserID: "buyer-1", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil, wantErr: true},
		{name: "missing url", config: &Config{}, wantErr: true},
		{name: "plain http remote", config: &Config{URL: "http://knowpay.example"}, wantErr: true},
		{name: "https", config: &Config{URL: "https://knowpay.example"}},
		{name: "localhost", config: &Config{URL: "http://localhost:3000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultTimeout, c.httpClient.Timeout)
			assert.NotNil(t, c.Webhooks)
		})
	}
}

func TestPurchase(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/items/item-1/purchases", r.URL.Path)
		assert.Equal(t, "buyer-1", r.Header.Get("X-User-ID"))

		var req types.PurchaseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sig", req.TxHash)
		assert.Equal(t, "usdc", req.Token)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.PurchaseResponse{
			Status:      "confirmed",
			Transaction: &types.Transaction{TxHash: "sig", Status: types.TxConfirmed},
		})
	})

	resp, err := c.Purchase(context.Background(), "item-1", types.PurchaseRequest{TxHash: "sig", Token: "usdc"})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", resp.Status)
	assert.Equal(t, "sig", resp.Transaction.TxHash)
}

func TestPurchaseRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "verification_failed", Message: "amount_mismatch"})
	})

	_, err := c.Purchase(context.Background(), "item-1", types.PurchaseRequest{TxHash: "sig"})
	require.Error(t, err)

	var httpErr *utils.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnprocessableEntity, httpErr.StatusCode)
	assert.Contains(t, err.Error(), "verification_failed")
}

func TestContentPaymentRequired(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/items/item-1/content", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-PAYMENT"))

		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(x402.PaymentRequired{
			X402Version: 1,
			Accepts: []x402types.PaymentRequirements{{
				Scheme:            "exact",
				Network:           "solana-devnet",
				MaxAmountRequired: "500000000",
				Asset:             "native",
			}},
		})
	})

	_, err := c.Content(context.Background(), "item-1", nil)

	var required *PaymentRequiredError
	require.True(t, errors.As(err, &required))
	require.Len(t, required.Required.Accepts, 1)
	assert.Equal(t, "500000000", required.Required.Accepts[0].MaxAmountRequired)
	assert.Equal(t, "payment required", err.Error())
}

func TestContentWithProof(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		proof, ok := x402.ParsePaymentHeader(r.Header.Get("X-PAYMENT"))
		require.True(t, ok)
		assert.Equal(t, "sig", proof.TxHash)
		assert.Equal(t, "solana-devnet", proof.Network)

		receipt, _ := json.Marshal(map[string]any{"success": true, "transaction": "sig"})
		w.Header().Set("X-PAYMENT-RESPONSE", base64.StdEncoding.EncodeToString(receipt))
		_ = json.NewEncoder(w).Encode(Content{ID: "item-1", Title: "t", Content: "the answer"})
	})

	content, err := c.Content(context.Background(), "item-1", &types.PaymentProof{
		TxHash:  "sig",
		Network: "solana-devnet",
		Scheme:  "exact",
		Asset:   "native",
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", content.Content)
}

func TestReady(t *testing.T) {
	ready := true
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	ok, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ready = false
	ok, err = c.Ready(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWebhooks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/webhooks", func(w http.ResponseWriter, r *http.Request) {
		var req types.RegisterWebhookRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.RegisterWebhookResponse{ID: "wh-1", URL: req.URL, Events: req.Events, Secret: "whsec_x"})
	})
	mux.HandleFunc("GET /api/v1/webhooks", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"webhooks":[{"id":"wh-1","url":"https://hooks.example/in","active":true}]}`))
	})
	mux.HandleFunc("PATCH /api/v1/webhooks/wh-1", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body["active"])
		_, _ = w.Write([]byte(`{"id":"wh-1","active":false}`))
	})
	mux.HandleFunc("POST /api/v1/webhooks/wh-1/rotate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"wh-1","secret":"whsec_new"}`))
	})
	mux.HandleFunc("GET /api/v1/webhooks/wh-1/attempts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"attempts":[{"id":2,"attempt":2,"outcome":"delivered"},{"id":1,"attempt":1,"outcome":"http_500"}]}`))
	})
	mux.HandleFunc("DELETE /api/v1/webhooks/wh-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "buyer-1", r.Header.Get("X-User-ID"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /api/v1/webhooks/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := newTestClient(t, mux.ServeHTTP)
	ctx := context.Background()

	registered, err := c.Webhooks.Register(ctx, "https://hooks.example/in", []string{"purchase.completed"})
	require.NoError(t, err)
	assert.Equal(t, "whsec_x", registered.Secret)
	assert.Equal(t, []string{"purchase.completed"}, registered.Events)

	subs, err := c.Webhooks.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Active)

	require.NoError(t, c.Webhooks.SetActive(ctx, "wh-1", false))

	secret, err := c.Webhooks.RotateSecret(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "whsec_new", secret)

	attempts, err := c.Webhooks.Attempts(ctx, "wh-1", &types.HistoryParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "delivered", attempts[0].Outcome)

	require.NoError(t, c.Webhooks.Delete(ctx, "wh-1"))

	err = c.Webhooks.Delete(ctx, "missing")
	var httpErr *utils.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestAttemptsValidatesParams(t *testing.T) {
	c, err := NewClient(&Config{URL: "https://knowpay.example"})
	require.NoError(t, err)

	_, err = c.Webhooks.Attempts(context.Background(), "wh-1", &types.HistoryParams{Limit: 0})
	assert.Error(t, err)
	_, err = c.Webhooks.Attempts(context.Background(), "wh-1", &types.HistoryParams{Limit: 10, Offset: -1})
	assert.Error(t, err)
}
