package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoResponse struct {
	Method string `json:"method"`
	Header string `json:"header"`
	Name   string `json:"name"`
}

func TestMakeJSONRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echoResponse{
			Method: r.Method,
			Header: r.Header.Get("X-User-ID"),
			Name:   body["name"],
		})
	}))
	defer server.Close()

	client := CreateHTTPClientWithTimeouts(time.Second)
	result, status, err := MakeJSONRequest[echoResponse](
		context.Background(),
		client,
		http.MethodPost,
		server.URL,
		map[string]string{"name": "knowpay"},
		map[string]string{"X-User-ID": "buyer-1"},
	)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.MethodPost, result.Method)
	assert.Equal(t, "buyer-1", result.Header)
	assert.Equal(t, "knowpay", result.Name)
}

func TestMakeJSONRequestHTTPError(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		expectedMessage string
		paymentRequired bool
	}{
		{
			name:            "json error with message",
			status:          http.StatusConflict,
			body:            `{"error":"tx_hash_already_used","message":"this transaction hash was already used"}`,
			expectedMessage: "HTTP 409: tx_hash_already_used - this transaction hash was already used",
		},
		{
			name:            "payment required",
			status:          http.StatusPaymentRequired,
			body:            `{"x402Version":1,"accepts":[]}`,
			expectedMessage: "HTTP 402: 402 Payment Required - {\"x402Version\":1,\"accepts\":[]}",
			paymentRequired: true,
		},
		{
			name:            "empty body",
			status:          http.StatusInternalServerError,
			expectedMessage: "HTTP 500: 500 Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, status, err := MakeJSONRequest[echoResponse](context.Background(), server.Client(), http.MethodGet, server.URL, nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.status, status)

			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.expectedMessage, httpErr.Error())
			assert.Equal(t, tt.paymentRequired, httpErr.IsPaymentRequired())
		})
	}
}

func TestCreateHTTPClientWithTimeoutsDoesNotFollowRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("redirect target must not be reached")
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirector.Close()

	client := CreateHTTPClientWithTimeouts(time.Second)
	assert.Equal(t, time.Second, client.Timeout)

	resp, err := client.Get(redirector.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}
