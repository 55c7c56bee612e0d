// Package webhook delivers signed event notifications to subscriber endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/utils"
)

// Kind classifies the outcome of one delivery attempt
type Kind string

const (
	KindDelivered       Kind = "delivered"
	KindHTTPStatus      Kind = "http_status"
	KindTimeout         Kind = "timeout"
	KindNetworkError    Kind = "network_error"
	KindSSRFRejected    Kind = "ssrf_rejected"
	KindNoSigningSecret Kind = "no_signing_secret"
	KindDecryptFailed   Kind = "decrypt_failed"
	KindInvalidPayload  Kind = "invalid_payload"
)

// Attempt is the outcome of a single delivery
type Attempt struct {
	Kind       Kind
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Succeeded reports a 2xx answer
func (a Attempt) Succeeded() bool {
	return a.Kind == KindDelivered
}

// Terminal reports failures that retrying cannot fix
func (a Attempt) Terminal() bool {
	switch a.Kind {
	case KindSSRFRejected, KindNoSigningSecret, KindDecryptFailed, KindInvalidPayload:
		return true
	case KindHTTPStatus:
		switch a.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity:
			return true
		}
	}
	return false
}

// Outcome is the audit label of the attempt
func (a Attempt) Outcome() string {
	return string(a.Kind)
}

// Event is one notification
type Event struct {
	Name      string
	Data      map[string]any
	Timestamp time.Time
}

// payload is the JSON body subscribers receive
type payload struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// EncodeEvent renders the delivery body
func EncodeEvent(event Event) ([]byte, error) {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(payload{
		Event:     event.Name,
		Data:      data,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	})
}

// DispatcherOptions tunes delivery. Zero values use safe defaults.
type DispatcherOptions struct {
	Timeout  time.Duration
	Resolver Resolver
	// AllowIP overrides IsPublicIP, for tests against local servers
	AllowIP IPPolicy
}

// Dispatcher performs single delivery attempts
type Dispatcher struct {
	sealer   *Sealer
	timeout  time.Duration
	resolver Resolver
	allowIP  IPPolicy
	logger   *slog.Logger
}

func NewDispatcher(sealer *Sealer, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.WebhookTimeout
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.AllowIP == nil {
		opts.AllowIP = IsPublicIP
	}
	return &Dispatcher{
		sealer:   sealer,
		timeout:  opts.Timeout,
		resolver: opts.Resolver,
		allowIP:  opts.AllowIP,
		logger:   logger,
	}
}

// DispatchWebhook delivers event to sub once. The host is resolved again
// right before connecting and the connection is pinned to the checked address.
func (d *Dispatcher) DispatchWebhook(ctx context.Context, sub *types.WebhookSubscription, event Event) Attempt {
	start := time.Now()
	attempt := d.dispatch(ctx, sub, event)
	attempt.Duration = time.Since(start)
	return attempt
}

func (d *Dispatcher) dispatch(ctx context.Context, sub *types.WebhookSubscription, event Event) Attempt {
	if len(sub.SecretCiphertext) == 0 || d.sealer == nil {
		return Attempt{Kind: KindNoSigningSecret}
	}
	secret, err := d.sealer.Open(sub.SecretCiphertext)
	if err != nil || secret == "" {
		return Attempt{Kind: KindDecryptFailed, Err: err}
	}

	body, err := EncodeEvent(event)
	if err != nil {
		return Attempt{Kind: KindInvalidPayload, Err: err}
	}

	target, err := parseTarget(sub.URL)
	if err != nil {
		return Attempt{Kind: KindSSRFRejected, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ip, err := resolvePinned(ctx, d.resolver, d.allowIP, target.Hostname())
	if err != nil {
		if errors.Is(err, ErrPrivateIP) {
			d.logger.Warn("webhook target rejected", "subscription_id", sub.ID, "error", err)
			return Attempt{Kind: KindSSRFRejected, Err: err}
		}
		return classifyError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return Attempt{Kind: KindInvalidPayload, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "knowpay-webhooks/1")
	req.Header.Set(constants.WebhookEventHeader, event.Name)
	req.Header.Set(constants.WebhookSignatureHeader, Sign(secret, body))

	resp, err := d.pinnedClient(ip).Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Attempt{Kind: KindDelivered, StatusCode: resp.StatusCode}
	}
	return Attempt{Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
}

// pinnedClient dials ip whatever address the transport asks for.
// TLS still verifies the certificate against the URL host.
func (d *Dispatcher) pinnedClient(ip net.IP) *http.Client {
	client := utils.CreateHTTPClientWithTimeouts(d.timeout)
	dialer := &net.Dialer{Timeout: d.timeout}

	transport := client.Transport.(*http.Transport)
	transport.Proxy = nil
	transport.DisableKeepAlives = true
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
	}
	return client
}

func classifyError(err error) Attempt {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Attempt{Kind: KindTimeout, Err: err}
	}
	return Attempt{Kind: KindNetworkError, Err: err}
}
