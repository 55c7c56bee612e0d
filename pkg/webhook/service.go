package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sigweihq/knowpay/pkg/types"
)

var ErrInvalidRequest = errors.New("invalid webhook registration")

// Service manages webhook subscriptions for their owners
type Service struct {
	store    Store
	sealer   *Sealer
	resolver Resolver
	allowIP  IPPolicy
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates the subscription service. Resolver and AllowIP follow
// the same defaults as the dispatcher.
func NewService(store Store, sealer *Sealer, opts DispatcherOptions, logger *slog.Logger) *Service {
	d := NewDispatcher(sealer, opts, logger)
	return &Service{
		store:    store,
		sealer:   sealer,
		resolver: d.resolver,
		allowIP:  d.allowIP,
		validate: validator.New(),
		logger:   d.logger,
	}
}

// Register creates a subscription. The plaintext secret is only ever in the response.
// The address check here is advisory; delivery resolves and checks again.
func (s *Service) Register(ctx context.Context, ownerID string, req types.RegisterWebhookRequest) (*types.RegisterWebhookResponse, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	target, err := parseTarget(req.URL)
	if err != nil {
		return nil, err
	}
	if _, err := resolvePinned(ctx, s.resolver, s.allowIP, target.Hostname()); err != nil {
		if errors.Is(err, ErrPrivateIP) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal secret: %w", err)
	}

	sub := &types.WebhookSubscription{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		URL:              target.String(),
		Events:           dedupe(req.Events),
		SecretHash:       HashSecret(secret),
		SecretCiphertext: sealed,
		Active:           true,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("webhook registered", "subscription_id", sub.ID, "owner_id", ownerID, "events", sub.Events)
	return &types.RegisterWebhookResponse{
		ID:     sub.ID,
		URL:    sub.URL,
		Events: sub.Events,
		Secret: secret,
	}, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]types.WebhookSubscription, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info("webhook deleted", "subscription_id", id, "owner_id", ownerID)
	return nil
}

func (s *Service) SetActive(ctx context.Context, ownerID, id string, active bool) error {
	return s.store.SetActive(ctx, ownerID, id, active)
}

// RotateSecret replaces the signing secret and returns the new plaintext once
func (s *Service) RotateSecret(ctx context.Context, ownerID, id string) (string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return "", fmt.Errorf("failed to seal secret: %w", err)
	}
	if err := s.store.UpdateSecret(ctx, ownerID, id, HashSecret(secret), sealed); err != nil {
		return "", err
	}
	s.logger.Info("webhook secret rotated", "subscription_id", id, "owner_id", ownerID)
	return secret, nil
}

// Attempts lists the delivery audit trail of a subscription owned by ownerID
func (s *Service) Attempts(ctx context.Context, ownerID, id string, params types.HistoryParams) ([]types.WebhookDeliveryAttempt, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return s.store.ListAttempts(ctx, id, params)
}

func dedupe(events []string) []string {
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
