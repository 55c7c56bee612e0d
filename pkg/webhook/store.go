package webhook

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/sigweihq/knowpay/pkg/types"
)

var ErrNotFound = errors.New("webhook subscription not found")

// Store persists subscriptions and delivery audit records
type Store interface {
	AttemptRecorder
	Create(ctx context.Context, sub *types.WebhookSubscription) error
	Get(ctx context.Context, id string) (*types.WebhookSubscription, error)
	ListByOwner(ctx context.Context, ownerID string) ([]types.WebhookSubscription, error)
	ListActiveForEvent(ctx context.Context, ownerID, event string) ([]types.WebhookSubscription, error)
	Delete(ctx context.Context, ownerID, id string) error
	SetActive(ctx context.Context, ownerID, id string, active bool) error
	UpdateSecret(ctx context.Context, ownerID, id, secretHash string, ciphertext []byte) error
	ListAttempts(ctx context.Context, subscriptionID string, params types.HistoryParams) ([]types.WebhookDeliveryAttempt, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a webhook store backed by GORM
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Models lists the webhook tables, for AutoMigrate
func Models() []any {
	return []any{
		&types.WebhookSubscription{},
		&types.WebhookDeliveryAttempt{},
	}
}

func (s *gormStore) Create(ctx context.Context, sub *types.WebhookSubscription) error {
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create webhook subscription: %w", err)
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, id string) (*types.WebhookSubscription, error) {
	var sub types.WebhookSubscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) ListByOwner(ctx context.Context, ownerID string) ([]types.WebhookSubscription, error) {
	var subs []types.WebhookSubscription
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&subs).Error
	return subs, err
}

// ListActiveForEvent filters in Go since events are stored as a JSON column
func (s *gormStore) ListActiveForEvent(ctx context.Context, ownerID, event string) ([]types.WebhookSubscription, error) {
	var subs []types.WebhookSubscription
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND active = ?", ownerID, true).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}

	matching := subs[:0]
	for _, sub := range subs {
		if sub.Subscribes(event) {
			matching = append(matching, sub)
		}
	}
	return matching, nil
}

func (s *gormStore) Delete(ctx context.Context, ownerID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&types.WebhookSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) SetActive(ctx context.Context, ownerID, id string, active bool) error {
	return s.update(ctx, ownerID, id, map[string]interface{}{"active": active})
}

func (s *gormStore) UpdateSecret(ctx context.Context, ownerID, id, secretHash string, ciphertext []byte) error {
	return s.update(ctx, ownerID, id, map[string]interface{}{
		"secret_hash":       secretHash,
		"secret_ciphertext": ciphertext,
	})
}

func (s *gormStore) update(ctx context.Context, ownerID, id string, values map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&types.WebhookSubscription{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when values are unchanged
	var count int64
	err := s.db.WithContext(ctx).
		Model(&types.WebhookSubscription{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) RecordAttempt(ctx context.Context, attempt *types.WebhookDeliveryAttempt) error {
	return s.db.WithContext(ctx).Create(attempt).Error
}

func (s *gormStore) ListAttempts(ctx context.Context, subscriptionID string, params types.HistoryParams) ([]types.WebhookDeliveryAttempt, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 50
	}
	var attempts []types.WebhookDeliveryAttempt
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id DESC").
		Limit(params.Limit).
		Offset(params.Offset).
		Find(&attempts).Error
	return attempts, err
}
