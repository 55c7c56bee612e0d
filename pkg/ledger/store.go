package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sigweihq/knowpay/pkg/types"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateTxHash is returned when a transaction hash is already recorded
	ErrDuplicateTxHash = errors.New("transaction hash already recorded")

	// ErrAlreadyConfirmed is returned when the buyer already holds a confirmed purchase of the item
	ErrAlreadyConfirmed = errors.New("purchase already confirmed")
)

// Store provides the persistence used by the ledger
type Store interface {
	GetItem(ctx context.Context, itemID string) (*types.KnowledgeItem, error)
	GetWallet(ctx context.Context, userID, family string) (*types.Wallet, error)
	FindConfirmed(ctx context.Context, buyerID, itemID string) (*types.Transaction, error)
	FindByTxHash(ctx context.Context, txHash string) (*types.Transaction, error)

	// InsertPending creates tx. Returns ErrDuplicateTxHash on a tx_hash collision.
	InsertPending(ctx context.Context, tx *types.Transaction) error

	// ConfirmTransaction promotes a pending row to confirmed in one statement.
	// It reports false when the row was not pending.
	ConfirmTransaction(ctx context.Context, id uint64, confirmedKey string, at time.Time) (bool, error)

	IncrementPurchaseCount(ctx context.Context, itemID string) error
	CreateNotification(ctx context.Context, n *types.Notification) error
}

// ConfirmedKey is the value of the unique confirmed_key column of a confirmed purchase
func ConfirmedKey(buyerID, itemID string) string {
	return buyerID + ":" + itemID
}

// GormStore implements Store on gorm. The DB must be opened with
// gorm.Config{TranslateError: true} so unique violations surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a ledger store backed by GORM
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Models lists the tables owned by the ledger, for AutoMigrate
func Models() []any {
	return []any{
		&types.KnowledgeItem{},
		&types.Transaction{},
		&types.Wallet{},
		&types.Notification{},
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) GetItem(ctx context.Context, itemID string) (*types.KnowledgeItem, error) {
	var item types.KnowledgeItem
	if err := s.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *GormStore) GetWallet(ctx context.Context, userID, family string) (*types.Wallet, error) {
	var wallet types.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND family = ?", userID, family).
		First(&wallet).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &wallet, nil
}

func (s *GormStore) FindConfirmed(ctx context.Context, buyerID, itemID string) (*types.Transaction, error) {
	var tx types.Transaction
	err := s.db.WithContext(ctx).
		Where("buyer_id = ? AND item_id = ? AND status = ?", buyerID, itemID, types.TxConfirmed).
		First(&tx).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (s *GormStore) FindByTxHash(ctx context.Context, txHash string) (*types.Transaction, error) {
	var tx types.Transaction
	if err := s.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&tx).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (s *GormStore) InsertPending(ctx context.Context, tx *types.Transaction) error {
	tx.Status = types.TxPending
	tx.ConfirmedKey = nil
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateTxHash
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *GormStore) ConfirmTransaction(ctx context.Context, id uint64, confirmedKey string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&types.Transaction{}).
		Where("id = ? AND status = ?", id, types.TxPending).
		Updates(map[string]interface{}{
			"status":        types.TxConfirmed,
			"confirmed_key": confirmedKey,
			"confirmed_at":  at,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, ErrAlreadyConfirmed
		}
		return false, fmt.Errorf("failed to confirm transaction: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) IncrementPurchaseCount(ctx context.Context, itemID string) error {
	return s.db.WithContext(ctx).
		Model(&types.KnowledgeItem{}).
		Where("id = ?", itemID).
		UpdateColumn("purchase_count", gorm.Expr("purchase_count + ?", 1)).Error
}

func (s *GormStore) CreateNotification(ctx context.Context, n *types.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}
