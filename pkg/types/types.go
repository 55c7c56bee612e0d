package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/knowpay/pkg/constants"
)

// ItemStatus is the publication state of a knowledge item
type ItemStatus string

const (
	ItemDraft     ItemStatus = "draft"
	ItemPublished ItemStatus = "published"
	ItemArchived  ItemStatus = "archived"
	ItemSuspended ItemStatus = "suspended"
)

// ItemKind separates sellable listings from buyer requests
type ItemKind string

const (
	KindOffer   ItemKind = "offer"
	KindRequest ItemKind = "request"
)

// KnowledgeItem is a listing owned by the catalog. Settlement only reads it,
// apart from the best-effort purchase counter.
type KnowledgeItem struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	SellerID      string          `json:"sellerId" gorm:"size:64;index;not null"`
	Status        ItemStatus      `json:"status" gorm:"size:16;not null"`
	Kind          ItemKind        `json:"kind" gorm:"size:16;not null;default:offer"`
	Title         string          `json:"title" gorm:"size:255;not null"`
	Description   string          `json:"description" gorm:"type:text"`
	Content       string          `json:"-" gorm:"type:text"`
	PriceNative   decimal.Decimal `json:"priceNative" gorm:"type:decimal(36,18);not null;default:0"`
	PriceUSDC     decimal.Decimal `json:"priceUsdc" gorm:"type:decimal(36,18);not null;default:0"`
	PurchaseCount int64           `json:"purchaseCount" gorm:"not null;default:0"`
}

// PriceFor returns the item's price in the given token. Zero means not priced.
func (i *KnowledgeItem) PriceFor(token string) decimal.Decimal {
	switch token {
	case constants.TokenNative:
		return i.PriceNative
	case constants.TokenUSDC:
		return i.PriceUSDC
	}
	return decimal.Zero
}

// IsPurchasable reports whether the item can be bought at all
func (i *KnowledgeItem) IsPurchasable() bool {
	return i.Status == ItemPublished && i.Kind == KindOffer
}

// TransactionStatus is the settlement state of a purchase
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
	TxRefunded  TransactionStatus = "refunded"
)

// Transaction is one settled (or settling) purchase, keyed by its on-chain hash
type Transaction struct {
	ID          uint64            `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	TxHash      string            `json:"txHash" gorm:"size:128;uniqueIndex;not null"`
	BuyerID     string            `json:"buyerId" gorm:"size:64;index:idx_tx_buyer_item;not null"`
	ItemID      string            `json:"itemId" gorm:"size:36;index:idx_tx_buyer_item;not null"`
	SellerID    string            `json:"sellerId" gorm:"size:64;index;not null"`
	Amount      decimal.Decimal   `json:"amount" gorm:"type:decimal(36,18);not null"`
	Token       string            `json:"token" gorm:"size:16;not null"`
	Chain       string            `json:"chain" gorm:"size:32;not null"`
	Status      TransactionStatus `json:"status" gorm:"size:16;index;not null"`
	ProtocolFee decimal.Decimal   `json:"protocolFee" gorm:"type:decimal(36,18);not null;default:0"`
	FeeVault    *string           `json:"feeVault,omitempty" gorm:"size:128"`
	ConfirmedAt *time.Time        `json:"confirmedAt,omitempty"`

	// ConfirmedKey is "buyer:item" once confirmed and NULL otherwise.
	// Its unique index allows one confirmed row per buyer and item.
	ConfirmedKey *string `json:"-" gorm:"size:128;uniqueIndex"`
}

// Wallet is a user's payout/payer address for one chain family
type Wallet struct {
	UserID    string    `json:"userId" gorm:"primaryKey;size:64"`
	Family    string    `json:"family" gorm:"primaryKey;size:8"`
	Address   string    `json:"address" gorm:"size:128;not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification is an in-app message for a user
type Notification struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time  `json:"createdAt"`
	UserID    string     `json:"userId" gorm:"size:64;index;not null"`
	Kind      string     `json:"kind" gorm:"size:32;not null"`
	Title     string     `json:"title" gorm:"size:255;not null"`
	Body      string     `json:"body" gorm:"type:text"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// WebhookSubscription is a third-party endpoint receiving signed events.
// The signing secret is never stored in plaintext.
type WebhookSubscription struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	OwnerID          string    `json:"ownerId" gorm:"size:64;index;not null"`
	URL              string    `json:"url" gorm:"size:2048;not null"`
	Events           []string  `json:"events" gorm:"serializer:json;type:text;not null"`
	SecretHash       string    `json:"-" gorm:"size:64;not null"`
	SecretCiphertext []byte    `json:"-" gorm:"not null"`
	Active           bool      `json:"active" gorm:"not null;default:true"`
}

// Subscribes reports whether the subscription wants event
func (s *WebhookSubscription) Subscribes(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDeliveryAttempt is the audit record of one delivery attempt
type WebhookDeliveryAttempt struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt      time.Time `json:"createdAt"`
	SubscriptionID string    `json:"subscriptionId" gorm:"size:36;index;not null"`
	Event          string    `json:"event" gorm:"size:64;not null"`
	Attempt        int       `json:"attempt" gorm:"not null"`
	Outcome        string    `json:"outcome" gorm:"size:32;not null"`
	StatusCode     int       `json:"statusCode"`
	DurationMs     int64     `json:"durationMs"`
}

// HistoryParams represents pagination for list queries
type HistoryParams struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
