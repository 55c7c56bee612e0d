// Package ledger records purchases exactly once per verified on-chain transaction.
//
// The unique tx_hash column decides every race: a collision on insert is an
// expected outcome that is re-checked, never reported as an internal error.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/units"
	"github.com/sigweihq/knowpay/pkg/verifier"
)

// Status is the outcome of a settlement attempt
type Status string

const (
	StatusConfirmed        Status = "confirmed"
	StatusAlreadyConfirmed Status = "already_confirmed"
	StatusRejected         Status = "rejected"
)

// Reason explains a rejection. Values are safe to show to callers.
type Reason string

const (
	ReasonInvalidRequest       Reason = "invalid_request"
	ReasonInvalidTxHash        Reason = "invalid_tx_hash"
	ReasonUnsupportedNetwork   Reason = "unsupported_network"
	ReasonUnsupportedToken     Reason = "unsupported_token"
	ReasonTxHashAlreadyUsed    Reason = "tx_hash_already_used"
	ReasonItemNotFound         Reason = "item_not_found"
	ReasonItemNotPurchasable   Reason = "item_not_purchasable"
	ReasonSelfPurchase         Reason = "self_purchase"
	ReasonTokenNotPriced       Reason = "token_not_priced"
	ReasonWalletsNotConfigured Reason = "wallets_not_configured"
	ReasonVerificationFailed   Reason = "verification_failed"
	ReasonConfirmationFailed   Reason = "confirmation_failed"
	ReasonTransactionNotFound  Reason = "transaction_not_found"
	ReasonNotPending           Reason = "not_pending"
)

// Messages are the generic caller facing texts per reason
var Messages = map[Reason]string{
	ReasonInvalidRequest:       "the request is missing required fields",
	ReasonInvalidTxHash:        "the transaction hash is malformed",
	ReasonUnsupportedNetwork:   "this network is not supported",
	ReasonUnsupportedToken:     "this token is not supported",
	ReasonTxHashAlreadyUsed:    "this transaction hash was already used",
	ReasonItemNotFound:         "item not found",
	ReasonItemNotPurchasable:   "this item cannot be purchased",
	ReasonSelfPurchase:         "you cannot purchase your own item",
	ReasonTokenNotPriced:       "this item has no price in the selected token",
	ReasonWalletsNotConfigured: "buyer and seller wallets must be configured",
	ReasonVerificationFailed:   "payment verification failed",
	ReasonConfirmationFailed:   "the payment was verified but could not be confirmed yet, please retry",
	ReasonTransactionNotFound:  "transaction not found",
	ReasonNotPending:           "transaction is not pending",
}

// Message returns the generic text for r
func (r Reason) Message() string {
	if m, ok := Messages[r]; ok {
		return m
	}
	return "request rejected"
}

// PurchaseRequest identifies one settlement attempt. The amount always comes from the item.
type PurchaseRequest struct {
	BuyerID string
	ItemID  string
	TxHash  string
	Token   string
	Chain   string
}

// Outcome is the structured result of RecordPurchase
type Outcome struct {
	Status      Status
	Reason      Reason
	Transaction *types.Transaction
}

func rejected(reason Reason) *Outcome {
	return &Outcome{Status: StatusRejected, Reason: reason}
}

// Verifier checks a claimed payment on-chain
type Verifier interface {
	Verify(ctx context.Context, req verifier.Request) verifier.Result
}

// EventPublisher receives purchase.completed events
type EventPublisher interface {
	Publish(ctx context.Context, ownerID, event string, data map[string]any)
}

// Options configures the ledger
type Options struct {
	// Network used when a request does not name a chain
	Network string

	ProgramID      string
	FeeVault       string
	FeeBasisPoints int

	// SideEffectTimeout bounds each background task after a confirmation
	SideEffectTimeout time.Duration
}

// Ledger is the purchase settlement state machine
type Ledger struct {
	store     Store
	verifier  Verifier
	registry  *chains.Registry
	publisher EventPublisher
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	tasks     sync.WaitGroup
}

// New creates a ledger. publisher may be nil.
func New(store Store, v Verifier, registry *chains.Registry, publisher EventPublisher, opts Options, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = constants.WebhookTimeout
	}
	return &Ledger{
		store:     store,
		verifier:  v,
		registry:  registry,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordPurchase turns a verified on-chain payment into a confirmed purchase.
// Rejections are returned as outcomes; the error is reserved for store failures.
func (l *Ledger) RecordPurchase(ctx context.Context, req PurchaseRequest) (*Outcome, error) {
	if req.BuyerID == "" || req.ItemID == "" || req.TxHash == "" {
		return rejected(ReasonInvalidRequest), nil
	}
	if req.Token == "" {
		req.Token = constants.TokenNative
	}
	if req.Chain == "" {
		req.Chain = l.opts.Network
	}

	reader, err := l.registry.Get(req.Chain)
	if err != nil {
		return rejected(ReasonUnsupportedNetwork), nil
	}
	if err := reader.ValidateTxHash(req.TxHash); err != nil {
		return rejected(ReasonInvalidTxHash), nil
	}
	// tx_hash is unique in its canonical form only
	req.TxHash = reader.NormalizeTxHash(req.TxHash)

	token, err := verifier.ResolveToken(req.Chain, req.Token)
	if err != nil {
		return rejected(ReasonUnsupportedToken), nil
	}

	log := l.logger.With("buyer_id", req.BuyerID, "item_id", req.ItemID, "tx_hash", req.TxHash, "chain", req.Chain)

	// Fast path, repeated client retries cost no RPC call
	existing, err := l.store.FindConfirmed(ctx, req.BuyerID, req.ItemID)
	if err == nil {
		return &Outcome{Status: StatusAlreadyConfirmed, Transaction: existing}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up confirmed purchase: %w", err)
	}

	if outcome, err := l.checkHashReuse(ctx, req); outcome != nil || err != nil {
		return outcome, err
	}

	item, err := l.store.GetItem(ctx, req.ItemID)
	if errors.Is(err, ErrNotFound) {
		return rejected(ReasonItemNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	if !item.IsPurchasable() {
		log.Warn("item not purchasable", "status", item.Status, "kind", item.Kind)
		return rejected(ReasonItemNotPurchasable), nil
	}
	if item.SellerID == req.BuyerID {
		return rejected(ReasonSelfPurchase), nil
	}
	price := item.PriceFor(req.Token)
	if !price.IsPositive() {
		return rejected(ReasonTokenNotPriced), nil
	}

	buyerWallet, sellerWallet, err := l.wallets(ctx, reader, req.BuyerID, item.SellerID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("wallets not configured", "seller_id", item.SellerID)
		return rejected(ReasonWalletsNotConfigured), nil
	}
	if err != nil {
		return nil, err
	}

	result := l.verifier.Verify(ctx, verifier.Request{
		TxHash:            req.TxHash,
		Network:           req.Chain,
		Token:             token,
		ExpectedSender:    buyerWallet.Address,
		ExpectedRecipient: sellerWallet.Address,
		ExpectedAmount:    price,
		FeeVault:          l.opts.FeeVault,
		ProgramID:         l.opts.ProgramID,
		FeeBasisPoints:    l.opts.FeeBasisPoints,
	})
	if !result.Valid {
		log.Warn("payment verification failed", "reason", result.Reason)
		return rejected(ReasonVerificationFailed), nil
	}

	tx := &types.Transaction{
		TxHash:   req.TxHash,
		BuyerID:  req.BuyerID,
		ItemID:   req.ItemID,
		SellerID: item.SellerID,
		Amount:   price,
		Token:    req.Token,
		Chain:    req.Chain,
	}
	if err := l.applyFeeSplit(reader, tx, token); err != nil {
		return nil, err
	}

	if err := l.store.InsertPending(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicateTxHash) {
			// A concurrent request inserted the same hash first
			outcome, err := l.checkHashReuse(ctx, req)
			if err != nil {
				return nil, err
			}
			if outcome != nil {
				return outcome, nil
			}
			return nil, fmt.Errorf("transaction %s collided but is not readable", req.TxHash)
		}
		return nil, err
	}

	return l.confirm(ctx, tx, item), nil
}

// checkHashReuse returns a non-nil outcome when txHash is already recorded
func (l *Ledger) checkHashReuse(ctx context.Context, req PurchaseRequest) (*Outcome, error) {
	existing, err := l.store.FindByTxHash(ctx, req.TxHash)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction hash: %w", err)
	}

	if existing.BuyerID == req.BuyerID && existing.ItemID == req.ItemID && existing.Status == types.TxConfirmed {
		return &Outcome{Status: StatusAlreadyConfirmed, Transaction: existing}, nil
	}

	l.logger.Warn("transaction hash reuse rejected",
		"tx_hash", req.TxHash,
		"buyer_id", req.BuyerID,
		"item_id", req.ItemID,
		"existing_buyer_id", existing.BuyerID,
		"existing_item_id", existing.ItemID,
		"existing_status", existing.Status)
	return rejected(ReasonTxHashAlreadyUsed), nil
}

func (l *Ledger) wallets(ctx context.Context, reader chains.ChainReader, buyerID, sellerID string) (*types.Wallet, *types.Wallet, error) {
	family := chains.Family(reader.Network())

	buyer, err := l.store.GetWallet(ctx, buyerID, family)
	if err != nil {
		return nil, nil, err
	}
	seller, err := l.store.GetWallet(ctx, sellerID, family)
	if err != nil {
		return nil, nil, err
	}
	if reader.ValidateAddress(buyer.Address) != nil || reader.ValidateAddress(seller.Address) != nil {
		return nil, nil, ErrNotFound
	}
	return buyer, seller, nil
}

// applyFeeSplit records the protocol fee with the same split the verifier checked
func (l *Ledger) applyFeeSplit(reader chains.ChainReader, tx *types.Transaction, token verifier.Token) error {
	tx.ProtocolFee = decimal.Zero
	if !verifier.SplitEnabled(reader, l.opts.ProgramID, l.opts.FeeVault) {
		return nil
	}

	total, err := units.ToAtomic(tx.Amount, token.Decimals)
	if err != nil {
		return fmt.Errorf("failed to convert amount: %w", err)
	}
	fee, _, err := units.SplitFee(total, l.opts.FeeBasisPoints)
	if err != nil {
		return err
	}

	vault := reader.NormalizeAddress(l.opts.FeeVault)
	tx.ProtocolFee = units.FromAtomic(fee, token.Decimals)
	tx.FeeVault = &vault
	return nil
}

// confirm promotes a pending row and starts the side effects of a sale
func (l *Ledger) confirm(ctx context.Context, tx *types.Transaction, item *types.KnowledgeItem) *Outcome {
	now := l.now().UTC()
	key := ConfirmedKey(tx.BuyerID, tx.ItemID)

	ok, err := l.store.ConfirmTransaction(ctx, tx.ID, key, now)
	if errors.Is(err, ErrAlreadyConfirmed) {
		// The buyer settled this item with another hash in the meantime.
		// This row stays pending and its hash stays spent.
		existing, findErr := l.store.FindConfirmed(ctx, tx.BuyerID, tx.ItemID)
		if findErr == nil {
			l.logger.Warn("second payment for an owned item left pending",
				"tx_hash", tx.TxHash,
				"transaction_id", tx.ID,
				"buyer_id", tx.BuyerID,
				"item_id", tx.ItemID,
				"confirmed_tx_hash", existing.TxHash)
			return &Outcome{Status: StatusAlreadyConfirmed, Transaction: existing}
		}
		err = fmt.Errorf("%w: %v", err, findErr)
	}
	if err != nil || !ok {
		// Row stays pending, RetryConfirmation can promote it later
		l.logger.Error("failed to confirm transaction",
			"tx_hash", tx.TxHash, "transaction_id", tx.ID, "promoted", ok, "error", err)
		return rejected(ReasonConfirmationFailed)
	}

	tx.Status = types.TxConfirmed
	tx.ConfirmedKey = &key
	tx.ConfirmedAt = &now

	l.logger.Info("purchase confirmed",
		"tx_hash", tx.TxHash,
		"buyer_id", tx.BuyerID,
		"item_id", tx.ItemID,
		"amount", tx.Amount.String(),
		"token", tx.Token,
		"chain", tx.Chain)

	l.afterConfirm(tx, item)
	return &Outcome{Status: StatusConfirmed, Transaction: tx}
}

// RetryConfirmation promotes a pending row without verifying again.
// Used for rows left pending after a failed confirm step.
func (l *Ledger) RetryConfirmation(ctx context.Context, txHash string) (*Outcome, error) {
	tx, err := l.store.FindByTxHash(ctx, l.normalizeTxHash(txHash))
	if errors.Is(err, ErrNotFound) {
		return rejected(ReasonTransactionNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction hash: %w", err)
	}

	switch tx.Status {
	case types.TxConfirmed:
		return &Outcome{Status: StatusAlreadyConfirmed, Transaction: tx}, nil
	case types.TxPending:
	default:
		return rejected(ReasonNotPending), nil
	}

	item, err := l.store.GetItem(ctx, tx.ItemID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	return l.confirm(ctx, tx, item), nil
}

// normalizeTxHash canonicalizes a hash whose chain is unknown. Hash formats of
// the supported families do not overlap, so the first reader that accepts it decides.
func (l *Ledger) normalizeTxHash(txHash string) string {
	for _, network := range l.registry.GetSupportedNetworks() {
		reader, err := l.registry.Get(network)
		if err != nil {
			continue
		}
		if reader.ValidateTxHash(txHash) == nil {
			return reader.NormalizeTxHash(txHash)
		}
	}
	return txHash
}

// HasAccess reports whether buyer holds a confirmed purchase of item
func (l *Ledger) HasAccess(ctx context.Context, buyerID, itemID string) (bool, error) {
	_, err := l.store.FindConfirmed(ctx, buyerID, itemID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// afterConfirm runs the best-effort side effects of a sale in the background.
// None of them can undo or delay the confirmed purchase.
func (l *Ledger) afterConfirm(tx *types.Transaction, item *types.KnowledgeItem) {
	snapshot := *tx

	l.background("increment_purchase_count", func(ctx context.Context) error {
		return l.store.IncrementPurchaseCount(ctx, snapshot.ItemID)
	})

	if l.publisher != nil {
		l.background("publish_purchase_completed", func(ctx context.Context) error {
			l.publisher.Publish(ctx, snapshot.SellerID, constants.EventPurchaseCompleted, map[string]any{
				"transaction_id": snapshot.ID,
				"tx_hash":        snapshot.TxHash,
				"item_id":        snapshot.ItemID,
				"buyer_id":       snapshot.BuyerID,
				"amount":         snapshot.Amount.String(),
				"token":          snapshot.Token,
				"chain":          snapshot.Chain,
			})
			return nil
		})
	}

	title := snapshot.ItemID
	if item != nil {
		title = item.Title
	}
	l.background("notify_seller", func(ctx context.Context) error {
		return l.store.CreateNotification(ctx, &types.Notification{
			ID:     uuid.NewString(),
			UserID: snapshot.SellerID,
			Kind:   "sale",
			Title:  "New sale",
			Body:   fmt.Sprintf("%q was purchased for %s %s", title, snapshot.Amount.String(), snapshot.Token),
		})
	})
}

func (l *Ledger) background(name string, fn func(ctx context.Context) error) {
	l.tasks.Add(1)
	go func() {
		defer l.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("panic in background task", "task", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), l.opts.SideEffectTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			l.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until background side effects started so far have finished
func (l *Ledger) Wait() {
	l.tasks.Wait()
}
