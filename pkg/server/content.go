package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/gofiber/fiber/v2"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/ledger"
	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/x402"
)

// Reasons reported in the error field of a repeated 402
const (
	errInvalidPaymentHeader = "invalid_payment_header"
	errUnsupportedAsset     = "unsupported_asset"
	errWrongNetwork         = "wrong_network"
)

type contentResponse struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// getContent serves paid content. Callers without access get a 402 with
// payment requirements; callers presenting X-PAYMENT are settled first.
func (s *Server) getContent(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUser(c)

	item, err := s.catalog.GetItem(ctx, c.Params("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		return writeError(c, fiber.StatusNotFound, string(ledger.ReasonItemNotFound), ledger.ReasonItemNotFound.Message())
	}
	if err != nil {
		return err
	}

	if item.SellerID == userID {
		return serveContent(c, item)
	}
	if s.cache.Has(ctx, userID, item.ID) {
		return serveContent(c, item)
	}
	owned, err := s.purchases.HasAccess(ctx, userID, item.ID)
	if err != nil {
		return err
	}
	if owned {
		s.cache.Mark(ctx, userID, item.ID)
		return serveContent(c, item)
	}

	if !item.IsPurchasable() {
		return writeError(c, fiber.StatusForbidden, string(ledger.ReasonItemNotPurchasable), ledger.ReasonItemNotPurchasable.Message())
	}
	if err := s.readiness.Check(); err != nil {
		return writeError(c, fiber.StatusServiceUnavailable, "not_ready", "payments are temporarily unavailable")
	}

	header := c.Get(constants.PaymentHeader)
	if header == "" {
		return s.paymentRequired(c, item, "")
	}

	proof, ok := x402.ParsePaymentHeader(header)
	if !ok {
		return s.paymentRequired(c, item, errInvalidPaymentHeader)
	}
	network := s.negotiator.Network()
	if proof.Network != "" && proof.Network != network {
		return s.paymentRequired(c, item, errWrongNetwork)
	}
	token, ok := s.negotiator.TokenForAsset(proof.Asset)
	if !ok {
		return s.paymentRequired(c, item, errUnsupportedAsset)
	}

	outcome, err := s.purchases.RecordPurchase(ctx, ledger.PurchaseRequest{
		BuyerID: userID,
		ItemID:  item.ID,
		TxHash:  proof.TxHash,
		Token:   token,
		Chain:   network,
	})
	if err != nil {
		return err
	}

	switch outcome.Status {
	case ledger.StatusConfirmed, ledger.StatusAlreadyConfirmed:
		s.cache.Mark(ctx, userID, item.ID)
		if err := setPaymentResponse(c, outcome.Transaction); err != nil {
			s.logger.Warn("failed to encode payment response", "tx_hash", proof.TxHash, "error", err)
		}
		return serveContent(c, item)
	}

	if outcome.Reason == ledger.ReasonConfirmationFailed {
		return writeError(c, fiber.StatusBadGateway, string(outcome.Reason), outcome.Reason.Message())
	}
	return s.paymentRequired(c, item, string(outcome.Reason))
}

// paymentRequired answers 402 with the item's requirements and an optional reason
func (s *Server) paymentRequired(c *fiber.Ctx, item *types.KnowledgeItem, reason string) error {
	ctx := c.UserContext()
	network := s.negotiator.Network()

	wallet, err := s.catalog.GetWallet(ctx, item.SellerID, chains.Family(network))
	if errors.Is(err, ledger.ErrNotFound) {
		return writeError(c, fiber.StatusConflict, string(ledger.ReasonWalletsNotConfigured), "the seller cannot receive payments yet")
	}
	if err != nil {
		return err
	}

	resource := strings.TrimRight(s.cfg.PublicBaseURL, "/") + c.Path()
	body, err := s.negotiator.BuildPaymentRequired(item, wallet.Address, resource)
	if errors.Is(err, x402.ErrNotReady) {
		return writeError(c, fiber.StatusServiceUnavailable, "not_ready", "payments are temporarily unavailable")
	}
	if err != nil {
		s.logger.Warn("failed to build payment requirements", "item_id", item.ID, "seller_id", item.SellerID, "error", err)
		return writeError(c, fiber.StatusConflict, string(ledger.ReasonWalletsNotConfigured), "the seller cannot receive payments yet")
	}
	if len(body.Accepts) == 0 {
		return writeError(c, fiber.StatusConflict, string(ledger.ReasonTokenNotPriced), ledger.ReasonTokenNotPriced.Message())
	}

	body.Error = reason
	return c.Status(fiber.StatusPaymentRequired).JSON(body)
}

// setPaymentResponse adds the base64 settlement receipt header
func setPaymentResponse(c *fiber.Ctx, tx *types.Transaction) error {
	if tx == nil {
		return nil
	}
	receipt := x402types.SettleResponse{
		Success:     true,
		Transaction: tx.TxHash,
		Network:     tx.Chain,
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	c.Set(constants.PaymentResponseHeader, base64.StdEncoding.EncodeToString(raw))
	return nil
}

func serveContent(c *fiber.Ctx, item *types.KnowledgeItem) error {
	return c.JSON(contentResponse{
		ID:      item.ID,
		Title:   item.Title,
		Content: item.Content,
	})
}
