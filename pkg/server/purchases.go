package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sigweihq/knowpay/pkg/ledger"
	"github.com/sigweihq/knowpay/pkg/types"
)

// reasonStatus maps rejection reasons to HTTP status codes
var reasonStatus = map[ledger.Reason]int{
	ledger.ReasonInvalidRequest:       fiber.StatusBadRequest,
	ledger.ReasonInvalidTxHash:        fiber.StatusBadRequest,
	ledger.ReasonUnsupportedNetwork:   fiber.StatusBadRequest,
	ledger.ReasonUnsupportedToken:     fiber.StatusBadRequest,
	ledger.ReasonTokenNotPriced:       fiber.StatusBadRequest,
	ledger.ReasonSelfPurchase:         fiber.StatusForbidden,
	ledger.ReasonItemNotPurchasable:   fiber.StatusForbidden,
	ledger.ReasonItemNotFound:         fiber.StatusNotFound,
	ledger.ReasonTxHashAlreadyUsed:    fiber.StatusConflict,
	ledger.ReasonWalletsNotConfigured: fiber.StatusConflict,
	ledger.ReasonVerificationFailed:   fiber.StatusUnprocessableEntity,
	ledger.ReasonConfirmationFailed:   fiber.StatusBadGateway,
}

func statusForReason(reason ledger.Reason) int {
	if status, ok := reasonStatus[reason]; ok {
		return status
	}
	return fiber.StatusBadRequest
}

// createPurchase settles an on-chain payment for an item.
// The price always comes from the stored item, any amount in the body is ignored.
func (s *Server) createPurchase(c *fiber.Ctx) error {
	var body types.PurchaseRequest
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, fiber.StatusBadRequest, string(ledger.ReasonInvalidRequest), "request body must be JSON")
	}
	if err := s.validate.Struct(body); err != nil {
		return writeError(c, fiber.StatusBadRequest, string(ledger.ReasonInvalidRequest), ledger.ReasonInvalidRequest.Message())
	}
	if err := s.readiness.Check(); err != nil {
		return writeError(c, fiber.StatusServiceUnavailable, "not_ready", "payments are temporarily unavailable")
	}

	buyerID := currentUser(c)
	itemID := c.Params("id")
	outcome, err := s.purchases.RecordPurchase(c.UserContext(), ledger.PurchaseRequest{
		BuyerID: buyerID,
		ItemID:  itemID,
		TxHash:  body.TxHash,
		Token:   body.Token,
		Chain:   body.Chain,
	})
	if err != nil {
		return err
	}

	switch outcome.Status {
	case ledger.StatusConfirmed:
		s.cache.Mark(c.UserContext(), buyerID, itemID)
		return c.Status(fiber.StatusCreated).JSON(types.PurchaseResponse{
			Status:      string(outcome.Status),
			Transaction: outcome.Transaction,
		})
	case ledger.StatusAlreadyConfirmed:
		return c.Status(fiber.StatusOK).JSON(types.PurchaseResponse{
			Status:      string(outcome.Status),
			Transaction: outcome.Transaction,
		})
	}
	return writeError(c, statusForReason(outcome.Reason), string(outcome.Reason), outcome.Reason.Message())
}
