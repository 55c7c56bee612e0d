package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/webhook"
)

type updateWebhookRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func webhookError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "not_found", "webhook not found")
	case errors.Is(err, webhook.ErrPrivateIP):
		return writeError(c, fiber.StatusBadRequest, "invalid_url", "webhook URL must resolve to a public address")
	case errors.Is(err, webhook.ErrInvalidURL), errors.Is(err, webhook.ErrInvalidRequest):
		return writeError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	return err
}

func (s *Server) registerWebhook(c *fiber.Ctx) error {
	var body types.RegisterWebhookRequest
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request", "request body must be JSON")
	}

	resp, err := s.webhooks.Register(c.UserContext(), currentUser(c), body)
	if err != nil {
		return webhookError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (s *Server) listWebhooks(c *fiber.Ctx) error {
	subs, err := s.webhooks.List(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []types.WebhookSubscription{}
	}
	return c.JSON(fiber.Map{"webhooks": subs})
}

func (s *Server) deleteWebhook(c *fiber.Ctx) error {
	if err := s.webhooks.Delete(c.UserContext(), currentUser(c), c.Params("id")); err != nil {
		return webhookError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) updateWebhook(c *fiber.Ctx) error {
	var body updateWebhookRequest
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request", "request body must be JSON")
	}
	if err := s.validate.Struct(body); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request", "active is required")
	}

	if err := s.webhooks.SetActive(c.UserContext(), currentUser(c), c.Params("id"), *body.Active); err != nil {
		return webhookError(c, err)
	}
	return c.JSON(fiber.Map{"id": c.Params("id"), "active": *body.Active})
}

func (s *Server) rotateWebhookSecret(c *fiber.Ctx) error {
	secret, err := s.webhooks.RotateSecret(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return webhookError(c, err)
	}
	return c.JSON(fiber.Map{"id": c.Params("id"), "secret": secret})
}

func (s *Server) listWebhookAttempts(c *fiber.Ctx) error {
	params := types.HistoryParams{
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}
	attempts, err := s.webhooks.Attempts(c.UserContext(), currentUser(c), c.Params("id"), params)
	if err != nil {
		return webhookError(c, err)
	}
	if attempts == nil {
		attempts = []types.WebhookDeliveryAttempt{}
	}
	return c.JSON(fiber.Map{"attempts": attempts})
}
