// Package server exposes settlement, paid content and webhook management over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/sigweihq/knowpay/pkg/config"
	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/ledger"
	"github.com/sigweihq/knowpay/pkg/types"
	"github.com/sigweihq/knowpay/pkg/webhook"
	"github.com/sigweihq/knowpay/pkg/x402"
)

// Purchases settles payments and answers access checks. *ledger.Ledger satisfies it.
type Purchases interface {
	RecordPurchase(ctx context.Context, req ledger.PurchaseRequest) (*ledger.Outcome, error)
	HasAccess(ctx context.Context, buyerID, itemID string) (bool, error)
}

// Catalog reads items and payout wallets. *ledger.GormStore satisfies it.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (*types.KnowledgeItem, error)
	GetWallet(ctx context.Context, userID, family string) (*types.Wallet, error)
}

// Deps are the collaborators of the HTTP server
type Deps struct {
	Config     *config.Config
	Purchases  Purchases
	Catalog    Catalog
	Negotiator *x402.Negotiator
	Webhooks   *webhook.Service
	Readiness  *config.Readiness

	// Optional
	AccessCache    *AccessCache
	LimiterStorage fiber.Storage
	Logger         *slog.Logger

	// DisableAccessLog turns off the request log middleware, for tests
	DisableAccessLog bool
}

type Server struct {
	cfg        *config.Config
	purchases  Purchases
	catalog    Catalog
	negotiator *x402.Negotiator
	webhooks   *webhook.Service
	readiness  *config.Readiness
	cache      *AccessCache
	validate   *validator.Validate
	logger     *slog.Logger
	app        *fiber.App
}

// New builds the fiber application with all routes installed
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        deps.Config,
		purchases:  deps.Purchases,
		catalog:    deps.Catalog,
		negotiator: deps.Negotiator,
		webhooks:   deps.Webhooks,
		readiness:  deps.Readiness,
		cache:      deps.AccessCache,
		validate:   validator.New(),
		logger:     logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "knowpay",
		BodyLimit:             64 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	if !deps.DisableAccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: `{"time":"${time}","status":${status},"latency":"${latency}","method":"${method}","path":"${path}"}` + "\n",
		}))
	}

	app.Get("/healthz", s.healthz)
	app.Get("/readyz", s.readyz)

	api := app.Group("/api/v1", s.rateLimiter(deps.LimiterStorage), requireUser)
	api.Post("/items/:id/purchases", s.createPurchase)
	api.Get("/items/:id/content", s.getContent)

	hooks := api.Group("/webhooks")
	hooks.Post("/", s.registerWebhook)
	hooks.Get("/", s.listWebhooks)
	hooks.Delete("/:id", s.deleteWebhook)
	hooks.Patch("/:id", s.updateWebhook)
	hooks.Post("/:id/rotate", s.rotateWebhookSecret)
	hooks.Get("/:id/attempts", s.listWebhookAttempts)

	s.app = app
	return s
}

// App returns the fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) ShutdownWithContext(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) rateLimiter(storage fiber.Storage) fiber.Handler {
	if s.cfg.RateLimitMax <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        s.cfg.RateLimitMax,
		Expiration: s.cfg.RateLimitWindow,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID := strings.TrimSpace(c.Get(constants.UserIDHeader)); userID != "" {
				return "user:" + userID
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return writeError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests")
		},
	})
}

const userKey = "userID"

// requireUser reads the caller identity forwarded by the gateway
func requireUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(constants.UserIDHeader))
	if userID == "" || len(userID) > 64 {
		return writeError(c, fiber.StatusUnauthorized, "unauthorized", "missing caller identity")
	}
	c.Locals(userKey, userID)
	return c.Next()
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals(userKey).(string)
	return id
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(types.ErrorResponse{Error: code, Message: message})
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := strings.ToLower(strings.ReplaceAll(utils.StatusMessage(fe.Code), " ", "_"))
		if code == "" {
			code = "request_failed"
		}
		return writeError(c, fe.Code, code, fe.Message)
	}
	s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return writeError(c, fiber.StatusInternalServerError, "internal_error", "internal server error")
}

func (s *Server) healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) readyz(c *fiber.Ctx) error {
	if err := s.readiness.Check(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "not_ready",
			"network": s.cfg.Network,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "network": s.cfg.Network})
}
