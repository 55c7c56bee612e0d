package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/sigweihq/knowpay/pkg/config"
)

const accessKeyPrefix = "knowpay:access:"

// AccessCache remembers confirmed purchases in Redis so repeated content
// reads skip the database. A nil *AccessCache is a valid, disabled cache.
type AccessCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewAccessCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *AccessCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessCache{client: client, ttl: ttl, logger: logger}
}

func accessKey(buyerID, itemID string) string {
	return accessKeyPrefix + buyerID + ":" + itemID
}

// Has reports a cached grant. Cache errors read as a miss.
func (a *AccessCache) Has(ctx context.Context, buyerID, itemID string) bool {
	if a == nil {
		return false
	}
	_, err := a.client.Get(ctx, accessKey(buyerID, itemID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			a.logger.Warn("access cache read failed", "error", err)
		}
		return false
	}
	return true
}

// Mark records a grant, best effort
func (a *AccessCache) Mark(ctx context.Context, buyerID, itemID string) {
	if a == nil {
		return
	}
	if err := a.client.Set(ctx, accessKey(buyerID, itemID), "1", a.ttl).Err(); err != nil {
		a.logger.Warn("access cache write failed", "error", err)
	}
}

// NewRedisClient connects to the configured cache and pings it once
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.CacheHost, strconv.Itoa(cfg.CachePort)),
		Password: cfg.CachePassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}
	return client, nil
}

// NewLimiterStorage returns Redis backed limiter storage on a separate database
// so counters are shared across instances
func NewLimiterStorage(cfg *config.Config) fiber.Storage {
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.CacheHost,
		Port:     cfg.CachePort,
		Password: cfg.CachePassword,
		Database: 1,
		Reset:    false,
	})
}
