package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/escrowpay/internal/metrics"
)

const rateLimitPrefix = "escrowpay:rate_limit"

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimiter counts requests per subject in a fixed Redis window.
type RateLimiter struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRateLimiter wraps client. A nil client disables limiting.
func NewRateLimiter(client redis.UniversalClient, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{client: client, logger: logger}
}

// Consume records one hit for subject and returns the running count and the
// seconds left in the window.
func (r *RateLimiter) Consume(ctx context.Context, scope, subject string, window time.Duration) (int, int, error) {
	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	key := fmt.Sprintf("%s:%s:%s", rateLimitPrefix, scope, subject)
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limiter response %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limiter count %T", values[0])
	}
	ttlMs, _ := values[1].(int64)
	if ttlMs <= 0 {
		ttlMs = windowMs
	}
	return int(count), int(math.Ceil(float64(ttlMs) / 1000.0)), nil
}

// Limit rejects a subject's requests beyond limit per window with 429.
// Requests without a subject, and all requests when Redis is unavailable,
// pass through.
func (r *RateLimiter) Limit(scope string, limit int, window time.Duration, subject func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if r == nil || r.client == nil || limit <= 0 {
			return c.Next()
		}
		key := strings.TrimSpace(subject(c))
		if key == "" {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), 500*time.Millisecond)
		defer cancel()
		count, retryAfter, err := r.Consume(ctx, scope, key, window)
		if err != nil {
			r.logger.Warn("rate limiter unavailable", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if count > limit {
			metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return fiber.NewError(fiber.StatusTooManyRequests, "too many attempts, try again later")
		}
		return c.Next()
	}
}

// LoginSubject keys login attempts by phone number, falling back to the
// client IP.
func LoginSubject(c *fiber.Ctx) string {
	var req struct {
		Phone string `json:"phone"`
	}
	_ = c.BodyParser(&req)
	if phone := strings.ReplaceAll(strings.TrimSpace(req.Phone), " ", ""); phone != "" {
		return phone
	}
	return c.IP()
}

// UserSubject keys requests by the authenticated user.
func UserSubject(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
