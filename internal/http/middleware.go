package http

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// rateLimitMiddleware enforces a fixed-window per-minute limit per
// caller IP using Redis. Each bucket gets its own counters so stream
// reconnects cannot starve discover calls.
func rateLimitMiddleware(rdb *redis.Client, bucket string, perMinute int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || perMinute <= 0 {
			return c.Next()
		}

		window := time.Now().UTC().Format("200601021504") // YYYYMMDDHHMM minute window
		key := fmt.Sprintf("equitable:rl:%s:%s:%s", bucket, c.IP(), window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis being down should not take the API with it.
			return c.Next()
		}
		if count == 1 {
			// First hit in this window; set TTL
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(perMinute) {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "RATE_LIMIT_EXCEEDED",
				Error:   "Rate limit exceeded, try again later",
			})
		}

		return c.Next()
	}
}
