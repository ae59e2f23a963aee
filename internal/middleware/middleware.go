package middleware

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/iamgideonidoko/nudge/internal/config"
	"github.com/iamgideonidoko/nudge/internal/enricher"
	"github.com/iamgideonidoko/nudge/pkg/logger"
)

// Limiter counts requests per identifier in a fixed window.
type Limiter interface {
	CheckRateLimit(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error)
}

type RateLimiter struct {
	limiter Limiter
	config  *config.RateLimitConfig
}

func NewRateLimiter(limiter Limiter, config *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		config:  config,
	}
}

// LimitByIP rate limits requests by client address. A limiter outage lets
// traffic through.
func (rl *RateLimiter) LimitByIP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.limiter == nil || rl.config.Requests <= 0 {
			return c.Next()
		}

		ip := enricher.ClientIP(func(name string) string {
			return c.Get(name)
		}, c.Context().RemoteIP().String())
		identifier := fmt.Sprintf("ip:%s", ip)

		allowed, err := rl.limiter.CheckRateLimit(
			c.Context(),
			identifier,
			rl.config.Requests,
			rl.config.Window,
		)
		if err != nil {
			logger.Warn("Rate limiter unavailable", map[string]any{
				"error": err.Error(),
			})
			return c.Next()
		}

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"error":       "Rate limit exceeded",
				"retry_after": rl.config.Window.Seconds(),
			})
		}

		return c.Next()
	}
}

// CORS answers cross-origin requests from customer sites. With "*" in
// origins every caller's Origin is echoed back.
func CORS(origins []string) fiber.Handler {
	allowedOrigins := make(map[string]bool)
	for _, origin := range origins {
		allowedOrigins[strings.TrimSuffix(origin, "/")] = true
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)

		switch {
		case origin == "" && allowedOrigins["*"]:
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		case origin != "" && (allowedOrigins["*"] || allowedOrigins[origin]):
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
			c.Vary(fiber.HeaderOrigin)
		}
		c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type")
		c.Set(fiber.HeaderAccessControlMaxAge, "3600")

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}

func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := map[string]any{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          AnonymizeIP(c.IP()),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.Debug("Request", fields)

		return err
	}
}

func Recover() fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered", map[string]any{
					"panic": fmt.Sprint(r),
					"path":  c.Path(),
				})
				_ = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"success": false,
					"error":   "Internal server error",
				})
			}
		}()
		return c.Next()
	}
}

// AnonymizeIP zeroes the host part of an address before it is logged: the
// last octet for IPv4, the last 80 bits for IPv6.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	if addr.Is4() || addr.Is4In6() {
		prefix, _ := addr.Unmap().Prefix(24)
		return prefix.Addr().String()
	}
	prefix, _ := addr.Prefix(48)
	return prefix.Addr().String()
}
