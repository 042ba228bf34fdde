// Package httpapi wires the fiber application: the JSON-wrapping error
// middleware, the ratelimit/role/access decorator chain, and the route
// handlers for auth, resource, and WebSocket endpoints. Grounded on the
// teacher's internal/server and internal/middleware packages.
package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/doorforge/quotecontrol/internal/errors"
	"github.com/doorforge/quotecontrol/internal/metrics"
	"github.com/doorforge/quotecontrol/internal/model"
	"github.com/doorforge/quotecontrol/internal/ratelimit"
	"github.com/doorforge/quotecontrol/internal/session"
)

const localsSession = "qc_session"
const localsToken = "qc_token"

// metricsMiddleware records the ambient HTTP gauges. Grounded on the
// teacher's middleware.Metrics.
func metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		path := metrics.NormalizePath(c.Path())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}

// ratelimitMiddleware evaluates chain against the request, deriving
// each policy's key per spec.md's bucket table. proxy controls whether
// the IP bucket trusts X-Forwarded-For/X-Real-IP. The User bucket
// resolves its key directly from the bearer token via the registry,
// since this middleware runs ahead of access validation in the chain.
func ratelimitMiddleware(registry *session.Registry, chain *ratelimit.Chain, routeName string, proxy bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessKey := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		source := func(b ratelimit.BucketType) string {
			switch b {
			case ratelimit.BucketIP:
				return clientIP(c, proxy)
			case ratelimit.BucketUser:
				if userID, ok := registry.UserIDForAccessKey(accessKey); ok {
					return strconv.Itoa(userID)
				}
				return ""
			case ratelimit.BucketToken:
				return accessKey
			case ratelimit.BucketRoute:
				return routeName
			default:
				return ""
			}
		}

		if ok, retryAfter := chain.Check(source); !ok {
			metrics.RateLimitRejections.WithLabelValues(routeName).Inc()
			seconds := int(retryAfter / time.Second)
			c.Set("Retry-After", strconv.Itoa(seconds))
			return apperrors.RateLimitExceeded(seconds)
		}
		return c.Next()
	}
}

func clientIP(c *fiber.Ctx, proxy bool) string {
	if proxy {
		if xff := c.Get("X-Forwarded-For"); xff != "" {
			return strings.TrimSpace(strings.Split(xff, ",")[0])
		}
		if xri := c.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	return c.IP()
}

// validateAccess resolves the bearer access token via the session
// registry and attaches the token and session to fiber.Locals for
// downstream handlers.
func validateAccess(registry *session.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return apperrors.Unauthorized("Missing or invalid access token")
		}
		accessKey := strings.TrimPrefix(header, prefix)

		token, sess, err := registry.ValidateAccess(accessKey)
		if err != nil {
			return err
		}
		c.Locals(localsToken, token)
		c.Locals(localsSession, sess)
		return c.Next()
	}
}

// requireRole restricts a route to users whose autopilot flag matches
// wantAutopilot. It runs ahead of validateAccess in the chain (per the
// decorator order: ratelimit(s) -> role restriction -> access
// validation -> handler), so it resolves the user directly from the
// bearer token rather than from locals an earlier middleware hasn't
// set yet. A missing or unresolvable token is deferred to
// validateAccess, which raises the precise unauthorized error.
func requireRole(registry *session.Registry, wantAutopilot bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessKey := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		userID, ok := registry.UserIDForAccessKey(accessKey)
		if !ok {
			return c.Next()
		}

		user, err := registry.GetUser(c.Context(), userID)
		if err != nil {
			return apperrors.WrapError(err, "Failed to look up user")
		}
		if user.Autopilot != wantAutopilot {
			return apperrors.Forbidden("This endpoint is not available for this account type")
		}
		c.Locals("qc_user", user)
		return c.Next()
	}
}

func sessionFromCtx(c *fiber.Ctx) *model.Session {
	sess, _ := c.Locals(localsSession).(*model.Session)
	return sess
}

func tokenFromCtx(c *fiber.Ctx) *model.Token {
	tok, _ := c.Locals(localsToken).(*model.Token)
	return tok
}

func userFromCtx(c *fiber.Ctx) model.User {
	u, _ := c.Locals("qc_user").(model.User)
	return u
}
