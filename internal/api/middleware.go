// Package api is the Request Surface: a thin Gin HTTP layer mapping
// allocate/release/segment CRUD calls onto the Allocation Engine and
// Segment Store. It sits outside the core: the engine's only production
// caller.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/orhaniscoding/vlanctl/internal/config"
	"github.com/orhaniscoding/vlanctl/internal/domain"
)

// AuthMiddleware validates the service-to-service bearer JWT on every
// mutating/read call into the Request Surface.
func AuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			errorResponse(c, domain.NewError(domain.ErrUnauthorized, "Authorization header required", nil))
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			errorResponse(c, domain.NewError(domain.ErrUnauthorized, "invalid authorization header format", nil))
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, domain.NewError(domain.ErrUnauthorized, "unexpected signing method", nil)
			}
			return []byte(jwtCfg.Secret), nil
		})
		if err != nil {
			errorResponse(c, domain.NewError(domain.ErrUnauthorized, "invalid or expired token", nil))
			c.Abort()
			return
		}

		subject, _ := claims["sub"].(string)
		c.Set("client_id", subject)
		c.Next()
	}
}

// RequestIDMiddleware assigns (or propagates) a request id into both the
// response header and the downstream context, for audit-log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-Id", requestID)
		c.Set("request_id", requestID)
		// The auditors read the id back under the plain "request_id" key.
		ctx := context.WithValue(c.Request.Context(), "request_id", requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CORSMiddleware applies the configured CORS policy.
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := allowed[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			if cfg.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Request-Id")
		c.Header("Access-Control-Expose-Headers", "X-Request-Id, Retry-After")
		c.Header("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge.Seconds())))
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware bounds request throughput with a token-bucket
// limiter shared across all callers, guarding the engine/gateway from a
// caller-side burst.
func RateLimitMiddleware(requestsPerSecond float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			errorResponse(c, domain.NewError(domain.ErrRateLimited, "rate limit exceeded", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

// errorResponse sends a standardized *domain.Error response.
func errorResponse(c *gin.Context, derr *domain.Error) {
	c.JSON(derr.ToHTTPStatus(), derr)
}

// requestContext returns a context carrying a deadline derived from the
// inbound request, so every downstream IPAM call inherits cancellation.
func requestContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), timeout)
}
