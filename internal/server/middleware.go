package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/studiobook/internal/memberctx"
	"github.com/smallbiznis/studiobook/internal/observability/metrics"
	"go.uber.org/zap"
)

// IdentityMiddleware verifies the signed session token issued by the
// identity provider and attaches the caller to the request context. The
// engine trusts these claims, it never manages accounts itself.
func IdentityMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := claimID(claims, "sub")
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		branchID, _ := claimID(claims, "branch_id")
		role, _ := claims["role"].(string)
		email, _ := claims["email"].(string)

		identity := memberctx.Identity{
			UserID:   userID,
			BranchID: branchID,
			Role:     role,
			Email:    strings.TrimSpace(email),
		}
		c.Request = c.Request.WithContext(memberctx.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// RequireStaff gates admin routes on the staff role claim.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !memberctx.IsStaff(c.Request.Context()) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequestLogMiddleware logs each request with latency and status.
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m := metrics.Default()
		m.IncHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()))
		m.ObserveHTTPDuration(c.Request.Method, route, time.Since(start))
	}
}

// rateLimited throttles booking attempts per member through the Redis token
// bucket. Without Redis the limiter is nil and requests pass through.
func (s *Server) rateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		identity, ok := memberctx.IdentityFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		key := "studiobook:booking:" + identity.UserID.String()
		result, err := s.limiter.Allow(c.Request.Context(), key, 1, 5)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(429, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many booking attempts",
			}})
			return
		}
		c.Next()
	}
}

func claimID(claims jwt.MapClaims, key string) (snowflake.ID, error) {
	value, ok := claims[key]
	if !ok {
		return 0, fmt.Errorf("claim %s missing", key)
	}
	switch typed := value.(type) {
	case string:
		return snowflake.ParseString(strings.TrimSpace(typed))
	case float64:
		return snowflake.ID(int64(typed)), nil
	default:
		return 0, fmt.Errorf("claim %s has unexpected type", key)
	}
}
