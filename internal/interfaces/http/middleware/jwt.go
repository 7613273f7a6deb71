package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/auth"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey   = "jwt_claims"
	JWTTenantIDKey = "jwt_tenant_id"
	JWTUserIDKey   = "jwt_user_id"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	Validator TokenValidator
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	Logger    *zap.Logger
}

// DefaultJWTConfig returns default JWT middleware configuration
func DefaultJWTConfig(validator TokenValidator) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		Validator: validator,
		SkipPaths: []string{"/health", "/metrics"},
	}
}

// JWTAuth authenticates the caller and resolves the tenant every request is scoped to
func JWTAuth(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip {
				c.Next()
				return
			}
		}

		header := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(header, BearerPrefix) || strings.TrimPrefix(header, BearerPrefix) == "" {
			abortUnauthorized(c, cfg, auth.ErrInvalidToken, "Missing bearer token")
			return
		}

		claims, err := cfg.Validator.ValidateAccessToken(strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			abortUnauthorized(c, cfg, err, "Token validation failed")
			return
		}
		tenantID, err := claims.TenantUUID()
		if err != nil {
			abortUnauthorized(c, cfg, err, "Token has no tenant")
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(JWTTenantIDKey, tenantID)
		c.Set(JWTUserIDKey, claims.UserID)

		ctx := c.Request.Context()
		log := logger.FromContext(ctx)
		ctx, _ = logger.WithTenantID(ctx, log, tenantID.String())
		if claims.UserID != "" {
			ctx, _ = logger.WithUserID(ctx, log, claims.UserID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, cfg JWTMiddlewareConfig, err error, message string) {
	if cfg.Logger != nil {
		cfg.Logger.Warn("JWT authentication failed",
			zap.Error(err),
			zap.String("message", message),
			zap.String("path", c.Request.URL.Path),
		)
	}

	code, msg := "UNAUTHORIZED", "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, msg = "TOKEN_EXPIRED", "Token has expired"
	case errors.Is(err, auth.ErrMissingTenantID):
		code, msg = "INVALID_TOKEN", "Token has no tenant"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims):
		code, msg = "INVALID_TOKEN", "Invalid token"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		code, msg = "TOKEN_NOT_VALID", "Token is not yet valid"
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": msg,
		},
	})
}

// GetTenantID returns the authenticated tenant, uuid.Nil when absent
func GetTenantID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(JWTTenantIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(JWTClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}
