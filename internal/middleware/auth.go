package middleware

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/dto"
)

// UserAddressKey gin context key holding the authenticated common.Address
const UserAddressKey = "user_address"

// TokenValidator verifies bearer tokens
type TokenValidator interface {
	ValidateToken(tokenString string) (*dto.JWTClaims, error)
}

// AuthMiddleware JWT
type AuthMiddleware struct {
	validator TokenValidator
	logger    *logrus.Logger
}

// NewAuthMiddleware creates the JWT middleware
func NewAuthMiddleware(validator TokenValidator, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth rejects requests without a valid bearer token. WebSocket clients
// may pass the token as ?token= because browsers cannot set headers there.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code := bearerToken(c)
		if code != "" {
			a.reject(c, code, "Missing or malformed Authorization header. Please provide a valid JWT token.")
			return
		}

		claims, err := a.validator.ValidateToken(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).WithError(err).Warn("JWT verification failed")
			a.reject(c, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set(UserAddressKey, common.HexToAddress(claims.UserAddress))
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, ""
		}
		return "", "MISSING_AUTH_HEADER"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "INVALID_AUTH_FORMAT"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "EMPTY_TOKEN"
	}
	return token, ""
}

func (a *AuthMiddleware) reject(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   "UNAUTHORIZED",
		"message": message,
		"code":    code,
	})
}

// UserAddress authenticated user set by RequireAuth
func UserAddress(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(UserAddressKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}
