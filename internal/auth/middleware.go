package auth

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoleSource answers role membership questions for RequireRole
type RoleSource interface {
	HasRole(ctx context.Context, address, role string) (bool, error)
}

// AuthMiddleware provides authentication middleware for API endpoints
type AuthMiddleware struct {
	nonces      NonceStore
	nonceWindow time.Duration
	roles       RoleSource
	now         func() time.Time
}

// NewAuthMiddleware creates a new authentication middleware. A nil nonce
// store falls back to process memory.
func NewAuthMiddleware(roles RoleSource, nonces NonceStore) *AuthMiddleware {
	if nonces == nil {
		nonces = NewMemoryNonceStore()
	}
	return &AuthMiddleware{
		nonces:      nonces,
		nonceWindow: 5 * time.Minute,
		roles:       roles,
		now:         time.Now,
	}
}

// SignedMessage is the text a wallet signs to authenticate a request
func SignedMessage(nonce string, timestamp int64) string {
	return fmt.Sprintf("AetherStake Auth:%s:%d", nonce, timestamp)
}

// RequireAuth middleware that requires authentication
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
				"code":  "AUTH_HEADER_MISSING",
			})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization format",
				"code":  "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		address, err := am.verifySignatureToken(c.Request.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			logrus.WithError(err).Warn("Authentication failed")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication failed",
				"code":  "AUTH_FAILED",
			})
			c.Abort()
			return
		}

		c.Set("user_address", address)
		c.Next()
	}
}

// RequireRole middleware that requires any of roles
func (am *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.GetString("user_address")
		if address == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
				"code":  "USER_NOT_AUTHENTICATED",
			})
			c.Abort()
			return
		}

		for _, role := range roles {
			ok, err := am.roles.HasRole(c.Request.Context(), address, role)
			if err != nil {
				logrus.WithError(err).WithField("address", address).Error("Role lookup failed")
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Role lookup failed",
					"code":  "ROLE_LOOKUP_FAILED",
				})
				c.Abort()
				return
			}
			if ok {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
			"code":  "INSUFFICIENT_PERMISSIONS",
		})
		c.Abort()
	}
}

// verifySignatureToken checks a "signature:nonce:timestamp:address" token and
// returns the checksummed address
func (am *AuthMiddleware) verifySignatureToken(ctx context.Context, token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return "", fmt.Errorf("invalid token format")
	}
	signature, nonce, timestampStr, address := parts[0], parts[1], parts[2], parts[3]

	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address format")
	}
	if nonce == "" {
		return "", fmt.Errorf("empty nonce")
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp")
	}

	// 5 minute window, 1 minute of clock skew
	now := am.now()
	if now.Unix()-timestamp > 300 || timestamp > now.Unix()+60 {
		return "", fmt.Errorf("timestamp out of valid range")
	}

	if err := verifyEthereumSignature(SignedMessage(nonce, timestamp), signature, address); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	fresh, err := am.nonces.Claim(ctx, nonce, am.nonceWindow)
	if err != nil {
		return "", fmt.Errorf("nonce store: %w", err)
	}
	if !fresh {
		return "", fmt.Errorf("nonce already used")
	}

	return common.HexToAddress(address).Hex(), nil
}

// verifyEthereumSignature verifies a personal_sign signature over message
func verifyEthereumSignature(message, signature, expectedAddress string) error {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return fmt.Errorf("invalid signature encoding")
	}
	if len(sigBytes) != 65 {
		return fmt.Errorf("invalid signature length")
	}
	// Wallets emit v as 27/28
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	prefixedMessage := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256Hash([]byte(prefixedMessage))

	pubKey, err := crypto.SigToPub(hash.Bytes(), sigBytes)
	if err != nil {
		return fmt.Errorf("failed to recover public key")
	}

	if !strings.EqualFold(crypto.PubkeyToAddress(*pubKey).Hex(), expectedAddress) {
		return fmt.Errorf("signature address mismatch")
	}
	return nil
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// SecureCORS echoes the Origin header back only for allowed origins
func SecureCORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if _, ok := allowed[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
