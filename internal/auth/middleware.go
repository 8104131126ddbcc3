package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/jobads/internal/account"
	"github.com/mbd888/jobads/internal/logging"
)

const (
	// ContextKeyAPIKey is the key for storing API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAccountID is the key for storing the authenticated account id
	ContextKeyAccountID = "authAccountID"
)

// Middleware extracts and validates API key from request.
// Sets apiKey and authAccountID in context if valid.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAccountID, key.AccountID)
				c.Request = c.Request.WithContext(logging.WithAccountID(c.Request.Context(), key.AccountID))
			}
		}

		c.Next()
	}
}

// RequireAuth middleware rejects requests without valid auth
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireOperator rejects authenticated callers whose account is not an operator.
func RequireOperator(dir account.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := GetAccountID(c)
		if accountID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}

		acct, err := dir.Get(c.Request.Context(), accountID)
		if err != nil || !account.IsOperator(acct.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Operator access required.",
			})
			return
		}
		c.Next()
	}
}

// GetAccountID returns the authenticated account id, or "" if unauthenticated.
func GetAccountID(c *gin.Context) string {
	id, exists := c.Get(ContextKeyAccountID)
	if !exists {
		return ""
	}
	s, _ := id.(string)
	return s
}
