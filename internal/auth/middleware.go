package auth

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates JWT tokens and protects routes
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "Authorization header required", "unauthorized")
			return
		}

		// Extract token from "Bearer <token>" format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "Invalid authorization header format. Expected: Bearer <token>", "unauthorized")
			return
		}

		claims, err := ValidateToken(parts[1])
		if err != nil {
			log.Printf("[Auth] token validation failed: %v", err)
			abort(c, http.StatusUnauthorized, "Invalid or expired token", "unauthorized")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("wallet_address", claims.WalletAddress)
		c.Set("chain", claims.Chain)
		c.Next()
	}
}

// AdminChecker decides whether an authenticated user is an operator
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID uint, wallet string) bool
}

// AdminMiddleware must run after AuthMiddleware
func AdminMiddleware(checker AdminChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Unauthorized", "unauthorized")
			return
		}
		wallet, _ := GetWalletAddress(c)
		if !checker.IsAdmin(c.Request.Context(), userID, wallet) {
			abort(c, http.StatusForbidden, "Admin access required", "forbidden")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code, "retryable": false})
}

// GetUserID retrieves the user ID from the context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}

	id, ok := userID.(uint)
	return id, ok
}

// GetWalletAddress retrieves the wallet address from the context
func GetWalletAddress(c *gin.Context) (string, bool) {
	addr, exists := c.Get("wallet_address")
	if !exists {
		return "", false
	}

	address, ok := addr.(string)
	return address, ok
}
