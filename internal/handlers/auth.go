package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crash-game/internal/auth"
	"crash-game/internal/models"
	"crash-game/internal/services"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *services.AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Challenge issues a message for the wallet to sign.
// POST /auth/challenge
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req models.ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	challenge, err := h.authService.Challenge(c.Request.Context(), req.WalletAddress, req.Chain)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nonce":      challenge.Nonce,
		"message":    challenge.Message,
		"expires_at": challenge.ExpiresAt,
	})
}

// WalletLogin exchanges a signed challenge for a token.
// POST /auth/wallet
func (h *AuthHandler) WalletLogin(c *gin.Context) {
	var req models.WalletLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.authService.WalletLogin(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	token, expires, err := auth.GenerateToken(user.ID, user.WalletAddress, user.Chain)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires,
		"user":       user,
	})
}

// Me returns the authenticated user.
// GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	user, err := h.authService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":     user,
		"is_admin": h.authService.IsAdmin(c.Request.Context(), user.ID, user.WalletAddress),
	})
}
