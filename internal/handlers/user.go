package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crash-game/internal/auth"
	"crash-game/internal/models"
	"crash-game/internal/services"
)

// UserHandler handles player profile endpoints
type UserHandler struct {
	userService *services.UserService
	decimals    int32
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userService *services.UserService, decimals int32) *UserHandler {
	return &UserHandler{
		userService: userService,
		decimals:    decimals,
	}
}

// GetProfile returns the current user's profile and lifetime stats.
// GET /api/user/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	user, stats, err := h.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":  user,
		"stats": stats,
		"display": gin.H{
			"wagered":         models.FormatMinor(stats.Wagered, h.decimals),
			"net":             models.FormatMinor(stats.Net, h.decimals),
			"best_multiplier": models.FormatMultiplier(stats.BestMultiplier),
		},
	})
}

// UpdateNickname updates the current user's nickname.
// PUT /api/user/nickname
func (h *UserHandler) UpdateNickname(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req struct {
		Nickname string `json:"nickname" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.userService.UpdateNickname(c.Request.Context(), userID, req.Nickname); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Nickname updated successfully",
		"nickname": req.Nickname,
	})
}
