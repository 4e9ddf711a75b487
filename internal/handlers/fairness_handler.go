package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crash-game/internal/fairness"
	"crash-game/internal/repository"
)

// FairnessHandler lets anyone check a revealed round
type FairnessHandler struct {
	repo *repository.Repository
}

func NewFairnessHandler(repo *repository.Repository) *FairnessHandler {
	return &FairnessHandler{repo: repo}
}

// VerifyRound recomputes a stored round from its revealed seed.
// GET /api/fairness/rounds/:id
func (h *FairnessHandler) VerifyRound(c *gin.Context) {
	round, err := h.repo.GetRound(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !round.Revealed() {
		c.JSON(http.StatusConflict, gin.H{
			"error":       "seed not revealed yet",
			"code":        "not_revealed",
			"retryable":   true,
			"commit_hash": round.CommitHash,
			"status":      round.Status,
		})
		return
	}

	v := fairness.Verify(*round.ServerSeed, round.ID, round.Nonce, round.CommitHash, round.HouseEdgeBps)
	// the recorded crash point must match the recomputed one
	if v.Valid && round.CrashMultiplier != nil && v.CrashMultiplier != fairness.Multiplier(*round.CrashMultiplier).String() {
		v.Valid = false
		v.Reason = "recorded crash multiplier differs"
	}
	c.JSON(http.StatusOK, gin.H{
		"round":        round.ToResponse(),
		"verification": v,
	})
}

// Verify checks caller-supplied values without touching stored rounds.
// POST /api/fairness/verify
func (h *FairnessHandler) Verify(c *gin.Context) {
	var req struct {
		ServerSeed   string `json:"server_seed" binding:"required"`
		RoundID      string `json:"round_id" binding:"required"`
		Nonce        uint64 `json:"nonce"`
		CommitHash   string `json:"commit_hash" binding:"required"`
		HouseEdgeBps *int64 `json:"house_edge_bps"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	edge := fairness.DefaultHouseEdgeBps
	if req.HouseEdgeBps != nil {
		edge = *req.HouseEdgeBps
	}
	c.JSON(http.StatusOK, fairness.Verify(req.ServerSeed, req.RoundID, req.Nonce, req.CommitHash, edge))
}
