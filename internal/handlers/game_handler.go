package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crash-game/internal/auth"
	"crash-game/internal/models"
	"crash-game/internal/realtime"
	"crash-game/internal/repository"
	"crash-game/internal/services"
)

// GameHandler serves rounds and bets
type GameHandler struct {
	engine      *services.RoundEngine
	repo        *repository.Repository
	broadcaster *realtime.Broadcaster
	decimals    int32
}

func NewGameHandler(engine *services.RoundEngine, repo *repository.Repository, broadcaster *realtime.Broadcaster, decimals int32) *GameHandler {
	return &GameHandler{
		engine:      engine,
		repo:        repo,
		broadcaster: broadcaster,
		decimals:    decimals,
	}
}

// CurrentRound returns the live round view and recent crash points.
// GET /api/rounds/current
func (h *GameHandler) CurrentRound(c *gin.Context) {
	c.JSON(http.StatusOK, h.broadcaster.Snapshot())
}

// ListRounds returns rounds newest first.
// GET /api/rounds
func (h *GameHandler) ListRounds(c *gin.Context) {
	limit, offset := pagination(c)

	rounds, total, err := h.repo.ListRounds(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	data := make([]models.RoundResponse, 0, len(rounds))
	for _, r := range rounds {
		data = append(data, r.ToResponse())
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   data,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRound returns a round with its bets.
// GET /api/rounds/:id
func (h *GameHandler) GetRound(c *gin.Context) {
	ctx := c.Request.Context()
	round, err := h.repo.GetRound(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	bets, err := h.repo.ListRoundBets(ctx, round.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]models.BetResponse, 0, len(bets))
	for _, b := range bets {
		views = append(views, b.ToResponse(h.decimals))
	}
	c.JSON(http.StatusOK, gin.H{
		"round": round.ToResponse(),
		"bets":  views,
	})
}

// PlaceBet stakes on the round that is taking bets.
// POST /api/bets
func (h *GameHandler) PlaceBet(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req models.PlaceBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := models.ParseMinor(req.Amount, h.decimals)
	if err != nil {
		badRequest(c, err)
		return
	}

	betReq := services.BetRequest{
		UserID:          userID,
		Amount:          amount,
		RefID:           req.RefID,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.AutoCashout != "" {
		auto, err := models.ParseMultiplier(req.AutoCashout)
		if err != nil {
			badRequest(c, err)
			return
		}
		betReq.AutoCashout = &auto
	}

	res, err := h.engine.PlaceBet(c.Request.Context(), betReq)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"bet":       res.Bet.ToResponse(h.decimals),
		"account":   res.Account,
		"duplicate": res.Duplicate,
	})
}

// CashOut takes the caller's bet out at the current multiplier.
// POST /api/bets/:id/cashout
func (h *GameHandler) CashOut(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	res, err := h.engine.CashOut(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cashout":            res,
		"multiplier_display": models.FormatMultiplier(res.Multiplier),
		"payout_display":     models.FormatMinor(res.Payout, h.decimals),
	})
}

// ListBets returns the caller's bets newest first.
// GET /api/bets
func (h *GameHandler) ListBets(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	limit, offset := pagination(c)

	bets, total, err := h.repo.ListUserBets(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	data := make([]models.BetResponse, 0, len(bets))
	for _, b := range bets {
		data = append(data, b.ToResponse(h.decimals))
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   data,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// pagination reads limit and offset, capping limit at 100
func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
