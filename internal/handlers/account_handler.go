package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crash-game/internal/auth"
	"crash-game/internal/models"
	"crash-game/internal/services"
)

// AccountHandler serves balances, the journal and withdrawals
type AccountHandler struct {
	ledger      *services.LedgerService
	withdrawals *services.WithdrawalService
	decimals    int32
}

func NewAccountHandler(ledger *services.LedgerService, withdrawals *services.WithdrawalService, decimals int32) *AccountHandler {
	return &AccountHandler{
		ledger:      ledger,
		withdrawals: withdrawals,
		decimals:    decimals,
	}
}

// GetAccount returns the caller's balances.
// GET /api/account
func (h *AccountHandler) GetAccount(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	ctx := c.Request.Context()

	if err := h.ledger.EnsureAccount(ctx, userID); err != nil {
		respondError(c, err)
		return
	}
	acct, err := h.ledger.GetAccount(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct.ToResponse(h.decimals))
}

// ListEntries returns the caller's journal newest first.
// GET /api/account/entries
func (h *AccountHandler) ListEntries(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	limit, offset := pagination(c)

	entries, err := h.ledger.ListEntries(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   entries,
		"limit":  limit,
		"offset": offset,
	})
}

// RequestWithdrawal debits the caller and queues a payment.
// POST /api/account/withdrawals
func (h *AccountHandler) RequestWithdrawal(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req models.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := models.ParseMinor(req.Amount, h.decimals)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.withdrawals.Request(c.Request.Context(), userID, amount, req.ToAddress, req.RefID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// ListWithdrawals returns the caller's withdrawals.
// GET /api/account/withdrawals
func (h *AccountHandler) ListWithdrawals(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	limit, _ := pagination(c)

	ws, err := h.ledger.ListWithdrawals(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ws})
}
