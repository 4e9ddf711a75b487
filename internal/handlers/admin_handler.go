package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crash-game/internal/auth"
	"crash-game/internal/models"
	"crash-game/internal/repository"
	"crash-game/internal/services"
)

// AdminHandler serves operator endpoints. Every mutation is written to the
// admin log.
type AdminHandler struct {
	adminService *services.AdminService
	control      *services.ControlService
	reconciler   *services.ReconciliationService
	indexer      *services.DepositIndexer
	withdrawals  *services.WithdrawalService
	ledger       *services.LedgerService
	repo         *repository.Repository
	decimals     int32
}

// NewAdminHandler wires the operator endpoints. indexer is nil when no chain
// is configured.
func NewAdminHandler(
	adminService *services.AdminService,
	control *services.ControlService,
	reconciler *services.ReconciliationService,
	indexer *services.DepositIndexer,
	withdrawals *services.WithdrawalService,
	ledger *services.LedgerService,
	repo *repository.Repository,
	decimals int32,
) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		control:      control,
		reconciler:   reconciler,
		indexer:      indexer,
		withdrawals:  withdrawals,
		ledger:       ledger,
		repo:         repo,
		decimals:     decimals,
	}
}

func actor(c *gin.Context) (uint, string) {
	id, _ := auth.GetUserID(c)
	return id, fmt.Sprintf("user:%d", id)
}

func (h *AdminHandler) audit(c *gin.Context, action, resourceType, resourceID string, details map[string]interface{}) {
	adminID, _ := actor(c)
	if err := h.adminService.LogAdminAction(c.Request.Context(), adminID, action, resourceType, resourceID, details); err != nil {
		c.Error(err)
	}
}

// ListSwitches returns every kill switch.
// GET /api/admin/switches
func (h *AdminHandler) ListSwitches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.control.Flags()})
}

// SetSwitch engages or clears a kill switch.
// PUT /api/admin/switches/:name
func (h *AdminHandler) SetSwitch(c *gin.Context) {
	var req models.SetSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, who := actor(c)
	name := c.Param("name")

	flag, err := h.control.SetSwitch(c.Request.Context(), name, *req.Enabled, who, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "set_switch", "switch", name, map[string]interface{}{"enabled": *req.Enabled, "reason": req.Reason})
	c.JSON(http.StatusOK, flag)
}

// ListIncidents returns incidents, optionally by status.
// GET /api/admin/incidents
func (h *AdminHandler) ListIncidents(c *gin.Context) {
	limit, _ := pagination(c)
	incidents, err := h.control.ListIncidents(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": incidents})
}

// ResolveIncident closes an incident; its switches stay engaged.
// POST /api/admin/incidents/:id/resolve
func (h *AdminHandler) ResolveIncident(c *gin.Context) {
	var req models.ResolveIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, who := actor(c)

	incident, err := h.control.ResolveIncident(c.Request.Context(), c.Param("id"), who, req.Resolution)
	if err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "resolve_incident", "incident", incident.ID, map[string]interface{}{"resolution": req.Resolution})
	c.JSON(http.StatusOK, incident)
}

// Reconcile runs the account and custody checks now.
// POST /api/admin/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListDeposits returns recorded deposits, optionally by status.
// GET /api/admin/deposits
func (h *AdminHandler) ListDeposits(c *gin.Context) {
	limit, _ := pagination(c)
	deps, err := h.repo.ListDeposits(c.Request.Context(), models.DepositStatus(c.Query("status")), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deps})
}

// ReprocessDeposits rescans a block range.
// POST /api/admin/deposits/reprocess
func (h *AdminHandler) ReprocessDeposits(c *gin.Context) {
	if h.indexer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no chain configured", "code": "indexer_disabled", "retryable": false})
		return
	}
	var req models.ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.indexer.Reprocess(c.Request.Context(), req.FromBlock, req.ToBlock); err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "reprocess_deposits", "blocks", fmt.Sprintf("%d-%d", req.FromBlock, req.ToBlock), nil)
	c.JSON(http.StatusOK, gin.H{"from_block": req.FromBlock, "to_block": req.ToBlock})
}

// AssignDeposit attributes an unattributed deposit to a user.
// POST /api/admin/deposits/:tx/assign
func (h *AdminHandler) AssignDeposit(c *gin.Context) {
	if h.indexer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no chain configured", "code": "indexer_disabled", "retryable": false})
		return
	}
	var req models.AssignDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dep, err := h.indexer.AssignDeposit(c.Request.Context(), c.Param("tx"), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "assign_deposit", "deposit", dep.TxHash, map[string]interface{}{"user_id": req.UserID})
	c.JSON(http.StatusOK, dep)
}

// ListWithdrawals returns withdrawals in a status, oldest first.
// GET /api/admin/withdrawals
func (h *AdminHandler) ListWithdrawals(c *gin.Context) {
	limit, _ := pagination(c)
	status := models.WithdrawalStatus(c.DefaultQuery("status", string(models.WithdrawalProcessing)))
	ws, err := h.ledger.ListWithdrawalsByStatus(c.Request.Context(), status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ws})
}

// CompleteWithdrawal records an operator-sent payment.
// POST /api/admin/withdrawals/:ref/complete
func (h *AdminHandler) CompleteWithdrawal(c *gin.Context) {
	var req models.CompleteWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ref := c.Param("ref")

	w, err := h.withdrawals.Complete(c.Request.Context(), ref, req.TxHash)
	if err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "complete_withdrawal", "withdrawal", ref, map[string]interface{}{"tx_hash": req.TxHash})
	c.JSON(http.StatusOK, w)
}

// FailWithdrawal rejects an unsent withdrawal and credits it back.
// POST /api/admin/withdrawals/:ref/fail
func (h *AdminHandler) FailWithdrawal(c *gin.Context) {
	var req models.FailWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ref := c.Param("ref")

	res, err := h.withdrawals.Fail(c.Request.Context(), ref, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "fail_withdrawal", "withdrawal", ref, map[string]interface{}{"reason": req.Reason})
	c.JSON(http.StatusOK, res)
}

// Adjust applies an operator balance correction.
// POST /api/admin/adjustments
func (h *AdminHandler) Adjust(c *gin.Context) {
	var req models.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	delta, err := models.ParseMinor(req.Amount, h.decimals)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.ledger.Adjust(c.Request.Context(), req.UserID, delta, req.RefID, req.Memo)
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Duplicate {
		h.audit(c, "adjust_balance", "account", strconv.FormatUint(uint64(req.UserID), 10),
			map[string]interface{}{"amount": delta, "ref_id": req.RefID, "memo": req.Memo})
	}
	c.JSON(http.StatusOK, res)
}

// GetStats returns round and house totals.
// GET /api/admin/stats
func (h *AdminHandler) GetStats(c *gin.Context) {
	stats, err := h.adminService.Stats(c.Request.Context(), h.ledger.HouseUserID())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetAdminLogs returns admin activity logs.
// GET /api/admin/logs
func (h *AdminHandler) GetAdminLogs(c *gin.Context) {
	limit, offset := pagination(c)
	logs, err := h.adminService.GetAdminLogs(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs, "limit": limit, "offset": offset})
}

// PromoteToAdmin grants a user an operator role.
// POST /api/admin/users/:id/promote
func (h *AdminHandler) PromoteToAdmin(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, err)
		return
	}
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	adminID, _ := actor(c)

	admin, err := h.adminService.PromoteUserToAdmin(c.Request.Context(), uint(userID), req.Role, adminID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, admin)
}
