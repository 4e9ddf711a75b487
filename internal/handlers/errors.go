package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"crash-game/internal/blockchain"
	"crash-game/internal/services"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{services.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{services.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	{services.ErrDuplicateOperation, http.StatusConflict, "duplicate_operation"},
	{services.ErrRoundStateViolation, http.StatusConflict, "round_state_violation"},
	{services.ErrRefIDConflict, http.StatusConflict, "ref_id_conflict"},
	{services.ErrBetExists, http.StatusConflict, "bet_exists"},
	{services.ErrWithdrawalState, http.StatusConflict, "withdrawal_state"},
	{services.ErrDepositState, http.StatusConflict, "deposit_state"},
	{services.ErrIncidentOpen, http.StatusConflict, "incident_open"},
	{services.ErrNicknameTaken, http.StatusConflict, "nickname_taken"},
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{services.ErrInvalidAutoCashout, http.StatusBadRequest, "invalid_auto_cashout"},
	{services.ErrInvalidRefID, http.StatusBadRequest, "invalid_ref_id"},
	{services.ErrReservedRefID, http.StatusBadRequest, "reserved_ref_id"},
	{services.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{services.ErrInvalidNickname, http.StatusBadRequest, "invalid_nickname"},
	{services.ErrUnknownSwitch, http.StatusBadRequest, "unknown_switch"},
	{blockchain.ErrUnsupportedChain, http.StatusBadRequest, "unsupported_chain"},
	{services.ErrChallengeInvalid, http.StatusUnauthorized, "challenge_invalid"},
	{blockchain.ErrBadSignature, http.StatusUnauthorized, "bad_signature"},
	{services.ErrOperationPaused, http.StatusServiceUnavailable, "operation_paused"},
	{services.ErrEngineBusy, http.StatusServiceUnavailable, "engine_busy"},
	{services.ErrBetNotFound, http.StatusNotFound, "bet_not_found"},
	{services.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{services.ErrWithdrawalNotFound, http.StatusNotFound, "withdrawal_not_found"},
	{services.ErrIncidentNotFound, http.StatusNotFound, "incident_not_found"},
	{services.ErrDepositNotFound, http.StatusNotFound, "deposit_not_found"},
	{gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
}

// respondError maps a service error to a status code and error body
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			c.JSON(m.status, gin.H{
				"error":     err.Error(),
				"code":      m.code,
				"retryable": services.IsRetryable(err),
			})
			return
		}
	}
	log.Printf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":     "internal error",
		"code":      "internal_error",
		"retryable": true,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request", "retryable": false})
}
