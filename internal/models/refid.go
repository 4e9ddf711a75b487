package models

import "strings"

// Ledger refIDs share one unique index. Keys the server derives itself carry
// one of these prefixes; client-supplied refIDs may not.
const (
	RefPrefixSettle   = "settle:"
	RefPrefixCashout  = "cashout:"
	RefPrefixRefund   = "refund:"
	RefPrefixDeposit  = "deposit:"
	RefPrefixReversal = "reversal:"
)

var reservedRefPrefixes = []string{
	RefPrefixSettle,
	RefPrefixCashout,
	RefPrefixRefund,
	RefPrefixDeposit,
	RefPrefixReversal,
}

// SettleRefID keys the loss settlement of a bet
func SettleRefID(betID string) string { return RefPrefixSettle + betID }

// CashoutRefID keys the winning settlement of a bet
func CashoutRefID(betID string) string { return RefPrefixCashout + betID }

// RefundRefID keys the refund of a bet in a voided round
func RefundRefID(betID string) string { return RefPrefixRefund + betID }

// IsReservedRefID reports whether ref falls in a server-derived namespace
func IsReservedRefID(ref string) bool {
	for _, p := range reservedRefPrefixes {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}
