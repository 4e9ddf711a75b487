package models

import (
	"strings"
	"time"
)

// Kill switch names
const (
	SwitchPauseBets        = "pause_bets"
	SwitchPauseWithdrawals = "pause_withdrawals"
	SwitchPauseDeposits    = "pause_deposits"
	SwitchPauseRounds      = "pause_rounds"
)

// AllSwitches lists every known kill switch
var AllSwitches = []string{SwitchPauseBets, SwitchPauseWithdrawals, SwitchPauseDeposits, SwitchPauseRounds}

// IsKnownSwitch reports whether name is a kill switch
func IsKnownSwitch(name string) bool {
	for _, s := range AllSwitches {
		if s == name {
			return true
		}
	}
	return false
}

// ControlFlag is the persisted state of one kill switch
type ControlFlag struct {
	Name      string    `gorm:"size:32;primaryKey" json:"name"`
	Enabled   bool      `gorm:"not null;default:false" json:"enabled"`
	Reason    string    `gorm:"size:255" json:"reason"`
	UpdatedBy string    `gorm:"size:64" json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ControlFlag) TableName() string {
	return "control_flags"
}

// IncidentKind classifies faults that need an operator
type IncidentKind string

const (
	IncidentLedgerReconciliation IncidentKind = "ledger_reconciliation"
	IncidentCustodyDrift         IncidentKind = "custody_drift"
	IncidentChainReorg           IncidentKind = "chain_reorg"
	IncidentSettlementFailure    IncidentKind = "settlement_failure"
	IncidentRefundFailure        IncidentKind = "refund_failure"
)

// Switches returns the kill switches an incident of this kind engages
func (k IncidentKind) Switches() []string {
	switch k {
	case IncidentLedgerReconciliation, IncidentCustodyDrift:
		return []string{SwitchPauseBets, SwitchPauseWithdrawals}
	case IncidentChainReorg:
		return []string{SwitchPauseDeposits}
	case IncidentSettlementFailure, IncidentRefundFailure:
		return []string{SwitchPauseBets}
	}
	return nil
}

const (
	IncidentOpen     = "open"
	IncidentResolved = "resolved"
)

// Incident is a persisted fault. Open incidents keep their switches engaged.
type Incident struct {
	ID         string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind       IncidentKind `gorm:"size:32;not null;index" json:"kind"`
	Status     string       `gorm:"size:16;not null;index" json:"status"`
	Subject    string       `gorm:"size:160;index" json:"subject"`
	Detail     string       `gorm:"type:text" json:"detail"`
	Switches   string       `gorm:"size:255" json:"switches"`
	Resolution string       `gorm:"type:text" json:"resolution,omitempty"`
	ResolvedBy string       `gorm:"size:64" json:"resolved_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

func (Incident) TableName() string {
	return "incidents"
}

// HoldsSwitch reports whether the incident engaged the named switch
func (i *Incident) HoldsSwitch(name string) bool {
	for _, s := range strings.Split(i.Switches, ",") {
		if s == name {
			return true
		}
	}
	return false
}

// SetSwitchRequest toggles a kill switch
type SetSwitchRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	Reason  string `json:"reason"`
}

// ResolveIncidentRequest closes an incident
type ResolveIncidentRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}
