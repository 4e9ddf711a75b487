package models

import (
	"time"
)

// RoundStatus represents the lifecycle state of a round
type RoundStatus string

const (
	RoundStatusCommitted         RoundStatus = "committed"
	RoundStatusBetting           RoundStatus = "betting"
	RoundStatusRunning           RoundStatus = "running"
	RoundStatusCrashed           RoundStatus = "crashed"
	RoundStatusSettled           RoundStatus = "settled"
	RoundStatusSettledWithErrors RoundStatus = "settled_with_errors"
	RoundStatusVoided            RoundStatus = "voided"
)

// roundTransitions lists the statuses each status may move to
var roundTransitions = map[RoundStatus][]RoundStatus{
	RoundStatusCommitted: {RoundStatusBetting, RoundStatusVoided},
	RoundStatusBetting:   {RoundStatusRunning, RoundStatusVoided},
	RoundStatusRunning:   {RoundStatusCrashed, RoundStatusVoided},
	RoundStatusCrashed:   {RoundStatusSettled, RoundStatusSettledWithErrors, RoundStatusVoided},
}

// CanTransition reports whether from -> to is a legal forward move
func (s RoundStatus) CanTransition(to RoundStatus) bool {
	for _, next := range roundTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible
func (s RoundStatus) Terminal() bool {
	return len(roundTransitions[s]) == 0
}

// Round is one crash game round. CommitHash is published before betting and
// never changes; ServerSeed and CrashMultiplier stay empty until the crash.
type Round struct {
	ID              string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Nonce           uint64      `gorm:"uniqueIndex;not null" json:"nonce"`
	Status          RoundStatus `gorm:"size:24;not null;index" json:"status"`
	CommitHash      string      `gorm:"size:64;not null" json:"commit_hash"`
	ServerSeed      *string     `gorm:"size:64" json:"server_seed,omitempty"`
	HouseEdgeBps    int64       `gorm:"not null" json:"house_edge_bps"`
	CrashMultiplier *int64      `json:"crash_multiplier,omitempty"` // hundredths
	BettingEndsAt   *time.Time  `json:"betting_ends_at,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CrashedAt       *time.Time  `json:"crashed_at,omitempty"`
	SettledAt       *time.Time  `json:"settled_at,omitempty"`
	VoidReason      string      `gorm:"size:255" json:"void_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (Round) TableName() string {
	return "rounds"
}

// Revealed reports whether the server seed has been published
func (r *Round) Revealed() bool {
	return r.ServerSeed != nil && *r.ServerSeed != ""
}

// RoundResponse is the public view of a round. The seed is included only
// after it has been revealed.
type RoundResponse struct {
	ID              string      `json:"id"`
	Nonce           uint64      `json:"nonce"`
	Status          RoundStatus `json:"status"`
	CommitHash      string      `json:"commit_hash"`
	ServerSeed      string      `json:"server_seed,omitempty"`
	CrashMultiplier string      `json:"crash_multiplier,omitempty"`
	BettingEndsAt   *time.Time  `json:"betting_ends_at,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CrashedAt       *time.Time  `json:"crashed_at,omitempty"`
	VoidReason      string      `json:"void_reason,omitempty"`
}

// ToResponse converts a round to its public view
func (r *Round) ToResponse() RoundResponse {
	resp := RoundResponse{
		ID:            r.ID,
		Nonce:         r.Nonce,
		Status:        r.Status,
		CommitHash:    r.CommitHash,
		BettingEndsAt: r.BettingEndsAt,
		StartedAt:     r.StartedAt,
		CrashedAt:     r.CrashedAt,
		VoidReason:    r.VoidReason,
	}
	if r.Revealed() {
		resp.ServerSeed = *r.ServerSeed
	}
	if r.CrashMultiplier != nil {
		resp.CrashMultiplier = FormatMultiplier(*r.CrashMultiplier)
	}
	return resp
}
