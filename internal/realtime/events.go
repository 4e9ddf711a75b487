package realtime

import (
	"encoding/json"
	"time"
)

// Payload is the closed set of event bodies. Only types in this package
// implement it.
type Payload interface {
	EventType() string
	sealed()
}

type RoundCommitted struct {
	RoundID    string `json:"round_id"`
	Nonce      uint64 `json:"nonce"`
	CommitHash string `json:"commit_hash"`
}

type BettingOpened struct {
	RoundID    string    `json:"round_id"`
	ClosesAt   time.Time `json:"closes_at"`
	BetsPaused bool      `json:"bets_paused"`
}

type RoundStarted struct {
	RoundID   string    `json:"round_id"`
	StartedAt time.Time `json:"started_at"`
}

type Tick struct {
	RoundID    string `json:"round_id"`
	Multiplier int64  `json:"multiplier"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

type BetPlaced struct {
	RoundID     string `json:"round_id"`
	BetID       string `json:"bet_id"`
	UserID      uint   `json:"user_id"`
	Amount      int64  `json:"amount"`
	AutoCashout *int64 `json:"auto_cashout,omitempty"`
}

type BetCashedOut struct {
	RoundID    string `json:"round_id"`
	BetID      string `json:"bet_id"`
	UserID     uint   `json:"user_id"`
	Multiplier int64  `json:"multiplier"`
	Payout     int64  `json:"payout"`
	Auto       bool   `json:"auto"`
}

type RoundCrashed struct {
	RoundID         string    `json:"round_id"`
	CrashMultiplier int64     `json:"crash_multiplier"`
	CrashedAt       time.Time `json:"crashed_at"`
}

type SeedRevealed struct {
	RoundID         string `json:"round_id"`
	ServerSeed      string `json:"server_seed"`
	Nonce           uint64 `json:"nonce"`
	CommitHash      string `json:"commit_hash"`
	CrashMultiplier int64  `json:"crash_multiplier"`
}

type RoundSettled struct {
	RoundID    string `json:"round_id"`
	WithErrors bool   `json:"with_errors"`
	Lost       int    `json:"lost"`
	Failed     int    `json:"failed"`
}

type RoundVoided struct {
	RoundID  string `json:"round_id"`
	Reason   string `json:"reason"`
	Refunded int    `json:"refunded"`
}

type EnginePaused struct {
	Switch     string `json:"switch"`
	Reason     string `json:"reason"`
	IncidentID string `json:"incident_id,omitempty"`
}

func (RoundCommitted) EventType() string { return "round_committed" }
func (BettingOpened) EventType() string  { return "betting_opened" }
func (RoundStarted) EventType() string   { return "round_started" }
func (Tick) EventType() string           { return "tick" }
func (BetPlaced) EventType() string      { return "bet_placed" }
func (BetCashedOut) EventType() string   { return "bet_cashed_out" }
func (RoundCrashed) EventType() string   { return "round_crashed" }
func (SeedRevealed) EventType() string   { return "seed_revealed" }
func (RoundSettled) EventType() string   { return "round_settled" }
func (RoundVoided) EventType() string    { return "round_voided" }
func (EnginePaused) EventType() string   { return "engine_paused" }

func (RoundCommitted) sealed() {}
func (BettingOpened) sealed()  {}
func (RoundStarted) sealed()   {}
func (Tick) sealed()           {}
func (BetPlaced) sealed()      {}
func (BetCashedOut) sealed()   {}
func (RoundCrashed) sealed()   {}
func (SeedRevealed) sealed()   {}
func (RoundSettled) sealed()   {}
func (RoundVoided) sealed()    {}
func (EnginePaused) sealed()   {}

// Event is a published payload with its position in the stream
type Event struct {
	ID      uint64
	Epoch   string
	At      time.Time
	Payload Payload
}

// MarshalJSON encodes the event as {"id","epoch","type","at","data"}
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID    uint64    `json:"id"`
		Epoch string    `json:"epoch"`
		Type  string    `json:"type"`
		At    time.Time `json:"at"`
		Data  Payload   `json:"data"`
	}{e.ID, e.Epoch, e.Payload.EventType(), e.At, e.Payload})
}
