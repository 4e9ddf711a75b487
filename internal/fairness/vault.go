package fairness

import (
	"crypto/rand"
	"io"
	"sync"
)

type vaultEntry struct {
	seed     string
	nonce    uint64
	mult     Multiplier
	revealed bool
}

// Vault keeps unrevealed seeds in process memory. Seeds are never persisted
// before reveal, so a restart loses them and the affected rounds are voided.
type Vault struct {
	mu      sync.Mutex
	rand    io.Reader
	edgeBps int64
	rounds  map[string]*vaultEntry
}

// NewVault creates a vault using crypto/rand
func NewVault(houseEdgeBps int64) *Vault {
	return NewVaultWithReader(rand.Reader, houseEdgeBps)
}

// NewVaultWithReader creates a vault drawing entropy from r
func NewVaultWithReader(r io.Reader, houseEdgeBps int64) *Vault {
	return &Vault{
		rand:    r,
		edgeBps: houseEdgeBps,
		rounds:  make(map[string]*vaultEntry),
	}
}

// HouseEdgeBps returns the edge used for derivation
func (v *Vault) HouseEdgeBps() int64 {
	return v.edgeBps
}

// Commit generates the round's seed and returns its commitment
func (v *Vault) Commit(roundID string, nonce uint64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.rounds[roundID]; ok {
		return "", ErrAlreadyExists
	}

	seed, err := GenerateSeed(v.rand)
	if err != nil {
		return "", err
	}
	m, _, err := CrashPoint(seed, v.edgeBps)
	if err != nil {
		return "", err
	}
	commit, err := CommitHash(seed, roundID, nonce)
	if err != nil {
		return "", err
	}

	v.rounds[roundID] = &vaultEntry{seed: seed, nonce: nonce, mult: m}
	return commit, nil
}

// CrashPoint returns the committed multiplier without revealing the seed.
// Only the round engine may call it.
func (v *Vault) CrashPoint(roundID string) (Multiplier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.rounds[roundID]
	if !ok {
		return 0, ErrUnknownRound
	}
	return e.mult, nil
}

// Reveal marks the round revealed and returns its seed and multiplier
func (v *Vault) Reveal(roundID string) (string, Multiplier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.rounds[roundID]
	if !ok {
		return "", 0, ErrUnknownRound
	}
	e.revealed = true
	return e.seed, e.mult, nil
}

// Forget drops a round's seed
func (v *Vault) Forget(roundID string) {
	v.mu.Lock()
	delete(v.rounds, roundID)
	v.mu.Unlock()
}

// Pending returns the number of rounds held
func (v *Vault) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.rounds)
}
