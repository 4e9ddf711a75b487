// Package fairness implements the commit-reveal scheme that fixes each
// round's crash multiplier before any bet is accepted.
//
// A round's secret is a 32 byte seed. Before betting opens the engine
// publishes
//
//	commit = SHA256(seed || roundID || uint64_be(nonce))
//
// and after the crash it publishes the seed. The multiplier is derived from
// the seed alone:
//
//	x = Keccak256(seed) mod 2^52      (x = 1 when zero)
//	m = floor((10000 - edgeBps) * 2^52 / (100 * x))   in hundredths
//
// clamped to [1.00, 1000.00]. Everything is integer arithmetic so any
// verifier gets the same answer.
package fairness

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

const (
	// SeedBytes is the server seed length (256 bits)
	SeedBytes = 32

	// DefaultHouseEdgeBps is a 1% house edge
	DefaultHouseEdgeBps int64 = 100

	// MinMultiplier and MaxMultiplier bound the result, in hundredths
	MinMultiplier Multiplier = 100
	MaxMultiplier Multiplier = 100000

	bpsDenominator = 10000
	entropyBits    = 52
)

var (
	ErrInvalidSeed   = errors.New("fairness: seed must be 64 hex characters")
	ErrInvalidEdge   = errors.New("fairness: house edge must be in [0, 10000) bps")
	ErrUnknownRound  = errors.New("fairness: no seed committed for round")
	ErrAlreadyExists = errors.New("fairness: round already committed")
)

// Multiplier is a crash or cash-out multiplier in hundredths (185 == 1.85x)
type Multiplier int64

func (m Multiplier) String() string {
	return fmt.Sprintf("%d.%02d", int64(m)/100, int64(m)%100)
}

// Step is one line of the public derivation transcript
type Step struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// GenerateSeed reads a fresh seed from r (crypto/rand in production)
func GenerateSeed(r io.Reader) (string, error) {
	b := make([]byte, SeedBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read seed entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func decodeSeed(seedHex string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil || len(b) != SeedBytes {
		return nil, ErrInvalidSeed
	}
	return b, nil
}

// CommitHash returns hex(SHA256(seed || roundID || uint64_be(nonce)))
func CommitHash(seedHex, roundID string, nonce uint64) (string, error) {
	seed, err := decodeSeed(seedHex)
	if err != nil {
		return "", err
	}
	return commitHash(seed, roundID, nonce), nil
}

func commitHash(seed []byte, roundID string, nonce uint64) string {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)

	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(roundID))
	h.Write(n[:])
	return hex.EncodeToString(h.Sum(nil))
}

// CrashPoint derives the crash multiplier for a seed
func CrashPoint(seedHex string, houseEdgeBps int64) (Multiplier, []Step, error) {
	if houseEdgeBps < 0 || houseEdgeBps >= bpsDenominator {
		return 0, nil, ErrInvalidEdge
	}
	seed, err := decodeSeed(seedHex)
	if err != nil {
		return 0, nil, err
	}

	kh := sha3.NewLegacyKeccak256()
	kh.Write(seed)
	digest := kh.Sum(nil)

	x := binary.BigEndian.Uint64(digest[24:]) & (1<<entropyBits - 1)
	steps := []Step{
		{Name: "keccak256(seed)", Value: hex.EncodeToString(digest)},
		{Name: "x = h mod 2^52", Value: fmt.Sprintf("%d", x)},
	}
	if x == 0 {
		x = 1
		steps = append(steps, Step{Name: "x clamped to epsilon", Value: "1"})
	}

	// (10000 - bps) * 2^52 exceeds 64 bits
	num := uint256.NewInt(uint64(bpsDenominator - houseEdgeBps))
	num.Lsh(num, entropyBits)
	den := uint256.NewInt(x)
	den.Mul(den, uint256.NewInt(100))
	q := new(uint256.Int).Div(num, den)

	var m Multiplier
	if !q.IsUint64() || q.Uint64() > uint64(MaxMultiplier) {
		m = MaxMultiplier
	} else {
		m = Multiplier(q.Uint64())
	}
	steps = append(steps, Step{Name: "floor((10000-edge)*2^52/(100*x))", Value: q.Dec()})
	if m < MinMultiplier {
		m = MinMultiplier
	}
	steps = append(steps, Step{Name: "crash multiplier", Value: m.String()})

	return m, steps, nil
}

// Verification is the result of checking a revealed round
type Verification struct {
	Valid           bool   `json:"valid"`
	Reason          string `json:"reason,omitempty"`
	ServerSeed      string `json:"server_seed"`
	RoundID         string `json:"round_id"`
	Nonce           uint64 `json:"nonce"`
	CommitHash      string `json:"commit_hash"`
	ComputedCommit  string `json:"computed_commit"`
	CrashMultiplier string `json:"crash_multiplier,omitempty"`
	DerivationSteps []Step `json:"derivation_steps"`
}

// Verify recomputes the commitment and multiplier from public data
func Verify(seedHex, roundID string, nonce uint64, commit string, houseEdgeBps int64) Verification {
	v := Verification{
		ServerSeed: seedHex,
		RoundID:    roundID,
		Nonce:      nonce,
		CommitHash: commit,
	}

	seed, err := decodeSeed(seedHex)
	if err != nil {
		v.Reason = err.Error()
		return v
	}
	v.ComputedCommit = commitHash(seed, roundID, nonce)
	v.DerivationSteps = append(v.DerivationSteps, Step{Name: "sha256(seed||roundId||nonce)", Value: v.ComputedCommit})

	m, steps, err := CrashPoint(seedHex, houseEdgeBps)
	if err != nil {
		v.Reason = err.Error()
		return v
	}
	v.CrashMultiplier = m.String()
	v.DerivationSteps = append(v.DerivationSteps, steps...)

	if subtle.ConstantTimeCompare([]byte(v.ComputedCommit), []byte(strings.ToLower(commit))) != 1 {
		v.Reason = "commit hash mismatch"
		return v
	}
	v.Valid = true
	return v
}
