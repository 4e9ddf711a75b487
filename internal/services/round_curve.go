package services

import (
	"math"
	"time"

	"crash-game/internal/fairness"

	"github.com/holiman/uint256"
)

// MultiplierAt returns the curve value in hundredths after elapsed time:
// floor(100 * e^(rate * ms))
func MultiplierAt(elapsed time.Duration, ratePerMs float64) int64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return int64(fairness.MinMultiplier)
	}
	m := math.Floor(100 * math.Exp(ratePerMs*float64(ms)))
	if m >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(m)
}

// CrashDelay returns the first whole millisecond at which the curve reaches
// the crash multiplier
func CrashDelay(crash fairness.Multiplier, ratePerMs float64) time.Duration {
	if crash <= fairness.MinMultiplier {
		return 0
	}

	target := int64(crash)
	ms := int64(math.Ceil(math.Log(float64(target)/100) / ratePerMs))
	if ms < 0 {
		ms = 0
	}
	for ms > 0 && MultiplierAt(time.Duration(ms-1)*time.Millisecond, ratePerMs) >= target {
		ms--
	}
	for MultiplierAt(time.Duration(ms)*time.Millisecond, ratePerMs) < target {
		ms++
	}
	return time.Duration(ms) * time.Millisecond
}

// payoutFor returns floor(amount * multiplier / 100). ok is false when the
// result does not fit an int64.
func payoutFor(amount, multiplier int64) (int64, bool) {
	if amount < 0 || multiplier < 0 {
		return 0, false
	}
	p, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(uint64(amount)),
		uint256.NewInt(uint64(multiplier)),
		uint256.NewInt(100),
	)
	if overflow || !p.IsUint64() || p.Uint64() > math.MaxInt64 {
		return 0, false
	}
	return int64(p.Uint64()), true
}
