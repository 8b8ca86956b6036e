package domain

import (
	"github.com/holiman/uint256"
)

var (
	// MaxLockAmount bounds the amount locked by a single position so that
	// every product computed by the ledger fits in 256 bits.
	MaxLockAmount = new(uint256.Int).Sub(
		new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1),
	)

	maxLockCycles   = uint256.NewInt(uint64(MaxLockCycles))
	splitBase       = uint256.NewInt(uint64(MaxLockCycles) * uint64(MaxSplitPercent))
	epochLength     = uint256.NewInt(uint64(EpochLength))
	maxBPS          = uint256.NewInt(uint64(MaxBPS))
	uint256Overflow = "uint256 overflow"
)

func zero() *uint256.Int {
	return new(uint256.Int)
}

func u64(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func valueOf(v *uint256.Int) *uint256.Int {
	if v == nil {
		return zero()
	}
	return v
}

// add returns a new a+b, nil values count as zero.
func add(a, b *uint256.Int) *uint256.Int {
	sum, overflow := new(uint256.Int).AddOverflow(valueOf(a), valueOf(b))
	if overflow {
		panic(uint256Overflow)
	}
	return sum
}

// sub returns a new a-b and panics on underflow: all callers subtract terms
// that were previously added to the same aggregate.
func sub(a, b *uint256.Int) *uint256.Int {
	diff, underflow := new(uint256.Int).SubOverflow(valueOf(a), valueOf(b))
	if underflow {
		panic("uint256 underflow")
	}
	return diff
}

// mul returns a new a*b.
func mul(a, b *uint256.Int) *uint256.Int {
	prod, overflow := new(uint256.Int).MulOverflow(valueOf(a), valueOf(b))
	if overflow {
		panic(uint256Overflow)
	}
	return prod
}

// mulDiv returns floor(x*y/d) computed on a 512-bit intermediate, 0 if d is 0.
func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	if d == nil || d.IsZero() {
		return zero()
	}
	res, overflow := new(uint256.Int).MulDivOverflow(valueOf(x), valueOf(y), d)
	if overflow {
		panic(uint256Overflow)
	}
	return res
}

// VoteSlope is the per-cycle decay of the vote weight of a lock of the given
// amount.
func VoteSlope(amount *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(valueOf(amount), maxLockCycles)
}

// FullYieldShare is the yield share of a lock over every epoch it fully
// covers: amount * duration * split / (96 * 100).
func FullYieldShare(amount *uint256.Int, durationCycles uint32, split uint8) *uint256.Int {
	return mulDiv(valueOf(amount), u64(uint64(durationCycles)*uint64(split)), splitBase)
}

// BonusWeight is the non-decaying weight fed by the complement of the split:
// amount * duration * (100 - split) / (96 * 100).
func BonusWeight(amount *uint256.Int, durationCycles uint32, split uint8) *uint256.Int {
	complement := uint64(MaxSplitPercent - split)
	return mulDiv(valueOf(amount), u64(uint64(durationCycles)*complement), splitBase)
}

// PartialShare pro-rates a yield share delta over the cycles left in the
// epoch in progress at the given cycle.
func PartialShare(delta *uint256.Int, cycle uint32) *uint256.Int {
	return mulDiv(delta, u64(uint64(CyclesLeftInEpoch(cycle))), epochLength)
}

// Pct returns the basis-points fraction of v.
func Pct(v *uint256.Int, bps uint32) *uint256.Int {
	return mulDiv(v, u64(uint64(bps)), maxBPS)
}
