package domain

import (
	"math"
	"time"
)

const (
	// EpochLength is the number of cycles in an epoch. Epoch k covers cycles
	// [EpochLength*(k-1), EpochLength*k) and closes at cycle EpochLength*k.
	EpochLength uint32 = 12
	// MaxLockCycles is the maximum span of a lock, 8 epochs.
	MaxLockCycles uint32 = 96
	// SplitGranularity is the step of the yield split percentage.
	SplitGranularity uint8 = 10
	// MaxSplitPercent is the upper bound of the yield split percentage.
	MaxSplitPercent uint8 = 100
	// MaxBPS is 100% expressed in basis points.
	MaxBPS uint32 = 10000
	// VoteCooldownCycles is the window during which a vote on the same gauge
	// can't be changed.
	VoteCooldownCycles uint32 = 10
)

// EpochOf returns the epoch in progress at the given cycle.
func EpochOf(cycle uint32) uint32 {
	return cycle/EpochLength + 1
}

// EpochCloseCycle returns the cycle at which the given epoch closes,
// saturated to math.MaxUint32 for epochs no cycle counter can reach.
func EpochCloseCycle(epoch uint32) uint32 {
	closesAt := uint64(epoch) * uint64(EpochLength)
	if closesAt > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(closesAt)
}

// IsEpochClosed returns true if the epoch is over at the given cycle.
func IsEpochClosed(epoch, cycle uint32) bool {
	return epoch > 0 && uint64(cycle) >= uint64(epoch)*uint64(EpochLength)
}

// IsEpochAligned returns true if the cycle is an epoch boundary.
func IsEpochAligned(cycle uint32) bool {
	return cycle%EpochLength == 0
}

// CyclesLeftInEpoch returns how many cycles of the epoch in progress, the
// given one included, are still to elapse.
func CyclesLeftInEpoch(cycle uint32) uint32 {
	return EpochCloseCycle(EpochOf(cycle)) - cycle
}

// CycleClock turns wall-clock time into the discrete cycle counter.
// It only moves forward, one cycle at a time, and never faster than
// MinInterval.
type CycleClock struct {
	Cycle       uint32
	Genesis     time.Time
	LastAdvance time.Time
	MinInterval time.Duration
}

func NewCycleClock(genesis time.Time, minInterval time.Duration) CycleClock {
	return CycleClock{
		Genesis:     genesis,
		LastAdvance: genesis,
		MinInterval: minInterval,
	}
}

func (c CycleClock) Current() uint32 {
	return c.Cycle
}

func (c CycleClock) CurrentEpoch() uint32 {
	return EpochOf(c.Cycle)
}

func (c CycleClock) NextAdvance() time.Time {
	return c.LastAdvance.Add(c.MinInterval)
}

func (c CycleClock) CanAdvance(now time.Time) bool {
	return !now.Before(c.NextAdvance())
}
