package domain

import (
	"sync"

	"github.com/holiman/uint256"
)

// InflationSchedule gives the emission of every cycle: Base reduced by
// ReductionMul/ReductionDiv every ReductionInterval cycles. A zero interval
// keeps the emission constant.
type InflationSchedule struct {
	Base              *uint256.Int
	ReductionInterval uint32
	ReductionMul      uint64
	ReductionDiv      uint64

	mtx   sync.RWMutex
	cache map[uint32]*uint256.Int
}

func NewInflationSchedule(
	base *uint256.Int, reductionInterval uint32, reductionMul, reductionDiv uint64,
) *InflationSchedule {
	if reductionMul == 0 || reductionDiv == 0 {
		reductionInterval = 0
	}
	return &InflationSchedule{
		Base:              new(uint256.Int).Set(valueOf(base)),
		ReductionInterval: reductionInterval,
		ReductionMul:      reductionMul,
		ReductionDiv:      reductionDiv,
		cache:             map[uint32]*uint256.Int{0: new(uint256.Int).Set(valueOf(base))},
	}
}

// At returns the inflation of the given cycle.
func (s *InflationSchedule) At(cycle uint32) *uint256.Int {
	if s.ReductionInterval == 0 {
		return new(uint256.Int).Set(s.Base)
	}
	step := cycle / s.ReductionInterval

	s.mtx.RLock()
	cached, ok := s.cache[step]
	s.mtx.RUnlock()
	if ok {
		return new(uint256.Int).Set(cached)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	// Start from the closest cached step below the requested one.
	from, value := uint32(0), s.cache[0]
	for k, v := range s.cache {
		if k <= step && k >= from {
			from, value = k, v
		}
	}
	mulBy, divBy := u64(s.ReductionMul), u64(s.ReductionDiv)
	for i := from; i < step; i++ {
		if value.IsZero() {
			break
		}
		value = mulDiv(value, mulBy, divBy)
	}
	s.cache[step] = value
	return new(uint256.Int).Set(value)
}
