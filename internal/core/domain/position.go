package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// VotePoint records the vote curve of a position from Cycle onwards.
type VotePoint struct {
	Cycle uint32
	Slope *uint256.Int
	End   uint32
}

// YieldPoint records the yield share of a position from Epoch onwards:
// Partial for Epoch itself, Full for every later epoch of the lock.
type YieldPoint struct {
	Epoch   uint32
	Partial *uint256.Int
	Full    *uint256.Int
}

// Position is a lock. Owner is the beneficiary recorded at open time and
// becomes the recipient of the locked amount at close. Ownership of open
// positions is resolved through the position registry.
type Position struct {
	ID                uint64
	Owner             common.Address
	Amount            *uint256.Int
	StartCycle        uint32
	EndCycle          uint32
	YieldSplitPercent uint8
	Bonus             *uint256.Int
	Closed            bool
	ClosedAt          uint32
	VotePoints        []VotePoint
	YieldPoints       []YieldPoint
}

// Duration is the total span of the lock in cycles.
func (p *Position) Duration() uint32 {
	return p.EndCycle - p.StartCycle
}

func (p *Position) FirstEpoch() uint32 {
	return EpochOf(p.StartCycle)
}

// LastEpoch is the last epoch covered by the lock.
func (p *Position) LastEpoch() uint32 {
	return p.EndCycle / EpochLength
}

func (p *Position) IsLockOver(cycle uint32) bool {
	return cycle >= p.EndCycle
}

// Slope is the current per-cycle vote weight decay.
func (p *Position) Slope() *uint256.Int {
	return VoteSlope(p.Amount)
}

// FullYieldShare is the yield share of every epoch fully covered by the lock
// as it stands now.
func (p *Position) FullYieldShare() *uint256.Int {
	return FullYieldShare(p.Amount, p.Duration(), p.YieldSplitPercent)
}

// VoteWeightAt returns slope*(end-cycle) using the vote curve in effect at
// the given cycle.
func (p *Position) VoteWeightAt(cycle uint32) *uint256.Int {
	var point *VotePoint
	for i := len(p.VotePoints) - 1; i >= 0; i-- {
		if p.VotePoints[i].Cycle <= cycle {
			point = &p.VotePoints[i]
			break
		}
	}
	if point == nil || point.End <= cycle {
		return zero()
	}
	return mul(point.Slope, u64(uint64(point.End-cycle)))
}

// YieldShareAt returns the yield share of the position for the given epoch.
func (p *Position) YieldShareAt(epoch uint32) *uint256.Int {
	if epoch > p.LastEpoch() {
		return zero()
	}
	for i := len(p.YieldPoints) - 1; i >= 0; i-- {
		point := p.YieldPoints[i]
		if point.Epoch > epoch {
			continue
		}
		if point.Epoch == epoch {
			return new(uint256.Int).Set(point.Partial)
		}
		return new(uint256.Int).Set(point.Full)
	}
	return zero()
}

func (p *Position) addVotePoint(point VotePoint) {
	if n := len(p.VotePoints); n > 0 && p.VotePoints[n-1].Cycle == point.Cycle {
		p.VotePoints[n-1] = point
		return
	}
	p.VotePoints = append(p.VotePoints, point)
}

func (p *Position) addYieldPoint(point YieldPoint) {
	if n := len(p.YieldPoints); n > 0 && p.YieldPoints[n-1].Epoch == point.Epoch {
		p.YieldPoints[n-1] = point
		return
	}
	p.YieldPoints = append(p.YieldPoints, point)
}
