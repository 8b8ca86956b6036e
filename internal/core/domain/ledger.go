package domain

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/pkg/errors"
)

// Ledger holds every position and the global aggregates derived from them.
type Ledger struct {
	Positions      map[uint64]*Position
	NextPositionID uint64

	// VoteWeight is the sum of the vote curves of every position.
	VoteWeight *Curve

	// OpenEpoch is the epoch in progress, RunningYield its total yield share.
	// Closed epochs are frozen in ClosedYield. YieldIncreases and
	// YieldDecreases are applied to the running total when entering the epoch
	// they are keyed by.
	OpenEpoch      uint32
	RunningYield   *uint256.Int
	ClosedYield    map[uint32]*uint256.Int
	YieldIncreases *Schedule
	YieldDecreases *Schedule

	BonusTotal  *uint256.Int
	TotalLocked *uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		Positions:      make(map[uint64]*Position),
		NextPositionID: 1,
		VoteWeight:     NewCurve(0),
		OpenEpoch:      EpochOf(0),
		RunningYield:   zero(),
		ClosedYield:    make(map[uint32]*uint256.Int),
		YieldIncreases: NewSchedule(),
		YieldDecreases: NewSchedule(),
		BonusTotal:     zero(),
		TotalLocked:    zero(),
	}
}

// Checkpoint applies every scheduled vote and yield change up to the given
// cycle.
func (l *Ledger) Checkpoint(cycle uint32) {
	l.VoteWeight.Advance(cycle)
	target := EpochOf(cycle)
	for l.OpenEpoch < target {
		l.ClosedYield[l.OpenEpoch] = l.RunningYield
		l.OpenEpoch++
		l.RunningYield = sub(
			add(l.RunningYield, l.YieldIncreases.Take(l.OpenEpoch)),
			l.YieldDecreases.Take(l.OpenEpoch),
		)
	}
}

// GlobalVoteWeightAt returns the sum of all vote weights at the given cycle.
func (l *Ledger) GlobalVoteWeightAt(cycle uint32) *uint256.Int {
	return l.VoteWeight.ValueAt(cycle)
}

// GlobalYieldShareAt returns the sum of all yield shares for the given epoch.
func (l *Ledger) GlobalYieldShareAt(epoch uint32) *uint256.Int {
	if epoch < l.OpenEpoch {
		return new(uint256.Int).Set(valueOf(l.ClosedYield[epoch]))
	}
	// Only scheduled epochs change the total.
	keys := append(
		l.YieldIncreases.Between(l.OpenEpoch, epoch),
		l.YieldDecreases.Between(l.OpenEpoch, epoch)...,
	)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	total := l.RunningYield
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		total = sub(add(total, l.YieldIncreases.At(k)), l.YieldDecreases.At(k))
	}
	return new(uint256.Int).Set(total)
}

func (l *Ledger) GetPosition(id uint64) (*Position, error) {
	p, ok := l.Positions[id]
	if !ok {
		return nil, errors.POSITION_NOT_FOUND.New("position %d not found", id).
			WithMetadata(errors.PositionMetadata{PositionID: id})
	}
	return p, nil
}

// PositionsOf returns the ids of the positions opened by the given owner.
func (l *Ledger) PositionsOf(owner common.Address) []uint64 {
	ids := make([]uint64, 0)
	for id, p := range l.Positions {
		if p.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *Ledger) validateOpen(
	cycle uint32, amount *uint256.Int, duration uint32, split uint8, beneficiary common.Address,
) error {
	if amount == nil || amount.IsZero() || amount.Gt(MaxLockAmount) {
		return errors.INVALID_AMOUNT.New("amount must be positive and at most %s", MaxLockAmount.Dec()).
			WithMetadata(errors.AmountMetadata{Amount: valueOf(amount).Dec()})
	}
	if err := validateDuration(cycle, cycle, duration); err != nil {
		return err
	}
	if split%SplitGranularity != 0 || split > MaxSplitPercent {
		return errors.INVALID_SPLIT.New(
			"yield split must be a multiple of %d between 0 and %d", SplitGranularity, MaxSplitPercent,
		).WithMetadata(errors.SplitMetadata{YieldSplitPercent: split})
	}
	if beneficiary == (common.Address{}) {
		return errors.INVALID_ADDRESS.New("missing beneficiary").
			WithMetadata(errors.AddressMetadata{Address: beneficiary.Hex()})
	}
	return nil
}

// validateDuration checks that a lock starting at start and running until
// from+duration ends on an epoch boundary within the max lock span.
func validateDuration(start, from, duration uint32) error {
	end := from + duration
	meta := errors.DurationMetadata{CurrentCycle: from, DurationCycles: duration, EndCycle: end}
	if duration == 0 {
		return errors.INVALID_DURATION.New("duration must be positive").WithMetadata(meta)
	}
	if duration > MaxLockCycles || end-start > MaxLockCycles {
		return errors.INVALID_DURATION.New("lock can't span more than %d cycles", MaxLockCycles).
			WithMetadata(meta)
	}
	if !IsEpochAligned(end) {
		return errors.INVALID_DURATION.New("lock must end on a multiple of %d cycles", EpochLength).
			WithMetadata(meta)
	}
	return nil
}

// validateMutable checks that a position can still grow.
func (l *Ledger) validateMutable(cycle uint32, p *Position) error {
	if p.Closed {
		return errors.POSITION_CLOSED.New("position %d is closed", p.ID).
			WithMetadata(errors.PositionMetadata{PositionID: p.ID})
	}
	if p.IsLockOver(cycle) {
		return errors.LOCK_OVER.New("lock of position %d is over", p.ID).
			WithMetadata(errors.LockMetadata{
				PositionID: p.ID, CurrentCycle: cycle, EndCycle: p.EndCycle,
			})
	}
	return nil
}

func (l *Ledger) validateAmountIncrease(p *Position, delta *uint256.Int) error {
	if delta == nil || delta.IsZero() {
		return errors.INVALID_AMOUNT.New("amount increase must be positive").
			WithMetadata(errors.AmountMetadata{Amount: valueOf(delta).Dec()})
	}
	newAmount, overflow := new(uint256.Int).AddOverflow(p.Amount, delta)
	if overflow || newAmount.Gt(MaxLockAmount) {
		return errors.INVALID_AMOUNT.New("locked amount can't exceed %s", MaxLockAmount.Dec()).
			WithMetadata(errors.AmountMetadata{Amount: delta.Dec()})
	}
	return nil
}

func (l *Ledger) validateDurationIncrease(cycle uint32, p *Position, extra uint32) error {
	if extra == 0 {
		return errors.INVALID_DURATION.New("extra cycles must be positive").
			WithMetadata(errors.DurationMetadata{CurrentCycle: cycle, EndCycle: p.EndCycle})
	}
	return validateDuration(p.StartCycle, p.EndCycle, extra)
}

func (l *Ledger) validateClose(cycle uint32, p *Position) error {
	if p.Closed {
		return errors.POSITION_CLOSED.New("position %d is already closed", p.ID).
			WithMetadata(errors.PositionMetadata{PositionID: p.ID})
	}
	if !p.IsLockOver(cycle) {
		return errors.LOCK_NOT_OVER.New("lock of position %d ends at cycle %d", p.ID, p.EndCycle).
			WithMetadata(errors.LockMetadata{
				PositionID: p.ID, CurrentCycle: cycle, EndCycle: p.EndCycle,
			})
	}
	return nil
}

func (l *Ledger) applyOpen(cycle uint32, ev *PositionOpened) {
	p := &Position{
		ID:                ev.PositionID,
		Owner:             ev.Owner,
		Amount:            zero(),
		StartCycle:        cycle,
		EndCycle:          cycle,
		YieldSplitPercent: ev.YieldSplitPercent,
		Bonus:             zero(),
	}
	l.Positions[p.ID] = p
	if p.ID >= l.NextPositionID {
		l.NextPositionID = p.ID + 1
	}
	l.grow(cycle, p, ev.Amount, ev.DurationCycles)
}

func (l *Ledger) applyIncrease(cycle uint32, ev *PositionIncreased) {
	l.grow(cycle, l.Positions[ev.PositionID], ev.AmountDelta, ev.ExtraCycles)
}

// grow adds delta to the amount and extra cycles to the end of a position,
// moving the global aggregates by exactly the change of the position's
// balances. Opening a position is growing an empty one.
func (l *Ledger) grow(cycle uint32, p *Position, delta *uint256.Int, extra uint32) {
	oldAmount, oldEnd := p.Amount, p.EndCycle
	oldSlope := VoteSlope(oldAmount)
	oldYield := p.FullYieldShare()
	oldBonus := BonusWeight(oldAmount, p.Duration(), p.YieldSplitPercent)
	epoch := EpochOf(cycle)
	current := p.YieldShareAt(epoch)

	p.Amount = add(oldAmount, delta)
	p.EndCycle = oldEnd + extra
	newSlope := p.Slope()
	newYield := p.FullYieldShare()
	newBonus := BonusWeight(p.Amount, p.Duration(), p.YieldSplitPercent)

	// Vote weight: swap the position's term in the global curve.
	l.VoteWeight.RemoveTerm(oldSlope, oldEnd)
	l.VoteWeight.AddTerm(newSlope, p.EndCycle)
	p.addVotePoint(VotePoint{Cycle: cycle, Slope: newSlope, End: p.EndCycle})

	// Yield share: the epoch in progress gets the pro-rated delta right away,
	// the next one the rest of it, and the removal of the full share moves to
	// the epoch after the new last one.
	delta = sub(newYield, oldYield)
	partial := PartialShare(delta, cycle)
	l.RunningYield = add(l.RunningYield, partial)
	l.YieldIncreases.Add(epoch+1, sub(delta, partial))
	l.YieldDecreases.Sub(oldEnd/EpochLength+1, oldYield)
	l.YieldDecreases.Add(p.LastEpoch()+1, newYield)
	p.addYieldPoint(YieldPoint{Epoch: epoch, Partial: add(current, partial), Full: newYield})

	bonusDelta := sub(newBonus, oldBonus)
	p.Bonus = add(p.Bonus, bonusDelta)
	l.BonusTotal = add(l.BonusTotal, bonusDelta)
	l.TotalLocked = add(l.TotalLocked, sub(p.Amount, oldAmount))
}

func (l *Ledger) applyClose(cycle uint32, ev *PositionClosed) {
	p := l.Positions[ev.PositionID]
	l.BonusTotal = sub(l.BonusTotal, p.Bonus)
	l.TotalLocked = sub(l.TotalLocked, p.Amount)
	p.Owner = ev.Recipient
	p.Amount = zero()
	p.Bonus = zero()
	p.Closed = true
	p.ClosedAt = cycle
}
