package application

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/pkg/errors"
)

func (s *service) GetInfo(_ context.Context) (*ServiceInfo, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	clock := s.engine.Clock
	cycle := clock.Cycle
	return &ServiceInfo{
		Cycle:            cycle,
		Epoch:            clock.CurrentEpoch(),
		Genesis:          clock.Genesis,
		LastAdvance:      clock.LastAdvance,
		NextAdvance:      clock.NextAdvance(),
		Distribution:     s.distributionStatus(),
		Totals:           s.globalTotals(cycle),
		PositionCount:    len(s.engine.Ledger.Positions),
		GaugeCount:       len(s.engine.Gauges.GaugeOrder),
		LastSeq:          s.engine.LastSeq,
		BaseToken:        s.baseToken,
		MinVoteLock:      s.engine.Config().MinVoteLockCycles,
		InflationCurrent: s.engine.Config().Inflation.At(cycle),
	}, nil
}

func (s *service) GetPosition(
	ctx context.Context, positionID uint64, at *uint32,
) (*PositionInfo, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	p, err := s.engine.Ledger.GetPosition(positionID)
	if err != nil {
		return nil, err
	}
	owner, err := s.ownerOf(ctx, p)
	if err != nil {
		return nil, err
	}
	var delegates []common.Address
	if !p.Closed {
		if delegates, err = s.liveStore.Registry().Delegates(ctx, positionID); err != nil {
			return nil, errors.INTERNAL_ERROR.Wrap(err)
		}
	}

	cycle := s.readAt(at)
	return &PositionInfo{
		ID:                p.ID,
		Owner:             owner,
		Amount:            new(uint256.Int).Set(p.Amount),
		StartCycle:        p.StartCycle,
		EndCycle:          p.EndCycle,
		YieldSplitPercent: p.YieldSplitPercent,
		Closed:            p.Closed,
		ClosedAt:          p.ClosedAt,
		Cycle:             cycle,
		VoteWeight:        p.VoteWeightAt(cycle),
		YieldShare:        p.YieldShareAt(domain.EpochOf(cycle)),
		Bonus:             new(uint256.Int).Set(p.Bonus),
		Allocations:       s.engine.Gauges.AllocationsOf(positionID),
		Delegates:         delegates,
	}, nil
}

func (s *service) GetPositionsOf(_ context.Context, owner common.Address) ([]uint64, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.engine.Ledger.PositionsOf(owner), nil
}

func (s *service) GetVoteWeight(
	_ context.Context, positionID uint64, cycle uint32,
) (*uint256.Int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	p, err := s.engine.Ledger.GetPosition(positionID)
	if err != nil {
		return nil, err
	}
	return p.VoteWeightAt(cycle), nil
}

func (s *service) GetYieldShare(
	_ context.Context, positionID uint64, epoch uint32,
) (*uint256.Int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	p, err := s.engine.Ledger.GetPosition(positionID)
	if err != nil {
		return nil, err
	}
	return p.YieldShareAt(epoch), nil
}

func (s *service) GetGlobalTotals(_ context.Context, at *uint32) (*GlobalTotals, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	totals := s.globalTotals(s.readAt(at))
	return &totals, nil
}

// globalTotals must be called with the lock held.
func (s *service) globalTotals(cycle uint32) GlobalTotals {
	ledger := s.engine.Ledger
	return GlobalTotals{
		Cycle:       cycle,
		VoteWeight:  ledger.GlobalVoteWeightAt(cycle),
		YieldShare:  ledger.GlobalYieldShareAt(domain.EpochOf(cycle)),
		BonusTotal:  new(uint256.Int).Set(ledger.BonusTotal),
		TotalLocked: new(uint256.Int).Set(ledger.TotalLocked),
		TotalWeight: s.engine.Gauges.TotalWeightAt(cycle),
	}
}

func (s *service) GetGauge(_ context.Context, gaugeID uint64, at *uint32) (*GaugeInfo, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	g, err := s.engine.Gauges.GetGauge(gaugeID)
	if err != nil {
		return nil, err
	}
	info := s.gaugeInfo(g, s.readAt(at))
	return &info, nil
}

func (s *service) ListGauges(_ context.Context, at *uint32) ([]GaugeInfo, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	cycle := s.readAt(at)
	gauges := make([]GaugeInfo, 0, len(s.engine.Gauges.GaugeOrder))
	for _, id := range s.engine.Gauges.GaugeOrder {
		gauges = append(gauges, s.gaugeInfo(s.engine.Gauges.Gauges[id], cycle))
	}
	return gauges, nil
}

func (s *service) gaugeInfo(g *domain.Gauge, cycle uint32) GaugeInfo {
	return GaugeInfo{
		ID:              g.ID,
		Recipient:       g.Recipient,
		ClassID:         g.ClassID,
		Status:          g.Status,
		AddedAt:         g.AddedAt,
		KilledAt:        g.KilledAt,
		Cycle:           cycle,
		RawWeight:       g.RawWeightAt(cycle),
		EffectiveWeight: s.engine.Gauges.EffectiveWeightAt(g.ID, cycle),
		Emission:        g.EmissionAt(cycle),
	}
}

func (s *service) ListClasses(_ context.Context) ([]ClassInfo, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	cycle := s.engine.Clock.Cycle
	classes := make([]ClassInfo, 0, len(s.engine.Gauges.Classes))
	for _, class := range s.engine.Gauges.Classes {
		classes = append(classes, ClassInfo{
			ID:         class.ID,
			Name:       class.Name,
			Multiplier: class.Multiplier,
			Weight:     class.Weight.ValueAt(cycle),
		})
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	return classes, nil
}

func (s *service) GetEpoch(_ context.Context, epoch uint32) (*EpochInfo, error) {
	if epoch == 0 {
		return nil, errors.EPOCH_NOT_CLOSED.New("epochs start at 1").
			WithMetadata(errors.EpochMetadata{Epoch: epoch})
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	rewards := s.engine.Rewards
	info := &EpochInfo{
		Epoch:      epoch,
		Closed:     domain.IsEpochClosed(epoch, s.engine.Clock.Cycle),
		ClosesAt:   domain.EpochCloseCycle(epoch),
		YieldShare: s.engine.Ledger.GlobalYieldShareAt(epoch),
		Deposited:  rewards.DepositsOf(epoch),
		Remaining:  make([]domain.TokenAmount, 0),
	}
	if r, ok := rewards.Epochs[epoch]; ok {
		for _, token := range r.Tokens() {
			info.Remaining = append(info.Remaining, domain.TokenAmount{
				Token: token, Amount: new(uint256.Int).Set(r.Remaining[token]),
			})
		}
	}
	return info, nil
}
