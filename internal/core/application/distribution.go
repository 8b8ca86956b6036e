package application

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (s *service) TriggerDistribution(
	ctx context.Context, caller common.Address,
) (*DistributionStatus, error) {
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		if err := s.requireRole(caller, s.roles.Keeper, "keeper"); err != nil {
			return nil, err
		}
		ev, err := s.engine.TriggerDistribution(now)
		if err != nil {
			return nil, err
		}
		s.passStartedAt = now
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}
	return s.GetDistributionStatus(ctx)
}

func (s *service) CheckpointGauges(ctx context.Context, batchSize int) (*DistributionStatus, error) {
	size, err := s.resolveBatchSize(batchSize)
	if err != nil {
		return nil, err
	}
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		ev, err := s.engine.CheckpointGauges(size, now)
		if err != nil {
			return nil, err
		}
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}
	return s.GetDistributionStatus(ctx)
}

func (s *service) ComputeTotalWeight(ctx context.Context) (*DistributionStatus, error) {
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		ev, err := s.engine.ComputeTotalWeight(now)
		if err != nil {
			return nil, err
		}
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}
	return s.GetDistributionStatus(ctx)
}

func (s *service) DistributeEmissions(
	ctx context.Context, batchSize int,
) (*DistributionStatus, error) {
	size, err := s.resolveBatchSize(batchSize)
	if err != nil {
		return nil, err
	}
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		return s.engine.DistributeEmissions(size, now)
	}); err != nil {
		return nil, err
	}
	return s.GetDistributionStatus(ctx)
}

// RunDistribution completes the pass in progress, or triggers and completes
// a new one if the distributor is idle. Each batch is a separate write so
// other requests interleave with a long pass.
func (s *service) RunDistribution(
	ctx context.Context, caller common.Address,
) (*DistributionStatus, error) {
	status, err := s.GetDistributionStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status.Stage == domain.StageIdle {
		if status, err = s.TriggerDistribution(ctx, caller); err != nil {
			return nil, err
		}
	}

	for status.Stage != domain.StageIdle {
		if err := ctx.Err(); err != nil {
			return status, errors.INTERNAL_ERROR.Wrap(err)
		}
		switch status.Stage {
		case domain.StageCheckpoint:
			status, err = s.CheckpointGauges(ctx, 0)
		case domain.StageTotalWeight:
			status, err = s.ComputeTotalWeight(ctx)
		case domain.StageDistribute:
			status, err = s.DistributeEmissions(ctx, 0)
		}
		if err != nil {
			return nil, err
		}
	}
	return status, nil
}

func (s *service) GetDistributionStatus(_ context.Context) (*DistributionStatus, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	status := s.distributionStatus()
	return &status, nil
}

// distributionStatus must be called with the lock held.
func (s *service) distributionStatus() DistributionStatus {
	d := s.engine.Distributor
	cycle := d.Cycle
	if d.IsIdle() {
		cycle = s.engine.Clock.Cycle
	}
	return DistributionStatus{
		Stage:       d.Stage,
		Cursor:      d.Cursor,
		Cycle:       cycle,
		GaugeCount:  len(s.engine.Gauges.GaugeOrder),
		TotalWeight: d.TotalWeightAt(cycle),
		Inflation:   s.engine.Config().Inflation.At(cycle),
		Distributed: d.DistributedAt(cycle),
	}
}

// resolveBatchSize maps 0 to the configured batch size.
func (s *service) resolveBatchSize(batchSize int) (int, error) {
	if batchSize < 0 {
		return 0, errors.INVALID_BATCH_SIZE.New("batch size can't be negative, got %d", batchSize)
	}
	if batchSize == 0 {
		return s.batchSize, nil
	}
	return batchSize, nil
}

func (s *service) keeperTask() {
	ctx, cancel := context.WithTimeout(context.Background(), keeperTaskTimeout)
	defer cancel()

	s.lock.RLock()
	idle := s.engine.Distributor.IsIdle()
	canAdvance := s.engine.Clock.CanAdvance(s.clock.Now())
	s.lock.RUnlock()
	if idle && !canAdvance {
		return
	}

	status, err := s.RunDistribution(ctx, s.roles.Keeper)
	if err != nil {
		if errors.TOO_SOON.Is(err) || errors.WRONG_STAGE.Is(err) {
			log.WithError(err).Debug("keeper skipped distribution")
			return
		}
		log.WithError(err).Warn("keeper failed to run distribution")
		return
	}
	log.Debugf("keeper completed distribution, now at cycle %d", status.Cycle)
}
