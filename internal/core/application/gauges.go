package application

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockforge/lockd/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

func (s *service) Vote(
	ctx context.Context, caller common.Address, positionID, gaugeID uint64, bps uint32,
) (bool, error) {
	events, err := s.execute(ctx, func(ctx context.Context, now time.Time) ([]domain.Event, error) {
		p, err := s.engine.Ledger.GetPosition(positionID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, p, caller); err != nil {
			return nil, err
		}
		ev, err := s.engine.Vote(positionID, gaugeID, bps, caller, now)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, nil
		}
		return []domain.Event{ev}, nil
	})
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		log.Debugf("vote of position %d on gauge %d unchanged", positionID, gaugeID)
		return false, nil
	}
	return true, nil
}

func (s *service) AddGaugeClass(
	ctx context.Context, caller common.Address, name string, multiplier uint64,
) (*ClassInfo, error) {
	name = strings.TrimSpace(name)
	var added *domain.GaugeClassAdded
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		if err := s.requireRole(caller, s.roles.Admin, "admin"); err != nil {
			return nil, err
		}
		ev, err := s.engine.AddGaugeClass(name, multiplier, now)
		if err != nil {
			return nil, err
		}
		added = ev
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}
	log.Infof("added gauge class %d %q with multiplier %d", added.ClassID, name, multiplier)

	return &ClassInfo{
		ID:         added.ClassID,
		Name:       added.Name,
		Multiplier: added.Multiplier,
	}, nil
}

func (s *service) SetClassWeight(
	ctx context.Context, caller common.Address, classID uint32, multiplier uint64,
) error {
	_, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		if err := s.requireRole(caller, s.roles.Admin, "admin"); err != nil {
			return nil, err
		}
		ev, err := s.engine.SetClassWeight(classID, multiplier, now)
		if err != nil {
			return nil, err
		}
		return []domain.Event{ev}, nil
	})
	return err
}

func (s *service) AddGauge(
	ctx context.Context, caller common.Address, recipient common.Address, classID uint32,
) (*GaugeInfo, error) {
	var added *domain.GaugeAdded
	if _, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		if err := s.requireRole(caller, s.roles.Admin, "admin"); err != nil {
			return nil, err
		}
		ev, err := s.engine.AddGauge(recipient, classID, now)
		if err != nil {
			return nil, err
		}
		added = ev
		return []domain.Event{ev}, nil
	}); err != nil {
		return nil, err
	}
	log.Infof("added gauge %d for %s in class %d", added.GaugeID, recipient.Hex(), classID)

	return s.GetGauge(ctx, added.GaugeID, nil)
}

func (s *service) SetGaugeStatus(
	ctx context.Context, caller common.Address, gaugeID uint64, status domain.GaugeStatus,
) error {
	_, err := s.execute(ctx, func(_ context.Context, now time.Time) ([]domain.Event, error) {
		if err := s.requireRole(caller, s.roles.Admin, "admin"); err != nil {
			return nil, err
		}
		ev, err := s.engine.SetGaugeStatus(gaugeID, status, now)
		if err != nil {
			return nil, err
		}
		return []domain.Event{ev}, nil
	})
	return err
}
