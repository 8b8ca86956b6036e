package application

import (
	"context"
	"time"

	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const alertTimeout = 5 * time.Second

func (s *service) registerEventsHandlers() {
	events := s.repoManager.Events()
	events.RegisterEventsHandler(domain.PositionTopic, s.onPositionEvents)
	events.RegisterEventsHandler(domain.GaugeTopic, s.onGaugeEvents)
	events.RegisterEventsHandler(domain.DistributionTopic, s.onDistributionEvents)
	events.RegisterEventsHandler(domain.RewardTopic, s.onRewardEvents)
}

func (s *service) onPositionEvents(events []domain.Event) {
	ctx := context.Background()
	for _, event := range events {
		switch ev := event.(type) {
		case *domain.PositionOpened:
			s.metrics.PositionOpened(ctx)
		case *domain.PositionClosed:
			s.metrics.PositionClosed(ctx)
			log.WithFields(log.Fields{
				"position":  ev.PositionID,
				"recipient": ev.Recipient.Hex(),
				"token":     s.baseToken.Hex(),
				"amount":    ev.Amount.Dec(),
			}).Info("payout: locked amount released")
			s.publishAlert(ports.PositionClosed, ports.PositionClosedAlert{
				PositionID: ev.PositionID,
				Recipient:  ev.Recipient.Hex(),
				Amount:     ev.Amount.Dec(),
				Cycle:      ev.Cycle,
			})
		}
	}
}

func (s *service) onGaugeEvents(events []domain.Event) {
	ctx := context.Background()
	for _, event := range events {
		switch ev := event.(type) {
		case *domain.VoteCast:
			s.metrics.VoteCast(ctx)
		case *domain.GaugeStatusChanged:
			log.Infof("gauge %d moved from %s to %s", ev.GaugeID, ev.From, ev.To)
			if ev.To != domain.GaugeKilled {
				continue
			}
			s.lock.RLock()
			recipient := s.engine.Gauges.Gauges[ev.GaugeID].Recipient
			s.lock.RUnlock()
			s.publishAlert(ports.GaugeKilled, ports.GaugeKilledAlert{
				GaugeID:   ev.GaugeID,
				Recipient: recipient.Hex(),
				Cycle:     ev.Cycle,
			})
		}
	}
}

func (s *service) onDistributionEvents(events []domain.Event) {
	ctx := context.Background()
	for _, event := range events {
		switch ev := event.(type) {
		case *domain.EmissionsDistributed:
			s.metrics.EmissionsDistributed(ctx, len(ev.Emissions))
			for _, emission := range ev.Emissions {
				if emission.Amount.IsZero() {
					continue
				}
				log.WithFields(log.Fields{
					"gauge":  emission.GaugeID,
					"cycle":  ev.Cycle,
					"amount": emission.Amount.Dec(),
				}).Debug("payout: gauge emission")
			}
		case *domain.CycleAdvanced:
			s.metrics.CycleAdvanced(ctx, ev.NewCycle)
			s.sendCycleAlert(ev)
		}
	}
}

func (s *service) onRewardEvents(events []domain.Event) {
	ctx := context.Background()
	for _, event := range events {
		ev, ok := event.(*domain.RewardClaimed)
		if !ok {
			continue
		}
		s.metrics.RewardClaimed(ctx)
		for _, payout := range ev.Payouts {
			log.WithFields(log.Fields{
				"position":  ev.PositionID,
				"epoch":     ev.Epoch,
				"recipient": ev.Recipient.Hex(),
				"token":     payout.Token.Hex(),
				"amount":    payout.Amount.Dec(),
			}).Info("payout: epoch reward claimed")
		}
	}
}

func (s *service) sendCycleAlert(ev *domain.CycleAdvanced) {
	if s.alerts == nil {
		return
	}
	distributed := ev.NewCycle - 1

	s.lock.RLock()
	d := s.engine.Distributor
	alert := ports.CycleDistributedAlert{
		Cycle:       distributed,
		Distributed: d.DistributedAt(distributed).Dec(),
		TotalWeight: d.TotalWeightAt(distributed).Dec(),
		GaugeCount:  len(s.engine.Gauges.GaugeOrder),
	}
	if inflation, ok := d.Inflation[distributed]; ok {
		alert.Inflation = inflation.Dec()
	}
	for _, g := range s.engine.Gauges.Gauges {
		if g.IsKilled() {
			alert.SkippedCount++
		}
	}
	if !s.passStartedAt.IsZero() {
		alert.Duration = time.Unix(ev.Timestamp, 0).Sub(s.passStartedAt).Round(time.Second).String()
	}
	s.lock.RUnlock()

	s.publishAlert(ports.CycleDistributed, alert)
}

func (s *service) publishAlert(topic ports.Topic, message any) {
	if s.alerts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	if err := s.alerts.Publish(ctx, topic, message); err != nil {
		log.WithError(err).WithField("topic", topic).Warn("failed to publish alert")
	}
}
