package domain

import (
	"context"
	"errors"
)

const (
	PositionTopic     = "positions"
	GaugeTopic        = "gauges"
	DistributionTopic = "distribution"
	RewardTopic       = "rewards"
)

// ErrSeqConflict is returned by an event store when one of the events to
// save carries a sequence number that is already taken.
var ErrSeqConflict = errors.New("event sequence number already taken")

// TopicOf returns the topic events of the given type are published to.
func TopicOf(t EventType) string {
	switch t {
	case EventTypePositionOpened, EventTypePositionIncreased, EventTypePositionClosed:
		return PositionTopic
	case EventTypeGaugeClassAdded, EventTypeClassWeightChanged, EventTypeGaugeAdded,
		EventTypeGaugeStatusChanged, EventTypeVoteCast:
		return GaugeTopic
	case EventTypeRewardsDeposited, EventTypeRewardClaimed:
		return RewardTopic
	default:
		return DistributionTopic
	}
}

// EventStore persists the event log. Save is atomic: either every event is
// stored or none is.
type EventStore interface {
	Save(ctx context.Context, events ...Event) error
	Load(ctx context.Context, afterSeq uint64) ([]Event, error)
	LastSeq(ctx context.Context) (uint64, error)
	Close()
}

// EventRepository is an EventStore that also notifies the registered
// handlers of every saved event, grouped by topic.
type EventRepository interface {
	EventStore
	RegisterEventsHandler(topic string, handler func(events []Event))
	ClearRegisteredHandlers(topics ...string)
}
