package dbutil

import (
	"encoding/json"
	"fmt"

	"github.com/lockforge/lockd/internal/core/domain"
)

// EventRow is the stored form of an event.
type EventRow struct {
	Seq       uint64
	Type      domain.EventType
	Topic     string
	Cycle     uint32
	Payload   []byte
	Timestamp int64
}

func ToEventRow(ev domain.Event) (EventRow, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRow{}, fmt.Errorf("failed to encode event %d: %w", ev.GetSeq(), err)
	}
	return EventRow{
		Seq:       ev.GetSeq(),
		Type:      ev.GetType(),
		Topic:     domain.TopicOf(ev.GetType()),
		Cycle:     ev.GetCycle(),
		Payload:   payload,
		Timestamp: ev.GetTimestamp(),
	}, nil
}

func (r EventRow) ToEvent() (domain.Event, error) {
	ev, err := domain.DecodeEvent(r.Type, r.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event %d: %w", r.Seq, err)
	}
	ev.SetSeq(r.Seq)
	return ev, nil
}

// ValidateSequence checks that events extend a log whose last event has
// sequence number lastSeq without gaps.
func ValidateSequence(lastSeq uint64, events []domain.Event) error {
	for i, ev := range events {
		expected := lastSeq + uint64(i) + 1
		if ev.GetSeq() == 0 {
			return fmt.Errorf("event %d has no sequence number", i)
		}
		if ev.GetSeq() < expected {
			return fmt.Errorf("%w: got %d, last %d", domain.ErrSeqConflict, ev.GetSeq(), lastSeq)
		}
		if ev.GetSeq() > expected {
			return fmt.Errorf("gap in event sequence: got %d, expected %d", ev.GetSeq(), expected)
		}
	}
	return nil
}
