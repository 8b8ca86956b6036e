package watermilldb

import (
	"context"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/infrastructure/db/dbutil"
	log "github.com/sirupsen/logrus"
)

const (
	metadataSeq   = "seq"
	metadataType  = "type"
	metadataCycle = "cycle"
)

type subscriber struct {
	topic   string
	handler func(events []domain.Event)
}

// eventRepository persists events in the underlying store, then publishes
// them on the bus and notifies the registered handlers.
type eventRepository struct {
	store     domain.EventStore
	publisher message.Publisher

	subscribers    map[string][]subscriber // topic -> subscribers
	subscriberLock *sync.Mutex
}

func NewEventRepository(
	store domain.EventStore, publisher message.Publisher,
) domain.EventRepository {
	return &eventRepository{
		store:          store,
		publisher:      publisher,
		subscribers:    make(map[string][]subscriber),
		subscriberLock: &sync.Mutex{},
	}
}

func (e *eventRepository) ClearRegisteredHandlers(topics ...string) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	if len(topics) == 0 {
		e.subscribers = make(map[string][]subscriber)
		return
	}

	for _, topic := range topics {
		delete(e.subscribers, topic)
	}
}

func (e *eventRepository) Close() {
	//nolint:errcheck
	e.publisher.Close()
	e.store.Close()
}

func (e *eventRepository) RegisterEventsHandler(
	topic string, handler func(events []domain.Event),
) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	if _, ok := e.subscribers[topic]; !ok {
		e.subscribers[topic] = make([]subscriber, 0)
	}

	e.subscribers[topic] = append(e.subscribers[topic], subscriber{
		topic:   topic,
		handler: handler,
	})
}

func (e *eventRepository) Save(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := e.store.Save(ctx, events...); err != nil {
		return err
	}

	byTopic, topics := groupByTopic(events)
	for _, topic := range topics {
		if err := e.publish(topic, byTopic[topic]); err != nil {
			log.WithError(err).Warnf("failed to publish events on topic %s", topic)
		}
		e.dispatch(topic, byTopic[topic])
	}
	return nil
}

func (e *eventRepository) Load(ctx context.Context, afterSeq uint64) ([]domain.Event, error) {
	return e.store.Load(ctx, afterSeq)
}

func (e *eventRepository) LastSeq(ctx context.Context) (uint64, error) {
	return e.store.LastSeq(ctx)
}

// dispatch runs the handlers in goroutines so they never block the writer.
func (e *eventRepository) dispatch(topic string, events []domain.Event) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()
	for _, subscriber := range e.subscribers[topic] {
		go subscriber.handler(events)
	}
}

func (e *eventRepository) publish(topic string, events []domain.Event) error {
	watermillMessages, err := toWatermillMessages(events)
	if err != nil {
		return err
	}
	return e.publisher.Publish(topic, watermillMessages...)
}

func groupByTopic(events []domain.Event) (map[string][]domain.Event, []string) {
	byTopic := make(map[string][]domain.Event)
	topics := make([]string, 0)
	for _, ev := range events {
		topic := domain.TopicOf(ev.GetType())
		if _, ok := byTopic[topic]; !ok {
			topics = append(topics, topic)
		}
		byTopic[topic] = append(byTopic[topic], ev)
	}
	return byTopic, topics
}

func toWatermillMessages(events []domain.Event) ([]*message.Message, error) {
	watermillMessages := make([]*message.Message, 0, len(events))
	for _, event := range events {
		row, err := dbutil.ToEventRow(event)
		if err != nil {
			return nil, err
		}

		msg := message.NewMessage(watermill.NewUUID(), row.Payload)
		msg.Metadata.Set(metadataSeq, strconv.FormatUint(row.Seq, 10))
		msg.Metadata.Set(metadataType, strconv.Itoa(int(row.Type)))
		msg.Metadata.Set(metadataCycle, strconv.FormatUint(uint64(row.Cycle), 10))
		watermillMessages = append(watermillMessages, msg)
	}

	return watermillMessages, nil
}

// FromWatermillMessage decodes an event published by the repository.
func FromWatermillMessage(msg *message.Message) (domain.Event, error) {
	seq, err := strconv.ParseUint(msg.Metadata.Get(metadataSeq), 10, 64)
	if err != nil {
		return nil, err
	}
	eventType, err := strconv.ParseUint(msg.Metadata.Get(metadataType), 10, 8)
	if err != nil {
		return nil, err
	}
	return dbutil.EventRow{
		Seq:     seq,
		Type:    domain.EventType(eventType),
		Payload: msg.Payload,
	}.ToEvent()
}
