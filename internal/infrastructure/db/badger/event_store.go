package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/infrastructure/db/dbutil"
	"github.com/timshannon/badgerhold/v4"
)

const (
	eventStoreDir = "events"
	metaKey       = "meta"
)

type eventDTO struct {
	Seq       uint64
	Type      domain.EventType
	Topic     string
	Cycle     uint32
	Payload   []byte
	Timestamp int64
}

type eventMeta struct {
	LastSeq uint64
}

type eventStore struct {
	store *badgerhold.Store
}

func NewEventStore(config ...interface{}) (domain.EventStore, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, eventStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %s", err)
	}

	return &eventStore{store}, nil
}

func (s *eventStore) Save(_ context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		row, err := dbutil.ToEventRow(ev)
		if err != nil {
			return err
		}
		dtos = append(dtos, eventDTO(row))
	}

	saveFn := func() error {
		return s.store.Badger().Update(func(tx *badger.Txn) error {
			meta, err := s.getMeta(tx)
			if err != nil {
				return err
			}
			if err := dbutil.ValidateSequence(meta.LastSeq, events); err != nil {
				return err
			}
			for _, dto := range dtos {
				if err := s.store.TxInsert(tx, dto.Seq, dto); err != nil {
					if errors.Is(err, badgerhold.ErrKeyExists) {
						return fmt.Errorf("%w: %d", domain.ErrSeqConflict, dto.Seq)
					}
					return err
				}
			}
			meta.LastSeq = dtos[len(dtos)-1].Seq
			return s.store.TxUpsert(tx, metaKey, meta)
		})
	}

	err := saveFn()
	attempts := 1
	for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
		time.Sleep(100 * time.Millisecond)
		err = saveFn()
		attempts++
	}
	return err
}

func (s *eventStore) Load(_ context.Context, afterSeq uint64) ([]domain.Event, error) {
	var dtos []eventDTO
	query := badgerhold.Where("Seq").Gt(afterSeq).SortBy("Seq")
	if err := s.store.Find(&dtos, query); err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	events := make([]domain.Event, 0, len(dtos))
	for _, dto := range dtos {
		ev, err := dbutil.EventRow(dto).ToEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *eventStore) LastSeq(_ context.Context) (uint64, error) {
	var meta eventMeta
	if err := s.store.Get(metaKey, &meta); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get last event seq: %w", err)
	}
	return meta.LastSeq, nil
}

func (s *eventStore) Close() {
	// nolint:errcheck
	s.store.Close()
}

func (s *eventStore) getMeta(tx *badger.Txn) (*eventMeta, error) {
	var meta eventMeta
	if err := s.store.TxGet(tx, metaKey, &meta); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return &eventMeta{}, nil
		}
		return nil, fmt.Errorf("failed to get last event seq: %w", err)
	}
	return &meta, nil
}
