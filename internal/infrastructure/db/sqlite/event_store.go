package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/infrastructure/db/dbutil"
)

const (
	selectLastSeq = `SELECT COALESCE(MAX(seq), 0) FROM event`
	insertEvent   = `INSERT INTO event (seq, type, topic, cycle, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	selectEventsAfter = `SELECT seq, type, topic, cycle, payload, created_at
		FROM event WHERE seq > ? ORDER BY seq ASC`
)

type eventStore struct {
	db *sql.DB
}

func NewEventStore(config ...interface{}) (domain.EventStore, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open event store: expected *sql.DB but got %T", config[0])
	}
	return &eventStore{db}, nil
}

func (s *eventStore) Save(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]dbutil.EventRow, 0, len(events))
	for _, ev := range events {
		row, err := dbutil.ToEventRow(ev)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return execTx(ctx, s.db, func(tx *sql.Tx) error {
		var lastSeq uint64
		if err := tx.QueryRowContext(ctx, selectLastSeq).Scan(&lastSeq); err != nil {
			return fmt.Errorf("failed to get last event seq: %w", err)
		}
		if err := dbutil.ValidateSequence(lastSeq, events); err != nil {
			return err
		}

		for _, row := range rows {
			if _, err := tx.ExecContext(
				ctx, insertEvent, int64(row.Seq), int16(row.Type), row.Topic,
				int64(row.Cycle), row.Payload, row.Timestamp,
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %d", domain.ErrSeqConflict, row.Seq)
				}
				return fmt.Errorf("failed to insert event %d: %w", row.Seq, err)
			}
		}
		return nil
	})
}

func (s *eventStore) Load(ctx context.Context, afterSeq uint64) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEventsAfter, int64(afterSeq))
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	// nolint:errcheck
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			row       dbutil.EventRow
			seq       int64
			eventType int16
			cycle     int64
		)
		if err := rows.Scan(
			&seq, &eventType, &row.Topic, &cycle, &row.Payload, &row.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		row.Seq = uint64(seq)
		row.Type = domain.EventType(eventType)
		row.Cycle = uint32(cycle)

		ev, err := row.ToEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

func (s *eventStore) LastSeq(ctx context.Context) (uint64, error) {
	var lastSeq uint64
	if err := s.db.QueryRowContext(ctx, selectLastSeq).Scan(&lastSeq); err != nil {
		return 0, fmt.Errorf("failed to get last event seq: %w", err)
	}
	return lastSeq, nil
}

func (s *eventStore) Close() {
	// nolint:errcheck
	s.db.Close()
}
