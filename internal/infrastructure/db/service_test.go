package db_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/core/ports"
	"github.com/lockforge/lockd/internal/infrastructure/db"
	"github.com/stretchr/testify/require"
)

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	token     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestService(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "repo_manager_with_badger_in_memory_store",
			config: db.ServiceConfig{
				EventStoreType:   "badger",
				EventBusType:     "gochannel",
				EventStoreConfig: []interface{}{"", nil},
			},
		},
		{
			name: "repo_manager_with_badger_store",
			config: db.ServiceConfig{
				EventStoreType:   "badger",
				EventBusType:     "gochannel",
				EventStoreConfig: []interface{}{t.TempDir(), nil},
				EventBusConfig:   []interface{}{int64(16)},
			},
		},
		{
			name: "repo_manager_with_sqlite_store",
			config: db.ServiceConfig{
				EventStoreType:   "sqlite",
				EventBusType:     "gochannel",
				EventStoreConfig: []interface{}{t.TempDir()},
			},
		},
	}
	if dsn := os.Getenv("LOCKD_TEST_POSTGRES_URL"); dsn != "" {
		tests = append(tests, struct {
			name   string
			config db.ServiceConfig
		}{
			name: "repo_manager_with_postgres_store",
			config: db.ServiceConfig{
				EventStoreType:   "postgres",
				EventBusType:     "postgres",
				EventStoreConfig: []interface{}{dsn, true},
				EventBusConfig:   []interface{}{dsn, true},
			},
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			require.NotNil(t, svc)

			testEventRepository(t, svc)
			testEventHandlers(t, svc)

			svc.Close()
		})
	}
}

func TestServiceInvalidConfig(t *testing.T) {
	_, err := db.NewService(db.ServiceConfig{
		EventStoreType: "mongo",
		EventBusType:   "gochannel",
	})
	require.Error(t, err)

	_, err = db.NewService(db.ServiceConfig{
		EventStoreType:   "badger",
		EventBusType:     "kafka",
		EventStoreConfig: []interface{}{"", nil},
	})
	require.Error(t, err)

	_, err = db.NewService(db.ServiceConfig{
		EventStoreType:   "sqlite",
		EventBusType:     "gochannel",
		EventStoreConfig: []interface{}{42},
	})
	require.Error(t, err)
}

func testEventRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_event_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Events()

		lastSeq, err := repo.LastSeq(ctx)
		require.NoError(t, err)
		require.Zero(t, lastSeq)

		events, err := repo.Load(ctx, 0)
		require.NoError(t, err)
		require.Empty(t, events)

		require.NoError(t, repo.Save(ctx))

		err = repo.Save(ctx, fixtureEvents(1)...)
		require.NoError(t, err)

		lastSeq, err = repo.LastSeq(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(4), lastSeq)

		events, err = repo.Load(ctx, 0)
		require.NoError(t, err)
		require.Len(t, events, 4)
		for i, ev := range events {
			require.Equal(t, uint64(i+1), ev.GetSeq())
		}

		opened, ok := events[1].(*domain.PositionOpened)
		require.True(t, ok)
		require.Equal(t, owner, opened.Owner)
		require.Equal(t, uint64(1), opened.PositionID)
		require.Equal(t, "100000000000000000000", opened.Amount.Dec())
		require.Equal(t, uint32(43), opened.DurationCycles)
		require.Equal(t, uint32(5), opened.Cycle)

		deposited, ok := events[3].(*domain.RewardsDeposited)
		require.True(t, ok)
		require.Len(t, deposited.Tokens, 1)
		require.Equal(t, token, deposited.Tokens[0].Token)
		require.Equal(t, uint64(500), deposited.Tokens[0].Amount.Uint64())

		events, err = repo.Load(ctx, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, uint64(3), events[0].GetSeq())

		// A taken sequence number fails the whole batch.
		err = repo.Save(ctx, fixtureEvents(4)...)
		require.ErrorIs(t, err, domain.ErrSeqConflict)

		// So does a gap.
		err = repo.Save(ctx, fixtureEvents(7)...)
		require.Error(t, err)

		lastSeq, err = repo.LastSeq(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(4), lastSeq)
	})
}

func testEventHandlers(t *testing.T, svc ports.RepoManager) {
	t.Run("test_event_handlers", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Events()

		lastSeq, err := repo.LastSeq(ctx)
		require.NoError(t, err)

		wg := &sync.WaitGroup{}
		wg.Add(2)

		var positionEvents, rewardEvents []domain.Event
		repo.RegisterEventsHandler(domain.PositionTopic, func(events []domain.Event) {
			positionEvents = events
			wg.Done()
		})
		repo.RegisterEventsHandler(domain.RewardTopic, func(events []domain.Event) {
			rewardEvents = events
			wg.Done()
		})
		repo.RegisterEventsHandler(domain.GaugeTopic, func(events []domain.Event) {
			t.Errorf("unexpected gauge events %v", events)
		})
		defer repo.ClearRegisteredHandlers()

		err = repo.Save(ctx, fixtureEvents(lastSeq+1)...)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("handlers not called")
		}

		require.Len(t, positionEvents, 2)
		require.Equal(t, domain.EventTypePositionOpened, positionEvents[0].GetType())
		require.Equal(t, domain.EventTypePositionClosed, positionEvents[1].GetType())
		require.Len(t, rewardEvents, 1)
	})
}

// fixtureEvents returns a genesis, an open, a close and a deposit event
// numbered from seq onward.
func fixtureEvents(seq uint64) []domain.Event {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Unix()
	amount := uint256.MustFromDecimal("100000000000000000000")
	return []domain.Event{
		&domain.Genesis{
			EventHeader: domain.EventHeader{
				Seq: seq, Type: domain.EventTypeGenesis, Timestamp: now,
			},
		},
		&domain.PositionOpened{
			EventHeader: domain.EventHeader{
				Seq: seq + 1, Type: domain.EventTypePositionOpened, Cycle: 5, Timestamp: now,
			},
			PositionID:        1,
			Owner:             owner,
			Amount:            amount,
			DurationCycles:    43,
			YieldSplitPercent: 100,
		},
		&domain.PositionClosed{
			EventHeader: domain.EventHeader{
				Seq: seq + 2, Type: domain.EventTypePositionClosed, Cycle: 48, Timestamp: now,
			},
			PositionID: 1,
			Recipient:  recipient,
			Amount:     amount,
		},
		&domain.RewardsDeposited{
			EventHeader: domain.EventHeader{
				Seq: seq + 3, Type: domain.EventTypeRewardsDeposited, Cycle: 48, Timestamp: now,
			},
			Epoch:     5,
			Depositor: owner,
			Tokens: []domain.TokenAmount{
				{Token: token, Amount: uint256.NewInt(500)},
			},
		},
	}
}
