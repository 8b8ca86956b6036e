package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
)

// generateErrorFixtures creates test fixtures with sample metadata for each error type
func generateErrorFixtures() []Error {
	return []Error{
		INTERNAL_ERROR.New("internal server error occurred").
			WithMetadata(map[string]any{"component": "event store", "operation": "save"}),
		INVALID_AMOUNT.New("amount must be positive").
			WithMetadata(AmountMetadata{Amount: "0"}),
		INVALID_DURATION.New("duration out of range").
			WithMetadata(DurationMetadata{CurrentCycle: 10, DurationCycles: 97, EndCycle: 107}),
		INVALID_SPLIT.New("yield split out of range").
			WithMetadata(SplitMetadata{YieldSplitPercent: 101}),
		INVALID_ADDRESS.New("zero address").
			WithMetadata(AddressMetadata{Address: "0x0000000000000000000000000000000000000000"}),
		POSITION_NOT_FOUND.New("position 7 not found").
			WithMetadata(PositionMetadata{PositionID: 7}),
		LOCK_NOT_OVER.New("lock of position 7 not over").
			WithMetadata(LockMetadata{PositionID: 7, CurrentCycle: 10, EndCycle: 20}),
		LOCK_OVER.New("lock of position 7 over").
			WithMetadata(LockMetadata{PositionID: 7, CurrentCycle: 21, EndCycle: 20}),
		POSITION_CLOSED.New("position 7 closed").
			WithMetadata(PositionMetadata{PositionID: 7}),
		NOT_AUTHORIZED.New("caller is not the owner").
			WithMetadata(AuthMetadata{PositionID: 7, Caller: "0x00000000000000000000000000000000000000a1"}),
		GAUGE_NOT_FOUND.New("gauge 3 not found").
			WithMetadata(GaugeMetadata{GaugeID: 3}),
		CLASS_NOT_FOUND.New("class 2 not found").
			WithMetadata(ClassMetadata{ClassID: 2}),
		GAUGE_NOT_ACTIVE.New("gauge 3 not active").
			WithMetadata(GaugeMetadata{GaugeID: 3, Status: "paused"}),
		INVALID_GAUGE_TRANSITION.New("gauge 3 is killed").
			WithMetadata(GaugeMetadata{GaugeID: 3, Status: "killed"}),
		ALLOCATION_EXCEEDED.New("allocation above 10000 bps").
			WithMetadata(AllocationMetadata{PositionID: 7, UsedBPS: 9000, RequestBPS: 2000}),
		TIME_LOCKED.New("lock ends too soon").
			WithMetadata(LockMetadata{PositionID: 7, CurrentCycle: 10, EndCycle: 11}),
		VOTE_TOO_SOON.New("already voted this cycle").
			WithMetadata(VoteMetadata{PositionID: 7, GaugeID: 3, LastVoteCycle: 10, CurrentCycle: 10}),
		DISTRIBUTION_IN_PROGRESS.New("distribution in progress").
			WithMetadata(StageMetadata{Expected: "idle", Current: "checkpointing"}),
		TOO_SOON.New("cycle can't advance yet").
			WithMetadata(TooSoonMetadata{LastAdvance: 1700000000, NextAllowed: 1700604800, Now: 1700000100}),
		WRONG_STAGE.New("wrong stage").
			WithMetadata(StageMetadata{Expected: "distributing", Current: "idle"}),
		EPOCH_NOT_CLOSED.New("epoch 4 not closed").
			WithMetadata(EpochMetadata{Epoch: 4, ClosesAt: 8}),
		NO_BALANCE.New("nothing to claim").
			WithMetadata(EpochMetadata{PositionID: 7, Epoch: 2}),
		ALREADY_CLAIMED.New("already claimed").
			WithMetadata(EpochMetadata{PositionID: 7, Epoch: 2}),
		ARITHMETIC_OVERFLOW.New("amount overflows").
			WithMetadata(map[string]any{"operation": "mul"}),
		INVALID_BATCH_SIZE.New("batch size must be positive").
			WithMetadata(map[string]any{"batch_size": -1}),
		INVALID_REQUEST.New("invalid request body").
			WithMetadata(map[string]any{"field": "amount"}),
	}
}

func TestErrorFixtures(t *testing.T) {
	codes := make(map[uint16]struct{})
	for _, err := range generateErrorFixtures() {
		require.NotNil(t, err)
		require.NotEmpty(t, err.Error())
		require.NotEmpty(t, err.CodeName())
		require.NotEmpty(t, err.Metadata())
		require.NotEqual(t, grpccodes.OK, err.GrpcCode())
		require.Contains(t, err.Error(), err.CodeName())

		_, dup := codes[err.Code()]
		require.False(t, dup, "duplicate code %d", err.Code())
		codes[err.Code()] = struct{}{}
	}
}

func TestMetadata(t *testing.T) {
	err := LOCK_NOT_OVER.New("lock of position %d not over", 7).
		WithMetadata(LockMetadata{PositionID: 7, CurrentCycle: 10, EndCycle: 20})

	require.Equal(t, map[string]string{
		"position_id":   "7",
		"current_cycle": "10",
		"end_cycle":     "20",
	}, err.Metadata())
	require.Equal(t, "LOCK_NOT_OVER (6): lock of position 7 not over", err.Error())

	authErr := NOT_AUTHORIZED.New("caller is not the admin").WithMetadata(AuthMetadata{Caller: "0xa1"})
	require.Equal(t, map[string]string{"caller": "0xa1"}, authErr.Metadata())

	require.Empty(t, GAUGE_NOT_FOUND.New("gauge not found").Metadata()["status"])
}

func TestIs(t *testing.T) {
	cause := fmt.Errorf("event store unavailable")
	err := fmt.Errorf("failed to save events: %w", INTERNAL_ERROR.Wrap(cause))

	require.True(t, INTERNAL_ERROR.Is(err))
	require.False(t, TOO_SOON.Is(err))
	require.False(t, TOO_SOON.Is(cause))
	require.ErrorIs(t, err, cause)

	var typed Error
	require.True(t, errors.As(err, &typed))
	require.Equal(t, grpccodes.Internal, typed.GrpcCode())
	require.Equal(t, "INTERNAL_ERROR", typed.CodeName())
}
