package ports

import "context"

// Metrics records the ledger activity. A nil implementation is not allowed,
// use a no-op one instead.
type Metrics interface {
	PositionOpened(ctx context.Context)
	PositionClosed(ctx context.Context)
	VoteCast(ctx context.Context)
	EmissionsDistributed(ctx context.Context, gauges int)
	RewardClaimed(ctx context.Context)
	CycleAdvanced(ctx context.Context, cycle uint32)
}
