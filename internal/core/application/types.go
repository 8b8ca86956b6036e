package application

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/internal/core/domain"
)

type Service interface {
	Start(ctx context.Context) error
	Stop()
	Admin() AdminService
	GetInfo(ctx context.Context) (*ServiceInfo, error)

	OpenPosition(
		ctx context.Context, caller common.Address, req OpenPositionRequest,
	) (*PositionInfo, error)
	IncreaseAmount(
		ctx context.Context, caller common.Address, positionID uint64, delta *uint256.Int,
	) (*PositionInfo, error)
	IncreaseDuration(
		ctx context.Context, caller common.Address, positionID uint64, extraCycles uint32,
	) (*PositionInfo, error)
	IncreaseDurationAndAmount(
		ctx context.Context, caller common.Address,
		positionID uint64, extraCycles uint32, delta *uint256.Int,
	) (*PositionInfo, error)
	ClosePosition(ctx context.Context, caller common.Address, positionID uint64) (*Payout, error)
	TransferPosition(
		ctx context.Context, caller common.Address, positionID uint64, to common.Address,
	) error
	ApproveDelegate(
		ctx context.Context, caller common.Address, positionID uint64, delegate common.Address,
	) error
	RevokeDelegate(
		ctx context.Context, caller common.Address, positionID uint64, delegate common.Address,
	) error

	// Vote returns false if the vote repeats the current allocation and
	// nothing changed.
	Vote(
		ctx context.Context, caller common.Address, positionID, gaugeID uint64, bps uint32,
	) (bool, error)

	ClaimRewards(
		ctx context.Context, caller common.Address,
		positionID uint64, epoch uint32, recipient common.Address,
	) (*Payout, error)
	GetClaimable(
		ctx context.Context, positionID uint64, epochs []uint32,
	) ([]domain.EpochClaim, error)

	TriggerDistribution(ctx context.Context, caller common.Address) (*DistributionStatus, error)
	CheckpointGauges(ctx context.Context, batchSize int) (*DistributionStatus, error)
	ComputeTotalWeight(ctx context.Context) (*DistributionStatus, error)
	DistributeEmissions(ctx context.Context, batchSize int) (*DistributionStatus, error)
	// RunDistribution drives the distributor to Idle, triggering a new pass
	// first if it's idle.
	RunDistribution(ctx context.Context, caller common.Address) (*DistributionStatus, error)
	GetDistributionStatus(ctx context.Context) (*DistributionStatus, error)

	GetPosition(ctx context.Context, positionID uint64, at *uint32) (*PositionInfo, error)
	GetPositionsOf(ctx context.Context, owner common.Address) ([]uint64, error)
	GetVoteWeight(ctx context.Context, positionID uint64, cycle uint32) (*uint256.Int, error)
	GetYieldShare(ctx context.Context, positionID uint64, epoch uint32) (*uint256.Int, error)
	GetGlobalTotals(ctx context.Context, at *uint32) (*GlobalTotals, error)
	GetGauge(ctx context.Context, gaugeID uint64, at *uint32) (*GaugeInfo, error)
	ListGauges(ctx context.Context, at *uint32) ([]GaugeInfo, error)
	ListClasses(ctx context.Context) ([]ClassInfo, error)
	GetEpoch(ctx context.Context, epoch uint32) (*EpochInfo, error)
}

type AdminService interface {
	AddGaugeClass(
		ctx context.Context, caller common.Address, name string, multiplier uint64,
	) (*ClassInfo, error)
	SetClassWeight(
		ctx context.Context, caller common.Address, classID uint32, multiplier uint64,
	) error
	AddGauge(
		ctx context.Context, caller common.Address, recipient common.Address, classID uint32,
	) (*GaugeInfo, error)
	SetGaugeStatus(
		ctx context.Context, caller common.Address, gaugeID uint64, status domain.GaugeStatus,
	) error
	DepositRewards(
		ctx context.Context, caller common.Address, tokens []domain.TokenAmount,
	) (uint32, error)
}

// Roles are the addresses allowed to run privileged operations.
type Roles struct {
	Admin    common.Address
	Keeper   common.Address
	Treasury common.Address
}

type OpenPositionRequest struct {
	Amount            *uint256.Int
	DurationCycles    uint32
	YieldSplitPercent uint8
	// Beneficiary defaults to the caller.
	Beneficiary common.Address
}

// Payout is what an external executor must transfer to Recipient.
type Payout struct {
	PositionID uint64
	Recipient  common.Address
	Tokens     []domain.TokenAmount
}

type ServiceInfo struct {
	Cycle            uint32
	Epoch            uint32
	Genesis          time.Time
	LastAdvance      time.Time
	NextAdvance      time.Time
	Distribution     DistributionStatus
	Totals           GlobalTotals
	PositionCount    int
	GaugeCount       int
	LastSeq          uint64
	BaseToken        common.Address
	MinVoteLock      uint32
	InflationCurrent *uint256.Int
}

type PositionInfo struct {
	ID                uint64
	Owner             common.Address
	Amount            *uint256.Int
	StartCycle        uint32
	EndCycle          uint32
	YieldSplitPercent uint8
	Closed            bool
	ClosedAt          uint32
	// Cycle is the cycle VoteWeight and YieldShare refer to.
	Cycle       uint32
	VoteWeight  *uint256.Int
	YieldShare  *uint256.Int
	Bonus       *uint256.Int
	Allocations []domain.Allocation
	Delegates   []common.Address
}

type GlobalTotals struct {
	Cycle       uint32
	VoteWeight  *uint256.Int
	YieldShare  *uint256.Int
	BonusTotal  *uint256.Int
	TotalLocked *uint256.Int
	TotalWeight *uint256.Int
}

type GaugeInfo struct {
	ID              uint64
	Recipient       common.Address
	ClassID         uint32
	Status          domain.GaugeStatus
	AddedAt         uint32
	KilledAt        uint32
	Cycle           uint32
	RawWeight       *uint256.Int
	EffectiveWeight *uint256.Int
	Emission        *uint256.Int
}

type ClassInfo struct {
	ID         uint32
	Name       string
	Multiplier uint64
	Weight     *uint256.Int
}

type EpochInfo struct {
	Epoch      uint32
	Closed     bool
	ClosesAt   uint32
	YieldShare *uint256.Int
	Deposited  []domain.TokenAmount
	Remaining  []domain.TokenAmount
}

type DistributionStatus struct {
	Stage       domain.DistributionStage
	Cursor      int
	Cycle       uint32
	GaugeCount  int
	TotalWeight *uint256.Int
	Inflation   *uint256.Int
	Distributed *uint256.Int
}
