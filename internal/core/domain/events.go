package domain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventType uint8

const (
	EventTypeUndefined EventType = iota
	EventTypeGenesis
	EventTypePositionOpened
	EventTypePositionIncreased
	EventTypePositionClosed
	EventTypeGaugeClassAdded
	EventTypeClassWeightChanged
	EventTypeGaugeAdded
	EventTypeGaugeStatusChanged
	EventTypeVoteCast
	EventTypeDistributionStarted
	EventTypeGaugesCheckpointed
	EventTypeTotalWeightComputed
	EventTypeEmissionsDistributed
	EventTypeCycleAdvanced
	EventTypeRewardsDeposited
	EventTypeRewardClaimed
)

var eventTypeNames = map[EventType]string{
	EventTypeGenesis:              "genesis",
	EventTypePositionOpened:       "position_opened",
	EventTypePositionIncreased:    "position_increased",
	EventTypePositionClosed:       "position_closed",
	EventTypeGaugeClassAdded:      "gauge_class_added",
	EventTypeClassWeightChanged:   "class_weight_changed",
	EventTypeGaugeAdded:           "gauge_added",
	EventTypeGaugeStatusChanged:   "gauge_status_changed",
	EventTypeVoteCast:             "vote_cast",
	EventTypeDistributionStarted:  "distribution_started",
	EventTypeGaugesCheckpointed:   "gauges_checkpointed",
	EventTypeTotalWeightComputed:  "total_weight_computed",
	EventTypeEmissionsDistributed: "emissions_distributed",
	EventTypeCycleAdvanced:        "cycle_advanced",
	EventTypeRewardsDeposited:     "rewards_deposited",
	EventTypeRewardClaimed:        "reward_claimed",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "undefined"
}

// Event is a fact appended to the ledger log. The engine state is the fold
// of every event in Seq order.
type Event interface {
	GetType() EventType
	GetSeq() uint64
	SetSeq(seq uint64)
	GetCycle() uint32
	GetTimestamp() int64
}

// EventHeader is embedded by every event. Cycle is the cycle the event
// happened in, Timestamp its unix time in seconds.
type EventHeader struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Cycle     uint32    `json:"cycle"`
	Timestamp int64     `json:"timestamp"`
}

func (h *EventHeader) GetType() EventType  { return h.Type }
func (h *EventHeader) GetSeq() uint64      { return h.Seq }
func (h *EventHeader) SetSeq(seq uint64)   { h.Seq = seq }
func (h *EventHeader) GetCycle() uint32    { return h.Cycle }
func (h *EventHeader) GetTimestamp() int64 { return h.Timestamp }

func newHeader(t EventType, cycle uint32, timestamp int64) EventHeader {
	return EventHeader{Type: t, Cycle: cycle, Timestamp: timestamp}
}

type Genesis struct {
	EventHeader
}

type PositionOpened struct {
	EventHeader
	PositionID        uint64         `json:"position_id"`
	Owner             common.Address `json:"owner"`
	Amount            *uint256.Int   `json:"amount"`
	DurationCycles    uint32         `json:"duration_cycles"`
	YieldSplitPercent uint8          `json:"yield_split_percent"`
}

type PositionIncreased struct {
	EventHeader
	PositionID  uint64         `json:"position_id"`
	Caller      common.Address `json:"caller"`
	AmountDelta *uint256.Int   `json:"amount_delta,omitempty"`
	ExtraCycles uint32         `json:"extra_cycles,omitempty"`
}

type PositionClosed struct {
	EventHeader
	PositionID uint64         `json:"position_id"`
	Recipient  common.Address `json:"recipient"`
	Amount     *uint256.Int   `json:"amount"`
}

type GaugeClassAdded struct {
	EventHeader
	ClassID    uint32 `json:"class_id"`
	Name       string `json:"name"`
	Multiplier uint64 `json:"multiplier"`
}

type ClassWeightChanged struct {
	EventHeader
	ClassID    uint32 `json:"class_id"`
	Multiplier uint64 `json:"multiplier"`
}

type GaugeAdded struct {
	EventHeader
	GaugeID   uint64         `json:"gauge_id"`
	Recipient common.Address `json:"recipient"`
	ClassID   uint32         `json:"class_id"`
}

type GaugeStatusChanged struct {
	EventHeader
	GaugeID uint64      `json:"gauge_id"`
	From    GaugeStatus `json:"from"`
	To      GaugeStatus `json:"to"`
}

type VoteCast struct {
	EventHeader
	PositionID uint64         `json:"position_id"`
	GaugeID    uint64         `json:"gauge_id"`
	BPS        uint32         `json:"bps"`
	Caller     common.Address `json:"caller"`
}

type DistributionStarted struct {
	EventHeader
}

type GaugesCheckpointed struct {
	EventHeader
	From int `json:"from"`
	To   int `json:"to"`
}

type TotalWeightComputed struct {
	EventHeader
	Total       *uint256.Int      `json:"total"`
	Inflation   *uint256.Int      `json:"inflation"`
	Multipliers map[uint32]uint64 `json:"multipliers"`
}

type EmissionsDistributed struct {
	EventHeader
	From      int             `json:"from"`
	To        int             `json:"to"`
	Emissions []GaugeEmission `json:"emissions"`
}

// CycleAdvanced moves the clock to NewCycle; its timestamp becomes the last
// advance time.
type CycleAdvanced struct {
	EventHeader
	NewCycle uint32 `json:"new_cycle"`
}

type RewardsDeposited struct {
	EventHeader
	Epoch     uint32         `json:"epoch"`
	Depositor common.Address `json:"depositor"`
	Tokens    []TokenAmount  `json:"tokens"`
}

type RewardClaimed struct {
	EventHeader
	PositionID uint64         `json:"position_id"`
	Epoch      uint32         `json:"epoch"`
	Recipient  common.Address `json:"recipient"`
	Payouts    []TokenAmount  `json:"payouts"`
}

// DecodeEvent deserializes an event stored with the given type.
func DecodeEvent(t EventType, buf []byte) (Event, error) {
	var ev Event
	switch t {
	case EventTypeGenesis:
		ev = &Genesis{}
	case EventTypePositionOpened:
		ev = &PositionOpened{}
	case EventTypePositionIncreased:
		ev = &PositionIncreased{}
	case EventTypePositionClosed:
		ev = &PositionClosed{}
	case EventTypeGaugeClassAdded:
		ev = &GaugeClassAdded{}
	case EventTypeClassWeightChanged:
		ev = &ClassWeightChanged{}
	case EventTypeGaugeAdded:
		ev = &GaugeAdded{}
	case EventTypeGaugeStatusChanged:
		ev = &GaugeStatusChanged{}
	case EventTypeVoteCast:
		ev = &VoteCast{}
	case EventTypeDistributionStarted:
		ev = &DistributionStarted{}
	case EventTypeGaugesCheckpointed:
		ev = &GaugesCheckpointed{}
	case EventTypeTotalWeightComputed:
		ev = &TotalWeightComputed{}
	case EventTypeEmissionsDistributed:
		ev = &EmissionsDistributed{}
	case EventTypeCycleAdvanced:
		ev = &CycleAdvanced{}
	case EventTypeRewardsDeposited:
		ev = &RewardsDeposited{}
	case EventTypeRewardClaimed:
		ev = &RewardClaimed{}
	default:
		return nil, fmt.Errorf("unknown event type %d", t)
	}
	if err := json.Unmarshal(buf, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", t, err)
	}
	if ev.GetType() != t {
		return nil, fmt.Errorf("event type mismatch: stored %s, decoded %s", t, ev.GetType())
	}
	return ev, nil
}
