package domain

import (
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/pkg/errors"
)

type DistributionStage uint8

const (
	StageIdle DistributionStage = iota
	StageCheckpoint
	StageTotalWeight
	StageDistribute
)

func (s DistributionStage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageCheckpoint:
		return "checkpoint"
	case StageTotalWeight:
		return "total_weight"
	case StageDistribute:
		return "distribute"
	default:
		return "unknown"
	}
}

// GaugeEmission is the amount pushed to a gauge for a cycle.
type GaugeEmission struct {
	GaugeID uint64       `json:"gauge_id"`
	Amount  *uint256.Int `json:"amount"`
}

// Distributor is the per-cycle emission state machine. Cursor indexes the
// gauge registration order and survives between calls, so any caller can
// resume a pass.
type Distributor struct {
	Stage  DistributionStage
	Cursor int
	Cycle  uint32

	TotalWeights map[uint32]*uint256.Int
	Multipliers  map[uint32]map[uint32]uint64
	Inflation    map[uint32]*uint256.Int
	Distributed  map[uint32]*uint256.Int
}

func NewDistributor() *Distributor {
	return &Distributor{
		Stage:        StageIdle,
		TotalWeights: make(map[uint32]*uint256.Int),
		Multipliers:  make(map[uint32]map[uint32]uint64),
		Inflation:    make(map[uint32]*uint256.Int),
		Distributed:  make(map[uint32]*uint256.Int),
	}
}

func (d *Distributor) IsIdle() bool {
	return d.Stage == StageIdle
}

func (d *Distributor) requireStage(stage DistributionStage) error {
	if d.Stage != stage {
		return errors.WRONG_STAGE.New(
			"distributor is in stage %s, expected %s", d.Stage, stage,
		).WithMetadata(errors.StageMetadata{Expected: stage.String(), Current: d.Stage.String()})
	}
	return nil
}

// batchEnd returns the end of the next batch of at most size gauges out of
// count; a non-positive size processes the whole remaining queue.
func (d *Distributor) batchEnd(size, count int) int {
	if size <= 0 || size > count-d.Cursor {
		return count
	}
	return d.Cursor + size
}

// TotalWeightAt returns the total weight frozen for a distributed cycle.
func (d *Distributor) TotalWeightAt(cycle uint32) *uint256.Int {
	return new(uint256.Int).Set(valueOf(d.TotalWeights[cycle]))
}

// DistributedAt returns the sum of the emissions of a cycle.
func (d *Distributor) DistributedAt(cycle uint32) *uint256.Int {
	return new(uint256.Int).Set(valueOf(d.Distributed[cycle]))
}

// Emission computes the share of inflation of a gauge of the given raw
// weight and class multiplier out of the frozen total.
func Emission(inflation, raw *uint256.Int, multiplier uint64, total *uint256.Int) *uint256.Int {
	if total == nil || total.IsZero() {
		return zero()
	}
	return mulDiv(inflation, mul(raw, u64(multiplier)), total)
}

func (d *Distributor) applyStarted(ev *DistributionStarted) {
	d.Stage = StageCheckpoint
	d.Cursor = 0
	d.Cycle = ev.Cycle
}

func (d *Distributor) applyCheckpointed(gc *GaugeController, ev *GaugesCheckpointed) {
	for _, id := range gc.GaugeOrder[ev.From:ev.To] {
		gc.checkpointGauge(gc.Gauges[id], d.Cycle)
	}
	d.Cursor = ev.To
	if d.Cursor >= len(gc.GaugeOrder) {
		d.Stage = StageTotalWeight
		d.Cursor = 0
	}
}

func (d *Distributor) applyTotalWeight(gc *GaugeController, ev *TotalWeightComputed) {
	gc.checkpointClasses(d.Cycle)
	d.TotalWeights[d.Cycle] = ev.Total
	d.Multipliers[d.Cycle] = ev.Multipliers
	d.Inflation[d.Cycle] = ev.Inflation
	d.Stage = StageDistribute
	d.Cursor = 0
}

func (d *Distributor) applyDistributed(gc *GaugeController, ev *EmissionsDistributed) {
	total := valueOf(d.Distributed[d.Cycle])
	for _, emission := range ev.Emissions {
		g := gc.Gauges[emission.GaugeID]
		g.Emissions[d.Cycle] = emission.Amount
		total = add(total, emission.Amount)
	}
	d.Distributed[d.Cycle] = total
	d.Cursor = ev.To
}

func (d *Distributor) applyCycleAdvanced() {
	d.Stage = StageIdle
	d.Cursor = 0
}
