package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/pkg/errors"
)

type GaugeStatus uint8

const (
	GaugePending GaugeStatus = iota
	GaugeActive
	GaugeVotingPaused
	GaugeKilled
)

func (s GaugeStatus) String() string {
	switch s {
	case GaugePending:
		return "pending"
	case GaugeActive:
		return "active"
	case GaugeVotingPaused:
		return "voting_paused"
	case GaugeKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// ParseGaugeStatus is the inverse of GaugeStatus.String.
func ParseGaugeStatus(s string) (GaugeStatus, bool) {
	for _, status := range []GaugeStatus{
		GaugePending, GaugeActive, GaugeVotingPaused, GaugeKilled,
	} {
		if status.String() == s {
			return status, true
		}
	}
	return 0, false
}

// CanTransitionTo returns whether the status machine allows moving to next:
// pending -> active <-> voting_paused, and any non-killed status -> killed.
func (s GaugeStatus) CanTransitionTo(next GaugeStatus) bool {
	switch next {
	case GaugeActive:
		return s == GaugePending || s == GaugeVotingPaused
	case GaugeVotingPaused:
		return s == GaugeActive
	case GaugeKilled:
		return s != GaugeKilled
	default:
		return false
	}
}

// Gauge is an emission recipient. Weight is the raw, class-agnostic sum of
// the vote weight allocated to it.
type Gauge struct {
	ID        uint64
	Recipient common.Address
	ClassID   uint32
	Status    GaugeStatus
	AddedAt   uint32
	KilledAt  uint32
	Weight    *Curve
	Emissions map[uint32]*uint256.Int
}

func (g *Gauge) IsKilled() bool {
	return g.Status == GaugeKilled
}

// RawWeightAt returns the raw weight of the gauge at the given cycle.
func (g *Gauge) RawWeightAt(cycle uint32) *uint256.Int {
	if g.IsKilled() && cycle >= g.KilledAt {
		return zero()
	}
	return g.Weight.ValueAt(cycle)
}

// EmissionAt returns the amount distributed to the gauge for a cycle.
func (g *Gauge) EmissionAt(cycle uint32) *uint256.Int {
	return new(uint256.Int).Set(valueOf(g.Emissions[cycle]))
}

// GaugeClass groups gauges sharing a weight multiplier. Weight aggregates
// the raw weight of every live gauge of the class.
type GaugeClass struct {
	ID         uint32
	Name       string
	Multiplier uint64
	Weight     *Curve
}

// Allocation is the share of a position's vote weight given to a gauge.
type Allocation struct {
	PositionID uint64
	GaugeID    uint64
	BPS        uint32
	Slope      *uint256.Int
	End        uint32
	VotedAt    uint32
}

// GaugeController keeps gauges, classes and vote allocations.
// GaugeOrder is the registration order used by the distributor's cursor.
type GaugeController struct {
	Gauges      map[uint64]*Gauge
	GaugeOrder  []uint64
	Classes     map[uint32]*GaugeClass
	Allocations map[uint64]map[uint64]*Allocation
	UsedBPS     map[uint64]uint32

	NextGaugeID uint64
	NextClassID uint32
}

func NewGaugeController() *GaugeController {
	return &GaugeController{
		Gauges:      make(map[uint64]*Gauge),
		GaugeOrder:  make([]uint64, 0),
		Classes:     make(map[uint32]*GaugeClass),
		Allocations: make(map[uint64]map[uint64]*Allocation),
		UsedBPS:     make(map[uint64]uint32),
		NextGaugeID: 1,
		NextClassID: 1,
	}
}

func (gc *GaugeController) GetGauge(id uint64) (*Gauge, error) {
	g, ok := gc.Gauges[id]
	if !ok {
		return nil, errors.GAUGE_NOT_FOUND.New("gauge %d not found", id).
			WithMetadata(errors.GaugeMetadata{GaugeID: id})
	}
	return g, nil
}

func (gc *GaugeController) GetClass(id uint32) (*GaugeClass, error) {
	c, ok := gc.Classes[id]
	if !ok {
		return nil, errors.CLASS_NOT_FOUND.New("gauge class %d not found", id).
			WithMetadata(errors.ClassMetadata{ClassID: id})
	}
	return c, nil
}

// EffectiveWeightAt is the raw weight of the gauge times the current
// multiplier of its class.
func (gc *GaugeController) EffectiveWeightAt(gaugeID uint64, cycle uint32) *uint256.Int {
	g, ok := gc.Gauges[gaugeID]
	if !ok {
		return zero()
	}
	class := gc.Classes[g.ClassID]
	return mul(g.RawWeightAt(cycle), u64(class.Multiplier))
}

// TotalWeightAt is the sum of the effective weights of every gauge.
func (gc *GaugeController) TotalWeightAt(cycle uint32) *uint256.Int {
	total := zero()
	for _, class := range gc.Classes {
		total = add(total, mul(class.Weight.ValueAt(cycle), u64(class.Multiplier)))
	}
	return total
}

// AllocationsOf returns the allocations of a position keyed by gauge.
func (gc *GaugeController) AllocationsOf(positionID uint64) []Allocation {
	allocations := make([]Allocation, 0, len(gc.Allocations[positionID]))
	for _, gaugeID := range gc.GaugeOrder {
		if a, ok := gc.Allocations[positionID][gaugeID]; ok {
			allocations = append(allocations, *a)
		}
	}
	return allocations
}

// checkpointGauge advances the gauge and its class to the given cycle.
func (gc *GaugeController) checkpointGauge(g *Gauge, cycle uint32) {
	g.Weight.Advance(cycle)
	gc.Classes[g.ClassID].Weight.Advance(cycle)
}

// checkpointClasses advances every class aggregate to the given cycle.
func (gc *GaugeController) checkpointClasses(cycle uint32) {
	for _, class := range gc.Classes {
		class.Weight.Advance(cycle)
	}
}

func (gc *GaugeController) applyClassAdded(cycle uint32, ev *GaugeClassAdded) {
	gc.Classes[ev.ClassID] = &GaugeClass{
		ID:         ev.ClassID,
		Name:       ev.Name,
		Multiplier: ev.Multiplier,
		Weight:     NewCurve(cycle),
	}
	if ev.ClassID >= gc.NextClassID {
		gc.NextClassID = ev.ClassID + 1
	}
}

func (gc *GaugeController) applyClassWeightChanged(ev *ClassWeightChanged) {
	gc.Classes[ev.ClassID].Multiplier = ev.Multiplier
}

func (gc *GaugeController) applyGaugeAdded(cycle uint32, ev *GaugeAdded) {
	gc.Gauges[ev.GaugeID] = &Gauge{
		ID:        ev.GaugeID,
		Recipient: ev.Recipient,
		ClassID:   ev.ClassID,
		Status:    GaugePending,
		AddedAt:   cycle,
		Weight:    NewCurve(cycle),
		Emissions: make(map[uint32]*uint256.Int),
	}
	gc.GaugeOrder = append(gc.GaugeOrder, ev.GaugeID)
	if ev.GaugeID >= gc.NextGaugeID {
		gc.NextGaugeID = ev.GaugeID + 1
	}
}

func (gc *GaugeController) applyStatusChanged(cycle uint32, ev *GaugeStatusChanged) {
	g := gc.Gauges[ev.GaugeID]
	if ev.To == GaugeKilled {
		gc.checkpointGauge(g, cycle)
		gc.Classes[g.ClassID].Weight.RemoveCurve(g.Weight)
		g.KilledAt = cycle
	}
	g.Status = ev.To
}

// applyVote replaces the allocation of a position to a gauge with a new
// one worth bps of the position's current vote curve.
func (gc *GaugeController) applyVote(cycle uint32, p *Position, ev *VoteCast) {
	g := gc.Gauges[ev.GaugeID]
	gc.checkpointGauge(g, cycle)
	class := gc.Classes[g.ClassID]

	allocations, ok := gc.Allocations[p.ID]
	if !ok {
		allocations = make(map[uint64]*Allocation)
		gc.Allocations[p.ID] = allocations
	}

	used := gc.UsedBPS[p.ID]
	if old, ok := allocations[g.ID]; ok {
		g.Weight.RemoveTerm(old.Slope, old.End)
		if !g.IsKilled() {
			class.Weight.RemoveTerm(old.Slope, old.End)
		}
		used -= old.BPS
		delete(allocations, g.ID)
	}

	if ev.BPS > 0 {
		slope := Pct(p.Slope(), ev.BPS)
		g.Weight.AddTerm(slope, p.EndCycle)
		class.Weight.AddTerm(slope, p.EndCycle)
		allocations[g.ID] = &Allocation{
			PositionID: p.ID,
			GaugeID:    g.ID,
			BPS:        ev.BPS,
			Slope:      slope,
			End:        p.EndCycle,
			VotedAt:    cycle,
		}
		used += ev.BPS
	}

	if used == 0 {
		delete(gc.UsedBPS, p.ID)
	} else {
		gc.UsedBPS[p.ID] = used
	}
	if len(allocations) == 0 {
		delete(gc.Allocations, p.ID)
	}
}
