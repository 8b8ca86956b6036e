package domain

import (
	"github.com/holiman/uint256"
)

// Curve is a sum of linearly decaying terms, each worth slope*(end-cycle)
// until its end cycle. Bias and Slope describe the sum at cycle Last; the
// slope of every term is scheduled for removal at its end cycle.
// History holds the value of every cycle the curve was advanced past and is
// never rewritten.
type Curve struct {
	Bias    *uint256.Int
	Slope   *uint256.Int
	Last    uint32
	Changes *Schedule
	History map[uint32]*uint256.Int
}

func NewCurve(start uint32) *Curve {
	return &Curve{
		Bias:    zero(),
		Slope:   zero(),
		Last:    start,
		Changes: NewSchedule(),
		History: make(map[uint32]*uint256.Int),
	}
}

// Advance walks the curve cycle by cycle up to the given one, applying the
// scheduled slope changes.
func (c *Curve) Advance(to uint32) {
	for c.Last < to {
		c.History[c.Last] = c.Bias
		c.Bias = sub(c.Bias, c.Slope)
		c.Last++
		c.Slope = sub(c.Slope, c.Changes.Take(c.Last))
	}
}

// AddTerm adds slope*(end-Last) to the curve. Terms ending at or before Last
// carry no weight and are ignored.
func (c *Curve) AddTerm(slope *uint256.Int, end uint32) {
	if end <= c.Last || slope == nil || slope.IsZero() {
		return
	}
	c.Bias = add(c.Bias, mul(slope, u64(uint64(end-c.Last))))
	c.Slope = add(c.Slope, slope)
	c.Changes.Add(end, slope)
}

// RemoveTerm removes a term previously added with AddTerm.
func (c *Curve) RemoveTerm(slope *uint256.Int, end uint32) {
	if end <= c.Last || slope == nil || slope.IsZero() {
		return
	}
	c.Bias = sub(c.Bias, mul(slope, u64(uint64(end-c.Last))))
	c.Slope = sub(c.Slope, slope)
	c.Changes.Sub(end, slope)
}

// RemoveCurve subtracts every live term of other, which must have been
// advanced to the same cycle.
func (c *Curve) RemoveCurve(other *Curve) {
	c.Bias = sub(c.Bias, other.Bias)
	c.Slope = sub(c.Slope, other.Slope)
	for _, end := range other.Changes.After(c.Last) {
		c.Changes.Sub(end, other.Changes.At(end))
	}
}

// ValueAt returns the curve value at the given cycle: the recorded history
// for past cycles, the live bias for Last and a projection for later cycles.
func (c *Curve) ValueAt(cycle uint32) *uint256.Int {
	if cycle < c.Last {
		return new(uint256.Int).Set(valueOf(c.History[cycle]))
	}
	bias, slope, t := c.Bias, c.Slope, c.Last
	for _, k := range c.Changes.Between(c.Last, cycle) {
		bias = sub(bias, mul(slope, u64(uint64(k-t))))
		slope = sub(slope, c.Changes.At(k))
		t = k
	}
	if !slope.IsZero() {
		bias = sub(bias, mul(slope, u64(uint64(cycle-t))))
	}
	return new(uint256.Int).Set(bias)
}
