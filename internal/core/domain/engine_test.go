package domain_test

import (
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/pkg/errors"
	"github.com/stretchr/testify/require"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	tokenA = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	tokenB = common.HexToAddress("0x0000000000000000000000000000000000000d02")

	inflation = uint64(1_000_000)
)

type errorCode interface {
	Is(err error) bool
	String() string
}

func requireCode(t *testing.T, code errorCode, err error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, code.Is(err), "expected %s, got %v", code, err)
}

// testEngine drives an engine the way the application does: commands
// produce events that get a seq and are folded back into the state.
type testEngine struct {
	*domain.Engine
	t   *testing.T
	now time.Time
	seq uint64
}

func newTestEngine(t *testing.T, minVoteLock uint32) *testEngine {
	t.Helper()

	e := &testEngine{
		Engine: domain.NewEngine(domain.EngineConfig{
			MinCycleInterval:  time.Hour,
			MinVoteLockCycles: minVoteLock,
			Inflation:         domain.NewInflationSchedule(uint256.NewInt(inflation), 0, 0, 0),
		}),
		t:   t,
		now: time.Unix(1_700_000_000, 0),
	}
	ev, err := e.Genesis(e.now)
	require.NoError(t, err)
	e.apply(ev)
	return e
}

func (e *testEngine) apply(events ...domain.Event) {
	e.t.Helper()
	for _, ev := range events {
		e.seq++
		ev.SetSeq(e.seq)
	}
	require.NoError(e.t, e.Apply(events...))
}

func (e *testEngine) open(owner common.Address, amount *uint256.Int, duration uint32, split uint8) uint64 {
	e.t.Helper()
	ev, err := e.OpenPosition(amount, duration, split, owner, e.now)
	require.NoError(e.t, err)
	e.apply(ev)
	return ev.PositionID
}

func (e *testEngine) addClass(name string, multiplier uint64) uint32 {
	e.t.Helper()
	ev, err := e.AddGaugeClass(name, multiplier, e.now)
	require.NoError(e.t, err)
	e.apply(ev)
	return ev.ClassID
}

// addGauge registers and activates a gauge.
func (e *testEngine) addGauge(recipient common.Address, classID uint32) uint64 {
	e.t.Helper()
	added, err := e.AddGauge(recipient, classID, e.now)
	require.NoError(e.t, err)
	e.apply(added)
	e.setStatus(added.GaugeID, domain.GaugeActive)
	return added.GaugeID
}

func (e *testEngine) setStatus(gaugeID uint64, status domain.GaugeStatus) {
	e.t.Helper()
	ev, err := e.SetGaugeStatus(gaugeID, status, e.now)
	require.NoError(e.t, err)
	e.apply(ev)
}

func (e *testEngine) vote(positionID, gaugeID uint64, bps uint32) {
	e.t.Helper()
	ev, err := e.Vote(positionID, gaugeID, bps, alice, e.now)
	require.NoError(e.t, err)
	require.NotNil(e.t, ev)
	e.apply(ev)
}

func (e *testEngine) trigger() {
	e.t.Helper()
	e.now = e.now.Add(time.Hour)
	ev, err := e.TriggerDistribution(e.now)
	require.NoError(e.t, err)
	e.apply(ev)
}

func (e *testEngine) checkpoint(batch int) {
	e.t.Helper()
	for e.Distributor.Stage == domain.StageCheckpoint {
		ev, err := e.CheckpointGauges(batch, e.now)
		require.NoError(e.t, err)
		e.apply(ev)
	}
}

func (e *testEngine) totalWeight() {
	e.t.Helper()
	ev, err := e.ComputeTotalWeight(e.now)
	require.NoError(e.t, err)
	e.apply(ev)
}

func (e *testEngine) distribute(batch int) {
	e.t.Helper()
	for e.Distributor.Stage == domain.StageDistribute {
		events, err := e.DistributeEmissions(batch, e.now)
		require.NoError(e.t, err)
		e.apply(events...)
	}
}

// pass runs a whole distribution and moves to the next cycle.
func (e *testEngine) pass(batch int) {
	e.t.Helper()
	e.trigger()
	e.checkpoint(batch)
	e.totalWeight()
	e.distribute(batch)
}

func (e *testEngine) advance(cycles int) {
	e.t.Helper()
	for i := 0; i < cycles; i++ {
		e.pass(0)
	}
}

func amount(v string) *uint256.Int {
	return uint256.MustFromDecimal(v)
}

func TestCycleHelpers(t *testing.T) {
	require.Equal(t, uint32(1), domain.EpochOf(0))
	require.Equal(t, uint32(1), domain.EpochOf(11))
	require.Equal(t, uint32(2), domain.EpochOf(12))
	require.Equal(t, uint32(12), domain.EpochCloseCycle(1))
	require.Equal(t, uint32(96), domain.EpochCloseCycle(8))
	require.True(t, domain.IsEpochAligned(0))
	require.True(t, domain.IsEpochAligned(48))
	require.False(t, domain.IsEpochAligned(43))
	require.Equal(t, uint32(12), domain.CyclesLeftInEpoch(0))
	require.Equal(t, uint32(7), domain.CyclesLeftInEpoch(5))
	require.Equal(t, uint32(1), domain.CyclesLeftInEpoch(23))

	// Close cycles past the counter range saturate.
	require.Equal(t, uint32(4_294_967_292), domain.EpochCloseCycle(357_913_941))
	require.Equal(t, uint32(math.MaxUint32), domain.EpochCloseCycle(357_913_942))
	require.Equal(t, uint32(math.MaxUint32), domain.EpochCloseCycle(math.MaxUint32))
	require.True(t, domain.IsEpochClosed(1, 12))
	require.False(t, domain.IsEpochClosed(2, 12))
	require.False(t, domain.IsEpochClosed(0, 100))
	require.False(t, domain.IsEpochClosed(357_913_942, 12))
	require.False(t, domain.IsEpochClosed(math.MaxUint32, math.MaxUint32))
}

func TestCycleClock(t *testing.T) {
	e := newTestEngine(t, 1)
	genesis := e.now

	_, err := e.TriggerDistribution(genesis.Add(30 * time.Minute))
	requireCode(t, errors.TOO_SOON, err)

	e.pass(0)
	require.Equal(t, uint32(1), e.Clock.Current())
	require.Equal(t, genesis.Add(time.Hour).Unix(), e.Clock.LastAdvance.Unix())
	require.Equal(t, genesis.Add(2*time.Hour).Unix(), e.Clock.NextAdvance().Unix())

	// Late keepers don't make the clock skip cycles.
	e.now = e.now.Add(24 * time.Hour)
	e.pass(0)
	require.Equal(t, uint32(2), e.Clock.Current())

	_, err = e.Genesis(e.now)
	requireCode(t, errors.INTERNAL_ERROR, err)
}

func TestOpenPosition(t *testing.T) {
	t.Run("boundary", func(t *testing.T) {
		e := newTestEngine(t, 1)
		e.advance(5)

		id := e.open(alice, amount("100000000000000000000"), 43, 100)
		p, err := e.Ledger.GetPosition(id)
		require.NoError(t, err)
		require.Equal(t, uint32(5), p.StartCycle)
		require.Equal(t, uint32(48), p.EndCycle)
		require.Equal(t, uint32(1), p.FirstEpoch())
		require.Equal(t, uint32(4), p.LastEpoch())

		full := "44791666666666666666"
		require.Equal(t, "26128472222222222221", p.YieldShareAt(1).Dec())
		for epoch := uint32(2); epoch <= 4; epoch++ {
			require.Equal(t, full, p.YieldShareAt(epoch).Dec())
			require.Equal(t, full, e.Ledger.GlobalYieldShareAt(epoch).Dec())
		}
		require.True(t, p.YieldShareAt(5).IsZero())
		require.True(t, e.Ledger.GlobalYieldShareAt(5).IsZero())

		require.Equal(t, "1041666666666666666", p.Slope().Dec())
		require.Equal(t, "44791666666666666638", p.VoteWeightAt(5).Dec())
		require.True(t, p.VoteWeightAt(48).IsZero())
		require.True(t, p.Bonus.IsZero())
	})

	t.Run("split", func(t *testing.T) {
		e := newTestEngine(t, 1)
		id := e.open(alice, uint256.NewInt(96_000), 12, 50)
		p, err := e.Ledger.GetPosition(id)
		require.NoError(t, err)

		require.Equal(t, uint64(12_000), p.VoteWeightAt(0).Uint64())
		require.Equal(t, uint64(6_000), p.VoteWeightAt(6).Uint64())
		require.Equal(t, uint64(6_000), p.YieldShareAt(1).Uint64())
		require.Equal(t, uint64(6_000), p.Bonus.Uint64())
		require.Equal(t, uint64(6_000), e.Ledger.BonusTotal.Uint64())
		require.Equal(t, uint64(96_000), e.Ledger.TotalLocked.Uint64())
		require.Equal(t, []uint64{id}, e.Ledger.PositionsOf(alice))
	})

	t.Run("invalid", func(t *testing.T) {
		e := newTestEngine(t, 1)
		e.advance(3)

		tests := []struct {
			name        string
			amount      *uint256.Int
			duration    uint32
			split       uint8
			beneficiary common.Address
			code        errorCode
		}{
			{"zero amount", uint256.NewInt(0), 9, 100, alice, errors.INVALID_AMOUNT},
			{"nil amount", nil, 9, 100, alice, errors.INVALID_AMOUNT},
			{
				"amount too big",
				new(uint256.Int).Add(domain.MaxLockAmount, uint256.NewInt(1)),
				9, 100, alice, errors.INVALID_AMOUNT,
			},
			{"zero duration", uint256.NewInt(1), 0, 100, alice, errors.INVALID_DURATION},
			{"unaligned end", uint256.NewInt(1), 12, 100, alice, errors.INVALID_DURATION},
			{"span too long", uint256.NewInt(1), 105, 100, alice, errors.INVALID_DURATION},
			{"split not multiple of 10", uint256.NewInt(1), 9, 55, alice, errors.INVALID_SPLIT},
			{"split above 100", uint256.NewInt(1), 9, 110, alice, errors.INVALID_SPLIT},
			{"missing beneficiary", uint256.NewInt(1), 9, 100, common.Address{}, errors.INVALID_ADDRESS},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ev, err := e.OpenPosition(tt.amount, tt.duration, tt.split, tt.beneficiary, e.now)
				requireCode(t, tt.code, err)
				require.Nil(t, ev)
			})
		}
		require.Empty(t, e.Ledger.Positions)
	})
}

func TestIncreasePosition(t *testing.T) {
	e := newTestEngine(t, 1)
	id := e.open(alice, uint256.NewInt(96_000), 12, 100)
	e.advance(6)

	ev, err := e.IncreaseDuration(id, 12, alice, e.now)
	require.NoError(t, err)
	e.apply(ev)

	p, err := e.Ledger.GetPosition(id)
	require.NoError(t, err)
	require.Equal(t, uint32(24), p.EndCycle)
	// Half of the share gained lands in the epoch in progress.
	require.Equal(t, uint64(18_000), p.YieldShareAt(1).Uint64())
	require.Equal(t, uint64(24_000), p.YieldShareAt(2).Uint64())
	require.True(t, p.YieldShareAt(3).IsZero())
	require.Equal(t, uint64(18_000), e.Ledger.GlobalYieldShareAt(1).Uint64())
	require.Equal(t, uint64(24_000), e.Ledger.GlobalYieldShareAt(2).Uint64())
	require.True(t, e.Ledger.GlobalYieldShareAt(3).IsZero())
	require.Equal(t, uint64(1_000*18), p.VoteWeightAt(6).Uint64())
	// History is not rewritten.
	require.Equal(t, uint64(1_000*12), p.VoteWeightAt(0).Uint64())
	require.Equal(t, uint64(1_000*12), e.Ledger.GlobalVoteWeightAt(0).Uint64())

	ev, err = e.IncreaseAmount(id, uint256.NewInt(96_000), alice, e.now)
	require.NoError(t, err)
	e.apply(ev)
	require.Equal(t, uint64(2_000*18), p.VoteWeightAt(6).Uint64())
	require.Equal(t, uint64(192_000), e.Ledger.TotalLocked.Uint64())

	ev, err = e.IncreaseDurationAndAmount(id, 12, uint256.NewInt(96_000), alice, e.now)
	require.NoError(t, err)
	e.apply(ev)
	require.Equal(t, uint32(36), p.EndCycle)
	require.Equal(t, uint64(288_000), p.Amount.Uint64())

	_, err = e.IncreaseAmount(id, uint256.NewInt(0), alice, e.now)
	requireCode(t, errors.INVALID_AMOUNT, err)
	_, err = e.IncreaseDuration(id, 0, alice, e.now)
	requireCode(t, errors.INVALID_DURATION, err)
	_, err = e.IncreaseDuration(id, 5, alice, e.now)
	requireCode(t, errors.INVALID_DURATION, err)
	_, err = e.IncreaseDuration(id, 72, alice, e.now)
	requireCode(t, errors.INVALID_DURATION, err)
	// A failed combined increase leaves the position untouched.
	_, err = e.IncreaseDurationAndAmount(id, 5, uint256.NewInt(1), alice, e.now)
	requireCode(t, errors.INVALID_DURATION, err)
	require.Equal(t, uint64(288_000), p.Amount.Uint64())
	_, err = e.IncreaseAmount(99, uint256.NewInt(1), alice, e.now)
	requireCode(t, errors.POSITION_NOT_FOUND, err)

	e.advance(30)
	_, err = e.IncreaseAmount(id, uint256.NewInt(1), alice, e.now)
	requireCode(t, errors.LOCK_OVER, err)
}

func TestClosePosition(t *testing.T) {
	e := newTestEngine(t, 1)
	id := e.open(alice, uint256.NewInt(96_000), 12, 50)
	e.advance(11)

	_, err := e.ClosePosition(id, bob, e.now)
	requireCode(t, errors.LOCK_NOT_OVER, err)

	e.advance(1)
	closed, err := e.ClosePosition(id, bob, e.now)
	require.NoError(t, err)
	require.Equal(t, uint64(96_000), closed.Amount.Uint64())
	e.apply(closed)

	p, err := e.Ledger.GetPosition(id)
	require.NoError(t, err)
	require.True(t, p.Closed)
	require.Equal(t, uint32(12), p.ClosedAt)
	require.Equal(t, bob, p.Owner)
	require.True(t, e.Ledger.TotalLocked.IsZero())
	require.True(t, e.Ledger.BonusTotal.IsZero())
	// The yield share of past epochs survives the close.
	require.Equal(t, uint64(6_000), p.YieldShareAt(1).Uint64())

	_, err = e.ClosePosition(id, bob, e.now)
	requireCode(t, errors.POSITION_CLOSED, err)
	_, err = e.IncreaseAmount(id, uint256.NewInt(1), bob, e.now)
	requireCode(t, errors.POSITION_CLOSED, err)
}

func TestLedgerConservation(t *testing.T) {
	e := newTestEngine(t, 1)

	ids := []uint64{
		e.open(alice, amount("1000000000000000000"), 24, 100),
		e.open(bob, amount("333333333333333333"), 48, 70),
	}
	e.advance(3)
	ids = append(ids, e.open(carol, amount("777777777777777777777"), 9, 30))
	e.advance(4)
	ev, err := e.IncreaseAmount(ids[0], amount("123456789"), alice, e.now)
	require.NoError(t, err)
	e.apply(ev)
	e.advance(7)
	ev, err = e.IncreaseDuration(ids[1], 24, bob, e.now)
	require.NoError(t, err)
	e.apply(ev)
	ids = append(ids, e.open(alice, amount("5000000000000000000"), 82, 10))
	e.advance(6)
	ev, err = e.IncreaseDurationAndAmount(ids[3], 12, amount("42"), alice, e.now)
	require.NoError(t, err)
	e.apply(ev)

	for cycle := uint32(0); cycle <= 100; cycle++ {
		sum := new(uint256.Int)
		for _, id := range ids {
			sum.Add(sum, e.Ledger.Positions[id].VoteWeightAt(cycle))
		}
		require.Equalf(t, sum, e.Ledger.GlobalVoteWeightAt(cycle), "vote weight at cycle %d", cycle)
	}
	for epoch := uint32(1); epoch <= 10; epoch++ {
		sum := new(uint256.Int)
		for _, id := range ids {
			sum.Add(sum, e.Ledger.Positions[id].YieldShareAt(epoch))
		}
		require.Equalf(t, sum, e.Ledger.GlobalYieldShareAt(epoch), "yield share of epoch %d", epoch)
	}

	bonus := new(uint256.Int)
	for _, id := range ids {
		bonus.Add(bonus, e.Ledger.Positions[id].Bonus)
	}
	require.Equal(t, bonus, e.Ledger.BonusTotal)
}

func TestVote(t *testing.T) {
	e := newTestEngine(t, 1)
	core := e.addClass("core", 1)
	g1 := e.addGauge(carol, core)
	g2 := e.addGauge(bob, core)
	id := e.open(alice, uint256.NewInt(96_000), 96, 100)

	e.vote(id, g1, 6_000)
	require.Equal(t, uint64(600*96), e.Gauges.Gauges[g1].RawWeightAt(0).Uint64())

	t.Run("same vote is a no-op", func(t *testing.T) {
		ev, err := e.Vote(id, g1, 6_000, alice, e.now)
		require.NoError(t, err)
		require.Nil(t, ev)
	})

	t.Run("change within cooldown", func(t *testing.T) {
		_, err := e.Vote(id, g1, 4_000, alice, e.now)
		requireCode(t, errors.VOTE_TOO_SOON, err)
		_, err = e.Vote(id, g1, 0, alice, e.now)
		requireCode(t, errors.VOTE_TOO_SOON, err)
	})

	t.Run("allocation exceeded", func(t *testing.T) {
		_, err := e.Vote(id, g2, 5_000, alice, e.now)
		requireCode(t, errors.ALLOCATION_EXCEEDED, err)
		_, err = e.Vote(id, g2, domain.MaxBPS+1, alice, e.now)
		requireCode(t, errors.ALLOCATION_EXCEEDED, err)
	})

	t.Run("zero vote without allocation", func(t *testing.T) {
		ev, err := e.Vote(id, g2, 0, alice, e.now)
		require.NoError(t, err)
		require.Nil(t, ev)
	})

	t.Run("gauge not active", func(t *testing.T) {
		e.setStatus(g2, domain.GaugeVotingPaused)
		_, err := e.Vote(id, g2, 1_000, alice, e.now)
		requireCode(t, errors.GAUGE_NOT_ACTIVE, err)
		e.setStatus(g2, domain.GaugeActive)
		_, err = e.Vote(id, 42, 1_000, alice, e.now)
		requireCode(t, errors.GAUGE_NOT_FOUND, err)
	})

	t.Run("re-vote after cooldown", func(t *testing.T) {
		e.advance(int(domain.VoteCooldownCycles))
		e.vote(id, g1, 4_000)
		e.vote(id, g2, 6_000)
		require.Equal(t, domain.MaxBPS, e.Gauges.UsedBPS[id])
		require.Len(t, e.Gauges.AllocationsOf(id), 2)

		cycle := e.Clock.Cycle
		require.Equal(t, uint64(400*(96-uint64(cycle))), e.Gauges.Gauges[g1].RawWeightAt(cycle).Uint64())
		require.Equal(t, uint64(600*(96-uint64(cycle))), e.Gauges.Gauges[g2].RawWeightAt(cycle).Uint64())
		// Past weights are kept.
		require.Equal(t, uint64(600*96), e.Gauges.Gauges[g1].RawWeightAt(0).Uint64())
	})

	t.Run("zero vote on killed gauge", func(t *testing.T) {
		e.setStatus(g2, domain.GaugeKilled)
		ev, err := e.Vote(id, g2, 0, alice, e.now)
		require.NoError(t, err)
		require.NotNil(t, ev)
		e.apply(ev)
		require.Equal(t, uint32(4_000), e.Gauges.UsedBPS[id])

		_, err = e.Vote(id, g2, 1_000, alice, e.now)
		requireCode(t, errors.GAUGE_NOT_ACTIVE, err)
		_, err = e.SetGaugeStatus(g2, domain.GaugeActive, e.now)
		requireCode(t, errors.INVALID_GAUGE_TRANSITION, err)
	})
}

func TestVoteTimeLock(t *testing.T) {
	e := newTestEngine(t, 13)
	core := e.addClass("core", 1)
	g := e.addGauge(carol, core)
	short := e.open(alice, uint256.NewInt(96_000), 12, 100)
	long := e.open(alice, uint256.NewInt(96_000), 24, 100)

	_, err := e.Vote(short, g, 1_000, alice, e.now)
	requireCode(t, errors.TIME_LOCKED, err)
	e.vote(long, g, 1_000)

	e.advance(12)
	_, err = e.Vote(short, g, 1_000, alice, e.now)
	requireCode(t, errors.LOCK_OVER, err)

	closed, err := e.ClosePosition(short, alice, e.now)
	require.NoError(t, err)
	e.apply(closed)
	_, err = e.Vote(short, g, 1_000, alice, e.now)
	requireCode(t, errors.POSITION_CLOSED, err)
}

func TestGaugeController(t *testing.T) {
	e := newTestEngine(t, 1)

	_, err := e.AddGauge(carol, 1, e.now)
	requireCode(t, errors.CLASS_NOT_FOUND, err)

	core := e.addClass("core", 1)
	boosted := e.addClass("boosted", 3)

	_, err = e.AddGauge(common.Address{}, core, e.now)
	requireCode(t, errors.INVALID_ADDRESS, err)
	_, err = e.SetClassWeight(7, 2, e.now)
	requireCode(t, errors.CLASS_NOT_FOUND, err)

	added, err := e.AddGauge(carol, core, e.now)
	require.NoError(t, err)
	e.apply(added)
	require.Equal(t, domain.GaugePending, e.Gauges.Gauges[added.GaugeID].Status)
	_, err = e.SetGaugeStatus(added.GaugeID, domain.GaugeVotingPaused, e.now)
	requireCode(t, errors.INVALID_GAUGE_TRANSITION, err)
	e.setStatus(added.GaugeID, domain.GaugeActive)

	gauges := []uint64{added.GaugeID, e.addGauge(bob, core), e.addGauge(alice, boosted)}
	p1 := e.open(alice, amount("960000000000000000000"), 48, 100)
	p2 := e.open(bob, amount("12345678901234567890"), 96, 0)
	e.vote(p1, gauges[0], 2_500)
	e.vote(p1, gauges[1], 2_500)
	e.vote(p1, gauges[2], 5_000)
	e.vote(p2, gauges[1], 3_333)
	e.vote(p2, gauges[2], 6_667)

	requireClassConservation := func(cycle uint32) {
		t.Helper()
		for _, class := range e.Gauges.Classes {
			sum := new(uint256.Int)
			for _, g := range e.Gauges.Gauges {
				if g.ClassID == class.ID && !g.IsKilled() {
					sum.Add(sum, g.RawWeightAt(cycle))
				}
			}
			require.Equalf(t, sum, class.Weight.ValueAt(cycle), "class %d at cycle %d", class.ID, cycle)
		}
	}
	requireConservation := func(cycle uint32) {
		t.Helper()
		requireClassConservation(cycle)
		sum := new(uint256.Int)
		for _, id := range e.Gauges.GaugeOrder {
			sum.Add(sum, e.Gauges.EffectiveWeightAt(id, cycle))
		}
		require.Equalf(t, e.Gauges.TotalWeightAt(cycle), sum, "total weight at cycle %d", cycle)
	}
	for cycle := uint32(0); cycle <= 96; cycle += 6 {
		requireConservation(cycle)
	}

	e.advance(3)
	e.setStatus(gauges[1], domain.GaugeKilled)
	require.True(t, e.Gauges.Gauges[gauges[1]].RawWeightAt(3).IsZero())
	for cycle := uint32(3); cycle <= 96; cycle += 3 {
		requireConservation(cycle)
	}

	ev, err := e.SetClassWeight(boosted, 5, e.now)
	require.NoError(t, err)
	e.apply(ev)
	cycle := e.Clock.Cycle
	require.Equal(
		t,
		new(uint256.Int).Mul(e.Gauges.Gauges[gauges[2]].RawWeightAt(cycle), uint256.NewInt(5)),
		e.Gauges.EffectiveWeightAt(gauges[2], cycle),
	)
	for c := cycle; c <= 96; c += 3 {
		requireConservation(c)
	}
	require.False(t, e.Gauges.TotalWeightAt(cycle).IsZero())
}

// distributionFixture registers two classes and three gauges, each voted
// with a 500 slope until cycle 96.
func distributionFixture(t *testing.T) (*testEngine, []uint64) {
	e := newTestEngine(t, 1)
	core := e.addClass("core", 1)
	boosted := e.addClass("boosted", 3)
	gauges := []uint64{
		e.addGauge(carol, core),
		e.addGauge(bob, boosted),
		e.addGauge(alice, core),
	}
	p1 := e.open(alice, uint256.NewInt(96_000), 96, 100)
	p2 := e.open(bob, uint256.NewInt(48_000), 96, 100)
	e.vote(p1, gauges[0], 5_000)
	e.vote(p1, gauges[1], 5_000)
	e.vote(p2, gauges[2], 10_000)
	return e, gauges
}

func TestDistribution(t *testing.T) {
	t.Run("emissions", func(t *testing.T) {
		e, gauges := distributionFixture(t)
		e.pass(0)

		// raw weights 48000, 48000, 48000 for multipliers 1, 3, 1
		require.Equal(t, uint64(240_000), e.Distributor.TotalWeightAt(0).Uint64())
		require.Equal(t, uint64(200_000), e.Gauges.Gauges[gauges[0]].EmissionAt(0).Uint64())
		require.Equal(t, uint64(600_000), e.Gauges.Gauges[gauges[1]].EmissionAt(0).Uint64())
		require.Equal(t, uint64(200_000), e.Gauges.Gauges[gauges[2]].EmissionAt(0).Uint64())
		require.Equal(t, inflation, e.Distributor.DistributedAt(0).Uint64())
		require.Equal(t, uint32(1), e.Clock.Cycle)
		require.True(t, e.Distributor.IsIdle())
	})

	t.Run("batches converge", func(t *testing.T) {
		var results [][]uint64
		for _, batch := range []int{0, 1, 2, 3, 50} {
			e, gauges := distributionFixture(t)
			e.advance(4)
			e.pass(batch)
			emissions := make([]uint64, 0, len(gauges))
			for _, id := range gauges {
				emissions = append(emissions, e.Gauges.Gauges[id].EmissionAt(4).Uint64())
			}
			results = append(results, emissions)
			require.LessOrEqual(t, e.Distributor.DistributedAt(4).Uint64(), inflation)
		}
		for _, r := range results[1:] {
			require.Equal(t, results[0], r)
		}
	})

	t.Run("stages", func(t *testing.T) {
		e, gauges := distributionFixture(t)

		_, err := e.CheckpointGauges(0, e.now)
		requireCode(t, errors.WRONG_STAGE, err)

		e.trigger()
		_, err = e.TriggerDistribution(e.now)
		requireCode(t, errors.WRONG_STAGE, err)
		_, err = e.ComputeTotalWeight(e.now)
		requireCode(t, errors.WRONG_STAGE, err)
		_, err = e.AddGaugeClass("late", 1, e.now)
		requireCode(t, errors.DISTRIBUTION_IN_PROGRESS, err)
		_, err = e.Vote(1, gauges[0], 1_000, alice, e.now)
		requireCode(t, errors.DISTRIBUTION_IN_PROGRESS, err)

		ev, err := e.CheckpointGauges(2, e.now)
		require.NoError(t, err)
		e.apply(ev)
		require.Equal(t, domain.StageCheckpoint, e.Distributor.Stage)
		require.Equal(t, 2, e.Distributor.Cursor)
		e.checkpoint(2)
		require.Equal(t, domain.StageTotalWeight, e.Distributor.Stage)

		_, err = e.DistributeEmissions(0, e.now)
		requireCode(t, errors.WRONG_STAGE, err)
		e.totalWeight()

		// Gauges killed after the total weight is frozen get nothing.
		e.setStatus(gauges[1], domain.GaugeKilled)
		e.distribute(1)

		require.Equal(t, uint64(200_000), e.Gauges.Gauges[gauges[0]].EmissionAt(0).Uint64())
		require.True(t, e.Gauges.Gauges[gauges[1]].EmissionAt(0).IsZero())
		require.Equal(t, uint64(400_000), e.Distributor.DistributedAt(0).Uint64())
		require.True(t, e.Distributor.IsIdle())

		// The next pass only weighs live gauges.
		e.pass(0)
		require.Equal(t, inflation, e.Distributor.DistributedAt(1).Uint64())
	})

	t.Run("no weight", func(t *testing.T) {
		e := newTestEngine(t, 1)
		e.addGauge(carol, e.addClass("core", 1))
		e.pass(0)
		require.True(t, e.Distributor.TotalWeightAt(0).IsZero())
		require.True(t, e.Distributor.DistributedAt(0).IsZero())
	})
}

func TestRewards(t *testing.T) {
	e := newTestEngine(t, 1)
	p1 := e.open(alice, uint256.NewInt(96_000), 12, 100)
	p2 := e.open(bob, uint256.NewInt(24_000), 24, 100)
	p3 := e.open(carol, uint256.NewInt(48_000), 12, 0)

	_, err := e.DepositRewards(bob, nil, e.now)
	requireCode(t, errors.INVALID_AMOUNT, err)
	_, err = e.DepositRewards(bob, []domain.TokenAmount{{Token: tokenA, Amount: uint256.NewInt(0)}}, e.now)
	requireCode(t, errors.INVALID_AMOUNT, err)
	_, err = e.DepositRewards(bob, []domain.TokenAmount{{Amount: uint256.NewInt(1)}}, e.now)
	requireCode(t, errors.INVALID_ADDRESS, err)

	deposit, err := e.DepositRewards(bob, []domain.TokenAmount{
		{Token: tokenA, Amount: uint256.NewInt(1_800)},
		{Token: tokenB, Amount: uint256.NewInt(10)},
	}, e.now)
	require.NoError(t, err)
	require.Equal(t, uint32(1), deposit.Epoch)
	e.apply(deposit)

	_, err = e.ClaimRewards(p1, 1, alice, e.now)
	requireCode(t, errors.EPOCH_NOT_CLOSED, err)
	claims, err := e.Claimable(p1, []uint32{1})
	require.NoError(t, err)
	require.Empty(t, claims)

	e.advance(12)

	// shares of epoch 1: 12000 and 6000 out of 18000
	claims, err = e.Claimable(p2, []uint32{0, 1, 1, 2})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, uint32(1), claims[0].Epoch)
	require.Equal(t, uint64(6_000), claims[0].Share.Uint64())
	require.Equal(t, uint64(600), claims[0].Payouts[0].Amount.Uint64())
	require.Equal(t, uint64(3), claims[0].Payouts[1].Amount.Uint64())

	claimed, err := e.ClaimRewards(p1, 1, alice, e.now)
	require.NoError(t, err)
	require.Equal(t, []domain.TokenAmount{
		{Token: tokenA, Amount: uint256.NewInt(1_200)},
		{Token: tokenB, Amount: uint256.NewInt(6)},
	}, claimed.Payouts)
	e.apply(claimed)

	_, err = e.ClaimRewards(p1, 1, alice, e.now)
	requireCode(t, errors.ALREADY_CLAIMED, err)
	claims, err = e.Claimable(p1, []uint32{1})
	require.NoError(t, err)
	require.Empty(t, claims)

	_, err = e.ClaimRewards(p3, 1, carol, e.now)
	requireCode(t, errors.NO_BALANCE, err)
	_, err = e.ClaimRewards(p2, 2, bob, e.now)
	requireCode(t, errors.EPOCH_NOT_CLOSED, err)
	_, err = e.ClaimRewards(p2, 0, bob, e.now)
	requireCode(t, errors.EPOCH_NOT_CLOSED, err)
	_, err = e.ClaimRewards(p2, 1, common.Address{}, e.now)
	requireCode(t, errors.INVALID_ADDRESS, err)

	claimed, err = e.ClaimRewards(p2, 1, carol, e.now)
	require.NoError(t, err)
	e.apply(claimed)

	remaining := e.Rewards.Epochs[1].Remaining
	require.Equal(t, uint64(0), remaining[tokenA].Uint64())
	require.Equal(t, uint64(1), remaining[tokenB].Uint64())

	// Closing the position doesn't forfeit unclaimed epochs.
	closed, err := e.ClosePosition(p3, carol, e.now)
	require.NoError(t, err)
	e.apply(closed)
	require.True(t, e.Ledger.Positions[p3].Closed)
}

func TestApply(t *testing.T) {
	e := newTestEngine(t, 1)

	ev, err := e.OpenPosition(uint256.NewInt(96_000), 12, 100, alice, e.now)
	require.NoError(t, err)
	ev.SetSeq(e.LastSeq)
	require.Error(t, e.Apply(ev))

	replica := domain.NewEngine(e.Config())
	require.Error(t, replica.Apply(ev))

	ev.SetSeq(e.LastSeq + 1)
	require.NoError(t, e.Apply(ev))
	require.Equal(t, ev.GetSeq(), e.LastSeq)
	require.Len(t, e.Ledger.Positions, 1)
}

// returnsWithin fails the test if fn doesn't return before the timeout.
func returnsWithin(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("still running after %s", timeout)
	}
}

func TestFarFutureReads(t *testing.T) {
	e := newTestEngine(t, 1)
	core := e.addClass("core", 2)
	g := e.addGauge(carol, core)
	p1 := e.open(alice, uint256.NewInt(96_000), 24, 100)
	e.open(bob, uint256.NewInt(48_000), 96, 50)
	e.vote(p1, g, 5_000)
	e.advance(12)

	returnsWithin(t, 5*time.Second, func() {
		require.True(t, e.Ledger.GlobalYieldShareAt(math.MaxUint32).IsZero())
		require.True(t, e.Ledger.GlobalYieldShareAt(domain.EpochOf(math.MaxUint32)).IsZero())
		require.True(t, e.Ledger.GlobalVoteWeightAt(math.MaxUint32).IsZero())
		require.True(t, e.Gauges.TotalWeightAt(math.MaxUint32).IsZero())
		require.True(t, e.Gauges.EffectiveWeightAt(g, math.MaxUint32).IsZero())
	})

	far := uint32(357_913_942)
	_, err := e.ClaimRewards(p1, far, alice, e.now)
	requireCode(t, errors.EPOCH_NOT_CLOSED, err)
	_, err = e.ClaimRewards(p1, math.MaxUint32, alice, e.now)
	requireCode(t, errors.EPOCH_NOT_CLOSED, err)
	claims, err := e.Claimable(p1, []uint32{far, math.MaxUint32})
	require.NoError(t, err)
	require.Empty(t, claims)
}

func TestDepositOverflow(t *testing.T) {
	e := newTestEngine(t, 1)
	maxAmount := new(uint256.Int).SetAllOne()

	deposit, err := e.DepositRewards(bob, []domain.TokenAmount{{Token: tokenA, Amount: maxAmount}}, e.now)
	require.NoError(t, err)
	e.apply(deposit)

	_, err = e.DepositRewards(bob, []domain.TokenAmount{
		{Token: tokenB, Amount: uint256.NewInt(5)},
		{Token: tokenA, Amount: uint256.NewInt(1)},
	}, e.now)
	requireCode(t, errors.ARITHMETIC_OVERFLOW, err)

	// Duplicated tokens of a single deposit add up too.
	_, err = e.DepositRewards(bob, []domain.TokenAmount{
		{Token: tokenB, Amount: maxAmount},
		{Token: tokenB, Amount: uint256.NewInt(1)},
	}, e.now)
	requireCode(t, errors.ARITHMETIC_OVERFLOW, err)

	require.Equal(t, []domain.TokenAmount{{Token: tokenA, Amount: maxAmount}}, e.Rewards.DepositsOf(1))

	// The next epoch starts from scratch.
	e.advance(12)
	deposit, err = e.DepositRewards(bob, []domain.TokenAmount{{Token: tokenA, Amount: uint256.NewInt(1)}}, e.now)
	require.NoError(t, err)
	require.Equal(t, uint32(2), deposit.Epoch)
	e.apply(deposit)
}
