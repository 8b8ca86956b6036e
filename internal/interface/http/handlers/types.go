package handlers

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/internal/core/application"
	"github.com/lockforge/lockd/internal/core/domain"
)

// Amounts are base-unit decimal strings, addresses are checksummed hex.

type errorResponse struct {
	Code     uint16            `json:"code"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type tokenAmount struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type allocation struct {
	GaugeID uint64 `json:"gauge_id"`
	BPS     uint32 `json:"bps"`
	Slope   string `json:"slope"`
	End     uint32 `json:"end"`
	VotedAt uint32 `json:"voted_at"`
}

type position struct {
	ID                uint64       `json:"id"`
	Owner             string       `json:"owner"`
	Amount            string       `json:"amount"`
	StartCycle        uint32       `json:"start_cycle"`
	EndCycle          uint32       `json:"end_cycle"`
	YieldSplitPercent uint8        `json:"yield_split_percent"`
	Closed            bool         `json:"closed"`
	ClosedAt          uint32       `json:"closed_at,omitempty"`
	Cycle             uint32       `json:"cycle"`
	VoteWeight        string       `json:"vote_weight"`
	YieldShare        string       `json:"yield_share"`
	Bonus             string       `json:"bonus"`
	Allocations       []allocation `json:"allocations"`
	Delegates         []string     `json:"delegates"`
}

type payout struct {
	PositionID uint64        `json:"position_id"`
	Recipient  string        `json:"recipient"`
	Tokens     []tokenAmount `json:"tokens"`
}

type totals struct {
	Cycle       uint32 `json:"cycle"`
	VoteWeight  string `json:"vote_weight"`
	YieldShare  string `json:"yield_share"`
	BonusTotal  string `json:"bonus_total"`
	TotalLocked string `json:"total_locked"`
	TotalWeight string `json:"total_weight"`
}

type distributionStatus struct {
	Stage       string `json:"stage"`
	Cursor      int    `json:"cursor"`
	Cycle       uint32 `json:"cycle"`
	GaugeCount  int    `json:"gauge_count"`
	TotalWeight string `json:"total_weight"`
	Inflation   string `json:"inflation"`
	Distributed string `json:"distributed"`
}

type info struct {
	Cycle            uint32             `json:"cycle"`
	Epoch            uint32             `json:"epoch"`
	Genesis          string             `json:"genesis"`
	LastAdvance      string             `json:"last_advance"`
	NextAdvance      string             `json:"next_advance"`
	Distribution     distributionStatus `json:"distribution"`
	Totals           totals             `json:"totals"`
	PositionCount    int                `json:"position_count"`
	GaugeCount       int                `json:"gauge_count"`
	LastSeq          uint64             `json:"last_seq"`
	BaseToken        string             `json:"base_token"`
	MinVoteLock      uint32             `json:"min_vote_lock_cycles"`
	InflationCurrent string             `json:"inflation"`
}

type gauge struct {
	ID              uint64 `json:"id"`
	Recipient       string `json:"recipient"`
	ClassID         uint32 `json:"class_id"`
	Status          string `json:"status"`
	AddedAt         uint32 `json:"added_at"`
	KilledAt        uint32 `json:"killed_at,omitempty"`
	Cycle           uint32 `json:"cycle"`
	RawWeight       string `json:"raw_weight"`
	EffectiveWeight string `json:"effective_weight"`
	Emission        string `json:"emission"`
}

type class struct {
	ID         uint32 `json:"id"`
	Name       string `json:"name"`
	Multiplier uint64 `json:"multiplier"`
	Weight     string `json:"weight,omitempty"`
}

type epoch struct {
	Epoch      uint32        `json:"epoch"`
	Closed     bool          `json:"closed"`
	ClosesAt   uint32        `json:"closes_at"`
	YieldShare string        `json:"yield_share"`
	Deposited  []tokenAmount `json:"deposited"`
	Remaining  []tokenAmount `json:"remaining"`
}

type epochClaim struct {
	Epoch   uint32        `json:"epoch"`
	Share   string        `json:"share"`
	Payouts []tokenAmount `json:"payouts"`
}

type valueResponse struct {
	Value string `json:"value"`
}

type voteResponse struct {
	Changed bool `json:"changed"`
}

type depositResponse struct {
	Epoch uint32 `json:"epoch"`
}

type positionIDsResponse struct {
	Positions []uint64 `json:"positions"`
}

type openPositionRequest struct {
	Amount            string `json:"amount"`
	DurationCycles    uint32 `json:"duration_cycles"`
	YieldSplitPercent uint8  `json:"yield_split_percent"`
	Beneficiary       string `json:"beneficiary"`
}

// increasePositionRequest extends the amount, the duration or both.
type increasePositionRequest struct {
	Amount      string `json:"amount"`
	ExtraCycles uint32 `json:"extra_cycles"`
}

type delegateRequest struct {
	Delegate string `json:"delegate"`
	Revoke   bool   `json:"revoke"`
}

type transferRequest struct {
	To string `json:"to"`
}

type voteRequest struct {
	PositionID uint64 `json:"position_id"`
	GaugeID    uint64 `json:"gauge_id"`
	BPS        uint32 `json:"bps"`
}

type addGaugeRequest struct {
	Recipient string `json:"recipient"`
	ClassID   uint32 `json:"class_id"`
}

type gaugeStatusRequest struct {
	Status string `json:"status"`
}

type addClassRequest struct {
	Name       string `json:"name"`
	Multiplier uint64 `json:"multiplier"`
}

type classWeightRequest struct {
	Multiplier uint64 `json:"multiplier"`
}

type batchRequest struct {
	BatchSize int `json:"batch_size"`
}

type depositRequest struct {
	Tokens []tokenAmount `json:"tokens"`
}

type claimRequest struct {
	PositionID uint64 `json:"position_id"`
	Epoch      uint32 `json:"epoch"`
	Recipient  string `json:"recipient"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type tokenAmountList []domain.TokenAmount

func (l tokenAmountList) toResponse() []tokenAmount {
	list := make([]tokenAmount, 0, len(l))
	for _, t := range l {
		list = append(list, tokenAmount{Token: t.Token.Hex(), Amount: dec(t.Amount)})
	}
	return list
}

type addressList []common.Address

func (l addressList) toResponse() []string {
	list := make([]string, 0, len(l))
	for _, addr := range l {
		list = append(list, addr.Hex())
	}
	return list
}

func toPosition(p *application.PositionInfo) position {
	allocations := make([]allocation, 0, len(p.Allocations))
	for _, a := range p.Allocations {
		allocations = append(allocations, allocation{
			GaugeID: a.GaugeID,
			BPS:     a.BPS,
			Slope:   dec(a.Slope),
			End:     a.End,
			VotedAt: a.VotedAt,
		})
	}
	return position{
		ID:                p.ID,
		Owner:             p.Owner.Hex(),
		Amount:            dec(p.Amount),
		StartCycle:        p.StartCycle,
		EndCycle:          p.EndCycle,
		YieldSplitPercent: p.YieldSplitPercent,
		Closed:            p.Closed,
		ClosedAt:          p.ClosedAt,
		Cycle:             p.Cycle,
		VoteWeight:        dec(p.VoteWeight),
		YieldShare:        dec(p.YieldShare),
		Bonus:             dec(p.Bonus),
		Allocations:       allocations,
		Delegates:         addressList(p.Delegates).toResponse(),
	}
}

func toPayout(p *application.Payout) payout {
	return payout{
		PositionID: p.PositionID,
		Recipient:  p.Recipient.Hex(),
		Tokens:     tokenAmountList(p.Tokens).toResponse(),
	}
}

func toTotals(t application.GlobalTotals) totals {
	return totals{
		Cycle:       t.Cycle,
		VoteWeight:  dec(t.VoteWeight),
		YieldShare:  dec(t.YieldShare),
		BonusTotal:  dec(t.BonusTotal),
		TotalLocked: dec(t.TotalLocked),
		TotalWeight: dec(t.TotalWeight),
	}
}

func toDistributionStatus(s application.DistributionStatus) distributionStatus {
	return distributionStatus{
		Stage:       s.Stage.String(),
		Cursor:      s.Cursor,
		Cycle:       s.Cycle,
		GaugeCount:  s.GaugeCount,
		TotalWeight: dec(s.TotalWeight),
		Inflation:   dec(s.Inflation),
		Distributed: dec(s.Distributed),
	}
}

func toInfo(i *application.ServiceInfo) info {
	return info{
		Cycle:            i.Cycle,
		Epoch:            i.Epoch,
		Genesis:          formatTime(i.Genesis),
		LastAdvance:      formatTime(i.LastAdvance),
		NextAdvance:      formatTime(i.NextAdvance),
		Distribution:     toDistributionStatus(i.Distribution),
		Totals:           toTotals(i.Totals),
		PositionCount:    i.PositionCount,
		GaugeCount:       i.GaugeCount,
		LastSeq:          i.LastSeq,
		BaseToken:        i.BaseToken.Hex(),
		MinVoteLock:      i.MinVoteLock,
		InflationCurrent: dec(i.InflationCurrent),
	}
}

type gaugeList []application.GaugeInfo

func (l gaugeList) toResponse() []gauge {
	list := make([]gauge, 0, len(l))
	for _, g := range l {
		list = append(list, toGauge(g))
	}
	return list
}

func toGauge(g application.GaugeInfo) gauge {
	return gauge{
		ID:              g.ID,
		Recipient:       g.Recipient.Hex(),
		ClassID:         g.ClassID,
		Status:          g.Status.String(),
		AddedAt:         g.AddedAt,
		KilledAt:        g.KilledAt,
		Cycle:           g.Cycle,
		RawWeight:       dec(g.RawWeight),
		EffectiveWeight: dec(g.EffectiveWeight),
		Emission:        dec(g.Emission),
	}
}

type classList []application.ClassInfo

func (l classList) toResponse() []class {
	list := make([]class, 0, len(l))
	for _, c := range l {
		list = append(list, toClass(c))
	}
	return list
}

func toClass(c application.ClassInfo) class {
	weight := ""
	if c.Weight != nil {
		weight = c.Weight.Dec()
	}
	return class{ID: c.ID, Name: c.Name, Multiplier: c.Multiplier, Weight: weight}
}

func toEpoch(e *application.EpochInfo) epoch {
	return epoch{
		Epoch:      e.Epoch,
		Closed:     e.Closed,
		ClosesAt:   e.ClosesAt,
		YieldShare: dec(e.YieldShare),
		Deposited:  tokenAmountList(e.Deposited).toResponse(),
		Remaining:  tokenAmountList(e.Remaining).toResponse(),
	}
}

type epochClaimList []domain.EpochClaim

func (l epochClaimList) toResponse() []epochClaim {
	list := make([]epochClaim, 0, len(l))
	for _, c := range l {
		list = append(list, epochClaim{
			Epoch:   c.Epoch,
			Share:   dec(c.Share),
			Payouts: tokenAmountList(c.Payouts).toResponse(),
		})
	}
	return list
}
