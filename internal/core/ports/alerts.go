package ports

import "context"

const (
	CycleDistributed Topic = "Cycle Distributed"
	GaugeKilled      Topic = "Gauge Killed"
	PositionClosed   Topic = "Position Closed"
)

type Topic string

type Alerts interface {
	Publish(ctx context.Context, topic Topic, message interface{}) error
}

type CycleDistributedAlert struct {
	Cycle        uint32
	Inflation    string
	Distributed  string
	TotalWeight  string
	GaugeCount   int
	SkippedCount int
	Duration     string
}

type GaugeKilledAlert struct {
	GaugeID   uint64
	Recipient string
	Cycle     uint32
}

type PositionClosedAlert struct {
	PositionID uint64
	Recipient  string
	Amount     string
	Cycle      uint32
}
