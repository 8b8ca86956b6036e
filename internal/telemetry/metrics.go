package telemetry

import (
	"context"

	"github.com/lockforge/lockd/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	positionsOpened metric.Int64Counter
	positionsClosed metric.Int64Counter
	votes           metric.Int64Counter
	emissions       metric.Int64Counter
	claims          metric.Int64Counter
	cycle           metric.Int64Gauge
}

// NewMetrics records on the global meter provider, a no-op until
// InitOtelSDK installs one.
func NewMetrics() (ports.Metrics, error) {
	meter := otel.Meter(serviceName)

	positionsOpened, err := meter.Int64Counter(
		"lockd.positions.opened", metric.WithDescription("Positions opened"),
	)
	if err != nil {
		return nil, err
	}
	positionsClosed, err := meter.Int64Counter(
		"lockd.positions.closed", metric.WithDescription("Positions closed"),
	)
	if err != nil {
		return nil, err
	}
	votes, err := meter.Int64Counter(
		"lockd.votes", metric.WithDescription("Gauge votes cast"),
	)
	if err != nil {
		return nil, err
	}
	emissions, err := meter.Int64Counter(
		"lockd.emissions.distributed",
		metric.WithDescription("Gauges credited with a cycle emission"),
	)
	if err != nil {
		return nil, err
	}
	claims, err := meter.Int64Counter(
		"lockd.rewards.claimed", metric.WithDescription("Epoch reward claims"),
	)
	if err != nil {
		return nil, err
	}
	cycle, err := meter.Int64Gauge(
		"lockd.cycle", metric.WithDescription("Current cycle"),
	)
	if err != nil {
		return nil, err
	}

	log.Debug("metrics instruments registered")
	return &metrics{
		positionsOpened: positionsOpened,
		positionsClosed: positionsClosed,
		votes:           votes,
		emissions:       emissions,
		claims:          claims,
		cycle:           cycle,
	}, nil
}

func (m *metrics) PositionOpened(ctx context.Context) { m.positionsOpened.Add(ctx, 1) }
func (m *metrics) PositionClosed(ctx context.Context) { m.positionsClosed.Add(ctx, 1) }
func (m *metrics) VoteCast(ctx context.Context)       { m.votes.Add(ctx, 1) }
func (m *metrics) RewardClaimed(ctx context.Context)  { m.claims.Add(ctx, 1) }

func (m *metrics) EmissionsDistributed(ctx context.Context, gauges int) {
	m.emissions.Add(ctx, int64(gauges))
}

func (m *metrics) CycleAdvanced(ctx context.Context, cycle uint32) {
	m.cycle.Record(ctx, int64(cycle))
}
