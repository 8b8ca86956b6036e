package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lockforge/lockd/internal/core/application"
	"github.com/lockforge/lockd/internal/core/domain"
	"github.com/lockforge/lockd/internal/infrastructure/db"
	inmemorylivestore "github.com/lockforge/lockd/internal/infrastructure/live-store/inmemory"
	"github.com/stretchr/testify/require"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	keeper   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	pool     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type noopMetrics struct{}

func (noopMetrics) PositionOpened(context.Context)            {}
func (noopMetrics) PositionClosed(context.Context)            {}
func (noopMetrics) VoteCast(context.Context)                  {}
func (noopMetrics) EmissionsDistributed(context.Context, int) {}
func (noopMetrics) RewardClaimed(context.Context)             {}
func (noopMetrics) CycleAdvanced(context.Context, uint32)     {}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo, err := db.NewService(db.ServiceConfig{
		EventStoreType:   "badger",
		EventBusType:     "gochannel",
		EventStoreConfig: []interface{}{"", nil},
		EventBusConfig:   []interface{}{int64(16)},
	})
	require.NoError(t, err)

	svc, err := application.NewService(
		application.Config{
			Roles:             application.Roles{Admin: admin, Keeper: keeper, Treasury: treasury},
			MinCycleInterval:  time.Hour,
			MinVoteLockCycles: 1,
			Inflation:         domain.NewInflationSchedule(uint256.NewInt(1_000_000), 52, 99, 100),
		},
		repo, inmemorylivestore.NewLiveStore(), nil, nil, noopMetrics{}, clock.NewMock(),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	srv := httptest.NewServer(NewHandler(svc))
	t.Cleanup(func() {
		srv.Close()
		svc.Stop()
	})
	return srv
}

func do(
	t *testing.T, srv *httptest.Server, method, path string, caller *common.Address, body any,
) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if caller != nil {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func requireError(t *testing.T, resp *http.Response, status int, name string) {
	t.Helper()

	require.Equal(t, status, resp.StatusCode)
	errResp := decode[errorResponse](t, resp)
	require.Equal(t, name, errResp.Name)
	require.NotEmpty(t, errResp.Message)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/v1/info", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[info](t, resp)
	require.Zero(t, got.Cycle)
	require.Equal(t, uint32(1), got.Epoch)
	require.Equal(t, domain.StageIdle.String(), got.Distribution.Stage)
	require.Equal(t, "1000000", got.InflationCurrent)
}

func TestPositions(t *testing.T) {
	srv := newTestServer(t)

	t.Run("open", func(t *testing.T) {
		resp := do(t, srv, http.MethodPost, "/v1/positions", &alice, openPositionRequest{
			Amount:            "96000",
			DurationCycles:    12,
			YieldSplitPercent: 50,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		p := decode[position](t, resp)
		require.Equal(t, uint64(1), p.ID)
		require.Equal(t, alice.Hex(), p.Owner)
		require.Equal(t, "96000", p.Amount)
		require.Equal(t, uint32(12), p.EndCycle)
		require.Equal(t, "12000", p.VoteWeight)
		require.Equal(t, "6000", p.YieldShare)
		require.Equal(t, "6000", p.Bonus)
		require.Empty(t, p.Allocations)
	})

	t.Run("get", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, "/v1/positions/1", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		p := decode[position](t, resp)
		require.Equal(t, uint64(1), p.ID)

		resp = do(t, srv, http.MethodGet, "/v1/positions/1/vote-weight?cycle=6", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "6000", decode[valueResponse](t, resp).Value)

		resp = do(t, srv, http.MethodGet, "/v1/positions/1/yield-share?epoch=2", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "0", decode[valueResponse](t, resp).Value)

		resp = do(t, srv, http.MethodGet, "/v1/positions?owner="+alice.Hex(), nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, []uint64{1}, decode[positionIDsResponse](t, resp).Positions)

		resp = do(t, srv, http.MethodGet, "/v1/totals", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		totals := decode[totals](t, resp)
		require.Equal(t, "96000", totals.TotalLocked)
		require.Equal(t, "12000", totals.VoteWeight)
	})

	t.Run("increase", func(t *testing.T) {
		resp := do(t, srv, http.MethodPost, "/v1/positions/1/increase", &alice,
			increasePositionRequest{Amount: "96000"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		p := decode[position](t, resp)
		require.Equal(t, "192000", p.Amount)
		require.Equal(t, uint32(12), p.EndCycle)

		resp = do(t, srv, http.MethodPost, "/v1/positions/1/increase", &alice,
			increasePositionRequest{ExtraCycles: 12})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		p = decode[position](t, resp)
		require.Equal(t, uint32(24), p.EndCycle)

		resp = do(t, srv, http.MethodPost, "/v1/positions/1/increase", &alice,
			increasePositionRequest{})
		requireError(t, resp, http.StatusBadRequest, "INVALID_REQUEST")
	})

	t.Run("delegates", func(t *testing.T) {
		resp := do(t, srv, http.MethodPost, "/v1/positions/1/increase", &bob,
			increasePositionRequest{Amount: "1"})
		requireError(t, resp, http.StatusForbidden, "NOT_AUTHORIZED")

		resp = do(t, srv, http.MethodPost, "/v1/positions/1/delegates", &alice,
			delegateRequest{Delegate: bob.Hex()})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		p := decode[position](t, resp)
		require.Equal(t, []string{bob.Hex()}, p.Delegates)

		resp = do(t, srv, http.MethodPost, "/v1/positions/1/increase", &bob,
			increasePositionRequest{Amount: "96"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(t, srv, http.MethodPost, "/v1/positions/1/delegates", &alice,
			delegateRequest{Delegate: bob.Hex(), Revoke: true})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Empty(t, decode[position](t, resp).Delegates)
	})

	t.Run("transfer", func(t *testing.T) {
		resp := do(t, srv, http.MethodPost, "/v1/positions/1/transfer", &bob,
			transferRequest{To: bob.Hex()})
		requireError(t, resp, http.StatusForbidden, "NOT_AUTHORIZED")

		resp = do(t, srv, http.MethodPost, "/v1/positions/1/transfer", &alice,
			transferRequest{To: bob.Hex()})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, bob.Hex(), decode[position](t, resp).Owner)
	})

	t.Run("close before lock end", func(t *testing.T) {
		resp := do(t, srv, http.MethodPost, "/v1/positions/1/close", &bob, nil)
		requireError(t, resp, http.StatusBadRequest, "LOCK_NOT_OVER")
	})
}

func TestInvalidRequests(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		caller *common.Address
		body   any
		status int
		code   string
	}{
		{
			name:   "position not found",
			method: http.MethodGet,
			path:   "/v1/positions/42",
			status: http.StatusNotFound,
			code:   "POSITION_NOT_FOUND",
		},
		{
			name:   "unknown route",
			method: http.MethodGet,
			path:   "/v1/unknown",
			status: http.StatusNotFound,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "method not allowed",
			method: http.MethodDelete,
			path:   "/v1/votes",
			status: http.StatusMethodNotAllowed,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "invalid position id",
			method: http.MethodGet,
			path:   "/v1/positions/abc",
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "gauge not found",
			method: http.MethodGet,
			path:   "/v1/gauges/7",
			status: http.StatusNotFound,
			code:   "GAUGE_NOT_FOUND",
		},
		{
			name:   "missing owner",
			method: http.MethodGet,
			path:   "/v1/positions",
			status: http.StatusBadRequest,
			code:   "INVALID_ADDRESS",
		},
		{
			name:   "invalid amount",
			method: http.MethodPost,
			path:   "/v1/positions",
			caller: &alice,
			body:   openPositionRequest{Amount: "-1", DurationCycles: 12},
			status: http.StatusBadRequest,
			code:   "INVALID_AMOUNT",
		},
		{
			name:   "unaligned duration",
			method: http.MethodPost,
			path:   "/v1/positions",
			caller: &alice,
			body:   openPositionRequest{Amount: "1000", DurationCycles: 13},
			status: http.StatusBadRequest,
			code:   "INVALID_DURATION",
		},
		{
			name:   "invalid split",
			method: http.MethodPost,
			path:   "/v1/positions",
			caller: &alice,
			body:   openPositionRequest{Amount: "1000", DurationCycles: 12, YieldSplitPercent: 15},
			status: http.StatusBadRequest,
			code:   "INVALID_SPLIT",
		},
		{
			name:   "missing beneficiary",
			method: http.MethodPost,
			path:   "/v1/positions",
			body:   openPositionRequest{Amount: "1000", DurationCycles: 12},
			status: http.StatusBadRequest,
			code:   "INVALID_ADDRESS",
		},
		{
			name:   "unknown field",
			method: http.MethodPost,
			path:   "/v1/positions",
			caller: &alice,
			body:   map[string]any{"amount": "1000", "lock": 12},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "not admin",
			method: http.MethodPost,
			path:   "/v1/classes",
			caller: &alice,
			body:   addClassRequest{Name: "core", Multiplier: 1},
			status: http.StatusForbidden,
			code:   "NOT_AUTHORIZED",
		},
		{
			name:   "not keeper",
			method: http.MethodPost,
			path:   "/v1/distribution/trigger",
			caller: &alice,
			status: http.StatusForbidden,
			code:   "NOT_AUTHORIZED",
		},
		{
			name:   "wrong stage",
			method: http.MethodPost,
			path:   "/v1/distribution/checkpoint",
			status: http.StatusBadRequest,
			code:   "WRONG_STAGE",
		},
		{
			name:   "epoch not closed",
			method: http.MethodGet,
			path:   "/v1/epochs/0",
			status: http.StatusBadRequest,
			code:   "EPOCH_NOT_CLOSED",
		},
		{
			name:   "missing epochs",
			method: http.MethodGet,
			path:   "/v1/positions/1/claimable",
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, tt.method, tt.path, tt.caller, tt.body)
			requireError(t, resp, tt.status, tt.code)
		})
	}

	t.Run("invalid caller", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/positions", nil)
		require.NoError(t, err)
		req.Header.Set(CallerHeader, "not-an-address")
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		requireError(t, resp, http.StatusBadRequest, "INVALID_ADDRESS")
	})
}

func TestGaugesAndDistribution(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/v1/classes", &admin, addClassRequest{Name: "core", Multiplier: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decode[class](t, resp)
	require.Equal(t, uint32(1), c.ID)
	require.Equal(t, uint64(2), c.Multiplier)

	resp = do(t, srv, http.MethodPost, "/v1/classes/1/weight", &admin, classWeightRequest{Multiplier: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(3), decode[class](t, resp).Multiplier)

	resp = do(t, srv, http.MethodPost, "/v1/gauges", &admin, addGaugeRequest{Recipient: pool.Hex(), ClassID: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g := decode[gauge](t, resp)
	require.Equal(t, uint64(1), g.ID)
	require.Equal(t, domain.GaugePending.String(), g.Status)

	resp = do(t, srv, http.MethodPost, "/v1/gauges/1/status", &admin, gaugeStatusRequest{Status: "bogus"})
	requireError(t, resp, http.StatusBadRequest, "INVALID_REQUEST")

	resp = do(t, srv, http.MethodPost, "/v1/positions", &alice, openPositionRequest{
		Amount: "96000", DurationCycles: 24, YieldSplitPercent: 100,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/v1/votes", &alice, voteRequest{PositionID: 1, GaugeID: 1, BPS: 5000})
	requireError(t, resp, http.StatusBadRequest, "GAUGE_NOT_ACTIVE")

	resp = do(t, srv, http.MethodPost, "/v1/gauges/1/status", &admin,
		gaugeStatusRequest{Status: domain.GaugeActive.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.GaugeActive.String(), decode[gauge](t, resp).Status)

	resp = do(t, srv, http.MethodPost, "/v1/votes", &alice, voteRequest{PositionID: 1, GaugeID: 1, BPS: 5000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, decode[voteResponse](t, resp).Changed)

	resp = do(t, srv, http.MethodPost, "/v1/votes", &alice, voteRequest{PositionID: 1, GaugeID: 1, BPS: 5000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, decode[voteResponse](t, resp).Changed)

	resp = do(t, srv, http.MethodGet, "/v1/gauges/1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "12000", decode[gauge](t, resp).RawWeight)

	resp = do(t, srv, http.MethodGet, "/v1/gauges", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]gauge](t, resp), 1)

	// The mock clock never moves, the first cycle can't end yet.
	resp = do(t, srv, http.MethodPost, "/v1/distribution/trigger", &keeper, nil)
	requireError(t, resp, http.StatusBadRequest, "TOO_SOON")

	resp = do(t, srv, http.MethodGet, "/v1/distribution", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.StageIdle.String(), decode[distributionStatus](t, resp).Stage)

	resp = do(t, srv, http.MethodPost, "/v1/distribution/checkpoint", nil, batchRequest{BatchSize: -1})
	requireError(t, resp, http.StatusBadRequest, "INVALID_BATCH_SIZE")
}

func TestRewards(t *testing.T) {
	srv := newTestServer(t)

	tokens := []tokenAmount{{Token: pool.Hex(), Amount: "1000"}}

	resp := do(t, srv, http.MethodPost, "/v1/rewards/deposit", &alice, depositRequest{Tokens: tokens})
	requireError(t, resp, http.StatusForbidden, "NOT_AUTHORIZED")

	resp = do(t, srv, http.MethodPost, "/v1/rewards/deposit", &treasury, depositRequest{Tokens: tokens})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint32(1), decode[depositResponse](t, resp).Epoch)

	resp = do(t, srv, http.MethodPost, "/v1/positions", &alice, openPositionRequest{
		Amount: "96000", DurationCycles: 12, YieldSplitPercent: 100,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/v1/rewards/claim", &alice, claimRequest{PositionID: 1, Epoch: 1})
	requireError(t, resp, http.StatusBadRequest, "EPOCH_NOT_CLOSED")

	resp = do(t, srv, http.MethodGet, "/v1/positions/1/claimable?epochs=1,2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, decode[[]epochClaim](t, resp))
}

func TestFarFutureQueries(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/v1/positions", &alice, openPositionRequest{
		Amount: "96000", DurationCycles: 24, YieldSplitPercent: 50,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/v1/totals?at=4294967295", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[totals](t, resp)
	require.Equal(t, "0", got.VoteWeight)
	require.Equal(t, "0", got.YieldShare)

	resp = do(t, srv, http.MethodGet, "/v1/positions/1?at=4294967295", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/v1/epochs/4294967295", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e := decode[epoch](t, resp)
	require.False(t, e.Closed)
	require.Equal(t, uint32(4294967295), e.ClosesAt)
	require.Equal(t, "0", e.YieldShare)

	// Its close cycle would wrap to 8 on 32 bits.
	resp = do(t, srv, http.MethodGet, "/v1/epochs/357913942", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, decode[epoch](t, resp).Closed)

	resp = do(t, srv, http.MethodPost, "/v1/rewards/claim", &alice, claimRequest{PositionID: 1, Epoch: 357913942})
	requireError(t, resp, http.StatusBadRequest, "EPOCH_NOT_CLOSED")
}
