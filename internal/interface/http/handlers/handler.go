package handlers

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/lockforge/lockd/internal/core/application"
	"github.com/lockforge/lockd/internal/core/domain"
	lockderrors "github.com/lockforge/lockd/pkg/errors"
)

type handler struct {
	svc application.Service
}

// NewHandler returns the router of the JSON API. The caller identity of
// every request is read from the X-Caller header.
func NewHandler(svc application.Service) http.Handler {
	h := &handler{svc}
	router := httprouter.New()
	router.NotFound = routeError(http.StatusNotFound, "unknown route")
	router.MethodNotAllowed = routeError(http.StatusMethodNotAllowed, "method not allowed")

	router.HandlerFunc(http.MethodGet, "/healthz", h.health)
	router.HandlerFunc(http.MethodGet, "/v1/info", h.getInfo)
	router.HandlerFunc(http.MethodGet, "/v1/totals", h.getTotals)

	router.HandlerFunc(http.MethodGet, "/v1/positions", h.listPositions)
	router.HandlerFunc(http.MethodPost, "/v1/positions", h.openPosition)
	router.HandlerFunc(http.MethodGet, "/v1/positions/:id", h.getPosition)
	router.HandlerFunc(http.MethodPost, "/v1/positions/:id/increase", h.increasePosition)
	router.HandlerFunc(http.MethodPost, "/v1/positions/:id/close", h.closePosition)
	router.HandlerFunc(http.MethodPost, "/v1/positions/:id/transfer", h.transferPosition)
	router.HandlerFunc(http.MethodPost, "/v1/positions/:id/delegates", h.updateDelegate)
	router.HandlerFunc(http.MethodGet, "/v1/positions/:id/vote-weight", h.getVoteWeight)
	router.HandlerFunc(http.MethodGet, "/v1/positions/:id/yield-share", h.getYieldShare)
	router.HandlerFunc(http.MethodGet, "/v1/positions/:id/claimable", h.getClaimable)

	router.HandlerFunc(http.MethodGet, "/v1/classes", h.listClasses)
	router.HandlerFunc(http.MethodPost, "/v1/classes", h.addClass)
	router.HandlerFunc(http.MethodPost, "/v1/classes/:id/weight", h.setClassWeight)
	router.HandlerFunc(http.MethodGet, "/v1/gauges", h.listGauges)
	router.HandlerFunc(http.MethodPost, "/v1/gauges", h.addGauge)
	router.HandlerFunc(http.MethodGet, "/v1/gauges/:id", h.getGauge)
	router.HandlerFunc(http.MethodPost, "/v1/gauges/:id/status", h.setGaugeStatus)
	router.HandlerFunc(http.MethodPost, "/v1/votes", h.vote)

	router.HandlerFunc(http.MethodGet, "/v1/distribution", h.getDistribution)
	router.HandlerFunc(http.MethodPost, "/v1/distribution/trigger", h.triggerDistribution)
	router.HandlerFunc(http.MethodPost, "/v1/distribution/checkpoint", h.checkpointGauges)
	router.HandlerFunc(http.MethodPost, "/v1/distribution/total-weight", h.computeTotalWeight)
	router.HandlerFunc(http.MethodPost, "/v1/distribution/distribute", h.distributeEmissions)
	router.HandlerFunc(http.MethodPost, "/v1/distribution/run", h.runDistribution)

	router.HandlerFunc(http.MethodGet, "/v1/epochs/:epoch", h.getEpoch)
	router.HandlerFunc(http.MethodPost, "/v1/rewards/deposit", h.depositRewards)
	router.HandlerFunc(http.MethodPost, "/v1/rewards/claim", h.claimRewards)

	return router
}

func routeError(status int, msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, errorResponse{
			Code:    lockderrors.INVALID_REQUEST.Code,
			Name:    lockderrors.INVALID_REQUEST.Name,
			Message: fmt.Sprintf("%s: %s %s", msg, r.Method, r.URL.Path),
		})
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (h *handler) getInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetInfo(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toInfo(info))
}

func (h *handler) getTotals(w http.ResponseWriter, r *http.Request) {
	at, err := parseUint32Query(r, "at")
	if err != nil {
		WriteError(w, err)
		return
	}
	t, err := h.svc.GetGlobalTotals(r.Context(), at)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toTotals(*t))
}

func (h *handler) listPositions(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		WriteError(w, err)
		return
	}
	ids, err := h.svc.GetPositionsOf(r.Context(), owner)
	if err != nil {
		WriteError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeOK(w, positionIDsResponse{Positions: ids})
}

func (h *handler) openPosition(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req openPositionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		WriteError(w, err)
		return
	}
	beneficiary, err := parseOptionalAddress(req.Beneficiary)
	if err != nil {
		WriteError(w, err)
		return
	}

	p, err := h.svc.OpenPosition(r.Context(), caller, application.OpenPositionRequest{
		Amount:            amount,
		DurationCycles:    req.DurationCycles,
		YieldSplitPercent: req.YieldSplitPercent,
		Beneficiary:       beneficiary,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toPosition(p))
}

func (h *handler) getPosition(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	at, err := parseUint32Query(r, "at")
	if err != nil {
		WriteError(w, err)
		return
	}
	p, err := h.svc.GetPosition(r.Context(), id, at)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toPosition(p))
}

func (h *handler) increasePosition(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	var req increasePositionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	ctx := r.Context()
	var p *application.PositionInfo
	switch {
	case req.Amount != "" && req.ExtraCycles > 0:
		delta, err := parseAmount(req.Amount)
		if err != nil {
			WriteError(w, err)
			return
		}
		p, err = h.svc.IncreaseDurationAndAmount(ctx, caller, id, req.ExtraCycles, delta)
		if err != nil {
			WriteError(w, err)
			return
		}
	case req.Amount != "":
		delta, err := parseAmount(req.Amount)
		if err != nil {
			WriteError(w, err)
			return
		}
		p, err = h.svc.IncreaseAmount(ctx, caller, id, delta)
		if err != nil {
			WriteError(w, err)
			return
		}
	case req.ExtraCycles > 0:
		p, err = h.svc.IncreaseDuration(ctx, caller, id, req.ExtraCycles)
		if err != nil {
			WriteError(w, err)
			return
		}
	default:
		WriteError(w, lockderrors.INVALID_REQUEST.New("missing amount or extra cycles"))
		return
	}
	writeOK(w, toPosition(p))
}

func (h *handler) closePosition(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	payout, err := h.svc.ClosePosition(r.Context(), caller, id)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toPayout(payout))
}

func (h *handler) transferPosition(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.svc.TransferPosition(r.Context(), caller, id, to); err != nil {
		WriteError(w, err)
		return
	}
	h.writePosition(w, r, id)
}

func (h *handler) updateDelegate(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	var req delegateRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	delegate, err := parseAddress(req.Delegate)
	if err != nil {
		WriteError(w, err)
		return
	}

	if req.Revoke {
		err = h.svc.RevokeDelegate(r.Context(), caller, id, delegate)
	} else {
		err = h.svc.ApproveDelegate(r.Context(), caller, id, delegate)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	h.writePosition(w, r, id)
}

func (h *handler) writePosition(w http.ResponseWriter, r *http.Request, id uint64) {
	p, err := h.svc.GetPosition(r.Context(), id, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toPosition(p))
}

func (h *handler) getVoteWeight(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	cycle, err := parseRequiredUint32Query(r, "cycle")
	if err != nil {
		WriteError(w, err)
		return
	}
	weight, err := h.svc.GetVoteWeight(r.Context(), id, cycle)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, valueResponse{Value: dec(weight)})
}

func (h *handler) getYieldShare(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	epoch, err := parseRequiredUint32Query(r, "epoch")
	if err != nil {
		WriteError(w, err)
		return
	}
	share, err := h.svc.GetYieldShare(r.Context(), id, epoch)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, valueResponse{Value: dec(share)})
}

func (h *handler) getClaimable(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	epochs, err := parseEpochs(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	claims, err := h.svc.GetClaimable(r.Context(), id, epochs)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, epochClaimList(claims).toResponse())
}

func (h *handler) listClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.svc.ListClasses(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, classList(classes).toResponse())
}

func (h *handler) addClass(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req addClassRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	c, err := h.svc.Admin().AddGaugeClass(r.Context(), caller, req.Name, req.Multiplier)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toClass(*c))
}

func (h *handler) setClassWeight(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id, err := parseUint32Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	var req classWeightRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.svc.Admin().SetClassWeight(r.Context(), caller, id, req.Multiplier); err != nil {
		WriteError(w, err)
		return
	}
	classes, err := h.svc.ListClasses(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	for _, c := range classes {
		if c.ID == id {
			writeOK(w, toClass(c))
			return
		}
	}
	WriteError(w, lockderrors.CLASS_NOT_FOUND.New("class %d not found", id).
		WithMetadata(lockderrors.ClassMetadata{ClassID: id}))
}

func (h *handler) listGauges(w http.ResponseWriter, r *http.Request) {
	at, err := parseUint32Query(r, "at")
	if err != nil {
		WriteError(w, err)
		return
	}
	gauges, err := h.svc.ListGauges(r.Context(), at)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, gaugeList(gauges).toResponse())
}

func (h *handler) addGauge(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req addGaugeRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		WriteError(w, err)
		return
	}
	g, err := h.svc.Admin().AddGauge(r.Context(), caller, recipient, req.ClassID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toGauge(*g))
}

func (h *handler) getGauge(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	at, err := parseUint32Query(r, "at")
	if err != nil {
		WriteError(w, err)
		return
	}
	g, err := h.svc.GetGauge(r.Context(), id, at)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toGauge(*g))
}

func (h *handler) setGaugeStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id, err := parseUint64Path(r, "id")
	if err != nil {
		WriteError(w, err)
		return
	}
	var req gaugeStatusRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	status, ok := domain.ParseGaugeStatus(req.Status)
	if !ok {
		WriteError(w, lockderrors.INVALID_REQUEST.New("invalid gauge status %q", req.Status).
			WithMetadata(map[string]any{"field": "status"}))
		return
	}
	if err := h.svc.Admin().SetGaugeStatus(r.Context(), caller, id, status); err != nil {
		WriteError(w, err)
		return
	}
	g, err := h.svc.GetGauge(r.Context(), id, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toGauge(*g))
}

func (h *handler) vote(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	changed, err := h.svc.Vote(r.Context(), caller, req.PositionID, req.GaugeID, req.BPS)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, voteResponse{Changed: changed})
}

func (h *handler) getDistribution(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetDistributionStatus(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toDistributionStatus(*status))
}

func (h *handler) triggerDistribution(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	status, err := h.svc.TriggerDistribution(r.Context(), caller)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toDistributionStatus(*status))
}

func (h *handler) checkpointGauges(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	status, err := h.svc.CheckpointGauges(r.Context(), req.BatchSize)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toDistributionStatus(*status))
}

func (h *handler) computeTotalWeight(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.ComputeTotalWeight(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toDistributionStatus(*status))
}

func (h *handler) distributeEmissions(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	status, err := h.svc.DistributeEmissions(r.Context(), req.BatchSize)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toDistributionStatus(*status))
}

func (h *handler) runDistribution(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	status, err := h.svc.RunDistribution(r.Context(), caller)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toDistributionStatus(*status))
}

func (h *handler) getEpoch(w http.ResponseWriter, r *http.Request) {
	epoch, err := parseUint32Path(r, "epoch")
	if err != nil {
		WriteError(w, err)
		return
	}
	info, err := h.svc.GetEpoch(r.Context(), epoch)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toEpoch(info))
}

func (h *handler) depositRewards(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	tokens, err := parseTokenAmounts(req.Tokens)
	if err != nil {
		WriteError(w, err)
		return
	}
	epoch, err := h.svc.Admin().DepositRewards(r.Context(), caller, tokens)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, depositResponse{Epoch: epoch})
}

func (h *handler) claimRewards(w http.ResponseWriter, r *http.Request) {
	caller, err := parseCaller(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	recipient, err := parseOptionalAddress(req.Recipient)
	if err != nil {
		WriteError(w, err)
		return
	}
	payout, err := h.svc.ClaimRewards(r.Context(), caller, req.PositionID, req.Epoch, recipient)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeOK(w, toPayout(payout))
}
