package tracksync

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type SyncEndpoints struct {
	syncer *Syncer
	// baseCtx outlives individual requests so a reconciliation pass is not
	// cut short by the caller disconnecting.
	baseCtx context.Context
}

func NewSyncEndpoints(baseCtx context.Context, syncer *Syncer) *SyncEndpoints {
	return &SyncEndpoints{syncer: syncer, baseCtx: baseCtx}
}

// ReconcileSheet handles POST /sheet/reconcile
func (se *SyncEndpoints) ReconcileSheet(ctx *fasthttp.RequestCtx) {
	report, err := se.syncer.Reconcile(se.baseCtx)
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			ctx.Error("Sheet circuit breaker is open", fasthttp.StatusServiceUnavailable)
			return
		}
		log.Error().Err(err).Msg("Failed to reconcile tracking sheet")
		ctx.Error("Failed to reconcile tracking sheet", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(report)
}
