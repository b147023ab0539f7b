package coordinator

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type CoordinatorEndpoints struct {
	coordinator *Coordinator
	// baseCtx outlives individual requests; a batch keeps running after the
	// triggering request disconnects.
	baseCtx context.Context
}

func NewCoordinatorEndpoints(baseCtx context.Context, c *Coordinator) *CoordinatorEndpoints {
	return &CoordinatorEndpoints{coordinator: c, baseCtx: baseCtx}
}

// RunUploads handles POST /uploads/run
func (ce *CoordinatorEndpoints) RunUploads(ctx *fasthttp.RequestCtx) {
	var req BatchRequest
	if body := ctx.PostBody(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			log.Error().Err(err).Msg("Failed to parse request body")
			ctx.Error("Invalid request body", fasthttp.StatusBadRequest)
			return
		}
	}

	outcome, err := ce.coordinator.RunBatch(ce.baseCtx, &req)
	if err != nil {
		if errors.Is(err, ErrBatchRunning) {
			ctx.Error("An upload batch is already running", fasthttp.StatusConflict)
			return
		}
		log.Error().Err(err).Msg("Failed to run upload batch")
		ctx.Error("Failed to run upload batch", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(outcome)
}
