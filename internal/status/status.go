package status

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/aiwaverider/mediasync_server/internal/artifact"
	"github.com/aiwaverider/mediasync_server/internal/tracksync"
)

type StatusEndpoints struct {
	version string
	repo    artifact.Repository
	breaker *tracksync.CircuitBreaker
}

func NewEndpoints(version string, repo artifact.Repository, breaker *tracksync.CircuitBreaker) *StatusEndpoints {
	return &StatusEndpoints{
		version: version,
		repo:    repo,
		breaker: breaker,
	}
}

type StatusResponse struct {
	Health       string         `json:"health"`
	Version      string         `json:"version"`
	Artifacts    int            `json:"artifacts"`
	Records      map[string]int `json:"records"`
	SheetCircuit string         `json:"sheetCircuit"`
}

func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	artifacts, err := se.repo.ListArtifacts()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list artifacts for status")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	records := make(map[string]int)
	for _, status := range []artifact.Status{
		artifact.StatusNotStarted,
		artifact.StatusInProgress,
		artifact.StatusSucceeded,
		artifact.StatusFailed,
		artifact.StatusSkippedDuplicate,
	} {
		recs, err := se.repo.ListRecordsByStatus(status)
		if err != nil {
			log.Error().Err(err).Msg("Failed to count upload records for status")
			ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
			return
		}
		records[string(status)] = len(recs)
	}

	response := StatusResponse{
		Health:       "OK",
		Version:      se.version,
		Artifacts:    len(artifacts),
		Records:      records,
		SheetCircuit: se.breaker.State().String(),
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetBody(responseJSON)
}
