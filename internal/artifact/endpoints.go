package artifact

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type ArtifactEndpoints struct {
	service *Service
}

func NewArtifactEndpoints(service *Service) *ArtifactEndpoints {
	return &ArtifactEndpoints{service: service}
}

// RegisterArtifact handles POST /artifacts/register
func (ae *ArtifactEndpoints) RegisterArtifact(ctx *fasthttp.RequestCtx) {
	var req RegisterRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		log.Error().Err(err).Msg("Failed to parse request body")
		ctx.Error("Invalid request body", fasthttp.StatusBadRequest)
		return
	}

	registered, err := ae.service.Register(&req)
	if err != nil {
		var pe *PersistenceError
		if errors.As(err, &pe) {
			log.Error().Err(err).Msg("Failed to register artifact")
			ctx.Error("Failed to register artifact", fasthttp.StatusInternalServerError)
			return
		}
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusCreated)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(registered)
}

// ListArtifacts handles GET /artifacts
func (ae *ArtifactEndpoints) ListArtifacts(ctx *fasthttp.RequestCtx) {
	artifacts, err := ae.service.List()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list artifacts")
		ctx.Error("Failed to list artifacts", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(artifacts)
}

// GetArtifactStatus handles GET /artifacts/{id}/status
func (ae *ArtifactEndpoints) GetArtifactStatus(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("artifactID").(string)
	if id == "" {
		ctx.Error("Artifact ID is required", fasthttp.StatusBadRequest)
		return
	}

	status, err := ae.service.Status(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			ctx.Error("Artifact not found", fasthttp.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to get artifact status")
		ctx.Error("Failed to get artifact status", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(status)
}

// ListDuplicates handles GET /uploads/duplicates
func (ae *ArtifactEndpoints) ListDuplicates(ctx *fasthttp.RequestCtx) {
	records, err := ae.service.ListDuplicatesSkipped()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list duplicate records")
		ctx.Error("Failed to list duplicate records", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(records)
}
