package health

import (
	"database/sql"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

type HealthEndpoints struct {
	version string
	db      *sql.DB
}

func NewEndpoints(version string, db *sql.DB) *HealthEndpoints {
	return &HealthEndpoints{
		version: version,
		db:      db,
	}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	response := HealthResponse{
		Status:  "ok",
		Version: h.version,
	}

	code := fasthttp.StatusOK
	if err := h.db.Ping(); err != nil {
		response.Status = "degraded"
		code = fasthttp.StatusServiceUnavailable
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(code)

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetBody(responseJSON)
}
