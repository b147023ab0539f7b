package internal

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/aiwaverider/mediasync_server/internal/artifact"
	"github.com/aiwaverider/mediasync_server/internal/coordinator"
	"github.com/aiwaverider/mediasync_server/internal/health"
	"github.com/aiwaverider/mediasync_server/internal/middleware"
	"github.com/aiwaverider/mediasync_server/internal/status"
	"github.com/aiwaverider/mediasync_server/internal/tracksync"
)

func NewRequestHandler(config *Config, artifactEndpoints *artifact.ArtifactEndpoints, coordinatorEndpoints *coordinator.CoordinatorEndpoints, syncEndpoints *tracksync.SyncEndpoints, healthEndpoints *health.HealthEndpoints, statusEndpoints *status.StatusEndpoints) fasthttp.RequestHandler {
	corsMiddleware := middleware.NewCORSMiddleware(config.AllowedOrigins)

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		switch {
		case path == "/health":
			healthEndpoints.Health(ctx)
		case path == "/status":
			statusEndpoints.Status(ctx)

		case path == "/artifacts/register":
			method := string(ctx.Method())
			if method == "POST" {
				artifactEndpoints.RegisterArtifact(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == "/artifacts":
			artifactEndpoints.ListArtifacts(ctx)
		case strings.HasPrefix(path, "/artifacts/") && strings.HasSuffix(path, "/status"):
			parts := strings.Split(path, "/")
			if len(parts) == 4 && parts[3] == "status" {
				ctx.SetUserValue("artifactID", parts[2])
				artifactEndpoints.GetArtifactStatus(ctx)
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case path == "/uploads/run":
			method := string(ctx.Method())
			if method == "POST" {
				coordinatorEndpoints.RunUploads(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == "/uploads/duplicates":
			artifactEndpoints.ListDuplicates(ctx)

		case path == "/sheet/reconcile":
			method := string(ctx.Method())
			if method == "POST" {
				syncEndpoints.ReconcileSheet(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}
