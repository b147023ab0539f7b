package middleware

import (
	"regexp"

	"github.com/valyala/fasthttp"
)

// CORSMiddleware stamps cross-origin headers for the browser clients that
// poll the status surface. The API carries no credentials, so the wildcard
// origin is safe when nothing more specific is configured.
type CORSMiddleware struct {
	allowedOrigins []string
	localhost      *regexp.Regexp
}

func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORSMiddleware{
		allowedOrigins: allowedOrigins,
		localhost:      regexp.MustCompile(`^https?://localhost:\d+$`),
	}
}

func (cm *CORSMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		origin := string(ctx.Request.Header.Peek("Origin"))
		switch {
		case cm.isAllowed(origin):
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
		case cm.wildcard():
			ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
		}
		ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type")
		ctx.Response.Header.Set("Access-Control-Max-Age", "86400")

		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		next(ctx)
	}
}

func (cm *CORSMiddleware) wildcard() bool {
	return len(cm.allowedOrigins) == 1 && cm.allowedOrigins[0] == "*"
}

// isAllowed matches the origin against the configured list. A configured
// "http://localhost:*" entry accepts any localhost port, and the wildcard
// configuration accepts localhost origins too so local dashboards get a
// concrete origin echoed back.
func (cm *CORSMiddleware) isAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range cm.allowedOrigins {
		if allowed == origin {
			return true
		}
		if (allowed == "http://localhost:*" || allowed == "https://localhost:*") &&
			cm.localhost.MatchString(origin) {
			return true
		}
	}
	return cm.wildcard() && cm.localhost.MatchString(origin)
}
