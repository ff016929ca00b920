package middleware

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	httpctx "codetrace/internal/http/ctx"
	"codetrace/internal/http/handlers"
)

// RequestLogger logs method, path, status and duration for every
// request, and feeds the ops metrics.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		elapsed := time.Since(start)

		method := string(ctx.Method())
		path := string(ctx.Path())
		status := ctx.Response.StatusCode()

		handlers.ObserveRequest(path, method, status, elapsed.Seconds())

		evt := log.Info()
		if status >= 500 {
			evt = log.Error()
		}
		if requestID, ok := httpctx.RequestIDFromCtx(ctx); ok {
			evt = evt.Str("request_id", requestID)
		}
		if userID, ok := httpctx.UserIDFromCtx(ctx); ok {
			evt = evt.Str("user_id", userID)
		}
		evt.Str("method", method).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("ip", ctx.RemoteAddr().String()).
			Msg("request")
	}
}
