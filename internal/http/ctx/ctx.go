package ctx

import (
	"github.com/valyala/fasthttp"
)

const (
	RequestIDKey = "requestId"
	UserIDKey    = "userId"
)

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(RequestIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func SetUserID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(UserIDKey, id)
}

func UserIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(UserIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
