package ratelimit

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
)

// ClientIdentifier derives a rate-limit identity for requests that
// carry no usable key id: the first forwarded-for hop, the real-ip
// header, or a fingerprint hashed from user agent and accept-language.
func ClientIdentifier(ctx *fasthttp.RequestCtx) string {
	if fwd := string(ctx.Request.Header.Peek("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	ua := string(ctx.Request.Header.Peek("User-Agent"))
	if ua == "" {
		ua = "unknown"
	}
	lang := string(ctx.Request.Header.Peek("Accept-Language"))
	if lang == "" {
		lang = "unknown"
	}

	h := fnv.New32a()
	h.Write([]byte(ua + lang))
	return "fingerprint:" + strconv.FormatUint(uint64(h.Sum32()), 36)
}
