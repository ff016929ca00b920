// Package api implements the gateway pipeline wrapping every public
// REST handler: CORS preflight, API key authentication, scope checks,
// rate limiting, body validation, pagination parsing, and the uniform
// response envelope.
package api

import (
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"codetrace/internal/auth"
	dbpkg "codetrace/internal/db"
	httpctx "codetrace/internal/http/ctx"
	"codetrace/internal/ratelimit"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Context carries everything a domain handler needs about the request.
type Context struct {
	RequestID  string
	UserID     string
	Scopes     []string
	Key        *dbpkg.APIKey
	Body       Body
	Pagination *Pagination
}

// Handler is a domain handler body. It returns a tagged result instead
// of writing status codes itself; the pipeline renders it.
type Handler func(ctx *fasthttp.RequestCtx, c *Context) *Response

// FieldError names one violated field of a request body.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Body is a decodable, self-validating request body.
type Body interface {
	Validate() []FieldError
}

// Options declares a route's cross-cutting requirements.
type Options struct {
	// Scopes the key must carry (admin satisfies any).
	Scopes []string
	// NewBody, when set, enables JSON body validation for POST/PUT/PATCH.
	NewBody func() Body
	// Pagination enables limit/offset query parsing.
	Pagination bool
	// RateLimitTier overrides the key's own tier for this route.
	RateLimitTier ratelimit.Tier
}

// Pipeline holds the dependencies shared by every wrapped route.
type Pipeline struct {
	DB           *gorm.DB
	Limiters     map[ratelimit.Tier]ratelimit.Limiter
	MaxBodyBytes int
}

// Preflight answers OPTIONS requests with permissive CORS headers and
// no content, bypassing every other stage.
func Preflight(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
	ctx.Response.Header.Set("Access-Control-Max-Age", "86400")
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// Handle wraps a domain handler with the full gateway pipeline.
func (p *Pipeline) Handle(o Options, h Handler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Method()) == fasthttp.MethodOptions {
			Preflight(ctx)
			return
		}

		requestID := NewRequestID()
		httpctx.SetRequestID(ctx, requestID)
		ctx.Response.Header.Set("X-Request-ID", requestID)
		ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")

		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("request_id", requestID).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic in request handler")
				ctx.Response.Reset()
				ctx.Response.Header.Set("X-Request-ID", requestID)
				ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
				WriteError(ctx, requestID, Internal())
			}
		}()

		// Authenticate.
		validation, err := auth.ValidateKey(p.DB, string(ctx.Request.Header.Peek("X-API-Key")))
		if err != nil {
			if auth.IsAuthFailure(err) {
				WriteError(ctx, requestID, Unauthorized(err.Error()))
				return
			}
			log.Error().Err(err).Str("request_id", requestID).Msg("API key lookup failed")
			WriteError(ctx, requestID, DatabaseError())
			return
		}
		httpctx.SetUserID(ctx, validation.UserID)

		// Scope check.
		if len(o.Scopes) > 0 && !auth.HasRequiredScopes(validation.Scopes, o.Scopes) {
			msg := "Insufficient permissions. Required scopes: " + strings.Join(o.Scopes, ", ")
			WriteError(ctx, requestID, Forbidden(msg))
			return
		}

		// Rate limit, keyed by key id with a client-fingerprint fallback.
		limiter := p.resolveLimiter(o.RateLimitTier, validation.Key)
		identifier := validation.Key.ID
		if identifier == "" {
			identifier = ratelimit.ClientIdentifier(ctx)
		}
		rl := limiter.Check(identifier)
		setRateLimitHeaders(ctx, rl)
		if !rl.Success {
			WriteError(ctx, requestID, RateLimited(rl.RetryAfter))
			return
		}

		c := &Context{
			RequestID: requestID,
			UserID:    validation.UserID,
			Scopes:    validation.Scopes,
			Key:       validation.Key,
		}

		// Body validation.
		if o.NewBody != nil && isBodyMethod(ctx) {
			if p.MaxBodyBytes > 0 && len(ctx.PostBody()) > p.MaxBodyBytes {
				WriteError(ctx, requestID, PayloadTooLarge("Request body too large"))
				return
			}
			body := o.NewBody()
			if err := json.Unmarshal(ctx.PostBody(), body); err != nil {
				WriteError(ctx, requestID, BadRequest("Invalid JSON body"))
				return
			}
			if violations := body.Validate(); len(violations) > 0 {
				WriteError(ctx, requestID, ValidationFailed(joinViolations(violations), violations))
				return
			}
			c.Body = body
		}

		// Pagination.
		if o.Pagination {
			c.Pagination = parsePagination(ctx)
		}

		resp := h(ctx, c)
		if resp == nil {
			log.Error().Str("request_id", requestID).Msg("handler returned nil response")
			WriteError(ctx, requestID, Internal())
			return
		}
		if resp.Err != nil {
			WriteError(ctx, requestID, resp.Err)
			return
		}
		if resp.List != nil {
			WriteList(ctx, requestID, resp.Data, *resp.List)
			return
		}
		status := resp.Status
		if status == 0 {
			status = fasthttp.StatusOK
		}
		WriteSuccess(ctx, requestID, status, resp.Data)
	}
}

// resolveLimiter picks the route override, else the key's own tier,
// else standard.
func (p *Pipeline) resolveLimiter(override ratelimit.Tier, key *dbpkg.APIKey) ratelimit.Limiter {
	tier := override
	if tier == "" && key != nil {
		tier = ratelimit.Tier(key.RateLimitTier)
	}
	if l, ok := p.Limiters[tier]; ok {
		return l
	}
	return p.Limiters[ratelimit.TierStandard]
}

func setRateLimitHeaders(ctx *fasthttp.RequestCtx, rl ratelimit.Result) {
	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(rl.Reset.Unix(), 10))
	if rl.RetryAfter > 0 {
		secs := int(rl.RetryAfter.Seconds())
		if rl.RetryAfter > time.Duration(secs)*time.Second {
			secs++
		}
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(secs))
	}
}

func isBodyMethod(ctx *fasthttp.RequestCtx) bool {
	switch string(ctx.Method()) {
	case fasthttp.MethodPost, fasthttp.MethodPut, fasthttp.MethodPatch:
		return true
	}
	return false
}

func joinViolations(violations []FieldError) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.Path+": "+v.Message)
	}
	return strings.Join(parts, "; ")
}

func parsePagination(ctx *fasthttp.RequestCtx) *Pagination {
	limit := defaultPageLimit
	if s := string(ctx.QueryArgs().Peek("limit")); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	offset := 0
	if s := string(ctx.QueryArgs().Peek("offset")); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			offset = n
		}
	}

	return &Pagination{Limit: limit, Offset: offset}
}
