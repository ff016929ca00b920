package api

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// ErrorCode is the stable machine-readable error identifier carried in
// every error envelope.
type ErrorCode string

const (
	CodeBadRequest      ErrorCode = "BAD_REQUEST"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodeForbidden       ErrorCode = "FORBIDDEN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeConflict        ErrorCode = "CONFLICT"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	CodeInternalError   ErrorCode = "INTERNAL_ERROR"
	CodeDatabaseError   ErrorCode = "DATABASE_ERROR"
)

func statusForCode(code ErrorCode) int {
	switch code {
	case CodeBadRequest:
		return fasthttp.StatusBadRequest
	case CodeUnauthorized:
		return fasthttp.StatusUnauthorized
	case CodeForbidden:
		return fasthttp.StatusForbidden
	case CodeNotFound:
		return fasthttp.StatusNotFound
	case CodeConflict:
		return fasthttp.StatusConflict
	case CodeValidationError:
		return fasthttp.StatusUnprocessableEntity
	case CodeRateLimited:
		return fasthttp.StatusTooManyRequests
	case CodePayloadTooLarge:
		return fasthttp.StatusRequestEntityTooLarge
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Error is a tagged handler failure; the pipeline is the only place
// that turns it into an HTTP response. Status overrides the code's
// default HTTP status when non-zero.
type Error struct {
	Code    ErrorCode
	Message string
	Details any
	Status  int
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// ValidationFailed reports a malformed request body. Schema-level
// violations answer 400 rather than the semantic-validation 422.
func ValidationFailed(message string, details any) *Error {
	return &Error{
		Code:    CodeValidationError,
		Message: message,
		Details: details,
		Status:  fasthttp.StatusBadRequest,
	}
}

func RateLimited(retryAfter time.Duration) *Error {
	secs := int(retryAfter.Seconds())
	if retryAfter > time.Duration(secs)*time.Second {
		secs++
	}
	return &Error{
		Code:    CodeRateLimited,
		Message: "Too many requests",
		Details: map[string]any{"retryAfter": secs},
	}
}

func PayloadTooLarge(message string) *Error {
	return &Error{Code: CodePayloadTooLarge, Message: message}
}

func Internal() *Error {
	return &Error{Code: CodeInternalError, Message: "Internal server error"}
}

func DatabaseError() *Error {
	return &Error{Code: CodeDatabaseError, Message: "Database operation failed"}
}

// Pagination is the list-envelope block. Total is optional because not
// every listing counts its full result set.
type Pagination struct {
	Total   *int64 `json:"total,omitempty"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"hasMore"`
}

type meta struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

func newMeta(requestID string) meta {
	return meta{RequestID: requestID, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Response is the tagged result a domain handler returns. Exactly one
// of Err or Data is meaningful; a non-nil List makes it a list envelope.
type Response struct {
	Status int
	Data   any
	List   *Pagination
	Err    *Error
}

func OK(data any) *Response {
	return &Response{Status: fasthttp.StatusOK, Data: data}
}

func Created(data any) *Response {
	return &Response{Status: fasthttp.StatusCreated, Data: data}
}

func List(data any, p Pagination) *Response {
	return &Response{Status: fasthttp.StatusOK, Data: data, List: &p}
}

func Fail(err *Error) *Response {
	return &Response{Err: err}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":{"code":"INTERNAL_ERROR","message":"Internal server error"}}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// WriteSuccess renders the success envelope {data, meta}.
func WriteSuccess(ctx *fasthttp.RequestCtx, requestID string, status int, data any) {
	writeJSON(ctx, status, map[string]any{
		"data": data,
		"meta": newMeta(requestID),
	})
}

// WriteList renders the list envelope {data, pagination, meta}.
func WriteList(ctx *fasthttp.RequestCtx, requestID string, data any, p Pagination) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"data":       data,
		"pagination": p,
		"meta":       newMeta(requestID),
	})
}

// WriteError renders the error envelope {error: {...}}. Internal error
// detail never reaches the body; only Code, Message and Details do.
func WriteError(ctx *fasthttp.RequestCtx, requestID string, e *Error) {
	body := map[string]any{
		"code":      e.Code,
		"message":   e.Message,
		"requestId": requestID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if e.Details != nil {
		body["details"] = e.Details
	}
	status := e.Status
	if status == 0 {
		status = statusForCode(e.Code)
	}
	writeJSON(ctx, status, map[string]any{"error": body})
}

// NewRequestID builds a short collision-tolerant correlation id from a
// time component and a random component. Uniqueness is best-effort.
func NewRequestID() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	n := uint64(buf[0])<<24 | uint64(buf[1])<<16 | uint64(buf[2])<<8 | uint64(buf[3])
	return "req_" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "_" + strconv.FormatUint(n, 36)
}
