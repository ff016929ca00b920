package handlers

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "codetrace/internal/db"
	"codetrace/internal/http/api"
	"codetrace/internal/ingest"
)

const (
	minBatchSize = 1
	maxBatchSize = 1000
)

// IngestEventBody is one item of the ingestion batch as submitted by
// the client.
type IngestEventBody struct {
	TS        string         `json:"ts"`
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	Seq       *int64         `json:"seq"`
	Data      map[string]any `json:"data"`
}

// IngestRequest is the POST /v1/events body.
type IngestRequest struct {
	Events []IngestEventBody `json:"events"`
}

// Validate checks the batch shape and every item, reporting each
// violated field path.
func (r *IngestRequest) Validate() []api.FieldError {
	var violations []api.FieldError

	if len(r.Events) < minBatchSize {
		violations = append(violations, api.FieldError{
			Path:    "events",
			Message: "at least 1 event is required",
		})
		return violations
	}
	if len(r.Events) > maxBatchSize {
		violations = append(violations, api.FieldError{
			Path:    "events",
			Message: "at most 1000 events are allowed per batch",
		})
		return violations
	}

	for i, e := range r.Events {
		path := "events." + strconv.Itoa(i)
		if e.TS == "" {
			violations = append(violations, api.FieldError{Path: path + ".ts", Message: "required"})
		} else if _, err := time.Parse(time.RFC3339, e.TS); err != nil {
			violations = append(violations, api.FieldError{Path: path + ".ts", Message: "must be an ISO-8601 datetime with offset"})
		}
		if !ingest.ValidEventType(e.Event) {
			violations = append(violations, api.FieldError{Path: path + ".event", Message: "unknown event type"})
		}
		if e.SessionID == "" {
			violations = append(violations, api.FieldError{Path: path + ".session_id", Message: "must not be empty"})
		}
		if e.Seq == nil {
			violations = append(violations, api.FieldError{Path: path + ".seq", Message: "required"})
		} else if *e.Seq < 0 {
			violations = append(violations, api.FieldError{Path: path + ".seq", Message: "must be a non-negative integer"})
		}
	}

	return violations
}

// toEvents converts a validated request into ingestion events. Data
// defaults to an empty object.
func (r *IngestRequest) toEvents() []ingest.Event {
	events := make([]ingest.Event, 0, len(r.Events))
	for _, e := range r.Events {
		ts, _ := time.Parse(time.RFC3339, e.TS)
		data := e.Data
		if data == nil {
			data = map[string]any{}
		}
		events = append(events, ingest.Event{
			Timestamp: ts,
			Type:      e.Event,
			SessionID: e.SessionID,
			Seq:       *e.Seq,
			Data:      data,
		})
	}
	return events
}

// IngestEvents handles POST /v1/events.
func IngestEvents(db *gorm.DB) api.Handler {
	return func(_ *fasthttp.RequestCtx, c *api.Context) *api.Response {
		body := c.Body.(*IngestRequest)

		inserted, err := ingest.IngestEvents(db, c.UserID, body.toEvents())
		if err != nil {
			return api.Fail(api.BadRequest("Failed to insert events"))
		}

		recordIngestedEvents(c.UserID, body.Events)

		return api.Created(map[string]any{"inserted": inserted})
	}
}

// eventView is the read-back shape of one stored event.
type eventView struct {
	ID         uint           `json:"id"`
	SessionID  string         `json:"session_id"`
	EventType  string         `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Seq        int64          `json:"seq"`
	ToolName   *string        `json:"tool_name"`
	DurationMs *int64         `json:"duration_ms"`
	Data       map[string]any `json:"data"`
}

func toEventView(e dbpkg.Event) eventView {
	return eventView{
		ID:         e.ID,
		SessionID:  e.SessionID,
		EventType:  e.EventType,
		Timestamp:  e.Timestamp,
		Seq:        e.Seq,
		ToolName:   e.ToolName,
		DurationMs: e.DurationMs,
		Data:       e.Data,
	}
}

// QueryEvents handles GET /v1/events with optional session_id,
// event_type, from and to filters.
func QueryEvents(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		filters := dbpkg.EventFilters{
			SessionID: string(ctx.QueryArgs().Peek("session_id")),
			EventType: string(ctx.QueryArgs().Peek("event_type")),
			Limit:     c.Pagination.Limit,
			Offset:    c.Pagination.Offset,
		}

		var badParam *api.Error
		filters.From, badParam = optionalTimeArg(ctx, "from")
		if badParam != nil {
			return api.Fail(badParam)
		}
		filters.To, badParam = optionalTimeArg(ctx, "to")
		if badParam != nil {
			return api.Fail(badParam)
		}

		events, total, err := dbpkg.QueryEvents(db, c.UserID, filters)
		if err != nil {
			return api.Fail(api.DatabaseError())
		}

		views := make([]eventView, 0, len(events))
		for _, e := range events {
			views = append(views, toEventView(e))
		}

		return api.List(views, api.Pagination{
			Total:   &total,
			Limit:   c.Pagination.Limit,
			Offset:  c.Pagination.Offset,
			HasMore: int64(c.Pagination.Offset+c.Pagination.Limit) < total,
		})
	}
}

// optionalTimeArg parses an RFC3339 or YYYY-MM-DD query parameter.
func optionalTimeArg(ctx *fasthttp.RequestCtx, name string) (*time.Time, *api.Error) {
	raw := string(ctx.QueryArgs().Peek(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, time.UTC); err == nil {
		return &t, nil
	}
	return nil, api.BadRequest("Invalid " + name + " parameter: expected ISO-8601 datetime or YYYY-MM-DD")
}
