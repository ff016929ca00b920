package handlers

import (
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "codetrace/internal/db"
	"codetrace/internal/http/api"
)

// sessionView is the read-back shape of one session rollup.
type sessionView struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at"`
	DurationMs       *int64     `json:"duration_ms"`
	EventCount       int64      `json:"event_count"`
	ToolCount        int64      `json:"tool_count"`
	StopReason       *string    `json:"stop_reason"`
	GitBranch        *string    `json:"git_branch"`
	WorkingDirectory *string    `json:"working_directory"`
}

func toSessionView(s dbpkg.Session) sessionView {
	return sessionView{
		ID:               s.ID,
		SessionID:        s.SessionID,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
		DurationMs:       s.DurationMs,
		EventCount:       s.EventCount,
		ToolCount:        s.ToolCount,
		StopReason:       s.StopReason,
		GitBranch:        s.GitBranch,
		WorkingDirectory: s.WorkingDirectory,
	}
}

// ListSessions handles GET /v1/sessions with from/to filters on the
// session start time.
func ListSessions(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		filters := dbpkg.SessionFilters{
			Limit:  c.Pagination.Limit,
			Offset: c.Pagination.Offset,
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

		sessions, total, err := dbpkg.ListSessions(db, c.UserID, filters)
		if err != nil {
			return api.Fail(api.DatabaseError())
		}

		views := make([]sessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, toSessionView(s))
		}

		return api.List(views, api.Pagination{
			Total:   &total,
			Limit:   c.Pagination.Limit,
			Offset:  c.Pagination.Offset,
			HasMore: int64(c.Pagination.Offset+c.Pagination.Limit) < total,
		})
	}
}

// GetSession handles GET /v1/sessions/{id}, where id is the client
// session id.
func GetSession(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		sessionID, _ := ctx.UserValue("id").(string)
		if sessionID == "" {
			return api.Fail(api.BadRequest("Missing session id"))
		}

		s, err := dbpkg.GetSession(db, c.UserID, sessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return api.Fail(api.NotFound("Session not found"))
		}
		if err != nil {
			return api.Fail(api.DatabaseError())
		}

		return api.OK(toSessionView(*s))
	}
}

// GetSessionEvents handles GET /v1/sessions/{id}/events: the session's
// raw events in sequence order.
func GetSessionEvents(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		sessionID, _ := ctx.UserValue("id").(string)
		if sessionID == "" {
			return api.Fail(api.BadRequest("Missing session id"))
		}

		if _, err := dbpkg.GetSession(db, c.UserID, sessionID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return api.Fail(api.NotFound("Session not found"))
			}
			return api.Fail(api.DatabaseError())
		}

		events, total, err := dbpkg.SessionEvents(db, c.UserID, sessionID, c.Pagination.Limit, c.Pagination.Offset)
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
