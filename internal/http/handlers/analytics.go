package handlers

import (
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "codetrace/internal/db"
	"codetrace/internal/http/api"
)

// requireDateRange reads the mandatory from/to query parameters shared
// by every analytics route.
func requireDateRange(ctx *fasthttp.RequestCtx) (from, to string, err *api.Error) {
	from = string(ctx.QueryArgs().Peek("from"))
	to = string(ctx.QueryArgs().Peek("to"))
	if from == "" || to == "" {
		return "", "", api.BadRequest("Missing required query parameters: from, to (YYYY-MM-DD)")
	}
	if _, parseErr := time.Parse("2006-01-02", from); parseErr != nil {
		return "", "", api.BadRequest("Invalid from parameter: expected YYYY-MM-DD")
	}
	if _, parseErr := time.Parse("2006-01-02", to); parseErr != nil {
		return "", "", api.BadRequest("Invalid to parameter: expected YYYY-MM-DD")
	}
	return from, to, nil
}

// AnalyticsOverview handles GET /v1/analytics/overview.
func AnalyticsOverview(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		from, to, rangeErr := requireDateRange(ctx)
		if rangeErr != nil {
			return api.Fail(rangeErr)
		}

		stats, err := dbpkg.GetOverviewStats(db, c.UserID, from, to)
		if err != nil {
			return api.Fail(api.DatabaseError())
		}
		return api.OK(stats)
	}
}

// AnalyticsTools handles GET /v1/analytics/tools.
func AnalyticsTools(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		from, to, rangeErr := requireDateRange(ctx)
		if rangeErr != nil {
			return api.Fail(rangeErr)
		}

		tools, err := dbpkg.GetTopTools(db, c.UserID, from, to)
		if err != nil {
			return api.Fail(api.DatabaseError())
		}
		return api.OK(tools)
	}
}

// AnalyticsActivity handles GET /v1/analytics/activity, the per-day
// chart series.
func AnalyticsActivity(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		from, to, rangeErr := requireDateRange(ctx)
		if rangeErr != nil {
			return api.Fail(rangeErr)
		}

		activity, err := dbpkg.GetDailyActivity(db, c.UserID, from, to)
		if err != nil {
			return api.Fail(api.DatabaseError())
		}
		return api.OK(activity)
	}
}

// AnalyticsHeatmap handles GET /v1/analytics/heatmap, the 7x24
// day-of-week by hour grid.
func AnalyticsHeatmap(db *gorm.DB) api.Handler {
	return func(ctx *fasthttp.RequestCtx, c *api.Context) *api.Response {
		from, to, rangeErr := requireDateRange(ctx)
		if rangeErr != nil {
			return api.Fail(rangeErr)
		}

		entries, err := dbpkg.GetHourlyHeatmap(db, c.UserID, from, to)
		if err != nil {
			return api.Fail(api.DatabaseError())
		}
		return api.OK(entries)
	}
}
