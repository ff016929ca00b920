package main

import (
	"os"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"codetrace/internal/auth"
	"codetrace/internal/config"
	"codetrace/internal/db"
	"codetrace/internal/http/api"
	"codetrace/internal/http/handlers"
	appmw "codetrace/internal/http/middleware"
	"codetrace/internal/ratelimit"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure bootstrap admin")
	}

	handlers.InitPrometheusMetrics()

	limiters := ratelimit.DefaultTiers()
	ratelimit.StartCleanupWorker(limiters)

	pipe := &api.Pipeline{
		DB:           sqlDB,
		Limiters:     ratelimit.Limiters(limiters),
		MaxBodyBytes: cfg.MaxBodyBytes,
	}

	r := router.New()
	r.GlobalOPTIONS = api.Preflight

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	r.POST("/v1/events", pipe.Handle(api.Options{
		Scopes:        []string{auth.ScopeWriteEvents},
		NewBody:       func() api.Body { return &handlers.IngestRequest{} },
		RateLimitTier: ratelimit.TierIngestion,
	}, handlers.IngestEvents(sqlDB)))

	r.GET("/v1/events", pipe.Handle(api.Options{
		Scopes:     []string{auth.ScopeReadEvents},
		Pagination: true,
	}, handlers.QueryEvents(sqlDB)))

	r.GET("/v1/sessions", pipe.Handle(api.Options{
		Scopes:     []string{auth.ScopeReadSessions},
		Pagination: true,
	}, handlers.ListSessions(sqlDB)))

	r.GET("/v1/sessions/{id}", pipe.Handle(api.Options{
		Scopes: []string{auth.ScopeReadSessions},
	}, handlers.GetSession(sqlDB)))

	r.GET("/v1/sessions/{id}/events", pipe.Handle(api.Options{
		Scopes:     []string{auth.ScopeReadSessions},
		Pagination: true,
	}, handlers.GetSessionEvents(sqlDB)))

	r.GET("/v1/analytics/overview", pipe.Handle(api.Options{
		Scopes: []string{auth.ScopeReadAnalytics},
	}, handlers.AnalyticsOverview(sqlDB)))

	r.GET("/v1/analytics/tools", pipe.Handle(api.Options{
		Scopes: []string{auth.ScopeReadAnalytics},
	}, handlers.AnalyticsTools(sqlDB)))

	r.GET("/v1/analytics/activity", pipe.Handle(api.Options{
		Scopes: []string{auth.ScopeReadAnalytics},
	}, handlers.AnalyticsActivity(sqlDB)))

	r.GET("/v1/analytics/heatmap", pipe.Handle(api.Options{
		Scopes: []string{auth.ScopeReadAnalytics},
	}, handlers.AnalyticsHeatmap(sqlDB)))

	r.POST("/v1/keys", pipe.Handle(api.Options{
		Scopes:  []string{auth.ScopeAdmin},
		NewBody: func() api.Body { return &handlers.CreateKeyRequest{} },
	}, handlers.CreateAPIKey(sqlDB)))

	r.GET("/v1/keys", pipe.Handle(api.Options{
		Scopes: []string{auth.ScopeAdmin},
	}, handlers.ListAPIKeys(sqlDB)))

	r.DELETE("/v1/keys/{id}", pipe.Handle(api.Options{
		Scopes: []string{auth.ScopeAdmin},
	}, handlers.DeleteAPIKey(sqlDB)))

	r.GET("/v1/metrics", handlers.UserMetricsHandler(sqlDB))

	server := &fasthttp.Server{
		Handler: appmw.RequestLogger(r.Handler),
		// Leave headroom above the pipeline's own body cap so oversized
		// requests get an enveloped 413 instead of a dropped connection.
		MaxRequestBodySize: cfg.MaxBodyBytes + (1 << 20),
	}

	log.Info().Str("addr", cfg.ListenAddr).Msg("codetrace listening")
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
