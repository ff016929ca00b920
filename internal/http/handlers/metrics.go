package handlers

import (
	"bytes"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"codetrace/internal/auth"
)

var (
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsIngested  *prometheus.CounterVec
)

func InitPrometheusMetrics() {
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codetrace",
			Name:      "requests_total",
			Help:      "Total number of handled API requests.",
		},
		[]string{"route", "method", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codetrace",
			Name:      "request_duration_seconds",
			Help:      "Histogram of API request durations in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)
	eventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codetrace",
			Name:      "events_ingested_total",
			Help:      "Total number of telemetry events accepted for ingestion.",
		},
		[]string{"user_id", "event_type"},
	)
	prometheus.MustRegister(requestsTotal, requestDuration, eventsIngested)
}

// ObserveRequest feeds the ops metrics; called by the request logger.
func ObserveRequest(route, method string, status int, seconds float64) {
	if requestsTotal == nil {
		return
	}
	requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(route, method).Observe(seconds)
}

func recordIngestedEvents(userID string, events []IngestEventBody) {
	if eventsIngested == nil {
		return
	}
	for _, e := range events {
		eventsIngested.WithLabelValues(userID, e.Event).Inc()
	}
}

// UserMetricsHandler serves GET /v1/metrics?api-key=... as Prometheus
// text exposition, filtered so a caller only sees metric series labeled
// with their own user id. Families without a user_id label pass through.
func UserMetricsHandler(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		apiKeyValue := string(ctx.QueryArgs().Peek("api-key"))
		if apiKeyValue == "" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString("missing api-key query parameter")
			return
		}

		validation, err := auth.ValidateKey(db, apiKeyValue)
		if err != nil {
			if auth.IsAuthFailure(err) {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString(err.Error())
				return
			}
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("database error")
			return
		}

		metricFamilies, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		filtered := filterByUserLabel(metricFamilies, validation.UserID)

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func filterByUserLabel(families []*dto.MetricFamily, userID string) []*dto.MetricFamily {
	filtered := make([]*dto.MetricFamily, 0, len(families))
	for _, mf := range families {
		hasUserLabel := false
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "user_id" {
					hasUserLabel = true
					break
				}
			}
			if hasUserLabel {
				break
			}
		}

		if !hasUserLabel {
			filtered = append(filtered, mf)
			continue
		}

		var kept []*dto.Metric
		for _, m := range mf.GetMetric() {
			include := false
			for _, l := range m.GetLabel() {
				if l.GetName() == "user_id" && l.GetValue() == userID {
					include = true
					break
				}
			}
			if include {
				kept = append(kept, m)
			}
		}

		if len(kept) == 0 {
			continue
		}

		filtered = append(filtered, &dto.MetricFamily{
			Name:   mf.Name,
			Help:   mf.Help,
			Type:   mf.Type,
			Metric: kept,
		})
	}
	return filtered
}
