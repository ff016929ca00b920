package handlers

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: &name, Value: &value}
}

func family(name string, metrics ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{Name: &name, Metric: metrics}
}

func TestFilterByUserLabelKeepsOwnSeries(t *testing.T) {
	one := 1.0
	families := []*dto.MetricFamily{
		family("codetrace_events_ingested_total",
			&dto.Metric{Label: []*dto.LabelPair{label("user_id", "user-1"), label("event_type", "tool_use")}, Counter: &dto.Counter{Value: &one}},
			&dto.Metric{Label: []*dto.LabelPair{label("user_id", "user-2"), label("event_type", "tool_use")}, Counter: &dto.Counter{Value: &one}},
		),
	}

	filtered := filterByUserLabel(families, "user-1")
	require.Len(t, filtered, 1)
	require.Len(t, filtered[0].GetMetric(), 1)

	for _, l := range filtered[0].GetMetric()[0].GetLabel() {
		if l.GetName() == "user_id" {
			assert.Equal(t, "user-1", l.GetValue())
		}
	}
}

func TestFilterByUserLabelPassesUnlabeledFamilies(t *testing.T) {
	one := 1.0
	families := []*dto.MetricFamily{
		family("codetrace_requests_total",
			&dto.Metric{Label: []*dto.LabelPair{label("route", "/v1/events")}, Counter: &dto.Counter{Value: &one}},
		),
	}

	filtered := filterByUserLabel(families, "user-1")
	require.Len(t, filtered, 1)
	assert.Equal(t, "codetrace_requests_total", filtered[0].GetName())
}

func TestFilterByUserLabelDropsEmptyFamilies(t *testing.T) {
	one := 1.0
	families := []*dto.MetricFamily{
		family("codetrace_events_ingested_total",
			&dto.Metric{Label: []*dto.LabelPair{label("user_id", "user-2")}, Counter: &dto.Counter{Value: &one}},
		),
	}

	filtered := filterByUserLabel(families, "user-1")
	assert.Empty(t, filtered, "a family with no series for the caller disappears entirely")
}
