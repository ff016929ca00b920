package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestRecomputeDailyAggregate(t *testing.T) {
	gdb := openTestDB(t)

	require.NoError(t, InsertEvents(gdb, []Event{
		{UserID: "user-1", SessionID: "s1", EventType: "session_start", Timestamp: mustTime(t, "2024-03-01T08:00:00Z"), Seq: 0},
		{UserID: "user-1", SessionID: "s1", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T08:05:00Z"), Seq: 1, ToolName: strptr("Bash")},
		{UserID: "user-1", SessionID: "s1", EventType: "session_end", Timestamp: mustTime(t, "2024-03-01T21:00:00Z"), Seq: 2,
			Data: datatypes.JSONMap{"stop_reason": "end_turn"}},
		{UserID: "user-1", SessionID: "s2", EventType: "session_start", Timestamp: mustTime(t, "2024-03-01T21:30:00Z"), Seq: 0},
		// Next day and another user: both outside this aggregate.
		{UserID: "user-1", SessionID: "s3", EventType: "session_start", Timestamp: mustTime(t, "2024-03-02T00:00:00Z"), Seq: 0},
		{UserID: "user-2", SessionID: "sx", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T08:00:00Z"), Seq: 0},
	}))

	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-01"))

	var agg DailyAggregate
	require.NoError(t, gdb.Where("user_id = ? AND date = ?", "user-1", "2024-03-01").First(&agg).Error)
	assert.Equal(t, int64(2), agg.Sessions)
	assert.Equal(t, int64(4), agg.Events)
	assert.Equal(t, int64(1), agg.ToolUses)
	require.Len(t, agg.HourlyDistribution, 24)
	assert.Equal(t, int64(2), agg.HourlyDistribution[8])
	assert.Equal(t, int64(1), agg.HourlyDistribution[21])
	assert.Contains(t, agg.StopReasons, "end_turn")
}

func TestRecomputeDailyAggregateRebuildsInPlace(t *testing.T) {
	gdb := openTestDB(t)

	require.NoError(t, InsertEvents(gdb, []Event{
		{UserID: "user-1", SessionID: "s1", EventType: "session_start", Timestamp: mustTime(t, "2024-03-01T08:00:00Z"), Seq: 0},
	}))
	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-01"))

	require.NoError(t, InsertEvents(gdb, []Event{
		{UserID: "user-1", SessionID: "s1", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T09:00:00Z"), Seq: 1},
	}))
	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-01"))

	var count int64
	require.NoError(t, gdb.Model(&DailyAggregate{}).Where("user_id = ?", "user-1").Count(&count).Error)
	assert.Equal(t, int64(1), count, "recompute must update the existing row, not add one")

	var agg DailyAggregate
	require.NoError(t, gdb.Where("user_id = ? AND date = ?", "user-1", "2024-03-01").First(&agg).Error)
	assert.Equal(t, int64(2), agg.Events)
	assert.Equal(t, int64(1), agg.ToolUses)
}

func TestRecomputeDailyAggregateBadDate(t *testing.T) {
	gdb := openTestDB(t)
	assert.Error(t, RecomputeDailyAggregate(gdb, "user-1", "01/03/2024"))
}

func TestGetOverviewStats(t *testing.T) {
	gdb := openTestDB(t)

	require.NoError(t, InsertEvents(gdb, []Event{
		{UserID: "user-1", SessionID: "s1", EventType: "session_start", Timestamp: mustTime(t, "2024-03-01T08:00:00Z"), Seq: 0},
		{UserID: "user-1", SessionID: "s1", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T08:05:00Z"), Seq: 1},
		{UserID: "user-1", SessionID: "s1", EventType: "subagent_stop", Timestamp: mustTime(t, "2024-03-01T08:10:00Z"), Seq: 2},
		{UserID: "user-1", SessionID: "s2", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-03T12:00:00Z"), Seq: 0},
	}))
	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-01"))
	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-03"))

	require.NoError(t, MergeSessionRollup(gdb, "user-1", "s1", SessionDelta{
		StartedAt:  mustTime(t, "2024-03-01T08:00:00Z"),
		EndedAt:    mustTime(t, "2024-03-01T08:10:00Z"),
		EventCount: 3,
		ToolCount:  1,
	}))
	require.NoError(t, MergeSessionRollup(gdb, "user-1", "s2", SessionDelta{
		StartedAt:  mustTime(t, "2024-03-03T12:00:00Z"),
		EndedAt:    mustTime(t, "2024-03-03T12:00:00Z"),
		EventCount: 1,
		ToolCount:  1,
	}))

	stats, err := GetOverviewStats(gdb, "user-1", "2024-03-01", "2024-03-03")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSessions)
	assert.Equal(t, int64(4), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.TotalToolUses)
	assert.Equal(t, int64(1), stats.TotalAgentCalls)
	assert.Equal(t, int64(2), stats.ActiveDays)
	assert.Equal(t, 1.0, stats.AvgToolsPerSession)
}

func TestGetDailyActivity(t *testing.T) {
	gdb := openTestDB(t)

	require.NoError(t, InsertEvents(gdb, []Event{
		{UserID: "user-1", SessionID: "s1", EventType: "session_start", Timestamp: mustTime(t, "2024-03-02T08:00:00Z"), Seq: 0},
		{UserID: "user-1", SessionID: "s2", EventType: "session_start", Timestamp: mustTime(t, "2024-03-01T08:00:00Z"), Seq: 0},
	}))
	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-01"))
	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-02"))

	activity, err := GetDailyActivity(gdb, "user-1", "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, "2024-03-01", activity[0].Date)
	assert.Equal(t, "2024-03-02", activity[1].Date)
	assert.Equal(t, int64(1), activity[0].Events)
}

func TestGetTopTools(t *testing.T) {
	gdb := openTestDB(t)

	batch := []Event{
		{UserID: "user-1", SessionID: "s1", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T08:00:00Z"), Seq: 0, ToolName: strptr("Bash"), DurationMs: i64ptr(100)},
		{UserID: "user-1", SessionID: "s1", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T08:01:00Z"), Seq: 1, ToolName: strptr("Bash"), DurationMs: i64ptr(300)},
		{UserID: "user-1", SessionID: "s1", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T08:02:00Z"), Seq: 2, ToolName: strptr("Bash"), DurationMs: i64ptr(200)},
		{UserID: "user-1", SessionID: "s1", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T08:03:00Z"), Seq: 3, ToolName: strptr("Edit")},
		// Not a tool_use: must not count even with a tool name attached.
		{UserID: "user-1", SessionID: "s1", EventType: "tool_result", Timestamp: mustTime(t, "2024-03-01T08:04:00Z"), Seq: 4, ToolName: strptr("Bash")},
	}
	require.NoError(t, InsertEvents(gdb, batch))

	stats, err := GetTopTools(gdb, "user-1", "2024-03-01", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "Bash", stats[0].ToolName)
	assert.Equal(t, int64(3), stats[0].Count)
	require.NotNil(t, stats[0].AvgDurationMs)
	assert.Equal(t, int64(200), *stats[0].AvgDurationMs)
	require.NotNil(t, stats[0].P50DurationMs)
	assert.Equal(t, int64(200), *stats[0].P50DurationMs)
	require.NotNil(t, stats[0].P99DurationMs)
	assert.Equal(t, int64(300), *stats[0].P99DurationMs)

	assert.Equal(t, "Edit", stats[1].ToolName)
	assert.Equal(t, int64(1), stats[1].Count)
	assert.Nil(t, stats[1].AvgDurationMs, "no recorded durations means no percentiles")
}

func TestGetHourlyHeatmap(t *testing.T) {
	gdb := openTestDB(t)

	// 2024-03-01 is a Friday (weekday 5), 2024-03-03 a Sunday (0).
	require.NoError(t, InsertEvents(gdb, []Event{
		{UserID: "user-1", SessionID: "s1", EventType: "session_start", Timestamp: mustTime(t, "2024-03-01T09:00:00Z"), Seq: 0},
		{UserID: "user-1", SessionID: "s1", EventType: "tool_use", Timestamp: mustTime(t, "2024-03-01T09:30:00Z"), Seq: 1},
		{UserID: "user-1", SessionID: "s2", EventType: "session_start", Timestamp: mustTime(t, "2024-03-03T22:00:00Z"), Seq: 0},
	}))
	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-01"))
	require.NoError(t, RecomputeDailyAggregate(gdb, "user-1", "2024-03-03"))

	entries, err := GetHourlyHeatmap(gdb, "user-1", "2024-03-01", "2024-03-03")
	require.NoError(t, err)
	require.Len(t, entries, 7*24)

	byCell := make(map[[2]int]int64, len(entries))
	for _, e := range entries {
		byCell[[2]int{e.DayOfWeek, e.Hour}] = e.Count
	}
	assert.Equal(t, int64(2), byCell[[2]int{5, 9}])
	assert.Equal(t, int64(1), byCell[[2]int{0, 22}])
	assert.Equal(t, int64(0), byCell[[2]int{2, 12}])
}
