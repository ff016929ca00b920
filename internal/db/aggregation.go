package db

import (
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// RecomputeDailyAggregate rebuilds the (user, date) aggregate row in
// full from the event log. Called once per affected date per ingestion
// batch; a rebuild is cheap at this granularity and self-heals any
// drift left by earlier partial failures.
func RecomputeDailyAggregate(db *gorm.DB, userID, date string) error {
	dayStart, err := time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return err
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	var events []Event
	if err := db.Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, dayStart, dayEnd).
		Select("session_id", "event_type", "timestamp", "data").
		Find(&events).Error; err != nil {
		return err
	}

	sessions := make(map[string]struct{})
	hourly := make(datatypes.JSONSlice[int64], 24)
	stopReasons := datatypes.JSONMap{}
	var toolUses int64

	for _, e := range events {
		sessions[e.SessionID] = struct{}{}
		hourly[e.Timestamp.UTC().Hour()]++
		if e.EventType == "tool_use" {
			toolUses++
		}
		if reason, ok := e.Data["stop_reason"].(string); ok && reason != "" {
			switch e.EventType {
			case "session_end", "assistant_stop", "subagent_stop":
				n, _ := stopReasons[reason].(int64)
				if f, isFloat := stopReasons[reason].(float64); isFloat {
					n = int64(f)
				}
				stopReasons[reason] = n + 1
			}
		}
	}

	row := DailyAggregate{
		UserID:             userID,
		Date:               date,
		Sessions:           int64(len(sessions)),
		Events:             int64(len(events)),
		ToolUses:           toolUses,
		HourlyDistribution: hourly,
		StopReasons:        stopReasons,
	}

	var existing DailyAggregate
	err = db.Where("user_id = ? AND date = ?", userID, date).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return db.Create(&row).Error
	}
	if err != nil {
		return err
	}
	return db.Model(&existing).Updates(map[string]interface{}{
		"sessions":            row.Sessions,
		"events":              row.Events,
		"tool_uses":           row.ToolUses,
		"hourly_distribution": row.HourlyDistribution,
		"stop_reasons":        row.StopReasons,
	}).Error
}

// OverviewStats is the headline summary for a date range.
type OverviewStats struct {
	TotalSessions         int64   `json:"total_sessions"`
	TotalEvents           int64   `json:"total_events"`
	TotalToolUses         int64   `json:"total_tool_uses"`
	TotalAgentCalls       int64   `json:"total_agent_calls"`
	ActiveDays            int64   `json:"active_days"`
	AvgSessionDurationMin float64 `json:"avg_session_duration_min"`
	AvgToolsPerSession    float64 `json:"avg_tools_per_session"`
}

// GetOverviewStats computes overview stats for [from, to] (inclusive
// YYYY-MM-DD dates) from the daily aggregates plus session rollups.
func GetOverviewStats(db *gorm.DB, userID, from, to string) (*OverviewStats, error) {
	var sums struct {
		Sessions int64
		Events   int64
		ToolUses int64
	}
	if err := db.Model(&DailyAggregate{}).
		Where("user_id = ? AND date >= ? AND date <= ?", userID, from, to).
		Select("COALESCE(SUM(sessions),0) as sessions, COALESCE(SUM(events),0) as events, COALESCE(SUM(tool_uses),0) as tool_uses").
		Scan(&sums).Error; err != nil {
		return nil, err
	}

	var activeDays int64
	if err := db.Model(&DailyAggregate{}).
		Where("user_id = ? AND date >= ? AND date <= ? AND events > 0", userID, from, to).
		Count(&activeDays).Error; err != nil {
		return nil, err
	}

	rangeStart, rangeEnd, err := rangeBounds(from, to)
	if err != nil {
		return nil, err
	}

	var agentCalls int64
	if err := db.Model(&Event{}).
		Where("user_id = ? AND event_type = ? AND timestamp >= ? AND timestamp < ?",
			userID, "subagent_stop", rangeStart, rangeEnd).
		Count(&agentCalls).Error; err != nil {
		return nil, err
	}

	var sessionAvgs struct {
		AvgDurationMs float64
		AvgToolCount  float64
	}
	if err := db.Model(&Session{}).
		Where("user_id = ? AND started_at >= ? AND started_at < ?", userID, rangeStart, rangeEnd).
		Select("COALESCE(AVG(duration_ms),0) as avg_duration_ms, COALESCE(AVG(tool_count),0) as avg_tool_count").
		Scan(&sessionAvgs).Error; err != nil {
		return nil, err
	}

	return &OverviewStats{
		TotalSessions:         sums.Sessions,
		TotalEvents:           sums.Events,
		TotalToolUses:         sums.ToolUses,
		TotalAgentCalls:       agentCalls,
		ActiveDays:            activeDays,
		AvgSessionDurationMin: sessionAvgs.AvgDurationMs / 60000.0,
		AvgToolsPerSession:    sessionAvgs.AvgToolCount,
	}, nil
}

// DailyActivity is one chart point of the per-day series.
type DailyActivity struct {
	Date     string `json:"date"`
	Sessions int64  `json:"sessions"`
	Events   int64  `json:"events"`
	ToolUses int64  `json:"tool_uses"`
}

// GetDailyActivity returns the per-day aggregate series for the range,
// oldest first. Days with no row are simply absent.
func GetDailyActivity(db *gorm.DB, userID, from, to string) ([]DailyActivity, error) {
	var rows []DailyAggregate
	if err := db.Where("user_id = ? AND date >= ? AND date <= ?", userID, from, to).
		Order("date ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	activity := make([]DailyActivity, 0, len(rows))
	for _, r := range rows {
		activity = append(activity, DailyActivity{
			Date:     r.Date,
			Sessions: r.Sessions,
			Events:   r.Events,
			ToolUses: r.ToolUses,
		})
	}
	return activity, nil
}

// ToolUsageStat summarises one tool's usage over a range.
type ToolUsageStat struct {
	ToolName      string `json:"tool_name"`
	Count         int64  `json:"count"`
	AvgDurationMs *int64 `json:"avg_duration_ms"`
	P50DurationMs *int64 `json:"p50_duration_ms"`
	P99DurationMs *int64 `json:"p99_duration_ms"`
}

// GetTopTools groups tool_use events by tool name and computes count
// plus duration percentiles, busiest tools first.
func GetTopTools(db *gorm.DB, userID, from, to string) ([]ToolUsageStat, error) {
	rangeStart, rangeEnd, err := rangeBounds(from, to)
	if err != nil {
		return nil, err
	}

	var events []Event
	if err := db.Where("user_id = ? AND event_type = ? AND tool_name IS NOT NULL AND timestamp >= ? AND timestamp < ?",
		userID, "tool_use", rangeStart, rangeEnd).
		Select("tool_name", "duration_ms").
		Find(&events).Error; err != nil {
		return nil, err
	}

	type group struct {
		count     int64
		durations []int64
	}
	groups := make(map[string]*group)
	for _, e := range events {
		if e.ToolName == nil || *e.ToolName == "" {
			continue
		}
		g := groups[*e.ToolName]
		if g == nil {
			g = &group{}
			groups[*e.ToolName] = g
		}
		g.count++
		if e.DurationMs != nil {
			g.durations = append(g.durations, *e.DurationMs)
		}
	}

	stats := make([]ToolUsageStat, 0, len(groups))
	for name, g := range groups {
		stat := ToolUsageStat{ToolName: name, Count: g.count}
		if n := len(g.durations); n > 0 {
			sort.Slice(g.durations, func(i, j int) bool { return g.durations[i] < g.durations[j] })
			var sum int64
			for _, d := range g.durations {
				sum += d
			}
			avg := sum / int64(n)
			p50 := g.durations[(n*50)/100]
			p99 := g.durations[(n*99)/100]
			stat.AvgDurationMs = &avg
			stat.P50DurationMs = &p50
			stat.P99DurationMs = &p99
		}
		stats = append(stats, stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].ToolName < stats[j].ToolName
	})
	return stats, nil
}

// HourlyHeatmapEntry is one cell of the 7x24 day-of-week x hour grid.
type HourlyHeatmapEntry struct {
	DayOfWeek int   `json:"day_of_week"` // 0 = Sunday
	Hour      int   `json:"hour"`
	Count     int64 `json:"count"`
}

// GetHourlyHeatmap folds the range's hourly distributions into a full
// 7x24 grid keyed by day of week.
func GetHourlyHeatmap(db *gorm.DB, userID, from, to string) ([]HourlyHeatmapEntry, error) {
	var rows []DailyAggregate
	if err := db.Where("user_id = ? AND date >= ? AND date <= ?", userID, from, to).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	var grid [7][24]int64
	for _, r := range rows {
		day, err := time.ParseInLocation(dateLayout, r.Date, time.UTC)
		if err != nil {
			continue
		}
		dow := int(day.Weekday())
		for hour := 0; hour < len(r.HourlyDistribution) && hour < 24; hour++ {
			grid[dow][hour] += r.HourlyDistribution[hour]
		}
	}

	entries := make([]HourlyHeatmapEntry, 0, 7*24)
	for dow := 0; dow < 7; dow++ {
		for hour := 0; hour < 24; hour++ {
			entries = append(entries, HourlyHeatmapEntry{DayOfWeek: dow, Hour: hour, Count: grid[dow][hour]})
		}
	}
	return entries, nil
}

// rangeBounds converts inclusive YYYY-MM-DD dates into a half-open
// [start, end) UTC timestamp range.
func rangeBounds(from, to string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout, from, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.ParseInLocation(dateLayout, to, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end.Add(24 * time.Hour), nil
}
