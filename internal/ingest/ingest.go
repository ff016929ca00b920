// Package ingest implements the event ingestion aggregator: raw
// append, session rollup merge, and daily aggregate refresh.
package ingest

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "codetrace/internal/db"
)

// Event types accepted on ingestion.
const (
	EventSessionStart  = "session_start"
	EventSessionEnd    = "session_end"
	EventToolUse       = "tool_use"
	EventToolResult    = "tool_result"
	EventPromptSubmit  = "prompt_submit"
	EventAssistantStop = "assistant_stop"
	EventSubagentStop  = "subagent_stop"
	EventPreCompact    = "pre_compact"
	EventError         = "error"
)

var eventTypes = map[string]bool{
	EventSessionStart:  true,
	EventSessionEnd:    true,
	EventToolUse:       true,
	EventToolResult:    true,
	EventPromptSubmit:  true,
	EventAssistantStop: true,
	EventSubagentStop:  true,
	EventPreCompact:    true,
	EventError:         true,
}

// ValidEventType reports whether s names a known event type.
func ValidEventType(s string) bool {
	return eventTypes[s]
}

// Event is one validated telemetry event from an ingestion batch.
type Event struct {
	Timestamp time.Time
	Type      string
	SessionID string
	Seq       int64
	Data      map[string]any
}

// IngestEvents persists a batch for one user in three phases:
//
//  1. Raw append of every event. A failure here aborts the whole batch
//     and is the only error returned to the caller.
//  2. Session rollup merge per session id touched by the batch.
//  3. Full daily-aggregate rebuild per UTC date touched by the batch.
//
// Phases 2 and 3 are best-effort: their failures are logged and the
// rollups stay stale until a later batch (or rebuild) heals them. The
// returned count always reflects phase 1.
//
// Duplicate delivery of the same (session_id, seq) is NOT deduplicated:
// re-ingesting a batch inflates rollup counts. Consumers relying on
// at-least-once delivery are expected to dedup downstream.
func IngestEvents(db *gorm.DB, userID string, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([]dbpkg.Event, 0, len(events))
	for _, e := range events {
		rows = append(rows, dbpkg.Event{
			UserID:     userID,
			SessionID:  e.SessionID,
			EventType:  e.Type,
			Timestamp:  e.Timestamp,
			Seq:        e.Seq,
			ToolName:   toolNameOf(e),
			DurationMs: durationOf(e),
			Data:       datatypes.JSONMap(e.Data),
		})
	}

	if err := dbpkg.InsertEvents(db, rows); err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}

	for sessionID, delta := range SummarizeBatch(events) {
		if err := dbpkg.MergeSessionRollup(db, userID, sessionID, delta); err != nil {
			log.Warn().Err(err).
				Str("user_id", userID).
				Str("session_id", sessionID).
				Msg("session rollup merge failed; rollup is stale")
		}
	}

	for _, date := range AffectedDates(events) {
		if err := dbpkg.RecomputeDailyAggregate(db, userID, date); err != nil {
			log.Warn().Err(err).
				Str("user_id", userID).
				Str("date", date).
				Msg("daily aggregate rebuild failed; aggregate is stale")
		}
	}

	return len(rows), nil
}

// SummarizeBatch groups a batch by session id and computes each group's
// contribution to the stored rollup. The whole batch-local aggregation
// happens before any read-modify-write against the store, so partial
// writes can never interleave within one batch.
func SummarizeBatch(events []Event) map[string]dbpkg.SessionDelta {
	deltas := make(map[string]dbpkg.SessionDelta)

	for _, e := range events {
		d, seen := deltas[e.SessionID]
		if !seen {
			d.StartedAt = e.Timestamp
			d.EndedAt = e.Timestamp
		} else {
			if e.Timestamp.Before(d.StartedAt) {
				d.StartedAt = e.Timestamp
			}
			if e.Timestamp.After(d.EndedAt) {
				d.EndedAt = e.Timestamp
			}
		}

		d.EventCount++
		if e.Type == EventToolUse || e.Type == EventToolResult {
			d.ToolCount++
		}

		if branch := stringField(e.Data, "git_branch"); branch != "" && d.GitBranch == "" {
			d.GitBranch = branch
		}
		if wd := stringField(e.Data, "working_directory"); wd != "" && d.WorkingDirectory == "" {
			d.WorkingDirectory = wd
		}
		switch e.Type {
		case EventSessionEnd, EventAssistantStop, EventSubagentStop:
			if reason := stringField(e.Data, "stop_reason"); reason != "" {
				d.StopReason = reason
			}
		}

		deltas[e.SessionID] = d
	}

	return deltas
}

// AffectedDates returns the distinct UTC calendar dates of the batch,
// sorted ascending.
func AffectedDates(events []Event) []string {
	seen := make(map[string]bool)
	for _, e := range events {
		seen[e.Timestamp.UTC().Format("2006-01-02")] = true
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func toolNameOf(e Event) *string {
	if name := stringField(e.Data, "tool_name"); name != "" {
		return &name
	}
	return nil
}

// durationOf pulls duration_ms from the payload, rounded to the
// nearest integer millisecond. JSON numbers arrive as float64.
func durationOf(e Event) *int64 {
	switch v := e.Data["duration_ms"].(type) {
	case float64:
		ms := int64(math.Round(v))
		return &ms
	case int64:
		ms := v
		return &ms
	case int:
		ms := int64(v)
		return &ms
	}
	return nil
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}
