package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetrace/internal/http/api"
)

func TestListSessionsHandler(t *testing.T) {
	gdb := openTestDB(t)

	c := testContext("user-1")
	c.Body = &IngestRequest{Events: []IngestEventBody{
		{TS: "2024-03-01T10:00:00Z", Event: "session_start", SessionID: "s1", Seq: seqPtr(0)},
		{TS: "2024-03-01T10:05:00Z", Event: "tool_use", SessionID: "s1", Seq: seqPtr(1)},
		{TS: "2024-03-02T09:00:00Z", Event: "session_start", SessionID: "s2", Seq: seqPtr(0)},
	}}
	require.Nil(t, IngestEvents(gdb)(newRequestCtx("/v1/events"), c).Err)

	resp := ListSessions(gdb)(newRequestCtx("/v1/sessions"), testContext("user-1"))
	require.Nil(t, resp.Err)
	require.NotNil(t, resp.List)
	assert.Equal(t, int64(2), *resp.List.Total)

	views := resp.Data.([]sessionView)
	require.Len(t, views, 2)
	assert.Equal(t, "s2", views[0].SessionID, "newest started first")
	assert.Equal(t, int64(2), views[1].EventCount)
	assert.Equal(t, int64(1), views[1].ToolCount)

	resp = ListSessions(gdb)(newRequestCtx("/v1/sessions?from=2024-03-02"), testContext("user-1"))
	require.Nil(t, resp.Err)
	assert.Equal(t, int64(1), *resp.List.Total)
}

func TestGetSessionHandler(t *testing.T) {
	gdb := openTestDB(t)

	c := testContext("user-1")
	c.Body = &IngestRequest{Events: []IngestEventBody{
		{TS: "2024-03-01T10:00:00Z", Event: "session_start", SessionID: "s1", Seq: seqPtr(0),
			Data: map[string]any{"git_branch": "main"}},
		{TS: "2024-03-01T10:30:00Z", Event: "session_end", SessionID: "s1", Seq: seqPtr(1),
			Data: map[string]any{"stop_reason": "end_turn"}},
	}}
	require.Nil(t, IngestEvents(gdb)(newRequestCtx("/v1/events"), c).Err)

	ctx := newRequestCtx("/v1/sessions/s1")
	ctx.SetUserValue("id", "s1")
	resp := GetSession(gdb)(ctx, testContext("user-1"))
	require.Nil(t, resp.Err)

	view := resp.Data.(sessionView)
	assert.Equal(t, "s1", view.SessionID)
	assert.Equal(t, int64(2), view.EventCount)
	require.NotNil(t, view.DurationMs)
	assert.Equal(t, int64(30*60*1000), *view.DurationMs)
	require.NotNil(t, view.GitBranch)
	assert.Equal(t, "main", *view.GitBranch)
	require.NotNil(t, view.StopReason)
	assert.Equal(t, "end_turn", *view.StopReason)
}

func TestGetSessionHandlerNotFound(t *testing.T) {
	gdb := openTestDB(t)

	ctx := newRequestCtx("/v1/sessions/missing")
	ctx.SetUserValue("id", "missing")
	resp := GetSession(gdb)(ctx, testContext("user-1"))

	require.NotNil(t, resp.Err)
	assert.Equal(t, api.CodeNotFound, resp.Err.Code)
}

func TestGetSessionEventsHandler(t *testing.T) {
	gdb := openTestDB(t)

	// Out of timestamp order on purpose: read-back follows seq.
	c := testContext("user-1")
	c.Body = &IngestRequest{Events: []IngestEventBody{
		{TS: "2024-03-01T10:05:00Z", Event: "tool_use", SessionID: "s1", Seq: seqPtr(2)},
		{TS: "2024-03-01T10:00:00Z", Event: "session_start", SessionID: "s1", Seq: seqPtr(0)},
		{TS: "2024-03-01T10:01:00Z", Event: "prompt_submit", SessionID: "s1", Seq: seqPtr(1)},
	}}
	require.Nil(t, IngestEvents(gdb)(newRequestCtx("/v1/events"), c).Err)

	ctx := newRequestCtx("/v1/sessions/s1/events")
	ctx.SetUserValue("id", "s1")
	resp := GetSessionEvents(gdb)(ctx, testContext("user-1"))
	require.Nil(t, resp.Err)
	require.NotNil(t, resp.List)
	assert.Equal(t, int64(3), *resp.List.Total)

	views := resp.Data.([]eventView)
	require.Len(t, views, 3)
	for i, v := range views {
		assert.Equal(t, int64(i), v.Seq)
	}
	assert.Equal(t, "session_start", views[0].EventType)
}

func TestGetSessionEventsHandlerPaginates(t *testing.T) {
	gdb := openTestDB(t)

	c := testContext("user-1")
	c.Body = &IngestRequest{Events: []IngestEventBody{
		{TS: "2024-03-01T10:00:00Z", Event: "session_start", SessionID: "s1", Seq: seqPtr(0)},
		{TS: "2024-03-01T10:01:00Z", Event: "tool_use", SessionID: "s1", Seq: seqPtr(1)},
		{TS: "2024-03-01T10:02:00Z", Event: "tool_use", SessionID: "s1", Seq: seqPtr(2)},
	}}
	require.Nil(t, IngestEvents(gdb)(newRequestCtx("/v1/events"), c).Err)

	read := testContext("user-1")
	read.Pagination = &api.Pagination{Limit: 2, Offset: 1}
	ctx := newRequestCtx("/v1/sessions/s1/events?limit=2&offset=1")
	ctx.SetUserValue("id", "s1")
	resp := GetSessionEvents(gdb)(ctx, read)
	require.Nil(t, resp.Err)
	assert.Equal(t, int64(3), *resp.List.Total)
	assert.False(t, resp.List.HasMore)

	views := resp.Data.([]eventView)
	require.Len(t, views, 2)
	assert.Equal(t, int64(1), views[0].Seq)
}

func TestGetSessionEventsHandlerNotFound(t *testing.T) {
	gdb := openTestDB(t)

	ctx := newRequestCtx("/v1/sessions/missing/events")
	ctx.SetUserValue("id", "missing")
	resp := GetSessionEvents(gdb)(ctx, testContext("user-1"))

	require.NotNil(t, resp.Err)
	assert.Equal(t, api.CodeNotFound, resp.Err.Code)
}

func TestGetSessionHandlerIsolatedByUser(t *testing.T) {
	gdb := openTestDB(t)

	c := testContext("user-1")
	c.Body = &IngestRequest{Events: []IngestEventBody{
		{TS: "2024-03-01T10:00:00Z", Event: "session_start", SessionID: "s1", Seq: seqPtr(0)},
	}}
	require.Nil(t, IngestEvents(gdb)(newRequestCtx("/v1/events"), c).Err)

	ctx := newRequestCtx("/v1/sessions/s1")
	ctx.SetUserValue("id", "s1")
	resp := GetSession(gdb)(ctx, testContext("user-2"))

	require.NotNil(t, resp.Err)
	assert.Equal(t, api.CodeNotFound, resp.Err.Code)
}
