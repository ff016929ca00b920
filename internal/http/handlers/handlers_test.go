package handlers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dbpkg "codetrace/internal/db"
	"codetrace/internal/http/api"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")+"?_busy_timeout=10000"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, dbpkg.Migrate(gdb))
	return gdb
}

// newRequestCtx builds a request context for handlers that read query
// parameters or route values directly.
func newRequestCtx(uri string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(uri)

	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	return &ctx
}

func testContext(userID string) *api.Context {
	return &api.Context{
		RequestID:  api.NewRequestID(),
		UserID:     userID,
		Pagination: &api.Pagination{Limit: 50, Offset: 0},
	}
}

func seqPtr(n int64) *int64 { return &n }
