package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/studiobook/internal/audit/domain"
	auditrepository "github.com/smallbiznis/studiobook/internal/audit/repository"
	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testStart = time.Date(2026, time.April, 6, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_type TEXT,
		actor_id TEXT,
		action TEXT,
		target_type TEXT,
		target_id TEXT,
		metadata TEXT,
		created_at DATETIME
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(testStart)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  auditrepository.Provide(),
	})
	return svc, fakeClock
}

func TestAuditLog_WritesEntry(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	actor := "1001"
	target := "2002"
	require.NoError(t, svc.AuditLog(ctx, auditdomain.ActorTypeMember, &actor, "booking.create", "booking", &target, map[string]any{
		"class_id": "3003",
	}))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, auditdomain.ActorTypeMember, entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, actor, *entry.ActorID)
	assert.Equal(t, "booking.create", entry.Action)
	assert.Equal(t, "3003", entry.Metadata["class_id"])
}

func TestAuditLog_RejectsEmptyAction(t *testing.T) {
	svc, _ := newService(t)
	err := svc.AuditLog(context.Background(), auditdomain.ActorTypeStaff, nil, "  ", "booking", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	svc, fakeClock := newService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		action := "booking.create"
		if i%2 == 1 {
			action = "booking.cancel"
		}
		require.NoError(t, svc.AuditLog(ctx, auditdomain.ActorTypeMember, nil, action, "booking", nil, nil))
		fakeClock.Advance(time.Minute)
	}

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "booking.cancel"})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 2)

	// Newest first, two pages of two.
	page, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: paginationOf(2, ""),
	})
	require.NoError(t, err)
	require.Len(t, page.AuditLogs, 2)
	assert.True(t, page.HasMore)
	assert.True(t, page.AuditLogs[0].CreatedAt.After(page.AuditLogs[1].CreatedAt))

	next, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: paginationOf(2, page.NextPageToken),
	})
	require.NoError(t, err)
	require.Len(t, next.AuditLogs, 2)
	assert.True(t, page.AuditLogs[1].CreatedAt.After(next.AuditLogs[0].CreatedAt))
}

func TestList_InvalidInputs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: paginationOf(10, "not-a-token"),
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := testStart
	end := testStart.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}

func paginationOf(size int, token string) (p pagination.Pagination) {
	p.PageSize = size
	p.PageToken = token
	return p
}
