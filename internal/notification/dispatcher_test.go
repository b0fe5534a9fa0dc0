package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	outboxdomain "github.com/smallbiznis/studiobook/internal/outbox/domain"
	outboxrepository "github.com/smallbiznis/studiobook/internal/outbox/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testStart = time.Date(2026, time.April, 6, 8, 0, 0, 0, time.UTC)

type capturingProvider struct {
	sent []sentMail
	fail error
}

type sentMail struct {
	to       string
	template string
}

func (p *capturingProvider) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	return nil
}

func (p *capturingProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]interface{}) error {
	if p.fail != nil {
		return p.fail
	}
	p.sent = append(p.sent, sentMail{to: to[0], template: templateName})
	return nil
}

func newDispatcher(t *testing.T, provider *capturingProvider) (*Dispatcher, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE booking_events (
		id INTEGER PRIMARY KEY,
		event_type TEXT,
		booking_id INTEGER,
		class_id INTEGER,
		user_id INTEGER,
		payload TEXT,
		status TEXT,
		attempts INTEGER,
		processed_at DATETIME,
		created_at DATETIME
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	d := NewDispatcher(DispatcherParam{
		Cfg:      config.Config{Sweeper: config.SweeperConfig{MaxDispatches: 10}},
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(testStart),
		Repo:     outboxrepository.Provide(),
		Provider: provider,
	})
	return d, db, node
}

func insertEvent(t *testing.T, db *gorm.DB, node *snowflake.Node, eventType outboxdomain.EventType, payload datatypes.JSONMap) snowflake.ID {
	t.Helper()
	id := node.Generate()
	require.NoError(t, outboxrepository.Provide().Insert(context.Background(), db, &outboxdomain.BookingEvent{
		ID:        id,
		EventType: eventType,
		BookingID: node.Generate(),
		ClassID:   node.Generate(),
		UserID:    node.Generate(),
		Payload:   payload,
		Status:    outboxdomain.EventStatusPending,
		CreatedAt: testStart,
	}))
	return id
}

func eventRow(t *testing.T, db *gorm.DB, id snowflake.ID) (status string, attempts int) {
	t.Helper()
	var row struct {
		Status   string
		Attempts int
	}
	require.NoError(t, db.Raw(
		`SELECT status, attempts FROM booking_events WHERE id = ?`, id,
	).Scan(&row).Error)
	return row.Status, row.Attempts
}

func TestDispatch_DeliversAndMarksDispatched(t *testing.T) {
	provider := &capturingProvider{}
	d, db, node := newDispatcher(t, provider)

	withEmail := insertEvent(t, db, node, outboxdomain.EventBookingConfirmed, datatypes.JSONMap{
		"email":      "member@example.com",
		"booking_id": "1",
	})
	noEmail := insertEvent(t, db, node, outboxdomain.EventBookingCancelled, datatypes.JSONMap{
		"booking_id": "2",
	})

	processed, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	require.Len(t, provider.sent, 1)
	assert.Equal(t, "member@example.com", provider.sent[0].to)
	assert.Equal(t, "booking_confirmed", provider.sent[0].template)

	status, _ := eventRow(t, db, withEmail)
	assert.Equal(t, string(outboxdomain.EventStatusDispatched), status)
	status, _ = eventRow(t, db, noEmail)
	assert.Equal(t, string(outboxdomain.EventStatusDispatched), status)

	// Nothing left to claim.
	processed, err = d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestDispatch_FailedDeliveryCountsAttempts(t *testing.T) {
	provider := &capturingProvider{fail: errors.New("smtp unreachable")}
	d, db, node := newDispatcher(t, provider)

	id := insertEvent(t, db, node, outboxdomain.EventWaitlistPromoted, datatypes.JSONMap{
		"email": "member@example.com",
	})

	for i := 1; i < maxAttempts; i++ {
		_, err := d.Dispatch(context.Background())
		require.NoError(t, err)
		status, attempts := eventRow(t, db, id)
		assert.Equal(t, string(outboxdomain.EventStatusPending), status)
		assert.Equal(t, i, attempts)
	}

	// The final attempt parks the event as FAILED.
	_, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	status, attempts := eventRow(t, db, id)
	assert.Equal(t, string(outboxdomain.EventStatusFailed), status)
	assert.Equal(t, maxAttempts, attempts)

	// Provider recovers, but failed events stay parked.
	provider.fail = nil
	processed, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}
