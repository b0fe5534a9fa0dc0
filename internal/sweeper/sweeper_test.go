package sweeper

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	bookingrepository "github.com/smallbiznis/studiobook/internal/booking/repository"
	bookingservice "github.com/smallbiznis/studiobook/internal/booking/service"
	classesdomain "github.com/smallbiznis/studiobook/internal/classes/domain"
	classesrepository "github.com/smallbiznis/studiobook/internal/classes/repository"
	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	creditsdomain "github.com/smallbiznis/studiobook/internal/credits/domain"
	creditsrepository "github.com/smallbiznis/studiobook/internal/credits/repository"
	"github.com/smallbiznis/studiobook/internal/notification"
	outboxrepository "github.com/smallbiznis/studiobook/internal/outbox/repository"
	"github.com/smallbiznis/studiobook/internal/providers/email"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	waitlistrepository "github.com/smallbiznis/studiobook/internal/waitlist/repository"
	waitlistservice "github.com/smallbiznis/studiobook/internal/waitlist/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testStart = time.Date(2026, time.April, 6, 8, 0, 0, 0, time.UTC)

const testOfferTTL = time.Hour

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	sweeper *Sweeper

	bookingSvc   bookingdomain.Service
	waitlistRepo waitlistdomain.Repository
	classesRepo  classesdomain.Repository
	creditsRepo  creditsdomain.Repository
}

func newFixture(t *testing.T, enabledJobs []string) *fixture {
	t.Helper()

	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(testStart)

	cfg := config.Config{
		Sweeper: config.SweeperConfig{
			RunInterval:   time.Minute,
			BatchSize:     10,
			OfferTTL:      testOfferTTL,
			MaxDispatches: 50,
			EnabledJobs:   enabledJobs,
		},
	}

	bookingRepo := bookingrepository.Provide()
	classesRepo := classesrepository.Provide()
	creditsRepo := creditsrepository.Provide()
	outboxRepo := outboxrepository.Provide()
	waitlistRepo := waitlistrepository.Provide()

	bookingSvc := bookingservice.NewService(bookingservice.ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        bookingRepo,
		ClassesRepo: classesRepo,
		CreditsRepo: creditsRepo,
		OutboxRepo:  outboxRepo,
	})
	waitlistSvc := waitlistservice.NewService(waitlistservice.ServiceParam{
		Cfg:         cfg,
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        waitlistRepo,
		BookingRepo: bookingRepo,
		BookingSvc:  bookingSvc,
		ClassesRepo: classesRepo,
		OutboxRepo:  outboxRepo,
	})
	dispatcher := notification.NewDispatcher(notification.DispatcherParam{
		Cfg:      cfg,
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fakeClock,
		Repo:     outboxRepo,
		Provider: &email.NoOpProvider{},
	})

	sweeper, err := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        fakeClock,
		Cfg:          cfg,
		WaitlistSvc:  waitlistSvc,
		WaitlistRepo: waitlistRepo,
		Dispatcher:   dispatcher,
	})
	require.NoError(t, err)

	return &fixture{
		db:           db,
		node:         node,
		clock:        fakeClock,
		sweeper:      sweeper,
		bookingSvc:   bookingSvc,
		waitlistRepo: waitlistRepo,
		classesRepo:  classesRepo,
		creditsRepo:  creditsRepo,
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
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

	for _, ddl := range []string{
		`CREATE TABLE branches (
			id INTEGER PRIMARY KEY, name TEXT, timezone TEXT,
			booking_lead_hours INTEGER, cancel_lead_hours INTEGER,
			metadata TEXT, created_at DATETIME, updated_at DATETIME
		)`,
		`CREATE TABLE class_sessions (
			id INTEGER PRIMARY KEY, branch_id INTEGER, name TEXT, instructor TEXT,
			scheduled_at DATETIME, duration_minutes INTEGER, capacity INTEGER,
			waitlist_capacity INTEGER, booking_lead_hours INTEGER,
			metadata TEXT, created_at DATETIME, updated_at DATETIME
		)`,
		`CREATE TABLE bookings (
			id INTEGER PRIMARY KEY, class_id INTEGER, user_id INTEGER, branch_id INTEGER,
			status TEXT, waitlist_position INTEGER, member_email TEXT, package_id INTEGER,
			booked_at DATETIME, confirmed_at DATETIME, cancelled_at DATETIME, promoted_at DATETIME,
			metadata TEXT, created_at DATETIME, updated_at DATETIME,
			UNIQUE (user_id, class_id)
		)`,
		`CREATE TABLE user_class_packages (
			id INTEGER PRIMARY KEY, user_id INTEGER, branch_id INTEGER, status TEXT,
			unlimited BOOLEAN, classes_remaining INTEGER, expires_at DATETIME, frozen_until DATETIME,
			purchased_at DATETIME, metadata TEXT, created_at DATETIME, updated_at DATETIME
		)`,
		`CREATE TABLE package_class_usage (
			id INTEGER PRIMARY KEY, package_id INTEGER, booking_id INTEGER, class_id INTEGER,
			user_id INTEGER, branch_id INTEGER, credits_used INTEGER, refunded BOOLEAN,
			refunded_at DATETIME, created_at DATETIME
		)`,
		`CREATE TABLE booking_events (
			id INTEGER PRIMARY KEY, event_type TEXT, booking_id INTEGER, class_id INTEGER,
			user_id INTEGER, payload TEXT, status TEXT, attempts INTEGER,
			processed_at DATETIME, created_at DATETIME
		)`,
		`CREATE TABLE waitlist_offers (
			id INTEGER PRIMARY KEY, booking_id INTEGER, class_id INTEGER, user_id INTEGER,
			status TEXT, expires_at DATETIME, responded_at DATETIME, next_offer_id INTEGER,
			metadata TEXT, created_at DATETIME, updated_at DATETIME
		)`,
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}

	return db
}

// seedFreedSeat builds a class at capacity 1 whose confirmed seat was freed
// outside the promotion path, with queueLen members still waitlisted.
func (f *fixture) seedFreedSeat(t *testing.T, queueLen int) (classesdomain.ClassSession, []bookingdomain.Booking) {
	t.Helper()
	ctx := context.Background()

	branch := classesdomain.Branch{
		ID: f.node.Generate(), Name: "Downtown", Timezone: "UTC",
		CreatedAt: testStart, UpdatedAt: testStart,
	}
	require.NoError(t, f.classesRepo.InsertBranch(ctx, f.db, &branch))

	class := classesdomain.ClassSession{
		ID:               f.node.Generate(),
		BranchID:         branch.ID,
		Name:             "Spin",
		ScheduledAt:      testStart.Add(72 * time.Hour),
		DurationMinutes:  45,
		Capacity:         1,
		WaitlistCapacity: queueLen + 1,
		CreatedAt:        testStart,
		UpdatedAt:        testStart,
	}
	require.NoError(t, f.classesRepo.Insert(ctx, f.db, &class))

	seatUser := f.node.Generate()
	f.seedCredits(t, seatUser, branch.ID)
	seat, err := f.bookingSvc.Book(ctx, bookingdomain.BookRequest{UserID: seatUser, ClassID: class.ID})
	require.NoError(t, err)

	queue := make([]bookingdomain.Booking, 0, queueLen)
	for i := 0; i < queueLen; i++ {
		u := f.node.Generate()
		f.seedCredits(t, u, branch.ID)
		queued, err := f.bookingSvc.Book(ctx, bookingdomain.BookRequest{UserID: u, ClassID: class.ID})
		require.NoError(t, err)
		queue = append(queue, queued)
	}

	require.NoError(t, f.db.Exec(
		`UPDATE bookings SET status = ?, cancelled_at = ? WHERE id = ?`,
		bookingdomain.BookingStatusCancelled, testStart, seat.ID,
	).Error)

	return class, queue
}

func (f *fixture) seedCredits(t *testing.T, userID, branchID snowflake.ID) {
	t.Helper()
	pkg := creditsdomain.UserClassPackage{
		ID:               f.node.Generate(),
		UserID:           userID,
		BranchID:         branchID,
		Status:           creditsdomain.PackageStatusActive,
		ClassesRemaining: 5,
		PurchasedAt:      testStart,
		CreatedAt:        testStart,
		UpdatedAt:        testStart,
	}
	require.NoError(t, f.creditsRepo.Insert(context.Background(), f.db, &pkg))
}

func (f *fixture) pendingOffer(t *testing.T, classID snowflake.ID) *waitlistdomain.WaitlistOffer {
	t.Helper()
	var offers []waitlistdomain.WaitlistOffer
	require.NoError(t, f.db.Raw(
		`SELECT id, booking_id, class_id, user_id, status, expires_at, responded_at, next_offer_id, metadata, created_at, updated_at
		 FROM waitlist_offers WHERE class_id = ? AND status = 'PENDING'`,
		classID,
	).Scan(&offers).Error)
	if len(offers) == 0 {
		return nil
	}
	require.Len(t, offers, 1)
	return &offers[0]
}

func TestRunOnce_OffersSeatThenEscalatesThenExpires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	class, queue := f.seedFreedSeat(t, 1)

	require.NoError(t, f.sweeper.RunOnce(ctx))

	offer := f.pendingOffer(t, class.ID)
	require.NotNil(t, offer)
	assert.Equal(t, queue[0].ID, offer.BookingID)

	// A second run must not stack another offer on the same class.
	require.NoError(t, f.sweeper.RunOnce(ctx))
	second := f.pendingOffer(t, class.ID)
	require.NotNil(t, second)
	assert.Equal(t, offer.ID, second.ID)

	// The queue has no one behind the invited member, so lapsing expires
	// the offer outright.
	f.clock.Set(offer.ExpiresAt.Add(time.Minute))
	require.NoError(t, f.sweeper.RunOnce(ctx))

	var status string
	require.NoError(t, f.db.Raw(
		`SELECT status FROM waitlist_offers WHERE id = ?`, offer.ID,
	).Scan(&status).Error)
	assert.Equal(t, string(waitlistdomain.OfferStatusExpired), status)
}

func TestRunOnce_EscalatesLapsedOfferToNextInLine(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	class, queue := f.seedFreedSeat(t, 2)

	require.NoError(t, f.sweeper.RunOnce(ctx))
	offer := f.pendingOffer(t, class.ID)
	require.NotNil(t, offer)
	require.Equal(t, queue[0].ID, offer.BookingID)

	f.clock.Set(offer.ExpiresAt.Add(time.Minute))
	require.NoError(t, f.sweeper.RunOnce(ctx))

	successor := f.pendingOffer(t, class.ID)
	require.NotNil(t, successor)
	assert.Equal(t, queue[1].ID, successor.BookingID)

	var lapsed waitlistdomain.WaitlistOffer
	require.NoError(t, f.db.Raw(
		`SELECT id, status, next_offer_id FROM waitlist_offers WHERE id = ?`, offer.ID,
	).Scan(&lapsed).Error)
	assert.Equal(t, waitlistdomain.OfferStatusAutoEscalated, lapsed.Status)
	require.NotNil(t, lapsed.NextOfferID)
	assert.Equal(t, successor.ID, *lapsed.NextOfferID)
}

func TestRunOnce_DispatchesOutboxEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seedFreedSeat(t, 1)
	require.NoError(t, f.sweeper.RunOnce(ctx))

	var pending int
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM booking_events WHERE status = 'PENDING'`,
	).Scan(&pending).Error)
	assert.Zero(t, pending)
}

func TestRunOnce_HonorsEnabledJobs(t *testing.T) {
	f := newFixture(t, []string{"dispatch_events"})
	ctx := context.Background()

	class, _ := f.seedFreedSeat(t, 1)
	require.NoError(t, f.sweeper.RunOnce(ctx))

	// offer_seats is disabled, so no offer appears.
	assert.Nil(t, f.pendingOffer(t, class.ID))

	var pending int
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM booking_events WHERE status = 'PENDING'`,
	).Scan(&pending).Error)
	assert.Zero(t, pending)
}
