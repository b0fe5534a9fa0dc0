package service

import (
	"context"
	"encoding/json"
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
	outboxdomain "github.com/smallbiznis/studiobook/internal/outbox/domain"
	outboxrepository "github.com/smallbiznis/studiobook/internal/outbox/repository"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	waitlistrepository "github.com/smallbiznis/studiobook/internal/waitlist/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testStart = time.Date(2026, time.April, 6, 8, 0, 0, 0, time.UTC)

const testOfferTTL = 30 * time.Minute

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock

	svc        waitlistdomain.Service
	bookingSvc bookingdomain.Service

	repo        waitlistdomain.Repository
	bookingRepo bookingdomain.Repository
	classesRepo classesdomain.Repository
	creditsRepo creditsdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:          db,
		node:        node,
		clock:       clock.NewFakeClock(testStart),
		repo:        waitlistrepository.Provide(),
		bookingRepo: bookingrepository.Provide(),
		classesRepo: classesrepository.Provide(),
		creditsRepo: creditsrepository.Provide(),
	}

	outboxRepo := outboxrepository.Provide()
	f.bookingSvc = bookingservice.NewService(bookingservice.ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       f.clock,
		Repo:        f.bookingRepo,
		ClassesRepo: f.classesRepo,
		CreditsRepo: f.creditsRepo,
		OutboxRepo:  outboxRepo,
	})
	f.svc = NewService(ServiceParam{
		Cfg: config.Config{
			Sweeper: config.SweeperConfig{OfferTTL: testOfferTTL},
		},
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       f.clock,
		Repo:        f.repo,
		BookingRepo: f.bookingRepo,
		BookingSvc:  f.bookingSvc,
		ClassesRepo: f.classesRepo,
		OutboxRepo:  outboxRepo,
	})
	return f
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
			id INTEGER PRIMARY KEY,
			name TEXT,
			timezone TEXT,
			booking_lead_hours INTEGER,
			cancel_lead_hours INTEGER,
			metadata TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE class_sessions (
			id INTEGER PRIMARY KEY,
			branch_id INTEGER,
			name TEXT,
			instructor TEXT,
			scheduled_at DATETIME,
			duration_minutes INTEGER,
			capacity INTEGER,
			waitlist_capacity INTEGER,
			booking_lead_hours INTEGER,
			metadata TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE bookings (
			id INTEGER PRIMARY KEY,
			class_id INTEGER,
			user_id INTEGER,
			branch_id INTEGER,
			status TEXT,
			waitlist_position INTEGER,
			member_email TEXT,
			package_id INTEGER,
			booked_at DATETIME,
			confirmed_at DATETIME,
			cancelled_at DATETIME,
			promoted_at DATETIME,
			metadata TEXT,
			created_at DATETIME,
			updated_at DATETIME,
			UNIQUE (user_id, class_id)
		)`,
		`CREATE TABLE user_class_packages (
			id INTEGER PRIMARY KEY,
			user_id INTEGER,
			branch_id INTEGER,
			status TEXT,
			unlimited BOOLEAN,
			classes_remaining INTEGER,
			expires_at DATETIME,
			frozen_until DATETIME,
			purchased_at DATETIME,
			metadata TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE package_class_usage (
			id INTEGER PRIMARY KEY,
			package_id INTEGER,
			booking_id INTEGER,
			class_id INTEGER,
			user_id INTEGER,
			branch_id INTEGER,
			credits_used INTEGER,
			refunded BOOLEAN,
			refunded_at DATETIME,
			created_at DATETIME
		)`,
		`CREATE TABLE booking_events (
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
		)`,
		`CREATE TABLE waitlist_offers (
			id INTEGER PRIMARY KEY,
			booking_id INTEGER,
			class_id INTEGER,
			user_id INTEGER,
			status TEXT,
			expires_at DATETIME,
			responded_at DATETIME,
			next_offer_id INTEGER,
			metadata TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}

	return db
}

// seedQueue builds a class at capacity 1 with the given number of waitlisted
// users behind the confirmed seat. Every user gets five credits.
func (f *fixture) seedQueue(t *testing.T, queueLen int) (classesdomain.ClassSession, bookingdomain.Booking, []bookingdomain.Booking) {
	t.Helper()
	ctx := context.Background()

	branch := classesdomain.Branch{
		ID:        f.node.Generate(),
		Name:      "Downtown",
		Timezone:  "UTC",
		CreatedAt: testStart,
		UpdatedAt: testStart,
	}
	require.NoError(t, f.classesRepo.InsertBranch(ctx, f.db, &branch))

	class := classesdomain.ClassSession{
		ID:               f.node.Generate(),
		BranchID:         branch.ID,
		Name:             "Evening Strength",
		ScheduledAt:      testStart.Add(24 * time.Hour),
		DurationMinutes:  60,
		Capacity:         1,
		WaitlistCapacity: queueLen + 1,
		CreatedAt:        testStart,
		UpdatedAt:        testStart,
	}
	require.NoError(t, f.classesRepo.Insert(ctx, f.db, &class))

	seatUser := f.node.Generate()
	f.seedPackage(t, seatUser, branch.ID, 5)
	seat, err := f.bookingSvc.Book(ctx, bookingdomain.BookRequest{
		UserID: seatUser, ClassID: class.ID, MemberEmail: "seat@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, bookingdomain.BookingStatusConfirmed, seat.Status)

	queue := make([]bookingdomain.Booking, 0, queueLen)
	for i := 0; i < queueLen; i++ {
		u := f.node.Generate()
		f.seedPackage(t, u, branch.ID, 5)
		queued, err := f.bookingSvc.Book(ctx, bookingdomain.BookRequest{
			UserID: u, ClassID: class.ID, MemberEmail: fmt.Sprintf("member%d@example.com", i+1),
		})
		require.NoError(t, err)
		require.Equal(t, bookingdomain.BookingStatusWaitlisted, queued.Status)
		queue = append(queue, queued)
	}

	return class, seat, queue
}

func (f *fixture) seedPackage(t *testing.T, userID, branchID snowflake.ID, remaining int) creditsdomain.UserClassPackage {
	t.Helper()
	pkg := creditsdomain.UserClassPackage{
		ID:               f.node.Generate(),
		UserID:           userID,
		BranchID:         branchID,
		Status:           creditsdomain.PackageStatusActive,
		ClassesRemaining: remaining,
		PurchasedAt:      testStart,
		CreatedAt:        testStart,
		UpdatedAt:        testStart,
	}
	require.NoError(t, f.creditsRepo.Insert(context.Background(), f.db, &pkg))
	return pkg
}

// freeSeat cancels the confirmed booking directly in SQL so no promotion
// runs, leaving the seat open for an offer.
func (f *fixture) freeSeat(t *testing.T, seat bookingdomain.Booking) {
	t.Helper()
	require.NoError(t, f.db.Exec(
		`UPDATE bookings SET status = ?, cancelled_at = ? WHERE id = ?`,
		bookingdomain.BookingStatusCancelled, testStart, seat.ID,
	).Error)
}

func (f *fixture) lastEventPayload(t *testing.T, eventType outboxdomain.EventType) map[string]any {
	t.Helper()
	var raw string
	require.NoError(t, f.db.Raw(
		`SELECT payload FROM booking_events WHERE event_type = ? ORDER BY id DESC LIMIT 1`, eventType,
	).Scan(&raw).Error)
	require.NotEmpty(t, raw)

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func (f *fixture) offerByID(t *testing.T, id snowflake.ID) waitlistdomain.WaitlistOffer {
	t.Helper()
	offer, err := f.repo.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, offer)
	return *offer
}

func TestOfferSeat_OffersEarliestQueuedBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, queue := f.seedQueue(t, 2)
	f.freeSeat(t, seat)

	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, queue[0].ID, offer.BookingID)
	assert.Equal(t, queue[0].UserID, offer.UserID)
	assert.Equal(t, waitlistdomain.OfferStatusPending, offer.Status)
	assert.Equal(t, testStart.Add(testOfferTTL), offer.ExpiresAt)

	// One pending offer per class at a time.
	again, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	var events int
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM booking_events WHERE event_type = ?`,
		outboxdomain.EventOfferCreated,
	).Scan(&events).Error)
	assert.Equal(t, 1, events)
}

func TestOfferSeat_NoSeatOrEmptyQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, _ := f.seedQueue(t, 1)

	// Class still at capacity.
	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	assert.Nil(t, offer)

	// Seat free but queue empty.
	empty, emptySeat, _ := f.seedQueue(t, 0)
	f.freeSeat(t, emptySeat)
	offer, err = f.svc.OfferSeat(ctx, empty.ID)
	require.NoError(t, err)
	assert.Nil(t, offer)

	_ = seat
}

func TestAccept_ConfirmsBookingAndDebits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, queue := f.seedQueue(t, 1)
	f.freeSeat(t, seat)

	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)

	confirmed, err := f.svc.Accept(ctx, waitlistdomain.RespondRequest{OfferID: offer.ID, UserID: offer.UserID})
	require.NoError(t, err)
	assert.Equal(t, queue[0].ID, confirmed.ID)
	assert.Equal(t, bookingdomain.BookingStatusConfirmed, confirmed.Status)

	after := f.offerByID(t, offer.ID)
	assert.Equal(t, waitlistdomain.OfferStatusAccepted, after.Status)
	require.NotNil(t, after.RespondedAt)

	usage, err := f.creditsRepo.FindOpenUsageByBookingID(ctx, f.db, confirmed.ID)
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, 1, usage.CreditsUsed)
}

func TestAccept_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, _ := f.seedQueue(t, 1)
	f.freeSeat(t, seat)

	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)

	_, err = f.svc.Accept(ctx, waitlistdomain.RespondRequest{OfferID: offer.ID, UserID: f.node.Generate()})
	assert.ErrorIs(t, err, waitlistdomain.ErrNotOfferOwner)

	f.clock.Set(offer.ExpiresAt)
	_, err = f.svc.Accept(ctx, waitlistdomain.RespondRequest{OfferID: offer.ID, UserID: offer.UserID})
	assert.ErrorIs(t, err, waitlistdomain.ErrOfferExpired)

	_, err = f.svc.Accept(ctx, waitlistdomain.RespondRequest{OfferID: f.node.Generate(), UserID: offer.UserID})
	assert.ErrorIs(t, err, waitlistdomain.ErrOfferNotFound)
}

func TestDecline_KeepsQueuePosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, queue := f.seedQueue(t, 1)
	f.freeSeat(t, seat)

	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)

	declined, err := f.svc.Decline(ctx, waitlistdomain.RespondRequest{OfferID: offer.ID, UserID: offer.UserID})
	require.NoError(t, err)
	assert.Equal(t, waitlistdomain.OfferStatusDeclined, declined.Status)

	// The booking stays waitlisted, declining only closes the offer.
	booking, err := f.bookingRepo.FindByID(ctx, f.db, queue[0].ID)
	require.NoError(t, err)
	require.NotNil(t, booking)
	assert.Equal(t, bookingdomain.BookingStatusWaitlisted, booking.Status)

	// A lapsed offer can still be declined.
	next, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	if next != nil {
		f.clock.Set(next.ExpiresAt.Add(time.Minute))
		_, err = f.svc.Decline(ctx, waitlistdomain.RespondRequest{OfferID: next.ID, UserID: next.UserID})
		require.NoError(t, err)
	}
}

func TestExpireOrEscalate_EscalatesToNextInLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, queue := f.seedQueue(t, 2)
	f.freeSeat(t, seat)

	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)
	require.Equal(t, queue[0].ID, offer.BookingID)

	_, err = f.svc.ExpireOrEscalate(ctx, offer.ID)
	assert.ErrorIs(t, err, waitlistdomain.ErrOfferNotLapsed)

	f.clock.Set(offer.ExpiresAt)
	applied, err := f.svc.ExpireOrEscalate(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlistdomain.OfferStatusAutoEscalated, applied)

	lapsed := f.offerByID(t, offer.ID)
	assert.Equal(t, waitlistdomain.OfferStatusAutoEscalated, lapsed.Status)
	require.NotNil(t, lapsed.NextOfferID)

	successor := f.offerByID(t, *lapsed.NextOfferID)
	assert.Equal(t, waitlistdomain.OfferStatusPending, successor.Status)
	assert.Equal(t, queue[1].ID, successor.BookingID)
	assert.Equal(t, f.clock.Now().Add(testOfferTTL), successor.ExpiresAt)
}

func TestExpireOrEscalate_ExpiresWhenQueueDrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, _ := f.seedQueue(t, 1)
	f.freeSeat(t, seat)

	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)

	f.clock.Set(offer.ExpiresAt.Add(time.Minute))
	applied, err := f.svc.ExpireOrEscalate(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlistdomain.OfferStatusExpired, applied)

	terminal := f.offerByID(t, offer.ID)
	assert.Equal(t, waitlistdomain.OfferStatusExpired, terminal.Status)
	assert.Nil(t, terminal.NextOfferID)

	var events int
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM booking_events WHERE event_type = ?`,
		outboxdomain.EventOfferExpired,
	).Scan(&events).Error)
	assert.Equal(t, 1, events)

	// Terminal offers reject a second sweep.
	_, err = f.svc.ExpireOrEscalate(ctx, offer.ID)
	assert.ErrorIs(t, err, waitlistdomain.ErrOfferNotPending)
}

func TestOfferEvents_CarryRecipientAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, queue := f.seedQueue(t, 1)
	f.freeSeat(t, seat)

	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)

	payload := f.lastEventPayload(t, outboxdomain.EventOfferCreated)
	assert.Equal(t, queue[0].MemberEmail, payload["email"])
	assert.Equal(t, class.Name, payload["class_name"])
	assert.Equal(t, offer.ExpiresAt.Format(time.RFC3339), payload["expires_at"])

	// The lapse notice also reaches the member who held the offer.
	f.clock.Set(offer.ExpiresAt.Add(time.Minute))
	applied, err := f.svc.ExpireOrEscalate(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, waitlistdomain.OfferStatusExpired, applied)

	payload = f.lastEventPayload(t, outboxdomain.EventOfferExpired)
	assert.Equal(t, queue[0].MemberEmail, payload["email"])
	assert.Equal(t, class.Name, payload["class_name"])
}

func TestListLapsed_OnlyReturnsLapsedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	class, seat, _ := f.seedQueue(t, 2)
	f.freeSeat(t, seat)

	offer, err := f.svc.OfferSeat(ctx, class.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)

	lapsed, err := f.repo.ListLapsed(ctx, f.db, testStart, 10)
	require.NoError(t, err)
	assert.Empty(t, lapsed)

	lapsed, err = f.repo.ListLapsed(ctx, f.db, offer.ExpiresAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, offer.ID, lapsed[0].ID)
}
