package migration

import (
	auditdomain "github.com/smallbiznis/studiobook/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	classesdomain "github.com/smallbiznis/studiobook/internal/classes/domain"
	"github.com/smallbiznis/studiobook/internal/config"
	creditsdomain "github.com/smallbiznis/studiobook/internal/credits/domain"
	outboxdomain "github.com/smallbiznis/studiobook/internal/outbox/domain"
	"github.com/smallbiznis/studiobook/internal/seed"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql are local and self-hosted conveniences, the
			// versioned migrations target Postgres only.
			if err := conn.AutoMigrate(
				&classesdomain.Branch{},
				&classesdomain.ClassSession{},
				&bookingdomain.Booking{},
				&creditsdomain.UserClassPackage{},
				&creditsdomain.PackageClassUsage{},
				&waitlistdomain.WaitlistOffer{},
				&outboxdomain.BookingEvent{},
				&auditdomain.AuditLog{},
			); err != nil {
				return err
			}
		}

		if cfg.DefaultBranchID != 0 {
			return seed.EnsureDefaultBranchWithID(conn, cfg)
		}
		return seed.EnsureDefaultBranch(conn, cfg)
	}),
)
