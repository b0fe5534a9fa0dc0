// Package sweeper runs the background jobs that keep the waitlist-offer
// lifecycle and the event outbox moving.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/notification"
	"github.com/smallbiznis/studiobook/internal/observability/metrics"
	"github.com/smallbiznis/studiobook/internal/ratelimit"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const runLockKey = "studiobook:sweeper:run"

var ErrInvalidConfig = errors.New("sweeper: invalid configuration")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config

	WaitlistSvc  waitlistdomain.Service
	WaitlistRepo waitlistdomain.Repository
	Dispatcher   *notification.Dispatcher
	Locker       *ratelimit.Locker `optional:"true"`
}

type Sweeper struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.SweeperConfig

	waitlistSvc  waitlistdomain.Service
	waitlistRepo waitlistdomain.Repository
	dispatcher   *notification.Dispatcher
	locker       *ratelimit.Locker
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.WaitlistSvc == nil || p.WaitlistRepo == nil || p.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}

	cfg := p.Cfg.Sweeper
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &Sweeper{
		db:    p.DB,
		log:   p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		clock: p.Clock,
		cfg:   cfg,

		waitlistSvc:  p.WaitlistSvc,
		waitlistRepo: p.WaitlistRepo,
		dispatcher:   p.Dispatcher,
		locker:       p.Locker,
	}, nil
}

func (s *Sweeper) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	m := metrics.Default()
	m.IncSweeperJobRun(name)

	err := fn(ctx)
	m.ObserveSweeperJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	m.IncSweeperJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	if s.locker != nil {
		token, acquired, err := s.locker.TryLock(parent, runLockKey, s.cfg.RunInterval)
		if err != nil {
			s.log.Warn("sweeper lock unavailable, running without it", zap.Error(err))
		} else if !acquired {
			return nil
		} else {
			defer func() {
				if err := s.locker.Release(parent, runLockKey, token); err != nil {
					s.log.Warn("failed to release sweeper lock", zap.Error(err))
				}
			}()
		}
	}

	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"offer_seats", func(ctx context.Context) error {
			return s.runJob(ctx, "offer_seats", 30*time.Second, s.OfferSeatsJob)
		}},
		{"expire_offers", func(ctx context.Context) error {
			return s.runJob(ctx, "expire_offers", 30*time.Second, s.ExpireOffersJob)
		}},
		{"dispatch_events", func(ctx context.Context) error {
			return s.runJob(ctx, "dispatch_events", 60*time.Second, s.DispatchEventsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweeper run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
