package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/studiobook/internal/audit"
	auditdomain "github.com/smallbiznis/studiobook/internal/audit/domain"
	"github.com/smallbiznis/studiobook/internal/booking"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	"github.com/smallbiznis/studiobook/internal/classes"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/credits"
	creditsdomain "github.com/smallbiznis/studiobook/internal/credits/domain"
	"github.com/smallbiznis/studiobook/internal/notification"
	"github.com/smallbiznis/studiobook/internal/outbox"
	"github.com/smallbiznis/studiobook/internal/providers/email"
	"github.com/smallbiznis/studiobook/internal/ratelimit"
	"github.com/smallbiznis/studiobook/internal/waitlist"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	classes.Module,
	credits.Module,
	booking.Module,
	waitlist.Module,
	outbox.Module,
	email.Module,
	notification.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(MetricsMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine  *gin.Engine
	cfg     config.Config
	log     *zap.Logger
	genID   *snowflake.Node
	limiter *ratelimit.TokenBucket

	bookingSvc  bookingdomain.Service
	waitlistSvc waitlistdomain.Service
	creditsSvc  creditsdomain.Service
	auditSvc    auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	Log   *zap.Logger
	GenID *snowflake.Node

	BookingSvc  bookingdomain.Service
	WaitlistSvc waitlistdomain.Service
	CreditsSvc  creditsdomain.Service
	AuditSvc    auditdomain.Service
	Limiter     *ratelimit.TokenBucket `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:  p.Gin,
		cfg:     p.Cfg,
		log:     p.Log.Named("server"),
		genID:   p.GenID,
		limiter: p.Limiter,

		bookingSvc:  p.BookingSvc,
		waitlistSvc: p.WaitlistSvc,
		creditsSvc:  p.CreditsSvc,
		auditSvc:    p.AuditSvc,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.Use(IdentityMiddleware(s.cfg.AuthJWTSecret))

	api.POST("/classes/:id/bookings", s.rateLimited(), s.CreateBooking)
	api.GET("/classes/:id/availability", s.GetAvailability)
	api.DELETE("/bookings/:id", s.CancelBooking)
	api.GET("/me/bookings", s.ListMyBookings)
	api.GET("/me/offers", s.ListMyOffers)
	api.GET("/me/package", s.GetMyPackage)
	api.POST("/offers/:id/accept", s.AcceptOffer)
	api.POST("/offers/:id/decline", s.DeclineOffer)

	admin := s.engine.Group("/admin")
	admin.Use(IdentityMiddleware(s.cfg.AuthJWTSecret), RequireStaff())
	admin.GET("/audit-logs", s.ListAuditLogs)
	admin.POST("/packages", s.CreatePackage)
}
