package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/studiobook/internal/clock"
	creditsdomain "github.com/smallbiznis/studiobook/internal/credits/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  creditsdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  creditsdomain.Repository
}

func NewService(p ServiceParam) creditsdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("credits.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// ResolveBestPackage implements domain.Service.
func (s *Service) ResolveBestPackage(ctx context.Context, userID, branchID snowflake.ID) (creditsdomain.UserClassPackage, error) {
	pkg, err := s.repo.FindBestEligible(ctx, s.db, userID, branchID, s.clock.Now())
	if err != nil {
		return creditsdomain.UserClassPackage{}, err
	}
	if pkg == nil {
		return creditsdomain.UserClassPackage{}, creditsdomain.ErrNoEligiblePackage
	}
	return *pkg, nil
}

// GrantPackage implements domain.Service.
func (s *Service) GrantPackage(ctx context.Context, req creditsdomain.GrantPackageRequest) (creditsdomain.UserClassPackage, error) {
	now := s.clock.Now()
	pkg := creditsdomain.UserClassPackage{
		ID:               s.genID.Generate(),
		UserID:           req.UserID,
		BranchID:         req.BranchID,
		Status:           creditsdomain.PackageStatusActive,
		Unlimited:        req.Unlimited,
		ClassesRemaining: req.Classes,
		ExpiresAt:        req.ExpiresAt,
		PurchasedAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Insert(ctx, s.db, &pkg); err != nil {
		return creditsdomain.UserClassPackage{}, err
	}

	s.log.Info("package granted",
		zap.Int64("package_id", pkg.ID.Int64()),
		zap.Int64("user_id", pkg.UserID.Int64()),
		zap.Bool("unlimited", pkg.Unlimited),
		zap.Int("classes", pkg.ClassesRemaining),
	)

	return pkg, nil
}
