package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, class *ClassSession) error
	InsertBranch(ctx context.Context, db *gorm.DB, branch *Branch) error
	FindBranchByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Branch, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ClassSession, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ClassSession, error)
	ListUpcoming(ctx context.Context, db *gorm.DB, branchID snowflake.ID, after time.Time, limit int) ([]ClassSession, error)
}
