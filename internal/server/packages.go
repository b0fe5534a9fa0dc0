package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/studiobook/internal/audit/domain"
	creditsdomain "github.com/smallbiznis/studiobook/internal/credits/domain"
	"github.com/smallbiznis/studiobook/internal/memberctx"
)

// GetMyPackage returns the package the caller's next booking would draw
// from, resolved against the branch claim (or an explicit branch_id query).
func (s *Server) GetMyPackage(c *gin.Context) {
	identity, ok := memberctx.IdentityFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	branchID := identity.BranchID
	if raw := c.Query("branch_id"); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("branch_id", "invalid_id", "branch id must be a valid id"))
			return
		}
		branchID = parsed
	}
	if branchID == 0 {
		AbortWithError(c, newValidationError("branch_id", "required", "branch id is required"))
		return
	}

	resp, err := s.creditsSvc.ResolveBestPackage(c.Request.Context(), identity.UserID, branchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type grantPackageRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	BranchID  string `json:"branch_id" binding:"required"`
	Unlimited bool   `json:"unlimited"`
	Classes   int    `json:"classes"`
	ExpiresAt string `json:"expires_at"`
}

// CreatePackage grants a class package to a member, staff only.
func (s *Server) CreatePackage(c *gin.Context) {
	var body grantPackageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := snowflake.ParseString(body.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_id", "user id must be a valid id"))
		return
	}
	branchID, err := snowflake.ParseString(body.BranchID)
	if err != nil {
		AbortWithError(c, newValidationError("branch_id", "invalid_id", "branch id must be a valid id"))
		return
	}
	if !body.Unlimited && body.Classes <= 0 {
		AbortWithError(c, newValidationError("classes", "invalid_value", "classes must be positive unless the package is unlimited"))
		return
	}

	var expiresAt *time.Time
	if body.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			AbortWithError(c, newValidationError("expires_at", "invalid_time", "expires_at must be RFC3339"))
			return
		}
		expiresAt = &parsed
	}

	resp, err := s.creditsSvc.GrantPackage(c.Request.Context(), creditsdomain.GrantPackageRequest{
		UserID:    userID,
		BranchID:  branchID,
		Unlimited: body.Unlimited,
		Classes:   body.Classes,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	identity, _ := memberctx.IdentityFromContext(c.Request.Context())
	s.audit(c, auditdomain.ActorTypeStaff, identity.UserID, "package.grant", "package", resp.ID, map[string]any{
		"user_id":   body.UserID,
		"unlimited": body.Unlimited,
		"classes":   body.Classes,
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
