package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/studiobook/internal/audit/domain"
	"github.com/smallbiznis/studiobook/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: query.PageToken,
			PageSize:  query.PageSize,
		},
		Action:     query.Action,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
		ActorType:  query.ActorType,
	}

	if query.StartAt != "" {
		at, err := time.Parse(time.RFC3339, query.StartAt)
		if err != nil {
			AbortWithError(c, newValidationError("start_at", "invalid_timestamp", "start_at must be RFC3339"))
			return
		}
		req.StartAt = &at
	}
	if query.EndAt != "" {
		at, err := time.Parse(time.RFC3339, query.EndAt)
		if err != nil {
			AbortWithError(c, newValidationError("end_at", "invalid_timestamp", "end_at must be RFC3339"))
			return
		}
		req.EndAt = &at
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
