package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/tidewaylabs/tideway/internal/usage/domain"
)

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idempotencyKeyFromHeader(c)
	}

	record, err := s.usagesvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, record)
}

func (s *Server) GetUsageSummary(c *gin.Context) {
	subscriptionID := strings.TrimSpace(c.Query("subscription_id"))
	if subscriptionID == "" {
		AbortWithError(c, newValidationError("subscription_id", "required", "subscription_id is required"))
		return
	}

	start, err := time.Parse(time.RFC3339, c.Query("period_start"))
	if err != nil {
		AbortWithError(c, newValidationError("period_start", "invalid_time", "period_start must be RFC3339"))
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("period_end"))
	if err != nil {
		AbortWithError(c, newValidationError("period_end", "invalid_time", "period_end must be RFC3339"))
		return
	}

	summary, err := s.usagesvc.Summary(c.Request.Context(), subscriptionID, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, summary)
}
