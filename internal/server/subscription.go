package server

import (
	"time"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/tidewaylabs/tideway/internal/subscription/domain"
)

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idempotencyKeyFromHeader(c)
	}

	sub, err := s.subsvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

func (s *Server) GetSubscription(c *gin.Context) {
	sub, err := s.subsvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

type pauseRequest struct {
	Days int `json:"days"`
}

func (s *Server) PauseSubscription(c *gin.Context) {
	var req pauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subsvc.Pause(c.Request.Context(), c.Param("id"), time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	sub, err := s.subsvc.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

type cancelRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	sub, err := s.subsvc.Cancel(c.Request.Context(), c.Param("id"), req.AtPeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

func (s *Server) ClosePeriod(c *gin.Context) {
	result, err := s.subsvc.CloseCurrentPeriod(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, result)
}
