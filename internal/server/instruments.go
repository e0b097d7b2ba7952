package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

type attachInstrumentRequest struct {
	CustomerRef string `json:"customer_ref"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
	MakeDefault bool   `json:"make_default"`
}

func (s *Server) AttachInstrument(c *gin.Context) {
	var req attachInstrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.CustomerRef) == "" || strings.TrimSpace(req.ProviderRef) == "" {
		AbortWithError(c, newValidationError("customer_ref", "required", "customer_ref and provider_ref are required"))
		return
	}

	instrument, err := s.instruments.Attach(c.Request.Context(),
		req.CustomerRef, req.Provider, req.ProviderRef, req.MakeDefault)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, instrument)
}

func (s *Server) DetachInstrument(c *gin.Context) {
	if err := s.instruments.Detach(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"detached": true})
}

func (s *Server) ListInstruments(c *gin.Context) {
	customerRef := strings.TrimSpace(c.Query("customer_ref"))
	if customerRef == "" {
		AbortWithError(c, newValidationError("customer_ref", "required", "customer_ref is required"))
		return
	}

	list, err := s.instruments.ListFor(c.Request.Context(), customerRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, list)
}
