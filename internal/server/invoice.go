package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetInvoice(c *gin.Context) {
	invoice, err := s.invoicesvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, invoice)
}

func (s *Server) ListPaymentAttempts(c *gin.Context) {
	attempts, err := s.paymentsvc.ListAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, attempts)
}

// CollectInvoice runs an on-demand charge and applies the lifecycle
// effects of its outcome, same as a scheduled retry would.
func (s *Server) CollectInvoice(c *gin.Context) {
	result, err := s.subsvc.CollectInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, result)
}

type adjustmentRequest struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

func (s *Server) AddInvoiceAdjustment(c *gin.Context) {
	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		AbortWithError(c, newValidationError("description", "required", "description is required"))
		return
	}

	invoice, err := s.invoicesvc.AddAdjustment(c.Request.Context(), c.Param("id"), req.Description, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, invoice)
}
