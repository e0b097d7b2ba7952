package server

import (
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	"go.uber.org/zap"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

// HandleProcessorWebhook verifies, parses and reconciles one inbound
// processor event. The org is carried in the endpoint URL each org
// registers with its processor.
func (s *Server) HandleProcessorWebhook(c *gin.Context) {
	provider := strings.ToLower(c.Param("provider"))
	if provider != s.webhooks.Provider() {
		AbortWithError(c, paymentdomain.ErrUnknownProvider)
		return
	}

	orgID, err := snowflake.ParseString(strings.TrimSpace(c.Query("org")))
	if err != nil || orgID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
	if err := s.webhooks.Verify(ctx, payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.webhooks.Parse(ctx, payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.reconciler.ApplyExternalEvent(ctx, event)
	if err != nil {
		s.log.Warn("webhook reconciliation failed",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.Error(err))
		AbortWithError(c, err)
		return
	}

	respondData(c, result)
}
