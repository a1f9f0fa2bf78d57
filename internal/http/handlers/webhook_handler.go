// Webhook HTTP handlers.
//
// This file exposes the two endpoints the messaging platform talks to:
//   - GET  /webhook   (subscription verification handshake)
//   - POST /webhook   (inbound event delivery)
//
// Both speak the platform's plain-text contract: the handshake echoes the
// challenge verbatim on success and returns a bare 403 otherwise; deliveries
// are acknowledged with the literal body "EVENT_RECEIVED" regardless of how
// many messages were actually stored, so the platform never retries events
// this deployment chose to drop.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmelis/go-page-relay/internal/domain"
	"github.com/dmelis/go-page-relay/internal/http/middleware"
	"github.com/dmelis/go-page-relay/internal/services"
)

//
// Service contracts (context-aware)
//

// RelayService defines inbound message operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RelayService interface {
	// Process normalizes a webhook delivery and stores the resolved messages.
	Process(ctx context.Context, ev services.Event) (int, error)
	// ListPage returns a page of stored messages and the total count.
	ListPage(ctx context.Context, pageID string, page, pageSize int) ([]domain.InboundMessage, int64, error)
}

// OnboardService defines OAuth onboarding operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type OnboardService interface {
	// Complete runs the onboarding pipeline for an authorization code.
	Complete(ctx context.Context, code string) (*services.Result, error)
	// Links returns every linked account record.
	Links(ctx context.Context) ([]domain.PageLink, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for webhook delivery, OAuth onboarding,
// and the admin API. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	relaySvc    RelayService
	onboardSvc  OnboardService
	verifyToken string
}

// New constructs and returns a Handlers instance bound to the given services
// and the pre-shared webhook verify token.
func New(relaySvc RelayService, onboardSvc OnboardService, verifyToken string) *Handlers {
	return &Handlers{relaySvc: relaySvc, onboardSvc: onboardSvc, verifyToken: verifyToken}
}

// eventReceivedBody is the acknowledgment body the platform expects.
const eventReceivedBody = "EVENT_RECEIVED"

//
// Handlers
//

// VerifyWebhook answers the platform's subscription handshake. The challenge
// is echoed verbatim when hub.mode is "subscribe" and hub.verify_token
// matches the pre-shared secret; any other combination gets a bare 403.
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		middleware.LoggerFrom(c).Info().Msg("webhook verified")
		c.String(http.StatusOK, "%s", challenge)
		return
	}

	middleware.LoggerFrom(c).Warn().Str("mode", mode).Msg("webhook verification rejected")
	c.Status(http.StatusForbidden)
}

// ReceiveWebhook accepts one delivery envelope. A body that does not decode
// is the only failure surfaced to the platform (500, which triggers the
// platform's own redelivery); everything else is acknowledged with 200 so
// dropped or unrecognized events are never redelivered.
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	var ev services.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("webhook body decode failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	stored, err := h.relaySvc.Process(c.Request.Context(), ev)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("webhook processing failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	middleware.LoggerFrom(c).Debug().
		Str("object", ev.Object).
		Int("entries", len(ev.Entry)).
		Int("stored", stored).
		Msg("webhook delivery processed")
	c.String(http.StatusOK, eventReceivedBody)
}
