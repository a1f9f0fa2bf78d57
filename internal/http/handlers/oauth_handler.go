// OAuth HTTP handler.
//
// This file exposes the OAuth completion endpoint:
//   - GET /auth/callback?code=...
//
// The platform redirects the user's browser here after consent. The handler
// is transport-thin: it validates the code parameter, delegates the whole
// exchange/link/subscribe pipeline to OnboardService, and renders a
// human-readable plain-text outcome (the browser is the client here, not an
// API consumer).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmelis/go-page-relay/internal/http/middleware"
	"github.com/dmelis/go-page-relay/internal/services"
)

// oauthFailureBody is the fixed text returned for any pipeline failure.
// Details stay in the server logs; the browser never sees token material.
const oauthFailureBody = "Something went wrong while connecting your account. Please try again."

// OAuthCallback completes the OAuth flow for the code query parameter.
func (h *Handlers) OAuthCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.String(http.StatusBadRequest, "Missing authorization code.")
		return
	}

	res, err := h.onboardSvc.Complete(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, services.ErrEmptyCode) {
			c.String(http.StatusBadRequest, "Missing authorization code.")
			return
		}
		lg := middleware.LoggerFrom(c)
		var stepErr *services.StepError
		if errors.As(err, &stepErr) {
			lg.Error().Err(stepErr.Err).Str("step", stepErr.Step).Msg("onboarding pipeline failed")
		} else {
			lg.Error().Err(err).Msg("onboarding pipeline failed")
		}
		c.String(http.StatusInternalServerError, oauthFailureBody)
		return
	}

	c.String(http.StatusOK,
		"Account connected for %s. Pages found: %d, Instagram accounts linked: %d, subscribed to message delivery: %d.",
		res.UserName, res.Pages, res.Linked, res.Subscribed)
}
