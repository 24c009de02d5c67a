package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/boardcast/internal/capture"
	"github.com/boardcast/internal/metrics"
	"github.com/boardcast/internal/webhook"
)

// maxWebhookBody caps how much of a delivery we read. Trello action
// payloads are a few KB; anything near the cap is not a real delivery.
const maxWebhookBody = 1 << 20

// handleWebhook receives one Trello delivery: verify, parse, acknowledge,
// and hand off. The 200 goes back before any delivery work happens so a
// slow chat backend can never make Trello mark the webhook as failing.
func (s *Server) handleWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read body",
		})
	}

	signature := c.Request().Header.Get(webhook.SignatureHeader)
	if !webhook.Verify(body, s.cfg.CallbackURL(), s.cfg.Trello.WebhookSecret, signature) {
		log.Warn().
			Str("remote_ip", c.RealIP()).
			Bool("signature_present", signature != "").
			Msg("webhook signature verification failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid signature",
		})
	}

	// Only verified deliveries are worth keeping as fixtures.
	capture.WriteBlob("delivery", "json", body)

	event, err := webhook.Parse(body)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			log.Warn().Err(err).Msg("malformed webhook payload")
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "malformed payload",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to process payload",
		})
	}

	metrics.EventsReceived.WithLabelValues(string(event.Type)).Inc()
	if !s.router.Enqueue(event) {
		// A 200 here would be a lie: acceptance means queued for routing,
		// and Trello only redelivers on non-2xx.
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "event queue full, retry later",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "accepted",
	})
}
