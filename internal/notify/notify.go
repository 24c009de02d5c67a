// Package notify defines the delivery contract between the event router
// and concrete chat backends.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/boardcast/pkg/models"
)

// Sink delivers one notification to one channel. Implementations classify
// their errors with the retry markers so the router's per-target retry loop
// knows what is worth another attempt.
type Sink interface {
	Deliver(ctx context.Context, n models.Notification) error
	Name() string
}

// LogSink writes notifications to the log instead of a chat service. It is
// the sink for deployments that run with delivery disabled (dry runs,
// staging against production boards).
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, n models.Notification) error {
	log.Info().
		Str("channel_id", n.ChannelID).
		Str("title", n.Title).
		Str("body", n.Body).
		Str("link", n.Link).
		Msg("notification (delivery disabled)")
	return nil
}
