// Package discord delivers notifications to Discord channels as embeds.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/boardcast/internal/retry"
	"github.com/boardcast/pkg/models"
)

// ErrChannelGone means the target channel was deleted or the bot lost
// access to it. Delivery to that channel is not retried.
var ErrChannelGone = errors.New("discord: channel gone or inaccessible")

// Sink posts notifications through a Discord bot. Only the REST surface is
// used; no gateway connection is opened. Sends are rate-limited client-side
// below Discord's global limit so one busy board cannot trip it.
type Sink struct {
	session *discordgo.Session
	limiter *rate.Limiter
}

// NewSink creates a Discord sink from a bot token.
func NewSink(botToken string) (*Sink, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Client.Timeout = 10 * time.Second

	return &Sink{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(25), 25),
	}, nil
}

func (s *Sink) Name() string { return "discord" }

// Deliver posts the notification as an embed in the target channel.
func (s *Sink) Deliver(ctx context.Context, n models.Notification) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		URL:         n.Link,
		Color:       n.Color,
	}

	_, err := s.session.ChannelMessageSendEmbed(n.ChannelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return classifyError(n.ChannelID, err)
	}
	return nil
}

// classifyError maps Discord REST failures onto the retry taxonomy.
// Missing channels and permission errors are terminal; rate limits and
// server errors are worth retrying.
func classifyError(channelID string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusForbidden:
			return &retry.Terminal{Err: fmt.Errorf("%w: channel %s: %v", ErrChannelGone, channelID, err)}
		case http.StatusTooManyRequests:
			return &retry.Retryable{Err: fmt.Errorf("discord rate limited sending to %s: %w", channelID, err)}
		}
		if restErr.Response.StatusCode >= 500 {
			return &retry.Retryable{Err: fmt.Errorf("discord server error sending to %s: %w", channelID, err)}
		}
		return &retry.Terminal{Err: fmt.Errorf("discord rejected message to %s: %w", channelID, err)}
	}

	// Transport-level failure: timeout, connection reset, DNS.
	return &retry.Retryable{Err: fmt.Errorf("failed to send to channel %s: %w", channelID, err)}
}
