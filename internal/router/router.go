// Package router turns verified board events into channel notifications:
// duplicate suppression, reverse mapping lookup, formatting, and fan-out
// delivery with per-target retry. Events are transient; nothing here is
// persisted, and an event that cannot be delivered is logged and dropped.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/boardcast/internal/metrics"
	"github.com/boardcast/internal/notify"
	"github.com/boardcast/internal/retry"
	"github.com/boardcast/pkg/models"
)

// Status is the aggregate outcome of routing one event.
type Status string

const (
	// StatusDelivered means every target channel received the notification.
	StatusDelivered Status = "delivered"
	// StatusPartial means some targets received it and some failed.
	StatusPartial Status = "partial"
	// StatusFailed means no target received it.
	StatusFailed Status = "failed"
	// StatusNoTargets means no channel is mapped to the event's board.
	StatusNoTargets Status = "no_targets"
	// StatusDuplicate means the event was suppressed by the dedup window.
	StatusDuplicate Status = "duplicate"
)

// TargetSource is the reverse mapping lookup the router fans out over.
type TargetSource interface {
	TargetsForBoard(ctx context.Context, boardID string) ([]models.ChannelMapping, error)
}

// TargetResult is the delivery outcome for one channel.
type TargetResult struct {
	ChannelID string
	Attempts  int
	Err       error
}

// RouteResult is the aggregate outcome of routing one event.
type RouteResult struct {
	Status    Status
	Delivered int
	Failed    int
	Targets   []TargetResult
	Err       error
}

// Config tunes the router's dedup window and delivery behavior.
type Config struct {
	// DedupWindow suppresses redelivered events for this long. Zero
	// disables suppression.
	DedupWindow time.Duration
	// DedupMaxEntries bounds the suppression set.
	DedupMaxEntries int
	// QueueSize bounds the async event queue fed by the webhook receiver.
	QueueSize int
	// DeliveryRetries is how many times a failed delivery is retried
	// beyond the first attempt.
	DeliveryRetries int
	// Workers is the number of goroutines draining the queue.
	Workers int
}

// Router routes inbound events to their mapped channels.
type Router struct {
	targets  TargetSource
	sink     notify.Sink
	seen     *seenSet
	retryCfg retry.Config
	queue    chan *models.InboundEvent
	workers  int
}

// New creates a router delivering through the given sink.
func New(targets TargetSource, sink notify.Sink, cfg Config) *Router {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	return &Router{
		targets:  targets,
		sink:     sink,
		seen:     newSeenSet(cfg.DedupWindow, cfg.DedupMaxEntries),
		retryCfg: retry.DeliveryConfig(cfg.DeliveryRetries),
		queue:    make(chan *models.InboundEvent, queueSize),
		workers:  workers,
	}
}

// Enqueue hands an event to the async routing workers. It never blocks the
// webhook receiver: when the queue is full the event is dropped and
// counted, and the caller must report the drop upstream (a non-2xx) so the
// provider's redelivery can repair it.
func (r *Router) Enqueue(event *models.InboundEvent) bool {
	select {
	case r.queue <- event:
		return true
	default:
		metrics.Deliveries.WithLabelValues("dropped_queue_full").Inc()
		log.Warn().
			Str("board_id", event.BoardID).
			Str("type", string(event.Type)).
			Msg("event queue full, dropping event")
		return false
	}
}

// Run drains the event queue until ctx is cancelled. Queued but unrouted
// events are dropped on shutdown; they were never acknowledged as durable.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event := <-r.queue:
					r.Route(ctx, event)
				}
			}
		}()
	}
	wg.Wait()
}

// Route synchronously routes one event: dedup, reverse lookup, format, and
// concurrent delivery to every mapped channel. Each target gets its own
// retry budget; one unreachable channel never blocks the others.
func (r *Router) Route(ctx context.Context, event *models.InboundEvent) RouteResult {
	if r.seen.seen(event.DedupKey()) {
		metrics.EventsDuplicate.Inc()
		log.Debug().
			Str("board_id", event.BoardID).
			Str("type", string(event.Type)).
			Msg("duplicate event suppressed")
		return RouteResult{Status: StatusDuplicate}
	}

	targets, err := r.targets.TargetsForBoard(ctx, event.BoardID)
	if err != nil {
		log.Error().Str("board_id", event.BoardID).Err(err).Msg("failed to look up targets for event")
		return RouteResult{
			Status: StatusFailed,
			Err:    fmt.Errorf("failed to look up targets for board %s: %w", event.BoardID, err),
		}
	}
	if len(targets) == 0 {
		log.Info().Str("board_id", event.BoardID).Msg("no channels mapped to board, dropping event")
		return RouteResult{Status: StatusNoTargets}
	}

	results := make([]TargetResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target models.ChannelMapping) {
			defer wg.Done()
			results[i] = r.deliver(ctx, event, target)
		}(i, target)
	}
	wg.Wait()

	result := RouteResult{Targets: results}
	for _, tr := range results {
		if tr.Err == nil {
			result.Delivered++
		} else {
			result.Failed++
		}
	}
	switch {
	case result.Failed == 0:
		result.Status = StatusDelivered
	case result.Delivered == 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusPartial
	}

	log.Info().
		Str("board_id", event.BoardID).
		Str("type", string(event.Type)).
		Int("delivered", result.Delivered).
		Int("failed", result.Failed).
		Str("status", string(result.Status)).
		Msg("event routed")
	return result
}

func (r *Router) deliver(ctx context.Context, event *models.InboundEvent, target models.ChannelMapping) TargetResult {
	notification := formatNotification(event, target)
	started := time.Now()

	res := retry.Do(ctx, r.retryCfg, "deliver notification", func(ctx context.Context) error {
		return r.sink.Deliver(ctx, notification)
	})

	if !res.Success {
		metrics.Deliveries.WithLabelValues("failed").Inc()
		log.Error().
			Str("channel_id", target.ChannelID).
			Str("board_id", event.BoardID).
			Int("attempts", res.Attempts).
			Err(res.Err()).
			Msg("notification delivery failed")
		return TargetResult{ChannelID: target.ChannelID, Attempts: res.Attempts, Err: res.Err()}
	}

	metrics.Deliveries.WithLabelValues("delivered").Inc()
	metrics.DeliverySeconds.Observe(time.Since(started).Seconds())
	return TargetResult{ChannelID: target.ChannelID, Attempts: res.Attempts}
}
