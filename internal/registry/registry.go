// Package registry keeps Trello webhook subscriptions in sync with the set
// of boards that mappings point at. Boards gain a webhook when their first
// mapping appears and lose it when their last mapping goes away. All
// upstream calls are retried with backoff; successful registrations are
// recorded even if the triggering request was cancelled mid-flight.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/boardcast/internal/metrics"
	"github.com/boardcast/internal/retry"
	"github.com/boardcast/internal/store"
	"github.com/boardcast/internal/trello"
	"github.com/boardcast/pkg/models"
)

// reconcileInterval is the fallback cadence for periodic reconciliation.
// Mapping changes wake the loop immediately; the timer only catches drift
// from missed notifications or out-of-band upstream changes.
const reconcileInterval = 15 * time.Minute

// TrelloAPI is the slice of the Trello client the registry needs.
type TrelloAPI interface {
	CreateWebhook(ctx context.Context, boardID, callbackURL string) (*trello.Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
	ListWebhooks(ctx context.Context) ([]trello.Webhook, error)
}

// BoardSource reports which boards should currently have a webhook.
type BoardSource interface {
	MappedBoards(ctx context.Context) ([]string, error)
}

// boardLocks hands out one mutex per board. Registration work for a board
// must be mutually exclusive with itself, but one board's slow upstream
// call must never make an unrelated board wait. Entries live for the
// process lifetime; the set of boards a deployment maps is small.
type boardLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (b *boardLocks) lock(boardID string) *sync.Mutex {
	b.mu.Lock()
	l, ok := b.m[boardID]
	if !ok {
		l = &sync.Mutex{}
		b.m[boardID] = l
	}
	b.mu.Unlock()
	l.Lock()
	return l
}

// Registry owns the webhook registration table and its upstream mirror.
type Registry struct {
	store       store.Store
	client      TrelloAPI
	boards      BoardSource
	callbackURL string
	retryCfg    retry.Config

	// locks serializes registration work per board so two callers cannot
	// race to create two webhooks for the same board.
	locks boardLocks

	// passMu keeps full reconcile and sync passes from interleaving with
	// each other. Per-board work inside a pass still takes the board lock.
	passMu sync.Mutex

	// wake coalesces change notifications: many mapping writes while a
	// reconcile pass runs collapse into one pending pass.
	wake chan struct{}
}

// New creates a registry. callbackURL is this deployment's public webhook
// receiver endpoint; it is part of the registration identity.
func New(st store.Store, client TrelloAPI, boards BoardSource, callbackURL string, retryCfg retry.Config) *Registry {
	return &Registry{
		store:       st,
		client:      client,
		boards:      boards,
		callbackURL: callbackURL,
		retryCfg:    retryCfg,
		locks:       boardLocks{m: make(map[string]*sync.Mutex)},
		wake:        make(chan struct{}, 1),
	}
}

// Poke requests a reconcile pass. Non-blocking; multiple pokes before the
// loop wakes collapse into one.
func (r *Registry) Poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run drives reconciliation until ctx is cancelled: once at startup
// (including the upstream sync), then on every Poke, and on a slow timer as
// a safety net.
func (r *Registry) Run(ctx context.Context) {
	if err := r.SyncUpstream(ctx); err != nil {
		log.Error().Err(err).Msg("startup webhook sync failed, continuing with local state")
	}
	if err := r.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("startup reconcile failed")
	}

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-ticker.C:
		}

		if err := r.Reconcile(ctx); err != nil {
			log.Error().Err(err).Msg("webhook reconcile failed")
		}
	}
}

// EnsureRegistered makes sure the board has exactly one webhook pointing at
// this deployment and returns its registration record. Calling it for an
// already-registered board performs zero upstream calls.
func (r *Registry) EnsureRegistered(ctx context.Context, boardID string) (*models.WebhookRegistration, error) {
	defer r.locks.lock(boardID).Unlock()
	return r.ensureRegisteredLocked(ctx, boardID)
}

func (r *Registry) ensureRegisteredLocked(ctx context.Context, boardID string) (*models.WebhookRegistration, error) {
	reg, err := r.store.GetRegistration(ctx, boardID)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check registration for board %s: %w", boardID, err)
	}

	var webhook *trello.Webhook
	result := retry.Do(ctx, r.retryCfg, "register webhook", func(ctx context.Context) error {
		var opErr error
		webhook, opErr = r.client.CreateWebhook(ctx, boardID, r.callbackURL)
		return opErr
	})
	if !result.Success {
		// A previous attempt may have succeeded upstream before its
		// response was lost. Adopt an existing webhook instead of
		// failing or double-registering.
		if adopted := r.adoptUpstream(ctx, boardID); adopted != nil {
			webhook = adopted
		} else {
			metrics.Registrations.WithLabelValues("register", "failure").Inc()
			return nil, fmt.Errorf("failed to register webhook for board %s: %w", boardID, result.Err())
		}
	}

	// Record the registration even if the caller gave up waiting: the
	// webhook now exists upstream and losing track of it would leak it.
	reg = &models.WebhookRegistration{
		BoardID:           boardID,
		ExternalWebhookID: webhook.ID,
		CallbackURL:       r.callbackURL,
	}
	if err := r.store.PutRegistration(context.WithoutCancel(ctx), reg); err != nil {
		return nil, fmt.Errorf("failed to record registration for board %s: %w", boardID, err)
	}

	metrics.Registrations.WithLabelValues("register", "success").Inc()
	log.Info().
		Str("board_id", boardID).
		Str("webhook_id", webhook.ID).
		Msg("webhook registered")
	return reg, nil
}

// EnsureUnregistered removes the board's webhook upstream and locally.
// Local state is cleared even when the upstream delete keeps failing, so a
// board cannot get stuck half-removed; SyncUpstream sweeps any leftover.
func (r *Registry) EnsureUnregistered(ctx context.Context, boardID string) error {
	defer r.locks.lock(boardID).Unlock()
	return r.ensureUnregisteredLocked(ctx, boardID)
}

func (r *Registry) ensureUnregisteredLocked(ctx context.Context, boardID string) error {
	reg, err := r.store.GetRegistration(ctx, boardID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check registration for board %s: %w", boardID, err)
	}

	outcome := "success"
	result := retry.Do(ctx, r.retryCfg, "unregister webhook", func(ctx context.Context) error {
		return r.client.DeleteWebhook(ctx, reg.ExternalWebhookID)
	})
	if !result.Success {
		// Only the local record was cleared; the upstream webhook may
		// still exist until SyncUpstream sweeps it.
		outcome = "degraded"
		log.Warn().
			Str("board_id", boardID).
			Str("webhook_id", reg.ExternalWebhookID).
			Err(result.Err()).
			Msg("upstream webhook delete failed, clearing local registration anyway")
	}

	if err := r.store.DeleteRegistration(context.WithoutCancel(ctx), boardID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete registration for board %s: %w", boardID, err)
	}

	metrics.Registrations.WithLabelValues("unregister", outcome).Inc()
	log.Info().Str("board_id", boardID).Msg("webhook unregistered")
	return nil
}

// Reconcile diffs the boards that should have webhooks against the local
// registration table and converges: registers the missing, unregisters the
// orphaned. Already-converged boards cost zero upstream calls. A cancelled
// context aborts the pass between boards; the next pass picks up the rest.
func (r *Registry) Reconcile(ctx context.Context) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	desired, err := r.boards.MappedBoards(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute desired boards: %w", err)
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, b := range desired {
		desiredSet[b] = true
	}

	regs, err := r.store.ListRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list registrations: %w", err)
	}
	haveSet := make(map[string]bool, len(regs))
	for _, reg := range regs {
		haveSet[reg.BoardID] = true
	}

	var firstErr error
	for _, boardID := range desired {
		if haveSet[boardID] {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.EnsureRegistered(ctx, boardID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, reg := range regs {
		if desiredSet[reg.BoardID] {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.EnsureUnregistered(ctx, reg.BoardID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// SyncUpstream repairs drift between the local registration table and
// Trello's actual webhook list: registrations whose webhook vanished
// upstream are dropped locally (the next reconcile recreates them), and
// upstream webhooks pointing at our callback URL that we have no record of
// are adopted when wanted or deleted when not.
func (r *Registry) SyncUpstream(ctx context.Context) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	upstream, err := r.client.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list upstream webhooks: %w", err)
	}

	ours := make(map[string]trello.Webhook) // board id -> webhook
	for _, w := range upstream {
		if w.CallbackURL == r.callbackURL {
			ours[w.IDModel] = w
		}
	}

	regs, err := r.store.ListRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list registrations: %w", err)
	}

	known := make(map[string]bool, len(regs))
	for _, reg := range regs {
		known[reg.BoardID] = true
		if _, exists := ours[reg.BoardID]; exists {
			continue
		}
		log.Warn().
			Str("board_id", reg.BoardID).
			Str("webhook_id", reg.ExternalWebhookID).
			Msg("registered webhook missing upstream, dropping local record")
		if err := r.dropLocal(ctx, reg.BoardID); err != nil {
			return fmt.Errorf("failed to drop stale registration for board %s: %w", reg.BoardID, err)
		}
	}

	desired, err := r.boards.MappedBoards(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute desired boards: %w", err)
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, b := range desired {
		desiredSet[b] = true
	}

	for boardID, w := range ours {
		if known[boardID] {
			continue
		}
		if desiredSet[boardID] {
			log.Info().
				Str("board_id", boardID).
				Str("webhook_id", w.ID).
				Msg("adopting untracked upstream webhook")
			if err := r.adoptLocal(ctx, boardID, w.ID); err != nil {
				return fmt.Errorf("failed to adopt webhook for board %s: %w", boardID, err)
			}
			continue
		}

		log.Info().
			Str("board_id", boardID).
			Str("webhook_id", w.ID).
			Msg("deleting unwanted upstream webhook")
		if err := r.client.DeleteWebhook(ctx, w.ID); err != nil {
			log.Warn().Str("webhook_id", w.ID).Err(err).Msg("failed to delete unwanted webhook")
		}
	}

	return nil
}

func (r *Registry) dropLocal(ctx context.Context, boardID string) error {
	defer r.locks.lock(boardID).Unlock()
	if err := r.store.DeleteRegistration(ctx, boardID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func (r *Registry) adoptLocal(ctx context.Context, boardID, webhookID string) error {
	defer r.locks.lock(boardID).Unlock()
	return r.store.PutRegistration(ctx, &models.WebhookRegistration{
		BoardID:           boardID,
		ExternalWebhookID: webhookID,
		CallbackURL:       r.callbackURL,
	})
}

// adoptUpstream looks for an upstream webhook for the board that points at
// our callback URL and returns it, or nil when none exists.
func (r *Registry) adoptUpstream(ctx context.Context, boardID string) *trello.Webhook {
	upstream, err := r.client.ListWebhooks(ctx)
	if err != nil {
		return nil
	}
	for i := range upstream {
		if upstream[i].IDModel == boardID && upstream[i].CallbackURL == r.callbackURL {
			return &upstream[i]
		}
	}
	return nil
}
