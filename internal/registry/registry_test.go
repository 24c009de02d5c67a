package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardcast/internal/metrics"
	"github.com/boardcast/internal/retry"
	"github.com/boardcast/internal/store"
	"github.com/boardcast/internal/trello"
	"github.com/boardcast/pkg/models"
)

const testCallback = "https://boardcast.example.com/webhooks/trello"

// fakeTrello is an in-memory stand-in for the Trello webhook API.
type fakeTrello struct {
	mu          sync.Mutex
	webhooks    map[string]trello.Webhook
	nextID      int
	createCalls int
	deleteCalls int
	failCreates int   // transient create failures before succeeding
	createErr   error // permanent create failure
	deleteErr   error
}

func newFakeTrello() *fakeTrello {
	return &fakeTrello{webhooks: make(map[string]trello.Webhook)}
}

func (f *fakeTrello) CreateWebhook(_ context.Context, boardID, callbackURL string) (*trello.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.failCreates > 0 {
		f.failCreates--
		return nil, &retry.Retryable{Err: fmt.Errorf("%w: status 503", trello.ErrUnavailable)}
	}

	f.nextID++
	w := trello.Webhook{
		ID:          fmt.Sprintf("wh-%d", f.nextID),
		IDModel:     boardID,
		CallbackURL: callbackURL,
		Active:      true,
	}
	f.webhooks[w.ID] = w
	return &w, nil
}

func (f *fakeTrello) DeleteWebhook(_ context.Context, webhookID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.webhooks, webhookID)
	return nil
}

func (f *fakeTrello) ListWebhooks(_ context.Context) ([]trello.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]trello.Webhook, 0, len(f.webhooks))
	for _, w := range f.webhooks {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeTrello) addWebhook(id, boardID, callbackURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks[id] = trello.Webhook{ID: id, IDModel: boardID, CallbackURL: callbackURL, Active: true}
}

func (f *fakeTrello) has(boardID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.webhooks {
		if w.IDModel == boardID {
			return true
		}
	}
	return false
}

func (f *fakeTrello) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

type fakeBoards struct {
	mu     sync.Mutex
	boards []string
}

func (f *fakeBoards) MappedBoards(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.boards...), nil
}

func (f *fakeBoards) set(boards ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards = boards
}

func quickRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func newTestRegistry(client *fakeTrello, boards *fakeBoards) (*Registry, store.Store) {
	st := store.NewMemory()
	return New(st, client, boards, testCallback, quickRetry()), st
}

func TestEnsureRegistered_CreatesAndRecords(t *testing.T) {
	client := newFakeTrello()
	reg, st := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	rec, err := reg.EnsureRegistered(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "wh-1", rec.ExternalWebhookID)
	assert.Equal(t, testCallback, rec.CallbackURL)

	assert.True(t, client.has("b1"))
	stored, err := st.GetRegistration(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, rec.ExternalWebhookID, stored.ExternalWebhookID)
}

func TestEnsureRegistered_Idempotent(t *testing.T) {
	client := newFakeTrello()
	reg, _ := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	first, err := reg.EnsureRegistered(ctx, "b1")
	require.NoError(t, err)
	second, err := reg.EnsureRegistered(ctx, "b1")
	require.NoError(t, err)

	assert.Equal(t, first.ExternalWebhookID, second.ExternalWebhookID)
	assert.Equal(t, 1, client.creates(), "an already-registered board must cost zero upstream calls")
}

func TestEnsureRegistered_ConcurrentCallersCreateOne(t *testing.T) {
	client := newFakeTrello()
	reg, st := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.EnsureRegistered(ctx, "b1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.creates(), "concurrent callers for one board must not double-register")
	rec, err := st.GetRegistration(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "wh-1", rec.ExternalWebhookID)
}

func TestEnsureRegistered_RetriesTransientFailures(t *testing.T) {
	client := newFakeTrello()
	client.failCreates = 2
	reg, st := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	_, err := reg.EnsureRegistered(ctx, "b1")
	require.NoError(t, err)

	assert.Equal(t, 3, client.creates())
	_, err = st.GetRegistration(ctx, "b1")
	assert.NoError(t, err)
}

func TestEnsureRegistered_AdoptsExistingOnCreateFailure(t *testing.T) {
	client := newFakeTrello()
	// A webhook for this board already exists upstream (e.g. a previous
	// attempt succeeded but its response was lost) and creates now fail.
	client.addWebhook("wh-old", "b1", testCallback)
	client.createErr = &retry.Terminal{Err: fmt.Errorf("%w: webhook already exists", trello.ErrUnauthorized)}

	reg, st := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	rec, err := reg.EnsureRegistered(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "wh-old", rec.ExternalWebhookID)

	stored, err := st.GetRegistration(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "wh-old", stored.ExternalWebhookID)
}

func TestEnsureRegistered_FailsWhenNothingToAdopt(t *testing.T) {
	client := newFakeTrello()
	client.createErr = &retry.Terminal{Err: errors.New("invalid token")}
	reg, st := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	_, err := reg.EnsureRegistered(ctx, "b1")
	assert.Error(t, err)

	_, err = st.GetRegistration(ctx, "b1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureUnregistered_RemovesBothSides(t *testing.T) {
	client := newFakeTrello()
	reg, st := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	_, err := reg.EnsureRegistered(ctx, "b1")
	require.NoError(t, err)
	require.NoError(t, reg.EnsureUnregistered(ctx, "b1"))

	assert.False(t, client.has("b1"))
	_, err = st.GetRegistration(ctx, "b1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Unregistering again is a no-op.
	require.NoError(t, reg.EnsureUnregistered(ctx, "b1"))
}

func TestEnsureUnregistered_ClearsLocalWhenUpstreamDeleteFails(t *testing.T) {
	client := newFakeTrello()
	reg, st := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	_, err := reg.EnsureRegistered(ctx, "b1")
	require.NoError(t, err)
	client.deleteErr = &retry.Terminal{Err: errors.New("boom")}

	successBefore := testutil.ToFloat64(metrics.Registrations.WithLabelValues("unregister", "success"))
	degradedBefore := testutil.ToFloat64(metrics.Registrations.WithLabelValues("unregister", "degraded"))

	require.NoError(t, reg.EnsureUnregistered(ctx, "b1"))

	_, err = st.GetRegistration(ctx, "b1")
	assert.ErrorIs(t, err, store.ErrNotFound,
		"local state must clear so the board is not stuck half-removed")

	// The upstream webhook survived, so this counts as degraded, not success.
	assert.Equal(t, successBefore,
		testutil.ToFloat64(metrics.Registrations.WithLabelValues("unregister", "success")))
	assert.Equal(t, degradedBefore+1,
		testutil.ToFloat64(metrics.Registrations.WithLabelValues("unregister", "degraded")))
}

func TestReconcile_Converges(t *testing.T) {
	client := newFakeTrello()
	boards := &fakeBoards{}
	boards.set("b1", "b2")
	reg, st := newTestRegistry(client, boards)
	ctx := context.Background()

	// b3 is registered but no longer mapped.
	_, err := reg.EnsureRegistered(ctx, "b3")
	require.NoError(t, err)

	require.NoError(t, reg.Reconcile(ctx))

	assert.True(t, client.has("b1"))
	assert.True(t, client.has("b2"))
	assert.False(t, client.has("b3"))

	regs, err := st.ListRegistrations(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 2)
}

func TestReconcile_ConvergedIsFree(t *testing.T) {
	client := newFakeTrello()
	boards := &fakeBoards{}
	boards.set("b1")
	reg, _ := newTestRegistry(client, boards)
	ctx := context.Background()

	require.NoError(t, reg.Reconcile(ctx))
	created := client.creates()

	require.NoError(t, reg.Reconcile(ctx))
	assert.Equal(t, created, client.creates(), "a converged reconcile performs no upstream calls")
}

func TestSyncUpstream_DropsVanishedRegistrations(t *testing.T) {
	client := newFakeTrello()
	boards := &fakeBoards{}
	boards.set("b1")
	reg, st := newTestRegistry(client, boards)
	ctx := context.Background()

	// Local record exists, but the webhook is gone upstream.
	require.NoError(t, st.PutRegistration(ctx, &models.WebhookRegistration{
		BoardID:           "b1",
		ExternalWebhookID: "wh-vanished",
		CallbackURL:       testCallback,
	}))

	require.NoError(t, reg.SyncUpstream(ctx))

	_, err := st.GetRegistration(ctx, "b1")
	assert.ErrorIs(t, err, store.ErrNotFound, "stale local records are dropped")
}

func TestStartupSequence_RecreatesVanishedWebhook(t *testing.T) {
	client := newFakeTrello()
	boards := &fakeBoards{}
	boards.set("b1")
	reg, st := newTestRegistry(client, boards)
	ctx := context.Background()

	require.NoError(t, st.PutRegistration(ctx, &models.WebhookRegistration{
		BoardID:           "b1",
		ExternalWebhookID: "wh-vanished",
		CallbackURL:       testCallback,
	}))

	// The startup order in Run: sync drops the stale record, reconcile
	// registers the board fresh.
	require.NoError(t, reg.SyncUpstream(ctx))
	require.NoError(t, reg.Reconcile(ctx))

	assert.True(t, client.has("b1"))
	rec, err := st.GetRegistration(ctx, "b1")
	require.NoError(t, err)
	assert.NotEqual(t, "wh-vanished", rec.ExternalWebhookID)
}

func TestSyncUpstream_AdoptsWantedUntracked(t *testing.T) {
	client := newFakeTrello()
	client.addWebhook("wh-stray", "b1", testCallback)
	boards := &fakeBoards{}
	boards.set("b1")
	reg, st := newTestRegistry(client, boards)
	ctx := context.Background()

	require.NoError(t, reg.SyncUpstream(ctx))

	rec, err := st.GetRegistration(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "wh-stray", rec.ExternalWebhookID)
	assert.Zero(t, client.creates(), "adoption must not create a second webhook")
}

func TestSyncUpstream_DeletesUnwantedUntracked(t *testing.T) {
	client := newFakeTrello()
	client.addWebhook("wh-stray", "b-unwanted", testCallback)
	reg, _ := newTestRegistry(client, &fakeBoards{})

	require.NoError(t, reg.SyncUpstream(context.Background()))

	assert.False(t, client.has("b-unwanted"))
}

func TestSyncUpstream_IgnoresForeignCallbacks(t *testing.T) {
	client := newFakeTrello()
	client.addWebhook("wh-foreign", "b9", "https://another-service.example.com/hook")
	reg, st := newTestRegistry(client, &fakeBoards{})
	ctx := context.Background()

	require.NoError(t, reg.SyncUpstream(ctx))

	assert.True(t, client.has("b9"), "webhooks belonging to other services are left alone")
	_, err := st.GetRegistration(ctx, "b9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPoke_NeverBlocks(t *testing.T) {
	reg, _ := newTestRegistry(newFakeTrello(), &fakeBoards{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			reg.Poke()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poke blocked")
	}
}

func TestRun_ReconcilesOnPoke(t *testing.T) {
	client := newFakeTrello()
	boards := &fakeBoards{}
	reg, _ := newTestRegistry(client, boards)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Run(ctx)
	}()

	// Startup pass runs with no boards; then a mapping change appears.
	boards.set("b1")
	reg.Poke()

	assert.Eventually(t, func() bool { return client.has("b1") },
		2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
