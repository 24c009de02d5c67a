package mapping

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardcast/internal/cache"
	"github.com/boardcast/internal/store"
	"github.com/boardcast/internal/trello"
	"github.com/boardcast/pkg/models"
)

// countingStore wraps a Store and counts mapping reads, so tests can tell a
// cache hit from a store round trip.
type countingStore struct {
	store.Store
	gets atomic.Int64
}

func (c *countingStore) GetMapping(ctx context.Context, guildID, channelID string) (*models.ChannelMapping, error) {
	c.gets.Add(1)
	return c.Store.GetMapping(ctx, guildID, channelID)
}

// fakeValidator is a canned Trello lookup for mapping writes.
type fakeValidator struct {
	boards map[string]*trello.Board
	lists  map[string]*trello.List
	err    error
}

func (f *fakeValidator) GetBoard(_ context.Context, boardID string) (*trello.Board, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("get board: %w", trello.ErrNotFound)
	}
	return b, nil
}

func (f *fakeValidator) GetList(_ context.Context, listID string) (*trello.List, error) {
	if f.err != nil {
		return nil, f.err
	}
	l, ok := f.lists[listID]
	if !ok {
		return nil, fmt.Errorf("get list: %w", trello.ErrNotFound)
	}
	return l, nil
}

func newTestService(t *testing.T, ttl time.Duration, validator BoardValidator) (*Service, *countingStore) {
	t.Helper()
	st := &countingStore{Store: store.NewMemory()}
	ca := cache.NewMemory()
	t.Cleanup(ca.Stop)
	return NewService(st, ca, ttl, validator), st
}

func TestResolve_ExplicitMapping(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1", ListID: "l1"})
	require.NoError(t, err)

	dest, err := svc.Resolve(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, models.Destination{BoardID: "b1", ListID: "l1"}, dest)
}

func TestResolve_SecondLookupHitsCache(t *testing.T) {
	svc, st := newTestService(t, time.Minute, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "g1", "c1")
	require.NoError(t, err)
	after := st.gets.Load()

	_, err = svc.Resolve(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, after, st.gets.Load(), "second resolve should not touch the store")
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, nil)
	ctx := context.Background()

	_, err := svc.SetDefault(ctx, models.Destination{BoardID: "b-default"})
	require.NoError(t, err)

	dest, err := svc.Resolve(ctx, "g1", "unmapped")
	require.NoError(t, err)
	assert.Equal(t, "b-default", dest.BoardID)
}

func TestResolve_DefaultIsNotCachedUnderChannelKey(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, nil)
	ctx := context.Background()

	_, err := svc.SetDefault(ctx, models.Destination{BoardID: "b-default"})
	require.NoError(t, err)

	dest, err := svc.Resolve(ctx, "g1", "c1")
	require.NoError(t, err)
	require.Equal(t, "b-default", dest.BoardID)

	// A mapping created after a default-backed resolve must win immediately,
	// which can only happen if the fallback was never cached under the key.
	_, err = svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b-own"})
	require.NoError(t, err)

	dest, err = svc.Resolve(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "b-own", dest.BoardID)
}

func TestResolve_NoMappingNoDefault(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, nil)

	_, err := svc.Resolve(context.Background(), "g1", "c1")
	assert.ErrorIs(t, err, ErrNoMappingConfigured)
}

func TestResolve_ReadYourWrite(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b-old"})
	require.NoError(t, err)

	// Populate the cache.
	dest, err := svc.Resolve(ctx, "g1", "c1")
	require.NoError(t, err)
	require.Equal(t, "b-old", dest.BoardID)

	// Replace the mapping; the hour-long TTL must not delay visibility.
	_, err = svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b-new"})
	require.NoError(t, err)

	dest, err = svc.Resolve(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "b-new", dest.BoardID)
}

func TestResolve_RemoveTakesEffectImmediately(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, "g1", "c1") // cache it
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, "g1", "c1"))

	_, err = svc.Resolve(ctx, "g1", "c1")
	assert.ErrorIs(t, err, ErrNoMappingConfigured)
}

func TestResolve_CachingDisabledStillCorrect(t *testing.T) {
	svc, st := newTestService(t, 0, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		dest, err := svc.Resolve(ctx, "g1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "b1", dest.BoardID)
	}
	assert.Equal(t, int64(3), st.gets.Load(), "with ttl=0 every resolve goes to the store")
}

func TestSet_ValidatesBoardAndList(t *testing.T) {
	validator := &fakeValidator{
		boards: map[string]*trello.Board{"b1": {ID: "b1", Name: "Board"}},
		lists: map[string]*trello.List{
			"l1":    {ID: "l1", IDBoard: "b1"},
			"lX":    {ID: "lX", IDBoard: "other-board"},
			"l-cls": {ID: "l-cls", IDBoard: "b1"},
		},
	}
	svc, _ := newTestService(t, time.Minute, validator)
	ctx := context.Background()

	result, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1", ListID: "l1"})
	require.NoError(t, err)
	assert.True(t, result.Validated)
	assert.Empty(t, result.Warning)

	_, err = svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c2", BoardID: "missing"})
	assert.ErrorIs(t, err, ErrBoardNotFound)

	_, err = svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c3", BoardID: "b1", ListID: "lX"})
	assert.ErrorIs(t, err, ErrListNotOnBoard)

	// Failed writes must not leave mappings behind.
	_, err = svc.Get(ctx, "g1", "c2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSet_ClosedBoardRejected(t *testing.T) {
	validator := &fakeValidator{
		boards: map[string]*trello.Board{"b1": {ID: "b1", Closed: true}},
	}
	svc, _ := newTestService(t, time.Minute, validator)

	_, err := svc.Set(context.Background(), models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	assert.ErrorIs(t, err, ErrBoardNotFound)
}

func TestSet_AcceptsUnvalidatedWhenTrelloDown(t *testing.T) {
	validator := &fakeValidator{err: fmt.Errorf("%w: status 503", trello.ErrUnavailable)}
	svc, _ := newTestService(t, time.Minute, validator)
	ctx := context.Background()

	result, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	require.NoError(t, err)
	assert.False(t, result.Validated)
	assert.NotEmpty(t, result.Warning)

	dest, err := svc.Resolve(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "b1", dest.BoardID)
}

func TestSetDefault_ValidatesBoard(t *testing.T) {
	validator := &fakeValidator{boards: map[string]*trello.Board{"b1": {ID: "b1"}}}
	svc, _ := newTestService(t, time.Minute, validator)

	_, err := svc.SetDefault(context.Background(), models.Destination{BoardID: "missing"})
	assert.ErrorIs(t, err, ErrBoardNotFound)
}

func TestSetDefault_AcceptsUnvalidatedWhenTrelloDown(t *testing.T) {
	validator := &fakeValidator{err: fmt.Errorf("%w: status 503", trello.ErrUnavailable)}
	svc, _ := newTestService(t, time.Minute, validator)
	ctx := context.Background()

	result, err := svc.SetDefault(ctx, models.Destination{BoardID: "b1"})
	require.NoError(t, err)
	assert.False(t, result.Validated)
	assert.NotEmpty(t, result.Warning)

	dest, err := svc.Resolve(ctx, "g1", "unmapped")
	require.NoError(t, err)
	assert.Equal(t, "b1", dest.BoardID)
}

func TestMappedBoards(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	require.NoError(t, err)
	_, err = svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c2", BoardID: "b1"})
	require.NoError(t, err)
	_, err = svc.Set(ctx, models.ChannelMapping{GuildID: "g2", ChannelID: "c1", BoardID: "b2"})
	require.NoError(t, err)
	_, err = svc.SetDefault(ctx, models.Destination{BoardID: "b-default"})
	require.NoError(t, err)

	boards, err := svc.MappedBoards(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b2", "b-default"}, boards)
}

func TestMappedBoards_DefaultAlreadyMapped(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	require.NoError(t, err)
	_, err = svc.SetDefault(ctx, models.Destination{BoardID: "b1"})
	require.NoError(t, err)

	boards, err := svc.MappedBoards(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, boards)
}

func TestChangeNotifierFires(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, nil)
	ctx := context.Background()

	var notified atomic.Int64
	svc.SetChangeNotifier(func() { notified.Add(1) })

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), notified.Load())

	require.NoError(t, svc.Remove(ctx, "g1", "c1"))
	assert.Equal(t, int64(2), notified.Load())

	_, err = svc.SetDefault(ctx, models.Destination{BoardID: "b2"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), notified.Load())

	require.NoError(t, svc.ClearDefault(ctx))
	assert.Equal(t, int64(4), notified.Load())
}

func TestTargetsForBoard_ExcludesDefault(t *testing.T) {
	svc, _ := newTestService(t, time.Minute, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, models.ChannelMapping{GuildID: "g1", ChannelID: "c1", BoardID: "b1"})
	require.NoError(t, err)
	_, err = svc.SetDefault(ctx, models.Destination{BoardID: "b1"})
	require.NoError(t, err)

	targets, err := svc.TargetsForBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, targets, 1, "default mapping contributes no fan-out targets")
}
