package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfucore/internal/core/domain"
	"sfucore/internal/infrastructure/repositories/memory"
	"sfucore/internal/testutil"
	apperrors "sfucore/pkg/errors"
)

func newTestDirectory(t *testing.T) *Directory {
	return NewDirectory(DirectoryConfig{InviteTTL: time.Minute, InviteMaxAttempts: 3}, memory.NewMemoryInviteRepository(), nil, testLogger(t), nil)
}

func roomFactory(t *testing.T, pool *WorkerPool, calls *atomic.Int32, gate <-chan struct{}) RoomFactory {
	return func(ctx context.Context, id string) (*Room, error) {
		calls.Add(1)
		if gate != nil {
			<-gate
		}
		room, err := NewRoom(id, pool, RoomOptions{Codecs: testCodecs()}, testLogger(t), nil)
		if err != nil {
			return nil, err
		}
		if err := room.Init(ctx); err != nil {
			return nil, err
		}
		return room, nil
	}
}

func TestDirectory_ConcurrentCreateSharesInitialization(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 4)
	dir := newTestDirectory(t)
	t.Cleanup(dir.CloseAll)

	var calls atomic.Int32
	factory := roomFactory(t, pool, &calls, nil)

	var wg sync.WaitGroup
	rooms := make(chan *Room, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, _, err := dir.GetOrCreate(context.Background(), "42", factory)
			assert.NoError(t, err)
			rooms <- room
		}()
	}
	wg.Wait()
	close(rooms)

	var first *Room
	for r := range rooms {
		if first == nil {
			first = r
		}
		assert.Same(t, first, r)
	}
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, pool.Counts()[domain.WorkerRunning])
}

func TestDirectory_GetWhileInitializing(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 1)
	dir := newTestDirectory(t)
	t.Cleanup(dir.CloseAll)

	gate := make(chan struct{})
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		_, _, err := dir.GetOrCreate(context.Background(), "42", roomFactory(t, pool, &calls, gate))
		done <- err
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	_, err := dir.Get("42")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotInitialized))

	close(gate)
	require.NoError(t, <-done)
	room, err := dir.Get("42")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomReady, room.State())
}

func TestDirectory_FailedInitIsForgotten(t *testing.T) {
	engine := testutil.NewEngine()
	pool := newTestPool(t, engine, 1)
	dir := newTestDirectory(t)

	engine.RouterErr = assert.AnError
	var calls atomic.Int32
	_, _, err := dir.GetOrCreate(context.Background(), "42", roomFactory(t, pool, &calls, nil))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEngineFailure))

	_, err = dir.Get("42")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	engine.RouterErr = nil
	room, created, err := dir.GetOrCreate(context.Background(), "42", roomFactory(t, pool, &calls, nil))
	require.NoError(t, err)
	assert.True(t, created)
	room.Close()
}

func TestDirectory_ClosedRoomIsRemoved(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 1)
	dir := newTestDirectory(t)

	var calls atomic.Int32
	room, _, err := dir.GetOrCreate(context.Background(), "42", roomFactory(t, pool, &calls, nil))
	require.NoError(t, err)
	assert.Len(t, dir.List(), 1)

	code, err := dir.IssueInvite(context.Background(), "42", "alice")
	require.NoError(t, err)

	room.Close()
	_, err = dir.Get("42")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	assert.Empty(t, dir.List())

	_, err = dir.RedeemInvite(context.Background(), code)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound), "closing a room revokes its invites")
}

func TestDirectory_ReplacingClosingRoomRevokesItsInvites(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 2)
	dir := newTestDirectory(t)
	t.Cleanup(dir.CloseAll)
	ctx := context.Background()

	closing := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	plain := roomFactory(t, pool, &calls, nil)
	slowClose := func(ctx context.Context, id string) (*Room, error) {
		room, err := plain(ctx, id)
		if err != nil {
			return nil, err
		}
		room.OnClose(func() {
			close(closing)
			<-release
		})
		return room, nil
	}

	old, _, err := dir.GetOrCreate(ctx, "42", slowClose)
	require.NoError(t, err)
	stale, err := dir.IssueInvite(ctx, "42", "alice")
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		old.Close()
		close(closed)
	}()
	<-closing

	fresh, created, err := dir.GetOrCreate(ctx, "42", plain)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, old, fresh)

	_, err = dir.RedeemInvite(ctx, stale)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound), "the closing room's invite must not admit into its replacement")

	current, err := dir.IssueInvite(ctx, "42", "bob")
	require.NoError(t, err)

	close(release)
	<-closed

	got, err := dir.Get("42")
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	inv, err := dir.RedeemInvite(ctx, current)
	require.NoError(t, err, "the old room's removal leaves the replacement's invites alone")
	assert.Equal(t, "bob", inv.UserID)
}

func TestDirectory_InviteCodes(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	code, err := dir.IssueInvite(ctx, "7", "alice")
	require.NoError(t, err)
	assert.Len(t, code, 6)

	inv, err := dir.RedeemInvite(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "7", inv.RoomID)
	assert.Equal(t, "alice", inv.UserID)

	_, err = dir.RedeemInvite(ctx, code)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestDirectory_InviteCollisionRetries(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	codes := []string{"111111", "111111", "222222"}
	next := 0
	dir.codeGen = func(int) (string, error) {
		c := codes[next%len(codes)]
		next++
		return c, nil
	}

	first, err := dir.IssueInvite(ctx, "7", "alice")
	require.NoError(t, err)
	assert.Equal(t, "111111", first)

	second, err := dir.IssueInvite(ctx, "7", "bob")
	require.NoError(t, err)
	assert.Equal(t, "222222", second)
}

func TestDirectory_InviteExhaustion(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()
	dir.codeGen = func(int) (string, error) { return "999999", nil }

	_, err := dir.IssueInvite(ctx, "7", "alice")
	require.NoError(t, err)

	_, err = dir.IssueInvite(ctx, "7", "bob")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceExhausted))
}
