package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/internal/testutil"
	apperrors "sfucore/pkg/errors"
)

func newTestPool(t *testing.T, engine *testutil.Engine, n int) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool(engine, testLogger(t), nil, nil)
	require.NoError(t, pool.Initialize(context.Background(), n))
	t.Cleanup(pool.Close)
	return pool
}

func newTestRoom(t *testing.T, pool *WorkerPool, id string) *Room {
	t.Helper()
	room, err := NewRoom(id, pool, RoomOptions{Codecs: testCodecs()}, testLogger(t), nil)
	require.NoError(t, err)
	return room
}

func TestRoom_NotInitializedBeforeInit(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 1)
	room := newTestRoom(t, pool, "42")

	assert.Equal(t, domain.RoomUninitialized, room.State())
	_, _, err := room.Participate(newTestPeer(t, "alice"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotInitialized))
	_, err = room.RtpCapabilities()
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotInitialized))
	_, err = room.CreateTransport(context.Background(), "alice", domain.DirectionSend, testSettings)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotInitialized))
}

func TestRoom_InitMarksWorkerRunning(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 1)
	room := newTestRoom(t, pool, "42")

	require.NoError(t, room.Init(context.Background()))
	assert.Equal(t, domain.RoomReady, room.State())
	assert.Equal(t, 1, pool.Counts()[domain.WorkerRunning])

	caps, err := room.RtpCapabilities()
	require.NoError(t, err)
	assert.Len(t, caps.Codecs, 2)

	assert.Error(t, room.Init(context.Background()), "init runs once")
}

func TestRoom_InitFailureKeepsWorkerIdle(t *testing.T) {
	engine := testutil.NewEngine()
	engine.ObserverErr = errors.New("observer failed")
	pool := newTestPool(t, engine, 1)
	room := newTestRoom(t, pool, "42")

	closed := 0
	room.OnClose(func() { closed++ })

	err := room.Init(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEngineFailure))
	assert.Equal(t, domain.RoomClosed, room.State())
	assert.Equal(t, 1, pool.Counts()[domain.WorkerIdle])
	assert.Equal(t, 1, closed)
	assert.True(t, engine.Routers()[0].Closed(), "partial router is released")

	_, err = pool.AcquireIdle()
	assert.NoError(t, err, "worker is free for the next room")
}

func TestRoom_NoIdleWorker(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 1)
	newTestRoom(t, pool, "1")

	_, err := NewRoom("2", pool, RoomOptions{}, testLogger(t), nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceExhausted))
}

func TestRoom_ParticipateIsIdempotent(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 1)
	room := newTestRoom(t, pool, "42")
	require.NoError(t, room.Init(context.Background()))

	first := newTestPeer(t, "alice")
	member, added, err := room.Participate(first)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Same(t, first, member)

	member, added, err = room.Participate(newTestPeer(t, "alice"))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Same(t, first, member)
	assert.Len(t, room.Peers(), 1)
}

func TestRoom_LastPeerLeavingClosesRoom(t *testing.T) {
	pool := newTestPool(t, testutil.NewEngine(), 1)
	room := newTestRoom(t, pool, "42")
	require.NoError(t, room.Init(context.Background()))

	closed := 0
	room.OnClose(func() { closed++ })

	for _, id := range []string{"alice", "bob"} {
		_, _, err := room.Participate(newTestPeer(t, id))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"bob"}, room.Members("alice"))

	assert.True(t, room.Disconnect("alice"))
	assert.False(t, room.Disconnect("alice"))
	assert.Equal(t, domain.RoomReady, room.State())

	assert.True(t, room.Disconnect("bob"))
	assert.Equal(t, domain.RoomClosed, room.State())
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, pool.Counts()[domain.WorkerIdle])
}

func TestRoom_CloseIsIdempotent(t *testing.T) {
	engine := testutil.NewEngine()
	pool := newTestPool(t, engine, 1)
	room := newTestRoom(t, pool, "42")
	require.NoError(t, room.Init(context.Background()))

	alice := newTestPeer(t, "alice")
	_, _, err := room.Participate(alice)
	require.NoError(t, err)

	closed := 0
	room.OnClose(func() { closed++ })
	room.Close()
	room.Close()

	assert.Equal(t, 1, closed)
	assert.True(t, alice.Closed())
	assert.True(t, engine.Routers()[0].Closed())

	late := 0
	room.OnClose(func() { late++ })
	assert.Equal(t, 1, late, "hooks registered after close run immediately")
}

func TestRoom_ActiveSpeaker(t *testing.T) {
	engine := testutil.NewEngine()
	pool := newTestPool(t, engine, 1)
	room := newTestRoom(t, pool, "42")
	require.NoError(t, room.Init(context.Background()))

	alice := newTestPeer(t, "alice")
	_, _, err := room.Participate(alice)
	require.NoError(t, err)

	tr, err := room.CreateTransport(context.Background(), "alice", domain.DirectionSend, testSettings)
	require.NoError(t, err)
	prod, err := room.CreateProducer(context.Background(), "alice", domain.SendRequest{
		TransportID: tr.ID, MediaType: domain.MediaVoice, Kind: domain.KindAudio, RtpParameters: audioParams(),
	})
	require.NoError(t, err)

	var speaker string
	var level int8
	room.OnActiveSpeaker(func(userID string, volume int8) { speaker, level = userID, volume })

	obs := engine.Routers()[0].Observer()
	require.NotNil(t, obs)
	assert.True(t, obs.Observes(prod.ID))
	obs.Emit([]ports.AudioVolume{{ProducerID: prod.ID, Volume: -20}})

	assert.Equal(t, "alice", speaker)
	assert.EqualValues(t, -20, level)
}
