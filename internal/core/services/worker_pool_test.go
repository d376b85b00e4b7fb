package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfucore/internal/core/domain"
	"sfucore/internal/testutil"
	apperrors "sfucore/pkg/errors"
)

func TestWorkerPool_InitializeStartsIdle(t *testing.T) {
	engine := testutil.NewEngine()
	pool := NewWorkerPool(engine, testLogger(t), nil, nil)
	require.NoError(t, pool.Initialize(context.Background(), 3))

	snap := pool.Snapshot()
	require.Len(t, snap, 3)
	for _, w := range snap {
		assert.Equal(t, domain.WorkerIdle, w.State)
	}
	assert.Equal(t, 3, pool.Counts()[domain.WorkerIdle])
}

func TestWorkerPool_InitializeFailureClosesCreated(t *testing.T) {
	engine := testutil.NewEngine()
	engine.FailWorkers = 1
	pool := NewWorkerPool(engine, testLogger(t), nil, nil)

	err := pool.Initialize(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEngineFailure))
	assert.Empty(t, pool.Snapshot())
	require.Len(t, engine.Workers(), 1)
	assert.True(t, engine.Workers()[0].Closed())
}

func TestWorkerPool_AcquireIdleDoesNotChangeState(t *testing.T) {
	pool := NewWorkerPool(testutil.NewEngine(), testLogger(t), nil, nil)
	require.NoError(t, pool.Initialize(context.Background(), 2))

	w1, err := pool.AcquireIdle()
	require.NoError(t, err)
	w2, err := pool.AcquireIdle()
	require.NoError(t, err)
	assert.NotEqual(t, w1.ID(), w2.ID(), "claimed workers are not handed out twice")
	assert.Equal(t, 2, pool.Counts()[domain.WorkerIdle])

	_, err = pool.AcquireIdle()
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceExhausted))

	pool.Release(w1)
	again, err := pool.AcquireIdle()
	require.NoError(t, err)
	assert.Equal(t, w1.ID(), again.ID())
}

func TestWorkerPool_RunningAndIdleTransitions(t *testing.T) {
	pool := NewWorkerPool(testutil.NewEngine(), testLogger(t), nil, nil)
	require.NoError(t, pool.Initialize(context.Background(), 1))

	w, err := pool.AcquireIdle()
	require.NoError(t, err)
	pool.MarkRunning(w)
	assert.Equal(t, 1, pool.Counts()[domain.WorkerRunning])

	_, err = pool.AcquireIdle()
	assert.Error(t, err, "a running worker is not idle")

	pool.MarkIdle(w)
	assert.Equal(t, 1, pool.Counts()[domain.WorkerIdle])
	_, err = pool.AcquireIdle()
	assert.NoError(t, err)
}

func TestWorkerPool_DeathIsFatal(t *testing.T) {
	engine := testutil.NewEngine()
	fatal := make(chan string, 1)
	pool := NewWorkerPool(engine, testLogger(t), nil, func(id string, err error) { fatal <- id })
	require.NoError(t, pool.Initialize(context.Background(), 2))

	dead := engine.Workers()[0]
	dead.Die(errors.New("segfault"))

	select {
	case id := <-fatal:
		assert.Equal(t, dead.ID(), id)
	case <-time.After(time.Second):
		t.Fatal("fatal handler not invoked")
	}
	assert.Equal(t, 1, pool.Counts()[domain.WorkerTerminated])

	w, err := pool.AcquireIdle()
	require.NoError(t, err)
	assert.NotEqual(t, dead.ID(), w.ID(), "terminated workers are never acquired")

	pool.MarkIdle(w)
	for _, info := range pool.Snapshot() {
		if info.ID == dead.ID() {
			assert.Equal(t, domain.WorkerTerminated, info.State)
		}
	}
}

func TestWorkerPool_DeathDuringCloseIsNotFatal(t *testing.T) {
	engine := testutil.NewEngine()
	called := false
	pool := NewWorkerPool(engine, testLogger(t), nil, func(string, error) { called = true })
	require.NoError(t, pool.Initialize(context.Background(), 1))

	pool.Close()
	engine.Workers()[0].Die(errors.New("closed"))
	assert.False(t, called)
}
