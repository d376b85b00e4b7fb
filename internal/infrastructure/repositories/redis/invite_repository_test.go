package redis

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfucore/internal/core/domain"
)

var errIndexDown = errors.New("index unavailable")

// scriptedHook answers single commands in process and fails every
// pipeline, recording the keys deleted along the way.
type scriptedHook struct {
	mu      sync.Mutex
	deleted []string
}

func (h *scriptedHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("no server in tests")
	}
}

func (h *scriptedHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			c.SetVal(true)
		case *redis.IntCmd:
			if cmd.Name() == "del" {
				h.mu.Lock()
				for _, arg := range cmd.Args()[1:] {
					h.deleted = append(h.deleted, arg.(string))
				}
				h.mu.Unlock()
			}
			c.SetVal(1)
		}
		return nil
	}
}

func (h *scriptedHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		return errIndexDown
	}
}

func TestRedisInviteRepository_ReserveDropsUnindexedCode(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { client.Close() })
	hook := &scriptedHook{}
	client.AddHook(hook)

	repo := NewRedisInviteRepository(client)
	ok, err := repo.Reserve(context.Background(), domain.Invite{Code: "123456", RoomID: "7", UserID: "alice"}, time.Minute)

	require.Error(t, err)
	assert.ErrorIs(t, err, errIndexDown)
	assert.False(t, ok, "a code that cannot be revoked is not handed out")
	assert.Equal(t, []string{"sfucore:invite:123456"}, hook.deleted)
}
