package distributed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sfucore/internal/core/ports"
	"sfucore/pkg/distributed"
)

const roomKeyPrefix = "sfucore:room:"

// RoomRegistry records which instance hosts each room, so two instances
// never open the same room. Each claim is a renewed Redis lease.
type RoomRegistry struct {
	client     redis.UniversalClient
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	leases map[string]*distributed.Lease
	onLost func(roomID string)
}

var _ ports.RoomRegistry = (*RoomRegistry)(nil)

func NewRoomRegistry(client redis.UniversalClient, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *RoomRegistry {
	return &RoomRegistry{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
		leases:     make(map[string]*distributed.Lease),
	}
}

// OnLost registers fn to run when this instance loses a room it claimed.
func (r *RoomRegistry) OnLost(fn func(roomID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLost = fn
}

func (r *RoomRegistry) Claim(ctx context.Context, roomID string) (string, bool, error) {
	r.mu.Lock()
	lease, ok := r.leases[roomID]
	if !ok {
		lease = distributed.NewLease(r.client, roomKeyPrefix+roomID, r.instanceID, r.ttl)
		lease.OnLost(func() { r.lost(roomID, lease) })
		r.leases[roomID] = lease
	}
	r.mu.Unlock()

	acquired, holder, err := lease.TryAcquire(ctx)
	if err != nil || !acquired {
		r.forget(roomID, lease)
		if err != nil {
			return "", false, err
		}
		return holder, false, nil
	}
	r.logger.Debugw("room claimed", "room_id", roomID, "instance_id", r.instanceID)
	return r.instanceID, true, nil
}

func (r *RoomRegistry) Release(ctx context.Context, roomID string) error {
	r.mu.Lock()
	lease, ok := r.leases[roomID]
	delete(r.leases, roomID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := lease.Release(ctx); err != nil {
		return fmt.Errorf("release room %s: %w", roomID, err)
	}
	return nil
}

func (r *RoomRegistry) Owner(ctx context.Context, roomID string) (string, error) {
	return distributed.Holder(ctx, r.client, roomKeyPrefix+roomID)
}

func (r *RoomRegistry) forget(roomID string, lease *distributed.Lease) {
	r.mu.Lock()
	if r.leases[roomID] == lease {
		delete(r.leases, roomID)
	}
	r.mu.Unlock()
}

func (r *RoomRegistry) lost(roomID string, lease *distributed.Lease) {
	r.forget(roomID, lease)
	r.logger.Warnw("room lease lost", "room_id", roomID, "instance_id", r.instanceID)

	r.mu.Lock()
	fn := r.onLost
	r.mu.Unlock()
	if fn != nil {
		fn(roomID)
	}
}
