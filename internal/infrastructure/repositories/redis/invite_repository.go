package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	invitePrefix     = "sfucore:invite:"
	roomInvitePrefix = "sfucore:room-invites:"
)

// RedisInviteRepository shares invite codes between instances. Codes are
// reserved with SET NX and redeemed with GETDEL, so a code admits exactly
// one device cluster-wide.
type RedisInviteRepository struct {
	client *redis.Client
}

func NewRedisInviteRepository(client *redis.Client) ports.InviteStore {
	return &RedisInviteRepository{client: client}
}

func (r *RedisInviteRepository) inviteKey(code string) string {
	return invitePrefix + code
}

func (r *RedisInviteRepository) roomKey(roomID string) string {
	return roomInvitePrefix + roomID
}

func (r *RedisInviteRepository) Reserve(ctx context.Context, inv domain.Invite, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return false, fmt.Errorf("failed to marshal invite: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.inviteKey(inv.Code), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve invite in Redis: %w", err)
	}
	if !ok {
		return false, nil
	}

	// The per-room index only serves revocation; it may outlive its codes.
	// A code missing from the index could not be revoked, so it is dropped.
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.roomKey(inv.RoomID), inv.Code)
	pipe.Expire(ctx, r.roomKey(inv.RoomID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		if delErr := r.client.Del(context.WithoutCancel(ctx), r.inviteKey(inv.Code)).Err(); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return false, fmt.Errorf("failed to index invite: %w", err)
	}
	return true, nil
}

func (r *RedisInviteRepository) Redeem(ctx context.Context, code string) (*domain.Invite, error) {
	data, err := r.client.GetDel(ctx, r.inviteKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem invite from Redis: %w", err)
	}

	var inv domain.Invite
	if err := json.Unmarshal([]byte(data), &inv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invite: %w", err)
	}
	r.client.SRem(ctx, r.roomKey(inv.RoomID), code)
	return &inv, nil
}

func (r *RedisInviteRepository) RevokeRoom(ctx context.Context, roomID string) error {
	codes, err := r.client.SMembers(ctx, r.roomKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list room invites: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, code := range codes {
		pipe.Del(ctx, r.inviteKey(code))
	}
	pipe.Del(ctx, r.roomKey(roomID))
	_, err = pipe.Exec(ctx)
	return err
}

// Count scans for outstanding codes. Meant for diagnostics only.
func (r *RedisInviteRepository) Count(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, invitePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan invites: %w", err)
	}
	return n, nil
}
