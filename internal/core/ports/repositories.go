package ports

import (
	"context"
	"time"

	"sfucore/internal/core/domain"
)

// InviteStore keeps outstanding invite codes.
type InviteStore interface {
	// Reserve stores inv only if its code is not outstanding. It reports
	// false on collision.
	Reserve(ctx context.Context, inv domain.Invite, ttl time.Duration) (bool, error)
	// Redeem atomically removes and returns the invite, or nil when the
	// code is unknown, used or expired.
	Redeem(ctx context.Context, code string) (*domain.Invite, error)
	// RevokeRoom drops every outstanding code of a closed room.
	RevokeRoom(ctx context.Context, roomID string) error
	Count(ctx context.Context) (int, error)
}

// RoomRegistry records which instance hosts a room.
type RoomRegistry interface {
	// Claim takes ownership of roomID for this instance. When another
	// instance holds it, ok is false and owner names the holder.
	Claim(ctx context.Context, roomID string) (owner string, ok bool, err error)
	Release(ctx context.Context, roomID string) error
	Owner(ctx context.Context, roomID string) (string, error)
}

// EventPublisher forwards room events beyond this process.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RoomEvent) error
}
