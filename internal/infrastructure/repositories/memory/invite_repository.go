package memory

import (
	"context"
	"sync"
	"time"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

type MemoryInviteRepository struct {
	invites map[string]domain.Invite
	mu      sync.Mutex
	now     func() time.Time
}

func NewMemoryInviteRepository() ports.InviteStore {
	return &MemoryInviteRepository{
		invites: make(map[string]domain.Invite),
		now:     time.Now,
	}
}

// Reserve stores inv unless its code is outstanding. Expired entries are
// treated as free.
func (r *MemoryInviteRepository) Reserve(ctx context.Context, inv domain.Invite, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.invites[inv.Code]; ok && now.Before(existing.ExpiresAt) {
		return false, nil
	}
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = now.Add(ttl)
	}
	r.invites[inv.Code] = inv
	r.sweep(now)
	return true, nil
}

func (r *MemoryInviteRepository) Redeem(ctx context.Context, code string) (*domain.Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invites[code]
	if !ok {
		return nil, nil
	}
	delete(r.invites, code)
	if !r.now().Before(inv.ExpiresAt) {
		return nil, nil
	}
	return &inv, nil
}

func (r *MemoryInviteRepository) RevokeRoom(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for code, inv := range r.invites {
		if inv.RoomID == roomID {
			delete(r.invites, code)
		}
	}
	return nil
}

func (r *MemoryInviteRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep(r.now())
	return len(r.invites), nil
}

// sweep must be called with mu held.
func (r *MemoryInviteRepository) sweep(now time.Time) {
	for code, inv := range r.invites {
		if !now.Before(inv.ExpiresAt) {
			delete(r.invites, code)
		}
	}
}
