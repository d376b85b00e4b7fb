package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfucore/internal/core/domain"
)

func newInvite(code, roomID string, now time.Time, ttl time.Duration) domain.Invite {
	return domain.Invite{Code: code, RoomID: roomID, UserID: "alice", IssuedAt: now, ExpiresAt: now.Add(ttl)}
}

func TestMemoryInviteRepository_ReserveAndRedeemOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryInviteRepository()
	now := time.Now()

	ok, err := repo.Reserve(ctx, newInvite("123456", "7", now, time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Reserve(ctx, newInvite("123456", "8", now, time.Minute), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "outstanding code must not be reserved twice")

	inv, err := repo.Redeem(ctx, "123456")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "7", inv.RoomID)

	inv, err = repo.Redeem(ctx, "123456")
	require.NoError(t, err)
	assert.Nil(t, inv, "second redemption must fail")
}

func TestMemoryInviteRepository_Expiry(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryInviteRepository().(*MemoryInviteRepository)
	now := time.Now()
	repo.now = func() time.Time { return now }

	_, err := repo.Reserve(ctx, newInvite("000001", "7", now, time.Minute), time.Minute)
	require.NoError(t, err)

	repo.now = func() time.Time { return now.Add(2 * time.Minute) }

	ok, err := repo.Reserve(ctx, newInvite("000001", "9", now.Add(2*time.Minute), time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired code is free again")

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryInviteRepository_RevokeRoom(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryInviteRepository()
	now := time.Now()

	for _, inv := range []domain.Invite{
		newInvite("111111", "7", now, time.Minute),
		newInvite("222222", "7", now, time.Minute),
		newInvite("333333", "8", now, time.Minute),
	} {
		_, err := repo.Reserve(ctx, inv, time.Minute)
		require.NoError(t, err)
	}

	require.NoError(t, repo.RevokeRoom(ctx, "7"))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	inv, err := repo.Redeem(ctx, "111111")
	require.NoError(t, err)
	assert.Nil(t, inv)
}
