package services

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	apperrors "sfucore/pkg/errors"
	"sfucore/pkg/utils"
)

// RoomFactory builds and initializes a room for id.
type RoomFactory func(ctx context.Context, id string) (*Room, error)

type roomEntry struct {
	room *Room // nil while the room is initializing
}

// DirectoryConfig holds the invite policy.
type DirectoryConfig struct {
	InviteTTL         time.Duration
	InviteMaxAttempts int
	InviteDigits      int
}

// Directory maps room ids to live rooms and owns the invite codes.
//
// Concurrent creations of the same id share one initialization; a
// placeholder entry makes lookups of a room still initializing fail with
// NotInitialized instead of NotFound.
type Directory struct {
	cfg      DirectoryConfig
	invites  ports.InviteStore
	registry ports.RoomRegistry
	logger   *zap.SugaredLogger
	metrics  ports.MetricsRecorder
	codeGen  func(digits int) (string, error)

	group singleflight.Group
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

// NewDirectory creates an empty directory. registry may be nil when the
// process runs alone.
func NewDirectory(cfg DirectoryConfig, invites ports.InviteStore, registry ports.RoomRegistry, logger *zap.SugaredLogger, metrics ports.MetricsRecorder) *Directory {
	if cfg.InviteDigits <= 0 {
		cfg.InviteDigits = 6
	}
	if cfg.InviteMaxAttempts <= 0 {
		cfg.InviteMaxAttempts = 32
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 10 * time.Minute
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Directory{
		cfg:      cfg,
		invites:  invites,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		codeGen:  utils.NumericCode,
		rooms:    make(map[string]*roomEntry),
	}
}

// Get returns the ready room for id.
func (d *Directory) Get(id string) (*Room, error) {
	d.mu.RLock()
	e, ok := d.rooms[id]
	d.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("room")
	}
	if e.room == nil {
		return nil, apperrors.NewNotInitializedError("room")
	}
	return e.room, nil
}

// GetOrCreate returns the room for id, building it with factory when it
// does not exist. created reports whether this call produced the room.
// A cancelled ctx abandons the wait but not the shared initialization.
func (d *Directory) GetOrCreate(ctx context.Context, id string, factory RoomFactory) (room *Room, created bool, err error) {
	d.mu.RLock()
	e, ok := d.rooms[id]
	d.mu.RUnlock()
	if ok && e.room != nil && e.room.State() == domain.RoomReady {
		return e.room, false, nil
	}

	initCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(id, func() (interface{}, error) {
		return d.create(initCtx, id, factory)
	})

	select {
	case <-ctx.Done():
		return nil, false, apperrors.WrapError(ctx.Err(), apperrors.ErrCodeTimeout, "waiting for room initialization", http.StatusGatewayTimeout)
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		room := res.Val.(*Room)
		return room, !res.Shared, nil
	}
}

func (d *Directory) create(ctx context.Context, id string, factory RoomFactory) (*Room, error) {
	d.mu.Lock()
	if e, ok := d.rooms[id]; ok && e.room != nil && e.room.State() == domain.RoomReady {
		d.mu.Unlock()
		return e.room, nil
	}
	stale := d.rooms[id]
	placeholder := &roomEntry{}
	d.rooms[id] = placeholder
	d.mu.Unlock()

	// A room still running its close hooks no longer owns id, so its
	// own removal will skip the revoke. Its invites must not admit anyone
	// into the replacement.
	if stale != nil && stale.room != nil {
		d.revokeInvites(id)
	}

	fail := func(err error) (*Room, error) {
		d.mu.Lock()
		if d.rooms[id] == placeholder {
			delete(d.rooms, id)
		}
		d.mu.Unlock()
		return nil, err
	}

	if d.registry != nil {
		owner, ok, err := d.registry.Claim(ctx, id)
		if err != nil {
			return fail(apperrors.WrapError(err, apperrors.ErrCodeInternal, "room registry unavailable", http.StatusInternalServerError))
		}
		if !ok {
			return fail(apperrors.NewConflictError("room is hosted by instance " + owner))
		}
	}

	room, err := factory(ctx, id)
	if err != nil {
		d.releaseClaim(id)
		return fail(err)
	}

	d.mu.Lock()
	if d.rooms[id] != placeholder {
		d.mu.Unlock()
		room.Close()
		d.releaseClaim(id)
		return nil, apperrors.NewConflictError("room replaced during initialization")
	}
	placeholder.room = room
	d.mu.Unlock()

	room.OnClose(func() { d.remove(id, room) })
	d.logger.Infow("room registered", "room_id", id)
	return room, nil
}

func (d *Directory) releaseClaim(id string) {
	if d.registry == nil {
		return
	}
	if err := d.registry.Release(context.Background(), id); err != nil {
		d.logger.Warnw("failed to release room claim", "room_id", id, "error", err)
	}
}

// remove drops id only while it still maps to room, then revokes the
// room's outstanding invites.
func (d *Directory) remove(id string, room *Room) {
	d.mu.Lock()
	e, ok := d.rooms[id]
	if !ok || e.room != room {
		d.mu.Unlock()
		return
	}
	delete(d.rooms, id)
	d.mu.Unlock()

	d.releaseClaim(id)
	d.revokeInvites(id)
	d.logger.Infow("room removed", "room_id", id)
}

func (d *Directory) revokeInvites(id string) {
	if d.invites == nil {
		return
	}
	if err := d.invites.RevokeRoom(context.Background(), id); err != nil {
		d.logger.Warnw("failed to revoke invites", "room_id", id, "error", err)
	}
}

// Rooms returns the ready rooms ordered by id.
func (d *Directory) Rooms() []*Room {
	d.mu.RLock()
	out := make([]*Room, 0, len(d.rooms))
	for _, e := range d.rooms {
		if e.room != nil && e.room.State() == domain.RoomReady {
			out = append(out, e.room)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// List returns a view of the ready rooms.
func (d *Directory) List() []domain.RoomInfo {
	rooms := d.Rooms()
	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	return out
}

// IssueInvite reserves a fresh numeric code bound to roomID and userID.
// Codes are retried on collision up to the configured attempt limit.
func (d *Directory) IssueInvite(ctx context.Context, roomID, userID string) (string, error) {
	now := time.Now()
	for attempt := 0; attempt < d.cfg.InviteMaxAttempts; attempt++ {
		code, err := d.codeGen(d.cfg.InviteDigits)
		if err != nil {
			return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to generate invite code", http.StatusInternalServerError)
		}
		inv := domain.Invite{
			Code:      code,
			RoomID:    roomID,
			UserID:    userID,
			IssuedAt:  now,
			ExpiresAt: now.Add(d.cfg.InviteTTL),
		}
		ok, err := d.invites.Reserve(ctx, inv, d.cfg.InviteTTL)
		if err != nil {
			return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "invite store unavailable", http.StatusInternalServerError)
		}
		if ok {
			d.metrics.Invite("issued")
			return code, nil
		}
		d.logger.Debugw("invite code collision", "attempt", attempt+1)
	}
	d.metrics.Invite("exhausted")
	return "", apperrors.NewResourceExhaustedError("no free invite code")
}

// RedeemInvite consumes code. Unknown, used and expired codes are NotFound.
func (d *Directory) RedeemInvite(ctx context.Context, code string) (*domain.Invite, error) {
	inv, err := d.invites.Redeem(ctx, code)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "invite store unavailable", http.StatusInternalServerError)
	}
	if inv == nil || time.Now().After(inv.ExpiresAt) {
		d.metrics.Invite("rejected")
		return nil, apperrors.NewNotFoundError("invite")
	}
	d.metrics.Invite("redeemed")
	return inv, nil
}

// CloseAll closes every room.
func (d *Directory) CloseAll() {
	for _, r := range d.Rooms() {
		r.Close()
	}
}
