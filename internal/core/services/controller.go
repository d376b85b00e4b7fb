package services

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	apperrors "sfucore/pkg/errors"
	"sfucore/pkg/tracing"
	"sfucore/pkg/validation"
)

// ControllerConfig carries the settings every room and transport shares.
type ControllerConfig struct {
	WebRtc            domain.WebRtcSettings
	Room              RoomOptions
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	// MaxConnectWait caps how long ConnectTransport may block.
	MaxConnectWait time.Duration
}

// Controller implements ports.Controller. Every operation validates its
// input, authenticates the caller, resolves the room and peer, performs
// the change and then notifies the other room members.
type Controller struct {
	cfg         ControllerConfig
	dir         *Directory
	pool        *WorkerPool
	identity    ports.IdentityProvider
	broadcaster ports.Broadcaster
	publisher   ports.EventPublisher
	metrics     ports.MetricsRecorder
	logger      *zap.SugaredLogger
	now         func() time.Time
}

var _ ports.Controller = (*Controller)(nil)

func NewController(
	cfg ControllerConfig,
	dir *Directory,
	pool *WorkerPool,
	identity ports.IdentityProvider,
	broadcaster ports.Broadcaster,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *Controller {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.MaxConnectWait <= 0 {
		cfg.MaxConnectWait = 10 * time.Second
	}
	return &Controller{
		cfg:         cfg,
		dir:         dir,
		pool:        pool,
		identity:    identity,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// SetPublisher forwards every broadcast event to pub as well.
func (c *Controller) SetPublisher(pub ports.EventPublisher) {
	c.publisher = pub
}

func (c *Controller) Directory() *Directory { return c.dir }

func (c *Controller) begin(ctx context.Context, op, roomID, userID string) (context.Context, func(*error)) {
	ctx, span := tracing.TraceController(ctx, op, roomID, userID)
	start := time.Now()
	return ctx, func(errp *error) {
		code := "OK"
		if err := *errp; err != nil {
			code = string(apperrors.CodeOf(err))
			tracing.RecordError(ctx, err)
			tracing.AddSpanAttributes(ctx, tracing.ErrorCodeKey.String(code))
			c.logger.Debugw("controller operation failed",
				"op", op, "room_id", roomID, "user_id", userID, "code", code, "error", err)
		}
		span.End()
		c.metrics.ControllerOp(op, code, time.Since(start))
	}
}

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.NewInvalidInputError(err.Error())
}

func validateCaller(caller domain.Caller) error {
	if err := validation.ValidateRoomID(caller.RoomID); err != nil {
		return invalid(err)
	}
	if err := validation.ValidateUserID(caller.UserID); err != nil {
		return invalid(err)
	}
	return invalid(validation.ValidateToken(caller.Token))
}

// authenticate checks the caller's token. A secondary device presents
// either the inviting user's token or a token issued to the device itself.
func (c *Controller) authenticate(ctx context.Context, roomID, userID, token string) error {
	var device *Peer
	if room, err := c.dir.Get(roomID); err == nil {
		if p, ok := room.Peer(userID); ok && p.OwnerID() != userID {
			device = p
		}
	}
	if device == nil {
		return c.checkToken(ctx, userID, token)
	}
	err := c.checkToken(ctx, device.OwnerID(), token)
	if apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) && !hasCause(err) {
		return c.checkToken(ctx, userID, token)
	}
	return err
}

// hasCause reports whether err wraps a provider failure rather than a
// plain negative answer.
func hasCause(err error) bool {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr.Unwrap() != nil
	}
	return false
}

func (c *Controller) checkToken(ctx context.Context, userID, token string) error {
	ok, err := c.identity.Authenticate(ctx, userID, token)
	if err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		return apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "identity check failed", http.StatusUnauthorized)
	}
	if !ok {
		return apperrors.NewUnauthorizedError("invalid token")
	}
	return nil
}

func (c *Controller) authorizeAdmin(ctx context.Context, admin domain.Caller) error {
	if err := c.authenticate(ctx, admin.RoomID, admin.UserID, admin.Token); err != nil {
		return err
	}
	ok, err := c.identity.HasPermission(ctx, admin.UserID, admin.Token, admin.RoomID)
	if err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		return apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "identity check failed", http.StatusUnauthorized)
	}
	if !ok {
		return apperrors.NewUnauthorizedError("admin permission required")
	}
	return nil
}

// resolve validates and authenticates caller and returns its room and peer.
func (c *Controller) resolve(ctx context.Context, caller domain.Caller) (*Room, *Peer, error) {
	if err := validateCaller(caller); err != nil {
		return nil, nil, err
	}
	if err := c.authenticate(ctx, caller.RoomID, caller.UserID, caller.Token); err != nil {
		return nil, nil, err
	}
	room, err := c.dir.Get(caller.RoomID)
	if err != nil {
		return nil, nil, err
	}
	peer, ok := room.Peer(caller.UserID)
	if !ok {
		return nil, nil, apperrors.NewNotFoundError("peer")
	}
	peer.Touch(c.now())
	return room, peer, nil
}

func (c *Controller) broadcast(ctx context.Context, recipients []string, event domain.RoomEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	if c.broadcaster != nil && len(recipients) > 0 {
		c.broadcaster.Broadcast(ctx, recipients, event)
	}
	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, event); err != nil {
			c.logger.Warnw("failed to publish room event", "event", event.Type, "room_id", event.RoomID, "error", err)
		}
	}
}

// buildRoom is the directory factory: it resolves the channel, claims a
// worker and initializes the room.
func (c *Controller) buildRoom(ctx context.Context, id string) (*Room, error) {
	channel, err := c.identity.ResolveChannel(ctx, id)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "identity provider unavailable", http.StatusServiceUnavailable)
	}
	if channel == nil {
		return nil, apperrors.NewNotFoundError("channel")
	}

	opts := c.cfg.Room
	opts.Channel = channel
	room, err := NewRoom(id, c.pool, opts, c.logger, c.metrics)
	if err != nil {
		return nil, err
	}
	room.OnActiveSpeaker(func(userID string, volume int8) {
		c.broadcast(context.Background(), room.Members(), domain.RoomEvent{
			Type:   domain.EventActiveSpeaker,
			RoomID: id,
			UserID: userID,
			Volume: volume,
		})
	})
	if err := room.Init(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

// admit places peer into the room for roomID, creating the room when
// needed. A room that closes between lookup and admission is retried once.
func (c *Controller) admit(ctx context.Context, roomID string, newPeer func() *Peer) (*Room, *Peer, bool, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		room, _, err := c.dir.GetOrCreate(ctx, roomID, c.buildRoom)
		if err != nil {
			return nil, nil, false, err
		}
		member, added, err := room.Participate(newPeer())
		if err == nil {
			return room, member, added, nil
		}
		lastErr = err
	}
	return nil, nil, false, lastErr
}

func (c *Controller) joinResult(room *Room, userID string) (*domain.JoinResult, error) {
	caps, err := room.RtpCapabilities()
	if err != nil {
		return nil, err
	}
	return &domain.JoinResult{RoomID: room.ID(), UserID: userID, RtpCapabilities: caps}, nil
}

func (c *Controller) Join(ctx context.Context, caller domain.Caller) (result *domain.JoinResult, err error) {
	ctx, done := c.begin(ctx, "join", caller.RoomID, caller.UserID)
	defer done(&err)

	if err := validateCaller(caller); err != nil {
		return nil, err
	}
	if err := validation.ValidatePrimaryUserID(caller.UserID); err != nil {
		return nil, invalid(err)
	}
	if err := c.checkToken(ctx, caller.UserID, caller.Token); err != nil {
		return nil, err
	}

	room, peer, added, err := c.admit(ctx, caller.RoomID, func() *Peer {
		return NewPeer(caller.UserID, domain.PeerPrimary, caller.UserID, c.logger, c.metrics)
	})
	if err != nil {
		return nil, err
	}
	peer.Touch(c.now())

	if added {
		c.broadcast(ctx, room.Members(caller.UserID), domain.RoomEvent{
			Type:   domain.EventPeerJoined,
			RoomID: room.ID(),
			UserID: caller.UserID,
			Class:  domain.PeerPrimary,
		})
	}
	return c.joinResult(room, caller.UserID)
}

func (c *Controller) Leave(ctx context.Context, caller domain.Caller) (ok bool, err error) {
	ctx, done := c.begin(ctx, "leave", caller.RoomID, caller.UserID)
	defer done(&err)

	room, peer, err := c.resolve(ctx, caller)
	if err != nil {
		return false, err
	}
	c.evict(ctx, room, peer, "left")
	return true, nil
}

// evict closes peer and tells the remaining members.
func (c *Controller) evict(ctx context.Context, room *Room, peer *Peer, reason string) {
	recipients := room.Members(peer.UserID())
	peer.Close()
	c.broadcast(ctx, recipients, domain.RoomEvent{
		Type:   domain.EventPeerLeft,
		RoomID: room.ID(),
		UserID: peer.UserID(),
		Class:  peer.Class(),
		Reason: reason,
	})
}

func (c *Controller) CreateTransport(ctx context.Context, caller domain.Caller, direction domain.Direction) (info *domain.TransportInfo, err error) {
	ctx, done := c.begin(ctx, "create_transport", caller.RoomID, caller.UserID)
	defer done(&err)

	if _, err := domain.ParseDirection(string(direction)); err != nil {
		return nil, invalid(err)
	}
	room, peer, err := c.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	return room.CreateTransport(ctx, peer.UserID(), direction, c.cfg.WebRtc)
}

func (c *Controller) ConnectTransport(ctx context.Context, caller domain.Caller, transportID string, params domain.ConnectParams, wait time.Duration) (ok bool, err error) {
	ctx, done := c.begin(ctx, "connect_transport", caller.RoomID, caller.UserID)
	defer done(&err)

	if err := validation.ValidateObjectID("transport", transportID); err != nil {
		return false, invalid(err)
	}
	if wait < 0 {
		return false, apperrors.NewInvalidInputError("wait must not be negative")
	}
	_, peer, err := c.resolve(ctx, caller)
	if err != nil {
		return false, err
	}
	tracing.AddSpanAttributes(ctx, tracing.TransportIDKey.String(transportID))

	if err := peer.ConnectTransport(ctx, transportID, params); err != nil {
		return false, err
	}
	if wait == 0 {
		return true, nil
	}
	if wait > c.cfg.MaxConnectWait {
		wait = c.cfg.MaxConnectWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := peer.AwaitConnected(waitCtx, transportID); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) CloseTransport(ctx context.Context, caller domain.Caller, transportID string) (ok bool, err error) {
	ctx, done := c.begin(ctx, "close_transport", caller.RoomID, caller.UserID)
	defer done(&err)

	if err := validation.ValidateObjectID("transport", transportID); err != nil {
		return false, invalid(err)
	}
	_, peer, err := c.resolve(ctx, caller)
	if err != nil {
		return false, err
	}
	if err := peer.CloseTransport(transportID); err != nil {
		return false, err
	}
	return true, nil
}

func validateTag(mediaType domain.MediaType, kind domain.MediaKind) error {
	if _, err := domain.ParseMediaType(string(mediaType)); err != nil {
		return invalid(err)
	}
	if _, err := domain.ParseMediaKind(string(kind)); err != nil {
		return invalid(err)
	}
	return nil
}

func (c *Controller) Send(ctx context.Context, caller domain.Caller, req domain.SendRequest) (info *domain.ProducerInfo, err error) {
	ctx, done := c.begin(ctx, "send", caller.RoomID, caller.UserID)
	defer done(&err)

	if err := validation.ValidateObjectID("transport", req.TransportID); err != nil {
		return nil, invalid(err)
	}
	if err := validateTag(req.MediaType, req.Kind); err != nil {
		return nil, err
	}
	room, peer, err := c.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx,
		tracing.TransportIDKey.String(req.TransportID),
		tracing.MediaTypeKey.String(string(req.MediaType)),
		tracing.MediaKindKey.String(string(req.Kind)),
	)

	info, err = room.CreateProducer(ctx, peer.UserID(), req)
	if err != nil {
		return nil, err
	}
	c.broadcast(ctx, room.Members(peer.UserID()), domain.RoomEvent{
		Type:      domain.EventProducerStarted,
		RoomID:    room.ID(),
		UserID:    peer.UserID(),
		Class:     peer.Class(),
		MediaType: req.MediaType,
		Kind:      req.Kind,
	})
	return info, nil
}

func (c *Controller) Receive(ctx context.Context, caller domain.Caller, req domain.ReceiveRequest) (info *domain.ConsumerInfo, err error) {
	ctx, done := c.begin(ctx, "receive", caller.RoomID, caller.UserID)
	defer done(&err)

	if err := validation.ValidateObjectID("transport", req.TransportID); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateUserID(req.RemoteUserID); err != nil {
		return nil, invalid(err)
	}
	if err := validateTag(req.MediaType, req.Kind); err != nil {
		return nil, err
	}
	room, peer, err := c.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx,
		tracing.TransportIDKey.String(req.TransportID),
		tracing.MediaTypeKey.String(string(req.MediaType)),
		tracing.MediaKindKey.String(string(req.Kind)),
	)

	tag := domain.ConsumerTag{RemoteUserID: req.RemoteUserID, MediaType: req.MediaType, Kind: req.Kind}
	producer, err := room.FindProducer(req.RemoteUserID, tag.Producer())
	if err != nil {
		return nil, err
	}
	can, err := room.CanConsume(producer.ID(), req.RtpCapabilities)
	if err != nil {
		return nil, err
	}
	if !can {
		return nil, engineError(domain.ErrCannotConsume, "consume")
	}
	if producer.Closed() {
		return nil, apperrors.NewNotFoundError("producer")
	}
	return room.CreateConsumer(ctx, peer.UserID(), req.TransportID, tag, producer, req.RtpCapabilities)
}

// objectOp resolves the caller and applies fn to one of its producers or
// consumers.
func (c *Controller) objectOp(ctx context.Context, op, kind string, caller domain.Caller, id string, fn func(*Peer, string) error) (ok bool, err error) {
	ctx, done := c.begin(ctx, op, caller.RoomID, caller.UserID)
	defer done(&err)

	if err := validation.ValidateObjectID(kind, id); err != nil {
		return false, invalid(err)
	}
	_, peer, err := c.resolve(ctx, caller)
	if err != nil {
		return false, err
	}
	if err := fn(peer, id); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) PauseProducer(ctx context.Context, caller domain.Caller, producerID string) (bool, error) {
	return c.objectOp(ctx, "pause_producer", "producer", caller, producerID, (*Peer).PauseProducer)
}

func (c *Controller) ResumeProducer(ctx context.Context, caller domain.Caller, producerID string) (bool, error) {
	return c.objectOp(ctx, "resume_producer", "producer", caller, producerID, (*Peer).ResumeProducer)
}

func (c *Controller) CloseProducer(ctx context.Context, caller domain.Caller, producerID string) (bool, error) {
	return c.objectOp(ctx, "close_producer", "producer", caller, producerID, (*Peer).CloseProducer)
}

func (c *Controller) PauseConsumer(ctx context.Context, caller domain.Caller, consumerID string) (bool, error) {
	return c.objectOp(ctx, "pause_consumer", "consumer", caller, consumerID, (*Peer).PauseConsumer)
}

func (c *Controller) ResumeConsumer(ctx context.Context, caller domain.Caller, consumerID string) (bool, error) {
	return c.objectOp(ctx, "resume_consumer", "consumer", caller, consumerID, (*Peer).ResumeConsumer)
}

func (c *Controller) CloseConsumer(ctx context.Context, caller domain.Caller, consumerID string) (bool, error) {
	return c.objectOp(ctx, "close_consumer", "consumer", caller, consumerID, (*Peer).CloseConsumer)
}

// InvitePhone issues a one-time code that admits a secondary device for
// the caller into the caller's room.
func (c *Controller) InvitePhone(ctx context.Context, caller domain.Caller) (code string, err error) {
	ctx, done := c.begin(ctx, "invite_phone", caller.RoomID, caller.UserID)
	defer done(&err)

	room, peer, err := c.resolve(ctx, caller)
	if err != nil {
		return "", err
	}
	return c.dir.IssueInvite(ctx, room.ID(), peer.UserID())
}

// DeviceID is the peer key of ownerID's secondary device named label. The
// owner prefix keeps device ids out of every other user's namespace.
func DeviceID(ownerID, label string) string {
	return ownerID + "#" + label
}

// SecondaryDeviceID is the peer key used when a device accepts an invite
// without naming itself.
func SecondaryDeviceID(userID string) string {
	return DeviceID(userID, "secondary")
}

// AcceptInvite redeems code and admits a secondary peer owned by the
// inviting user under DeviceID(owner, label). The code is the credential;
// when the identity provider can issue device tokens the result carries one.
func (c *Controller) AcceptInvite(ctx context.Context, code, label string) (result *domain.JoinResult, err error) {
	ctx, done := c.begin(ctx, "accept_invite", "", label)
	defer done(&err)

	if err := validation.ValidateInviteCode(code); err != nil {
		return nil, invalid(err)
	}
	if label != "" {
		if err := validation.ValidateDeviceLabel(label); err != nil {
			return nil, invalid(err)
		}
	}

	inv, err := c.dir.RedeemInvite(ctx, code)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.RoomIDKey.String(inv.RoomID))

	room, err := c.dir.Get(inv.RoomID)
	if err != nil {
		return nil, err
	}
	deviceID := SecondaryDeviceID(inv.UserID)
	if label != "" {
		deviceID = DeviceID(inv.UserID, label)
	}
	peer, added, err := room.Participate(NewPeer(deviceID, domain.PeerSecondary, inv.UserID, c.logger, c.metrics))
	if err != nil {
		return nil, err
	}
	if !added && peer.OwnerID() != inv.UserID {
		return nil, apperrors.NewConflictError("device id already in use")
	}
	peer.Touch(c.now())

	if added {
		c.broadcast(ctx, room.Members(deviceID), domain.RoomEvent{
			Type:   domain.EventPeerJoined,
			RoomID: room.ID(),
			UserID: deviceID,
			Class:  domain.PeerSecondary,
		})
	}
	result, err = c.joinResult(room, deviceID)
	if err != nil {
		return nil, err
	}
	if issuer, ok := c.identity.(ports.DeviceTokenIssuer); ok {
		token, err := issuer.IssueDeviceToken(ctx, deviceID)
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "device token", http.StatusInternalServerError)
		}
		result.Token = token
	}
	return result, nil
}

// Kick removes victimID from the admin's room.
func (c *Controller) Kick(ctx context.Context, admin domain.Caller, victimID string) (ok bool, err error) {
	ctx, done := c.begin(ctx, "kick", admin.RoomID, admin.UserID)
	defer done(&err)

	room, victim, err := c.resolveVictim(ctx, admin, victimID)
	if err != nil {
		return false, err
	}
	recipients := room.Members(victimID)
	if !room.Disconnect(victimID) {
		return false, apperrors.NewNotFoundError("peer")
	}
	c.broadcast(ctx, append(recipients, victimID), domain.RoomEvent{
		Type:   domain.EventPeerLeft,
		RoomID: room.ID(),
		UserID: victimID,
		Class:  victim.Class(),
		Reason: "kicked",
	})
	return true, nil
}

func (c *Controller) resolveVictim(ctx context.Context, admin domain.Caller, victimID string) (*Room, *Peer, error) {
	if err := validateCaller(admin); err != nil {
		return nil, nil, err
	}
	if err := validation.ValidateUserID(victimID); err != nil {
		return nil, nil, invalid(err)
	}
	if err := c.authorizeAdmin(ctx, admin); err != nil {
		return nil, nil, err
	}
	room, err := c.dir.Get(admin.RoomID)
	if err != nil {
		return nil, nil, err
	}
	victim, ok := room.Peer(victimID)
	if !ok {
		return nil, nil, apperrors.NewNotFoundError("peer")
	}
	return room, victim, nil
}

// Mute pauses the victim's producers carrying tag.
func (c *Controller) Mute(ctx context.Context, admin domain.Caller, victimID string, tag domain.ProducerTag) (bool, error) {
	return c.setMuted(ctx, "mute", admin, victimID, tag, true)
}

// Unmute resumes the victim's producers carrying tag.
func (c *Controller) Unmute(ctx context.Context, admin domain.Caller, victimID string, tag domain.ProducerTag) (bool, error) {
	return c.setMuted(ctx, "unmute", admin, victimID, tag, false)
}

func (c *Controller) setMuted(ctx context.Context, op string, admin domain.Caller, victimID string, tag domain.ProducerTag, muted bool) (ok bool, err error) {
	ctx, done := c.begin(ctx, op, admin.RoomID, admin.UserID)
	defer done(&err)

	if err := validateTag(tag.MediaType, tag.Kind); err != nil {
		return false, err
	}
	_, victim, err := c.resolveVictim(ctx, admin, victimID)
	if err != nil {
		return false, err
	}
	ids := victim.ProducersByTag(tag)
	if len(ids) == 0 {
		return false, apperrors.NewNotFoundError("producer")
	}
	for _, id := range ids {
		if muted {
			err = victim.PauseProducer(id)
		} else {
			err = victim.ResumeProducer(id)
		}
		if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return false, err
		}
	}
	return true, nil
}

func (c *Controller) UserList(ctx context.Context, caller domain.Caller) (peers []domain.PeerInfo, err error) {
	ctx, done := c.begin(ctx, "user_list", caller.RoomID, caller.UserID)
	defer done(&err)

	room, _, err := c.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	for _, p := range room.Peers() {
		peers = append(peers, p.Info())
	}
	return peers, nil
}

func (c *Controller) RoomList(ctx context.Context, userID, token string) (rooms []domain.RoomInfo, err error) {
	ctx, done := c.begin(ctx, "room_list", "", userID)
	defer done(&err)

	if err := validation.ValidateUserID(userID); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateToken(token); err != nil {
		return nil, invalid(err)
	}
	if err := c.checkToken(ctx, userID, token); err != nil {
		return nil, err
	}
	return c.dir.List(), nil
}

// Heartbeat refreshes liveness of every peer userID owns, in any room.
func (c *Controller) Heartbeat(ctx context.Context, userID, token string) (result *domain.HeartbeatResult, err error) {
	ctx, done := c.begin(ctx, "heartbeat", "", userID)
	defer done(&err)

	if err := validation.ValidateUserID(userID); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateToken(token); err != nil {
		return nil, invalid(err)
	}
	if err := c.checkToken(ctx, userID, token); err != nil {
		return nil, err
	}

	now := c.now()
	touched := 0
	for _, room := range c.dir.Rooms() {
		for _, p := range room.Peers() {
			if p.OwnerID() == userID {
				p.Touch(now)
				touched++
			}
		}
	}
	return &domain.HeartbeatResult{Interval: c.cfg.HeartbeatInterval, Peers: touched}, nil
}

func (c *Controller) Touch(roomID, userID string) {
	room, err := c.dir.Get(roomID)
	if err != nil {
		return
	}
	if p, ok := room.Peer(userID); ok {
		p.Touch(c.now())
	}
}

// EvictStale removes peers not seen within the heartbeat timeout and
// returns how many were evicted.
func (c *Controller) EvictStale(ctx context.Context) int {
	deadline := c.now().Add(-c.cfg.HeartbeatTimeout)
	evicted := 0
	for _, room := range c.dir.Rooms() {
		for _, p := range room.Peers() {
			if p.LastSeen().Before(deadline) {
				c.logger.Infow("evicting stale peer", "room_id", room.ID(), "user_id", p.UserID(), "last_seen", p.LastSeen())
				c.evict(ctx, room, p, "heartbeat timeout")
				evicted++
			}
		}
	}
	return evicted
}
