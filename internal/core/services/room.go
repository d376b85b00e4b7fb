package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	apperrors "sfucore/pkg/errors"
	"sfucore/pkg/tracing"
)

// RoomOptions configures the router and audio observer of a room.
type RoomOptions struct {
	Codecs   []domain.RtpCodecCapability
	Observer ports.AudioLevelObserverOptions
	Channel  *domain.Channel
}

// ActiveSpeakerFunc receives the loudest producer's owner after each
// observer interval.
type ActiveSpeakerFunc func(userID string, volume int8)

// Room binds a router on one worker to the peers talking through it.
type Room struct {
	id      string
	pool    *WorkerPool
	worker  *Worker
	opts    RoomOptions
	logger  *zap.SugaredLogger
	metrics ports.MetricsRecorder

	mu        sync.RWMutex
	state     domain.RoomState
	createdAt time.Time
	router    ports.Router
	observer  ports.AudioLevelObserver
	peers     map[string]*Peer
	onClose   []func()
	onSpeaker ActiveSpeakerFunc
}

// NewRoom claims an idle worker for the room. It fails with
// ResourceExhausted when every worker is busy.
func NewRoom(id string, pool *WorkerPool, opts RoomOptions, logger *zap.SugaredLogger, metrics ports.MetricsRecorder) (*Room, error) {
	w, err := pool.AcquireIdle()
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Room{
		id:        id,
		pool:      pool,
		worker:    w,
		opts:      opts,
		logger:    logger.With("room_id", id),
		metrics:   metrics,
		state:     domain.RoomUninitialized,
		createdAt: time.Now(),
		peers:     make(map[string]*Peer),
	}, nil
}

func (r *Room) ID() string { return r.id }

func (r *Room) State() domain.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Init creates the router and the audio level observer. On failure the
// worker goes back to the pool untouched and the room is closed.
func (r *Room) Init(ctx context.Context) error {
	r.mu.Lock()
	if r.state != domain.RoomUninitialized {
		r.mu.Unlock()
		return apperrors.NewConflictError("room already initialized")
	}
	r.state = domain.RoomInitializing
	r.mu.Unlock()

	ctx, span := tracing.TraceRoomInit(ctx, r.id, r.worker.ID())
	defer span.End()
	start := time.Now()

	router, err := r.worker.Engine().CreateRouter(ctx, r.opts.Codecs)
	if err != nil {
		tracing.RecordError(ctx, err)
		r.abortInit(nil)
		return engineError(err, "create router")
	}
	observer, err := router.CreateAudioLevelObserver(ctx, r.opts.Observer)
	if err != nil {
		tracing.RecordError(ctx, err)
		r.abortInit(router)
		return engineError(err, "create audio level observer")
	}
	observer.OnVolumes(r.handleVolumes)

	r.mu.Lock()
	if r.state != domain.RoomInitializing {
		r.mu.Unlock()
		_ = observer.Close()
		_ = router.Close()
		r.pool.Release(r.worker)
		return apperrors.NewNotInitializedError("room")
	}
	r.router = router
	r.observer = observer
	r.state = domain.RoomReady
	r.mu.Unlock()

	r.pool.MarkRunning(r.worker)
	r.metrics.RoomOpened()
	r.metrics.RoomInitDuration(time.Since(start))
	r.logger.Infow("room initialized", "worker_id", r.worker.ID(), "router_id", router.ID())
	return nil
}

func (r *Room) abortInit(router ports.Router) {
	if router != nil {
		_ = router.Close()
	}
	r.mu.Lock()
	r.state = domain.RoomClosed
	hooks := r.onClose
	r.onClose = nil
	r.mu.Unlock()
	r.pool.Release(r.worker)
	for _, fn := range hooks {
		fn()
	}
}

func (r *Room) ready() error {
	switch r.state {
	case domain.RoomReady:
		return nil
	case domain.RoomClosed:
		return apperrors.NewNotFoundError("room")
	default:
		return apperrors.NewNotInitializedError("room")
	}
}

// RtpCapabilities of the room's router.
func (r *Room) RtpCapabilities() (domain.RtpCapabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return domain.RtpCapabilities{}, err
	}
	return r.router.RtpCapabilities(), nil
}

// Participate adds peer to the roster. When a peer with the same user id
// is already present that peer is returned and added is false. Once the
// peer closes it leaves the roster, and the room closes with its last peer.
func (r *Room) Participate(peer *Peer) (member *Peer, added bool, err error) {
	r.mu.Lock()
	if err := r.ready(); err != nil {
		r.mu.Unlock()
		return nil, false, err
	}
	if existing, ok := r.peers[peer.UserID()]; ok {
		r.mu.Unlock()
		return existing, false, nil
	}
	r.peers[peer.UserID()] = peer
	r.mu.Unlock()

	if !peer.setCloseHook(func() { r.removePeer(peer) }) {
		r.removePeer(peer)
		return nil, false, errPeerGone()
	}
	r.metrics.PeerJoined(peer.Class())
	r.logger.Infow("peer joined", "user_id", peer.UserID(), "class", peer.Class())
	return peer, true, nil
}

func (r *Room) removePeer(peer *Peer) {
	r.mu.Lock()
	current, ok := r.peers[peer.UserID()]
	if !ok || current != peer {
		r.mu.Unlock()
		return
	}
	delete(r.peers, peer.UserID())
	empty := len(r.peers) == 0 && r.state == domain.RoomReady
	r.mu.Unlock()

	r.metrics.PeerLeft(peer.Class())
	r.logger.Infow("peer left", "user_id", peer.UserID())
	if empty {
		r.Close()
	}
}

func (r *Room) Peer(userID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[userID]
	return p, ok
}

// Peers returns the roster ordered by join time.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt().Equal(out[j].JoinedAt()) {
			return out[i].UserID() < out[j].UserID()
		}
		return out[i].JoinedAt().Before(out[j].JoinedAt())
	})
	return out
}

// Members lists the user ids in the roster except the given ones.
func (r *Room) Members(except ...string) []string {
	var out []string
	for _, p := range r.Peers() {
		skip := false
		for _, e := range except {
			if p.UserID() == e {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, p.UserID())
		}
	}
	return out
}

func (r *Room) Info() domain.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := domain.RoomInfo{
		ID:        r.id,
		State:     r.state,
		PeerCount: len(r.peers),
		WorkerID:  r.worker.ID(),
		CreatedAt: r.createdAt,
	}
	if r.opts.Channel != nil {
		info.ChannelName = r.opts.Channel.Name
	}
	return info
}

func (r *Room) Channel() *domain.Channel { return r.opts.Channel }

func (r *Room) readyRouter() (ports.Router, ports.AudioLevelObserver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return nil, nil, err
	}
	return r.router, r.observer, nil
}

func (r *Room) member(userID string) (*Peer, error) {
	p, ok := r.Peer(userID)
	if !ok {
		return nil, apperrors.NewNotFoundError("peer")
	}
	return p, nil
}

// CreateTransport opens a transport for userID on the room's router.
func (r *Room) CreateTransport(ctx context.Context, userID string, dir domain.Direction, settings domain.TransportSettings) (*domain.TransportInfo, error) {
	router, _, err := r.readyRouter()
	if err != nil {
		return nil, err
	}
	peer, err := r.member(userID)
	if err != nil {
		return nil, err
	}
	return peer.CreateTransport(ctx, router, dir, settings)
}

// CreateProducer starts a producer for userID and registers audio with the
// room's observer.
func (r *Room) CreateProducer(ctx context.Context, userID string, req domain.SendRequest) (*domain.ProducerInfo, error) {
	_, observer, err := r.readyRouter()
	if err != nil {
		return nil, err
	}
	peer, err := r.member(userID)
	if err != nil {
		return nil, err
	}
	return peer.CreateProducer(ctx, req, observer)
}

// FindProducer locates remoteUserID's open producer carrying tag.
func (r *Room) FindProducer(remoteUserID string, tag domain.ProducerTag) (ports.Producer, error) {
	remote, ok := r.Peer(remoteUserID)
	if !ok {
		return nil, apperrors.NewNotFoundError("remote peer")
	}
	prod := remote.FindProducer(tag)
	if prod == nil {
		return nil, apperrors.NewNotFoundError("producer")
	}
	return prod, nil
}

// CanConsume asks the router whether caps can receive producerID.
func (r *Room) CanConsume(producerID string, caps domain.RtpCapabilities) (bool, error) {
	router, _, err := r.readyRouter()
	if err != nil {
		return false, err
	}
	return router.CanConsume(producerID, caps), nil
}

// CreateConsumer opens a consumer of producer for userID.
func (r *Room) CreateConsumer(ctx context.Context, userID, transportID string, tag domain.ConsumerTag, producer ports.Producer, caps domain.RtpCapabilities) (*domain.ConsumerInfo, error) {
	if _, _, err := r.readyRouter(); err != nil {
		return nil, err
	}
	peer, err := r.member(userID)
	if err != nil {
		return nil, err
	}
	return peer.CreateConsumer(ctx, transportID, tag, producer, caps)
}

// Disconnect closes userID's peer. It reports false when no such peer exists.
func (r *Room) Disconnect(userID string) bool {
	peer, ok := r.Peer(userID)
	if !ok {
		return false
	}
	peer.Close()
	return true
}

// OnClose registers fn to run once when the room closes.
func (r *Room) OnClose(fn func()) {
	r.mu.Lock()
	if r.state == domain.RoomClosed {
		r.mu.Unlock()
		fn()
		return
	}
	r.onClose = append(r.onClose, fn)
	r.mu.Unlock()
}

func (r *Room) OnActiveSpeaker(fn ActiveSpeakerFunc) {
	r.mu.Lock()
	r.onSpeaker = fn
	r.mu.Unlock()
}

func (r *Room) handleVolumes(volumes []ports.AudioVolume) {
	if len(volumes) == 0 {
		return
	}
	loudest := volumes[0]

	r.mu.RLock()
	fn := r.onSpeaker
	var owner string
	for id, p := range r.peers {
		if p.HasProducer(loudest.ProducerID) {
			owner = id
			break
		}
	}
	r.mu.RUnlock()

	if fn != nil && owner != "" {
		fn(owner, loudest.Volume)
	}
}

// Close disconnects every peer, closes the router, returns the worker to
// the pool and fires the close hooks. Repeated calls do nothing.
func (r *Room) Close() {
	r.mu.Lock()
	if r.state == domain.RoomClosed {
		r.mu.Unlock()
		return
	}
	wasReady := r.state == domain.RoomReady
	r.state = domain.RoomClosed
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[string]*Peer)
	router, observer := r.router, r.observer
	hooks := r.onClose
	r.onClose = nil
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
		r.metrics.PeerLeft(p.Class())
	}
	if observer != nil {
		_ = observer.Close()
	}
	if router != nil {
		if err := router.Close(); err != nil {
			r.logger.Warnw("failed to close router", "error", err)
		}
	}

	if wasReady {
		r.pool.MarkIdle(r.worker)
		r.metrics.RoomClosed()
	} else {
		r.pool.Release(r.worker)
	}
	r.logger.Infow("room closed", "peers", len(peers))

	for _, fn := range hooks {
		fn()
	}
}
