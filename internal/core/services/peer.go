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
)

type transportEntry struct {
	t    ports.Transport
	dir  domain.Direction
	slot domain.SendSlot
}

type pausable interface {
	Pause() error
	Resume() error
}

// pauseState is the paused flag of one producer or consumer. gate is held
// across the engine call, so the flag always matches the last call that
// reached the engine.
type pauseState struct {
	gate   sync.Mutex
	paused bool
}

type producerEntry struct {
	p   ports.Producer
	tag domain.ProducerTag
	pauseState
}

type consumerEntry struct {
	c   ports.Consumer
	tag domain.ConsumerTag
	pauseState
}

// Peer is one participant's ledger of engine objects inside a room.
//
// Pause and resume state is tracked here rather than read back from the
// engine, so repeating either is a no-op that never reaches the engine.
// Ids of closed producers, consumers and transports are remembered so
// that closing them again succeeds silently.
type Peer struct {
	userID   string
	ownerID  string
	class    domain.PeerClass
	joinedAt time.Time
	logger   *zap.SugaredLogger
	metrics  ports.MetricsRecorder

	mu           sync.Mutex
	closed       bool
	lastSeen     time.Time
	slots        map[domain.SendSlot]string
	transports   map[string]*transportEntry
	producers    map[string]*producerEntry
	consumers    map[string]*consumerEntry
	consumerTags map[domain.ConsumerTag]string
	retired      map[string]struct{}
	onClose      func()
}

// NewPeer creates an empty ledger. ownerID is the identity that
// authenticates for this peer; it equals userID for primary peers.
func NewPeer(userID string, class domain.PeerClass, ownerID string, logger *zap.SugaredLogger, metrics ports.MetricsRecorder) *Peer {
	if ownerID == "" {
		ownerID = userID
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	now := time.Now()
	return &Peer{
		userID:       userID,
		ownerID:      ownerID,
		class:        class,
		joinedAt:     now,
		lastSeen:     now,
		logger:       logger.With("user_id", userID),
		metrics:      metrics,
		slots:        make(map[domain.SendSlot]string),
		transports:   make(map[string]*transportEntry),
		producers:    make(map[string]*producerEntry),
		consumers:    make(map[string]*consumerEntry),
		consumerTags: make(map[domain.ConsumerTag]string),
		retired:      make(map[string]struct{}),
	}
}

func (p *Peer) UserID() string          { return p.userID }
func (p *Peer) OwnerID() string         { return p.ownerID }
func (p *Peer) Class() domain.PeerClass { return p.class }
func (p *Peer) JoinedAt() time.Time     { return p.joinedAt }

func (p *Peer) Touch(now time.Time) {
	p.mu.Lock()
	if now.After(p.lastSeen) {
		p.lastSeen = now
	}
	p.mu.Unlock()
}

func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// setCloseHook installs the one-shot callback fired by Close. It reports
// false when the peer is already closed.
func (p *Peer) setCloseHook(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.onClose = fn
	return true
}

func errPeerGone() error { return apperrors.NewNotFoundError("peer") }

// CreateTransport opens a transport on router. A send transport takes the
// primary slot, then the secondary one; a third is a conflict.
func (p *Peer) CreateTransport(ctx context.Context, router ports.Router, dir domain.Direction, settings domain.TransportSettings) (*domain.TransportInfo, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPeerGone()
	}
	slot := domain.SlotNone
	if dir == domain.DirectionSend {
		switch {
		case !p.hasSlot(domain.SlotPrimary):
			slot = domain.SlotPrimary
		case !p.hasSlot(domain.SlotSecondary):
			slot = domain.SlotSecondary
		default:
			p.mu.Unlock()
			return nil, apperrors.NewConflictError("both send transports already exist")
		}
		p.slots[slot] = ""
	}
	p.mu.Unlock()

	t, err := router.CreateTransport(ctx, settings)
	if err != nil {
		p.releaseSlot(slot, "")
		return nil, engineError(err, "create transport")
	}

	p.mu.Lock()
	if p.closed {
		if slot != domain.SlotNone {
			delete(p.slots, slot)
		}
		p.mu.Unlock()
		_ = t.Close()
		return nil, errPeerGone()
	}
	id := t.ID()
	p.transports[id] = &transportEntry{t: t, dir: dir, slot: slot}
	if slot != domain.SlotNone {
		p.slots[slot] = id
	}
	p.mu.Unlock()

	t.OnClose(func() { p.forgetTransport(id) })
	p.metrics.TransportCreated(t.Class(), dir)

	info := t.Info()
	info.Direction = dir
	info.Slot = slot
	p.logger.Debugw("transport created", "transport_id", id, "direction", dir, "slot", slot)
	return &info, nil
}

// hasSlot must be called with mu held.
func (p *Peer) hasSlot(slot domain.SendSlot) bool {
	_, ok := p.slots[slot]
	return ok
}

func (p *Peer) releaseSlot(slot domain.SendSlot, transportID string) {
	if slot == domain.SlotNone {
		return
	}
	p.mu.Lock()
	if p.slots[slot] == transportID {
		delete(p.slots, slot)
	}
	p.mu.Unlock()
}

func (p *Peer) forgetTransport(id string) {
	p.mu.Lock()
	e, ok := p.transports[id]
	if ok {
		delete(p.transports, id)
		p.retired[id] = struct{}{}
	}
	p.mu.Unlock()
	if ok {
		p.releaseSlot(e.slot, id)
	}
}

func (p *Peer) transport(id string) (*transportEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errPeerGone()
	}
	e, ok := p.transports[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("transport")
	}
	return e, nil
}

// ConnectTransport hands the remote parameters to the engine.
func (p *Peer) ConnectTransport(ctx context.Context, transportID string, params domain.ConnectParams) error {
	e, err := p.transport(transportID)
	if err != nil {
		return err
	}
	return engineError(e.t.Connect(ctx, params), "connect transport")
}

// AwaitConnected blocks until the transport is usable or ctx expires.
func (p *Peer) AwaitConnected(ctx context.Context, transportID string) error {
	e, err := p.transport(transportID)
	if err != nil {
		return err
	}
	if err := e.t.WaitConnected(ctx); err != nil {
		return engineError(err, "connect transport")
	}
	return nil
}

// CloseTransport closes a transport and everything it carries.
func (p *Peer) CloseTransport(transportID string) error {
	p.mu.Lock()
	e, ok := p.transports[transportID]
	_, retired := p.retired[transportID]
	p.mu.Unlock()
	if !ok {
		if retired {
			return nil
		}
		return apperrors.NewNotFoundError("transport")
	}
	return engineError(e.t.Close(), "close transport")
}

// CreateProducer starts a producer on one of the peer's send transports.
// Audio producers are registered with observer when it is non-nil.
func (p *Peer) CreateProducer(ctx context.Context, req domain.SendRequest, observer ports.AudioLevelObserver) (*domain.ProducerInfo, error) {
	e, err := p.transport(req.TransportID)
	if err != nil {
		return nil, err
	}
	if e.dir != domain.DirectionSend {
		return nil, apperrors.NewInvalidInputError("transport is not a send transport")
	}

	prod, err := e.t.Produce(ctx, ports.ProduceOptions{
		Kind:          req.Kind,
		RtpParameters: req.RtpParameters,
		Paused:        req.Paused,
	})
	if err != nil {
		return nil, engineError(err, "produce")
	}

	tag := domain.ProducerTag{MediaType: req.MediaType, Kind: req.Kind}
	id := prod.ID()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = prod.Close()
		return nil, errPeerGone()
	}
	p.producers[id] = &producerEntry{p: prod, tag: tag, pauseState: pauseState{paused: req.Paused}}
	p.mu.Unlock()

	observed := observer != nil && req.Kind == domain.KindAudio
	prod.OnClose(func() {
		p.forgetProducer(id)
		if observed {
			_ = observer.RemoveProducer(id)
		}
		p.metrics.ProducerClosed(req.Kind)
	})
	e.t.OnClose(func() { _ = prod.Close() })
	if e.t.Closed() {
		_ = prod.Close()
	}
	if observed {
		if err := observer.AddProducer(id); err != nil {
			p.logger.Warnw("failed to observe audio producer", "producer_id", id, "error", err)
		}
	}
	p.metrics.ProducerOpened(req.Kind)

	return &domain.ProducerInfo{ID: id, Kind: req.Kind, MediaType: req.MediaType, Paused: req.Paused}, nil
}

func (p *Peer) forgetProducer(id string) {
	p.mu.Lock()
	if _, ok := p.producers[id]; ok {
		delete(p.producers, id)
		p.retired[id] = struct{}{}
	}
	p.mu.Unlock()
}

// CreateConsumer opens a consumer of producer on a receive transport. The
// consumer tag is reserved before the engine is called, so two concurrent
// requests for the same tag yield exactly one consumer. Consumers always
// start paused.
func (p *Peer) CreateConsumer(ctx context.Context, transportID string, tag domain.ConsumerTag, producer ports.Producer, caps domain.RtpCapabilities) (*domain.ConsumerInfo, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPeerGone()
	}
	e, ok := p.transports[transportID]
	if !ok {
		p.mu.Unlock()
		return nil, apperrors.NewNotFoundError("transport")
	}
	if e.dir != domain.DirectionRecv {
		p.mu.Unlock()
		return nil, apperrors.NewInvalidInputError("transport is not a receive transport")
	}
	if _, taken := p.consumerTags[tag]; taken {
		p.mu.Unlock()
		return nil, apperrors.NewConflictError("consumer for " + tag.String() + " already exists")
	}
	p.consumerTags[tag] = ""
	p.mu.Unlock()

	cons, err := e.t.Consume(ctx, ports.ConsumeOptions{
		ProducerID:      producer.ID(),
		RtpCapabilities: caps,
		Paused:          true,
	})
	if err != nil {
		p.mu.Lock()
		delete(p.consumerTags, tag)
		p.mu.Unlock()
		return nil, engineError(err, "consume")
	}

	id := cons.ID()
	p.mu.Lock()
	if p.closed {
		delete(p.consumerTags, tag)
		p.mu.Unlock()
		_ = cons.Close()
		return nil, errPeerGone()
	}
	p.consumers[id] = &consumerEntry{c: cons, tag: tag, pauseState: pauseState{paused: true}}
	p.consumerTags[tag] = id
	p.mu.Unlock()

	cons.OnClose(func() {
		p.forgetConsumer(id)
		p.metrics.ConsumerClosed()
	})
	e.t.OnClose(func() { _ = cons.Close() })
	producer.OnClose(func() { _ = cons.Close() })
	if e.t.Closed() || producer.Closed() {
		_ = cons.Close()
	}
	p.metrics.ConsumerOpened()

	return &domain.ConsumerInfo{
		ID:             id,
		ProducerID:     producer.ID(),
		Kind:           cons.Kind(),
		MediaType:      tag.MediaType,
		RemoteUserID:   tag.RemoteUserID,
		RtpParameters:  cons.RtpParameters(),
		ProducerPaused: cons.ProducerPaused(),
		Paused:         true,
	}, nil
}

func (p *Peer) forgetConsumer(id string) {
	p.mu.Lock()
	if e, ok := p.consumers[id]; ok {
		delete(p.consumers, id)
		if p.consumerTags[e.tag] == id {
			delete(p.consumerTags, e.tag)
		}
		p.retired[id] = struct{}{}
	}
	p.mu.Unlock()
}

// setPaused moves st to paused, calling the engine only on a change.
// Calls for the same entity are serialized on st.gate.
func setPaused(handle pausable, st *pauseState, paused bool, op string) error {
	st.gate.Lock()
	defer st.gate.Unlock()
	if st.paused == paused {
		return nil
	}

	var err error
	if paused {
		err = handle.Pause()
	} else {
		err = handle.Resume()
	}
	if err != nil {
		return engineError(err, op)
	}
	st.paused = paused
	return nil
}

func (p *Peer) PauseProducer(id string) error  { return p.setProducerPaused(id, true) }
func (p *Peer) ResumeProducer(id string) error { return p.setProducerPaused(id, false) }

func (p *Peer) setProducerPaused(id string, paused bool) error {
	p.mu.Lock()
	e, ok := p.producers[id]
	if !ok {
		p.mu.Unlock()
		return apperrors.NewNotFoundError("producer")
	}
	p.mu.Unlock()
	return setPaused(e.p, &e.pauseState, paused, "pause producer")
}

func (p *Peer) PauseConsumer(id string) error  { return p.setConsumerPaused(id, true) }
func (p *Peer) ResumeConsumer(id string) error { return p.setConsumerPaused(id, false) }

func (p *Peer) setConsumerPaused(id string, paused bool) error {
	p.mu.Lock()
	e, ok := p.consumers[id]
	if !ok {
		p.mu.Unlock()
		return apperrors.NewNotFoundError("consumer")
	}
	p.mu.Unlock()
	return setPaused(e.c, &e.pauseState, paused, "pause consumer")
}

func (p *Peer) CloseProducer(id string) error {
	p.mu.Lock()
	e, ok := p.producers[id]
	_, retired := p.retired[id]
	p.mu.Unlock()
	if !ok {
		if retired {
			return nil
		}
		return apperrors.NewNotFoundError("producer")
	}
	return engineError(e.p.Close(), "close producer")
}

func (p *Peer) CloseConsumer(id string) error {
	p.mu.Lock()
	e, ok := p.consumers[id]
	_, retired := p.retired[id]
	p.mu.Unlock()
	if !ok {
		if retired {
			return nil
		}
		return apperrors.NewNotFoundError("consumer")
	}
	return engineError(e.c.Close(), "close consumer")
}

// ProducersByTag returns the open producers carrying tag.
func (p *Peer) ProducersByTag(tag domain.ProducerTag) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []string
	for id, e := range p.producers {
		if e.tag == tag {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// FindProducer returns an open producer carrying tag, or nil.
func (p *Peer) FindProducer(tag domain.ProducerTag) ports.Producer {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.producers {
		if e.tag == tag && !e.p.Closed() {
			return e.p
		}
	}
	return nil
}

func (p *Peer) HasProducer(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.producers[id]
	return ok
}

// Info is a point-in-time view of the peer.
func (p *Peer) Info() domain.PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	tags := make([]domain.ProducerTag, 0, len(p.producers))
	for _, e := range p.producers {
		tags = append(tags, e.tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].String() < tags[j].String() })
	return domain.PeerInfo{UserID: p.userID, Class: p.class, JoinedAt: p.joinedAt, Producers: tags}
}

// Close closes every transport of the peer, which in turn closes its
// producers and consumers, then fires the close hook. Only the first call
// has any effect.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	transports := make([]ports.Transport, 0, len(p.transports))
	for _, e := range p.transports {
		transports = append(transports, e.t)
	}
	producers := make([]ports.Producer, 0, len(p.producers))
	for _, e := range p.producers {
		producers = append(producers, e.p)
	}
	consumers := make([]ports.Consumer, 0, len(p.consumers))
	for _, e := range p.consumers {
		consumers = append(consumers, e.c)
	}
	hook := p.onClose
	p.onClose = nil
	p.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			p.logger.Warnw("failed to close transport", "transport_id", t.ID(), "error", err)
		}
	}
	for _, c := range consumers {
		_ = c.Close()
	}
	for _, pr := range producers {
		_ = pr.Close()
	}

	p.logger.Debugw("peer closed", "transports", len(transports))
	if hook != nil {
		hook()
	}
}
