// Package testutil provides in-memory fakes of the media engine and the
// core's collaborators for unit tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

// closer runs its listeners once on the first close.
type closer struct {
	mu        sync.Mutex
	closed    bool
	listeners []func()
}

func (c *closer) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *closer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// markClosed reports whether this call closed c.
func (c *closer) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *closer) fire() {
	c.mu.Lock()
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Engine is a fake ports.MediaEngine.
type Engine struct {
	mu      sync.Mutex
	workers []*Worker

	// FailWorkers makes CreateWorker fail after that many workers exist.
	FailWorkers int
	// RouterErr is returned by every CreateRouter call when set.
	RouterErr error
	// ObserverErr is returned by CreateAudioLevelObserver when set.
	ObserverErr error
}

func NewEngine() *Engine { return &Engine{FailWorkers: -1} }

func (e *Engine) CreateWorker(ctx context.Context) (ports.EngineWorker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailWorkers >= 0 && len(e.workers) >= e.FailWorkers {
		return nil, domain.ErrWorkerClosed
	}
	w := &Worker{id: uuid.NewString(), engine: e}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

// Routers returns every router created on any worker.
func (e *Engine) Routers() []*Router {
	var out []*Router
	for _, w := range e.Workers() {
		out = append(out, w.Routers()...)
	}
	return out
}

type Worker struct {
	id     string
	engine *Engine
	closer

	mu      sync.Mutex
	died    func(error)
	routers []*Router
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	if w.engine.RouterErr != nil {
		return nil, w.engine.RouterErr
	}
	if w.Closed() {
		return nil, domain.ErrWorkerClosed
	}
	caps := domain.RtpCapabilities{}
	for _, c := range codecs {
		caps.Codecs = append(caps.Codecs, c)
	}
	r := &Router{id: uuid.NewString(), worker: w, caps: caps, producers: make(map[string]*Producer)}
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	return r, nil
}

func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Router(nil), w.routers...)
}

func (w *Worker) OnDied(fn func(err error)) {
	w.mu.Lock()
	w.died = fn
	w.mu.Unlock()
}

// Die simulates a worker crash.
func (w *Worker) Die(err error) {
	w.mu.Lock()
	fn := w.died
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (w *Worker) Close() error {
	if !w.markClosed() {
		return nil
	}
	for _, r := range w.Routers() {
		_ = r.Close()
	}
	w.fire()
	return nil
}

type Router struct {
	id     string
	worker *Worker
	caps   domain.RtpCapabilities
	closer

	mu         sync.Mutex
	transports []*Transport
	producers  map[string]*Producer
	observer   *Observer

	// CannotConsume makes CanConsume answer false.
	CannotConsume atomic.Bool
	// TransportErr is returned by CreateTransport when set.
	TransportErr error
}

func (r *Router) ID() string                              { return r.id }
func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }

func (r *Router) CreateTransport(ctx context.Context, settings domain.TransportSettings) (ports.Transport, error) {
	if r.TransportErr != nil {
		return nil, r.TransportErr
	}
	if r.Closed() {
		return nil, domain.ErrRouterClosed
	}
	t := &Transport{
		id:        uuid.NewString(),
		class:     settings.Class(),
		router:    r,
		connected: make(chan struct{}),
	}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

func (r *Router) Transports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Transport(nil), r.transports...)
}

func (r *Router) CanConsume(producerID string, caps domain.RtpCapabilities) bool {
	if r.CannotConsume.Load() {
		return false
	}
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	return ok && !p.Closed()
}

func (r *Router) CreateAudioLevelObserver(ctx context.Context, opts ports.AudioLevelObserverOptions) (ports.AudioLevelObserver, error) {
	if r.worker.engine.ObserverErr != nil {
		return nil, r.worker.engine.ObserverErr
	}
	o := &Observer{producers: make(map[string]bool)}
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
	return o, nil
}

// Observer returns the audio level observer of the router, if any.
func (r *Router) Observer() *Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observer
}

func (r *Router) Close() error {
	if !r.markClosed() {
		return nil
	}
	for _, t := range r.Transports() {
		_ = t.Close()
	}
	if o := r.Observer(); o != nil {
		_ = o.Close()
	}
	r.fire()
	return nil
}

type Transport struct {
	id     string
	class  domain.TransportClass
	router *Router
	closer

	mu        sync.Mutex
	connected chan struct{}
	isUp      bool
	producers []*Producer
	consumers []*Consumer

	ConnectCalls atomic.Int32
	// HoldConnection keeps WaitConnected blocking after Connect.
	HoldConnection atomic.Bool
}

func (t *Transport) ID() string                   { return t.id }
func (t *Transport) Class() domain.TransportClass { return t.class }

func (t *Transport) Info() domain.TransportInfo {
	info := domain.TransportInfo{ID: t.id, Class: t.class}
	if t.class == domain.TransportWebRtc {
		info.IceParameters = &domain.IceParameters{UsernameFragment: "ufrag-" + t.id[:8], Password: "pwd", IceLite: true}
		info.IceCandidates = []domain.IceCandidate{{Foundation: "udpcandidate", Priority: 1, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}}
		info.DtlsParameters = &domain.DtlsParameters{Role: "auto", Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11"}}}
	}
	return info
}

func (t *Transport) Connect(ctx context.Context, params domain.ConnectParams) error {
	t.ConnectCalls.Add(1)
	if t.Closed() {
		return domain.ErrTransportClosed
	}
	if t.class == domain.TransportWebRtc && (params.Dtls == nil || params.Ice == nil) {
		return domain.ErrMissingRemoteParams
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isUp {
		return domain.ErrAlreadyConnected
	}
	t.isUp = true
	if !t.HoldConnection.Load() {
		close(t.connected)
	}
	return nil
}

func (t *Transport) WaitConnected(ctx context.Context) error {
	select {
	case <-t.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Produce(ctx context.Context, opts ports.ProduceOptions) (ports.Producer, error) {
	if t.Closed() {
		return nil, domain.ErrTransportClosed
	}
	p := &Producer{id: uuid.NewString(), kind: opts.Kind, params: opts.RtpParameters}
	p.paused.Store(opts.Paused)
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	r := t.router
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
	p.OnClose(func() {
		r.mu.Lock()
		delete(r.producers, p.id)
		r.mu.Unlock()
	})
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	if t.Closed() {
		return nil, domain.ErrTransportClosed
	}
	t.router.mu.Lock()
	prod, ok := t.router.producers[opts.ProducerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	c := &Consumer{id: uuid.NewString(), producer: prod}
	c.paused.Store(opts.Paused)
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	prod.OnClose(func() { _ = c.Close() })
	return c, nil
}

func (t *Transport) Producers() []*Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Producer(nil), t.producers...)
}

func (t *Transport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer(nil), t.consumers...)
}

func (t *Transport) Close() error {
	if !t.markClosed() {
		return nil
	}
	for _, c := range t.Consumers() {
		_ = c.Close()
	}
	for _, p := range t.Producers() {
		_ = p.Close()
	}
	t.fire()
	return nil
}

type Producer struct {
	id     string
	kind   domain.MediaKind
	params domain.RtpParameters
	closer

	paused      atomic.Bool
	PauseCalls  atomic.Int32
	ResumeCalls atomic.Int32

	// OnPause runs inside Pause before the state changes. A non-nil
	// error fails the call. Set it before the producer is shared.
	OnPause func() error
}

func (p *Producer) ID() string                          { return p.id }
func (p *Producer) Kind() domain.MediaKind              { return p.kind }
func (p *Producer) RtpParameters() domain.RtpParameters { return p.params }
func (p *Producer) Paused() bool                        { return p.paused.Load() }

func (p *Producer) Pause() error {
	if p.Closed() {
		return domain.ErrProducerClosed
	}
	if p.OnPause != nil {
		if err := p.OnPause(); err != nil {
			return err
		}
	}
	p.PauseCalls.Add(1)
	p.paused.Store(true)
	return nil
}

func (p *Producer) Resume() error {
	if p.Closed() {
		return domain.ErrProducerClosed
	}
	p.ResumeCalls.Add(1)
	p.paused.Store(false)
	return nil
}

func (p *Producer) Close() error {
	if p.markClosed() {
		p.fire()
	}
	return nil
}

type Consumer struct {
	id       string
	producer *Producer
	closer

	paused      atomic.Bool
	PauseCalls  atomic.Int32
	ResumeCalls atomic.Int32
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind              { return c.producer.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.producer.params }
func (c *Consumer) Paused() bool                        { return c.paused.Load() }
func (c *Consumer) ProducerPaused() bool                { return c.producer.Paused() }

func (c *Consumer) Pause() error {
	if c.Closed() {
		return domain.ErrConsumerClosed
	}
	c.PauseCalls.Add(1)
	c.paused.Store(true)
	return nil
}

func (c *Consumer) Resume() error {
	if c.Closed() {
		return domain.ErrConsumerClosed
	}
	c.ResumeCalls.Add(1)
	c.paused.Store(false)
	return nil
}

func (c *Consumer) Close() error {
	if c.markClosed() {
		c.fire()
	}
	return nil
}

// Observer is a fake audio level observer; Emit drives its callbacks.
type Observer struct {
	mu        sync.Mutex
	producers map[string]bool
	onVolumes func([]ports.AudioVolume)
	onSilence func()
	closed    bool
}

func (o *Observer) AddProducer(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.producers[id] = true
	return nil
}

func (o *Observer) RemoveProducer(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.producers, id)
	return nil
}

func (o *Observer) Observes(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.producers[id]
}

func (o *Observer) OnVolumes(fn func([]ports.AudioVolume)) {
	o.mu.Lock()
	o.onVolumes = fn
	o.mu.Unlock()
}

func (o *Observer) OnSilence(fn func()) {
	o.mu.Lock()
	o.onSilence = fn
	o.mu.Unlock()
}

// Emit reports volumes as one observer interval would.
func (o *Observer) Emit(volumes []ports.AudioVolume) {
	o.mu.Lock()
	fn := o.onVolumes
	o.mu.Unlock()
	if fn != nil {
		fn(volumes)
	}
}

func (o *Observer) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}
