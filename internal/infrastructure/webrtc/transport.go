package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

// link is the class-specific half of a transport: how packets reach the
// network and how the remote side is connected.
type link interface {
	describe(info *domain.TransportInfo)
	connect(ctx context.Context, params domain.ConnectParams) error
	attachProducer(p *Producer) error
	detachProducer(p *Producer)
	attachConsumer(c *Consumer) error
	detachConsumer(c *Consumer)
	writeRTP(c *Consumer, pkt *rtp.Packet)
	writeRTCP(pkts []rtcp.Packet)
	close()
}

// Transport carries producers and consumers over one link.
type Transport struct {
	closeNotifier

	id     string
	class  domain.TransportClass
	router *Router
	logger *zap.SugaredLogger
	link   link

	up     chan struct{}
	upOnce sync.Once

	mu             sync.Mutex
	connectStarted bool
	producers      map[string]*Producer
	producerSSRCs  map[uint32]*Producer
	consumers      map[string]*Consumer
	consumerSSRCs  map[uint32]*Consumer
}

var _ ports.Transport = (*Transport)(nil)

func newTransport(r *Router, class domain.TransportClass) *Transport {
	id := uuid.NewString()
	return &Transport{
		id:            id,
		class:         class,
		router:        r,
		logger:        r.logger.With("transport_id", id, "class", class),
		up:            make(chan struct{}),
		producers:     make(map[string]*Producer),
		producerSSRCs: make(map[uint32]*Producer),
		consumers:     make(map[string]*Consumer),
		consumerSSRCs: make(map[uint32]*Consumer),
	}
}

func (t *Transport) ID() string                   { return t.id }
func (t *Transport) Class() domain.TransportClass { return t.class }

func (t *Transport) Info() domain.TransportInfo {
	info := domain.TransportInfo{ID: t.id, Class: t.class}
	t.link.describe(&info)
	return info
}

func (t *Transport) Connect(ctx context.Context, params domain.ConnectParams) error {
	if t.Closed() {
		return domain.ErrTransportClosed
	}
	t.mu.Lock()
	if t.connectStarted {
		t.mu.Unlock()
		return domain.ErrAlreadyConnected
	}
	t.connectStarted = true
	t.mu.Unlock()

	if err := t.link.connect(ctx, params); err != nil {
		t.mu.Lock()
		t.connectStarted = false
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *Transport) WaitConnected(ctx context.Context) error {
	select {
	case <-t.up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markUp records that media can flow.
func (t *Transport) markUp() {
	t.upOnce.Do(func() {
		close(t.up)
		t.logger.Debugw("transport connected")
	})
}

func (t *Transport) isUp() bool {
	select {
	case <-t.up:
		return true
	default:
		return false
	}
}

func (t *Transport) Produce(ctx context.Context, opts ports.ProduceOptions) (ports.Producer, error) {
	if t.Closed() {
		return nil, domain.ErrTransportClosed
	}
	if len(opts.RtpParameters.Codecs) == 0 {
		return nil, fmt.Errorf("%w: no codec negotiated", domain.ErrUnsupportedCodec)
	}
	codec, ok := t.router.matchCodec(opts.RtpParameters.Codecs[0])
	if !ok || codec.Kind != opts.Kind {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedCodec, opts.RtpParameters.Codecs[0].MimeType)
	}
	if len(opts.RtpParameters.Encodings) == 0 || opts.RtpParameters.Encodings[0].SSRC == 0 {
		return nil, fmt.Errorf("%w: producer encodings need an ssrc", domain.ErrMissingRemoteParams)
	}

	p := newProducer(t, opts)
	t.mu.Lock()
	if _, dup := t.producerSSRCs[p.ssrc]; dup {
		t.mu.Unlock()
		return nil, fmt.Errorf("ssrc %d already produced on transport %s", p.ssrc, t.id)
	}
	t.producers[p.id] = p
	t.producerSSRCs[p.ssrc] = p
	t.mu.Unlock()

	if err := t.link.attachProducer(p); err != nil {
		t.removeProducer(p)
		return nil, err
	}
	t.router.addProducer(p)
	t.logger.Debugw("producer created", "producer_id", p.id, "kind", p.kind, "ssrc", p.ssrc)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	if t.Closed() {
		return nil, domain.ErrTransportClosed
	}
	producer, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	if producer.Closed() {
		return nil, domain.ErrProducerClosed
	}
	if !t.router.CanConsume(producer.id, opts.RtpCapabilities) {
		return nil, domain.ErrCannotConsume
	}

	c := newConsumer(t, producer, opts.Paused)
	t.mu.Lock()
	t.consumers[c.id] = c
	t.consumerSSRCs[c.ssrc] = c
	t.mu.Unlock()

	if err := t.link.attachConsumer(c); err != nil {
		t.removeConsumer(c)
		return nil, err
	}
	producer.addConsumer(c)
	t.logger.Debugw("consumer created", "consumer_id", c.id, "producer_id", producer.id, "ssrc", c.ssrc)
	return c, nil
}

// deliverRTP hands an incoming packet to the producer owning its SSRC.
func (t *Transport) deliverRTP(pkt *rtp.Packet) {
	t.mu.Lock()
	p := t.producerSSRCs[pkt.SSRC]
	t.mu.Unlock()
	if p != nil {
		p.deliver(pkt)
	}
}

// deliverRTCP handles feedback from the receivers of this transport's
// consumers. Key frame requests are relayed to the source producer.
func (t *Transport) deliverRTCP(pkts []rtcp.Packet) {
	for _, pkt := range pkts {
		var ssrcs []uint32
		switch fb := pkt.(type) {
		case *rtcp.PictureLossIndication:
			ssrcs = []uint32{fb.MediaSSRC}
		case *rtcp.FullIntraRequest:
			for _, e := range fb.FIR {
				ssrcs = append(ssrcs, e.SSRC)
			}
		default:
			continue
		}
		for _, ssrc := range ssrcs {
			t.mu.Lock()
			c := t.consumerSSRCs[ssrc]
			t.mu.Unlock()
			if c != nil {
				c.producer.requestKeyFrame()
			}
		}
	}
}

func (t *Transport) removeProducer(p *Producer) {
	t.mu.Lock()
	delete(t.producers, p.id)
	if t.producerSSRCs[p.ssrc] == p {
		delete(t.producerSSRCs, p.ssrc)
	}
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(c *Consumer) {
	t.mu.Lock()
	delete(t.consumers, c.id)
	if t.consumerSSRCs[c.ssrc] == c {
		delete(t.consumerSSRCs, c.ssrc)
	}
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	if !t.markClosed() {
		return nil
	}
	t.mu.Lock()
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	t.link.close()
	t.logger.Debugw("transport closed")
	t.notify()
	return nil
}
