package webrtc

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/pkg/optimize"
)

var consumerScratch = optimize.NewSlicePool[*Consumer](8)

// Producer is one incoming media stream. Every packet it receives is
// fanned out to its open consumers.
type Producer struct {
	closeNotifier

	id          string
	kind        domain.MediaKind
	params      domain.RtpParameters
	ssrc        uint32
	payloadType uint8
	levelExtID  uint8
	transport   *Transport

	paused   atomic.Bool
	observer atomic.Pointer[AudioLevelObserver]

	mu        sync.RWMutex
	consumers map[string]*Consumer
}

var _ ports.Producer = (*Producer)(nil)

func newProducer(t *Transport, opts ports.ProduceOptions) *Producer {
	p := &Producer{
		id:          uuid.NewString(),
		kind:        opts.Kind,
		params:      opts.RtpParameters,
		ssrc:        opts.RtpParameters.Encodings[0].SSRC,
		payloadType: opts.RtpParameters.Codecs[0].PayloadType,
		levelExtID:  uint8(opts.RtpParameters.HeaderExtensionID(AudioLevelURI)),
		transport:   t,
		consumers:   make(map[string]*Consumer),
	}
	p.paused.Store(opts.Paused)
	return p
}

func (p *Producer) ID() string                          { return p.id }
func (p *Producer) Kind() domain.MediaKind              { return p.kind }
func (p *Producer) RtpParameters() domain.RtpParameters { return p.params }
func (p *Producer) Paused() bool                        { return p.paused.Load() }

func (p *Producer) codec() domain.RtpCodecParameters { return p.params.Codecs[0] }

func (p *Producer) Pause() error {
	if p.Closed() {
		return domain.ErrProducerClosed
	}
	p.paused.Store(true)
	return nil
}

func (p *Producer) Resume() error {
	if p.Closed() {
		return domain.ErrProducerClosed
	}
	if p.paused.Swap(false) {
		p.requestKeyFrame()
	}
	return nil
}

// deliver forwards pkt to every consumer. pkt is only valid for the
// duration of the call.
func (p *Producer) deliver(pkt *rtp.Packet) {
	if p.Closed() || p.paused.Load() {
		return
	}
	if o := p.observer.Load(); o != nil && p.levelExtID != 0 {
		o.record(p.id, pkt.GetExtension(p.levelExtID))
	}

	targets := consumerScratch.Get()
	p.mu.RLock()
	for _, c := range p.consumers {
		targets = append(targets, c)
	}
	p.mu.RUnlock()
	for _, c := range targets {
		c.forward(pkt)
	}
	consumerScratch.Put(targets)
}

// requestKeyFrame asks the remote sender for a new key frame.
func (p *Producer) requestKeyFrame() {
	if p.kind != domain.KindVideo || p.Closed() {
		return
	}
	p.transport.link.writeRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}})
}

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
	if p.Closed() {
		c.Close()
	}
}

func (p *Producer) removeConsumer(c *Consumer) {
	p.mu.Lock()
	delete(p.consumers, c.id)
	p.mu.Unlock()
}

func (p *Producer) Close() error {
	if !p.markClosed() {
		return nil
	}
	p.transport.router.removeProducer(p)
	p.transport.removeProducer(p)
	p.transport.link.detachProducer(p)

	p.mu.Lock()
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()
	for _, c := range consumers {
		c.Close()
	}
	p.notify()
	return nil
}
