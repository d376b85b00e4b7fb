package webrtc

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

// Consumer is one outgoing copy of a producer's stream.
type Consumer struct {
	closeNotifier

	id          string
	producer    *Producer
	transport   *Transport
	params      domain.RtpParameters
	ssrc        uint32
	payloadType uint8

	paused atomic.Bool
	// awaitKeyFrame drops video until a key frame arrives, so a resumed
	// receiver never decodes from a delta frame.
	awaitKeyFrame atomic.Bool
	gated         bool
}

var _ ports.Consumer = (*Consumer)(nil)

func newConsumer(t *Transport, producer *Producer, paused bool) *Consumer {
	src := producer.codec()
	codec := src
	if match, ok := t.router.matchCodec(src); ok {
		codec.PayloadType = match.PreferredPayloadType
	}
	ssrc := rand.Uint32()
	for ssrc == 0 {
		ssrc = rand.Uint32()
	}

	id := uuid.NewString()
	c := &Consumer{
		id:          id,
		producer:    producer,
		transport:   t,
		ssrc:        ssrc,
		payloadType: codec.PayloadType,
		params: domain.RtpParameters{
			Mid:              producer.params.Mid,
			Codecs:           []domain.RtpCodecParameters{codec},
			HeaderExtensions: producer.params.HeaderExtensions,
			Encodings:        []domain.RtpEncodingParameters{{SSRC: ssrc}},
			Rtcp:             domain.RtcpParameters{CNAME: producer.params.Rtcp.CNAME, ReducedSize: true},
		},
	}
	c.paused.Store(paused)
	c.gated = producer.kind == domain.KindVideo && canDetectKeyFrames(codec.MimeType)
	c.awaitKeyFrame.Store(c.gated)
	return c
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind              { return c.producer.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.params }
func (c *Consumer) Paused() bool                        { return c.paused.Load() }
func (c *Consumer) ProducerPaused() bool                { return c.producer.Paused() }

func (c *Consumer) Pause() error {
	if c.Closed() {
		return domain.ErrConsumerClosed
	}
	c.paused.Store(true)
	return nil
}

func (c *Consumer) Resume() error {
	if c.Closed() {
		return domain.ErrConsumerClosed
	}
	if c.paused.Swap(false) {
		c.awaitKeyFrame.Store(c.gated)
		c.producer.requestKeyFrame()
	}
	return nil
}

// forward rewrites pkt for this consumer and writes it out.
func (c *Consumer) forward(pkt *rtp.Packet) {
	if c.paused.Load() || c.Closed() {
		return
	}
	if c.awaitKeyFrame.Load() {
		if !isKeyFrame(c.params.Codecs[0].MimeType, pkt.Payload) {
			return
		}
		c.awaitKeyFrame.Store(false)
	}
	out := *pkt
	out.SSRC = c.ssrc
	out.PayloadType = c.payloadType
	c.transport.link.writeRTP(c, &out)
}

func (c *Consumer) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.producer.removeConsumer(c)
	c.transport.removeConsumer(c)
	c.transport.link.detachConsumer(c)
	c.notify()
	return nil
}
