package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"sfucore/internal/core/domain"
)

// directLink keeps media in process: the application feeds producers with
// SendRTP and receives consumer packets through OnRTP.
type directLink struct {
	t              *Transport
	maxMessageSize int

	mu         sync.RWMutex
	onRTP      func(consumerID string, pkt *rtp.Packet)
	onKeyFrame func(ssrc uint32)
}

func newDirectTransport(r *Router, s domain.DirectSettings) *Transport {
	t := newTransport(r, domain.TransportDirect)
	size := s.MaxMessageSize
	if size <= 0 {
		size = 262144
	}
	t.link = &directLink{t: t, maxMessageSize: size}
	t.markUp()
	return t
}

func (t *Transport) direct() (*directLink, error) {
	l, ok := t.link.(*directLink)
	if !ok {
		return nil, fmt.Errorf("%w: %s transport is not direct", domain.ErrUnsupportedTransport, t.class)
	}
	return l, nil
}

// SendRTP injects pkt into the producer owning its SSRC. Only direct
// transports accept it.
func (t *Transport) SendRTP(pkt *rtp.Packet) error {
	l, err := t.direct()
	if err != nil {
		return err
	}
	if t.Closed() {
		return domain.ErrTransportClosed
	}
	if size := pkt.MarshalSize(); size > l.maxMessageSize {
		return fmt.Errorf("packet of %d bytes exceeds max message size %d", size, l.maxMessageSize)
	}
	t.deliverRTP(pkt)
	return nil
}

// OnRTP registers the sink for packets of this transport's consumers. The
// packet is only valid during the call.
func (t *Transport) OnRTP(fn func(consumerID string, pkt *rtp.Packet)) error {
	l, err := t.direct()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.onRTP = fn
	l.mu.Unlock()
	return nil
}

// OnKeyFrameRequest registers the sink for key frame requests aimed at
// this transport's producers.
func (t *Transport) OnKeyFrameRequest(fn func(ssrc uint32)) error {
	l, err := t.direct()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.onKeyFrame = fn
	l.mu.Unlock()
	return nil
}

// RequestKeyFrame lets the application ask for a key frame on behalf of
// one of this transport's consumers.
func (t *Transport) RequestKeyFrame(consumerID string) error {
	t.mu.Lock()
	c, ok := t.consumers[consumerID]
	t.mu.Unlock()
	if !ok {
		return domain.ErrConsumerClosed
	}
	t.deliverRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: c.ssrc}})
	return nil
}

func (l *directLink) describe(*domain.TransportInfo) {}

func (l *directLink) connect(context.Context, domain.ConnectParams) error { return nil }

func (l *directLink) attachProducer(*Producer) error { return nil }
func (l *directLink) detachProducer(*Producer)       {}
func (l *directLink) attachConsumer(*Consumer) error { return nil }
func (l *directLink) detachConsumer(*Consumer)       {}

func (l *directLink) writeRTP(c *Consumer, pkt *rtp.Packet) {
	l.mu.RLock()
	fn := l.onRTP
	l.mu.RUnlock()
	if fn != nil {
		fn(c.id, pkt)
	}
}

func (l *directLink) writeRTCP(pkts []rtcp.Packet) {
	l.mu.RLock()
	fn := l.onKeyFrame
	l.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, pkt := range pkts {
		if pli, ok := pkt.(*rtcp.PictureLossIndication); ok {
			fn(pli.MediaSSRC)
		}
	}
}

func (l *directLink) close() {}
