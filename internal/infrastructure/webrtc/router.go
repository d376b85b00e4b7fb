package webrtc

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

const audioLevelExtensionID = 1

// Router forwards media between the transports created on it.
type Router struct {
	closeNotifier

	id     string
	worker *Worker
	logger *zap.SugaredLogger
	codecs []domain.RtpCodecCapability
	caps   domain.RtpCapabilities

	mu         sync.RWMutex
	transports map[string]*Transport
	producers  map[string]*Producer
	observers  map[*AudioLevelObserver]struct{}
}

var _ ports.Router = (*Router)(nil)

func newRouter(w *Worker, codecs []domain.RtpCodecCapability) (*Router, error) {
	if len(codecs) == 0 {
		return nil, fmt.Errorf("%w: router needs at least one codec", domain.ErrUnsupportedCodec)
	}
	seen := make(map[uint8]bool, len(codecs))
	for _, c := range codecs {
		if _, err := domain.ParseMediaKind(string(c.Kind)); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedCodec, err)
		}
		if !strings.HasPrefix(strings.ToLower(c.MimeType), string(c.Kind)+"/") {
			return nil, fmt.Errorf("%w: mime type %q does not match kind %s", domain.ErrUnsupportedCodec, c.MimeType, c.Kind)
		}
		if seen[c.PreferredPayloadType] {
			return nil, fmt.Errorf("%w: duplicate payload type %d", domain.ErrUnsupportedCodec, c.PreferredPayloadType)
		}
		seen[c.PreferredPayloadType] = true
	}

	id := uuid.NewString()
	return &Router{
		id:     id,
		worker: w,
		logger: w.logger.With("router_id", id),
		codecs: codecs,
		caps: domain.RtpCapabilities{
			Codecs: append([]domain.RtpCodecCapability(nil), codecs...),
			HeaderExtensions: []domain.RtpHeaderExtension{
				{Kind: domain.KindAudio, URI: AudioLevelURI, PreferredID: audioLevelExtensionID},
			},
		},
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
		observers:  make(map[*AudioLevelObserver]struct{}),
	}, nil
}

func (r *Router) ID() string                              { return r.id }
func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }

func (r *Router) CreateTransport(ctx context.Context, settings domain.TransportSettings) (ports.Transport, error) {
	if r.Closed() {
		return nil, domain.ErrRouterClosed
	}

	var (
		t   *Transport
		err error
	)
	switch s := settings.(type) {
	case domain.WebRtcSettings:
		t, err = newWebRtcTransport(ctx, r, s)
	case domain.PlainSettings:
		t, err = newUDPTransport(r, domain.TransportPlain, s.ListenIP, s.AnnouncedIP, s.Comedia)
	case domain.PipeSettings:
		t, err = newUDPTransport(r, domain.TransportPipe, s.ListenIP, s.AnnouncedIP, false)
	case domain.DirectSettings:
		t = newDirectTransport(r, s)
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedTransport, settings)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()
	t.OnClose(func() {
		r.mu.Lock()
		delete(r.transports, t.id)
		r.mu.Unlock()
	})

	r.logger.Debugw("transport created", "transport_id", t.id, "class", t.class)
	return t, nil
}

// CanConsume reports whether a consumer with caps can receive producerID.
func (r *Router) CanConsume(producerID string, caps domain.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok || p.Closed() {
		return false
	}
	codec := p.codec()
	for _, c := range caps.Codecs {
		if domain.SameCodec(c, codec) {
			return true
		}
	}
	return false
}

func (r *Router) CreateAudioLevelObserver(ctx context.Context, opts ports.AudioLevelObserverOptions) (ports.AudioLevelObserver, error) {
	if r.Closed() {
		return nil, domain.ErrRouterClosed
	}
	o := newAudioLevelObserver(r, opts)

	r.mu.Lock()
	r.observers[o] = struct{}{}
	r.mu.Unlock()
	o.start()
	return o, nil
}

// matchCodec returns the router codec negotiated as p, if any.
func (r *Router) matchCodec(p domain.RtpCodecParameters) (domain.RtpCodecCapability, bool) {
	for _, c := range r.codecs {
		if domain.SameCodec(c, p) {
			return c, true
		}
	}
	return domain.RtpCodecCapability{}, false
}

// mediaEngine builds a pion media engine advertising the router codecs.
// Every transport gets its own since pion does not share them.
func (r *Router) mediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range r.codecs {
		if err := m.RegisterCodec(toPionCodec(c), pionKind(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: AudioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}
	return m, nil
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(p *Producer) {
	r.mu.Lock()
	delete(r.producers, p.id)
	observers := make([]*AudioLevelObserver, 0, len(r.observers))
	for o := range r.observers {
		observers = append(observers, o)
	}
	r.mu.Unlock()
	for _, o := range observers {
		o.RemoveProducer(p.id)
	}
}

func (r *Router) removeObserver(o *AudioLevelObserver) {
	r.mu.Lock()
	delete(r.observers, o)
	r.mu.Unlock()
}

func (r *Router) Close() error {
	if !r.markClosed() {
		return nil
	}
	r.mu.Lock()
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	observers := make([]*AudioLevelObserver, 0, len(r.observers))
	for o := range r.observers {
		observers = append(observers, o)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	for _, o := range observers {
		o.Close()
	}
	r.logger.Debugw("router closed")
	r.notify()
	return nil
}

func pionKind(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func toPionCapability(mimeType string, clockRate uint32, channels uint16, params map[string]string, fb []domain.RtcpFeedback) webrtc.RTPCodecCapability {
	fmtp := make([]string, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		fmtp = append(fmtp, k+"="+params[k])
	}
	feedback := make([]webrtc.RTCPFeedback, 0, len(fb))
	for _, f := range fb {
		feedback = append(feedback, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return webrtc.RTPCodecCapability{
		MimeType:     mimeType,
		ClockRate:    clockRate,
		Channels:     channels,
		SDPFmtpLine:  strings.Join(fmtp, ";"),
		RTCPFeedback: feedback,
	}
}

func toPionCodec(c domain.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: toPionCapability(c.MimeType, c.ClockRate, c.Channels, c.Parameters, c.RtcpFeedback),
		PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
	}
}
