package webrtc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"sfucore/internal/core/domain"
)

// webrtcLink is an ICE+DTLS+SRTP link built from pion's ORTC objects.
// Receivers and senders start once DTLS is connected.
type webrtcLink struct {
	t *Transport

	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	iceParams  webrtc.ICEParameters
	candidates []webrtc.ICECandidate
	dtlsParams webrtc.DTLSParameters

	mu        sync.Mutex
	connected bool
	receivers map[string]*webrtc.RTPReceiver
	senders   map[string]*rtpSender
}

type rtpSender struct {
	sender  *webrtc.RTPSender
	track   *webrtc.TrackLocalStaticRTP
	started bool
}

func newWebRtcTransport(ctx context.Context, r *Router, s domain.WebRtcSettings) (*Transport, error) {
	cfg := r.worker.engine.config
	if !s.EnableUDP {
		return nil, fmt.Errorf("%w: webrtc transports need udp", domain.ErrUnsupportedTransport)
	}

	se := webrtc.SettingEngine{}
	if cfg.RTCMinPort > 0 && cfg.RTCMaxPort > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.RTCMinPort, cfg.RTCMaxPort); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}
	listen := s.ListenIPs
	if len(listen) == 0 {
		listen = cfg.ListenIPs
	}
	if filter, loopback := ipFilter(listen); filter != nil {
		se.SetIPFilter(filter)
		se.SetIncludeLoopbackCandidate(loopback)
	}
	announced := s.AnnouncedIP
	if announced == "" {
		announced = cfg.AnnouncedIP
	}
	if announced != "" {
		se.SetNAT1To1IPs([]string{announced}, webrtc.ICECandidateTypeHost)
	}
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})

	media, err := r.mediaEngine()
	if err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(media))

	servers := r.worker.engine.iceServers()
	for _, srv := range s.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: srv.URLs, Username: srv.Username, Credential: srv.Credential})
	}
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	l := &webrtcLink{
		api:       api,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		receivers: make(map[string]*webrtc.RTPReceiver),
		senders:   make(map[string]*rtpSender),
	}
	if err := l.gather(ctx); err != nil {
		l.close()
		return nil, err
	}

	t := newTransport(r, domain.TransportWebRtc)
	t.link = l
	l.t = t
	dtls.OnStateChange(func(state webrtc.DTLSTransportState) {
		if state == webrtc.DTLSTransportStateFailed || state == webrtc.DTLSTransportStateClosed {
			r.worker.goSafe("webrtc transport close", func(context.Context) { t.Close() })
		}
	})
	return t, nil
}

// ipFilter restricts gathering to the listen IPs. A wildcard means any
// interface.
func ipFilter(listen []string) (func(net.IP) bool, bool) {
	allowed := make([]net.IP, 0, len(listen))
	loopback := false
	for _, s := range listen {
		ip := net.ParseIP(s)
		if ip == nil || ip.IsUnspecified() {
			return nil, false
		}
		loopback = loopback || ip.IsLoopback()
		allowed = append(allowed, ip)
	}
	if len(allowed) == 0 {
		return nil, false
	}
	return func(ip net.IP) bool {
		for _, a := range allowed {
			if a.Equal(ip) {
				return true
			}
		}
		return false
	}, loopback
}

func (l *webrtcLink) gather(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	l.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := l.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var err error
	if l.iceParams, err = l.gatherer.GetLocalParameters(); err != nil {
		return fmt.Errorf("local ice parameters: %w", err)
	}
	if l.candidates, err = l.gatherer.GetLocalCandidates(); err != nil {
		return fmt.Errorf("local candidates: %w", err)
	}
	if l.dtlsParams, err = l.dtls.GetLocalParameters(); err != nil {
		return fmt.Errorf("local dtls parameters: %w", err)
	}
	return nil
}

func (l *webrtcLink) describe(info *domain.TransportInfo) {
	info.IceParameters = &domain.IceParameters{
		UsernameFragment: l.iceParams.UsernameFragment,
		Password:         l.iceParams.Password,
		IceLite:          l.iceParams.ICELite,
	}
	info.IceCandidates = make([]domain.IceCandidate, 0, len(l.candidates))
	for _, c := range l.candidates {
		info.IceCandidates = append(info.IceCandidates, domain.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		})
	}
	fingerprints := make([]domain.DtlsFingerprint, 0, len(l.dtlsParams.Fingerprints))
	for _, f := range l.dtlsParams.Fingerprints {
		fingerprints = append(fingerprints, domain.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	info.DtlsParameters = &domain.DtlsParameters{Role: "auto", Fingerprints: fingerprints}
}

// connect validates the remote parameters and starts ICE and DTLS in the
// background. WaitConnected reports completion.
func (l *webrtcLink) connect(_ context.Context, params domain.ConnectParams) error {
	if params.Dtls == nil || params.Ice == nil || len(params.Dtls.Fingerprints) == 0 {
		return domain.ErrMissingRemoteParams
	}

	candidates := make([]webrtc.ICECandidate, 0, len(params.Candidates))
	for _, c := range params.Candidates {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return fmt.Errorf("%w: candidate protocol %q", domain.ErrMissingRemoteParams, c.Protocol)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return fmt.Errorf("%w: candidate type %q", domain.ErrMissingRemoteParams, c.Type)
		}
		candidates = append(candidates, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}
	if err := l.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("remote candidates: %w", err)
	}

	remoteICE := webrtc.ICEParameters{
		UsernameFragment: params.Ice.UsernameFragment,
		Password:         params.Ice.Password,
		ICELite:          params.Ice.IceLite,
	}
	remoteDTLS := webrtc.DTLSParameters{Role: dtlsRole(params.Dtls.Role)}
	for _, f := range params.Dtls.Fingerprints {
		remoteDTLS.Fingerprints = append(remoteDTLS.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}

	l.t.router.worker.goSafe("webrtc connect", func(context.Context) {
		role := webrtc.ICERoleControlled
		if err := l.ice.Start(nil, remoteICE, &role); err != nil {
			l.t.logger.Warnw("ice start failed", "error", err)
			l.t.Close()
			return
		}
		if err := l.dtls.Start(remoteDTLS); err != nil {
			l.t.logger.Warnw("dtls handshake failed", "error", err)
			l.t.Close()
			return
		}
		l.onConnected()
	})
	return nil
}

func dtlsRole(role string) webrtc.DTLSRole {
	switch strings.ToLower(role) {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

// onConnected starts every receiver and sender created before the
// handshake finished.
func (l *webrtcLink) onConnected() {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	l.t.markUp()

	l.t.mu.Lock()
	producers := make([]*Producer, 0, len(l.t.producers))
	for _, p := range l.t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(l.t.consumers))
	for _, c := range l.t.consumers {
		consumers = append(consumers, c)
	}
	l.t.mu.Unlock()

	for _, p := range producers {
		l.startReceiver(p)
	}
	for _, c := range consumers {
		l.startSender(c)
	}
}

func (l *webrtcLink) attachProducer(p *Producer) error {
	rx, err := l.api.NewRTPReceiver(pionKind(p.kind), l.dtls)
	if err != nil {
		return fmt.Errorf("rtp receiver: %w", err)
	}
	l.mu.Lock()
	l.receivers[p.id] = rx
	connected := l.connected
	l.mu.Unlock()
	if connected {
		l.startReceiver(p)
	}
	return nil
}

func (l *webrtcLink) startReceiver(p *Producer) {
	l.mu.Lock()
	rx := l.receivers[p.id]
	l.mu.Unlock()
	if rx == nil {
		return
	}
	err := rx.Receive(webrtc.RTPReceiveParameters{Encodings: []webrtc.RTPDecodingParameters{{
		RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(p.ssrc), PayloadType: webrtc.PayloadType(p.payloadType)},
	}}})
	if err != nil {
		l.t.logger.Warnw("rtp receiver failed to start", "producer_id", p.id, "error", err)
		return
	}
	l.t.router.worker.goSafe("rtp receive", func(ctx context.Context) {
		track := rx.Track()
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			p.deliver(pkt)
		}
	})
}

func (l *webrtcLink) detachProducer(p *Producer) {
	l.mu.Lock()
	rx := l.receivers[p.id]
	delete(l.receivers, p.id)
	l.mu.Unlock()
	if rx != nil {
		rx.Stop()
	}
}

func (l *webrtcLink) attachConsumer(c *Consumer) error {
	codec := c.params.Codecs[0]
	track, err := webrtc.NewTrackLocalStaticRTP(
		toPionCapability(codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters, codec.RtcpFeedback),
		c.id,
		c.producer.id,
	)
	if err != nil {
		return fmt.Errorf("local track: %w", err)
	}
	sender, err := l.api.NewRTPSender(track, l.dtls)
	if err != nil {
		return fmt.Errorf("rtp sender: %w", err)
	}

	l.mu.Lock()
	l.senders[c.id] = &rtpSender{sender: sender, track: track}
	connected := l.connected
	l.mu.Unlock()
	if connected {
		l.startSender(c)
	}
	return nil
}

func (l *webrtcLink) startSender(c *Consumer) {
	l.mu.Lock()
	s := l.senders[c.id]
	l.mu.Unlock()
	if s == nil {
		return
	}
	err := s.sender.Send(webrtc.RTPSendParameters{Encodings: []webrtc.RTPEncodingParameters{{
		RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(c.ssrc), PayloadType: webrtc.PayloadType(c.payloadType)},
	}}})
	if err != nil {
		l.t.logger.Warnw("rtp sender failed to start", "consumer_id", c.id, "error", err)
		return
	}
	l.mu.Lock()
	s.started = true
	l.mu.Unlock()

	l.t.router.worker.goSafe("rtcp relay", func(ctx context.Context) {
		for {
			pkts, _, err := s.sender.ReadRTCP()
			if err != nil {
				return
			}
			for _, pkt := range pkts {
				switch pkt.(type) {
				case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
					c.producer.requestKeyFrame()
				}
			}
		}
	})
}

func (l *webrtcLink) detachConsumer(c *Consumer) {
	l.mu.Lock()
	s := l.senders[c.id]
	delete(l.senders, c.id)
	l.mu.Unlock()
	if s != nil {
		s.sender.Stop()
	}
}

func (l *webrtcLink) writeRTP(c *Consumer, pkt *rtp.Packet) {
	l.mu.Lock()
	s := l.senders[c.id]
	ready := s != nil && s.started
	l.mu.Unlock()
	if !ready {
		return
	}
	if err := s.track.WriteRTP(pkt); err != nil {
		l.t.logger.Debugw("rtp write failed", "consumer_id", c.id, "error", err)
	}
}

func (l *webrtcLink) writeRTCP(pkts []rtcp.Packet) {
	l.mu.Lock()
	connected := l.connected
	l.mu.Unlock()
	if !connected {
		return
	}
	if _, err := l.dtls.WriteRTCP(pkts); err != nil {
		l.t.logger.Debugw("rtcp write failed", "error", err)
	}
}

func (l *webrtcLink) close() {
	l.mu.Lock()
	l.connected = false
	receivers := l.receivers
	senders := l.senders
	l.receivers = make(map[string]*webrtc.RTPReceiver)
	l.senders = make(map[string]*rtpSender)
	l.mu.Unlock()

	for _, rx := range receivers {
		rx.Stop()
	}
	for _, s := range senders {
		s.sender.Stop()
	}
	l.dtls.Stop()
	l.ice.Stop()
	l.gatherer.Close()
}
