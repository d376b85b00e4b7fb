package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"sfucore/internal/core/domain"
)

// udpLink carries plain RTP and RTCP over one UDP socket. It backs both
// plain and pipe transports; only plain supports comedia.
type udpLink struct {
	t         *Transport
	conn      *net.UDPConn
	announced string
	comedia   bool

	mu     sync.Mutex
	remote *net.UDPAddr
}

func newUDPTransport(r *Router, class domain.TransportClass, listenIP, announcedIP string, comedia bool) (*Transport, error) {
	cfg := r.worker.engine.config
	if listenIP == "" {
		listenIP = "127.0.0.1"
		if len(cfg.ListenIPs) > 0 {
			listenIP = cfg.ListenIPs[0]
		}
	}
	if announcedIP == "" {
		announcedIP = cfg.AnnouncedIP
	}
	ip := net.ParseIP(listenIP)
	if ip == nil {
		return nil, fmt.Errorf("%w: invalid listen ip %q", domain.ErrUnsupportedTransport, listenIP)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	t := newTransport(r, class)
	l := &udpLink{t: t, conn: conn, announced: announcedIP, comedia: comedia}
	t.link = l
	r.worker.goSafe("udp read", l.readLoop)
	return t, nil
}

func (l *udpLink) readLoop(ctx context.Context) {
	pool := l.t.router.worker.engine.buffers
	buf := pool.Get()
	defer pool.Put(buf)

	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.t.logger.Warnw("udp read failed", "error", err)
				l.t.Close()
			}
			return
		}
		if !l.accept(addr) {
			continue
		}
		data := buf[:n]
		if isRTCP(data) {
			pkts, err := rtcp.Unmarshal(data)
			if err != nil {
				continue
			}
			l.t.deliverRTCP(pkts)
			continue
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			continue
		}
		l.t.deliverRTP(pkt)
	}
}

// accept learns the remote address under comedia and otherwise drops
// datagrams from unknown sources.
func (l *udpLink) accept(addr *net.UDPAddr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote == nil {
		if !l.comedia {
			return false
		}
		l.remote = addr
		l.t.logger.Debugw("remote address learned", "remote", addr.String())
		l.t.markUp()
		return true
	}
	return l.remote.IP.Equal(addr.IP) && l.remote.Port == addr.Port
}

// isRTCP demultiplexes RTP and RTCP sharing a port (RFC 5761).
func isRTCP(b []byte) bool {
	return len(b) >= 2 && b[1] >= 192 && b[1] <= 223
}

func (l *udpLink) connect(_ context.Context, params domain.ConnectParams) error {
	if params.IP == "" || params.Port == 0 {
		if l.comedia {
			return nil
		}
		return domain.ErrMissingRemoteParams
	}
	ip := net.ParseIP(params.IP)
	if ip == nil {
		return fmt.Errorf("%w: invalid ip %q", domain.ErrMissingRemoteParams, params.IP)
	}
	l.mu.Lock()
	l.remote = &net.UDPAddr{IP: ip, Port: int(params.Port)}
	l.mu.Unlock()
	l.t.markUp()
	return nil
}

func (l *udpLink) describe(info *domain.TransportInfo) {
	local := l.conn.LocalAddr().(*net.UDPAddr)
	tuple := &domain.TransportTuple{
		LocalIP:   local.IP.String(),
		LocalPort: uint16(local.Port),
		Protocol:  "udp",
	}
	if l.announced != "" {
		tuple.LocalIP = l.announced
	}
	l.mu.Lock()
	if l.remote != nil {
		tuple.RemoteIP = l.remote.IP.String()
		tuple.RemotePort = uint16(l.remote.Port)
	}
	l.mu.Unlock()
	info.Tuple = tuple
}

func (l *udpLink) attachProducer(*Producer) error { return nil }
func (l *udpLink) detachProducer(*Producer)       {}
func (l *udpLink) attachConsumer(*Consumer) error { return nil }
func (l *udpLink) detachConsumer(*Consumer)       {}

func (l *udpLink) write(b []byte) {
	l.mu.Lock()
	remote := l.remote
	l.mu.Unlock()
	if remote == nil {
		return
	}
	if _, err := l.conn.WriteToUDP(b, remote); err != nil && !errors.Is(err, net.ErrClosed) {
		l.t.logger.Debugw("udp write failed", "error", err)
	}
}

func (l *udpLink) writeRTP(_ *Consumer, pkt *rtp.Packet) {
	b, err := pkt.Marshal()
	if err != nil {
		return
	}
	l.write(b)
}

func (l *udpLink) writeRTCP(pkts []rtcp.Packet) {
	b, err := rtcp.Marshal(pkts)
	if err != nil {
		return
	}
	l.write(b)
}

func (l *udpLink) close() {
	l.conn.Close()
}
