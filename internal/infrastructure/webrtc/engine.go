package webrtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/pkg/optimize"
)

// AudioLevelURI is the RFC 6464 header extension every router advertises.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// Config holds the network settings shared by every transport the engine
// creates.
type Config struct {
	RTCMinPort  uint16
	RTCMaxPort  uint16
	ListenIPs   []string
	AnnouncedIP string
	ICEServers  []domain.ICEServer
}

// Engine is the pion-backed media engine.
type Engine struct {
	config  Config
	logger  *zap.SugaredLogger
	buffers *optimize.BytePool

	mu      sync.Mutex
	workers map[string]*Worker
}

var _ ports.MediaEngine = (*Engine)(nil)

func NewEngine(config Config, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		config:  config,
		logger:  logger,
		buffers: optimize.NewBytePool(optimize.MTU),
		workers: make(map[string]*Worker),
	}
}

func (e *Engine) CreateWorker(ctx context.Context) (ports.EngineWorker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := newWorker(uuid.NewString(), e)

	e.mu.Lock()
	e.workers[w.id] = w
	e.mu.Unlock()
	w.OnClose(func() {
		e.mu.Lock()
		delete(e.workers, w.id)
		e.mu.Unlock()
	})

	e.logger.Infow("media worker started", "worker_id", w.id)
	return w, nil
}

func (e *Engine) iceServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(e.config.ICEServers))
	for _, s := range e.config.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, srv)
	}
	return servers
}
