package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/internal/infrastructure/repositories/memory"
	"sfucore/internal/testutil"
)

const testSecret = "test-secret"

func testCodecs() []domain.RtpCodecCapability {
	return []domain.RtpCodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", PreferredPayloadType: 100, ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", PreferredPayloadType: 101, ClockRate: 90000},
	}
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

type harness struct {
	engine   *testutil.Engine
	pool     *WorkerPool
	dir      *Directory
	ctrl     *Controller
	identity *JWTIdentity
	events   *testutil.Broadcaster
	fatal    chan string
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()
	logger := testLogger(t)

	h := &harness{
		engine:   testutil.NewEngine(),
		identity: NewJWTIdentity(testSecret),
		events:   &testutil.Broadcaster{},
		fatal:    make(chan string, 4),
	}
	h.pool = NewWorkerPool(h.engine, logger, nil, func(workerID string, err error) { h.fatal <- workerID })
	require.NoError(t, h.pool.Initialize(context.Background(), workers))

	h.dir = NewDirectory(DirectoryConfig{InviteTTL: time.Minute, InviteMaxAttempts: 4}, memory.NewMemoryInviteRepository(), nil, logger, nil)
	h.ctrl = NewController(ControllerConfig{
		WebRtc: domain.WebRtcSettings{ListenIPs: []string{"127.0.0.1"}, EnableUDP: true},
		Room: RoomOptions{
			Codecs:   testCodecs(),
			Observer: ports.AudioLevelObserverOptions{Interval: 800 * time.Millisecond, Threshold: -80, MaxEntries: 1},
		},
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  30 * time.Second,
		MaxConnectWait:    time.Second,
	}, h.dir, h.pool, h.identity, h.events, nil, logger)

	t.Cleanup(func() {
		h.dir.CloseAll()
		h.pool.Close()
	})
	return h
}

func (h *harness) token(t *testing.T, userID string, adminRooms ...string) string {
	t.Helper()
	tok, err := h.identity.GenerateToken(userID, "", adminRooms, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) caller(t *testing.T, roomID, userID string, adminRooms ...string) domain.Caller {
	return domain.Caller{RoomID: roomID, UserID: userID, Token: h.token(t, userID, adminRooms...)}
}

func connectParams() domain.ConnectParams {
	return domain.ConnectParams{
		Dtls: &domain.DtlsParameters{Role: "client", Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}}},
		Ice:  &domain.IceParameters{UsernameFragment: "remote", Password: "secret"},
	}
}

func audioParams() domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RtpEncodingParameters{{SSRC: 1111}},
	}
}

// routerFor returns the fake router backing room.
func (h *harness) routerFor(t *testing.T, roomID string) *testutil.Router {
	t.Helper()
	room, err := h.dir.Get(roomID)
	require.NoError(t, err)
	for _, r := range h.engine.Routers() {
		if !r.Closed() && r.ID() == room.router.ID() {
			return r
		}
	}
	t.Fatalf("no router for room %s", roomID)
	return nil
}
