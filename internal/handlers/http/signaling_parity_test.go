package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/services"
	httphandlers "sfucore/internal/handlers/http"
	"sfucore/internal/infrastructure/middleware"
	"sfucore/internal/infrastructure/repositories/memory"
	"sfucore/internal/infrastructure/signal"
	"sfucore/internal/testutil"
)

const stackSecret = "signaling-secret"

// stack serves one real Controller through both signaling adapters.
type stack struct {
	engine   *testutil.Engine
	identity *services.JWTIdentity
	rest     *gin.Engine
	ws       *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	// Sockets outlive the test body, so nothing logs through t.
	logger := zap.NewNop().Sugar()

	s := &stack{engine: testutil.NewEngine(), identity: services.NewJWTIdentity(stackSecret)}
	pool := services.NewWorkerPool(s.engine, logger, nil, func(string, error) {})
	require.NoError(t, pool.Initialize(context.Background(), 2))

	dir := services.NewDirectory(services.DirectoryConfig{InviteTTL: time.Minute}, memory.NewMemoryInviteRepository(), nil, logger, nil)
	hub := signal.NewHub(logger)
	ctrl := services.NewController(services.ControllerConfig{
		WebRtc: domain.WebRtcSettings{ListenIPs: []string{"127.0.0.1"}, EnableUDP: true},
		Room: services.RoomOptions{Codecs: []domain.RtpCodecCapability{
			{Kind: domain.KindAudio, MimeType: "audio/opus", PreferredPayloadType: 100, ClockRate: 48000, Channels: 2},
		}},
		MaxConnectWait: time.Second,
	}, dir, pool, s.identity, hub, nil, logger)

	s.rest = gin.New()
	s.rest.Use(middleware.AccessTokenMiddleware(), middleware.ErrorHandlerMiddleware(logger))
	httphandlers.NewRoomHandler(ctrl).SetupRoutes(s.rest)

	s.ws = httptest.NewServer(signal.NewWebSocketServer(ctrl, hub, signal.Options{}, logger, nil).Handler())
	t.Cleanup(func() {
		s.ws.Close()
		dir.CloseAll()
		pool.Close()
	})
	return s
}

func (s *stack) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.identity.GenerateToken(userID, "", nil, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *stack) post(t *testing.T, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(http.MethodPost, path, nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.AccessTokenHeader, token)
	w := httptest.NewRecorder()
	s.rest.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func (s *stack) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.ws.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireFrame struct {
	Type    string           `json:"type"`
	ID      string           `json:"id"`
	OK      bool             `json:"ok"`
	Result  json.RawMessage  `json:"result"`
	Error   *signal.AckError `json:"error"`
	Event   string           `json:"event"`
	Payload domain.RoomEvent `json:"payload"`
}

func read(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// call sends one request and returns its ack, skipping pushed events.
func call(t *testing.T, conn *websocket.Conn, typ string, req signal.Request) wireFrame {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(signal.Frame{Type: typ, ID: typ, Payload: raw}))
	for {
		if f := read(t, conn); f.Type == "ack" && f.ID == typ {
			return f
		}
	}
}

// awaitEvent reads until an event of type ev arrives.
func awaitEvent(t *testing.T, conn *websocket.Conn, ev domain.EventType) domain.RoomEvent {
	t.Helper()
	for {
		if f := read(t, conn); f.Type == "event" && f.Event == string(ev) {
			return f.Payload
		}
	}
}

func TestSignaling_AdaptersAgree(t *testing.T) {
	s := newStack(t)
	aliceTok, bobTok := s.token(t, "alice"), s.token(t, "bob")
	forged, err := services.NewJWTIdentity("someone-else").GenerateToken("alice", "", nil, time.Hour)
	require.NoError(t, err)

	bobConn := s.dial(t)
	aliceConn := s.dial(t)

	// A bad token is rejected the same way by both adapters.
	status, body := s.post(t, "/room/42/user/alice/join", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	ack := call(t, aliceConn, "join", signal.Request{RoomID: "42", UserID: "alice", Token: forged})
	require.False(t, ack.OK)
	assert.Equal(t, body["error"], ack.Error.Code)
	assert.Equal(t, "UNAUTHORIZED", ack.Error.Code)

	ack = call(t, bobConn, "join", signal.Request{RoomID: "42", UserID: "bob", Token: bobTok})
	require.True(t, ack.OK, "bob join: %+v", ack.Error)

	status, _ = s.post(t, "/room/42/user/alice/join", aliceTok, nil)
	require.Equal(t, http.StatusOK, status)
	joined := awaitEvent(t, bobConn, domain.EventPeerJoined)
	assert.Equal(t, "alice", joined.UserID)

	status, transport := s.post(t, "/room/42/user/alice/transport/create/send", aliceTok, nil)
	require.Equal(t, http.StatusOK, status)
	transportID, _ := transport["id"].(string)
	require.NotEmpty(t, transportID)

	status, producer := s.post(t, "/room/42/user/alice/transport/"+transportID+"/send", aliceTok, map[string]any{
		"type": "Voice",
		"kind": "audio",
		"rtpParameters": domain.RtpParameters{
			Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000, Channels: 2}},
			Encodings: []domain.RtpEncodingParameters{{SSRC: 1111}},
		},
	})
	require.Equal(t, http.StatusOK, status)
	producerID, _ := producer["id"].(string)
	require.NotEmpty(t, producerID)
	started := awaitEvent(t, bobConn, domain.EventProducerStarted)
	assert.Equal(t, "alice", started.UserID)
	assert.Equal(t, domain.MediaVoice, started.MediaType)

	// Pausing twice, once per adapter, reaches the engine once.
	asAlice := signal.Request{RoomID: "42", UserID: "alice", Token: aliceTok, ProducerID: producerID}
	status, body = s.post(t, "/room/42/user/alice/produce/"+producerID+"/pause", aliceTok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["paused"])
	ack = call(t, aliceConn, "pauseProducer", asAlice)
	require.True(t, ack.OK)
	assert.JSONEq(t, `{"paused":true}`, string(ack.Result))

	status, body = s.post(t, "/room/42/user/alice/produce/"+producerID+"/resume", aliceTok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["resumed"])
	ack = call(t, aliceConn, "resumeProducer", asAlice)
	require.True(t, ack.OK)
	assert.JSONEq(t, `{"resumed":true}`, string(ack.Result))

	fake := s.producer(t, producerID)
	assert.EqualValues(t, 1, fake.PauseCalls.Load())
	assert.EqualValues(t, 1, fake.ResumeCalls.Load())

	// Leaving is announced to the push channel and answered alike.
	status, body = s.post(t, "/room/42/user/alice/leave", aliceTok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["leave"])
	left := awaitEvent(t, bobConn, domain.EventPeerLeft)
	assert.Equal(t, "alice", left.UserID)

	ack = call(t, bobConn, "leave", signal.Request{})
	require.True(t, ack.OK)
	assert.JSONEq(t, `{"leave":true}`, string(ack.Result))

	status, body = s.post(t, "/room/42/user/alice/leave", aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, status)
	ack = call(t, bobConn, "leave", signal.Request{RoomID: "42", UserID: "bob", Token: bobTok})
	require.False(t, ack.OK)
	assert.Equal(t, body["error"], ack.Error.Code)
	assert.Equal(t, "NOT_FOUND", ack.Error.Code)
}

func (s *stack) producer(t *testing.T, id string) *testutil.Producer {
	t.Helper()
	for _, r := range s.engine.Routers() {
		for _, tr := range r.Transports() {
			for _, p := range tr.Producers() {
				if p.ID() == id {
					return p
				}
			}
		}
	}
	t.Fatalf("no producer %s", id)
	return nil
}
