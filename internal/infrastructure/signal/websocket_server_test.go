package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sfucore/internal/core/domain"
	"sfucore/internal/testutil"
	apperrors "sfucore/pkg/errors"
)

type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result"`
	Error   *AckError       `json:"error"`
	Event   string          `json:"event"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

type fixture struct {
	ctrl *testutil.MockController
	hub  *Hub
	srv  *httptest.Server
	left chan domain.Caller
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	// Connections outlive the test body, so the server must not log through t.
	logger := zap.NewNop().Sugar()
	f := &fixture{ctrl: &testutil.MockController{}, hub: NewHub(logger), left: make(chan domain.Caller, 8)}
	f.ctrl.On("Touch", mock.Anything, mock.Anything).Maybe()
	f.ctrl.On("Leave", mock.Anything, mock.Anything).Return(true, nil).Run(func(args mock.Arguments) {
		select {
		case f.left <- args.Get(1).(domain.Caller):
		default:
		}
	}).Maybe()

	ws := NewWebSocketServer(f.ctrl, f.hub, opts, logger, nil)
	f.srv = httptest.NewServer(ws.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func request(t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Type: typ, ID: id, Payload: raw}))
}

func next(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

var alice = domain.Caller{RoomID: "42", UserID: "alice", Token: "tok"}

func (f *fixture) join(t *testing.T, conn *websocket.Conn, who domain.Caller) {
	t.Helper()
	f.ctrl.On("Join", mock.Anything, who).
		Return(&domain.JoinResult{RoomID: who.RoomID, UserID: who.UserID}, nil).Once()
	request(t, conn, "join", "1", Request{RoomID: who.RoomID, UserID: who.UserID, Token: who.Token})
	ack := next(t, conn)
	require.True(t, ack.OK, "join ack: %+v", ack.Error)
}

func TestWebSocketServer_JoinBindsAndDisconnectLeaves(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	f.join(t, conn, alice)

	require.Eventually(t, func() bool { return f.hub.Sessions() == 1 }, time.Second, 5*time.Millisecond)

	f.hub.Broadcast(context.Background(), []string{"alice", "bob"}, domain.RoomEvent{
		Type: domain.EventPeerJoined, RoomID: "42", UserID: "bob", Class: domain.PeerPrimary,
	})
	ev := next(t, conn)
	assert.Equal(t, "event", ev.Type)
	assert.Equal(t, "peer-joined", ev.Event)
	assert.Equal(t, "42", ev.RoomID)

	conn.Close()

	select {
	case who := <-f.left:
		assert.Equal(t, alice, who)
	case <-time.After(2 * time.Second):
		t.Fatal("closing the socket did not leave the room")
	}
	assert.Eventually(t, func() bool { return f.hub.Sessions() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebSocketServer_BoundSessionIsTheCaller(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	f.join(t, conn, alice)

	f.ctrl.On("PauseProducer", mock.Anything, alice, "p-1").Return(true, nil).Once()
	request(t, conn, "pauseProducer", "2", Request{UserID: "mallory", ProducerID: "p-1"})

	ack := next(t, conn)
	assert.True(t, ack.OK)
	assert.JSONEq(t, `{"paused":true}`, string(ack.Result))
	f.ctrl.AssertExpectations(t)
}

func TestWebSocketServer_ErrorAcks(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)

	f.ctrl.On("Join", mock.Anything, alice).Return(nil, apperrors.NewUnauthorizedError("invalid token")).Once()
	request(t, conn, "join", "1", Request{RoomID: "42", UserID: "alice", Token: "tok"})
	ack := next(t, conn)
	assert.False(t, ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "UNAUTHORIZED", ack.Error.Code)
	assert.Equal(t, 0, f.hub.Sessions(), "failed join does not bind")

	request(t, conn, "teleport", "2", nil)
	ack = next(t, conn)
	assert.Equal(t, "2", ack.ID)
	assert.Equal(t, "INVALID_INPUT", ack.Error.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	ack = next(t, conn)
	assert.Equal(t, "INVALID_INPUT", ack.Error.Code)
}

func TestWebSocketServer_SendEchoesProducerStarted(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	f.join(t, conn, alice)

	f.ctrl.On("Send", mock.Anything, alice, mock.MatchedBy(func(req domain.SendRequest) bool {
		return req.TransportID == "t-1" && req.MediaType == domain.MediaCamera && req.Kind == domain.KindVideo
	})).Return(&domain.ProducerInfo{ID: "p-1", MediaType: domain.MediaCamera, Kind: domain.KindVideo}, nil).Once()

	request(t, conn, "sendTransport", "3", Request{TransportID: "t-1", MediaType: "Camera", Kind: "video"})

	var sawEvent, sawAck bool
	for i := 0; i < 2; i++ {
		msg := next(t, conn)
		switch msg.Type {
		case "event":
			sawEvent = true
			assert.Equal(t, "producer-started", msg.Event)
			var ev domain.RoomEvent
			require.NoError(t, json.Unmarshal(msg.Payload, &ev))
			assert.Equal(t, "alice", ev.UserID)
			assert.Equal(t, domain.MediaCamera, ev.MediaType)
		case "ack":
			sawAck = true
			assert.JSONEq(t, `{"id":"p-1"}`, string(msg.Result))
		}
	}
	assert.True(t, sawEvent)
	assert.True(t, sawAck)
}

func TestWebSocketServer_KickedSessionIsUnbound(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	f.join(t, conn, alice)

	f.hub.Broadcast(context.Background(), []string{"alice"}, domain.RoomEvent{
		Type: domain.EventPeerLeft, RoomID: "42", UserID: "alice", Reason: "kicked",
	})
	ev := next(t, conn)
	assert.Equal(t, "peer-left", ev.Event)
	assert.Equal(t, 0, f.hub.Sessions())
}

func TestWebSocketServer_RateLimited(t *testing.T) {
	f := newFixture(t, Options{NewLimiter: func() *rate.Limiter { return rate.NewLimiter(rate.Every(time.Hour), 1) }})
	conn := f.dial(t)

	f.ctrl.On("RoomList", mock.Anything, "alice", "tok").Return([]domain.RoomInfo{}, nil).Once()
	request(t, conn, "roomList", "1", Request{UserID: "alice", Token: "tok"})
	assert.True(t, next(t, conn).OK)

	request(t, conn, "roomList", "2", Request{UserID: "alice", Token: "tok"})
	ack := next(t, conn)
	assert.False(t, ack.OK)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", ack.Error.Code)
}

func TestWebSocketServer_Heartbeat(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)

	f.ctrl.On("Heartbeat", mock.Anything, "alice", "tok").Return(&domain.HeartbeatResult{Interval: 5 * time.Second, Peers: 1}, nil).Once()
	request(t, conn, "heartbeat", "1", Request{UserID: "alice", Token: "tok"})
	ack := next(t, conn)
	require.True(t, ack.OK)
	assert.JSONEq(t, `{"status":200,"interval":5000}`, string(ack.Result))
}

func TestWebSocketServer_JoinElsewhereLeavesPreviousSession(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	f.join(t, conn, alice)

	elsewhere := domain.Caller{RoomID: "43", UserID: "alice", Token: "tok"}
	f.ctrl.On("Join", mock.Anything, elsewhere).
		Return(&domain.JoinResult{RoomID: "43", UserID: "alice"}, nil).Once()
	request(t, conn, "join", "2", Request{RoomID: "43", UserID: "alice", Token: "tok"})
	require.True(t, next(t, conn).OK)

	select {
	case who := <-f.left:
		assert.Equal(t, alice, who)
	case <-time.After(2 * time.Second):
		t.Fatal("rejoining elsewhere did not leave the previous room")
	}
	assert.Equal(t, 1, f.hub.Sessions())
	assert.Nil(t, f.hub.lookup("42", "alice"))
	assert.NotNil(t, f.hub.lookup("43", "alice"))
}

func TestWebSocketServer_RepeatedJoinKeepsSession(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	f.join(t, conn, alice)
	f.join(t, conn, alice)

	select {
	case who := <-f.left:
		t.Fatalf("unexpected leave for %+v", who)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, f.hub.Sessions())
}

func TestWebSocketServer_AcceptInviteBindsDeviceToken(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)

	f.ctrl.On("AcceptInvite", mock.Anything, "123456", "phone").
		Return(&domain.JoinResult{RoomID: "42", UserID: "alice#phone", Token: "device-tok"}, nil).Once()
	request(t, conn, "acceptInvite", "1", Request{Code: "123456", DeviceID: "phone"})
	ack := next(t, conn)
	require.True(t, ack.OK)
	assert.Contains(t, string(ack.Result), `"token":"device-tok"`)

	phone := domain.Caller{RoomID: "42", UserID: "alice#phone", Token: "device-tok"}
	f.ctrl.On("PauseProducer", mock.Anything, phone, "p-1").Return(true, nil).Once()
	request(t, conn, "pauseProducer", "2", Request{ProducerID: "p-1"})
	require.True(t, next(t, conn).OK)
	f.ctrl.AssertExpectations(t)
}
