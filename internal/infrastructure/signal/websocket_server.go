package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/internal/infrastructure/middleware"
	"sfucore/pkg/config"
	apperrors "sfucore/pkg/errors"
	rlog "sfucore/pkg/logger"
	"sfucore/pkg/tracing"
	"sfucore/pkg/utils"
)

var upgrader = websocket.Upgrader{
	// Browsers connect from the application origin; tokens are checked per call.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ConnectionMetrics counts open websocket connections.
type ConnectionMetrics interface {
	WSConnected()
	WSDisconnected()
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	// NewLimiter returns a per-connection limiter, or nil for none.
	NewLimiter func() *rate.Limiter
}

// OptionsFromConfig derives connection options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		SendBuffer:     64,
		NewLimiter:     func() *rate.Limiter { return middleware.NewMessageLimiter(cfg) },
	}
	return opts
}

type handlerFunc func(ctx context.Context, c *client, req *Request) (any, error)

// WebSocketServer is the push signaling adapter. Each connection's
// requests are handled in arrival order.
type WebSocketServer struct {
	ctrl     ports.Controller
	hub      *Hub
	opts     Options
	logger   *zap.SugaredLogger
	reqLog   *rlog.ContextLogger
	metrics  ConnectionMetrics
	handlers map[string]handlerFunc
}

func NewWebSocketServer(ctrl ports.Controller, hub *Hub, opts Options, logger *zap.SugaredLogger, metrics ConnectionMetrics) *WebSocketServer {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PongTimeout <= opts.PingInterval {
		opts.PongTimeout = 2 * opts.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}

	s := &WebSocketServer{
		ctrl:    ctrl,
		hub:     hub,
		opts:    opts,
		logger:  logger,
		reqLog:  rlog.NewContextLogger(logger.Desugar()),
		metrics: metrics,
	}
	s.handlers = map[string]handlerFunc{
		"join":                s.handleJoin,
		"leave":               s.handleLeave,
		"userList":            s.handleUserList,
		"roomList":            s.handleRoomList,
		"createSendTransport": s.createTransport(domain.DirectionSend),
		"createRecvTransport": s.createTransport(domain.DirectionRecv),
		"connectTransport":    s.handleConnectTransport,
		"closeTransport":      s.handleCloseTransport,
		"sendTransport":       s.handleSend,
		"receiveTransport":    s.handleReceive,
		"pauseProducer":       s.producerOp(ctrl.PauseProducer, "paused"),
		"resumeProducer":      s.producerOp(ctrl.ResumeProducer, "resumed"),
		"closeProducer":       s.producerOp(ctrl.CloseProducer, "closed"),
		"pauseConsumer":       s.consumerOp(ctrl.PauseConsumer, "paused"),
		"resumeConsumer":      s.consumerOp(ctrl.ResumeConsumer, "resumed"),
		"closeConsumer":       s.consumerOp(ctrl.CloseConsumer, "closed"),
		"kick":                s.handleKick,
		"mute":                s.muteOp(ctrl.Mute, "muted"),
		"unmute":              s.muteOp(ctrl.Unmute, "unmuted"),
		"invitePhone":         s.handleInvitePhone,
		"acceptInvite":        s.handleAcceptInvite,
		"heartbeat":           s.handleHeartbeat,
	}
	return s
}

// Handler returns the mux served on the signal address.
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HealthCheck)
	return mux
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	var limiter *rate.Limiter
	if s.opts.NewLimiter != nil {
		limiter = s.opts.NewLimiter()
	}
	c := newClient(utils.GenerateRequestID(), conn, s.opts.SendBuffer, limiter, s.logger)
	if s.metrics != nil {
		s.metrics.WSConnected()
		defer s.metrics.WSDisconnected()
	}
	s.logger.Infow("websocket connected", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go c.writePump(s.opts.PingInterval, s.opts.WriteTimeout)
	defer s.disconnect(c)

	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		if caller, ok := c.bound(); ok {
			s.ctrl.Touch(caller.RoomID, caller.UserID)
		}
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "conn_id", c.id, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		s.process(r.Context(), c, data)
	}
}

// disconnect closes c and leaves the session it still owns.
func (s *WebSocketServer) disconnect(c *client) {
	c.close()

	caller, ok := s.hub.unbind(c)
	if !ok {
		s.logger.Infow("websocket disconnected", "conn_id", c.id)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.ctrl.Leave(ctx, caller); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		s.logger.Infow("error leaving room on disconnect", "room_id", caller.RoomID, "user_id", caller.UserID, "error", err)
	}
	s.logger.Infow("websocket disconnected", "conn_id", c.id, "room_id", caller.RoomID, "user_id", caller.UserID)
}

func (s *WebSocketServer) process(parent context.Context, c *client, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.reply(c, Frame{}, nil, apperrors.NewInvalidInputError("malformed frame"))
		return
	}
	if !c.allow() {
		s.reply(c, frame, nil, apperrors.NewRateLimitError())
		return
	}

	handler, ok := s.handlers[frame.Type]
	if !ok {
		s.reply(c, frame, nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown request type %q", frame.Type)))
		return
	}

	var req Request
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			s.reply(c, frame, nil, apperrors.NewInvalidInputError("malformed payload"))
			return
		}
	}

	who := caller(c, &req)
	ctx, span := tracing.TraceWebSocketMessage(parent, frame.Type, who.UserID)
	defer span.End()
	ctx = rlog.WithValue(ctx, rlog.RequestIDKey, c.id+"/"+frame.ID)
	ctx = rlog.WithValue(ctx, rlog.RoomIDKey, who.RoomID)
	ctx = rlog.WithValue(ctx, rlog.UserIDKey, who.UserID)
	if traceID := tracing.TraceIDFromContext(ctx); traceID != "" {
		ctx = rlog.WithValue(ctx, rlog.TraceIDKey, traceID)
	}

	result, err := handler(ctx, c, &req)
	if err != nil {
		tracing.RecordError(ctx, err)
		tracing.AddSpanAttributes(ctx, tracing.ErrorCodeKey.String(string(apperrors.CodeOf(err))))
		span.SetStatus(codes.Error, err.Error())
		s.reqLog.Sugar(ctx).Infow("request failed", "conn_id", c.id, "type", frame.Type, "error", err)
	}
	s.reply(c, frame, result, err)
}

func (s *WebSocketServer) reply(c *client, frame Frame, result any, err error) {
	ack := Ack{Type: frameAck, ID: frame.ID, OK: err == nil, Result: result}
	if err != nil {
		ack.Result = nil
		ack.Error = &AckError{Code: string(apperrors.ErrCodeInternal), Message: "internal error"}
		if appErr := apperrors.GetAppError(err); appErr != nil {
			ack.Error = &AckError{Code: string(appErr.Code), Message: appErr.Message}
		}
	}
	data, mErr := json.Marshal(ack)
	if mErr != nil {
		s.logger.Errorw("failed to marshal ack", "type", frame.Type, "error", mErr)
		return
	}
	c.enqueue(data)
}

// caller returns the bound session, or the identity named in req before
// the connection joins.
func caller(c *client, req *Request) domain.Caller {
	if bound, ok := c.bound(); ok {
		return bound
	}
	return domain.Caller{RoomID: req.RoomID, UserID: req.UserID, Token: req.Token}
}

func (s *WebSocketServer) handleJoin(ctx context.Context, c *client, req *Request) (any, error) {
	who := domain.Caller{RoomID: req.RoomID, UserID: req.UserID, Token: req.Token}
	result, err := s.ctrl.Join(ctx, who)
	if err != nil {
		return nil, err
	}
	s.rebind(ctx, c, domain.Caller{RoomID: result.RoomID, UserID: result.UserID, Token: req.Token})
	return result, nil
}

func (s *WebSocketServer) handleAcceptInvite(ctx context.Context, c *client, req *Request) (any, error) {
	result, err := s.ctrl.AcceptInvite(ctx, req.Code, req.DeviceID)
	if err != nil {
		return nil, err
	}
	// Without a device token the device acts with the inviting user's token.
	token := result.Token
	if token == "" {
		token = req.Token
	}
	s.rebind(ctx, c, domain.Caller{RoomID: result.RoomID, UserID: result.UserID, Token: token})
	return result, nil
}

// rebind binds c to caller and leaves the session c was bound to before,
// if any. A connection speaks for one peer at a time.
func (s *WebSocketServer) rebind(ctx context.Context, c *client, caller domain.Caller) {
	old, ok := s.hub.bind(c, caller)
	if !ok {
		return
	}
	if _, err := s.ctrl.Leave(ctx, old); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		s.logger.Infow("error leaving replaced session", "room_id", old.RoomID, "user_id", old.UserID, "error", err)
	}
}

func (s *WebSocketServer) handleLeave(ctx context.Context, c *client, req *Request) (any, error) {
	ok, err := s.ctrl.Leave(ctx, caller(c, req))
	if err != nil {
		return nil, err
	}
	s.hub.unbind(c)
	return map[string]bool{"leave": ok}, nil
}

func (s *WebSocketServer) handleUserList(ctx context.Context, c *client, req *Request) (any, error) {
	peers, err := s.ctrl.UserList(ctx, caller(c, req))
	if err != nil {
		return nil, err
	}
	return map[string]any{"peer": peers}, nil
}

func (s *WebSocketServer) handleRoomList(ctx context.Context, c *client, req *Request) (any, error) {
	who := caller(c, req)
	rooms, err := s.ctrl.RoomList(ctx, who.UserID, who.Token)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": rooms}, nil
}

func (s *WebSocketServer) createTransport(direction domain.Direction) handlerFunc {
	return func(ctx context.Context, c *client, req *Request) (any, error) {
		return s.ctrl.CreateTransport(ctx, caller(c, req), direction)
	}
}

func (s *WebSocketServer) handleConnectTransport(ctx context.Context, c *client, req *Request) (any, error) {
	ok, err := s.ctrl.ConnectTransport(ctx, caller(c, req), req.TransportID, req.connectParams(), req.wait())
	if err != nil {
		return nil, err
	}
	return map[string]bool{"connect": ok}, nil
}

func (s *WebSocketServer) handleCloseTransport(ctx context.Context, c *client, req *Request) (any, error) {
	ok, err := s.ctrl.CloseTransport(ctx, caller(c, req), req.TransportID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"closed": ok}, nil
}

// handleSend produces media and echoes producer-started to the sender.
func (s *WebSocketServer) handleSend(ctx context.Context, c *client, req *Request) (any, error) {
	who := caller(c, req)
	info, err := s.ctrl.Send(ctx, who, domain.SendRequest{
		TransportID:   req.TransportID,
		MediaType:     domain.MediaType(req.MediaType),
		Kind:          domain.MediaKind(req.Kind),
		RtpParameters: req.RtpParameters,
		Paused:        req.Paused,
	})
	if err != nil {
		return nil, err
	}

	data, mErr := json.Marshal(EventFrame{
		Type:   frameEvent,
		Event:  domain.EventProducerStarted,
		RoomID: who.RoomID,
		Payload: domain.RoomEvent{
			Type:      domain.EventProducerStarted,
			RoomID:    who.RoomID,
			UserID:    who.UserID,
			MediaType: info.MediaType,
			Kind:      info.Kind,
			Timestamp: time.Now(),
		},
	})
	if mErr == nil {
		c.enqueue(data)
	}
	return map[string]string{"id": info.ID}, nil
}

func (s *WebSocketServer) handleReceive(ctx context.Context, c *client, req *Request) (any, error) {
	return s.ctrl.Receive(ctx, caller(c, req), domain.ReceiveRequest{
		TransportID:     req.TransportID,
		RemoteUserID:    req.MediaPeerID,
		MediaType:       domain.MediaType(req.MediaType),
		Kind:            domain.MediaKind(req.Kind),
		RtpCapabilities: req.RtpCapabilities,
	})
}

type objectCall func(ctx context.Context, c domain.Caller, id string) (bool, error)

func (s *WebSocketServer) producerOp(fn objectCall, key string) handlerFunc {
	return func(ctx context.Context, c *client, req *Request) (any, error) {
		ok, err := fn(ctx, caller(c, req), req.ProducerID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{key: ok}, nil
	}
}

func (s *WebSocketServer) consumerOp(fn objectCall, key string) handlerFunc {
	return func(ctx context.Context, c *client, req *Request) (any, error) {
		ok, err := fn(ctx, caller(c, req), req.ConsumerID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{key: ok}, nil
	}
}

func (s *WebSocketServer) handleKick(ctx context.Context, c *client, req *Request) (any, error) {
	ok, err := s.ctrl.Kick(ctx, caller(c, req), req.TargetUserID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"kicked": ok}, nil
}

type muteCall func(ctx context.Context, admin domain.Caller, victimID string, tag domain.ProducerTag) (bool, error)

func (s *WebSocketServer) muteOp(fn muteCall, key string) handlerFunc {
	return func(ctx context.Context, c *client, req *Request) (any, error) {
		tag := domain.ProducerTag{MediaType: domain.MediaType(req.MediaType), Kind: domain.MediaKind(req.Kind)}
		ok, err := fn(ctx, caller(c, req), req.TargetUserID, tag)
		if err != nil {
			return nil, err
		}
		return map[string]bool{key: ok}, nil
	}
}

func (s *WebSocketServer) handleInvitePhone(ctx context.Context, c *client, req *Request) (any, error) {
	code, err := s.ctrl.InvitePhone(ctx, caller(c, req))
	if err != nil {
		return nil, err
	}
	return map[string]string{"code": code}, nil
}

func (s *WebSocketServer) handleHeartbeat(ctx context.Context, c *client, req *Request) (any, error) {
	who := caller(c, req)
	result, err := s.ctrl.Heartbeat(ctx, who.UserID, who.Token)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"status": http.StatusOK, "interval": result.Interval.Milliseconds()}, nil
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "healthy",
		"sessions": s.hub.Sessions(),
	})
}
