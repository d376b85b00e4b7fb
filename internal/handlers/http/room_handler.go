package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/internal/infrastructure/middleware"
	apperrors "sfucore/pkg/errors"
)

// RoomHandler is the request/response signaling adapter. It only maps
// routes onto the Controller; authentication happens there.
type RoomHandler struct {
	ctrl ports.Controller
}

func NewRoomHandler(ctrl ports.Controller) *RoomHandler {
	return &RoomHandler{ctrl: ctrl}
}

func (h *RoomHandler) SetupRoutes(router gin.IRouter) {
	router.POST("/rooms", h.RoomList)
	router.POST("/heartbeat/:userId", h.Heartbeat)
	router.POST("/invite/:code/accept", h.AcceptInvite)

	room := router.Group("/room/:roomId")
	{
		room.POST("/users", h.UserList)

		user := room.Group("/user/:userId")
		user.POST("/join", h.Join)
		user.POST("/leave", h.Leave)
		user.POST("/kick", h.Kick)
		user.POST("/mute", h.mute(h.ctrl.Mute, "muted"))
		user.POST("/unmute", h.mute(h.ctrl.Unmute, "unmuted"))
		user.POST("/invite", h.InvitePhone)

		user.POST("/transport/create/:direction", h.CreateTransport)
		user.POST("/transport/:transportId/connect", h.ConnectTransport)
		user.POST("/transport/:transportId/close", h.CloseTransport)
		user.POST("/transport/:transportId/send", h.Send)
		user.POST("/transport/:transportId/recv/:mediaPeerId", h.Receive)

		user.POST("/produce/:producerId/pause", h.object("producerId", h.ctrl.PauseProducer, "paused"))
		user.POST("/produce/:producerId/resume", h.object("producerId", h.ctrl.ResumeProducer, "resumed"))
		user.POST("/produce/:producerId/close", h.object("producerId", h.ctrl.CloseProducer, "closed"))
		user.POST("/consume/:consumerId/pause", h.object("consumerId", h.ctrl.PauseConsumer, "paused"))
		user.POST("/consume/:consumerId/resume", h.object("consumerId", h.ctrl.ResumeConsumer, "resumed"))
		user.POST("/consume/:consumerId/close", h.object("consumerId", h.ctrl.CloseConsumer, "closed"))
	}
}

func caller(c *gin.Context) domain.Caller {
	return domain.Caller{
		RoomID: c.Param("roomId"),
		UserID: c.Param("userId"),
		Token:  middleware.AccessToken(c),
	}
}

// bind decodes an optional JSON body into req.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		c.Error(apperrors.NewInvalidInputError("invalid request body: " + err.Error()))
		return false
	}
	return true
}

func (h *RoomHandler) Join(c *gin.Context) {
	result, err := h.ctrl.Join(c.Request.Context(), caller(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routerRtpCapabilities": result.RtpCapabilities})
}

func (h *RoomHandler) Leave(c *gin.Context) {
	ok, err := h.ctrl.Leave(c.Request.Context(), caller(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leave": ok})
}

type adminRequest struct {
	AdminID   string `json:"adminId" binding:"required"`
	MediaType string `json:"mediaType"`
	Kind      string `json:"kind"`
}

func (r adminRequest) admin(c *gin.Context) domain.Caller {
	return domain.Caller{RoomID: c.Param("roomId"), UserID: r.AdminID, Token: middleware.AccessToken(c)}
}

func (h *RoomHandler) Kick(c *gin.Context) {
	var req adminRequest
	if !bind(c, &req) {
		return
	}
	ok, err := h.ctrl.Kick(c.Request.Context(), req.admin(c), c.Param("userId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kicked": ok})
}

type muteCall func(ctx context.Context, admin domain.Caller, victimID string, tag domain.ProducerTag) (bool, error)

func (h *RoomHandler) mute(fn muteCall, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adminRequest
		if !bind(c, &req) {
			return
		}
		tag := domain.ProducerTag{MediaType: domain.MediaType(req.MediaType), Kind: domain.MediaKind(req.Kind)}
		ok, err := fn(c.Request.Context(), req.admin(c), c.Param("userId"), tag)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{key: ok})
	}
}

type userRequest struct {
	UserID string `json:"userId"`
}

func (h *RoomHandler) RoomList(c *gin.Context) {
	var req userRequest
	if !bind(c, &req) {
		return
	}
	rooms, err := h.ctrl.RoomList(c.Request.Context(), req.UserID, middleware.AccessToken(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": rooms})
}

func (h *RoomHandler) UserList(c *gin.Context) {
	var req userRequest
	if !bind(c, &req) {
		return
	}
	who := domain.Caller{RoomID: c.Param("roomId"), UserID: req.UserID, Token: middleware.AccessToken(c)}
	peers, err := h.ctrl.UserList(c.Request.Context(), who)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": peers})
}

func (h *RoomHandler) CreateTransport(c *gin.Context) {
	direction, err := domain.ParseDirection(c.Param("direction"))
	if err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	info, err := h.ctrl.CreateTransport(c.Request.Context(), caller(c), direction)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type connectRequest struct {
	domain.ConnectParams
	WaitMs int64 `json:"waitMs"`
}

func (h *RoomHandler) ConnectTransport(c *gin.Context) {
	var req connectRequest
	if !bind(c, &req) {
		return
	}
	wait := time.Duration(req.WaitMs) * time.Millisecond
	ok, err := h.ctrl.ConnectTransport(c.Request.Context(), caller(c), c.Param("transportId"), req.ConnectParams, wait)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connect": ok})
}

func (h *RoomHandler) CloseTransport(c *gin.Context) {
	ok, err := h.ctrl.CloseTransport(c.Request.Context(), caller(c), c.Param("transportId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": ok})
}

type sendRequest struct {
	Type          string               `json:"type"`
	Kind          string               `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
	Paused        bool                 `json:"paused"`
}

func (h *RoomHandler) Send(c *gin.Context) {
	var req sendRequest
	if !bind(c, &req) {
		return
	}
	info, err := h.ctrl.Send(c.Request.Context(), caller(c), domain.SendRequest{
		TransportID:   c.Param("transportId"),
		MediaType:     domain.MediaType(req.Type),
		Kind:          domain.MediaKind(req.Kind),
		RtpParameters: req.RtpParameters,
		Paused:        req.Paused,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": info.ID})
}

type receiveRequest struct {
	Type            string                 `json:"type"`
	Kind            string                 `json:"kind"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

func (h *RoomHandler) Receive(c *gin.Context) {
	var req receiveRequest
	if !bind(c, &req) {
		return
	}
	info, err := h.ctrl.Receive(c.Request.Context(), caller(c), domain.ReceiveRequest{
		TransportID:     c.Param("transportId"),
		RemoteUserID:    c.Param("mediaPeerId"),
		MediaType:       domain.MediaType(req.Type),
		Kind:            domain.MediaKind(req.Kind),
		RtpCapabilities: req.RtpCapabilities,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type objectCall func(ctx context.Context, c domain.Caller, id string) (bool, error)

func (h *RoomHandler) object(param string, fn objectCall, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := fn(c.Request.Context(), caller(c), c.Param(param))
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{key: ok})
	}
}

func (h *RoomHandler) InvitePhone(c *gin.Context) {
	code, err := h.ctrl.InvitePhone(c.Request.Context(), caller(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

func (h *RoomHandler) AcceptInvite(c *gin.Context) {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if !bind(c, &req) {
		return
	}
	result, err := h.ctrl.AcceptInvite(c.Request.Context(), c.Param("code"), req.DeviceID)
	if err != nil {
		c.Error(err)
		return
	}
	body := gin.H{
		"routerRtpCapabilities": result.RtpCapabilities,
		"roomId":                result.RoomID,
		"userId":                result.UserID,
	}
	if result.Token != "" {
		body["token"] = result.Token
	}
	c.JSON(http.StatusOK, body)
}

func (h *RoomHandler) Heartbeat(c *gin.Context) {
	result, err := h.ctrl.Heartbeat(c.Request.Context(), c.Param("userId"), middleware.AccessToken(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "interval": result.Interval.Milliseconds()})
}
