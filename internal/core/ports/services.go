package ports

import (
	"context"
	"time"

	"sfucore/internal/core/domain"
)

// IdentityProvider authenticates callers and answers permission checks.
// Results must never be cached by callers.
type IdentityProvider interface {
	Authenticate(ctx context.Context, userID, token string) (bool, error)
	HasPermission(ctx context.Context, userID, token, roomID string) (bool, error)
	ResolveChannel(ctx context.Context, channelID string) (*domain.Channel, error)
}

// DeviceTokenIssuer is implemented by identity providers that can mint a
// credential for a secondary device. The token authenticates deviceID
// only; it grants no admin rights.
type DeviceTokenIssuer interface {
	IssueDeviceToken(ctx context.Context, deviceID string) (string, error)
}

// Broadcaster pushes room events to the listed members.
type Broadcaster interface {
	Broadcast(ctx context.Context, recipients []string, event domain.RoomEvent)
}

// MetricsRecorder receives lifecycle signals from the core.
type MetricsRecorder interface {
	RoomOpened()
	RoomClosed()
	RoomInitDuration(d time.Duration)
	PeerJoined(class domain.PeerClass)
	PeerLeft(class domain.PeerClass)
	WorkerStates(counts map[domain.WorkerState]int)
	TransportCreated(class domain.TransportClass, direction domain.Direction)
	ProducerOpened(kind domain.MediaKind)
	ProducerClosed(kind domain.MediaKind)
	ConsumerOpened()
	ConsumerClosed()
	ControllerOp(op, code string, d time.Duration)
	Invite(result string)
}

// Controller is the protocol-agnostic control surface. Both signaling
// adapters call only this.
type Controller interface {
	Join(ctx context.Context, c domain.Caller) (*domain.JoinResult, error)
	Leave(ctx context.Context, c domain.Caller) (bool, error)

	CreateTransport(ctx context.Context, c domain.Caller, direction domain.Direction) (*domain.TransportInfo, error)
	ConnectTransport(ctx context.Context, c domain.Caller, transportID string, params domain.ConnectParams, wait time.Duration) (bool, error)
	CloseTransport(ctx context.Context, c domain.Caller, transportID string) (bool, error)

	Send(ctx context.Context, c domain.Caller, req domain.SendRequest) (*domain.ProducerInfo, error)
	Receive(ctx context.Context, c domain.Caller, req domain.ReceiveRequest) (*domain.ConsumerInfo, error)

	PauseProducer(ctx context.Context, c domain.Caller, producerID string) (bool, error)
	ResumeProducer(ctx context.Context, c domain.Caller, producerID string) (bool, error)
	CloseProducer(ctx context.Context, c domain.Caller, producerID string) (bool, error)
	PauseConsumer(ctx context.Context, c domain.Caller, consumerID string) (bool, error)
	ResumeConsumer(ctx context.Context, c domain.Caller, consumerID string) (bool, error)
	CloseConsumer(ctx context.Context, c domain.Caller, consumerID string) (bool, error)

	InvitePhone(ctx context.Context, c domain.Caller) (string, error)
	AcceptInvite(ctx context.Context, code, deviceID string) (*domain.JoinResult, error)

	Kick(ctx context.Context, admin domain.Caller, victimID string) (bool, error)
	Mute(ctx context.Context, admin domain.Caller, victimID string, tag domain.ProducerTag) (bool, error)
	Unmute(ctx context.Context, admin domain.Caller, victimID string, tag domain.ProducerTag) (bool, error)

	UserList(ctx context.Context, c domain.Caller) ([]domain.PeerInfo, error)
	RoomList(ctx context.Context, userID, token string) ([]domain.RoomInfo, error)
	Heartbeat(ctx context.Context, userID, token string) (*domain.HeartbeatResult, error)

	// Touch refreshes liveness of a bound session without authentication;
	// used by the push adapter on pong frames.
	Touch(roomID, userID string)
}
