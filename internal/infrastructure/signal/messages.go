package signal

import (
	"encoding/json"
	"time"

	"sfucore/internal/core/domain"
)

// Frame is a client request.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack answers exactly one Frame.
type Ack struct {
	Type   string    `json:"type"`
	ID     string    `json:"id,omitempty"`
	OK     bool      `json:"ok"`
	Result any       `json:"result,omitempty"`
	Error  *AckError `json:"error,omitempty"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is pushed to bound sessions.
type EventFrame struct {
	Type    string           `json:"type"`
	Event   domain.EventType `json:"event"`
	RoomID  string           `json:"roomId"`
	Payload domain.RoomEvent `json:"payload"`
}

const (
	frameAck   = "ack"
	frameEvent = "event"
)

// Request carries the union of all request fields. Calls made before a
// session is bound take roomId, userId and token from here; afterwards the
// binding wins.
type Request struct {
	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Token  string `json:"token,omitempty"`

	TargetUserID string `json:"targetUserId,omitempty"`
	TransportID  string `json:"transportId,omitempty"`
	ProducerID   string `json:"producerId,omitempty"`
	ConsumerID   string `json:"consumerId,omitempty"`
	MediaPeerID  string `json:"mediaPeerId,omitempty"`

	MediaType       string                 `json:"mediaType,omitempty"`
	Kind            string                 `json:"kind,omitempty"`
	RtpParameters   domain.RtpParameters   `json:"rtpParameters"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
	Paused          bool                   `json:"paused,omitempty"`

	DtlsParameters *domain.DtlsParameters `json:"dtlsParameters,omitempty"`
	IceParameters  *domain.IceParameters  `json:"iceParameters,omitempty"`
	IceCandidates  []domain.IceCandidate  `json:"iceCandidates,omitempty"`
	IP             string                 `json:"ip,omitempty"`
	Port           uint16                 `json:"port,omitempty"`
	WaitMs         int64                  `json:"waitMs,omitempty"`

	Code     string `json:"code,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

func (r *Request) connectParams() domain.ConnectParams {
	return domain.ConnectParams{
		Dtls:       r.DtlsParameters,
		Ice:        r.IceParameters,
		Candidates: r.IceCandidates,
		IP:         r.IP,
		Port:       r.Port,
	}
}

func (r *Request) wait() time.Duration {
	return time.Duration(r.WaitMs) * time.Millisecond
}
