package domain

import "time"

// PeerClass distinguishes a regular participant from a device admitted
// through an invite code.
type PeerClass string

const (
	PeerPrimary   PeerClass = "primary"
	PeerSecondary PeerClass = "secondary"
)

type PeerInfo struct {
	UserID    string        `json:"userId"`
	Class     PeerClass     `json:"class"`
	JoinedAt  time.Time     `json:"joinedAt"`
	Producers []ProducerTag `json:"producers"`
}

type ProducerInfo struct {
	ID        string    `json:"id"`
	Kind      MediaKind `json:"kind"`
	MediaType MediaType `json:"mediaType"`
	Paused    bool      `json:"paused"`
}

type ConsumerInfo struct {
	ID             string        `json:"id"`
	ProducerID     string        `json:"producerId"`
	Kind           MediaKind     `json:"kind"`
	MediaType      MediaType     `json:"mediaType"`
	RemoteUserID   string        `json:"remoteUserId"`
	RtpParameters  RtpParameters `json:"rtpParameters"`
	ProducerPaused bool          `json:"producerPaused"`
	Paused         bool          `json:"paused"`
}

type JoinResult struct {
	RoomID          string          `json:"roomId"`
	UserID          string          `json:"userId"`
	RtpCapabilities RtpCapabilities `json:"routerRtpCapabilities"`
	// Token is set when a secondary device is admitted and the identity
	// provider can mint credentials scoped to that device.
	Token string `json:"token,omitempty"`
}

type HeartbeatResult struct {
	Interval time.Duration `json:"-"`
	Peers    int           `json:"peers"`
}
