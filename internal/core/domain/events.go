package domain

import "time"

// EventType names a push notification sent to room members.
type EventType string

const (
	EventPeerJoined      EventType = "peer-joined"
	EventPeerLeft        EventType = "peer-left"
	EventProducerStarted EventType = "producer-started"
	EventActiveSpeaker   EventType = "active-speaker"
	EventRoomClosed      EventType = "room-closed"
)

// RoomEvent is a fire-and-forget notification about a room.
type RoomEvent struct {
	Type      EventType `json:"event"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId,omitempty"`
	Class     PeerClass `json:"class,omitempty"`
	MediaType MediaType `json:"mediaType,omitempty"`
	Kind      MediaKind `json:"kind,omitempty"`
	Volume    int8      `json:"volume,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
