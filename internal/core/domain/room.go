package domain

import "time"

// RoomState is the lifecycle of a room.
type RoomState string

const (
	RoomUninitialized RoomState = "uninitialized"
	RoomInitializing  RoomState = "initializing"
	RoomReady         RoomState = "ready"
	RoomClosed        RoomState = "closed"
)

// Channel is the identity service's view of the room.
type Channel struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"`
	CreatedBy  string `json:"createdBy,omitempty"`
	BitRate    int    `json:"bitRate,omitempty"`
	MaxConnect int    `json:"maxConnect,omitempty"`
}

type RoomInfo struct {
	ID          string    `json:"id"`
	State       RoomState `json:"state"`
	PeerCount   int       `json:"peerCount"`
	ChannelName string    `json:"channelName,omitempty"`
	WorkerID    string    `json:"workerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Invite is an outstanding one-time code admitting a secondary device.
type Invite struct {
	Code      string    `json:"code"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
