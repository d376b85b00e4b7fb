package domain

// Caller identifies who issues a control call and in which room.
type Caller struct {
	RoomID string
	UserID string
	Token  string
}

type SendRequest struct {
	TransportID   string
	MediaType     MediaType
	Kind          MediaKind
	RtpParameters RtpParameters
	Paused        bool
}

type ReceiveRequest struct {
	TransportID     string
	RemoteUserID    string
	MediaType       MediaType
	Kind            MediaKind
	RtpCapabilities RtpCapabilities
}
