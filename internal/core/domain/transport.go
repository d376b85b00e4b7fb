package domain

// TransportClass names the closed set of transport variants.
type TransportClass string

const (
	TransportDirect TransportClass = "direct"
	TransportPipe   TransportClass = "pipe"
	TransportPlain  TransportClass = "plain"
	TransportWebRtc TransportClass = "webrtc"
)

// TransportSettings is implemented only by the settings types below; the
// media engine dispatches on the concrete type exactly once.
type TransportSettings interface {
	Class() TransportClass
	transportSettings()
}

// ICEServer is a STUN/TURN server handed to the ICE gatherer.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// WebRtcSettings configures an ICE+DTLS+SRTP transport.
type WebRtcSettings struct {
	ListenIPs                       []string
	AnnouncedIP                     string
	EnableUDP                       bool
	EnableTCP                       bool
	PreferUDP                       bool
	InitialAvailableOutgoingBitrate uint32
	ICEServers                      []ICEServer
}

// PlainSettings configures plain RTP over UDP. With Comedia the remote
// address is learned from the first received packet.
type PlainSettings struct {
	ListenIP    string
	AnnouncedIP string
	Comedia     bool
}

// PipeSettings configures a router-to-router RTP pipe.
type PipeSettings struct {
	ListenIP    string
	AnnouncedIP string
}

// DirectSettings configures an in-process transport fed by the application.
type DirectSettings struct {
	MaxMessageSize int
}

func (WebRtcSettings) Class() TransportClass { return TransportWebRtc }
func (PlainSettings) Class() TransportClass  { return TransportPlain }
func (PipeSettings) Class() TransportClass   { return TransportPipe }
func (DirectSettings) Class() TransportClass { return TransportDirect }

func (WebRtcSettings) transportSettings() {}
func (PlainSettings) transportSettings()  {}
func (PipeSettings) transportSettings()   {}
func (DirectSettings) transportSettings() {}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type TransportTuple struct {
	LocalIP    string `json:"localIp"`
	LocalPort  uint16 `json:"localPort"`
	RemoteIP   string `json:"remoteIp,omitempty"`
	RemotePort uint16 `json:"remotePort,omitempty"`
	Protocol   string `json:"protocol"`
}

// ConnectParams carries the remote side of a transport. Which fields are
// required depends on the transport class.
type ConnectParams struct {
	Dtls       *DtlsParameters `json:"dtlsParameters,omitempty"`
	Ice        *IceParameters  `json:"iceParameters,omitempty"`
	Candidates []IceCandidate  `json:"iceCandidates,omitempty"`
	IP         string          `json:"ip,omitempty"`
	Port       uint16          `json:"port,omitempty"`
}

// SendSlot distinguishes the primary and the secondary (mobile) send
// transport of a peer.
type SendSlot string

const (
	SlotNone      SendSlot = ""
	SlotPrimary   SendSlot = "primary"
	SlotSecondary SendSlot = "secondary"
)

// TransportInfo is what clients need to set up their side.
type TransportInfo struct {
	ID             string          `json:"id"`
	Class          TransportClass  `json:"class"`
	Direction      Direction       `json:"direction"`
	Slot           SendSlot        `json:"slot,omitempty"`
	IceParameters  *IceParameters  `json:"iceParameters,omitempty"`
	IceCandidates  []IceCandidate  `json:"iceCandidates,omitempty"`
	DtlsParameters *DtlsParameters `json:"dtlsParameters,omitempty"`
	Tuple          *TransportTuple `json:"tuple,omitempty"`
}
