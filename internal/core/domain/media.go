package domain

import "fmt"

// MediaType is the semantic role of a media stream.
type MediaType string

const (
	MediaScreen      MediaType = "Screen"
	MediaScreenSound MediaType = "ScreenSound"
	MediaCamera      MediaType = "Camera"
	MediaVoice       MediaType = "Voice"
)

// ParseMediaType validates s against the known media types.
func ParseMediaType(s string) (MediaType, error) {
	switch t := MediaType(s); t {
	case MediaScreen, MediaScreenSound, MediaCamera, MediaVoice:
		return t, nil
	}
	return "", fmt.Errorf("unknown media type %q", s)
}

// MediaKind is the RTP media kind.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// ParseMediaKind validates s as audio or video.
func ParseMediaKind(s string) (MediaKind, error) {
	switch k := MediaKind(s); k {
	case KindAudio, KindVideo:
		return k, nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// Direction of a transport relative to the server.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// ParseDirection accepts send or recv.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionSend, DirectionRecv:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// ProducerTag is the immutable semantic label attached to a producer.
type ProducerTag struct {
	MediaType MediaType `json:"mediaType"`
	Kind      MediaKind `json:"kind"`
}

func (t ProducerTag) String() string {
	return string(t.MediaType) + "/" + string(t.Kind)
}

// ConsumerTag identifies what a consumer receives. At most one open
// consumer per tag exists on a peer.
type ConsumerTag struct {
	RemoteUserID string    `json:"remoteUserId"`
	MediaType    MediaType `json:"mediaType"`
	Kind         MediaKind `json:"kind"`
}

// Producer returns the producer tag this consumer targets.
func (t ConsumerTag) Producer() ProducerTag {
	return ProducerTag{MediaType: t.MediaType, Kind: t.Kind}
}

func (t ConsumerTag) String() string {
	return t.RemoteUserID + ":" + t.Producer().String()
}
