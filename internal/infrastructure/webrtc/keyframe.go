package webrtc

import (
	"strings"

	"github.com/pion/rtp/codecs"
)

const (
	h264NALUIDR  = 5
	h264NALUSPS  = 7
	h264NALUSTAP = 24
	h264NALUFUA  = 28
)

// canDetectKeyFrames reports whether isKeyFrame understands mimeType.
// Streams of other codecs are never gated.
func canDetectKeyFrames(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "video/vp8", "video/h264":
		return true
	}
	return false
}

// isKeyFrame reports whether payload starts a key frame.
func isKeyFrame(mimeType string, payload []byte) bool {
	switch strings.ToLower(mimeType) {
	case "video/vp8":
		return isVP8KeyFrame(payload)
	case "video/h264":
		return isH264KeyFrame(payload)
	}
	return false
}

func isVP8KeyFrame(payload []byte) bool {
	var vp8 codecs.VP8Packet
	frame, err := vp8.Unmarshal(payload)
	if err != nil || len(frame) == 0 {
		return false
	}
	// P bit of the VP8 payload header is clear on key frames.
	return vp8.S == 1 && vp8.PID == 0 && frame[0]&0x01 == 0
}

func isH264KeyFrame(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	switch nal := payload[0] & 0x1F; nal {
	case h264NALUIDR, h264NALUSPS:
		return true
	case h264NALUSTAP:
		for i := 1; i+2 < len(payload); {
			size := int(payload[i])<<8 | int(payload[i+1])
			i += 2
			if i >= len(payload) {
				break
			}
			if t := payload[i] & 0x1F; t == h264NALUIDR || t == h264NALUSPS {
				return true
			}
			i += size
		}
	case h264NALUFUA:
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		return start && payload[1]&0x1F == h264NALUIDR
	}
	return false
}
