package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// RoomIDRegex validates room (channel) ids
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UserIDRegex validates peer ids; secondary devices are <user>#<label>.
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@#-]+$`)

	// DeviceLabelRegex matches the label half of a secondary device id.
	DeviceLabelRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)

	// InviteCodeRegex matches the six digit invite codes.
	InviteCodeRegex = regexp.MustCompile(`^[0-9]{6}$`)
)

// ValidateRoomID validates room ID
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room ID is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateUserID validates user ID
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 128+1+32 {
		return fmt.Errorf("user ID is too long")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// ValidatePrimaryUserID validates the id of a user joining in their own
// right. '#' is reserved for secondary device ids.
func ValidatePrimaryUserID(userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if len(userID) > 128 {
		return fmt.Errorf("user ID is too long (max 128 characters)")
	}
	if strings.Contains(userID, "#") {
		return fmt.Errorf("user ID must not contain '#'")
	}
	return nil
}

// ValidateDeviceLabel validates the label a secondary device picks for itself.
func ValidateDeviceLabel(label string) error {
	if label == "" {
		return fmt.Errorf("device label is required")
	}
	if len(label) > 32 {
		return fmt.Errorf("device label is too long (max 32 characters)")
	}
	if !DeviceLabelRegex.MatchString(label) {
		return fmt.Errorf("invalid device label format")
	}
	return nil
}

// ValidateObjectID validates transport, producer and consumer ids, which
// are always UUIDs minted by the media engine.
func ValidateObjectID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s ID is required", kind)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid %s ID format", kind)
	}
	return nil
}

// ValidateInviteCode validates an invite code
func ValidateInviteCode(code string) error {
	if !InviteCodeRegex.MatchString(code) {
		return fmt.Errorf("invite code must be 6 digits")
	}
	return nil
}

// ValidateToken checks that an access token was presented at all;
// its validity is the identity provider's call.
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("access token is required")
	}
	if len(token) > 4096 {
		return fmt.Errorf("access token is too long")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
