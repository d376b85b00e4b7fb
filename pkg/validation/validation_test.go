package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		wantErr bool
	}{
		{"numeric", "42", false},
		{"slug", "team-standup_1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"slash", "a/b", true},
		{"space", "room 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.roomID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoomID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"numeric", "1001", false},
		{"email like", "alice@example.com", false},
		{"secondary device", "1001#secondary", false},
		{"empty", "", true},
		{"too long", strings.Repeat("u", 162), true},
		{"space", "al ice", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePrimaryUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"plain", "alice", false},
		{"device id", "alice#phone", true},
		{"bare hash", "#", true},
		{"too long", strings.Repeat("u", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrimaryUserID(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrimaryUserID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDeviceLabel(t *testing.T) {
	for _, label := range []string{"phone", "ipad-2", "secondary"} {
		if err := ValidateDeviceLabel(label); err != nil {
			t.Errorf("ValidateDeviceLabel(%q) unexpected error: %v", label, err)
		}
	}
	for _, label := range []string{"", "bob#phone", "a b", strings.Repeat("x", 33)} {
		if err := ValidateDeviceLabel(label); err == nil {
			t.Errorf("ValidateDeviceLabel(%q) expected an error", label)
		}
	}
}

func TestValidateObjectID(t *testing.T) {
	if err := ValidateObjectID("transport", uuid.NewString()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateObjectID("producer", ""); err == nil {
		t.Error("expected error for empty id")
	}
	if err := ValidateObjectID("consumer", "not-a-uuid"); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestValidateInviteCode(t *testing.T) {
	tests := []struct {
		code    string
		wantErr bool
	}{
		{"123456", false},
		{"000001", false},
		{"12345", true},
		{"1234567", true},
		{"12a456", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := ValidateInviteCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInviteCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	if err := ValidateToken("  "); err == nil {
		t.Error("expected error for blank token")
	}
	if err := ValidateToken("eyJhbGciOi"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://identity.local:8080", false},
		{"valid https", "https://example.com/api", false},
		{"empty", "", true},
		{"ws scheme", "ws://example.com", true},
		{"no host", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
