package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewObjectID(t *testing.T) {
	id1 := NewObjectID()
	id2 := NewObjectID()

	if id1 == id2 {
		t.Error("expected different IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("expected a UUID, got %s", id1)
	}
}

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if !strings.HasPrefix(id, "req_") {
		t.Errorf("expected prefix 'req_', got %s", id)
	}
	if strings.Contains(id, "-") {
		t.Errorf("request id should not contain dashes: %s", id)
	}
}

func TestNewInstanceID(t *testing.T) {
	if NewInstanceID() == NewInstanceID() {
		t.Error("expected distinct instance ids")
	}
}

func TestNumericCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := NumericCode(6)
		if err != nil {
			t.Fatalf("NumericCode() error = %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non digit in %q", code)
			}
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 150 {
		t.Errorf("codes look poorly distributed: %d unique of 200", len(seen))
	}

	if _, err := NumericCode(0); err == nil {
		t.Error("expected error for zero length")
	}
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		input    string
		visible  int
		expected string
	}{
		{"secret", 2, "se****"},
		{"abc", 5, "***"},
		{"", 2, ""},
	}
	for _, tt := range tests {
		if got := MaskSensitive(tt.input, tt.visible); got != tt.expected {
			t.Errorf("MaskSensitive(%q, %d) = %q, want %q", tt.input, tt.visible, got, tt.expected)
		}
	}
}
