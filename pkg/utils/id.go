package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NewObjectID returns the id for an engine object (transport, producer,
// consumer, router, worker).
func NewObjectID() string {
	return uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewInstanceID names this process in cluster-visible records. The
// hostname prefix keeps logs readable.
func NewInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "sfucore"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// NumericCode returns a uniformly distributed decimal code of the given
// number of digits, zero padded.
func NumericCode(digits int) (string, error) {
	if digits <= 0 || digits > 18 {
		return "", fmt.Errorf("unsupported code length %d", digits)
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// MaskSensitive masks sensitive information such as access tokens in logs.
func MaskSensitive(s string, visibleChars int) string {
	if len(s) <= visibleChars {
		return strings.Repeat("*", len(s))
	}
	return s[:visibleChars] + strings.Repeat("*", len(s)-visibleChars)
}
