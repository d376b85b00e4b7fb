package services

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// RoleAdmin grants admin rights in every room.
const RoleAdmin = "admin"

// DeviceTokenTTL bounds the lifetime of tokens minted for invited devices.
const DeviceTokenTTL = 12 * time.Hour

// Claims carried by tokens the JWT identity provider accepts. Rooms lists
// the rooms the subject administers.
type Claims struct {
	Role  string   `json:"role,omitempty"`
	Rooms []string `json:"rooms,omitempty"`
	jwt.RegisteredClaims
}

// JWTIdentity is a self-contained identity provider: tokens are HS256
// JWTs whose subject is the user id.
type JWTIdentity struct {
	secret []byte
	now    func() time.Time
}

var (
	_ ports.IdentityProvider  = (*JWTIdentity)(nil)
	_ ports.DeviceTokenIssuer = (*JWTIdentity)(nil)
)

func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret), now: time.Now}
}

// GenerateToken signs a token for userID valid for ttl.
func (s *JWTIdentity) GenerateToken(userID, role string, rooms []string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Role:  role,
		Rooms: rooms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// IssueDeviceToken signs a role-less token whose subject is deviceID.
func (s *JWTIdentity) IssueDeviceToken(_ context.Context, deviceID string) (string, error) {
	return s.GenerateToken(deviceID, "", nil, DeviceTokenTTL)
}

// ValidateToken parses tokenString and returns its claims.
func (s *JWTIdentity) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Authenticate reports whether token is valid and issued to userID. A bad
// token is a negative answer, not an error.
func (s *JWTIdentity) Authenticate(_ context.Context, userID, token string) (bool, error) {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return false, nil
	}
	return claims.Subject == userID, nil
}

func (s *JWTIdentity) HasPermission(_ context.Context, userID, token, roomID string) (bool, error) {
	claims, err := s.ValidateToken(token)
	if err != nil || claims.Subject != userID {
		return false, nil
	}
	if claims.Role == RoleAdmin {
		return true, nil
	}
	return slices.Contains(claims.Rooms, roomID), nil
}

// ResolveChannel accepts every room id; the channel carries no metadata
// beyond its name.
func (s *JWTIdentity) ResolveChannel(_ context.Context, channelID string) (*domain.Channel, error) {
	return &domain.Channel{ID: channelID, Name: channelID}, nil
}
