package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"sfucore/internal/core/domain"
)

// Delivery is one recorded broadcast.
type Delivery struct {
	Recipients []string
	Event      domain.RoomEvent
}

// Broadcaster records every broadcast it receives.
type Broadcaster struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (b *Broadcaster) Broadcast(ctx context.Context, recipients []string, event domain.RoomEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveries = append(b.deliveries, Delivery{Recipients: append([]string(nil), recipients...), Event: event})
}

func (b *Broadcaster) Deliveries() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Delivery(nil), b.deliveries...)
}

// OfType returns the deliveries of one event type in order.
func (b *Broadcaster) OfType(t domain.EventType) []Delivery {
	var out []Delivery
	for _, d := range b.Deliveries() {
		if d.Event.Type == t {
			out = append(out, d)
		}
	}
	return out
}

func (b *Broadcaster) Reset() {
	b.mu.Lock()
	b.deliveries = nil
	b.mu.Unlock()
}

// MockIdentity is a testify mock of ports.IdentityProvider.
type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) Authenticate(ctx context.Context, userID, token string) (bool, error) {
	args := m.Called(ctx, userID, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdentity) HasPermission(ctx context.Context, userID, token, roomID string) (bool, error) {
	args := m.Called(ctx, userID, token, roomID)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdentity) ResolveChannel(ctx context.Context, channelID string) (*domain.Channel, error) {
	args := m.Called(ctx, channelID)
	ch, _ := args.Get(0).(*domain.Channel)
	return ch, args.Error(1)
}

// MockPublisher is a testify mock of ports.EventPublisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event domain.RoomEvent) error {
	return m.Called(ctx, event).Error(0)
}
