package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

// MockController records adapter calls.
type MockController struct {
	mock.Mock
}

var _ ports.Controller = (*MockController)(nil)

func ok(args mock.Arguments) (bool, error) {
	return args.Bool(0), args.Error(1)
}

func (m *MockController) Join(ctx context.Context, c domain.Caller) (*domain.JoinResult, error) {
	args := m.Called(ctx, c)
	res, _ := args.Get(0).(*domain.JoinResult)
	return res, args.Error(1)
}

func (m *MockController) Leave(ctx context.Context, c domain.Caller) (bool, error) {
	return ok(m.Called(ctx, c))
}

func (m *MockController) CreateTransport(ctx context.Context, c domain.Caller, direction domain.Direction) (*domain.TransportInfo, error) {
	args := m.Called(ctx, c, direction)
	res, _ := args.Get(0).(*domain.TransportInfo)
	return res, args.Error(1)
}

func (m *MockController) ConnectTransport(ctx context.Context, c domain.Caller, transportID string, params domain.ConnectParams, wait time.Duration) (bool, error) {
	return ok(m.Called(ctx, c, transportID, params, wait))
}

func (m *MockController) CloseTransport(ctx context.Context, c domain.Caller, transportID string) (bool, error) {
	return ok(m.Called(ctx, c, transportID))
}

func (m *MockController) Send(ctx context.Context, c domain.Caller, req domain.SendRequest) (*domain.ProducerInfo, error) {
	args := m.Called(ctx, c, req)
	res, _ := args.Get(0).(*domain.ProducerInfo)
	return res, args.Error(1)
}

func (m *MockController) Receive(ctx context.Context, c domain.Caller, req domain.ReceiveRequest) (*domain.ConsumerInfo, error) {
	args := m.Called(ctx, c, req)
	res, _ := args.Get(0).(*domain.ConsumerInfo)
	return res, args.Error(1)
}

func (m *MockController) PauseProducer(ctx context.Context, c domain.Caller, id string) (bool, error) {
	return ok(m.Called(ctx, c, id))
}

func (m *MockController) ResumeProducer(ctx context.Context, c domain.Caller, id string) (bool, error) {
	return ok(m.Called(ctx, c, id))
}

func (m *MockController) CloseProducer(ctx context.Context, c domain.Caller, id string) (bool, error) {
	return ok(m.Called(ctx, c, id))
}

func (m *MockController) PauseConsumer(ctx context.Context, c domain.Caller, id string) (bool, error) {
	return ok(m.Called(ctx, c, id))
}

func (m *MockController) ResumeConsumer(ctx context.Context, c domain.Caller, id string) (bool, error) {
	return ok(m.Called(ctx, c, id))
}

func (m *MockController) CloseConsumer(ctx context.Context, c domain.Caller, id string) (bool, error) {
	return ok(m.Called(ctx, c, id))
}

func (m *MockController) InvitePhone(ctx context.Context, c domain.Caller) (string, error) {
	args := m.Called(ctx, c)
	return args.String(0), args.Error(1)
}

func (m *MockController) AcceptInvite(ctx context.Context, code, deviceID string) (*domain.JoinResult, error) {
	args := m.Called(ctx, code, deviceID)
	res, _ := args.Get(0).(*domain.JoinResult)
	return res, args.Error(1)
}

func (m *MockController) Kick(ctx context.Context, admin domain.Caller, victimID string) (bool, error) {
	return ok(m.Called(ctx, admin, victimID))
}

func (m *MockController) Mute(ctx context.Context, admin domain.Caller, victimID string, tag domain.ProducerTag) (bool, error) {
	return ok(m.Called(ctx, admin, victimID, tag))
}

func (m *MockController) Unmute(ctx context.Context, admin domain.Caller, victimID string, tag domain.ProducerTag) (bool, error) {
	return ok(m.Called(ctx, admin, victimID, tag))
}

func (m *MockController) UserList(ctx context.Context, c domain.Caller) ([]domain.PeerInfo, error) {
	args := m.Called(ctx, c)
	res, _ := args.Get(0).([]domain.PeerInfo)
	return res, args.Error(1)
}

func (m *MockController) RoomList(ctx context.Context, userID, token string) ([]domain.RoomInfo, error) {
	args := m.Called(ctx, userID, token)
	res, _ := args.Get(0).([]domain.RoomInfo)
	return res, args.Error(1)
}

func (m *MockController) Heartbeat(ctx context.Context, userID, token string) (*domain.HeartbeatResult, error) {
	args := m.Called(ctx, userID, token)
	res, _ := args.Get(0).(*domain.HeartbeatResult)
	return res, args.Error(1)
}

func (m *MockController) Touch(roomID, userID string) {
	m.Called(roomID, userID)
}
