package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/openclaw/wa-relay-go/internal/model"
	"github.com/openclaw/wa-relay-go/internal/supervisor"
)

type mockSupervisor struct {
	mock.Mock
}

func (m *mockSupervisor) Start(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SessionSnapshot), args.Error(1)
}

func (m *mockSupervisor) RequestPairingArtifact(ctx context.Context, sessionID string) (*supervisor.PairingState, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*supervisor.PairingState), args.Error(1)
}

func (m *mockSupervisor) Status(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SessionSnapshot), args.Error(1)
}

func (m *mockSupervisor) List(ctx context.Context) ([]model.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Session), args.Error(1)
}

func (m *mockSupervisor) History(ctx context.Context, params model.HistoryParams) ([]model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockSupervisor) Logout(ctx context.Context, sessionID string, purge bool) error {
	return m.Called(ctx, sessionID, purge).Error(0)
}

func (m *mockSupervisor) Send(ctx context.Context, sessionID, to, text string) (*supervisor.MessageResult, error) {
	args := m.Called(ctx, sessionID, to, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*supervisor.MessageResult), args.Error(1)
}

func (m *mockSupervisor) SendMedia(ctx context.Context, sessionID, to string, media supervisor.Media) (*supervisor.MessageResult, error) {
	args := m.Called(ctx, sessionID, to, media)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*supervisor.MessageResult), args.Error(1)
}

func (m *mockSupervisor) Active(sessionID string) error {
	return m.Called(sessionID).Error(0)
}

func (m *mockSupervisor) CachedGroups(sessionID string) ([]model.Group, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Group), args.Error(1)
}

func (m *mockSupervisor) Broadcast(ctx context.Context, sessionID string, recipients []string, text string) (*supervisor.BroadcastResult, error) {
	args := m.Called(ctx, sessionID, recipients, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*supervisor.BroadcastResult), args.Error(1)
}

func (m *mockSupervisor) ListGroups(ctx context.Context, sessionID string) ([]model.Group, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Group), args.Error(1)
}

func (m *mockSupervisor) CreateGroup(ctx context.Context, sessionID, name string, participants []string) (*model.Group, error) {
	args := m.Called(ctx, sessionID, name, participants)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Group), args.Error(1)
}

func (m *mockSupervisor) UpdateParticipants(ctx context.Context, sessionID, group string, participants []string, action model.ParticipantAction) error {
	return m.Called(ctx, sessionID, group, participants, action).Error(0)
}

func (m *mockSupervisor) LeaveGroup(ctx context.Context, sessionID, group string) error {
	return m.Called(ctx, sessionID, group).Error(0)
}

func (m *mockSupervisor) GroupInviteLink(ctx context.Context, sessionID, group string, reset bool) (string, error) {
	args := m.Called(ctx, sessionID, group, reset)
	return args.String(0), args.Error(1)
}

func (m *mockSupervisor) SetPresence(ctx context.Context, sessionID string, presence model.Presence) error {
	return m.Called(ctx, sessionID, presence).Error(0)
}

func (m *mockSupervisor) SendTyping(ctx context.Context, sessionID, to string, typing bool) error {
	return m.Called(ctx, sessionID, to, typing).Error(0)
}

func (m *mockSupervisor) SubscribePresence(ctx context.Context, sessionID, to string) error {
	return m.Called(ctx, sessionID, to).Error(0)
}

func (m *mockSupervisor) SetStatusMessage(ctx context.Context, sessionID, text string) error {
	return m.Called(ctx, sessionID, text).Error(0)
}

func (m *mockSupervisor) ProfilePicture(ctx context.Context, sessionID, target string) (string, error) {
	args := m.Called(ctx, sessionID, target)
	return args.String(0), args.Error(1)
}

func (m *mockSupervisor) CheckNumbers(ctx context.Context, sessionID string, phones []string) ([]model.NumberCheck, error) {
	args := m.Called(ctx, sessionID, phones)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.NumberCheck), args.Error(1)
}
