package client

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"chatdesk/internal/backend"
	"chatdesk/internal/domain"
)

// MockBackend is a mock implementation of the Backend interface.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) ListSessions(ctx context.Context, opts backend.ListOptions) ([]domain.Session, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockBackend) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockBackend) CreateSession(ctx context.Context, visitorID, visitorName string) (*domain.Session, error) {
	args := m.Called(ctx, visitorID, visitorName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockBackend) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockBackend) MarkRead(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockBackend) AssignAgent(ctx context.Context, sessionID, agentID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockBackend) CloseSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockBackend) CreateVisitor(ctx context.Context, name, source string) (*domain.Visitor, error) {
	args := m.Called(ctx, name, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Visitor), args.Error(1)
}

func (m *MockBackend) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Agent), args.Error(1)
}

func (m *MockBackend) Login(ctx context.Context, creds domain.AgentLogin) (*backend.LoginResult, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.LoginResult), args.Error(1)
}

func (m *MockBackend) Register(ctx context.Context, input domain.AgentCreate) (*domain.Agent, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Agent), args.Error(1)
}

func (m *MockBackend) Me(ctx context.Context, token string) (*domain.Agent, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Agent), args.Error(1)
}

func (m *MockBackend) SetAgentStatus(ctx context.Context, agentID string, online bool) error {
	args := m.Called(ctx, agentID, online)
	return args.Error(0)
}

func (m *MockBackend) Upload(ctx context.Context, att *domain.PendingAttachment) (*backend.UploadResult, error) {
	args := m.Called(ctx, att)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.UploadResult), args.Error(1)
}

func (m *MockBackend) WSEndpoint(role, id string) string {
	args := m.Called(role, id)
	return args.String(0)
}

// fakeSender records outbound frames and can simulate a downed channel.
type fakeSender struct {
	mu     sync.Mutex
	frames []any
	down   bool
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return domain.ErrNotConnected
	}
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeSender) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.down
}

func (f *fakeSender) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.frames))
	copy(out, f.frames)
	return out
}

// collectingNotifier gathers notices for assertions.
type collectingNotifier struct {
	mu     sync.Mutex
	infos  []string
	oks    []string
	errors []string
}

func (n *collectingNotifier) Info(msg string) {
	n.mu.Lock()
	n.infos = append(n.infos, msg)
	n.mu.Unlock()
}

func (n *collectingNotifier) Success(msg string) {
	n.mu.Lock()
	n.oks = append(n.oks, msg)
	n.mu.Unlock()
}

func (n *collectingNotifier) Error(msg string) {
	n.mu.Lock()
	n.errors = append(n.errors, msg)
	n.mu.Unlock()
}
