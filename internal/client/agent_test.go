package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatdesk/internal/backend"
	"chatdesk/internal/config"
	"chatdesk/internal/domain"
	"chatdesk/internal/identity"
	"chatdesk/internal/sound"
)

func testConfig() *config.Config {
	return &config.Config{
		Realtime: config.RealtimeConfig{TypingTimeout: 3 * time.Second},
		Poll:     config.PollConfig{Interval: 10 * time.Second},
	}
}

func newTestAgent(t *testing.T) (*AgentClient, *MockBackend, *fakeSender, *collectingNotifier) {
	t.Helper()
	api := &MockBackend{}
	notify := &collectingNotifier{}
	eng := sound.NewEngine(sound.NoopPlayer{}, time.Second, 0.3, zerolog.Nop())
	ac := NewAgentClient(testConfig(), api, identity.NewStore(t.TempDir()), eng, notify, zerolog.Nop())
	ac.agent = domain.Agent{ID: "a-1", Name: "Sam", Email: "sam@example.com"}
	sender := &fakeSender{}
	ac.channel = sender
	return ac, api, sender, notify
}

func TestLoginValidatesAndPersists(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)
	ctx := context.Background()

	err := ac.Login(ctx, domain.AgentLogin{Email: "not-an-email", Password: "pw"})
	assert.Error(t, err)
	api.AssertNotCalled(t, "Login")

	creds := domain.AgentLogin{Email: "sam@example.com", Password: "pw"}
	api.On("Login", mock.Anything, creds).Return(&backend.LoginResult{
		Token: "tok",
		Agent: domain.Agent{ID: "a-2", Name: "Sam"},
	}, nil)

	require.NoError(t, ac.Login(ctx, creds))
	assert.Equal(t, "a-2", ac.Agent().ID)

	stored, err := ac.ids.LoadAgent()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "tok", stored.Token)
}

func TestRegisterCreatesAccountAndLogsIn(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)
	ctx := context.Background()

	err := ac.Register(ctx, domain.AgentCreate{Email: "bad", Password: "short", Name: ""})
	assert.Error(t, err)
	api.AssertNotCalled(t, "Register")

	input := domain.AgentCreate{Email: "new@example.com", Password: "longenough", Name: "Nora"}
	api.On("Register", mock.Anything, input).Return(&domain.Agent{ID: "a-3", Name: "Nora"}, nil)
	api.On("Login", mock.Anything, domain.AgentLogin{Email: input.Email, Password: input.Password}).
		Return(&backend.LoginResult{Token: "tok", Agent: domain.Agent{ID: "a-3", Name: "Nora"}}, nil)

	require.NoError(t, ac.Register(ctx, input))
	assert.Equal(t, "a-3", ac.Agent().ID)

	stored, err := ac.ids.LoadAgent()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "tok", stored.Token)
}

func TestRestoreClearsExpiredToken(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, ac.ids.SaveAgent(&identity.AgentCredentials{Token: expired}))

	ok, err := ac.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	api.AssertNotCalled(t, "Me")

	stored, err := ac.ids.LoadAgent()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRestoreClearsRejectedToken(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)

	valid, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, ac.ids.SaveAgent(&identity.AgentCredentials{Token: valid}))

	api.On("Me", mock.Anything, valid).Return(nil, errors.New("unauthorized"))

	ok, err := ac.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := ac.ids.LoadAgent()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSelectSessionLoadsHistoryAndResetsUnread(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)
	ctx := context.Background()

	sess := domain.Session{ID: "s1", VisitorName: "Alice", Status: domain.StatusActive, UnreadCount: 3}
	ac.Sessions.Replace([]domain.Session{sess})

	history := []domain.Message{
		{ID: "m1", SessionID: "s1", SenderType: domain.SenderVisitor, Content: "hi"},
	}
	api.On("ListMessages", mock.Anything, "s1").Return(history, nil)
	api.On("MarkRead", mock.Anything, "s1").Return(nil).Maybe()

	ac.SelectSession(ctx, "s1")

	assert.Equal(t, "s1", ac.Stream.SessionID())
	assert.Equal(t, 1, ac.Stream.Len())
	got, _ := ac.Sessions.Get("s1")
	assert.Zero(t, got.UnreadCount)
}

func TestAssignRevertsOnFailure(t *testing.T) {
	ac, api, _, notify := newTestAgent(t)
	ctx := context.Background()

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusWaiting}})
	api.On("AssignAgent", mock.Anything, "s1", "a-1").Return(nil, errors.New("backend down"))

	err := ac.Assign(ctx, "s1")
	assert.Error(t, err)

	got, _ := ac.Sessions.Get("s1")
	assert.Equal(t, domain.StatusWaiting, got.Status)
	assert.Empty(t, got.AssignedAgentID)
	assert.NotEmpty(t, notify.errors)
}

func TestAssignAppliesBackendResult(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)
	ctx := context.Background()

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusWaiting}})
	confirmed := domain.Session{ID: "s1", Status: domain.StatusActive, AssignedAgentID: "a-1", Revision: 2}
	api.On("AssignAgent", mock.Anything, "s1", "a-1").Return(&confirmed, nil)

	require.NoError(t, ac.Assign(ctx, "s1"))

	got, _ := ac.Sessions.Get("s1")
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.EqualValues(t, 2, got.Revision)
}

func TestCloseDeselectsOpenSession(t *testing.T) {
	ac, api, _, notify := newTestAgent(t)
	ctx := context.Background()

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusActive}})
	api.On("ListMessages", mock.Anything, "s1").Return([]domain.Message{}, nil)
	api.On("MarkRead", mock.Anything, "s1").Return(nil).Maybe()
	ac.SelectSession(ctx, "s1")

	closed := domain.Session{ID: "s1", Status: domain.StatusClosed, Revision: 3}
	api.On("CloseSession", mock.Anything, "s1").Return(&closed, nil)

	require.NoError(t, ac.Close(ctx, "s1"))

	assert.Empty(t, ac.Stream.SessionID())
	got, _ := ac.Sessions.Get("s1")
	assert.True(t, got.Closed())
	assert.NotEmpty(t, notify.oks)
}

func TestHandleFrameNewMessageOpenSession(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)
	ctx := context.Background()

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusActive}})
	api.On("ListMessages", mock.Anything, "s1").Return([]domain.Message{}, nil)
	api.On("MarkRead", mock.Anything, "s1").Return(nil).Maybe()
	ac.SelectSession(ctx, "s1")
	ac.VisitorTyping.Set()

	ac.HandleFrame(domain.PushFrame{
		Type:      domain.FrameNewMessage,
		SessionID: "s1",
		Message:   &domain.Message{ID: "m1", SessionID: "s1", SenderType: domain.SenderVisitor, Content: "hello"},
	})

	assert.Equal(t, 1, ac.Stream.Len())
	assert.False(t, ac.VisitorTyping.Active())
	got, _ := ac.Sessions.Get("s1")
	assert.Zero(t, got.UnreadCount)
	assert.Equal(t, "hello", got.LastMessage)
}

func TestHandleFrameNewMessageBackgroundSession(t *testing.T) {
	ac, _, _, _ := newTestAgent(t)

	ac.Sessions.Replace([]domain.Session{
		{ID: "s1", Status: domain.StatusActive},
		{ID: "s2", Status: domain.StatusActive},
	})
	ac.Stream.Begin("s1")

	ac.HandleFrame(domain.PushFrame{
		Type:      domain.FrameNewMessage,
		SessionID: "s2",
		Message:   &domain.Message{ID: "m1", SessionID: "s2", SenderType: domain.SenderVisitor, Content: "psst"},
	})

	assert.Zero(t, ac.Stream.Len())
	got, _ := ac.Sessions.Get("s2")
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, "psst", got.LastMessage)
}

func TestHandleFrameNewSession(t *testing.T) {
	ac, _, _, notify := newTestAgent(t)

	frame := domain.PushFrame{
		Type:    domain.FrameNewSession,
		Session: &domain.Session{ID: "s9", VisitorName: "Nora", Status: domain.StatusWaiting},
	}
	ac.HandleFrame(frame)
	ac.HandleFrame(frame)

	assert.Equal(t, 1, ac.Sessions.Len())
	assert.Len(t, notify.infos, 1)
}

func TestSendTextOptimisticAppend(t *testing.T) {
	ac, api, sender, _ := newTestAgent(t)
	ctx := context.Background()

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusActive}})
	api.On("ListMessages", mock.Anything, "s1").Return([]domain.Message{}, nil)
	api.On("MarkRead", mock.Anything, "s1").Return(nil).Maybe()
	ac.SelectSession(ctx, "s1")

	require.NoError(t, ac.SendText("on my way"))

	frames := sender.sent()
	require.Len(t, frames, 1)
	out := frames[0].(domain.OutboundMessage)
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, "on my way", out.Content)

	require.Equal(t, 1, ac.Stream.Len())
	local := ac.Stream.Messages()[0]
	assert.NotEmpty(t, local.ID)
	assert.Equal(t, domain.SenderAgent, local.SenderType)

	got, _ := ac.Sessions.Get("s1")
	assert.Equal(t, "on my way", got.LastMessage)
}

func TestSendTextClosedSession(t *testing.T) {
	ac, _, sender, _ := newTestAgent(t)

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusClosed}})
	ac.Stream.Begin("s1")

	err := ac.SendText("too late")
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Empty(t, sender.sent())
	assert.Zero(t, ac.Stream.Len())
}

func TestSendBeforeChannelAssigned(t *testing.T) {
	// Built exactly as the daemon does: sends can race ahead of Run wiring
	// the channel and must fail cleanly instead of dereferencing nil.
	api := &MockBackend{}
	eng := sound.NewEngine(sound.NoopPlayer{}, time.Second, 0.3, zerolog.Nop())
	ac := NewAgentClient(testConfig(), api, identity.NewStore(t.TempDir()), eng, &collectingNotifier{}, zerolog.Nop())
	ac.agent = domain.Agent{ID: "a-1"}
	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusActive}})
	ac.Stream.Begin("s1")

	err := ac.SendText("early")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Zero(t, ac.Stream.Len())

	assert.NotPanics(t, ac.Typing)
	assert.False(t, ac.Connected())
}

func TestSelectSessionKeepsUnreadWhenHistoryFails(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)
	ctx := context.Background()

	sess := domain.Session{ID: "s1", Status: domain.StatusActive, UnreadCount: 3}
	ac.Sessions.Replace([]domain.Session{sess})

	api.On("ListMessages", mock.Anything, "s1").Return(nil, errors.New("backend down"))

	ac.SelectSession(ctx, "s1")

	got, _ := ac.Sessions.Get("s1")
	assert.Equal(t, 3, got.UnreadCount)
	api.AssertNotCalled(t, "MarkRead")
}

func TestSendTextWhileDisconnected(t *testing.T) {
	ac, _, sender, _ := newTestAgent(t)
	sender.down = true

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusActive}})
	ac.Stream.Begin("s1")

	err := ac.SendText("hello?")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Zero(t, ac.Stream.Len())
}

func TestSendAttachmentUsesDefaultContent(t *testing.T) {
	ac, api, sender, _ := newTestAgent(t)
	ctx := context.Background()

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusActive}})
	ac.Stream.Begin("s1")

	att := &domain.PendingAttachment{Path: "/tmp/cat.png", Name: "cat.png", Size: 1024}
	api.On("Upload", mock.Anything, att).Return(&backend.UploadResult{
		FileURL:  "/uploads/cat.png",
		FileName: "cat.png",
		FileType: domain.MessageImage,
	}, nil)

	require.NoError(t, ac.SendAttachment(ctx, att, ""))

	frames := sender.sent()
	require.Len(t, frames, 1)
	out := frames[0].(domain.OutboundMessage)
	assert.Equal(t, "Shared an image", out.Content)
	assert.Equal(t, domain.MessageImage, out.MessageType)
	assert.Equal(t, "/uploads/cat.png", out.FileURL)
}

func TestOrderMutationsAreLocal(t *testing.T) {
	ac, api, _, _ := newTestAgent(t)

	ac.Sessions.Replace([]domain.Session{{ID: "s1", Status: domain.StatusActive}})

	require.NoError(t, ac.MarkOrder("s1"))
	got, _ := ac.Sessions.Get("s1")
	assert.True(t, got.IsOrder)
	assert.Equal(t, domain.OrderNewLead, got.OrderStatus)

	require.NoError(t, ac.SetOrderStatus("s1", domain.OrderPlaced))
	got, _ = ac.Sessions.Get("s1")
	assert.Equal(t, domain.OrderPlaced, got.OrderStatus)

	require.NoError(t, ac.DeleteSession("s1"))
	assert.Zero(t, ac.Sessions.Len())

	assert.ErrorIs(t, ac.MarkOrder("nope"), domain.ErrNotFound)
	api.AssertExpectations(t)
}

func TestTypingPulseCarriesOpenSession(t *testing.T) {
	ac, _, sender, _ := newTestAgent(t)

	ac.Typing()
	assert.Empty(t, sender.sent())

	ac.Stream.Begin("s1")
	ac.Typing()

	frames := sender.sent()
	require.Len(t, frames, 1)
	pulse := frames[0].(domain.OutboundTyping)
	assert.Equal(t, "typing", pulse.Type)
	assert.Equal(t, "s1", pulse.SessionID)
}
