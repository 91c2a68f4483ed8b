package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"chatdesk/internal/backend"
	"chatdesk/internal/config"
	"chatdesk/internal/domain"
	"chatdesk/internal/identity"
	"chatdesk/internal/metrics"
	"chatdesk/internal/realtime"
	"chatdesk/internal/sound"
	"chatdesk/internal/store"
)

// Backend is the REST surface the clients depend on.
type Backend interface {
	ListSessions(ctx context.Context, opts backend.ListOptions) ([]domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	CreateSession(ctx context.Context, visitorID, visitorName string) (*domain.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, sessionID string) error
	AssignAgent(ctx context.Context, sessionID, agentID string) (*domain.Session, error)
	CloseSession(ctx context.Context, sessionID string) (*domain.Session, error)
	CreateVisitor(ctx context.Context, name, source string) (*domain.Visitor, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	Login(ctx context.Context, creds domain.AgentLogin) (*backend.LoginResult, error)
	Register(ctx context.Context, input domain.AgentCreate) (*domain.Agent, error)
	Me(ctx context.Context, token string) (*domain.Agent, error)
	SetAgentStatus(ctx context.Context, agentID string, online bool) error
	Upload(ctx context.Context, att *domain.PendingAttachment) (*backend.UploadResult, error)
	WSEndpoint(role, id string) string
}

// Sender is the outbound side of the realtime channel.
type Sender interface {
	Send(v any) error
	Connected() bool
}

// AgentClient drives one agent's dashboard state: the session collection, the
// open transcript, typing indicators, and optimistic mutations with reverts.
type AgentClient struct {
	cfg      *config.Config
	api      Backend
	ids      *identity.Store
	log      zerolog.Logger
	notify   Notifier
	sound    *sound.Engine
	validate *validator.Validate

	Sessions *store.SessionStore
	Stream   *store.MessageStream
	// VisitorTyping reflects the visitor of the open session.
	VisitorTyping *typingFlag

	agent domain.Agent

	// mu guards channel, which Run assigns while callers send concurrently.
	mu      sync.Mutex
	channel Sender
}

// NewAgentClient wires an agent client; Login or Restore must succeed before
// Run.
func NewAgentClient(cfg *config.Config, api Backend, ids *identity.Store, eng *sound.Engine, notify Notifier, log zerolog.Logger) *AgentClient {
	return &AgentClient{
		cfg:           cfg,
		api:           api,
		ids:           ids,
		log:           log.With().Str("component", "agent").Logger(),
		notify:        notify,
		sound:         eng,
		validate:      validator.New(),
		Sessions:      store.NewSessionStore(),
		Stream:        store.NewMessageStream(),
		VisitorTyping: newTypingFlag(cfg.Realtime.TypingTimeout),
	}
}

// Agent returns the authenticated agent profile.
func (a *AgentClient) Agent() domain.Agent {
	return a.agent
}

// Login authenticates against the backend and persists the credentials.
func (a *AgentClient) Login(ctx context.Context, creds domain.AgentLogin) error {
	if err := a.validate.Struct(creds); err != nil {
		return fmt.Errorf("invalid credentials: %w", err)
	}
	result, err := a.api.Login(ctx, creds)
	if err != nil {
		return err
	}
	a.agent = result.Agent
	if err := a.ids.SaveAgent(&identity.AgentCredentials{Token: result.Token, Agent: result.Agent}); err != nil {
		a.log.Warn().Err(err).Msg("failed to persist credentials")
	}
	return nil
}

// Register creates a new agent account and logs it in.
func (a *AgentClient) Register(ctx context.Context, input domain.AgentCreate) error {
	if err := a.validate.Struct(input); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}
	if _, err := a.api.Register(ctx, input); err != nil {
		return err
	}
	return a.Login(ctx, domain.AgentLogin{Email: input.Email, Password: input.Password})
}

// Restore resumes a stored login. It reports false when no usable credentials
// exist; expired or rejected tokens are cleared so the next run starts clean.
func (a *AgentClient) Restore(ctx context.Context) (bool, error) {
	creds, err := a.ids.LoadAgent()
	if err != nil || creds == nil {
		return false, err
	}
	if identity.TokenExpired(creds.Token, time.Now()) {
		a.ids.ClearAgent()
		return false, nil
	}
	agent, err := a.api.Me(ctx, creds.Token)
	if err != nil {
		a.ids.ClearAgent()
		return false, nil
	}
	a.agent = *agent
	return true, nil
}

// Logout flips the agent offline and forgets the stored credentials.
func (a *AgentClient) Logout(ctx context.Context) error {
	if a.agent.ID != "" {
		if err := a.api.SetAgentStatus(ctx, a.agent.ID, false); err != nil {
			a.log.Warn().Err(err).Msg("failed to set agent offline")
		}
	}
	return a.ids.ClearAgent()
}

// Run connects the realtime channel and keeps the session collection fresh
// with periodic pulls until ctx is cancelled.
func (a *AgentClient) Run(ctx context.Context) error {
	ch := realtime.New(realtime.Config{
		URL:              a.api.WSEndpoint("agent", a.agent.ID),
		HandshakeTimeout: a.cfg.Realtime.HandshakeTimeout,
		WriteTimeout:     a.cfg.Realtime.WriteTimeout,
		InitialBackoff:   a.cfg.Realtime.InitialBackoff,
		MaxBackoff:       a.cfg.Realtime.MaxBackoff,
		MaxRetries:       a.cfg.Realtime.MaxRetries,
	}, realtime.Handlers{
		OnFrame:  a.HandleFrame,
		OnResync: a.resync,
	}, a.log)
	a.mu.Lock()
	a.channel = ch
	a.mu.Unlock()

	if err := a.refreshSessions(ctx); err != nil {
		a.log.Warn().Err(err).Msg("initial session pull failed")
	}

	go a.pollLoop(ctx)
	err := ch.Run(ctx)
	if errors.Is(err, domain.ErrRetryExhausted) {
		a.notify.Error("Connection lost and could not be re-established")
	}
	return err
}

func (a *AgentClient) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Poll.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.refreshSessions(ctx); err != nil {
				a.log.Warn().Err(err).Msg("session pull failed")
			}
		}
	}
}

// refreshSessions pulls the full collection; per-session revision guards in
// the store keep fresher pushed copies from being rolled back.
func (a *AgentClient) refreshSessions(ctx context.Context) error {
	sessions, err := a.api.ListSessions(ctx, backend.ListOptions{})
	metrics.IncPoll(err == nil)
	if err != nil {
		return err
	}
	a.Sessions.Replace(sessions)
	return nil
}

// resync runs after a reconnect: pushes may have been missed while down, so
// both the collection and the open transcript are pulled again.
func (a *AgentClient) resync(ctx context.Context) {
	if err := a.refreshSessions(ctx); err != nil {
		a.log.Warn().Err(err).Msg("resync session pull failed")
	}
	if id := a.Stream.SessionID(); id != "" {
		epoch := a.Stream.Begin(id)
		a.loadHistory(ctx, id, epoch)
	}
}

// sender returns the realtime channel, nil before Run assigns it.
func (a *AgentClient) sender() Sender {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel
}

func (a *AgentClient) loadHistory(ctx context.Context, sessionID string, epoch uint64) bool {
	msgs, err := a.api.ListMessages(ctx, sessionID)
	if err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load history")
		return false
	}
	if !a.Stream.Load(epoch, msgs) {
		a.log.Debug().Str("session_id", sessionID).Msg("discarding stale history")
		return false
	}
	return true
}

// HandleFrame dispatches one inbound push frame.
func (a *AgentClient) HandleFrame(frame domain.PushFrame) {
	switch frame.Type {
	case domain.FrameNewMessage:
		a.handleNewMessage(frame)
	case domain.FrameNewSession:
		if frame.Session != nil && a.Sessions.AddNew(*frame.Session) {
			a.notify.Info("New chat from " + frame.Session.VisitorName)
			a.sound.Play(sound.KindVisitor)
		}
	case domain.FrameSessionUpdated, domain.FrameSessionClosed:
		if frame.Session != nil {
			a.Sessions.Update(*frame.Session)
		}
	case domain.FrameVisitorTyping:
		if frame.SessionID == a.Stream.SessionID() {
			a.VisitorTyping.Set()
		}
	default:
		a.log.Debug().Str("type", string(frame.Type)).Msg("ignoring frame")
	}
}

func (a *AgentClient) handleNewMessage(frame domain.PushFrame) {
	if frame.Message == nil {
		return
	}
	msg := *frame.Message
	sessionID := frame.MessageSessionID()
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}

	if a.Stream.AppendRemote(msg, domain.SenderAgent) {
		a.VisitorTyping.Clear()
	}
	a.Sessions.RecordMessage(sessionID, msg, time.Now(), sessionID != a.Stream.SessionID())
	if msg.SenderType == domain.SenderVisitor {
		a.sound.Play(sound.KindVisitor)
	}
}

// SelectSession opens a session: new stream epoch, history load, and a
// fire-and-forget read receipt that zeroes exactly this session's counter.
// The unread reset is tied to a successful history load; a failed fetch
// leaves the counter untouched.
func (a *AgentClient) SelectSession(ctx context.Context, sessionID string) {
	epoch := a.Stream.Begin(sessionID)
	a.VisitorTyping.Clear()
	if !a.loadHistory(ctx, sessionID, epoch) {
		return
	}
	a.Sessions.ResetUnread(sessionID)
	go func() {
		if err := a.api.MarkRead(ctx, sessionID); err != nil {
			a.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to mark read")
		}
	}()
}

// Deselect closes the transcript view.
func (a *AgentClient) Deselect() {
	a.Stream.Begin("")
	a.VisitorTyping.Clear()
}

// SendText sends a text message on the open session, appending it to the
// transcript optimistically.
func (a *AgentClient) SendText(content string) error {
	return a.send(domain.Message{
		SenderType: domain.SenderAgent,
		SenderID:   a.agent.ID,
		SenderName: a.agent.Name,
		Content:    content,
		Type:       domain.MessageText,
	})
}

// SendAttachment uploads a staged file and sends the resulting file message.
// Empty content falls back to the default share text.
func (a *AgentClient) SendAttachment(ctx context.Context, att *domain.PendingAttachment, content string) error {
	result, err := a.api.Upload(ctx, att)
	if err != nil {
		return err
	}
	if content == "" {
		content = att.DefaultContent(result.FileType)
	}
	return a.send(domain.Message{
		SenderType: domain.SenderAgent,
		SenderID:   a.agent.ID,
		SenderName: a.agent.Name,
		Content:    content,
		Type:       result.FileType,
		FileURL:    result.FileURL,
		FileName:   result.FileName,
	})
}

func (a *AgentClient) send(msg domain.Message) error {
	sessionID := a.Stream.SessionID()
	if sessionID == "" {
		return domain.ErrNotFound
	}
	if sess, ok := a.Sessions.Get(sessionID); ok && sess.Closed() {
		return domain.ErrSessionClosed
	}

	ch := a.sender()
	if ch == nil {
		return domain.ErrNotConnected
	}
	err := ch.Send(domain.OutboundMessage{
		Type:        "message",
		SessionID:   sessionID,
		Content:     msg.Content,
		MessageType: msg.Type,
		FileURL:     msg.FileURL,
		FileName:    msg.FileName,
	})
	if err != nil {
		return err
	}

	local := a.Stream.AppendLocal(msg)
	a.Sessions.RecordMessage(sessionID, local, local.CreatedAt, false)
	return nil
}

// Typing emits one typing pulse for the open session.
func (a *AgentClient) Typing() {
	sessionID := a.Stream.SessionID()
	if sessionID == "" {
		return
	}
	ch := a.sender()
	if ch == nil {
		return
	}
	if err := ch.Send(domain.OutboundTyping{Type: "typing", SessionID: sessionID}); err != nil {
		a.log.Debug().Err(err).Msg("typing pulse dropped")
	}
}

// Assign claims a session for this agent. The store is patched first so the
// sidebar responds immediately; a failed call reverts the patch.
func (a *AgentClient) Assign(ctx context.Context, sessionID string) error {
	revert, ok := a.Sessions.Assign(sessionID, a.agent.ID)
	if !ok {
		return domain.ErrNotFound
	}
	sess, err := a.api.AssignAgent(ctx, sessionID, a.agent.ID)
	if err != nil {
		revert()
		a.notify.Error("Failed to join chat")
		return err
	}
	a.Sessions.Update(*sess)
	return nil
}

// Close ends a session, reverting on backend failure. A closed session that
// was open in the transcript is deselected.
func (a *AgentClient) Close(ctx context.Context, sessionID string) error {
	revert, ok := a.Sessions.Close(sessionID)
	if !ok {
		return domain.ErrNotFound
	}
	sess, err := a.api.CloseSession(ctx, sessionID)
	if err != nil {
		revert()
		a.notify.Error("Failed to close chat")
		return err
	}
	a.Sessions.Update(*sess)
	if a.Stream.SessionID() == sessionID {
		a.Deselect()
	}
	a.notify.Success("Chat closed")
	return nil
}

// MarkOrder tags a session as a sales order. Order state is local dashboard
// bookkeeping; no backend call exists for it.
func (a *AgentClient) MarkOrder(sessionID string) error {
	if _, ok := a.Sessions.MarkOrder(sessionID); !ok {
		return domain.ErrNotFound
	}
	return nil
}

// SetOrderStatus advances the local sales pipeline stage.
func (a *AgentClient) SetOrderStatus(sessionID string, status domain.OrderStatus) error {
	if _, ok := a.Sessions.SetOrderStatus(sessionID, status); !ok {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteSession removes a session from the local view.
func (a *AgentClient) DeleteSession(sessionID string) error {
	if _, ok := a.Sessions.Delete(sessionID); !ok {
		return domain.ErrNotFound
	}
	if a.Stream.SessionID() == sessionID {
		a.Deselect()
	}
	return nil
}

// Connected reports realtime channel health, for the ops readiness probe.
func (a *AgentClient) Connected() bool {
	ch := a.sender()
	return ch != nil && ch.Connected()
}
