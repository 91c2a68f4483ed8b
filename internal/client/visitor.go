package client

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"chatdesk/internal/config"
	"chatdesk/internal/domain"
	"chatdesk/internal/identity"
	"chatdesk/internal/realtime"
	"chatdesk/internal/sound"
	"chatdesk/internal/store"
)

// VisitorClient drives the embedded chat widget: one visitor, at most one
// open session, resumed across runs from the persisted identity.
type VisitorClient struct {
	cfg    *config.Config
	api    Backend
	ids    *identity.Store
	log    zerolog.Logger
	notify Notifier
	sound  *sound.Engine

	Stream *store.MessageStream
	// AgentTyping reflects the assigned agent's typing pulses.
	AgentTyping *typingFlag
	// OnMessage, when set before Run, is invoked for each appended inbound
	// message on the channel's read goroutine.
	OnMessage func(domain.Message)

	// mu also guards channel, which Run assigns while the caller's input
	// loop sends concurrently.
	mu        sync.Mutex
	visitor   identity.VisitorIdentity
	agentName string
	closed    bool
	channel   Sender
}

func NewVisitorClient(cfg *config.Config, api Backend, ids *identity.Store, eng *sound.Engine, notify Notifier, log zerolog.Logger) *VisitorClient {
	return &VisitorClient{
		cfg:         cfg,
		api:         api,
		ids:         ids,
		log:         log.With().Str("component", "visitor").Logger(),
		notify:      notify,
		sound:       eng,
		Stream:      store.NewMessageStream(),
		AgentTyping: newTypingFlag(cfg.Realtime.TypingTimeout),
	}
}

// Identity returns the active visitor identity.
func (v *VisitorClient) Identity() identity.VisitorIdentity {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visitor
}

// AgentName returns the joined agent's display name, empty before any agent
// joins.
func (v *VisitorClient) AgentName() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.agentName
}

// SessionClosed reports whether the conversation has ended.
func (v *VisitorClient) SessionClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Restore resumes a persisted conversation. Any validation failure, a
// vanished session, or a closed one clears all persisted keys and reports
// false so the caller falls back to the name-entry flow.
func (v *VisitorClient) Restore(ctx context.Context) (bool, error) {
	stored, err := v.ids.LoadVisitor()
	if err != nil || stored == nil {
		return false, err
	}

	sess, err := v.api.GetSession(ctx, stored.SessionID)
	if err != nil {
		v.log.Warn().Err(err).Str("session_id", stored.SessionID).Msg("stored session failed validation")
		v.ids.ClearVisitor()
		return false, nil
	}
	if sess.Closed() {
		v.ids.ClearVisitor()
		return false, nil
	}

	v.mu.Lock()
	v.visitor = *stored
	v.closed = false
	v.mu.Unlock()

	epoch := v.Stream.Begin(sess.ID)
	msgs, err := v.api.ListMessages(ctx, sess.ID)
	if err != nil {
		v.log.Warn().Err(err).Msg("failed to load history")
	} else {
		v.Stream.Load(epoch, msgs)
	}

	if sess.AssignedAgentID != "" {
		v.resolveAgentName(ctx, sess.AssignedAgentID)
	}
	return true, nil
}

// Start registers a fresh visitor, opens a session, and persists the
// identity so the conversation survives restarts.
func (v *VisitorClient) Start(ctx context.Context, name string) error {
	visitor, err := v.api.CreateVisitor(ctx, name, v.cfg.Backend.VisitorSource)
	if err != nil {
		return err
	}
	sess, err := v.api.CreateSession(ctx, visitor.ID, name)
	if err != nil {
		return err
	}

	id := identity.VisitorIdentity{
		VisitorID: visitor.ID,
		SessionID: sess.ID,
		Name:      name,
		Photo:     visitor.Photo,
	}
	if err := v.ids.SaveVisitor(&id); err != nil {
		v.log.Warn().Err(err).Msg("failed to persist visitor identity")
	}

	v.mu.Lock()
	v.visitor = id
	v.closed = false
	v.mu.Unlock()

	epoch := v.Stream.Begin(sess.ID)
	if msgs, err := v.api.ListMessages(ctx, sess.ID); err == nil {
		v.Stream.Load(epoch, msgs)
	}
	return nil
}

func (v *VisitorClient) resolveAgentName(ctx context.Context, agentID string) {
	agents, err := v.api.ListAgents(ctx)
	if err != nil {
		return
	}
	for _, agent := range agents {
		if agent.ID == agentID {
			v.mu.Lock()
			v.agentName = agent.Name
			v.mu.Unlock()
			return
		}
	}
}

// Run connects the realtime channel for the open session until ctx is
// cancelled.
func (v *VisitorClient) Run(ctx context.Context) error {
	sessionID := v.Stream.SessionID()
	if sessionID == "" {
		return domain.ErrNotFound
	}
	ch := realtime.New(realtime.Config{
		URL:              v.api.WSEndpoint("visitor", sessionID),
		HandshakeTimeout: v.cfg.Realtime.HandshakeTimeout,
		WriteTimeout:     v.cfg.Realtime.WriteTimeout,
		InitialBackoff:   v.cfg.Realtime.InitialBackoff,
		MaxBackoff:       v.cfg.Realtime.MaxBackoff,
		MaxRetries:       v.cfg.Realtime.MaxRetries,
	}, realtime.Handlers{
		OnFrame:  v.HandleFrame,
		OnResync: v.resync,
	}, v.log)
	v.mu.Lock()
	v.channel = ch
	v.mu.Unlock()
	err := ch.Run(ctx)
	if errors.Is(err, domain.ErrRetryExhausted) {
		v.notify.Error("Connection lost and could not be re-established")
	}
	return err
}

func (v *VisitorClient) resync(ctx context.Context) {
	sessionID := v.Stream.SessionID()
	if sessionID == "" {
		return
	}
	epoch := v.Stream.Begin(sessionID)
	msgs, err := v.api.ListMessages(ctx, sessionID)
	if err != nil {
		v.log.Warn().Err(err).Msg("resync history load failed")
		return
	}
	v.Stream.Load(epoch, msgs)
}

// HandleFrame dispatches one inbound push frame.
func (v *VisitorClient) HandleFrame(frame domain.PushFrame) {
	switch frame.Type {
	case domain.FrameNewMessage:
		if frame.Message == nil {
			return
		}
		msg := *frame.Message
		if msg.SessionID == "" {
			msg.SessionID = v.Stream.SessionID()
		}
		if v.Stream.AppendRemote(msg, domain.SenderVisitor) {
			v.AgentTyping.Clear()
			if msg.SenderType == domain.SenderAgent {
				v.sound.Play(sound.KindAgent)
			}
			if v.OnMessage != nil {
				v.OnMessage(msg)
			}
		}
	case domain.FrameAgentJoined:
		v.mu.Lock()
		v.agentName = frame.AgentName
		v.mu.Unlock()
		v.notify.Success(frame.AgentName + " joined the chat")
	case domain.FrameAgentTyping:
		v.AgentTyping.Set()
	case domain.FrameSessionClosed:
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()
		v.ids.ClearVisitor()
		v.notify.Info("Chat ended")
	default:
		v.log.Debug().Str("type", string(frame.Type)).Msg("ignoring frame")
	}
}

// SendText sends a text message, appended optimistically.
func (v *VisitorClient) SendText(content string) error {
	return v.send(domain.Message{
		SenderType: domain.SenderVisitor,
		Content:    content,
		Type:       domain.MessageText,
	})
}

// SendAttachment uploads a staged file and sends the resulting file message.
func (v *VisitorClient) SendAttachment(ctx context.Context, att *domain.PendingAttachment, content string) error {
	result, err := v.api.Upload(ctx, att)
	if err != nil {
		return err
	}
	if content == "" {
		content = att.DefaultContent(result.FileType)
	}
	return v.send(domain.Message{
		SenderType: domain.SenderVisitor,
		Content:    content,
		Type:       result.FileType,
		FileURL:    result.FileURL,
		FileName:   result.FileName,
	})
}

// sender returns the realtime channel, nil before Run assigns it.
func (v *VisitorClient) sender() Sender {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channel
}

func (v *VisitorClient) send(msg domain.Message) error {
	v.mu.Lock()
	id := v.visitor
	closed := v.closed
	ch := v.channel
	v.mu.Unlock()
	if closed {
		return domain.ErrSessionClosed
	}
	if ch == nil {
		return domain.ErrNotConnected
	}

	err := ch.Send(domain.OutboundMessage{
		Type:        "message",
		VisitorID:   id.VisitorID,
		SenderName:  id.Name,
		Content:     msg.Content,
		MessageType: msg.Type,
		FileURL:     msg.FileURL,
		FileName:    msg.FileName,
	})
	if err != nil {
		return err
	}

	msg.SenderID = id.VisitorID
	msg.SenderName = id.Name
	v.Stream.AppendLocal(msg)
	return nil
}

// Typing emits one typing pulse.
func (v *VisitorClient) Typing() {
	ch := v.sender()
	if ch == nil {
		return
	}
	if err := ch.Send(domain.OutboundTyping{Type: "typing"}); err != nil {
		v.log.Debug().Err(err).Msg("typing pulse dropped")
	}
}

// Connected reports realtime channel health.
func (v *VisitorClient) Connected() bool {
	ch := v.sender()
	return ch != nil && ch.Connected()
}
