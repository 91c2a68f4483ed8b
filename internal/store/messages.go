package store

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"chatdesk/internal/domain"
)

// MessageStream is the append-only transcript of the currently open session.
// Switching sessions starts a new epoch; loads and appends tagged with an
// older epoch are discarded so a slow history fetch can never land in the
// wrong conversation.
type MessageStream struct {
	mu        sync.Mutex
	sessionID string
	epoch     uint64
	msgs      []domain.Message
	seen      map[string]struct{}

	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

func NewMessageStream() *MessageStream {
	now := time.Now
	return &MessageStream{
		seen:    map[string]struct{}{},
		now:     now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(now().UnixNano())), 0),
	}
}

// Begin switches the stream to a session, clears the transcript, and returns
// the new epoch token. Pass the token back to Load so stale fetches drop out.
func (m *MessageStream) Begin(sessionID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.sessionID = sessionID
	m.msgs = nil
	m.seen = map[string]struct{}{}
	return m.epoch
}

// SessionID returns the session the stream currently follows.
func (m *MessageStream) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Load installs a fetched history. It reports false and discards the batch
// when epoch no longer matches the open session.
func (m *MessageStream) Load(epoch uint64, msgs []domain.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return false
	}
	m.msgs = make([]domain.Message, 0, len(msgs))
	m.seen = make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, dup := m.seen[msg.ID]; dup {
			continue
		}
		m.seen[msg.ID] = struct{}{}
		m.msgs = append(m.msgs, msg)
	}
	return true
}

// AppendRemote appends a pushed message. It reports false when the message
// belongs to another session, repeats an already-held identifier, or echoes
// the local side's own send (localSender is the sender type this client
// writes as; its own pushes are already appended optimistically).
func (m *MessageStream) AppendRemote(msg domain.Message, localSender domain.SenderType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.SessionID != m.sessionID || m.sessionID == "" {
		return false
	}
	if msg.SenderType == localSender {
		return false
	}
	if _, dup := m.seen[msg.ID]; dup {
		return false
	}
	m.seen[msg.ID] = struct{}{}
	m.msgs = append(m.msgs, msg)
	return true
}

// AppendLocal stamps an optimistic send with a fresh monotonic identifier and
// timestamp, appends it, and returns the stamped copy.
func (m *MessageStream) AppendLocal(msg domain.Message) domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	msg.ID = ulid.MustNew(ulid.Timestamp(now), m.entropy).String()
	msg.SessionID = m.sessionID
	msg.CreatedAt = now
	m.seen[msg.ID] = struct{}{}
	m.msgs = append(m.msgs, msg)
	return msg
}

// Messages returns a copy of the transcript in arrival order.
func (m *MessageStream) Messages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Len returns the transcript length.
func (m *MessageStream) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}
