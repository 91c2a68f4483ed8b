package domain

// FrameType tags a push frame delivered over the realtime channel.
type FrameType string

const (
	FrameNewMessage     FrameType = "new_message"
	FrameNewSession     FrameType = "new_session"
	FrameSessionUpdated FrameType = "session_updated"
	FrameSessionClosed  FrameType = "session_closed"
	FrameVisitorTyping  FrameType = "visitor_typing"
	FrameAgentTyping    FrameType = "agent_typing"
	FrameAgentJoined    FrameType = "agent_joined"
)

// PushFrame is an inbound realtime frame. Only the fields relevant to the
// tagged type are populated; unknown types are ignored by dispatchers.
type PushFrame struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Session   *Session  `json:"session,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
}

// MessageSessionID resolves the session a new_message frame belongs to; the
// agent feed carries it at the top level, the visitor feed inside the message.
func (f PushFrame) MessageSessionID() string {
	if f.SessionID != "" {
		return f.SessionID
	}
	if f.Message != nil {
		return f.Message.SessionID
	}
	return ""
}

// OutboundMessage is the single outbound frame type carrying a chat message.
// Agent connections carry only session_id plus content fields; visitor
// connections add visitor_id and sender_name.
type OutboundMessage struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"session_id,omitempty"`
	VisitorID   string      `json:"visitor_id,omitempty"`
	SenderName  string      `json:"sender_name,omitempty"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	FileURL     string      `json:"file_url,omitempty"`
	FileName    string      `json:"file_name,omitempty"`
}

// OutboundTyping is the typing-indicator frame; the backend relays it to the
// other party as visitor_typing or agent_typing.
type OutboundTyping struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}
