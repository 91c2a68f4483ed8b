package domain

import "time"

// SessionStatus is the support-workflow lifecycle state of a session.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusClosed  SessionStatus = "closed"
)

// OrderStatus is the sales-pipeline tag on a session. It is independent of
// the lifecycle status and only meaningful once a session is marked as an order.
type OrderStatus string

const (
	OrderNewLead      OrderStatus = "new_lead"
	OrderContacted    OrderStatus = "contacted"
	OrderProposalSent OrderStatus = "proposal_sent"
	OrderNegotiation  OrderStatus = "negotiation"
	OrderPlaced       OrderStatus = "order_placed"
	OrderDelivered    OrderStatus = "delivered"
	OrderClosed       OrderStatus = "closed"
	OrderDenied       OrderStatus = "denied"
)

// Session represents one visitor's conversation thread with the support org.
// The backend is the source of truth; client copies are caches that reconcile
// against pulls and push frames.
type Session struct {
	ID              string        `json:"id"`
	VisitorID       string        `json:"visitor_id"`
	VisitorName     string        `json:"visitor_name,omitempty"`
	VisitorPhoto    string        `json:"visitor_photo,omitempty"`
	AssignedAgentID string        `json:"assigned_agent_id,omitempty"`
	Status          SessionStatus `json:"status"`
	OrderStatus     OrderStatus   `json:"order_status,omitempty"`
	IsOrder         bool          `json:"is_order,omitempty"`
	LastMessage     string        `json:"last_message,omitempty"`
	UnreadCount     int           `json:"unread_count"`
	// Revision is a monotonically increasing counter assigned by the backend.
	// Zero means the backend does not version sessions and merges are accepted
	// unconditionally.
	Revision  int64     `json:"revision,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FilterTag derives the tag the dashboard filter tabs match against:
// the order status when set, else the lifecycle status, else "new_lead".
func (s Session) FilterTag() string {
	if s.OrderStatus != "" {
		return string(s.OrderStatus)
	}
	if s.Status != "" {
		return string(s.Status)
	}
	return string(OrderNewLead)
}

// Closed reports whether the session accepts no further replies.
func (s Session) Closed() bool {
	return s.Status == StatusClosed
}

// Visitor is the identity created for a widget user before their first session.
type Visitor struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Photo      string    `json:"photo,omitempty"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}
