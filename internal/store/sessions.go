package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"chatdesk/internal/domain"
	"chatdesk/internal/metrics"
)

// FilterAll matches every session regardless of pipeline tag.
const FilterAll = "all"

// RevertFunc undoes one optimistic mutation. Callers invoke it when the
// paired backend call fails so tentative state never sticks.
type RevertFunc func()

// SessionStore is the in-memory session collection for one dashboard
// instance, refreshed by polling pulls and patched by push frames. The
// backend stays the source of truth; everything here is a cache.
type SessionStore struct {
	mu       sync.RWMutex
	sessions []domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Replace swaps in the result of a full pull. Per-session revision guards
// keep a fresher pushed copy from being clobbered by a stale pull: when the
// held copy carries a higher revision the held copy wins. Sessions absent
// from the pull are dropped.
func (s *SessionStore) Replace(pulled []domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := make(map[string]domain.Session, len(s.sessions))
	for _, sess := range s.sessions {
		held[sess.ID] = sess
	}

	next := make([]domain.Session, 0, len(pulled))
	for _, sess := range pulled {
		if prev, ok := held[sess.ID]; ok && prev.Revision > sess.Revision {
			next = append(next, prev)
			continue
		}
		next = append(next, sess)
	}
	s.sessions = next
	metrics.SetSessionsHeld(len(next))
}

// AddNew prepends a pushed new_session. Duplicate delivery of the same
// session ID is a no-op.
func (s *SessionStore) AddNew(sess domain.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, held := range s.sessions {
		if held.ID == sess.ID {
			return false
		}
	}
	s.sessions = append([]domain.Session{sess}, s.sessions...)
	metrics.SetSessionsHeld(len(s.sessions))
	return true
}

// Update replaces a held session by identifier, for session_updated and
// session_closed pushes. Unmatched identifiers are ignored (no
// insert-on-update), and merges carrying a lower revision than held are
// rejected.
func (s *SessionStore) Update(sess domain.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, held := range s.sessions {
		if held.ID != sess.ID {
			continue
		}
		if held.Revision > sess.Revision {
			return false
		}
		s.sessions[i] = sess
		return true
	}
	return false
}

// Get returns a copy of the session with the given identifier.
func (s *SessionStore) Get(id string) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, held := range s.sessions {
		if held.ID == id {
			return held, true
		}
	}
	return domain.Session{}, false
}

// List returns a copy of the full collection in held order.
func (s *SessionStore) List() []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Len returns the number of held sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Counts reports how many sessions are waiting and active.
func (s *SessionStore) Counts() (waiting, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, held := range s.sessions {
		switch held.Status {
		case domain.StatusWaiting:
			waiting++
		case domain.StatusActive:
			active++
		}
	}
	return waiting, active
}

// Patch applies fn to the session with the given identifier and returns a
// revert func restoring the pre-patch copy. ok is false when the identifier
// is unknown, in which case revert is a no-op.
func (s *SessionStore) Patch(id string, fn func(*domain.Session)) (revert RevertFunc, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, held := range s.sessions {
		if held.ID != id {
			continue
		}
		prev := held
		fn(&s.sessions[i])
		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for j, cur := range s.sessions {
				if cur.ID == prev.ID {
					s.sessions[j] = prev
					return
				}
			}
		}, true
	}
	return func() {}, false
}

// Assign tentatively assigns an agent and activates the session.
func (s *SessionStore) Assign(id, agentID string) (RevertFunc, bool) {
	return s.Patch(id, func(sess *domain.Session) {
		sess.AssignedAgentID = agentID
		sess.Status = domain.StatusActive
	})
}

// Close tentatively transitions the session to closed.
func (s *SessionStore) Close(id string) (RevertFunc, bool) {
	return s.Patch(id, func(sess *domain.Session) {
		sess.Status = domain.StatusClosed
	})
}

// MarkOrder flags the session as a sales order at the start of the pipeline.
func (s *SessionStore) MarkOrder(id string) (RevertFunc, bool) {
	return s.Patch(id, func(sess *domain.Session) {
		sess.IsOrder = true
		sess.OrderStatus = domain.OrderNewLead
	})
}

// SetOrderStatus moves the session along the sales pipeline.
func (s *SessionStore) SetOrderStatus(id string, status domain.OrderStatus) (RevertFunc, bool) {
	return s.Patch(id, func(sess *domain.Session) {
		sess.OrderStatus = status
	})
}

// ResetUnread zeroes the unread counter for exactly one session.
func (s *SessionStore) ResetUnread(id string) {
	s.Patch(id, func(sess *domain.Session) {
		sess.UnreadCount = 0
	})
}

// RecordMessage updates the preview, bumps updated_at, and increments the
// unread counter for visitor messages. countUnread is false for the session
// currently open in the transcript, whose counter stays at zero.
func (s *SessionStore) RecordMessage(id string, m domain.Message, at time.Time, countUnread bool) {
	s.Patch(id, func(sess *domain.Session) {
		sess.LastMessage = m.Preview()
		sess.UpdatedAt = at
		if countUnread && m.SenderType == domain.SenderVisitor {
			sess.UnreadCount++
		}
	})
}

// Delete removes a session from the collection.
func (s *SessionStore) Delete(id string) (RevertFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, held := range s.sessions {
		if held.ID != id {
			continue
		}
		prev := held
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
		metrics.SetSessionsHeld(len(s.sessions))
		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sessions = append([]domain.Session{prev}, s.sessions...)
			metrics.SetSessionsHeld(len(s.sessions))
		}, true
	}
	return func() {}, false
}

// Filter is the pure sidebar projection: case-insensitive substring match on
// the visitor name, equality on the derived pipeline tag (unless FilterAll),
// sorted by updated_at descending. It never mutates the store.
func (s *SessionStore) Filter(query, tag string) []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.Session, 0, len(s.sessions))
	for _, held := range s.sessions {
		if query != "" && !strings.Contains(strings.ToLower(held.VisitorName), query) {
			continue
		}
		if tag != "" && tag != FilterAll && held.FilterTag() != tag {
			continue
		}
		out = append(out, held)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
