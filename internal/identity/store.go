package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"chatdesk/internal/domain"
)

const (
	visitorFile = "visitor.json"
	agentFile   = "agent.json"
)

// VisitorIdentity is the persisted widget identity: the four keys that let a
// returning visitor resume an open conversation.
type VisitorIdentity struct {
	VisitorID string `json:"chat_visitor_id"`
	SessionID string `json:"chat_session_id"`
	Name      string `json:"chat_visitor_name"`
	Photo     string `json:"chat_visitor_photo,omitempty"`
}

// AgentCredentials is the persisted dashboard login.
type AgentCredentials struct {
	Token string       `json:"token"`
	Agent domain.Agent `json:"agent"`
}

// Store persists identities as JSON files under one directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// LoadVisitor returns the stored visitor identity, or nil when none exists.
func (s *Store) LoadVisitor() (*VisitorIdentity, error) {
	var id VisitorIdentity
	ok, err := s.load(visitorFile, &id)
	if err != nil || !ok {
		return nil, err
	}
	return &id, nil
}

// SaveVisitor persists the visitor identity atomically.
func (s *Store) SaveVisitor(id *VisitorIdentity) error {
	return s.save(visitorFile, id)
}

// ClearVisitor forgets the visitor identity. Missing files are fine.
func (s *Store) ClearVisitor() error {
	return s.clear(visitorFile)
}

// LoadAgent returns the stored agent credentials, or nil when none exist.
func (s *Store) LoadAgent() (*AgentCredentials, error) {
	var creds AgentCredentials
	ok, err := s.load(agentFile, &creds)
	if err != nil || !ok {
		return nil, err
	}
	return &creds, nil
}

// SaveAgent persists the agent credentials atomically.
func (s *Store) SaveAgent(creds *AgentCredentials) error {
	return s.save(agentFile, creds)
}

// ClearAgent forgets the agent credentials. Missing files are fine.
func (s *Store) ClearAgent() error {
	return s.clear(agentFile)
}

func (s *Store) load(name string, out any) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read identity file: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode identity file: %w", err)
	}
	return true, nil
}

// save writes to a temp file then renames, so a crash mid-write never leaves
// a truncated identity behind.
func (s *Store) save(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to commit identity file: %w", err)
	}
	return nil
}

func (s *Store) clear(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear identity file: %w", err)
	}
	return nil
}
