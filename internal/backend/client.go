package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatdesk/internal/domain"
)

// Client is the REST client for the support-chat backend. All state lives
// server-side; every method is a one-shot call.
type Client struct {
	baseURL string
	client  *http.Client
	upload  *http.Client
	log     zerolog.Logger
}

// New creates a backend client rooted at baseURL (without the /api prefix).
func New(baseURL string, requestTimeout, uploadTimeout time.Duration, log zerolog.Logger) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	if uploadTimeout <= 0 {
		uploadTimeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api",
		client:  &http.Client{Timeout: requestTimeout},
		upload:  &http.Client{Timeout: uploadTimeout},
		log:     log.With().Str("component", "backend").Logger(),
	}
}

// APIError is a non-2xx backend response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// Unwrap maps a 404 to domain.ErrNotFound so callers can branch with errors.Is.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail struct {
			Detail string `json:"detail"`
		}
		json.NewDecoder(resp.Body).Decode(&detail)
		return &APIError{Status: resp.StatusCode, Detail: detail.Detail}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListOptions narrows the session list pull.
type ListOptions struct {
	Status  domain.SessionStatus
	AgentID string
}

// ListSessions pulls the full session collection, newest first.
func (c *Client) ListSessions(ctx context.Context, opts ListOptions) ([]domain.Session, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.AgentID != "" {
		q.Set("agent_id", opts.AgentID)
	}
	var sessions []domain.Session
	if err := c.do(ctx, http.MethodGet, "/sessions", q, nil, &sessions); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// GetSession fetches a single session, used to validate resumed identities.
func (c *Client) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, nil, &session); err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// CreateSession starts a conversation for a visitor. The backend returns the
// existing open session if the visitor already has one.
func (c *Client) CreateSession(ctx context.Context, visitorID, visitorName string) (*domain.Session, error) {
	q := url.Values{}
	q.Set("visitor_id", visitorID)
	if visitorName != "" {
		q.Set("visitor_name", visitorName)
	}
	var session domain.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", q, nil, &session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

// ListMessages returns the full ordered history for a session.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var messages []domain.Message
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/messages", nil, nil, &messages); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// MarkRead zeroes the unread counter server-side.
func (c *Client) MarkRead(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPut, "/sessions/"+sessionID+"/read", nil, nil, nil); err != nil {
		return fmt.Errorf("failed to mark session read: %w", err)
	}
	return nil
}

// AssignAgent assigns an agent and moves the session toward active.
func (c *Client) AssignAgent(ctx context.Context, sessionID, agentID string) (*domain.Session, error) {
	body := map[string]string{"agent_id": agentID}
	var session domain.Session
	if err := c.do(ctx, http.MethodPut, "/sessions/"+sessionID+"/assign", nil, body, &session); err != nil {
		return nil, fmt.Errorf("failed to assign session: %w", err)
	}
	return &session, nil
}

// CloseSession transitions the session to closed.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	if err := c.do(ctx, http.MethodPut, "/sessions/"+sessionID+"/close", nil, nil, &session); err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}
	return &session, nil
}

// CreateVisitor registers a new visitor identity.
func (c *Client) CreateVisitor(ctx context.Context, name, source string) (*domain.Visitor, error) {
	body := map[string]string{"name": name, "source": source}
	var visitor domain.Visitor
	if err := c.do(ctx, http.MethodPost, "/visitors", nil, body, &visitor); err != nil {
		return nil, fmt.Errorf("failed to create visitor: %w", err)
	}
	return &visitor, nil
}

// ListAgents returns all registered agents.
func (c *Client) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	if err := c.do(ctx, http.MethodGet, "/agents", nil, nil, &agents); err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

// LoginResult is the login response: a bearer token plus the agent profile.
type LoginResult struct {
	Token string       `json:"token"`
	Agent domain.Agent `json:"agent"`
}

// Login authenticates an agent.
func (c *Client) Login(ctx context.Context, creds domain.AgentLogin) (*LoginResult, error) {
	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/agents/login", nil, creds, &result); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return &result, nil
}

// Register creates a new agent account.
func (c *Client) Register(ctx context.Context, input domain.AgentCreate) (*domain.Agent, error) {
	var agent domain.Agent
	if err := c.do(ctx, http.MethodPost, "/agents/register", nil, input, &agent); err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}
	return &agent, nil
}

// Me validates a stored token and returns the agent it belongs to.
func (c *Client) Me(ctx context.Context, token string) (*domain.Agent, error) {
	q := url.Values{}
	q.Set("token", token)
	var agent domain.Agent
	if err := c.do(ctx, http.MethodGet, "/agents/me", q, nil, &agent); err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	return &agent, nil
}

// SetAgentStatus flips the agent online flag.
func (c *Client) SetAgentStatus(ctx context.Context, agentID string, online bool) error {
	q := url.Values{}
	q.Set("is_online", fmt.Sprintf("%t", online))
	if err := c.do(ctx, http.MethodPut, "/agents/"+agentID+"/status", q, nil, nil); err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}
	return nil
}

// WSEndpoint derives the realtime channel URL for an identity. Role is
// "agent" or "visitor"; id is the agent ID or session ID respectively.
func (c *Client) WSEndpoint(role, id string) string {
	ws := c.baseURL
	if strings.HasPrefix(ws, "https") {
		ws = "wss" + strings.TrimPrefix(ws, "https")
	} else {
		ws = "ws" + strings.TrimPrefix(ws, "http")
	}
	return ws + "/ws/" + role + "/" + id
}
