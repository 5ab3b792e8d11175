// Package agentapi bootstraps conversation sessions over the agent backend's
// REST API.
package agentapi

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
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/JSluo888/MedJourney-sub000/core/agentapi"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

type Session struct {
	ID        string    `json:"sessionId"`
	Channel   string    `json:"channel"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"-"`
}

// SessionProvider creates and releases sessions.
type SessionProvider interface {
	StartSession(ctx context.Context, userID string) (Session, error)
	StopSession(ctx context.Context, sessionID string) error
}

// LocalSessions generates session ids locally, for backends without a
// session API.
type LocalSessions struct{}

func (LocalSessions) StartSession(_ context.Context, userID string) (Session, error) {
	id := uuid.NewString()
	return Session{ID: id, Channel: id, UserID: userID, CreatedAt: time.Now()}, nil
}

func (LocalSessions) StopSession(context.Context, string) error {
	return nil
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ SessionProvider = (*Client)(nil)

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type startSessionRequest struct {
	UserID string `json:"userId"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent api returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) StartSession(ctx context.Context, userID string) (session Session, err error) {
	ctx, span := tracer.Start(ctx, "start agent session")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to start session")
		}
		span.End()
	}()

	body, err := json.Marshal(startSessionRequest{UserID: userID})
	if err != nil {
		return Session{}, fmt.Errorf("error marshalling JSON: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return Session{}, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("error decoding session: %w", err)
	}
	if session.ID == "" {
		return Session{}, fmt.Errorf("agent api returned a session without an id")
	}
	if session.Channel == "" {
		session.Channel = session.ID
	}
	if session.UserID == "" {
		session.UserID = userID
	}
	session.CreatedAt = time.Now()

	span.SetAttributes(attribute.String("session.id", session.ID))
	logger.Info("agent session started", "session_id", session.ID, "channel", session.Channel)
	return session, nil
}

func (c *Client) StopSession(ctx context.Context, sessionID string) (err error) {
	ctx, span := tracer.Start(ctx, "stop agent session")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to stop session")
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
