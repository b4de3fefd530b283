// Package engine defines the client contract this orchestrator speaks to
// a reasoning engine over (spec §6 "Engine session API"): the engine's own
// reasoning internals are explicitly out of scope, but the session
// lifecycle it exposes is not. Grounded on the teacher's internal/agent
// client, which talks to the same kind of session.create/prompt/abort API
// against a different backend; the shape of the interface carries over,
// the transport is rebuilt against this spec's HTTP surface.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/outie/internal/kinderr"
)

// PartType enumerates the kinds of content a session.prompt exchange can
// carry. Only "text" is produced by this orchestrator; other types may
// appear in engine responses and are passed through untouched.
type PartType string

const (
	PartText PartType = "text"
)

// Part is one piece of a prompt body or a response.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
}

// CreateSessionRequest is session.create's input.
type CreateSessionRequest struct {
	Title     string `json:"title"`
	Directory string `json:"directory,omitempty"`
}

// Session is the engine's session.create/session.get result shape.
type Session struct {
	ID string `json:"id"`
}

// PromptBody carries the model selection and ordered content parts of a
// session.prompt call (spec §4.9 step 6: "system" part then "dynamic+trigger").
type PromptBody struct {
	Model string `json:"model,omitempty"`
	Parts []Part `json:"parts"`
}

// PromptRequest is session.prompt's input.
type PromptRequest struct {
	ID        string     `json:"id"`
	Directory string     `json:"directory,omitempty"`
	Body      PromptBody `json:"body"`
}

// PromptResponse is session.prompt's output: ordered response parts.
type PromptResponse struct {
	Parts []Part `json:"parts"`
}

// Text concatenates every text part in order with newlines, the
// coordinator's extraction rule (spec §4.9 step 7).
func (r PromptResponse) Text() string {
	var buf bytes.Buffer
	for _, p := range r.Parts {
		if p.Type != PartText {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(p.Text)
	}
	return buf.String()
}

// EventKind enumerates the engine events delivered over Subscribe's
// stream (spec §6 event.subscribe({onSseEvent})).
type EventKind string

const (
	EventIdle EventKind = "session.idle"
)

// Event is one event pushed over the engine's SSE stream.
type Event struct {
	Kind      EventKind `json:"type"`
	SessionID string    `json:"session_id"`
}

// Client is the reasoning-engine session API consumed by the coordinator.
// It does not interpret or implement reasoning itself.
type Client interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	Prompt(ctx context.Context, req PromptRequest) (PromptResponse, error)
	Abort(ctx context.Context, id string) error
	// Subscribe streams engine events to onEvent until the returned
	// unsubscribe func is called or ctx is done (spec §6, §4.10 step 5's
	// commit-gate plugin).
	Subscribe(ctx context.Context, onEvent func(Event)) (unsubscribe func(), err error)
}

// HTTPClient is the default Client, talking JSON over HTTP to an engine
// process reachable at BaseURL.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (c *HTTPClient) CreateSession(ctx context.Context, req CreateSessionRequest) (Session, error) {
	var out Session
	if err := c.call(ctx, "session.create", req, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id string) (*Session, error) {
	var out *Session
	if err := c.call(ctx, "session.get", map[string]string{"id": id}, &out); err != nil {
		if kinderr.Is(err, kinderr.EngineSessionGone) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Prompt(ctx context.Context, req PromptRequest) (PromptResponse, error) {
	var out PromptResponse
	if err := c.call(ctx, "session.prompt", req, &out); err != nil {
		return PromptResponse{}, err
	}
	return out, nil
}

// Abort is best-effort: the coordinator treats a non-nil error here as
// "interruption failed", not fatal (spec §4.9 cancellation semantics).
func (c *HTTPClient) Abort(ctx context.Context, id string) error {
	var out struct{}
	return c.call(ctx, "session.abort", map[string]string{"id": id}, &out)
}

// Subscribe opens the engine's SSE event stream and dispatches each
// "data: {...}" line to onEvent as it arrives, until unsubscribed.
func (c *HTTPClient) Subscribe(ctx context.Context, onEvent func(Event)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(subCtx, http.MethodGet, c.baseURL+"/event.subscribe", nil)
	if err != nil {
		cancel()
		return nil, kinderr.New(kinderr.EngineUnavailable, "engine.event.subscribe", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, kinderr.New(kinderr.EngineUnavailable, "engine.event.subscribe", err)
	}

	go func() {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			onEvent(ev)
		}
	}()

	return cancel, nil
}

func (c *HTTPClient) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return kinderr.New(kinderr.EngineUnavailable, "engine."+method, err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return kinderr.New(kinderr.EngineUnavailable, "engine."+method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return kinderr.New(kinderr.EngineUnavailable, "engine."+method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return kinderr.New(kinderr.EngineSessionGone, "engine."+method, fmt.Errorf("session not found"))
	}
	if resp.StatusCode >= 300 {
		return kinderr.New(kinderr.EngineUnavailable, "engine."+method, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return kinderr.New(kinderr.EngineUnavailable, "engine."+method, err)
	}
	return nil
}
