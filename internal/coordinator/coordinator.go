// Package coordinator implements the session coordinator (spec §4.9): the
// single-actor state machine that ensures at-most-one active reasoning
// session per orchestrator instance while making sure a newer trigger
// doesn't starve behind a stuck one. Grounded on the teacher's
// internal/agent runner loop for the overall "assemble prompt, drive the
// engine, persist the turn" shape, generalised from the teacher's
// multi-provider completion call to this spec's session.create/
// prompt/abort contract (internal/engine), and on
// internal/tasks.Scheduler's single-actor goroutine-with-mutex discipline
// for state-machine serialisation.
package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/contextbuilder"
	"github.com/haasonsaas/outie/internal/engine"
	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/haasonsaas/outie/internal/scheduler"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/internal/tools"
	"github.com/haasonsaas/outie/pkg/models"
)

// Sandbox is the narrow set of primitives the coordinator needs to bring a
// sandbox to readiness before handing it to the engine; kept local to
// avoid depending on the concrete internal/sandbox type.
type Sandbox interface {
	Wake(ctx context.Context) error
	WaitReady(ctx context.Context) error
}

// Uplink is the narrow uplink lifecycle the coordinator drives; satisfied
// by internal/mcp/uplink.Client.
type Uplink interface {
	Connect(ctx context.Context) error
	Connected() bool
}

// ChatSink delivers the coordinator's response to its trigger source
// (spec §4.9 step 9); satisfied by internal/outbound.Sink.
type ChatSink interface {
	Send(ctx context.Context, chatID, text, replyToID, parseMode string) error
}

// URLAllower records URLs into fetch_page's allow-list (spec §3 AllowedUrl,
// §4.7: "populated by prior search results and by URL extraction from user
// messages"); satisfied by internal/tools.AllowedURLs.
type URLAllower interface {
	Allow(urls ...string)
}

const placeholderReply = "[No response]"

// SessionRecorder observes the coordinator's active-session state;
// satisfied by internal/metrics.Metrics.
type SessionRecorder interface {
	SetSessionActive(active bool)
}

// Config tunes coordinator behaviour.
type Config struct {
	Model string // model name passed on session.prompt, may be empty
}

// Coordinator holds the in-memory state machine of spec §4.9:
// currentSessionId/isProcessing.
type Coordinator struct {
	cfg     Config
	store   store.Store
	builder *contextbuilder.Builder
	sandbox Sandbox
	uplink  Uplink
	eng     engine.Client
	chat    ChatSink
	log        *slog.Logger
	nowFn      func() time.Time
	recorder   SessionRecorder
	urlAllower URLAllower

	mu               sync.Mutex
	isProcessing     bool
	currentSessionID string
}

// SetRecorder attaches an active-session recorder; nil disables recording.
func (c *Coordinator) SetRecorder(rec SessionRecorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = rec
}

// SetURLAllower attaches the fetch_page allow-list that inbound trigger
// text is extracted into; nil disables extraction.
func (c *Coordinator) SetURLAllower(a URLAllower) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urlAllower = a
}

func New(cfg Config, st store.Store, builder *contextbuilder.Builder, sb Sandbox, up Uplink, eng engine.Client, chat ChatSink, log *slog.Logger, nowFn func() time.Time) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Coordinator{
		cfg: cfg, store: st, builder: builder, sandbox: sb, uplink: up, eng: eng, chat: chat,
		log: log.With("component", "coordinator"), nowFn: nowFn,
	}
}

// Trigger describes an incoming message/alarm/ambient trigger.
type Trigger struct {
	Kind    contextbuilder.TriggerKind
	Text    string // user message content, for TriggerMessage
	ChatID  string // where to reply, for TriggerMessage
	ReplyTo string
}

// DispatchAlarm implements scheduler.Dispatcher, translating a fired
// reminder into an alarm trigger (spec §4.5/§4.9).
func (c *Coordinator) DispatchAlarm(ctx context.Context, t scheduler.AlarmTrigger) error {
	text := t.Payload
	if t.Description != "" {
		text = t.Description + "\n" + t.Payload
	}
	_, err := c.Handle(ctx, Trigger{Kind: contextbuilder.TriggerAlarm, Text: text})
	return err
}

// Handle runs the full invocation protocol of spec §4.9 for one trigger
// and returns the engine's response text (possibly empty).
func (c *Coordinator) Handle(ctx context.Context, t Trigger) (string, error) {
	systemPrompt, err := c.builder.SystemPrompt(ctx)
	if err != nil {
		return "", kinderr.New(kinderr.StorageRetryable, "coordinator.handle", err)
	}

	if t.Kind == contextbuilder.TriggerMessage && strings.TrimSpace(t.Text) != "" {
		if err := c.store.AppendMessage(ctx, &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleUser,
			Content:   t.Text,
			Timestamp: c.nowFn().UnixMilli(),
			Trigger:   models.TriggerMessage,
		}); err != nil {
			return "", kinderr.New(kinderr.StorageRetryable, "coordinator.handle", err)
		}
		if c.urlAllower != nil {
			if urls := tools.ExtractURLs(t.Text); len(urls) > 0 {
				c.urlAllower.Allow(urls...)
			}
		}
	}

	dynamic, err := c.builder.DynamicEnvelope(ctx, contextbuilder.TriggerInfo{
		Kind:        t.Kind,
		Payload:     t.Text,
		Description: t.Text,
	})
	if err != nil {
		return "", kinderr.New(kinderr.StorageRetryable, "coordinator.handle", err)
	}

	if err := c.ensureSandboxReady(ctx); err != nil {
		return "", err
	}
	if !c.uplink.Connected() {
		if err := c.uplink.Connect(ctx); err != nil {
			return "", err
		}
	}

	response, err := c.runSession(ctx, systemPrompt, dynamic)
	if err != nil {
		c.log.Error("engine invocation failed", "error", err)
		response = placeholderReply
	}

	if strings.TrimSpace(response) != "" {
		if appendErr := c.store.AppendMessage(ctx, &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   response,
			Timestamp: c.nowFn().UnixMilli(),
			Trigger:   triggerType(t.Kind),
		}); appendErr != nil {
			c.log.Error("failed to persist assistant message", "error", appendErr)
		}
	}

	if t.Kind == contextbuilder.TriggerMessage && c.chat != nil {
		if sendErr := c.chat.Send(ctx, t.ChatID, response, t.ReplyTo, ""); sendErr != nil {
			c.log.Error("failed to deliver response to chat sink", "error", sendErr)
		}
	} else {
		c.log.Info("non-message trigger response", "kind", t.Kind, "response", response)
	}

	return response, nil
}

func (c *Coordinator) ensureSandboxReady(ctx context.Context) error {
	if err := c.sandbox.Wake(ctx); err != nil {
		return kinderr.New(kinderr.SandboxUnavailable, "coordinator.wake", err)
	}
	if err := c.sandbox.WaitReady(ctx); err != nil {
		return kinderr.New(kinderr.SandboxUnavailable, "coordinator.waitready", err)
	}
	return nil
}

// runSession implements the preemption rule and guaranteed isProcessing
// release of spec §4.9 steps 5-10.
func (c *Coordinator) runSession(ctx context.Context, systemPrompt, dynamic string) (response string, err error) {
	sessionID, err := c.acquireSession(ctx)
	if err != nil {
		return "", err
	}

	defer func() {
		c.mu.Lock()
		c.isProcessing = false
		rec := c.recorder
		c.mu.Unlock()
		if rec != nil {
			rec.SetSessionActive(false)
		}
	}()

	resp, err := c.eng.Prompt(ctx, engine.PromptRequest{
		ID: sessionID,
		Body: engine.PromptBody{
			Model: c.cfg.Model,
			Parts: []engine.Part{
				{Type: engine.PartText, Text: systemPrompt},
				{Type: engine.PartText, Text: dynamic},
			},
		},
	})
	if err != nil {
		return "", kinderr.New(kinderr.EngineUnavailable, "coordinator.prompt", err)
	}
	return resp.Text(), nil
}

// acquireSession implements the preemption rule (spec §4.9 step 5):
// aborting and reusing the in-flight session if one exists, otherwise
// creating a fresh one. Sets isProcessing=true before returning.
func (c *Coordinator) acquireSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	wasProcessing := c.isProcessing
	current := c.currentSessionID
	c.mu.Unlock()

	if wasProcessing && current != "" {
		abortErr := c.eng.Abort(ctx, current)
		wasInterrupted := abortErr == nil
		if abortErr != nil {
			c.log.Warn("session abort failed, proceeding with a fresh session", "error", abortErr, "session_id", current)
		}
		if wasInterrupted {
			c.mu.Lock()
			c.isProcessing = true
			c.currentSessionID = current
			rec := c.recorder
			c.mu.Unlock()
			if rec != nil {
				rec.SetSessionActive(true)
			}
			return current, nil
		}
	}

	sess, err := c.eng.CreateSession(ctx, engine.CreateSessionRequest{Title: "outie session"})
	if err != nil {
		return "", kinderr.New(kinderr.EngineUnavailable, "coordinator.createsession", err)
	}

	c.mu.Lock()
	c.isProcessing = true
	c.currentSessionID = sess.ID
	rec := c.recorder
	c.mu.Unlock()
	if rec != nil {
		rec.SetSessionActive(true)
	}

	return sess.ID, nil
}

// Clear implements the /clear slash command (spec §6): it drops the
// conversation message buffer and abandons any in-flight engine session so
// the next trigger starts fresh.
func (c *Coordinator) Clear(ctx context.Context) (string, error) {
	if err := c.store.DeleteMessagesThrough(ctx, c.nowFn().UnixMilli()); err != nil {
		return "", kinderr.New(kinderr.StorageRetryable, "coordinator.clear", err)
	}

	c.mu.Lock()
	current := c.currentSessionID
	c.isProcessing = false
	c.currentSessionID = ""
	rec := c.recorder
	c.mu.Unlock()
	if rec != nil {
		rec.SetSessionActive(false)
	}

	if current != "" {
		if err := c.eng.Abort(ctx, current); err != nil {
			c.log.Warn("failed to abort session on clear", "error", err, "session_id", current)
		}
	}

	return "Conversation cleared.", nil
}

func triggerType(k contextbuilder.TriggerKind) models.TriggerType {
	switch k {
	case contextbuilder.TriggerAlarm:
		return models.TriggerAlarm
	case contextbuilder.TriggerAmbient:
		return models.TriggerAmbient
	default:
		return models.TriggerMessage
	}
}

// IsProcessing reports the coordinator's current state, for diagnostics
// (doctor subcommand, health checks).
func (c *Coordinator) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isProcessing
}
