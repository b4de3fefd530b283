// Package contextbuilder assembles the system prompt and dynamic context
// envelope of spec §4.6, grounded on the teacher's
// internal/agent/context.Packer (budget-driven message selection) and
// internal/context/truncation.go's truncate-with-ellipsis convention,
// generalised from "pack messages for an LLM call" to "render the
// envelope sections spec §4.6 names in the order it names them".
package contextbuilder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

const (
	recentJournalCount      = 40
	recentConversationCount = 30
	maxMessageChars         = 5000
	ellipsis                = "… [truncated]"

	defaultIdentity = "You are outie, a stateful coding and operations assistant."
	operatingPrinciples = `Operating principles:
- Use the memory tools (journal_write, topic_write, state_write) to persist anything worth remembering across turns.
- Prefer journal_search/topic_search over asking the user to repeat themselves.
- Schedule follow-ups with schedule_once/schedule_recurring instead of promising to "remember to check back".
- Never fetch a URL that was not surfaced by search or user text.`
)

// Reserved state file names injected into every dynamic envelope (spec §3).
var reservedStateFiles = []string{"identity", "today", "user"}

// Builder composes prompts from the Store. It holds no per-call state.
type Builder struct {
	store            store.Store
	compactThreshold int
	nowFn            func() time.Time
}

func New(s store.Store, compactThreshold int, nowFn func() time.Time) *Builder {
	if compactThreshold <= 0 {
		compactThreshold = 50000
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Builder{store: s, compactThreshold: compactThreshold, nowFn: nowFn}
}

// SystemPrompt returns the identity block plus fixed operating principles.
// It is stable across invocations when the identity state file is
// unchanged (spec §4.6a), so callers may safely rely on prompt caching.
func (b *Builder) SystemPrompt(ctx context.Context) (string, error) {
	identity, err := b.store.ReadStateFile(ctx, "identity")
	if err != nil {
		return "", err
	}
	body := defaultIdentity
	if identity != nil && strings.TrimSpace(identity.Content) != "" {
		body = identity.Content
	}
	return body + "\n\n" + operatingPrinciples, nil
}

// TriggerKind is the trigger tail appended after the dynamic envelope
// (spec §4.6).
type TriggerKind string

const (
	TriggerMessage TriggerKind = "message"
	TriggerAlarm   TriggerKind = "alarm"
	TriggerAmbient TriggerKind = "ambient"
)

// TriggerInfo carries the data needed to render the trigger-specific tail.
type TriggerInfo struct {
	Kind        TriggerKind
	Payload     string // user message text, for TriggerMessage
	Description string // reminder description and payload, for TriggerAlarm
}

// DynamicEnvelope renders the structured text block of spec §4.6b,
// followed by the trigger-specific tail.
func (b *Builder) DynamicEnvelope(ctx context.Context, trig TriggerInfo) (string, error) {
	var sb strings.Builder

	now := b.nowFn()
	fmt.Fprintf(&sb, "<current_time>%s (%s)</current_time>\n", now.UTC().Format(time.RFC3339), now.Format("Mon Jan 2 15:04 MST"))

	stats, err := b.store.ConversationStats(ctx, b.compactThreshold)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "<context_status messageCount=%q approxTokens=%q compactThreshold=%q needsCompaction=%q/>\n",
		fmt.Sprint(stats.Count), fmt.Sprint(stats.ApproxTokens), fmt.Sprint(b.compactThreshold), fmt.Sprint(stats.NeedsCompaction))

	if err := b.renderStateFiles(ctx, &sb); err != nil {
		return "", err
	}
	if err := b.renderJournal(ctx, &sb); err != nil {
		return "", err
	}
	if err := b.renderLastSummary(ctx, &sb); err != nil {
		return "", err
	}
	if err := b.renderConversation(ctx, &sb); err != nil {
		return "", err
	}

	sb.WriteString(renderTriggerTail(trig))

	if stats.NeedsCompaction {
		sb.WriteString("\n<compaction_notice>Conversation buffer exceeds the token budget; call save_conversation_summary before continuing.</compaction_notice>\n")
	}

	return sb.String(), nil
}

func (b *Builder) renderStateFiles(ctx context.Context, sb *strings.Builder) error {
	files, err := b.store.ListStateFiles(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*models.StateFile, len(files))
	for _, f := range files {
		byName[f.Name] = f
	}

	sb.WriteString("<state_files>\n")
	for _, name := range reservedStateFiles {
		f := byName[name]
		content := ""
		if f != nil {
			content = f.Content
		}
		fmt.Fprintf(sb, "  <%s>%s</%s>\n", name, content, name)
	}
	sb.WriteString("</state_files>\n")
	return nil
}

func (b *Builder) renderJournal(ctx context.Context, sb *strings.Builder) error {
	entries, err := b.store.RecentJournal(ctx, recentJournalCount)
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "<recent_journal count=%q>\n", fmt.Sprint(len(entries)))
	for _, e := range entries {
		fmt.Fprintf(sb, "  [%s] (%s) %s\n", time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339), e.Topic, e.Content)
	}
	sb.WriteString("</recent_journal>\n")
	return nil
}

func (b *Builder) renderLastSummary(ctx context.Context, sb *strings.Builder) error {
	last, err := b.store.LastSummary(ctx)
	if err != nil {
		return err
	}
	sb.WriteString("<last_summary>\n")
	if last == nil {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(last.Content + "\n")
	}
	sb.WriteString("</last_summary>\n")
	return nil
}

func (b *Builder) renderConversation(ctx context.Context, sb *strings.Builder) error {
	messages, err := b.store.RecentMessages(ctx, recentConversationCount)
	if err != nil {
		return err
	}
	sb.WriteString("<recent_conversation>\n")
	for _, m := range messages {
		fmt.Fprintf(sb, "  %s: %s\n", m.Role, truncate(m.Content, maxMessageChars))
	}
	sb.WriteString("</recent_conversation>\n")
	return nil
}

func renderTriggerTail(trig TriggerInfo) string {
	switch trig.Kind {
	case TriggerAlarm:
		return fmt.Sprintf("\n<trigger type=\"alarm\">%s\nNote: this reply is NOT auto-delivered to the chat channel; call send_telegram if the user should see it.</trigger>\n", trig.Description)
	case TriggerAmbient:
		return "\n<trigger type=\"ambient\">Ambient tick. Note: this reply is NOT auto-delivered to the chat channel; respond briefly for logging only.</trigger>\n"
	default:
		return fmt.Sprintf("\n<trigger type=\"message\">User message: %s</trigger>\n", trig.Payload)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + ellipsis
}
