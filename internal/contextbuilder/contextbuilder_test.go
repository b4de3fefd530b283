package contextbuilder

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

func newTestBuilder(t *testing.T, now time.Time) (*Builder, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "o.db"), 4)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	b := New(s, 50000, func() time.Time { return now })
	return b, s
}

func TestSystemPromptFallsBackToDefaultIdentity(t *testing.T) {
	b, _ := newTestBuilder(t, time.Now())
	prompt, err := b.SystemPrompt(context.Background())
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, defaultIdentity) {
		t.Errorf("expected default identity fallback, got %q", prompt)
	}
	if !strings.Contains(prompt, "Operating principles") {
		t.Errorf("expected fixed operating principles block, got %q", prompt)
	}
}

func TestSystemPromptUsesStoredIdentity(t *testing.T) {
	b, s := newTestBuilder(t, time.Now())
	ctx := context.Background()
	if err := s.WriteStateFile(ctx, "identity", "You are Outie, Jonathan's assistant."); err != nil {
		t.Fatalf("WriteStateFile: %v", err)
	}
	prompt, err := b.SystemPrompt(ctx)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "Jonathan's assistant") {
		t.Errorf("expected stored identity to override default, got %q", prompt)
	}
}

func TestDynamicEnvelopeIncludesAllSections(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	b, s := newTestBuilder(t, now)
	ctx := context.Background()

	if err := s.WriteJournal(ctx, &models.JournalEntry{Topic: "notes", Content: "did a thing", Timestamp: now.UnixMilli()}); err != nil {
		t.Fatalf("WriteJournal: %v", err)
	}
	if err := s.AppendMessage(ctx, &models.Message{Role: "user", Content: "hello", Timestamp: now.UnixMilli()}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	env, err := b.DynamicEnvelope(ctx, TriggerInfo{Kind: TriggerMessage, Payload: "hello"})
	if err != nil {
		t.Fatalf("DynamicEnvelope: %v", err)
	}

	for _, want := range []string{"<current_time>", "<context_status", "<state_files>", "<recent_journal", "did a thing", "<last_summary>", "<recent_conversation>", "hello", `<trigger type="message">`} {
		if !strings.Contains(env, want) {
			t.Errorf("expected envelope to contain %q, got:\n%s", want, env)
		}
	}
}

func TestDynamicEnvelopeTruncatesLongMessages(t *testing.T) {
	now := time.Now()
	b, s := newTestBuilder(t, now)
	ctx := context.Background()

	long := strings.Repeat("x", maxMessageChars+100)
	if err := s.AppendMessage(ctx, &models.Message{Role: "user", Content: long, Timestamp: now.UnixMilli()}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	env, err := b.DynamicEnvelope(ctx, TriggerInfo{Kind: TriggerMessage, Payload: "hi"})
	if err != nil {
		t.Fatalf("DynamicEnvelope: %v", err)
	}
	if !strings.Contains(env, ellipsis) {
		t.Errorf("expected long message to be truncated with ellipsis marker")
	}
	if strings.Contains(env, strings.Repeat("x", maxMessageChars+1)) {
		t.Errorf("expected message to be truncated below full length")
	}
}

func TestDynamicEnvelopeAlarmTriggerTail(t *testing.T) {
	b, _ := newTestBuilder(t, time.Now())
	env, err := b.DynamicEnvelope(context.Background(), TriggerInfo{Kind: TriggerAlarm, Description: "water the plants"})
	if err != nil {
		t.Fatalf("DynamicEnvelope: %v", err)
	}
	if !strings.Contains(env, `<trigger type="alarm">water the plants`) {
		t.Errorf("expected alarm trigger tail with description, got:\n%s", env)
	}
	if !strings.Contains(env, "send_telegram") {
		t.Errorf("expected alarm tail to note replies are not auto-delivered")
	}
}
