package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/outie/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outie.db")
	s, err := Open(path, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveReminderRequiresExactlyOneSchedule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		r       models.Reminder
		wantErr bool
	}{
		{"neither set", models.Reminder{Description: "d"}, true},
		{"both set", models.Reminder{Description: "d", CronExpression: "* * * * *", ScheduledTimeMs: 1}, true},
		{"cron only", models.Reminder{Description: "d", CronExpression: "* * * * *"}, false},
		{"scheduled only", models.Reminder{Description: "d", ScheduledTimeMs: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.SaveReminder(ctx, &tc.r)
			if (err != nil) != tc.wantErr {
				t.Fatalf("SaveReminder() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSaveSummaryPrunesAbsorbedMessagesAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{100, 200, 300, 400} {
		m := &models.Message{Role: models.RoleUser, Content: "m", Timestamp: ts, Trigger: models.TriggerMessage}
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage[%d]: %v", i, err)
		}
	}

	sum := &models.Summary{Content: "summary", FromTimestamp: 100, ToTimestamp: 300, MessageCount: 3}
	if err := s.SaveSummary(ctx, sum); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	remaining, err := s.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Timestamp != 400 {
		t.Fatalf("expected only the message at ts=400 to survive, got %+v", remaining)
	}

	last, err := s.LastSummary(ctx)
	if err != nil {
		t.Fatalf("LastSummary: %v", err)
	}
	if last == nil || last.Content != "summary" {
		t.Fatalf("expected saved summary to be retrievable, got %+v", last)
	}
}

func TestUpsertTopicPreservesCreatedAtBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := &models.Topic{Name: "go", Content: "v1", CreatedAt: 1000, UpdatedAt: 1000}
	if err := s.UpsertTopic(ctx, t1); err != nil {
		t.Fatalf("UpsertTopic 1: %v", err)
	}

	t2 := &models.Topic{Name: "go", Content: "v2", UpdatedAt: 2000}
	if err := s.UpsertTopic(ctx, t2); err != nil {
		t.Fatalf("UpsertTopic 2: %v", err)
	}

	got, err := s.GetTopic(ctx, "go")
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if got.CreatedAt != 1000 {
		t.Errorf("CreatedAt changed: got %d, want 1000", got.CreatedAt)
	}
	if got.UpdatedAt != 2000 {
		t.Errorf("UpdatedAt not bumped: got %d, want 2000", got.UpdatedAt)
	}
	if got.Content != "v2" {
		t.Errorf("Content not updated: got %q", got.Content)
	}
}

func TestWriteJournalRejectsMismatchedDimension(t *testing.T) {
	s := newTestStore(t) // configured for dimension 4
	ctx := context.Background()

	err := s.WriteJournal(ctx, &models.JournalEntry{
		Topic:     "t",
		Content:   "c",
		Timestamp: 1,
		Embedding: []float32{1, 2, 3}, // wrong dimension
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error, got nil")
	}
}

func TestConversationStatsNeedsCompaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}
	if err := s.AppendMessage(ctx, &models.Message{Content: string(big), Timestamp: 1, Trigger: models.TriggerMessage}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	stats, err := s.ConversationStats(ctx, 10 /* approxTokens = 100/4 = 25 > 10 */)
	if err != nil {
		t.Fatalf("ConversationStats: %v", err)
	}
	if !stats.NeedsCompaction {
		t.Errorf("expected NeedsCompaction true, got stats=%+v", stats)
	}
}
