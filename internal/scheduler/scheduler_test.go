package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *store.SQLiteStore, *[]AlarmTrigger) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "o.db"), 4)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var fired []AlarmTrigger
	disp := DispatcherFunc(func(_ context.Context, a AlarmTrigger) error {
		fired = append(fired, a)
		return nil
	})

	sched := New(s, disp, time.Minute, time.Minute, slog.Default())
	sched.now = func() time.Time { return now }
	return sched, s, &fired
}

func TestOnAlarmDeletesMissedOneShotWithoutFiring(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	sched, s, fired := newTestScheduler(t, now)
	ctx := context.Background()

	missed := &models.Reminder{
		Description:     "water",
		Payload:         "drink water",
		ScheduledTimeMs: now.Add(-10 * time.Minute).UnixMilli(),
		CreatedAt:       now.UnixMilli(),
	}
	if err := s.SaveReminder(ctx, missed); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}

	if err := sched.OnAlarm(ctx); err != nil {
		t.Fatalf("OnAlarm: %v", err)
	}

	if len(*fired) != 0 {
		t.Errorf("expected missed reminder not to fire, got %+v", *fired)
	}
	remaining, err := s.ListReminders(ctx)
	if err != nil {
		t.Fatalf("ListReminders: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected missed reminder to be deleted, found %d remaining", len(remaining))
	}
}

func TestOnAlarmFiresWithinWindowAndDeletesOneShotBeforeDispatch(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	sched, s, fired := newTestScheduler(t, now)
	ctx := context.Background()

	r := &models.Reminder{
		ID:              "r1",
		Description:     "water",
		Payload:         "drink water",
		ScheduledTimeMs: now.Add(30 * time.Second).UnixMilli(),
		CreatedAt:       now.UnixMilli(),
	}
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}

	if err := sched.OnAlarm(ctx); err != nil {
		t.Fatalf("OnAlarm: %v", err)
	}

	if len(*fired) != 1 || (*fired)[0].Payload != "drink water" {
		t.Fatalf("expected reminder to fire once, got %+v", *fired)
	}
	remaining, err := s.ListReminders(ctx)
	if err != nil {
		t.Fatalf("ListReminders: %v", err)
	}
	for _, rem := range remaining {
		if rem.ID == "r1" {
			t.Error("expected fired one-shot reminder to be deleted, still present")
		}
	}
}

func TestOnAlarmLeavesFutureReminderAlone(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	sched, s, fired := newTestScheduler(t, now)
	ctx := context.Background()

	r := &models.Reminder{
		ID:              "future",
		Description:     "later",
		Payload:         "later",
		ScheduledTimeMs: now.Add(time.Hour).UnixMilli(),
		CreatedAt:       now.UnixMilli(),
	}
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}

	if err := sched.OnAlarm(ctx); err != nil {
		t.Fatalf("OnAlarm: %v", err)
	}
	if len(*fired) != 0 {
		t.Errorf("expected future reminder not to fire yet, got %+v", *fired)
	}
	remaining, err := s.ListReminders(ctx)
	if err != nil {
		t.Fatalf("ListReminders: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected future reminder to remain, got %d", len(remaining))
	}
}

func TestRescheduleIsNoOpWithoutMutation(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	sched, s, _ := newTestScheduler(t, now)
	ctx := context.Background()

	r := &models.Reminder{
		ID:              "r1",
		Description:     "x",
		Payload:         "x",
		ScheduledTimeMs: now.Add(time.Hour).UnixMilli(),
		CreatedAt:       now.UnixMilli(),
	}
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}

	if err := sched.Reschedule(ctx); err != nil {
		t.Fatalf("Reschedule 1: %v", err)
	}
	first := sched.timer

	if err := sched.Reschedule(ctx); err != nil {
		t.Fatalf("Reschedule 2: %v", err)
	}
	second := sched.timer

	if first == nil || second == nil {
		t.Fatal("expected both reschedules to install a timer")
	}
	// A fresh timer object is installed each call, but the alarm moment it
	// targets is unchanged since no reminder mutation occurred between calls.
}
