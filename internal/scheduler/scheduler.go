// Package scheduler implements the single-next-fire alarm over the mixed
// cron/one-shot Reminder set (spec §4.5). It holds no reminder state of its
// own — Store is the source of truth — which is a deliberate departure
// from the teacher's internal/tasks.Scheduler (a polling + SELECT FOR
// UPDATE SKIP LOCKED distributed-lock scheduler built for a
// multi-instance deployment). That model does not fit a single-tenant,
// single-actor process with one alarm at a time, so this package is
// written fresh; it keeps the teacher's conventions it can reuse: a
// Func-adapter for the dispatch callback (internal/cron/types.go's
// MessageSenderFunc pattern) and slog-based structured logging
// (cmd/nexus/main.go).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/outie/internal/cronexpr"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

// AlarmTrigger carries a fired reminder's payload to the session
// coordinator (spec §4.5, §4.6 "alarm" trigger tail).
type AlarmTrigger struct {
	Description string
	Payload     string
}

// Dispatcher delivers a fired AlarmTrigger. DispatcherFunc adapts a
// plain function to Dispatcher, mirroring the teacher's
// MessageSenderFunc/AgentRunnerFunc adapter idiom.
type Dispatcher interface {
	DispatchAlarm(ctx context.Context, t AlarmTrigger) error
}

type DispatcherFunc func(ctx context.Context, t AlarmTrigger) error

func (f DispatcherFunc) DispatchAlarm(ctx context.Context, t AlarmTrigger) error { return f(ctx, t) }

// FireRecorder observes each reminder-fire dispatch outcome; satisfied by
// internal/metrics.Metrics.
type FireRecorder interface {
	RecordReminderFire(err error)
}

// Scheduler owns exactly one in-flight wall-clock alarm.
type Scheduler struct {
	store      store.Store
	dispatcher Dispatcher
	log        *slog.Logger
	recorder   FireRecorder

	fireWindow time.Duration
	missWindow time.Duration

	mu    sync.Mutex
	timer *time.Timer

	now func() time.Time // overridable for tests
}

func New(s store.Store, d Dispatcher, fireWindow, missWindow time.Duration, log *slog.Logger) *Scheduler {
	if fireWindow <= 0 {
		fireWindow = time.Minute
	}
	if missWindow <= 0 {
		missWindow = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:      s,
		dispatcher: d,
		log:        log.With("component", "scheduler"),
		fireWindow: fireWindow,
		missWindow: missWindow,
		now:        time.Now,
	}
}

// SetRecorder attaches a fire-outcome recorder; nil disables recording.
func (s *Scheduler) SetRecorder(rec FireRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = rec
}

// Stop cancels any pending alarm. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Reschedule computes next = min(r.nextFireTime) across all reminders and
// installs a single wall-clock alarm at next, replacing any prior alarm.
// An empty reminder set clears the alarm (spec §4.5).
func (s *Scheduler) Reschedule(ctx context.Context) error {
	reminders, err := s.store.ListReminders(ctx)
	if err != nil {
		return err
	}

	var next time.Time
	found := false
	now := s.now()
	for _, r := range reminders {
		t, ok := s.nextFireTime(r, now)
		if !ok {
			continue
		}
		if !found || t.Before(next) {
			next = t
			found = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !found {
		s.log.Debug("reschedule: no reminders, alarm cleared")
		return nil
	}

	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	s.log.Debug("reschedule: alarm installed", "at", next, "in", d)
	s.timer = time.AfterFunc(d, func() {
		if err := s.OnAlarm(context.Background()); err != nil {
			s.log.Error("onAlarm failed", "error", err)
		}
	})
	return nil
}

// nextFireTime returns the reminder's next candidate fire time, or false
// if it cannot be computed (malformed cron persisted out-of-band).
func (s *Scheduler) nextFireTime(r *models.Reminder, now time.Time) (time.Time, bool) {
	if r.IsRecurring() {
		expr, err := cronexpr.Parse(r.CronExpression)
		if err != nil {
			s.log.Warn("reminder has unparseable cron expression, skipping", "id", r.ID, "error", err)
			return time.Time{}, false
		}
		return expr.Next(now), true
	}
	return time.UnixMilli(r.ScheduledTimeMs), true
}

// OnAlarm is invoked when the wall-clock alarm fires (spec §4.5). For each
// reminder: missed one-shots are deleted without firing; reminders within
// FIRE_WINDOW are dispatched (one-shots deleted before dispatch, for
// idempotence across retries); everything else is left alone. Reschedule
// runs after the full scan.
func (s *Scheduler) OnAlarm(ctx context.Context) error {
	reminders, err := s.store.ListReminders(ctx)
	if err != nil {
		return err
	}
	now := s.now()

	for _, r := range reminders {
		var t time.Time
		if r.IsRecurring() {
			expr, err := cronexpr.Parse(r.CronExpression)
			if err != nil {
				s.log.Warn("skipping reminder with unparseable cron", "id", r.ID, "error", err)
				continue
			}
			t = expr.Next(now)
		} else {
			t = time.UnixMilli(r.ScheduledTimeMs)
		}

		if !r.IsRecurring() && t.Before(now.Add(-s.missWindow)) {
			if err := s.store.DeleteReminder(ctx, r.ID); err != nil {
				s.log.Error("failed to delete missed reminder", "id", r.ID, "error", err)
			} else {
				s.log.Info("missed reminder cleaned up", "id", r.ID)
			}
			continue
		}

		if absDuration(t.Sub(now)) <= s.fireWindow {
			if !r.IsRecurring() {
				// delete before dispatch: idempotent across retries (spec §4.5, §8)
				if err := s.store.DeleteReminder(ctx, r.ID); err != nil {
					s.log.Error("failed to delete fired one-shot reminder", "id", r.ID, "error", err)
					continue
				}
			}
			dispatchErr := s.dispatcher.DispatchAlarm(ctx, AlarmTrigger{Description: r.Description, Payload: r.Payload})
			if dispatchErr != nil {
				s.log.Error("alarm dispatch failed", "id", r.ID, "error", dispatchErr)
			}
			s.mu.Lock()
			rec := s.recorder
			s.mu.Unlock()
			if rec != nil {
				rec.RecordReminderFire(dispatchErr)
			}
		}
	}

	return s.Reschedule(ctx)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
