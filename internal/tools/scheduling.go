package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/cronexpr"
	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/haasonsaas/outie/internal/scheduler"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

// RegisterSchedulingTools wires the reminder tools of spec §4.7 into r.
// Every handler that mutates the reminder set calls sched.Reschedule
// afterward so the scheduler's single alarm stays in sync without a
// separate poll loop.
func RegisterSchedulingTools(r *Registry, st store.Store, sched *scheduler.Scheduler, nowFn func() time.Time) {
	if nowFn == nil {
		nowFn = time.Now
	}

	r.Register(Tool{
		Name:        "schedule_recurring",
		Description: "Schedule a recurring reminder using a 5-field cron expression (minute hour day-of-month month day-of-week; only '*' or bare integers).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["description", "payload", "cron"],
			"properties": {
				"description": {"type": "string", "minLength": 1},
				"payload": {"type": "string", "minLength": 1},
				"cron": {"type": "string", "minLength": 1}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Description, Payload, Cron string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "schedule_recurring", err)
			}
			if _, err := cronexpr.Parse(in.Cron); err != nil {
				return ErrorResult(err.Error()), nil
			}
			rem := &models.Reminder{
				ID:             uuid.NewString(),
				Description:    in.Description,
				Payload:        in.Payload,
				CronExpression: in.Cron,
				CreatedAt:      nowFn().UnixMilli(),
			}
			if err := st.SaveReminder(ctx, rem); err != nil {
				return Result{}, err
			}
			if err := sched.Reschedule(ctx); err != nil {
				return Result{}, err
			}
			return TextResult(fmt.Sprintf("recurring reminder %s scheduled (%s)", rem.ID, in.Cron)), nil
		},
	})

	r.Register(Tool{
		Name:        "schedule_once",
		Description: "Schedule a one-shot reminder at an absolute ISO-8601 datetime.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["description", "payload", "datetime"],
			"properties": {
				"description": {"type": "string", "minLength": 1},
				"payload": {"type": "string", "minLength": 1},
				"datetime": {"type": "string", "minLength": 1}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Description, Payload string
				Datetime             string `json:"datetime"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "schedule_once", err)
			}
			when, err := time.Parse(time.RFC3339, in.Datetime)
			if err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "schedule_once", fmt.Errorf("unparseable datetime %q: %w", in.Datetime, err))
			}
			rem := &models.Reminder{
				ID:              uuid.NewString(),
				Description:     in.Description,
				Payload:         in.Payload,
				ScheduledTimeMs: when.UnixMilli(),
				CreatedAt:       nowFn().UnixMilli(),
			}
			if err := st.SaveReminder(ctx, rem); err != nil {
				return Result{}, err
			}
			if err := sched.Reschedule(ctx); err != nil {
				return Result{}, err
			}
			return TextResult(fmt.Sprintf("one-shot reminder %s scheduled for %s", rem.ID, when.UTC().Format(time.RFC3339))), nil
		},
	})

	r.Register(Tool{
		Name:        "cancel_reminder",
		Description: "Cancel a reminder by id.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["id"],
			"properties": {"id": {"type": "string", "minLength": 1}}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ ID string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "cancel_reminder", err)
			}
			if err := st.DeleteReminder(ctx, in.ID); err != nil {
				return Result{}, err
			}
			if err := sched.Reschedule(ctx); err != nil {
				return Result{}, err
			}
			return TextResult(fmt.Sprintf("reminder %s cancelled", in.ID)), nil
		},
	})

	r.Register(Tool{
		Name:        "list_reminders",
		Description: "List all pending reminders.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			reminders, err := st.ListReminders(ctx)
			if err != nil {
				return Result{}, err
			}
			return jsonResult(reminders)
		},
	})
}
