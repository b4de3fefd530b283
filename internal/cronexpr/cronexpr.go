// Package cronexpr evaluates the 5-field cron grammar of spec §4.4:
// `minute hour day-of-month month day-of-week`, fields restricted to `*`
// or a bare integer literal. It is grounded on the teacher's
// internal/cron.Schedule (which wraps robfig/cron/v3), but adds a
// pre-validation gate robfig/cron itself does not have: robfig/cron
// happily accepts ranges, steps, and lists, which spec §4.4 says an
// implementation MUST reject rather than silently accept.
package cronexpr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/robfig/cron/v3"
)

// fieldBound describes the valid integer range for one of the five fields.
type fieldBound struct {
	name     string
	min, max int
}

var fields = [5]fieldBound{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6}, // 0 = Sunday, per spec §4.4
}

var integerLiteral = regexp.MustCompile(`^[0-9]+$`)

// parser is the shared robfig/cron evaluation engine. Because Parse
// rejects anything richer than `*`/literal before ever handing the string
// to this parser, the richer syntax robfig/cron itself understands
// (ranges, steps, lists) never reaches it through this package.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Expr is a validated cron expression ready for evaluation.
type Expr struct {
	raw      string
	schedule cron.Schedule
}

// Parse validates expr against the minimal grammar and returns an Expr, or
// a cron.invalid kind error (spec §4.4) on a malformed expression.
func Parse(expr string) (*Expr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, kinderr.New(kinderr.InputInvalid, "cronexpr.Parse",
			fmt.Errorf("expected 5 fields (minute hour dom month dow), got %d in %q", len(parts), expr))
	}
	for i, p := range parts {
		if p == "*" {
			continue
		}
		if !integerLiteral.MatchString(p) {
			return nil, kinderr.New(kinderr.InputInvalid, "cronexpr.Parse",
				fmt.Errorf("field %d (%s) must be '*' or an integer literal, got %q; ranges/steps/lists are not supported", i, fields[i].name, p))
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, kinderr.New(kinderr.InputInvalid, "cronexpr.Parse", fmt.Errorf("field %d (%s): %w", i, fields[i].name, err))
		}
		if n < fields[i].min || n > fields[i].max {
			return nil, kinderr.New(kinderr.InputInvalid, "cronexpr.Parse",
				fmt.Errorf("field %d (%s) value %d out of range [%d,%d]", i, fields[i].name, n, fields[i].min, fields[i].max))
		}
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, kinderr.New(kinderr.InputInvalid, "cronexpr.Parse", fmt.Errorf("evaluate %q: %w", expr, err))
	}
	return &Expr{raw: expr, schedule: sched}, nil
}

// Next returns the smallest t > now whose wall-clock decomposition
// satisfies every specified field (strict '>', spec §8 boundary case: "0 9
// * * *" evaluated at 09:00:00.000 today returns tomorrow 09:00:00).
func (e *Expr) Next(now time.Time) time.Time {
	// robfig/cron accepts a day matching either day-of-month or day-of-week
	// when both are literals; skip candidates that do not match both.
	parts := strings.Fields(e.raw)
	dom, domErr := strconv.Atoi(parts[2])
	dow, dowErr := strconv.Atoi(parts[4])
	limit := now.AddDate(50, 0, 0)
	t := e.schedule.Next(now)
	for domErr == nil && dowErr == nil && !t.IsZero() && (t.Day() != dom || int(t.Weekday()) != dow) {
		if t.After(limit) {
			return time.Time{}
		}
		t = e.schedule.Next(t)
	}
	return t
}

func (e *Expr) String() string { return e.raw }
