package models

// Reminder holds exactly one of CronExpression or ScheduledTime (I1).
// Cron reminders recur; scheduled-time reminders fire once.
type Reminder struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	Payload         string `json:"payload"`
	CreatedAt       int64  `json:"created_at"`
	CronExpression  string `json:"cron_expression,omitempty"`
	ScheduledTimeMs int64  `json:"scheduled_time_ms,omitempty"` // 0 means unset
}

// IsRecurring reports whether r is driven by a cron expression rather than
// a single scheduled time.
func (r *Reminder) IsRecurring() bool {
	return r.CronExpression != ""
}

// Summary replaces a prefix of the Message buffer once it is written;
// FromTimestamp/ToTimestamp bound the absorbed window.
type Summary struct {
	ID              string   `json:"id"`
	Timestamp       int64    `json:"timestamp"`
	Content         string   `json:"content"`
	Notes           string   `json:"notes,omitempty"`
	KeyDecisions    []string `json:"key_decisions,omitempty"`
	OpenThreads     []string `json:"open_threads,omitempty"`
	LearnedPatterns []string `json:"learned_patterns,omitempty"`
	FromTimestamp   int64    `json:"from_timestamp"`
	ToTimestamp     int64    `json:"to_timestamp"`
	MessageCount    int      `json:"message_count"`
}

// CodingTaskState records the continuation handle for a per-repo
// long-running coding session (spec §4.10).
type CodingTaskState struct {
	RepoURL       string `json:"repo_url"`
	Branch        string `json:"branch"`
	SessionID     string `json:"session_id"`
	LastTask      string `json:"last_task"`
	LastTimestamp int64  `json:"last_timestamp"`
}

// ConversationStats is the conversationStats() result (spec §4.1).
type ConversationStats struct {
	Count           int  `json:"count"`
	ApproxTokens    int  `json:"approx_tokens"`
	NeedsCompaction bool `json:"needs_compaction"`
}
