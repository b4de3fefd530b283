// Package store implements the orchestrator's durable memory substrate
// (spec §4.1, §6 "Persisted schema"), backed by modernc.org/sqlite the way
// internal/memory/backend/sqlitevec did in the teacher repo, generalised
// from a single vector table to the full entity set of spec §3.
package store

import (
	"context"

	"github.com/haasonsaas/outie/pkg/models"
)

// Store exposes typed CRUD operations over every entity of spec §3.
// Implementations must make saveSummary's Message deletion and
// appendMessage/writeJournal/upsertTopic atomic with respect to readers on
// the same connection.
type Store interface {
	// Messages
	AppendMessage(ctx context.Context, m *models.Message) error
	RecentMessages(ctx context.Context, limit int) ([]*models.Message, error)
	DeleteMessagesThrough(ctx context.Context, toTimestamp int64) error
	ConversationStats(ctx context.Context, compactThreshold int) (models.ConversationStats, error)

	// Journal
	WriteJournal(ctx context.Context, entry *models.JournalEntry) error
	ListJournalWithEmbeddings(ctx context.Context, maxScanned int) ([]*models.JournalEntry, error)
	RecentJournal(ctx context.Context, count int) ([]*models.JournalEntry, error)

	// Topics
	UpsertTopic(ctx context.Context, topic *models.Topic) error
	GetTopic(ctx context.Context, name string) (*models.Topic, error)
	ListTopics(ctx context.Context) ([]*models.Topic, error)
	ListTopicsWithEmbeddings(ctx context.Context, maxScanned int) ([]*models.Topic, error)

	// State files
	WriteStateFile(ctx context.Context, name, content string) error
	ReadStateFile(ctx context.Context, name string) (*models.StateFile, error)
	ListStateFiles(ctx context.Context) ([]*models.StateFile, error)

	// Reminders
	SaveReminder(ctx context.Context, r *models.Reminder) error
	DeleteReminder(ctx context.Context, id string) error
	ListReminders(ctx context.Context) ([]*models.Reminder, error)

	// Summaries
	SaveSummary(ctx context.Context, s *models.Summary) error
	RecentSummaries(ctx context.Context, count int) ([]*models.Summary, error)
	LastSummary(ctx context.Context) (*models.Summary, error)

	// Coding task state
	GetCodingTaskState(ctx context.Context, repoURL string) (*models.CodingTaskState, error)
	SaveCodingTaskState(ctx context.Context, s *models.CodingTaskState) error

	Close() error
}
