package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/haasonsaas/outie/pkg/models"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO
)

// SQLiteStore implements Store over a single SQLite file, the substrate
// spec §4.8 step 4 calls out by name ("local SQLite"). It mirrors the
// prepared-statement discipline of the teacher's
// internal/sessions.CockroachStore, adapted to a single-tenant, single-file
// database instead of a connection-pooled cluster store.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
}

// Open creates/migrates the database at path and enforces the given
// embedding dimension D on every write that carries a vector.
func Open(path string, dimension int) (*SQLiteStore, error) {
	if dimension <= 0 {
		dimension = 1536
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageFatal, "store.Open", err)
	}
	db.SetMaxOpenConns(1) // single-tenant, single-writer process (spec §5)

	s := &SQLiteStore{db: db, dimension: dimension}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, kinderr.New(kinderr.StorageFatal, "store.migrate", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) checkDim(v []float32) error {
	if len(v) == 0 {
		return nil
	}
	if len(v) != s.dimension {
		return kinderr.New(kinderr.StorageFatal, "store.checkDim",
			fmt.Errorf("embedding dimension %d does not match store dimension %d", len(v), s.dimension))
	}
	return nil
}

// -- Messages --------------------------------------------------------------

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, role, content, timestamp, trigger, source) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Role), m.Content, m.Timestamp, string(m.Trigger), string(m.Source))
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.AppendMessage", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, trigger, source FROM messages ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.RecentMessages", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var source sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp, &m.Trigger, &source); err != nil {
			return nil, kinderr.New(kinderr.StorageFatal, "store.RecentMessages.scan", err)
		}
		m.Source = models.Source(source.String)
		out = append(out, &m)
	}
	// reverse: query was DESC for LIMIT, result must be ascending by timestamp
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMessagesThrough(ctx context.Context, toTimestamp int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp <= ?`, toTimestamp)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.DeleteMessagesThrough", err)
	}
	return nil
}

func (s *SQLiteStore) ConversationStats(ctx context.Context, compactThreshold int) (models.ConversationStats, error) {
	var count int
	var totalLen int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(LENGTH(content)), 0) FROM messages`)
	if err := row.Scan(&count, &totalLen); err != nil {
		return models.ConversationStats{}, kinderr.New(kinderr.StorageRetryable, "store.ConversationStats", err)
	}
	approxTokens := int(math.Ceil(float64(totalLen) / 4))
	if compactThreshold <= 0 {
		compactThreshold = 50000
	}
	return models.ConversationStats{
		Count:           count,
		ApproxTokens:    approxTokens,
		NeedsCompaction: approxTokens > compactThreshold,
	}, nil
}

// -- Journal -----------------------------------------------------------------

func (s *SQLiteStore) WriteJournal(ctx context.Context, e *models.JournalEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.checkDim(e.Embedding); err != nil {
		return err
	}
	dim := 0
	var blob []byte
	if len(e.Embedding) > 0 {
		dim = len(e.Embedding)
		blob = encodeEmbedding(e.Embedding)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (id, timestamp, topic, content, embedding, dimension) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.Topic, e.Content, blob, dim)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.WriteJournal", err)
	}
	return nil
}

func (s *SQLiteStore) ListJournalWithEmbeddings(ctx context.Context, maxScanned int) ([]*models.JournalEntry, error) {
	if maxScanned <= 0 {
		maxScanned = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, topic, content, embedding, dimension FROM journal
		 WHERE embedding IS NOT NULL ORDER BY timestamp DESC LIMIT ?`, maxScanned)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.ListJournalWithEmbeddings", err)
	}
	defer rows.Close()

	var out []*models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var blob []byte
		var dim int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Topic, &e.Content, &blob, &dim); err != nil {
			return nil, kinderr.New(kinderr.StorageFatal, "store.ListJournalWithEmbeddings.scan", err)
		}
		if dim != s.dimension {
			// refuse mixing cross-model vectors; treat as unsearchable but still listable
			continue
		}
		e.Embedding = decodeEmbedding(blob)
		e.HasVector = len(e.Embedding) > 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecentJournal(ctx context.Context, count int) ([]*models.JournalEntry, error) {
	if count <= 0 {
		count = 40
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, topic, content FROM journal ORDER BY timestamp DESC LIMIT ?`, count)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.RecentJournal", err)
	}
	defer rows.Close()

	var out []*models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Topic, &e.Content); err != nil {
			return nil, kinderr.New(kinderr.StorageFatal, "store.RecentJournal.scan", err)
		}
		out = append(out, &e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// -- Topics ------------------------------------------------------------------

func (s *SQLiteStore) UpsertTopic(ctx context.Context, t *models.Topic) error {
	if err := s.checkDim(t.Embedding); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.UpsertTopic.begin", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	var existingID string
	var createdAt int64
	err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM topics WHERE name = ?`, t.Name).Scan(&existingID, &createdAt)
	now := t.UpdatedAt

	dim := 0
	var blob []byte
	if len(t.Embedding) > 0 {
		dim = len(t.Embedding)
		blob = encodeEmbedding(t.Embedding)
	}

	switch {
	case err == nil:
		t.ID = existingID
		t.CreatedAt = createdAt
		_, err = tx.ExecContext(ctx,
			`UPDATE topics SET content = ?, updated_at = ?, embedding = ?, dimension = ? WHERE id = ?`,
			t.Content, now, blob, dim, t.ID)
	case errors.Is(err, sql.ErrNoRows):
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt == 0 {
			t.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO topics (id, name, content, created_at, updated_at, embedding, dimension) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.Content, t.CreatedAt, now, blob, dim)
	default:
		return kinderr.New(kinderr.StorageRetryable, "store.UpsertTopic.lookup", err)
	}
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.UpsertTopic.write", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTopic(ctx context.Context, name string) (*models.Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, content, created_at, updated_at FROM topics WHERE name = ?`, name)
	var t models.Topic
	if err := row.Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, kinderr.New(kinderr.StorageRetryable, "store.GetTopic", err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTopics(ctx context.Context) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content, created_at, updated_at FROM topics ORDER BY updated_at DESC`)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.ListTopics", err)
	}
	defer rows.Close()

	var out []*models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, kinderr.New(kinderr.StorageFatal, "store.ListTopics.scan", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListTopicsWithEmbeddings(ctx context.Context, maxScanned int) ([]*models.Topic, error) {
	if maxScanned <= 0 {
		maxScanned = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content, created_at, updated_at, embedding, dimension FROM topics
		 WHERE embedding IS NOT NULL ORDER BY updated_at DESC LIMIT ?`, maxScanned)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.ListTopicsWithEmbeddings", err)
	}
	defer rows.Close()

	var out []*models.Topic
	for rows.Next() {
		var t models.Topic
		var blob []byte
		var dim int
		if err := rows.Scan(&t.ID, &t.Name, &t.Content, &t.CreatedAt, &t.UpdatedAt, &blob, &dim); err != nil {
			return nil, kinderr.New(kinderr.StorageFatal, "store.ListTopicsWithEmbeddings.scan", err)
		}
		if dim != s.dimension {
			continue
		}
		t.Embedding = decodeEmbedding(blob)
		t.HasVector = len(t.Embedding) > 0
		out = append(out, &t)
	}
	return out, rows.Err()
}

// -- State files --------------------------------------------------------------

func (s *SQLiteStore) WriteStateFile(ctx context.Context, name, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_files (name, content, updated_at) VALUES (?, ?, strftime('%s','now')*1000)
		 ON CONFLICT(name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		name, content)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.WriteStateFile", err)
	}
	return nil
}

func (s *SQLiteStore) ReadStateFile(ctx context.Context, name string) (*models.StateFile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, content, updated_at FROM state_files WHERE name = ?`, name)
	var f models.StateFile
	if err := row.Scan(&f.Name, &f.Content, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, kinderr.New(kinderr.StorageRetryable, "store.ReadStateFile", err)
	}
	return &f, nil
}

func (s *SQLiteStore) ListStateFiles(ctx context.Context) ([]*models.StateFile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, content, updated_at FROM state_files`)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.ListStateFiles", err)
	}
	defer rows.Close()

	var out []*models.StateFile
	for rows.Next() {
		var f models.StateFile
		if err := rows.Scan(&f.Name, &f.Content, &f.UpdatedAt); err != nil {
			return nil, kinderr.New(kinderr.StorageFatal, "store.ListStateFiles.scan", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// -- Reminders -----------------------------------------------------------------

func (s *SQLiteStore) SaveReminder(ctx context.Context, r *models.Reminder) error {
	if (r.CronExpression == "") == (r.ScheduledTimeMs == 0) {
		return kinderr.New(kinderr.InputInvalid, "store.SaveReminder",
			errors.New("exactly one of cron_expression or scheduled_time must be set"))
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	var scheduled sql.NullInt64
	if r.ScheduledTimeMs != 0 {
		scheduled = sql.NullInt64{Int64: r.ScheduledTimeMs, Valid: true}
	}
	var cronExpr sql.NullString
	if r.CronExpression != "" {
		cronExpr = sql.NullString{String: r.CronExpression, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, description, payload, cron_expression, scheduled_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET description=excluded.description, payload=excluded.payload,
		   cron_expression=excluded.cron_expression, scheduled_time=excluded.scheduled_time`,
		r.ID, r.Description, r.Payload, cronExpr, scheduled, r.CreatedAt)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.SaveReminder", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteReminder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.DeleteReminder", err)
	}
	return nil
}

func (s *SQLiteStore) ListReminders(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, payload, cron_expression, scheduled_time, created_at FROM reminders`)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.ListReminders", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		var r models.Reminder
		var cronExpr sql.NullString
		var scheduled sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Description, &r.Payload, &cronExpr, &scheduled, &r.CreatedAt); err != nil {
			return nil, kinderr.New(kinderr.StorageFatal, "store.ListReminders.scan", err)
		}
		r.CronExpression = cronExpr.String
		r.ScheduledTimeMs = scheduled.Int64
		out = append(out, &r)
	}
	return out, rows.Err()
}

// -- Summaries -----------------------------------------------------------------

func (s *SQLiteStore) SaveSummary(ctx context.Context, sum *models.Summary) error {
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	keyDecisions, err := json.Marshal(sum.KeyDecisions)
	if err != nil {
		return kinderr.New(kinderr.InputInvalid, "store.SaveSummary.marshal", err)
	}
	openThreads, err := json.Marshal(sum.OpenThreads)
	if err != nil {
		return kinderr.New(kinderr.InputInvalid, "store.SaveSummary.marshal", err)
	}
	learned, err := json.Marshal(sum.LearnedPatterns)
	if err != nil {
		return kinderr.New(kinderr.InputInvalid, "store.SaveSummary.marshal", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.SaveSummary.begin", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO summaries (id, timestamp, content, notes, key_decisions_json, open_threads_json,
		   learned_patterns_json, from_timestamp, to_timestamp, message_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Timestamp, sum.Content, sum.Notes, string(keyDecisions), string(openThreads),
		string(learned), sum.FromTimestamp, sum.ToTimestamp, sum.MessageCount)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.SaveSummary.insert", err)
	}

	// atomically prune absorbed Messages (spec §4.1, I2)
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE timestamp <= ?`, sum.ToTimestamp); err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.SaveSummary.prune", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) RecentSummaries(ctx context.Context, count int) ([]*models.Summary, error) {
	if count <= 0 {
		count = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, content, notes, key_decisions_json, open_threads_json, learned_patterns_json,
		   from_timestamp, to_timestamp, message_count
		 FROM summaries ORDER BY timestamp DESC LIMIT ?`, count)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.RecentSummaries", err)
	}
	defer rows.Close()

	var out []*models.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastSummary(ctx context.Context) (*models.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, content, notes, key_decisions_json, open_threads_json, learned_patterns_json,
		   from_timestamp, to_timestamp, message_count
		 FROM summaries ORDER BY timestamp DESC LIMIT 1`)
	if err != nil {
		return nil, kinderr.New(kinderr.StorageRetryable, "store.LastSummary", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSummary(rows)
}

func scanSummary(rows *sql.Rows) (*models.Summary, error) {
	var sum models.Summary
	var notes, keyDecisions, openThreads, learned sql.NullString
	if err := rows.Scan(&sum.ID, &sum.Timestamp, &sum.Content, &notes, &keyDecisions, &openThreads, &learned,
		&sum.FromTimestamp, &sum.ToTimestamp, &sum.MessageCount); err != nil {
		return nil, kinderr.New(kinderr.StorageFatal, "store.scanSummary", err)
	}
	sum.Notes = notes.String
	if keyDecisions.Valid && keyDecisions.String != "" {
		_ = json.Unmarshal([]byte(keyDecisions.String), &sum.KeyDecisions)
	}
	if openThreads.Valid && openThreads.String != "" {
		_ = json.Unmarshal([]byte(openThreads.String), &sum.OpenThreads)
	}
	if learned.Valid && learned.String != "" {
		_ = json.Unmarshal([]byte(learned.String), &sum.LearnedPatterns)
	}
	return &sum, nil
}

// -- Coding task state ----------------------------------------------------------

func (s *SQLiteStore) GetCodingTaskState(ctx context.Context, repoURL string) (*models.CodingTaskState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT repo_url, branch, session_id, last_task, last_timestamp FROM coding_task_state WHERE repo_url = ?`, repoURL)
	var st models.CodingTaskState
	if err := row.Scan(&st.RepoURL, &st.Branch, &st.SessionID, &st.LastTask, &st.LastTimestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, kinderr.New(kinderr.StorageRetryable, "store.GetCodingTaskState", err)
	}
	return &st, nil
}

func (s *SQLiteStore) SaveCodingTaskState(ctx context.Context, st *models.CodingTaskState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coding_task_state (repo_url, branch, session_id, last_task, last_timestamp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(repo_url) DO UPDATE SET branch=excluded.branch, session_id=excluded.session_id,
		   last_task=excluded.last_task, last_timestamp=excluded.last_timestamp`,
		st.RepoURL, st.Branch, st.SessionID, st.LastTask, st.LastTimestamp)
	if err != nil {
		return kinderr.New(kinderr.StorageRetryable, "store.SaveCodingTaskState", err)
	}
	return nil
}
