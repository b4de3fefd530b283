package models

// JournalEntry is an append-only, never-mutated observation (spec §3).
// An entry without an embedding is invisible to semantic search but still
// present in recency listings.
type JournalEntry struct {
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	HasVector bool      `json:"-"`
}

// StateFile is an overwritable mutable key->text slot. Reserved names the
// core uses: "identity", "today", and one per user persona (e.g. "user").
// Unknown names are accepted and round-tripped unchanged.
type StateFile struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	UpdatedAt int64  `json:"updated_at"`
}

// Topic is a mutable, named distillation of knowledge, semantically
// searchable. Overwriting preserves CreatedAt and bumps UpdatedAt.
type Topic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
	Embedding []float32 `json:"-"`
	HasVector bool      `json:"-"`
}

// SearchResult pairs a stored item with its similarity score.
type SearchResult struct {
	ID        string  `json:"id"`
	Topic     string  `json:"topic,omitempty"` // JournalEntry.Topic or Topic.Name
	Content   string  `json:"content"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Score     float32 `json:"score"`
}
