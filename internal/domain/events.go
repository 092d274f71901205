package domain

import "time"

// SyncCompleted is emitted through the outbox after every merge that touched
// at least one record.
type SyncCompleted struct {
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SyncRequested is a scheduled sync job consumed from the sync_jobs topic.
// Empty dates default to today; an empty start defaults to the end date.
type SyncRequested struct {
	UserID       string `json:"user_id"`
	Kind         string `json:"kind"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}
