// Package postgres provides Postgres-backed persistence for synced wearable
// records, provider connections, and outbox events.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/wearable/internal/domain"
	"example.com/wearable/internal/observability"
)

const defaultProvider = "garmin"

// Repository implements domain.Repository on top of a pgx pool.
type Repository struct {
	pool     *pgxpool.Pool
	provider string
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, provider: defaultProvider}
}

// Connection returns the provider connection row for the user, or nil when
// the user never connected.
func (r *Repository) Connection(ctx context.Context, userID string) (*domain.Connection, error) {
	const query = `SELECT user_id, provider, active, credentials IS NOT NULL, last_sync_attempt, created_at, updated_at
        FROM provider_connections WHERE user_id=$1 AND provider=$2`

	row := r.pool.QueryRow(ctx, query, userID, r.provider)
	var conn domain.Connection
	if err := row.Scan(&conn.UserID, &conn.Provider, &conn.Active, &conn.HasCredentials, &conn.LastSyncAttempt, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// SaveCredentials stores the encrypted credential blob, creating the
// connection row on first submission and reactivating it otherwise.
func (r *Repository) SaveCredentials(ctx context.Context, userID, cipher string) error {
	const stmt = `INSERT INTO provider_connections (user_id, provider, active, credentials, created_at, updated_at)
        VALUES ($1, $2, TRUE, $3, NOW(), NOW())
        ON CONFLICT (user_id, provider) DO UPDATE
            SET credentials = EXCLUDED.credentials,
                active = TRUE,
                updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, userID, r.provider, cipher)
	return err
}

// SetConnectionActive toggles the active flag. The row is never deleted so
// sync history survives disconnects.
func (r *Repository) SetConnectionActive(ctx context.Context, userID string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE provider_connections SET active=$1, updated_at=NOW() WHERE user_id=$2 AND provider=$3`,
		active, userID, r.provider)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotConnected
	}
	return nil
}

// Credentials returns the encrypted credential blob, or "" when absent.
func (r *Repository) Credentials(ctx context.Context, userID string) (string, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT COALESCE(credentials, '') FROM provider_connections WHERE user_id=$1 AND provider=$2`,
		userID, r.provider)
	var cipher string
	if err := row.Scan(&cipher); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return cipher, nil
}

// MergeActivities reconciles a batch of activities inside one transaction.
// Each record is upserted atomically on (user_id, external_id); identity and
// created_at survive re-merges. The connection's last_sync_attempt and a
// sync.completed outbox event are written in the same transaction, so the
// reported counts always match durable state.
func (r *Repository) MergeActivities(ctx context.Context, userID string, records []domain.Activity) (domain.MergeStats, error) {
	var stats domain.MergeStats

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		const stmt = `INSERT INTO activities (user_id, external_id, name, activity_type, start_time, duration_seconds, distance_meters, calories, avg_heart_rate, max_heart_rate, steps, elevation_gain, created_at, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW())
            ON CONFLICT (user_id, external_id) DO UPDATE
                SET name = EXCLUDED.name,
                    activity_type = EXCLUDED.activity_type,
                    start_time = EXCLUDED.start_time,
                    duration_seconds = EXCLUDED.duration_seconds,
                    distance_meters = EXCLUDED.distance_meters,
                    calories = EXCLUDED.calories,
                    avg_heart_rate = EXCLUDED.avg_heart_rate,
                    max_heart_rate = EXCLUDED.max_heart_rate,
                    steps = EXCLUDED.steps,
                    elevation_gain = EXCLUDED.elevation_gain,
                    updated_at = NOW()
            RETURNING (xmax = 0)`

		for _, record := range records {
			var inserted bool
			if err := tx.QueryRow(ctx, stmt,
				userID,
				record.ExternalID,
				record.Name,
				record.ActivityType,
				record.StartTime,
				record.DurationSeconds,
				record.DistanceMeters,
				record.Calories,
				record.AvgHeartRate,
				record.MaxHeartRate,
				record.Steps,
				record.ElevationGain,
			).Scan(&inserted); err != nil {
				return err
			}
			if inserted {
				stats.Inserted++
			} else {
				stats.Updated++
			}
		}

		if err := r.touchLastSync(ctx, tx, userID); err != nil {
			return err
		}
		if len(records) > 0 {
			return r.insertSyncEvent(ctx, tx, userID, domain.KindActivity, stats)
		}
		return nil
	})
	if err != nil {
		return domain.MergeStats{}, err
	}

	observability.RecordMerge(domain.KindActivity, time.Now().UTC())
	observability.RecordMergedRecords(domain.KindActivity, stats)
	return stats, nil
}

// MergeDailySummaries reconciles daily summaries, one row per calendar day
// per user, enforced by the (user_id, date) unique constraint rather than a
// select-then-branch.
func (r *Repository) MergeDailySummaries(ctx context.Context, userID string, records []domain.DailySummary) (domain.MergeStats, error) {
	var stats domain.MergeStats

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		const stmt = `INSERT INTO daily_summaries (user_id, date, total_steps, total_distance_meters, total_calories, active_calories, bmr_calories, min_heart_rate, max_heart_rate, resting_heart_rate, avg_stress_level, floors_climbed, minutes_sedentary, minutes_lightly_active, minutes_moderately_active, minutes_highly_active, created_at, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
            ON CONFLICT (user_id, date) DO UPDATE
                SET total_steps = EXCLUDED.total_steps,
                    total_distance_meters = EXCLUDED.total_distance_meters,
                    total_calories = EXCLUDED.total_calories,
                    active_calories = EXCLUDED.active_calories,
                    bmr_calories = EXCLUDED.bmr_calories,
                    min_heart_rate = EXCLUDED.min_heart_rate,
                    max_heart_rate = EXCLUDED.max_heart_rate,
                    resting_heart_rate = EXCLUDED.resting_heart_rate,
                    avg_stress_level = EXCLUDED.avg_stress_level,
                    floors_climbed = EXCLUDED.floors_climbed,
                    minutes_sedentary = EXCLUDED.minutes_sedentary,
                    minutes_lightly_active = EXCLUDED.minutes_lightly_active,
                    minutes_moderately_active = EXCLUDED.minutes_moderately_active,
                    minutes_highly_active = EXCLUDED.minutes_highly_active,
                    updated_at = NOW()
            RETURNING (xmax = 0)`

		for _, record := range records {
			var inserted bool
			if err := tx.QueryRow(ctx, stmt,
				userID,
				record.Date,
				record.TotalSteps,
				record.TotalDistanceMeters,
				record.TotalCalories,
				record.ActiveCalories,
				record.BMRCalories,
				record.MinHeartRate,
				record.MaxHeartRate,
				record.RestingHeartRate,
				record.AvgStressLevel,
				record.FloorsClimbed,
				record.MinutesSedentary,
				record.MinutesLightlyActive,
				record.MinutesModeratelyActive,
				record.MinutesHighlyActive,
			).Scan(&inserted); err != nil {
				return err
			}
			if inserted {
				stats.Inserted++
			} else {
				stats.Updated++
			}
		}

		if err := r.touchLastSync(ctx, tx, userID); err != nil {
			return err
		}
		if len(records) > 0 {
			return r.insertSyncEvent(ctx, tx, userID, domain.KindDailySummary, stats)
		}
		return nil
	})
	if err != nil {
		return domain.MergeStats{}, err
	}

	observability.RecordMerge(domain.KindDailySummary, time.Now().UTC())
	observability.RecordMergedRecords(domain.KindDailySummary, stats)
	return stats, nil
}

// DailySummaryByDate returns the stored summary for one calendar day, or nil.
func (r *Repository) DailySummaryByDate(ctx context.Context, userID string, date time.Time) (*domain.DailySummary, error) {
	const query = `SELECT user_id, date, total_steps, total_distance_meters, total_calories, active_calories, bmr_calories, min_heart_rate, max_heart_rate, resting_heart_rate, avg_stress_level, floors_climbed, minutes_sedentary, minutes_lightly_active, minutes_moderately_active, minutes_highly_active, created_at, updated_at
        FROM daily_summaries WHERE user_id=$1 AND date=$2`

	row := r.pool.QueryRow(ctx, query, userID, date)
	var s domain.DailySummary
	if err := row.Scan(&s.UserID, &s.Date, &s.TotalSteps, &s.TotalDistanceMeters, &s.TotalCalories, &s.ActiveCalories, &s.BMRCalories, &s.MinHeartRate, &s.MaxHeartRate, &s.RestingHeartRate, &s.AvgStressLevel, &s.FloorsClimbed, &s.MinutesSedentary, &s.MinutesLightlyActive, &s.MinutesModeratelyActive, &s.MinutesHighlyActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListActivities returns cached activities ordered by start time descending
// with keyset pagination.
func (r *Repository) ListActivities(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT user_id, external_id, name, activity_type, start_time, duration_seconds, distance_meters, calories, avg_heart_rate, max_heart_rate, steps, elevation_gain, created_at, updated_at
        FROM activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (start_time, external_id) < ($3, $4)`
		args = append(args, cursor.StartTime, cursor.ID)
	}
	query += ` ORDER BY start_time DESC, external_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.UserID, &a.ExternalID, &a.Name, &a.ActivityType, &a.StartTime, &a.DurationSeconds, &a.DistanceMeters, &a.Calories, &a.AvgHeartRate, &a.MaxHeartRate, &a.Steps, &a.ElevationGain, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, nil, err
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartTime: last.StartTime, ID: last.ExternalID}
	}
	return results, nextCursor, nil
}

// LatestActivityStart derives the activity sync watermark from persisted
// rows. Deriving on demand keeps it from ever drifting from durable state.
func (r *Repository) LatestActivityStart(ctx context.Context, userID string) (*time.Time, error) {
	row := r.pool.QueryRow(ctx, `SELECT MAX(start_time) FROM activities WHERE user_id=$1`, userID)
	var ts *time.Time
	if err := row.Scan(&ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// LatestSummaryDate derives the daily-summary sync watermark.
func (r *Repository) LatestSummaryDate(ctx context.Context, userID string) (*time.Time, error) {
	row := r.pool.QueryRow(ctx, `SELECT MAX(date) FROM daily_summaries WHERE user_id=$1`, userID)
	var ts *time.Time
	if err := row.Scan(&ts); err != nil {
		return nil, err
	}
	return ts, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

func (r *Repository) touchLastSync(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE provider_connections SET last_sync_attempt=NOW(), updated_at=NOW() WHERE user_id=$1 AND provider=$2`,
		userID, r.provider)
	return err
}

func (r *Repository) insertSyncEvent(ctx context.Context, tx pgx.Tx, userID string, kind domain.RecordKind, stats domain.MergeStats) error {
	payload := domain.SyncCompleted{
		UserID:     userID,
		Kind:       string(kind),
		Inserted:   stats.Inserted,
		Updated:    stats.Updated,
		OccurredAt: time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog["sync.completed"]
	dedupeKey := fmt.Sprintf("%s:%s:%d", userID, kind, payload.OccurredAt.UnixNano())

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		userID,
		"sync",
		userID+":"+string(kind),
		"sync.completed",
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(userID, kind),
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(userID string, kind domain.RecordKind) string
}

var eventCatalog = map[string]EventMetadata{
	"sync.completed": {
		Topic:         "wearable_sync_events",
		SchemaSubject: "wearable_sync_events-value",
		PartitionKeyFn: func(userID string, kind domain.RecordKind) string {
			return userID
		},
	},
}
