//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/wearable/internal/domain"
)

func TestRepositoryMergeLifecycle(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	userID := uuid.NewString()
	require.NoError(t, repo.SaveCredentials(ctx, userID, "sealed-blob"))

	conn, err := repo.Connection(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.True(t, conn.Active)
	require.True(t, conn.HasCredentials)

	batch := []domain.Activity{
		{
			ExternalID:      "act-100",
			Name:            "Morning Run",
			ActivityType:    "running",
			StartTime:       time.Date(2024, time.May, 10, 7, 0, 0, 0, time.UTC),
			DurationSeconds: 1800,
			DistanceMeters:  5200,
			Calories:        420,
		},
		{
			ExternalID:      "act-101",
			Name:            "Evening Ride",
			ActivityType:    "cycling",
			StartTime:       time.Date(2024, time.May, 11, 18, 30, 0, 0, time.UTC),
			DurationSeconds: 3600,
			DistanceMeters:  24000,
			Calories:        780,
		},
	}

	stats, err := repo.MergeActivities(ctx, userID, batch)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Inserted)
	require.Equal(t, 0, stats.Updated)

	first, _, err := repo.ListActivities(ctx, userID, nil, 10)
	require.NoError(t, err)
	require.Len(t, first, 2)
	createdAt := first[0].CreatedAt

	// Re-merging the identical batch must update in place, not duplicate.
	batch[1].Calories = 800
	stats, err = repo.MergeActivities(ctx, userID, batch)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Inserted)
	require.Equal(t, 2, stats.Updated)

	second, _, err := repo.ListActivities(ctx, userID, nil, 10)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Equal(t, 800, second[0].Calories)
	require.True(t, second[0].CreatedAt.Equal(createdAt), "created_at must survive re-merge")

	watermark, err := repo.LatestActivityStart(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, watermark)
	require.True(t, watermark.Equal(batch[1].StartTime))

	conn, err = repo.Connection(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, conn.LastSyncAttempt)

	var events int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE user_id=$1 AND event_type='sync.completed'`, userID).Scan(&events))
	require.Equal(t, 2, events)
}

func TestRepositoryMergeIsAtomic(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	userID := uuid.NewString()
	require.NoError(t, repo.SaveCredentials(ctx, userID, "sealed-blob"))

	batch := []domain.Activity{
		{ExternalID: "ok-1", StartTime: time.Date(2024, time.May, 10, 7, 0, 0, 0, time.UTC)},
		{ExternalID: "ok-2", StartTime: time.Date(2024, time.May, 11, 7, 0, 0, 0, time.UTC)},
		// Out of range for timestamptz; forces a mid-batch failure.
		{ExternalID: "bad-3", StartTime: time.Date(300000, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}

	_, err := repo.MergeActivities(ctx, userID, batch)
	require.Error(t, err)

	stored, _, err := repo.ListActivities(ctx, userID, nil, 10)
	require.NoError(t, err)
	require.Empty(t, stored, "a failed batch must persist nothing")
}

func TestRepositoryDailySummaryUpsert(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	userID := uuid.NewString()
	require.NoError(t, repo.SaveCredentials(ctx, userID, "sealed-blob"))

	date := time.Date(2024, time.May, 12, 0, 0, 0, 0, time.UTC)
	summary := domain.DailySummary{
		Date:       date,
		TotalSteps: 8000,
	}

	stats, err := repo.MergeDailySummaries(ctx, userID, []domain.DailySummary{summary})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Inserted)

	summary.TotalSteps = 9500
	stats, err = repo.MergeDailySummaries(ctx, userID, []domain.DailySummary{summary})
	require.NoError(t, err)
	require.Equal(t, 0, stats.Inserted)
	require.Equal(t, 1, stats.Updated)

	stored, err := repo.DailySummaryByDate(ctx, userID, date)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 9500, stored.TotalSteps)

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM daily_summaries WHERE user_id=$1`, userID).Scan(&count))
	require.Equal(t, 1, count, "exactly one row per calendar day")
}

func TestRepositoryConnectionToggle(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	userID := uuid.NewString()
	require.ErrorIs(t, repo.SetConnectionActive(ctx, userID, false), domain.ErrNotConnected)

	require.NoError(t, repo.SaveCredentials(ctx, userID, "sealed-blob"))
	require.NoError(t, repo.SetConnectionActive(ctx, userID, false))

	conn, err := repo.Connection(ctx, userID)
	require.NoError(t, err)
	require.False(t, conn.Active)
	require.True(t, conn.HasCredentials)
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("wearable"),
		postgrescontainer.WithUsername("wearable"),
		postgrescontainer.WithPassword("wearable"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
