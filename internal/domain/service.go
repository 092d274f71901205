// Package domain implements the sync engine: window calculation, connection
// gating, upsert merging, and the freshness-aware read path.
package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Repository captures the persistence operations the sync engine depends on.
// Merge operations run in a single transaction; a partial batch never
// persists.
type Repository interface {
	Connection(ctx context.Context, userID string) (*Connection, error)
	SaveCredentials(ctx context.Context, userID, cipher string) error
	SetConnectionActive(ctx context.Context, userID string, active bool) error
	Credentials(ctx context.Context, userID string) (string, error)

	MergeActivities(ctx context.Context, userID string, records []Activity) (MergeStats, error)
	MergeDailySummaries(ctx context.Context, userID string, records []DailySummary) (MergeStats, error)

	DailySummaryByDate(ctx context.Context, userID string, date time.Time) (*DailySummary, error)
	ListActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)

	LatestActivityStart(ctx context.Context, userID string) (*time.Time, error)
	LatestSummaryDate(ctx context.Context, userID string) (*time.Time, error)
}

// Provider is the remote wearable API boundary. Implementations validate
// payload shape and map transport failures onto the error taxonomy; an error
// envelope is never surfaced as an empty result set.
type Provider interface {
	Authenticate(ctx context.Context, creds Credentials) error
	Activities(ctx context.Context, creds Credentials, start, end time.Time) ([]RemoteActivity, error)
	DailySummaries(ctx context.Context, creds Credentials, start, end time.Time) ([]RemoteDailySummary, error)
	DailySummary(ctx context.Context, creds Credentials, date time.Time) (*RemoteDailySummary, error)
}

// CredentialCodec seals and opens the stored credential blob.
type CredentialCodec interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(cipher string) ([]byte, error)
}

// Service orchestrates sync and read flows over the repository and provider.
type Service struct {
	repo     Repository
	provider Provider
	codec    CredentialCodec
	logger   *zap.Logger

	// group collapses concurrent syncs for the same (user, kind) so a stale
	// watermark read cannot trigger a second remote fetch for the same range.
	group singleflight.Group

	now func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, provider Provider, codec CredentialCodec, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		provider: provider,
		codec:    codec,
		logger:   logger,
		now:      time.Now,
	}
}

// Connect validates credentials against the provider, then stores them
// encrypted and marks the connection active. Creates the connection row on
// first submission.
func (s *Service) Connect(ctx context.Context, userID string, creds Credentials) error {
	if err := s.provider.Authenticate(ctx, creds); err != nil {
		return err
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	cipher, err := s.codec.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	if err := s.repo.SaveCredentials(ctx, userID, cipher); err != nil {
		return err
	}
	s.logger.Info("provider connected", zap.String("user_id", userID))
	return nil
}

// Disconnect deactivates the connection. The row and all synced records are
// preserved.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	conn, err := s.repo.Connection(ctx, userID)
	if err != nil {
		return err
	}
	if conn == nil {
		return ErrNotConnected
	}
	if err := s.repo.SetConnectionActive(ctx, userID, false); err != nil {
		return err
	}
	s.logger.Info("provider disconnected", zap.String("user_id", userID))
	return nil
}

// Reconnect reactivates a previously disconnected connection without
// resubmitting credentials.
func (s *Service) Reconnect(ctx context.Context, userID string) error {
	conn, err := s.repo.Connection(ctx, userID)
	if err != nil {
		return err
	}
	if conn == nil {
		return ErrNotConnected
	}
	if !conn.HasCredentials {
		return ErrMissingCredentials
	}
	return s.repo.SetConnectionActive(ctx, userID, true)
}

// Status reports the connection state for the user.
func (s *Service) Status(ctx context.Context, userID string) (ConnectionStatus, error) {
	conn, err := s.repo.Connection(ctx, userID)
	if err != nil {
		return ConnectionStatus{}, err
	}
	if conn == nil {
		return ConnectionStatus{}, nil
	}
	return ConnectionStatus{
		Connected:      true,
		IsActive:       conn.Active,
		HasCredentials: conn.HasCredentials,
		LastSyncTime:   conn.LastSyncAttempt,
	}, nil
}

// checkEligibility gates every remote-touching entry point. Read-only; on
// success it returns the decrypted credentials for the remote call.
func (s *Service) checkEligibility(ctx context.Context, userID string) (Credentials, error) {
	conn, err := s.repo.Connection(ctx, userID)
	if err != nil {
		return Credentials{}, err
	}
	if conn == nil {
		return Credentials{}, ErrNotConnected
	}
	if !conn.Active {
		return Credentials{}, ErrInactiveConnection
	}
	if !conn.HasCredentials {
		return Credentials{}, ErrMissingCredentials
	}

	cipher, err := s.repo.Credentials(ctx, userID)
	if err != nil {
		return Credentials{}, err
	}
	if cipher == "" {
		return Credentials{}, ErrMissingCredentials
	}
	plaintext, err := s.codec.Decrypt(cipher)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

// SyncRange synchronizes the requested date range for one record kind.
// Concurrent calls for the same (userID, kind) collapse into one flight;
// distinct users and kinds proceed in parallel.
func (s *Service) SyncRange(ctx context.Context, userID string, kind RecordKind, start, end time.Time, forceRefresh bool) (SyncResult, error) {
	if !kind.Valid() {
		return SyncResult{}, fmt.Errorf("unknown record kind %q", kind)
	}

	key := userID + "/" + string(kind)
	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.syncRange(ctx, userID, kind, start, end, forceRefresh)
	})
	if err != nil {
		return SyncResult{}, err
	}
	return value.(SyncResult), nil
}

func (s *Service) syncRange(ctx context.Context, userID string, kind RecordKind, start, end time.Time, forceRefresh bool) (SyncResult, error) {
	creds, err := s.checkEligibility(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}

	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end
	}

	watermark, err := s.watermark(ctx, userID, kind)
	if err != nil {
		return SyncResult{}, err
	}

	window := ComputeWindow(start, end, watermark, forceRefresh)
	if window.Skip {
		s.logger.Debug("sync window empty",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)))
		return SyncResult{
			Kind:    kind,
			Skipped: true,
			Start:   window.Start,
			End:     window.End,
			Message: "already up to date",
		}, nil
	}

	var stats MergeStats
	var total int
	switch kind {
	case KindActivity:
		remote, fetchErr := s.provider.Activities(ctx, creds, window.Start, window.End)
		if fetchErr != nil {
			return SyncResult{}, fetchErr
		}
		records := make([]Activity, 0, len(remote))
		for _, r := range remote {
			record, convErr := activityFromRemote(userID, r)
			if convErr != nil {
				return SyncResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, convErr)
			}
			records = append(records, record)
		}
		total = len(records)
		stats, err = s.repo.MergeActivities(ctx, userID, records)
	case KindDailySummary:
		remote, fetchErr := s.provider.DailySummaries(ctx, creds, window.Start, window.End)
		if fetchErr != nil {
			return SyncResult{}, fetchErr
		}
		records := make([]DailySummary, 0, len(remote))
		for _, r := range remote {
			record, convErr := summaryFromRemote(userID, r)
			if convErr != nil {
				return SyncResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, convErr)
			}
			records = append(records, record)
		}
		total = len(records)
		stats, err = s.repo.MergeDailySummaries(ctx, userID, records)
	}
	if err != nil {
		return SyncResult{}, err
	}

	s.logger.Info("sync completed",
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
		zap.Int("imported", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("total", total))

	return SyncResult{
		Kind:     kind,
		Imported: stats.Inserted,
		Updated:  stats.Updated,
		Total:    total,
		Start:    window.Start,
		End:      window.End,
		Message:  fmt.Sprintf("imported %d of %d records", stats.Inserted, total),
	}, nil
}

// SummaryForDate serves a daily summary from cache, fetching and merging from
// the provider only on a cache miss or an explicit force refresh. The value
// returned is always re-read from the store so callers observe the same
// normalized row any later reader would.
func (s *Service) SummaryForDate(ctx context.Context, userID string, date time.Time, forceRefresh bool) (*DailySummary, error) {
	date = Day(date)

	if !forceRefresh {
		cached, err := s.repo.DailySummaryByDate(ctx, userID, date)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}

	creds, err := s.checkEligibility(ctx, userID)
	if err != nil {
		return nil, err
	}

	remote, err := s.provider.DailySummary(ctx, creds, date)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, ErrSummaryNotFound
	}

	record, err := summaryFromRemote(userID, *remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if _, err := s.repo.MergeDailySummaries(ctx, userID, []DailySummary{record}); err != nil {
		return nil, err
	}

	stored, err := s.repo.DailySummaryByDate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrSummaryNotFound
	}
	return stored, nil
}

// ListActivities pages through locally cached activities.
func (s *Service) ListActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.repo.ListActivities(ctx, userID, cursor, limit)
}

func (s *Service) watermark(ctx context.Context, userID string, kind RecordKind) (*time.Time, error) {
	switch kind {
	case KindActivity:
		return s.repo.LatestActivityStart(ctx, userID)
	default:
		return s.repo.LatestSummaryDate(ctx, userID)
	}
}

// activityFromRemote translates the provider payload into the local schema.
// This is the only place provider field names cross into local ones.
func activityFromRemote(userID string, r RemoteActivity) (Activity, error) {
	if r.ActivityID == "" {
		return Activity{}, fmt.Errorf("activity missing activityId")
	}
	startTime, err := parseProviderTime(r.StartTime)
	if err != nil {
		return Activity{}, fmt.Errorf("activity %s: bad startTime %q", r.ActivityID, r.StartTime)
	}
	return Activity{
		UserID:          userID,
		ExternalID:      r.ActivityID,
		Name:            r.ActivityName,
		ActivityType:    r.ActivityType,
		StartTime:       startTime,
		DurationSeconds: int(r.DurationSeconds),
		DistanceMeters:  r.DistanceMeters,
		Calories:        int(r.Calories),
		AvgHeartRate:    int(r.AvgHeartRate),
		MaxHeartRate:    int(r.MaxHeartRate),
		Steps:           int(r.Steps),
		ElevationGain:   r.ElevationGain,
	}, nil
}

func summaryFromRemote(userID string, r RemoteDailySummary) (DailySummary, error) {
	if r.CalendarDate == "" {
		return DailySummary{}, fmt.Errorf("summary missing calendarDate")
	}
	date, err := time.ParseInLocation(time.DateOnly, r.CalendarDate, time.UTC)
	if err != nil {
		return DailySummary{}, fmt.Errorf("bad calendarDate %q", r.CalendarDate)
	}
	return DailySummary{
		UserID:                  userID,
		Date:                    date,
		TotalSteps:              int(r.TotalSteps),
		TotalDistanceMeters:     r.TotalDistanceMeters,
		TotalCalories:           int(r.TotalKilocalories),
		ActiveCalories:          int(r.ActiveKilocalories),
		BMRCalories:             int(r.BMRKilocalories),
		MinHeartRate:            int(r.MinHeartRate),
		MaxHeartRate:            int(r.MaxHeartRate),
		RestingHeartRate:        int(r.RestingHeartRate),
		AvgStressLevel:          int(r.AverageStressLevel),
		FloorsClimbed:           int(r.FloorsAscended),
		MinutesSedentary:        int(r.SedentaryMinutes),
		MinutesLightlyActive:    int(r.LightlyActiveMinutes),
		MinutesModeratelyActive: int(r.ModeratelyActiveMinutes),
		MinutesHighlyActive:     int(r.HighlyActiveMinutes),
	}, nil
}

func parseProviderTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time format")
}
