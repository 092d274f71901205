package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/wearable/internal/domain"
)

// SyncJobHandler executes scheduled sync jobs delivered on the sync_jobs topic.
type SyncJobHandler struct {
	service *domain.Service
	logger  *zap.Logger
	now     func() time.Time
}

// NewSyncJobHandler constructs a handler backed by the sync service.
func NewSyncJobHandler(service *domain.Service, logger *zap.Logger) *SyncJobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncJobHandler{service: service, logger: logger, now: time.Now}
}

// Handle decodes a sync.requested payload and runs the sync described by it.
func (h *SyncJobHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != "sync.requested" {
		h.logger.Debug("skipping event", zap.String("event_type", msg.EventType))
		return nil
	}

	var job domain.SyncRequested
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return fmt.Errorf("decode sync job: %w", err)
	}

	kind := domain.RecordKind(job.Kind)
	if !kind.Valid() {
		return fmt.Errorf("unknown record kind %q", job.Kind)
	}

	end, err := h.parseDate(job.EndDate)
	if err != nil {
		return fmt.Errorf("parse end_date: %w", err)
	}
	start := end
	if job.StartDate != "" {
		start, err = h.parseDate(job.StartDate)
		if err != nil {
			return fmt.Errorf("parse start_date: %w", err)
		}
	}

	result, err := h.service.SyncRange(ctx, job.UserID, kind, start, end, job.ForceRefresh)
	if err != nil {
		if domain.IsExpected(err) {
			// Gate and upstream failures are terminal for this job; retrying
			// the same message will not change the outcome.
			h.logger.Warn("sync job not runnable",
				zap.String("user_id", job.UserID),
				zap.String("kind", job.Kind),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	h.logger.Info("sync job completed",
		zap.String("user_id", job.UserID),
		zap.String("kind", job.Kind),
		zap.Int("imported", result.Imported),
		zap.Int("updated", result.Updated),
		zap.Bool("skipped", result.Skipped),
	)
	return nil
}

func (h *SyncJobHandler) parseDate(value string) (time.Time, error) {
	if value == "" {
		return domain.Day(h.now().UTC()), nil
	}
	return time.Parse(time.DateOnly, value)
}
