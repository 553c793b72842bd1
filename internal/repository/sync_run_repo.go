package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payment-evidence-backend/internal/models"
)

type SyncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Start creates a SyncRun in processing state
func (r *SyncRunRepository) Start(ctx context.Context, kind string) (*models.SyncRun, error) {
	now := time.Now()
	run := &models.SyncRun{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.SyncProcessing,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// Finish stores the counters of a finished pass. A non-nil passErr marks the
// run failed.
func (r *SyncRunRepository) Finish(ctx context.Context, run *models.SyncRun, passErr error, details map[string]interface{}) error {
	now := time.Now()
	run.CompletedAt = &now
	run.Status = models.SyncCompleted
	if passErr != nil {
		run.Status = models.SyncFailed
		run.Error = passErr.Error()
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			run.Details = raw
		}
	}

	return r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":          run.Status,
			"scanned_count":   run.ScannedCount,
			"processed_count": run.ProcessedCount,
			"skipped_count":   run.SkippedCount,
			"error":           run.Error,
			"details":         run.Details,
			"completed_at":    run.CompletedAt,
		}).Error
}

func (r *SyncRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}
