package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SyncKindSlips       = "slips"
	SyncKindBankCredits = "bank_credits"

	SyncProcessing = "processing"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// SyncRun records one collector pass over the mailbox.
type SyncRun struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Kind           string         `gorm:"index" json:"kind"`
	Status         string         `json:"status"`
	ScannedCount   int            `json:"scanned_count"`
	ProcessedCount int            `json:"processed_count"`
	SkippedCount   int            `json:"skipped_count"`
	Error          string         `json:"error,omitempty"`
	Details        datatypes.JSON `json:"details,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
