package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// History entry types, one per completed pipeline stage
const (
	HistoryTypeUpload  = "upload"
	HistoryTypeStitch  = "stitch"
	HistoryTypeExtract = "extract"
)

// ErrHistoryImmutable is returned by the GORM hooks when something tries to rewrite a ledger row
var ErrHistoryImmutable = errors.New("history entries are immutable")

// HistoryEntry is one append-only row of the process history ledger.
// Ref holds a JSON snapshot of the artifacts the stage produced so a session can be resumed.
type HistoryEntry struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	Owner          string         `gorm:"not null;uniqueIndex:idx_history_owner_seq" json:"owner"`
	Seq            int64          `gorm:"not null;uniqueIndex:idx_history_owner_seq" json:"seq"`
	Type           string         `gorm:"not null;index" json:"type"` // upload, stitch, extract
	RelatedBatchID string         `gorm:"not null;index;column:related_batch_id" json:"related_batch_id"`
	Summary        string         `gorm:"type:text" json:"summary"`
	Timestamp      time.Time      `gorm:"not null;index" json:"timestamp"`
	Ref            datatypes.JSON `json:"ref"`
}

// BeforeCreate hook to generate UUID before creating record
func (he *HistoryEntry) BeforeCreate(tx *gorm.DB) error {
	if he.ID == "" {
		he.ID = uuid.New().String()
	}
	return nil
}

// BeforeUpdate blocks in-place edits; a later stage appends a new entry instead
func (he *HistoryEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrHistoryImmutable
}

// TableName specifies the table name for GORM
func (HistoryEntry) TableName() string {
	return "history_entries"
}
