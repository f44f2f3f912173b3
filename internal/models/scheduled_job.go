package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scheduled job types
const (
	JobTypeImagePipeline = "image_pipeline"
	JobTypeVideoPipeline = "video_pipeline"
)

// ScheduledJob represents a recurring pipeline run (image folder sweep or video processing)
type ScheduledJob struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Name          string     `gorm:"unique;not null" json:"name"`
	JobType       string     `gorm:"not null;column:job_type" json:"job_type"` // image_pipeline, video_pipeline
	Cron          string     `gorm:"not null" json:"cron"`                     // 6-field cron expression
	Timezone      string     `gorm:"default:UTC" json:"timezone"`
	Payload       string     `gorm:"type:text" json:"payload"` // JSON payload string
	Enabled       bool       `gorm:"default:true" json:"enabled"`
	LastRunAt     *time.Time `gorm:"column:last_run_at" json:"last_run_at"`
	LastSuccessAt *time.Time `gorm:"column:last_success_at" json:"last_success_at"` // only_new cutoff
	NextRunAt     *time.Time `gorm:"column:next_run_at" json:"next_run_at"`
	LastError     string     `gorm:"type:text;column:last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (sj *ScheduledJob) BeforeCreate(tx *gorm.DB) error {
	if sj.ID == "" {
		sj.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (ScheduledJob) TableName() string {
	return "scheduled_jobs"
}
