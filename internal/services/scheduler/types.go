package scheduler

import "github.com/r254650549/rural-demo/internal/api"

// JobListResponse represents a scheduled job in list responses
type JobListResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	JobType       string  `json:"job_type"`
	Cron          string  `json:"cron"`
	Timezone      string  `json:"timezone"`
	Enabled       bool    `json:"enabled"`
	Payload       string  `json:"payload"`
	LastRunAt     *string `json:"last_run_at"`     // ISO 8601 format
	LastSuccessAt *string `json:"last_success_at"` // ISO 8601 format
	NextRun       *string `json:"next_run"`        // ISO 8601 format
	LastError     string  `json:"last_error,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// UpsertJobRequest represents a request to create or update a scheduled job
type UpsertJobRequest struct {
	Name     string      `json:"name"`
	JobType  string      `json:"job_type"` // "image_pipeline" or "video_pipeline"
	Cron     string      `json:"cron"`
	Timezone string      `json:"timezone"`
	Enabled  bool        `json:"enabled"`
	Payload  interface{} `json:"payload"` // Can be map, struct or JSON string
}

// ImagePipelinePayload sweeps a directory and runs Upload -> Stitch -> Extract on what it finds
type ImagePipelinePayload struct {
	Directory      string `json:"directory"`
	Pattern        string `json:"pattern,omitempty"` // glob, default "*.jpg"
	Kind           string `json:"kind,omitempty"`    // image or ground-image
	OnlyNew        bool   `json:"only_new"`          // skip files not modified since the last successful run
	AlwaysStitch   bool   `json:"always_stitch,omitempty"`
	SkipExtraction bool   `json:"skip_extraction,omitempty"`
	TaskName       string `json:"task_name,omitempty"`
	ImageType      string `json:"image_type,omitempty"`
	ExtractionType string `json:"extraction_type,omitempty"`
}

// VideoPipelinePayload uploads one video and processes it with a fixed line
type VideoPipelinePayload struct {
	VideoPath      string             `json:"video_path"`
	Line           api.AnnotationLine `json:"line"`
	TaskName       string             `json:"task_name,omitempty"`
	ExtractionType string             `json:"extraction_type,omitempty"`
	Parameters     string             `json:"parameters,omitempty"`
}
