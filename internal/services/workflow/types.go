package workflow

import (
	"time"

	"github.com/r254650549/rural-demo/internal/api"
)

// BatchKind is the type of files in an upload batch
type BatchKind string

const (
	KindImage       BatchKind = "image"
	KindGroundImage BatchKind = "ground-image"
	KindVideo       BatchKind = "video"
)

// IsImage reports whether the batch can be stitched or extracted from
func (k BatchKind) IsImage() bool {
	return k == KindImage || k == KindGroundImage
}

// Result statuses shared by stitch and extraction results
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusEmpty   = "empty" // extraction succeeded with zero targets
)

// Extraction source kinds
const (
	SourceStitch = "stitch"
	SourceBatch  = "batch"
)

// Image types and extraction types understood by the detector
const (
	ImageTypeGround = "ground"
	ImageTypeDrone  = "drone"

	ExtractObjects  = "objects"
	ExtractFeatures = "features"
)

// UploadBatch is one set of files uploaded together. It is immutable once stored.
type UploadBatch struct {
	ID          string    `json:"id"`
	Kind        BatchKind `json:"kind"`
	FileCount   int       `json:"file_count"`
	ServerPaths []string  `json:"server_paths"`
	CreatedAt   time.Time `json:"created_at"`
}

// StitchResult is the output of the stitching stage
type StitchResult struct {
	SourceBatchID    string `json:"source_batch_id"`
	TaskName         string `json:"task_name,omitempty"`
	StitchedImageRef string `json:"stitched_image_ref,omitempty"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// ExtractionResult holds targets found in an image, or objects and features from a video
type ExtractionResult struct {
	SourceRef    string       `json:"source_ref"`
	SourceKind   string       `json:"source_kind"` // stitch or batch
	TaskName     string       `json:"task_name,omitempty"`
	Targets      []api.Target `json:"targets"`
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// StitchOptions are the optional inputs of a stitch submission
type StitchOptions struct {
	TaskName        string `json:"task_name,omitempty"`
	Parameters      string `json:"parameters,omitempty"`
	UploadEventName string `json:"upload_event_name,omitempty"`
}

// ExtractionParams are the optional inputs of an extraction submission
type ExtractionParams struct {
	TaskName       string `json:"task_name,omitempty"`
	ImageType      string `json:"image_type,omitempty"`      // ground (default) or drone
	ExtractionType string `json:"extraction_type,omitempty"` // objects (default) or features
}

// VideoParams are the inputs of a video processing submission
type VideoParams struct {
	Line           api.AnnotationLine `json:"line"`
	TaskName       string             `json:"task_name,omitempty"`
	ExtractionType string             `json:"extraction_type,omitempty"`
	Parameters     string             `json:"parameters,omitempty"`
}

// Snapshot is a copy of the active session, safe to hand to callers
type Snapshot struct {
	SessionID  string            `json:"session_id"`
	State      State             `json:"state"`
	InFlight   string            `json:"in_flight,omitempty"` // task id
	Batch      *UploadBatch      `json:"batch,omitempty"`
	Stitch     *StitchResult     `json:"stitch,omitempty"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
}
