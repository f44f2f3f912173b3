package api

import "io"

// File is one local file to upload. Path is opened at send time; Reader is used when Path is empty.
type File struct {
	Name   string
	Path   string
	Reader io.Reader
}

// UploadOptions are the form flags sent with an image upload
type UploadOptions struct {
	GroundImage bool // adds is_ground_image=true
}

// UploadResponse lists the server-side paths for the uploaded files, in upload order
type UploadResponse struct {
	Paths []string
}

// StitchRequest is the body of the ground-image processing call
type StitchRequest struct {
	ImagePaths      []string `json:"image_paths"`
	TaskName        string   `json:"task_name,omitempty"`
	Parameters      string   `json:"algorithm_type,omitempty"`
	UploadEventName string   `json:"upload_event_name,omitempty"`
}

// StitchResponse carries the stitched panorama reference
type StitchResponse struct {
	TaskName         string
	StitchedImageRef string
}

// AnnotationLine is the line drawn over a video frame, in frame pixel coordinates
type AnnotationLine struct {
	StartX float64 `json:"startX"`
	StartY float64 `json:"startY"`
	EndX   float64 `json:"endX"`
	EndY   float64 `json:"endY"`
}

// VideoRequest is the input of the ground-video processing call
type VideoRequest struct {
	VideoPath      string
	Line           AnnotationLine
	TaskName       string
	ExtractionType string
	Parameters     string
}

type videoPayload struct {
	VideoPaths      []string       `json:"video_paths"`
	LineCoordinates AnnotationLine `json:"line_coordinates"`
	TaskName        string         `json:"task_name"`
	ExtractionType  string         `json:"extraction_type"`
	AlgorithmType   string         `json:"algorithm_type"`
}

// VideoResponse carries the objects or features found in a processed video
type VideoResponse struct {
	TaskName string
	Results  []Target
}

// ExtractRequest asks the detector to find targets in one image
type ExtractRequest struct {
	ImageRef       string `json:"image_path"`
	TaskName       string `json:"task_name,omitempty"`
	ImageType      string `json:"algorithm_type,omitempty"`  // ground or drone
	ExtractionType string `json:"extraction_type,omitempty"` // objects or features
}

// ExtractResponse carries the targets found by the detector
type ExtractResponse struct {
	TaskName string
	Targets  []Target
}

// BoundingBox is a pixel rectangle inside the source image
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Target is one detected object. The server returns either a box or a cropped image path.
type Target struct {
	ID          string       `json:"id"`
	BoundingBox *BoundingBox `json:"bbox,omitempty"`
	Path        string       `json:"path,omitempty"`
	Label       string       `json:"label"`
	Confidence  float64      `json:"confidence,omitempty"`
}

// Default values the video processor expects when the operator leaves fields blank
const (
	DefaultVideoTaskName       = "Ground Video Processing"
	DefaultVideoExtractionType = "objects"
	DefaultVideoAlgorithm      = "ground"
)
