package workflow

import (
	"fmt"
	"math"
	"strings"

	"github.com/r254650549/rural-demo/internal/api"
)

func validateFiles(files []api.File) error {
	if len(files) == 0 {
		return &ValidationError{Field: "files", Message: "at least one file is required"}
	}
	for i, f := range files {
		if f.Path == "" && f.Reader == nil {
			return &ValidationError{Field: "files", Message: fmt.Sprintf("file %d has no content", i+1)}
		}
	}
	return nil
}

func validateKind(kind BatchKind) error {
	switch kind {
	case KindImage, KindGroundImage, KindVideo:
		return nil
	}
	return &ValidationError{Field: "kind", Message: "must be one of image, ground-image, video"}
}

// normalizeExtraction fills defaults and checks the enumerations
func normalizeExtraction(p ExtractionParams) (ExtractionParams, error) {
	p.ImageType = strings.ToLower(strings.TrimSpace(p.ImageType))
	if p.ImageType == "" {
		p.ImageType = ImageTypeGround
	}
	if p.ImageType != ImageTypeGround && p.ImageType != ImageTypeDrone {
		return p, &ValidationError{Field: "image_type", Message: "must be ground or drone"}
	}

	extraction, err := normalizeExtractionType(p.ExtractionType)
	if err != nil {
		return p, err
	}
	p.ExtractionType = extraction
	p.TaskName = strings.TrimSpace(p.TaskName)
	return p, nil
}

func normalizeExtractionType(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ExtractObjects, nil
	}
	if v != ExtractObjects && v != ExtractFeatures {
		return "", &ValidationError{Field: "extraction_type", Message: "must be objects or features"}
	}
	return v, nil
}

// ValidateLine rejects annotation lines that are not finite or select nothing
func ValidateLine(line api.AnnotationLine) error {
	for _, v := range []float64{line.StartX, line.StartY, line.EndX, line.EndY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "line", Message: "coordinates must be finite numbers"}
		}
	}
	if line.StartX == line.EndX && line.StartY == line.EndY {
		return &ValidationError{Field: "line", Message: "Selected area is too small"}
	}
	return nil
}
