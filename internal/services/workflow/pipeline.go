package workflow

import (
	"context"

	"github.com/r254650549/rural-demo/internal/api"
)

// PipelineOptions control RunImagePipeline
type PipelineOptions struct {
	Kind           BatchKind        `json:"kind"` // image (default) or ground-image
	Stitch         StitchOptions    `json:"stitch"`
	Extraction     ExtractionParams `json:"extraction"`
	AlwaysStitch   bool             `json:"always_stitch"` // stitch even a single image
	SkipExtraction bool             `json:"skip_extraction"`
}

// RunImagePipeline drives Upload -> Stitch -> Extract to completion on w.
// Batches of more than one image are always stitched before extraction.
func RunImagePipeline(ctx context.Context, w *Workflow, files []api.File, opts PipelineOptions) (Snapshot, error) {
	kind := opts.Kind
	if kind == "" {
		kind = KindImage
	}
	if !kind.IsImage() {
		return w.Snapshot(), &ValidationError{Field: "kind", Message: "the image pipeline needs an image batch"}
	}

	task, err := w.SubmitUpload(files, kind)
	if err == nil {
		err = w.Await(ctx, task)
	}
	if err != nil {
		return w.Snapshot(), err
	}

	if opts.AlwaysStitch || len(files) > 1 {
		task, err = w.SubmitStitch(opts.Stitch)
		if err == nil {
			err = w.Await(ctx, task)
		}
		if err != nil {
			return w.Snapshot(), err
		}
	}

	if !opts.SkipExtraction {
		task, err = w.SubmitExtraction(opts.Extraction)
		if err == nil {
			err = w.Await(ctx, task)
		}
		if err != nil {
			return w.Snapshot(), err
		}
	}
	return w.Snapshot(), nil
}

// RunVideoPipeline uploads one video and processes it with the annotated line.
// The line is checked before anything is uploaded.
func RunVideoPipeline(ctx context.Context, w *Workflow, file api.File, params VideoParams) (Snapshot, error) {
	if err := ValidateLine(params.Line); err != nil {
		return w.Snapshot(), err
	}
	if _, err := normalizeExtractionType(params.ExtractionType); err != nil {
		return w.Snapshot(), err
	}

	task, err := w.SubmitUpload([]api.File{file}, KindVideo)
	if err == nil {
		err = w.Await(ctx, task)
	}
	if err != nil {
		return w.Snapshot(), err
	}

	task, err = w.SubmitVideoProcessing(params)
	if err == nil {
		err = w.Await(ctx, task)
	}
	if err != nil {
		return w.Snapshot(), err
	}
	return w.Snapshot(), nil
}
