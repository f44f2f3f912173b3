package workflow

import "github.com/r254650549/rural-demo/internal/api"

// stageCache holds the artifacts of the active session: at most one batch, one stitch
// result and one extraction result. It is guarded by the Workflow mutex.
type stageCache struct {
	batch      *UploadBatch
	stitch     *StitchResult
	extraction *ExtractionResult
}

// setBatch starts a new session chain; downstream results of the old batch are dropped
func (c *stageCache) setBatch(b *UploadBatch) {
	c.batch = b
	c.stitch = nil
	c.extraction = nil
}

// setStitch supersedes any previous stitch and the extraction made from it
func (c *stageCache) setStitch(s *StitchResult) {
	c.stitch = s
	c.extraction = nil
}

func (c *stageCache) setExtraction(e *ExtractionResult) {
	c.extraction = e
}

func (c *stageCache) clear() {
	c.batch = nil
	c.stitch = nil
	c.extraction = nil
}

// load replaces the whole cache, used when resuming from history
func (c *stageCache) load(b *UploadBatch, s *StitchResult, e *ExtractionResult) {
	c.batch = b
	c.stitch = s
	c.extraction = e
}

// settledPhase derives the phase the cached artifacts support
func (c *stageCache) settledPhase() Phase {
	if c.batch == nil {
		return PhaseIdle
	}
	extracted := c.extraction != nil && (c.extraction.Status == StatusSuccess || c.extraction.Status == StatusEmpty)
	if c.batch.Kind == KindVideo {
		if extracted {
			return PhaseVideoCompleted
		}
		return PhaseVideoUploaded
	}
	if extracted {
		return PhaseCompleted
	}
	if c.stitchedRef() != "" {
		return PhaseStitched
	}
	return PhaseUploaded
}

// stitchedRef returns the successful stitch output, or "" if there is none
func (c *stageCache) stitchedRef() string {
	if c.stitch != nil && c.stitch.Status == StatusSuccess {
		return c.stitch.StitchedImageRef
	}
	return ""
}

func (c *stageCache) snapshot() (*UploadBatch, *StitchResult, *ExtractionResult) {
	return copyBatch(c.batch), copyStitch(c.stitch), copyExtraction(c.extraction)
}

func copyBatch(b *UploadBatch) *UploadBatch {
	if b == nil {
		return nil
	}
	out := *b
	out.ServerPaths = append([]string(nil), b.ServerPaths...)
	return &out
}

func copyStitch(s *StitchResult) *StitchResult {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

func copyExtraction(e *ExtractionResult) *ExtractionResult {
	if e == nil {
		return nil
	}
	out := *e
	out.Targets = make([]api.Target, len(e.Targets))
	for i, t := range e.Targets {
		out.Targets[i] = t
		if t.BoundingBox != nil {
			box := *t.BoundingBox
			out.Targets[i].BoundingBox = &box
		}
	}
	return &out
}
