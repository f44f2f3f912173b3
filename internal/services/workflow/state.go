package workflow

import (
	"fmt"

	"github.com/r254650549/rural-demo/internal/models"
)

// Phase is one position of the pipeline state machine
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseUploading       Phase = "uploading"
	PhaseUploaded        Phase = "uploaded"
	PhaseStitching       Phase = "stitching"
	PhaseStitched        Phase = "stitched"
	PhaseExtracting      Phase = "extracting"
	PhaseCompleted       Phase = "completed"
	PhaseVideoUploading  Phase = "video_uploading"
	PhaseVideoUploaded   Phase = "video_uploaded"
	PhaseVideoProcessing Phase = "video_processing"
	PhaseVideoCompleted  Phase = "video_completed"
	PhaseError           Phase = "error"
)

// Stage is the pipeline step a request belongs to
type Stage string

const (
	StageUpload  Stage = "upload"
	StageStitch  Stage = "stitch"
	StageExtract Stage = "extract"
	StageVideo   Stage = "video"
	// StageResume holds the session while history artifacts are checked; it has no phase
	StageResume Stage = "resume"
)

// State is the tagged state of a session. FailedStage and Resume are set only in PhaseError;
// Resume is the last settled phase, which decides what may be retried.
type State struct {
	Phase       Phase `json:"phase"`
	FailedStage Stage `json:"failed_stage,omitempty"`
	Resume      Phase `json:"resume,omitempty"`
}

func (s State) String() string {
	if s.Phase == PhaseError {
		return fmt.Sprintf("error{%s}", s.FailedStage)
	}
	return string(s.Phase)
}

// Settled returns the phase used for eligibility checks: Resume while in error, Phase otherwise
func (s State) Settled() Phase {
	if s.Phase == PhaseError {
		return s.Resume
	}
	return s.Phase
}

// InFlight reports whether the phase is waiting on the server
func (s State) InFlight() bool {
	_, ok := inFlightPhases[s.Phase]
	return ok
}

var inFlightPhases = map[Phase]struct{}{
	PhaseUploading:       {},
	PhaseStitching:       {},
	PhaseExtracting:      {},
	PhaseVideoUploading:  {},
	PhaseVideoProcessing: {},
}

// allowedTransitions lists the moves between settled and in-flight phases.
// Error is not listed as a source: an errored session moves as its Resume phase would.
var allowedTransitions = map[Phase]map[Phase]struct{}{
	PhaseIdle: {
		PhaseUploading:      {},
		PhaseVideoUploading: {},
	},
	PhaseUploading: {
		PhaseUploaded: {},
		PhaseError:    {},
	},
	PhaseUploaded: {
		PhaseStitching:      {},
		PhaseExtracting:     {},
		PhaseUploading:      {},
		PhaseVideoUploading: {},
	},
	PhaseStitching: {
		PhaseStitched: {},
		PhaseError:    {},
	},
	PhaseStitched: {
		PhaseStitching:      {},
		PhaseExtracting:     {},
		PhaseUploading:      {},
		PhaseVideoUploading: {},
	},
	PhaseExtracting: {
		PhaseCompleted: {},
		PhaseError:     {},
	},
	PhaseCompleted: {
		PhaseStitching:      {},
		PhaseExtracting:     {},
		PhaseUploading:      {},
		PhaseVideoUploading: {},
	},
	PhaseVideoUploading: {
		PhaseVideoUploaded: {},
		PhaseError:         {},
	},
	PhaseVideoUploaded: {
		PhaseVideoProcessing: {},
		PhaseUploading:       {},
		PhaseVideoUploading:  {},
	},
	PhaseVideoProcessing: {
		PhaseVideoCompleted: {},
		PhaseError:          {},
	},
	PhaseVideoCompleted: {
		PhaseVideoProcessing: {},
		PhaseUploading:       {},
		PhaseVideoUploading:  {},
	},
}

// ValidateTransition checks that a session in state from may move to phase to
func ValidateTransition(from State, to Phase) error {
	source := from.Settled()
	if source == "" {
		source = PhaseIdle
	}
	next, ok := allowedTransitions[source]
	if !ok {
		return fmt.Errorf("invalid phase: %q", source)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	return nil
}

// phaseForEntry maps a history entry type onto the phase a resumed session lands in
func phaseForEntry(entryType string, kind BatchKind) (Phase, bool) {
	video := kind == KindVideo
	switch entryType {
	case models.HistoryTypeUpload:
		if video {
			return PhaseVideoUploaded, true
		}
		return PhaseUploaded, true
	case models.HistoryTypeStitch:
		if video {
			return "", false
		}
		return PhaseStitched, true
	case models.HistoryTypeExtract:
		if video {
			return PhaseVideoCompleted, true
		}
		return PhaseCompleted, true
	}
	return "", false
}
