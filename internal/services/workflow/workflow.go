// Package workflow orchestrates the imagery pipeline: Upload -> Stitch -> Extract, and
// Video upload -> Process. One Workflow is one operator session with at most one request
// in flight; completed stages are appended to the history ledger.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/r254650549/rural-demo/internal/api"
	"github.com/r254650549/rural-demo/internal/models"
	"gorm.io/datatypes"
)

// Workflow is the session state machine
type Workflow struct {
	ctx       context.Context
	transport Transport
	ledger    Ledger
	sink      Sink

	mu        sync.Mutex
	state     State
	cache     stageCache
	sessionID string
	inflight  *Task

	newID func() string
	now   func() time.Time
}

// New creates an idle session. ctx bounds every request the session issues.
func New(ctx context.Context, transport Transport, ledger Ledger, sink Sink) *Workflow {
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		sink = LogSink{}
	}
	w := &Workflow{
		ctx:       ctx,
		transport: transport,
		ledger:    ledger,
		sink:      sink,
		state:     State{Phase: PhaseIdle},
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
	w.sessionID = w.newID()
	return w
}

// State returns the current state
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SessionID returns the tag of the active session
func (w *Workflow) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Snapshot copies the active session
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch, stitch, extraction := w.cache.snapshot()
	snap := Snapshot{
		SessionID:  w.sessionID,
		State:      w.state,
		Batch:      batch,
		Stitch:     stitch,
		Extraction: extraction,
	}
	if w.inflight != nil {
		snap.InFlight = w.inflight.ID
	}
	return snap
}

// SubmitUpload uploads a batch of files. A successful upload starts a new session chain.
func (w *Workflow) SubmitUpload(files []api.File, kind BatchKind) (*Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkIdleLocked(); err != nil {
		return nil, err
	}
	if err := validateFiles(files); err != nil {
		return nil, err
	}
	if err := validateKind(kind); err != nil {
		return nil, err
	}

	phase, settled, noun := PhaseUploading, PhaseUploaded, "images"
	if kind == KindVideo {
		phase, settled, noun = PhaseVideoUploading, PhaseVideoUploaded, "videos"
	}
	if err := ValidateTransition(w.state, phase); err != nil {
		return nil, &ValidationError{Field: "state", Message: err.Error()}
	}

	batch := &UploadBatch{
		ID:          w.newID(),
		Kind:        kind,
		FileCount:   len(files),
		ServerPaths: []string{},
		CreatedAt:   w.now().UTC(),
	}
	files = append([]api.File(nil), files...)

	task, ctx := w.beginLocked(StageUpload, phase)
	go w.run(ctx, task, func(ctx context.Context) (func() (outcome, error), error) {
		var resp *api.UploadResponse
		var err error
		if kind == KindVideo {
			resp, err = w.transport.UploadVideos(ctx, files)
		} else {
			resp, err = w.transport.UploadImages(ctx, files, api.UploadOptions{GroundImage: kind == KindGroundImage})
		}
		if err != nil {
			return nil, err
		}

		return func() (outcome, error) {
			if len(resp.Paths) != batch.FileCount {
				return outcome{}, &api.ServerLogicError{
					Op:      "upload",
					Message: fmt.Sprintf("server returned %d paths for %d files", len(resp.Paths), batch.FileCount),
				}
			}
			batch.ServerPaths = append([]string(nil), resp.Paths...)
			w.cache.setBatch(batch)
			w.state = State{Phase: settled}

			summary := fmt.Sprintf("%d %s uploaded", batch.FileCount, noun)
			return outcome{
				entry: w.entryLocked(models.HistoryTypeUpload, summary),
				notes: []Notification{w.noteLocked(NotifySuccess, StageUpload, summary)},
			}, nil
		}, nil
	})
	return task, nil
}

// SubmitStitch stitches the uploaded image batch into one panorama
func (w *Workflow) SubmitStitch(opts StitchOptions) (*Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkIdleLocked(); err != nil {
		return nil, err
	}
	if err := ValidateTransition(w.state, PhaseStitching); err != nil {
		return nil, &ValidationError{Field: "state", Message: "upload images before stitching"}
	}
	batch := w.cache.batch
	if batch == nil || !batch.Kind.IsImage() {
		return nil, &ValidationError{Field: "batch", Message: "only image batches can be stitched"}
	}
	if len(batch.ServerPaths) == 0 {
		return nil, &ValidationError{Field: "batch", Message: "the uploaded batch has no server paths"}
	}

	req := api.StitchRequest{
		ImagePaths:      append([]string(nil), batch.ServerPaths...),
		TaskName:        opts.TaskName,
		Parameters:      opts.Parameters,
		UploadEventName: opts.UploadEventName,
	}
	w.cache.setStitch(&StitchResult{SourceBatchID: batch.ID, TaskName: opts.TaskName, Status: StatusPending})

	task, ctx := w.beginLocked(StageStitch, PhaseStitching)
	go w.run(ctx, task, func(ctx context.Context) (func() (outcome, error), error) {
		resp, err := w.transport.ProcessGroundImages(ctx, req)
		if err != nil {
			return nil, err
		}

		return func() (outcome, error) {
			result := w.cache.stitch
			result.Status = StatusSuccess
			result.TaskName = resp.TaskName
			result.StitchedImageRef = resp.StitchedImageRef
			w.state = State{Phase: PhaseStitched}

			return outcome{
				entry: w.entryLocked(models.HistoryTypeStitch, fmt.Sprintf("%d images stitched", len(req.ImagePaths))),
				notes: []Notification{w.noteLocked(NotifySuccess, StageStitch, "Stitching completed")},
			}, nil
		}, nil
	})
	return task, nil
}

// SubmitExtraction finds targets in the stitched image, or in the only image of a
// single-file batch
func (w *Workflow) SubmitExtraction(params ExtractionParams) (*Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkIdleLocked(); err != nil {
		return nil, err
	}
	if err := ValidateTransition(w.state, PhaseExtracting); err != nil {
		return nil, &ValidationError{Field: "state", Message: "upload or stitch an image before extracting targets"}
	}
	params, err := normalizeExtraction(params)
	if err != nil {
		return nil, err
	}

	batch := w.cache.batch
	if batch == nil || !batch.Kind.IsImage() {
		return nil, &ValidationError{Field: "batch", Message: "targets can only be extracted from images"}
	}
	ref, source := w.cache.stitchedRef(), SourceStitch
	if ref == "" {
		if len(batch.ServerPaths) != 1 {
			return nil, &ValidationError{Field: "image", Message: "stitch the uploaded images before extracting targets"}
		}
		ref, source = batch.ServerPaths[0], SourceBatch
	}

	req := api.ExtractRequest{
		ImageRef:       ref,
		TaskName:       params.TaskName,
		ImageType:      params.ImageType,
		ExtractionType: params.ExtractionType,
	}
	w.cache.setExtraction(&ExtractionResult{
		SourceRef:  ref,
		SourceKind: source,
		TaskName:   params.TaskName,
		Targets:    []api.Target{},
		Status:     StatusPending,
	})

	task, ctx := w.beginLocked(StageExtract, PhaseExtracting)
	go w.run(ctx, task, func(ctx context.Context) (func() (outcome, error), error) {
		resp, err := w.transport.ExtractTargets(ctx, req)
		if err != nil {
			return nil, err
		}

		return func() (outcome, error) {
			w.state = State{Phase: PhaseCompleted}
			return w.extractedLocked(StageExtract, resp.TaskName, resp.Targets, "No targets were found in the image"), nil
		}, nil
	})
	return task, nil
}

// SubmitVideoProcessing runs the video processor over the uploaded video with the
// annotated line
func (w *Workflow) SubmitVideoProcessing(params VideoParams) (*Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkIdleLocked(); err != nil {
		return nil, err
	}
	if err := ValidateLine(params.Line); err != nil {
		return nil, err
	}
	extraction, err := normalizeExtractionType(params.ExtractionType)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(w.state, PhaseVideoProcessing); err != nil {
		return nil, &ValidationError{Field: "state", Message: "upload a video before processing"}
	}
	batch := w.cache.batch
	if batch == nil || batch.Kind != KindVideo {
		return nil, &ValidationError{Field: "batch", Message: "the active batch is not a video"}
	}
	if len(batch.ServerPaths) != 1 {
		return nil, &ValidationError{Field: "batch", Message: "exactly one video is required"}
	}

	req := api.VideoRequest{
		VideoPath:      batch.ServerPaths[0],
		Line:           params.Line,
		TaskName:       params.TaskName,
		ExtractionType: extraction,
		Parameters:     params.Parameters,
	}
	w.cache.setExtraction(&ExtractionResult{
		SourceRef:  req.VideoPath,
		SourceKind: SourceBatch,
		TaskName:   params.TaskName,
		Targets:    []api.Target{},
		Status:     StatusPending,
	})

	task, ctx := w.beginLocked(StageVideo, PhaseVideoProcessing)
	go w.run(ctx, task, func(ctx context.Context) (func() (outcome, error), error) {
		resp, err := w.transport.ProcessGroundVideo(ctx, req)
		if err != nil {
			return nil, err
		}

		return func() (outcome, error) {
			w.state = State{Phase: PhaseVideoCompleted}
			return w.extractedLocked(StageVideo, resp.TaskName, resp.Results, "No targets were found in the video"), nil
		}, nil
	})
	return task, nil
}

// Busy reports whether a request or a resume holds the session
func (w *Workflow) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflight != nil
}

// Reset cancels any pending request, clears the session and returns to idle.
// The history ledger is not touched.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inflight != nil {
		w.inflight.cancel()
		w.inflight = nil
	}
	w.cache.clear()
	w.state = State{Phase: PhaseIdle}
	w.sessionID = w.newID()
}

// refSnapshot is the JSON stored in HistoryEntry.Ref
type refSnapshot struct {
	Batch      *UploadBatch      `json:"batch"`
	Stitch     *StitchResult     `json:"stitch,omitempty"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
}

// ResumeFromHistory loads the artifacts an entry references into the session.
// On any failure the active session is left as it was.
func (w *Workflow) ResumeFromHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if entry == nil {
		return &ResumeError{Reason: "no history entry given"}
	}

	w.mu.Lock()
	if err := w.checkIdleLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	task := newTask(string(StageResume)+"-"+w.newID(), w.sessionID, StageResume, cancel)
	w.inflight = task
	w.mu.Unlock()

	err := w.resume(ctx, task, entry)
	w.mu.Lock()
	if w.inflight == task {
		w.inflight = nil
	}
	w.mu.Unlock()
	task.finish(err, false)
	return err
}

// resume runs while task holds the in-flight slot, so no other request can touch the cache
func (w *Workflow) resume(ctx context.Context, task *Task, entry *models.HistoryEntry) error {
	snap, phase, err := decodeRef(entry)
	if err != nil {
		return w.resumeFailed(err)
	}

	refs := append([]string(nil), snap.Batch.ServerPaths...)
	if snap.Stitch != nil {
		refs = append(refs, snap.Stitch.StitchedImageRef)
	}
	for _, ref := range refs {
		ok, err := w.transport.PathExists(ctx, ref)
		if err != nil {
			return w.resumeFailed(&ResumeError{EntryID: entry.ID, Ref: ref, Reason: "could not verify artifact", Err: err})
		}
		if !ok {
			return w.resumeFailed(&ResumeError{EntryID: entry.ID, Ref: ref, Reason: "artifact is no longer available on the server"})
		}
	}

	w.mu.Lock()
	if w.inflight != task || w.sessionID != task.SessionID {
		w.mu.Unlock()
		return w.resumeFailed(&ResumeError{EntryID: entry.ID, Reason: "session changed while resuming"})
	}
	w.cache.load(snap.Batch, snap.Stitch, snap.Extraction)
	w.state = State{Phase: phase}
	w.sessionID = w.newID()
	note := w.noteLocked(NotifySuccess, "", fmt.Sprintf("Resumed from history: %s", entry.Summary))
	w.mu.Unlock()

	w.sink.Notify(note)
	return nil
}

func (w *Workflow) resumeFailed(err error) error {
	w.mu.Lock()
	note := w.noteLocked(NotifyError, "", err.Error())
	w.mu.Unlock()
	w.sink.Notify(note)
	return err
}

// decodeRef validates the reference of an entry and trims it to the entry's stage
func decodeRef(entry *models.HistoryEntry) (*refSnapshot, Phase, error) {
	fail := func(reason string, err error) (*refSnapshot, Phase, error) {
		return nil, "", &ResumeError{EntryID: entry.ID, Reason: reason, Err: err}
	}

	if len(entry.Ref) == 0 {
		return fail("history entry has no reference", nil)
	}
	var snap refSnapshot
	if err := json.Unmarshal(entry.Ref, &snap); err != nil {
		return fail("history reference is unreadable", err)
	}
	if snap.Batch == nil || len(snap.Batch.ServerPaths) == 0 {
		return fail("history reference has no uploaded files", nil)
	}

	phase, ok := phaseForEntry(entry.Type, snap.Batch.Kind)
	if !ok {
		return fail(fmt.Sprintf("cannot resume a %s entry for a %s batch", entry.Type, snap.Batch.Kind), nil)
	}

	switch entry.Type {
	case models.HistoryTypeUpload:
		snap.Stitch, snap.Extraction = nil, nil
	case models.HistoryTypeStitch:
		if snap.Stitch == nil || snap.Stitch.Status != StatusSuccess || snap.Stitch.StitchedImageRef == "" {
			return fail("history reference has no stitched image", nil)
		}
		snap.Extraction = nil
	case models.HistoryTypeExtract:
		if snap.Extraction == nil || (snap.Extraction.Status != StatusSuccess && snap.Extraction.Status != StatusEmpty) {
			return fail("history reference has no extraction result", nil)
		}
		if snap.Extraction.Targets == nil {
			snap.Extraction.Targets = []api.Target{}
		}
		if snap.Stitch != nil && snap.Stitch.Status != StatusSuccess {
			snap.Stitch = nil
		}
	}
	return &snap, phase, nil
}

// Await waits for a submitted task. If ctx ends first the session is reset.
func (w *Workflow) Await(ctx context.Context, task *Task) error {
	if err := task.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			w.Reset()
		}
		return err
	}
	return nil
}

// outcome is what a finished stage hands back for persistence and notification
type outcome struct {
	entry *models.HistoryEntry
	notes []Notification
}

func (w *Workflow) checkIdleLocked() error {
	if w.inflight != nil {
		return &ConcurrentRequestError{InFlight: w.inflight.Stage, TaskID: w.inflight.ID}
	}
	return nil
}

func (w *Workflow) beginLocked(stage Stage, phase Phase) (*Task, context.Context) {
	ctx, cancel := context.WithCancel(w.ctx)
	task := newTask(string(stage)+"-"+w.newID(), w.sessionID, stage, cancel)
	w.inflight = task
	w.state = State{Phase: phase}
	return task, ctx
}

// run performs call in the background and applies its result if the task still owns the session
func (w *Workflow) run(ctx context.Context, task *Task, call func(ctx context.Context) (func() (outcome, error), error)) {
	var apply func() (outcome, error)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic during %s: %v", task.Stage, r)
			}
		}()
		apply, err = call(ctx)
		return err
	}()

	w.mu.Lock()
	if w.inflight != task || w.sessionID != task.SessionID {
		w.mu.Unlock()
		log.Printf("Discarding late %s result for session %s", task.Stage, task.SessionID)
		task.finish(ErrDiscarded, true)
		return
	}

	var out outcome
	if err == nil {
		out, err = apply()
	}
	if err != nil {
		err = &StageError{Stage: task.Stage, Err: err}
		out = w.failLocked(task.Stage, err)
	}
	w.mu.Unlock()

	// The task stays in flight until its entry is stored so ledger order follows stage order
	if out.entry != nil && w.ledger != nil {
		if appendErr := w.ledger.Append(w.ctx, out.entry); appendErr != nil {
			log.Printf("Failed to record %s history: %v", task.Stage, appendErr)
			w.mu.Lock()
			out.notes = append(out.notes, w.noteLocked(NotifyWarning, task.Stage, "History could not be recorded"))
			w.mu.Unlock()
		}
	}

	w.mu.Lock()
	if w.inflight == task {
		w.inflight = nil
	}
	w.mu.Unlock()

	for _, n := range out.notes {
		w.sink.Notify(n)
	}
	task.finish(err, false)
}

// failLocked marks the pending result failed and moves to Error, keeping earlier artifacts
func (w *Workflow) failLocked(stage Stage, err error) outcome {
	detail := api.ServerMessage(err)
	if detail == "" {
		detail = err.Error()
	}

	switch stage {
	case StageStitch:
		if w.cache.stitch != nil {
			w.cache.stitch.Status = StatusFailed
			w.cache.stitch.ErrorMessage = detail
		}
	case StageExtract, StageVideo:
		if w.cache.extraction != nil {
			w.cache.extraction.Status = StatusFailed
			w.cache.extraction.ErrorMessage = detail
		}
	}

	w.state = State{Phase: PhaseError, FailedStage: stage, Resume: w.cache.settledPhase()}
	return outcome{notes: []Notification{w.noteLocked(NotifyError, stage, failureMessage(stage, err))}}
}

// extractedLocked stores a finished extraction; zero targets is an informational result
func (w *Workflow) extractedLocked(stage Stage, taskName string, targets []api.Target, emptyMessage string) outcome {
	result := w.cache.extraction
	result.TaskName = taskName
	result.Targets = append([]api.Target{}, targets...)

	kind, summary := NotifySuccess, fmt.Sprintf("%d targets found", len(targets))
	if len(targets) == 0 {
		result.Status = StatusEmpty
		kind, summary = NotifyInfo, emptyMessage
	} else {
		result.Status = StatusSuccess
	}

	return outcome{
		entry: w.entryLocked(models.HistoryTypeExtract, summary),
		notes: []Notification{w.noteLocked(kind, stage, summary)},
	}
}

// entryLocked snapshots the cache into a new history entry
func (w *Workflow) entryLocked(entryType, summary string) *models.HistoryEntry {
	batch, stitch, extraction := w.cache.snapshot()
	ref, err := json.Marshal(refSnapshot{Batch: batch, Stitch: stitch, Extraction: extraction})
	if err != nil {
		log.Printf("Failed to encode history reference: %v", err)
		ref = nil
	}
	return &models.HistoryEntry{
		Type:           entryType,
		RelatedBatchID: batch.ID,
		Summary:        summary,
		Ref:            datatypes.JSON(ref),
	}
}

func (w *Workflow) noteLocked(kind NotificationKind, stage Stage, message string) Notification {
	return Notification{
		Kind:      kind,
		Message:   message,
		Stage:     stage,
		SessionID: w.sessionID,
		Time:      w.now().UTC(),
	}
}

func failureMessage(stage Stage, err error) string {
	if msg := api.ServerMessage(err); msg != "" {
		return msg
	}
	var authErr *api.AuthError
	if errors.As(err, &authErr) {
		return "Authentication failed, please sign in again"
	}
	switch stage {
	case StageUpload:
		return "Upload failed"
	case StageStitch:
		return "Stitching failed"
	case StageExtract:
		return "Target extraction failed"
	case StageVideo:
		return "Video processing failed"
	}
	return "Request failed"
}
