package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/r254650549/rural-demo/internal/api"
	"github.com/r254650549/rural-demo/internal/auth"
	"github.com/r254650549/rural-demo/internal/config"
	"github.com/r254650549/rural-demo/internal/models"
	"github.com/r254650549/rural-demo/internal/services/scheduler"
	"github.com/r254650549/rural-demo/internal/services/workflow"
	"github.com/r254650549/rural-demo/internal/session"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Frontend event carrying workflow notifications
const notifyEvent = "workflow:notify"

// App struct - main application state
type App struct {
	ctx              context.Context
	cfg              *config.Config
	env              *session.Env
	sink             workflow.Sink
	workflowMu       sync.Mutex
	workflow         *workflow.Workflow
	schedulerService *scheduler.Service
}

// NewApp creates a new App application struct
func NewApp(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// eventSink forwards notifications to the frontend event bus
type eventSink struct {
	ctx context.Context
}

func (s eventSink) Notify(n workflow.Notification) {
	runtime.EventsEmit(s.ctx, notifyEvent, n)
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	log.Println("Application starting up...")

	env, err := session.Open(ctx, a.cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	a.env = env

	a.sink = workflow.MultiSink{workflow.LogSink{}, eventSink{ctx: ctx}}
	a.workflow = env.NewSession(ctx, a.sink)
	log.Println("Workflow session initialized")

	a.schedulerService = env.Scheduler(ctx, workflow.LogSink{})
	if err := a.schedulerService.Start(); err != nil {
		log.Printf("WARNING: Failed to start scheduler: %v", err)
	} else {
		log.Println("Scheduler service initialized and started")
	}

	log.Println("Startup complete")
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	log.Println("Application shutting down...")

	if wf := a.current(); wf != nil {
		wf.Reset()
	}

	// Stop scheduler
	if a.schedulerService != nil {
		a.schedulerService.Stop()
	}

	if a.env != nil {
		if err := a.env.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	log.Println("Shutdown complete")
}

func (a *App) current() *workflow.Workflow {
	a.workflowMu.Lock()
	defer a.workflowMu.Unlock()
	return a.workflow
}

// ====================================================================================
// WAILS-BOUND METHODS - Exposed to Frontend
// ====================================================================================

// Profile Management Methods

// SaveProfile stores a server profile and makes it the active one
func (a *App) SaveProfile(req SaveProfileRequest) (*models.ServerProfile, error) {
	profile, err := auth.SaveProfile(a.ctx, a.env.DB, req.Name, req.BaseURL, req.Username, req.Token)
	if err != nil {
		return nil, err
	}
	if err := a.SelectProfile(profile.Name); err != nil {
		return nil, err
	}
	return profile, nil
}

// SelectProfile switches server and operator. The active session is replaced, so nothing
// from the previous server can leak into requests to the new one.
func (a *App) SelectProfile(name string) error {
	if _, err := auth.LoadProfile(a.ctx, a.env.DB, name); err != nil {
		return err
	}

	a.workflowMu.Lock()
	defer a.workflowMu.Unlock()
	if a.workflow.Busy() {
		return errors.New("wait for the running request to finish before switching profiles")
	}

	if err := a.env.SelectProfile(a.ctx, name); err != nil {
		return err
	}
	a.workflow.Reset()
	a.workflow = a.env.NewSession(a.ctx, a.sink)
	log.Printf("Selected profile: %s", name)
	return nil
}

// GetSelectedProfile returns the active profile, or nil when running from configuration only
func (a *App) GetSelectedProfile() *models.ServerProfile {
	return a.env.Profile()
}

// Workflow Methods

// UploadImages uploads files from disk as a new batch and returns the task id
func (a *App) UploadImages(paths []string, groundImage bool) (string, error) {
	kind := workflow.KindImage
	if groundImage {
		kind = workflow.KindGroundImage
	}
	return taskID(a.current().SubmitUpload(filesFromPaths(paths), kind))
}

// UploadVideo uploads one video file and returns the task id
func (a *App) UploadVideo(path string) (string, error) {
	return taskID(a.current().SubmitUpload(filesFromPaths([]string{path}), workflow.KindVideo))
}

// StitchImages stitches the uploaded batch
func (a *App) StitchImages(opts workflow.StitchOptions) (string, error) {
	return taskID(a.current().SubmitStitch(opts))
}

// ExtractTargets runs target extraction on the stitched image
func (a *App) ExtractTargets(params workflow.ExtractionParams) (string, error) {
	return taskID(a.current().SubmitExtraction(params))
}

// ProcessVideo processes the uploaded video against the annotated line
func (a *App) ProcessVideo(params workflow.VideoParams) (string, error) {
	return taskID(a.current().SubmitVideoProcessing(params))
}

// GetWorkflowSnapshot returns the state and cached stage results
func (a *App) GetWorkflowSnapshot() workflow.Snapshot {
	return a.current().Snapshot()
}

// ResetWorkflow abandons the session; late results are discarded
func (a *App) ResetWorkflow() {
	a.current().Reset()
}

// History Methods

// ListHistory returns the newest entries first
func (a *App) ListHistory(limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10 // Default to 10 most recent entries
	}
	return a.env.Ledger().Recent(a.ctx, limit)
}

// ResumeFromHistory restores the session from a history entry
func (a *App) ResumeFromHistory(entryID string) (workflow.Snapshot, error) {
	wf := a.current()
	entry, err := a.env.Ledger().Get(a.ctx, entryID)
	if err != nil {
		return wf.Snapshot(), err
	}
	if err := wf.ResumeFromHistory(a.ctx, entry); err != nil {
		return wf.Snapshot(), err
	}
	return wf.Snapshot(), nil
}

// ExportHistory writes the operator's history to path and returns the number of entries
func (a *App) ExportHistory(path, format string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := a.env.Ledger().Export(a.ctx, f, format)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	log.Printf("Exported %d history entries to %s", n, path)
	return n, nil
}

// ====================================================================================
// SCHEDULER SERVICE OPERATIONS
// ====================================================================================

// ListScheduledJobs retrieves all scheduled jobs
func (a *App) ListScheduledJobs() ([]scheduler.JobListResponse, error) {
	return a.schedulerService.ListJobs()
}

// UpsertScheduledJob creates or updates a scheduled job
func (a *App) UpsertScheduledJob(req scheduler.UpsertJobRequest) (string, error) {
	return a.schedulerService.UpsertJob(req)
}

// DeleteScheduledJob removes a scheduled job
func (a *App) DeleteScheduledJob(jobID string) error {
	return a.schedulerService.DeleteJob(jobID)
}

// RunScheduledJob executes a scheduled job now, in the background
func (a *App) RunScheduledJob(jobID string) {
	go func() {
		if err := a.schedulerService.RunJob(a.ctx, jobID); err != nil {
			a.sink.Notify(workflow.Notification{Kind: workflow.NotifyError, Message: err.Error(), Time: time.Now()})
		}
	}()
}

// ====================================================================================
// REQUEST/RESPONSE TYPES
// ====================================================================================

// SaveProfileRequest represents a request to create/update a server profile
type SaveProfileRequest struct {
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Token    string `json:"token"` // Plain text, will be encrypted; empty keeps the stored one
}

func filesFromPaths(paths []string) []api.File {
	files := make([]api.File, len(paths))
	for i, p := range paths {
		files[i] = api.File{Path: p}
	}
	return files
}

func taskID(task *workflow.Task, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return task.ID, nil
}
