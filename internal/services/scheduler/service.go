package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // job timezones must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/r254650549/rural-demo/internal/api"
	"github.com/r254650549/rural-demo/internal/models"
	"github.com/r254650549/rural-demo/internal/services/workflow"
)

// ErrNothingToDo is returned by a run that found no new input files
var ErrNothingToDo = errors.New("no input files to process")

// SessionFactory creates a fresh workflow session for one job run
type SessionFactory func(ctx context.Context) (*workflow.Workflow, error)

// Service handles scheduled job management and execution
type Service struct {
	db       *gorm.DB
	ctx      context.Context
	cron     *cron.Cron
	jobs     map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu   sync.RWMutex
	sessions SessionFactory
	timeout  time.Duration
}

// NewService creates a new scheduler service
func NewService(db *gorm.DB, ctx context.Context, sessions SessionFactory) *Service {
	// Create cron scheduler with seconds support
	c := cron.New(cron.WithSeconds())

	return &Service{
		db:       db,
		ctx:      ctx,
		cron:     c,
		jobs:     make(map[string]cron.EntryID),
		sessions: sessions,
		timeout:  30 * time.Minute,
	}
}

// Start starts the cron scheduler and loads enabled jobs from database
func (s *Service) Start() error {
	log.Println("Starting scheduler...")

	s.cron.Start()
	log.Println("Cron scheduler started")

	var jobs []models.ScheduledJob
	if err := s.db.Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if err := s.scheduleJob(job); err != nil {
			log.Printf("WARNING: Failed to schedule job %s (%s): %v", job.Name, job.ID, err)
		} else {
			log.Printf("Scheduled job: %s (%s) with cron: %s", job.Name, job.ID, job.Cron)
		}
	}

	log.Printf("Scheduler started with %d enabled jobs", len(jobs))
	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		log.Println("Scheduler stopped")
	}
}

// ListJobs retrieves all scheduled jobs
func (s *Service) ListJobs() ([]JobListResponse, error) {
	var jobs []models.ScheduledJob
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i := range jobs {
		responses[i] = toJobListResponse(&jobs[i])
	}

	return responses, nil
}

// UpsertJob creates or updates a scheduled job
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	if req.Name == "" || req.JobType == "" || req.Cron == "" {
		return "", fmt.Errorf("name, job_type, and cron are required")
	}

	// Normalize and validate cron expression (convert 5-field to 6-field)
	normalizedCron, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}
	req.Cron = normalizedCron

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", req.Timezone, err)
	}

	payloadStr, err := encodePayload(req.Payload)
	if err != nil {
		return "", err
	}
	if err := validatePayload(req.JobType, payloadStr); err != nil {
		return "", err
	}

	var job models.ScheduledJob
	result := s.db.Where("name = ?", req.Name).First(&job)
	creating := errors.Is(result.Error, gorm.ErrRecordNotFound)
	if result.Error != nil && !creating {
		return "", fmt.Errorf("failed to query job: %w", result.Error)
	}

	job.Name = req.Name
	job.JobType = req.JobType
	job.Cron = req.Cron
	job.Timezone = req.Timezone
	job.Enabled = req.Enabled
	job.Payload = payloadStr

	nextRun, err := nextRunAfter(&job, time.Now())
	if err != nil {
		return "", err
	}
	job.NextRunAt = &nextRun

	if creating {
		if err := s.db.Create(&job).Error; err != nil {
			return "", fmt.Errorf("failed to create job: %w", err)
		}
	} else {
		if err := s.db.Save(&job).Error; err != nil {
			return "", fmt.Errorf("failed to update job: %w", err)
		}
	}

	if err := s.rescheduleJob(job.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}

	return job.ID, nil
}

// DeleteJob removes a scheduled job
func (s *Service) DeleteJob(jobID string) error {
	s.unschedule(jobID)

	if err := s.db.Delete(&models.ScheduledJob{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// RunJob executes a job immediately and records the outcome on the job row
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	// Files are only skipped once a run has handled them
	since := job.LastSuccessAt
	now := time.Now()
	job.LastRunAt = &now
	if nextRun, err := nextRunAfter(&job, now); err != nil {
		log.Printf("WARNING: Failed to parse cron for next run: %v", err)
	} else {
		job.NextRunAt = &nextRun
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var runErr error
	switch job.JobType {
	case models.JobTypeImagePipeline:
		runErr = s.runImagePipeline(runCtx, job.Payload, since)
	case models.JobTypeVideoPipeline:
		runErr = s.runVideoPipeline(runCtx, job.Payload)
	default:
		runErr = fmt.Errorf("unknown job type: %s", job.JobType)
	}

	job.LastError = ""
	if runErr == nil || errors.Is(runErr, ErrNothingToDo) {
		job.LastSuccessAt = &now
	} else {
		job.LastError = runErr.Error()
	}
	if err := s.db.Save(&job).Error; err != nil {
		log.Printf("WARNING: Failed to update job run times: %v", err)
	}

	return runErr
}

// scheduleJob adds a job to the cron scheduler
func (s *Service) scheduleJob(job *models.ScheduledJob) error {
	s.unschedule(job.ID)
	if !job.Enabled {
		return nil
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(cronSpec(job), func() {
		s.executeJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = entryID
	s.jobsMu.Unlock()

	return nil
}

func (s *Service) unschedule(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if entryID, exists := s.jobs[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
}

// rescheduleJob reloads a job from database and reschedules it
func (s *Service) rescheduleJob(jobID string) error {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.unschedule(jobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	return s.scheduleJob(&job)
}

// executeJob is the cron callback
func (s *Service) executeJob(jobID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic in scheduled job %s: %v", jobID, r)
		}
	}()

	log.Printf("Executing scheduled job: %s", jobID)
	if err := s.RunJob(s.ctx, jobID); err != nil {
		if errors.Is(err, ErrNothingToDo) {
			log.Printf("Scheduled job %s: %v", jobID, err)
			return
		}
		log.Printf("ERROR: Scheduled job %s failed: %v", jobID, err)
		return
	}
	log.Printf("Completed scheduled job: %s", jobID)
}

func (s *Service) runImagePipeline(ctx context.Context, payloadStr string, since *time.Time) error {
	var payload ImagePipelinePayload
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		return fmt.Errorf("failed to parse job payload: %w", err)
	}

	var cutoff *time.Time
	if payload.OnlyNew {
		cutoff = since
	}
	files, err := CollectFiles(payload.Directory, payload.Pattern, cutoff)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ErrNothingToDo
	}

	session, err := s.sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to open workflow session: %w", err)
	}

	log.Printf("Running image pipeline over %d files from %s", len(files), payload.Directory)
	snap, err := workflow.RunImagePipeline(ctx, session, files, workflow.PipelineOptions{
		Kind:           workflow.BatchKind(payload.Kind),
		Stitch:         workflow.StitchOptions{TaskName: payload.TaskName},
		Extraction:     workflow.ExtractionParams{TaskName: payload.TaskName, ImageType: payload.ImageType, ExtractionType: payload.ExtractionType},
		AlwaysStitch:   payload.AlwaysStitch,
		SkipExtraction: payload.SkipExtraction,
	})
	if err != nil {
		return err
	}
	if snap.Extraction != nil {
		log.Printf("Image pipeline finished: %d targets (%s)", len(snap.Extraction.Targets), snap.Extraction.Status)
	}
	return nil
}

func (s *Service) runVideoPipeline(ctx context.Context, payloadStr string) error {
	var payload VideoPipelinePayload
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		return fmt.Errorf("failed to parse job payload: %w", err)
	}

	session, err := s.sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to open workflow session: %w", err)
	}

	snap, err := workflow.RunVideoPipeline(ctx, session, api.File{Path: payload.VideoPath}, workflow.VideoParams{
		Line:           payload.Line,
		TaskName:       payload.TaskName,
		ExtractionType: payload.ExtractionType,
		Parameters:     payload.Parameters,
	})
	if err != nil {
		return err
	}
	if snap.Extraction != nil {
		log.Printf("Video pipeline finished: %d results (%s)", len(snap.Extraction.Targets), snap.Extraction.Status)
	}
	return nil
}

// CollectFiles lists directory entries matching pattern, optionally only those modified after since
func CollectFiles(dir, pattern string, since *time.Time) ([]api.File, error) {
	if pattern == "" {
		pattern = "*.jpg"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	var files []api.File
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if since != nil && !info.ModTime().After(*since) {
			continue
		}
		files = append(files, api.File{Path: path, Name: filepath.Base(path)})
	}
	return files, nil
}

func encodePayload(payload interface{}) (string, error) {
	switch p := payload.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		return string(data), nil
	}
}

// validatePayload rejects payloads a run could never execute
func validatePayload(jobType, payloadStr string) error {
	switch jobType {
	case models.JobTypeImagePipeline:
		var p ImagePipelinePayload
		if err := json.Unmarshal([]byte(payloadStr), &p); err != nil {
			return fmt.Errorf("invalid image pipeline payload: %w", err)
		}
		if p.Directory == "" {
			return fmt.Errorf("image pipeline payload requires a directory")
		}
		if p.Kind != "" && !workflow.BatchKind(p.Kind).IsImage() {
			return fmt.Errorf("image pipeline kind must be image or ground-image")
		}
		if p.Pattern != "" {
			if _, err := filepath.Match(p.Pattern, ""); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", p.Pattern, err)
			}
		}
	case models.JobTypeVideoPipeline:
		var p VideoPipelinePayload
		if err := json.Unmarshal([]byte(payloadStr), &p); err != nil {
			return fmt.Errorf("invalid video pipeline payload: %w", err)
		}
		if p.VideoPath == "" {
			return fmt.Errorf("video pipeline payload requires a video_path")
		}
		if err := workflow.ValidateLine(p.Line); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown job type: %s", jobType)
	}
	return nil
}

// cronSpec prefixes the stored expression with its timezone
func cronSpec(job *models.ScheduledJob) string {
	if job.Timezone == "" || job.Timezone == "UTC" {
		return job.Cron
	}
	return "CRON_TZ=" + job.Timezone + " " + job.Cron
}

func nextRunAfter(job *models.ScheduledJob, from time.Time) (time.Time, error) {
	// The cron parser uses the 6-field format stored in DB
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cronSpec(job))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	return schedule.Next(from), nil
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 6-field cron expression: %w", err)
		}
		return cronExpr, nil
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// Prepend seconds (0 = run at 0 seconds of the minute)
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}

func toJobListResponse(job *models.ScheduledJob) JobListResponse {
	resp := JobListResponse{
		ID:        job.ID,
		Name:      job.Name,
		JobType:   job.JobType,
		Cron:      job.Cron,
		Timezone:  job.Timezone,
		Enabled:   job.Enabled,
		Payload:   job.Payload,
		LastError: job.LastError,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}

	if job.LastSuccessAt != nil {
		lastSuccess := job.LastSuccessAt.Format(time.RFC3339)
		resp.LastSuccessAt = &lastSuccess
	}

	if job.NextRunAt != nil {
		nextRun := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &nextRun
	}

	return resp
}
