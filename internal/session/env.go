// Package session wires configuration, storage, credentials and the transport into
// ready-to-use workflow sessions for the desktop shell, the CLI and the scheduler.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/r254650549/rural-demo/internal/api"
	"github.com/r254650549/rural-demo/internal/auth"
	"github.com/r254650549/rural-demo/internal/config"
	"github.com/r254650549/rural-demo/internal/crypto"
	"github.com/r254650549/rural-demo/internal/database"
	"github.com/r254650549/rural-demo/internal/models"
	"github.com/r254650549/rural-demo/internal/services/history"
	"github.com/r254650549/rural-demo/internal/services/scheduler"
	"github.com/r254650549/rural-demo/internal/services/workflow"
	"gorm.io/gorm"
)

// DefaultOwner scopes the history when no profile names the operator
const DefaultOwner = "local"

// Env holds the long-lived collaborators shared by every workflow session.
// The client, ledger and profile are swapped together when the profile changes.
type Env struct {
	Config *config.Config
	DB     *gorm.DB

	mu          sync.RWMutex
	profileName string
	client      *api.Client
	ledger      *history.Ledger
	profile     *models.ServerProfile // nil when no profile is configured
}

// Open initializes encryption and the database, resolves the active profile and builds
// the transport client and the history ledger.
func Open(ctx context.Context, cfg *config.Config) (*Env, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	if err := crypto.InitEncryption(); err != nil {
		// Tokens can still come from the environment
		log.Printf("WARNING: Encryption initialization failed, stored profiles are unavailable: %v", err)
	}

	db, err := database.Init(cfg.DatabaseURL, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	env := &Env{Config: cfg, DB: db}
	if err := env.resolve(ctx, cfg.Profile); err != nil {
		database.Close()
		return nil, err
	}
	return env, nil
}

// Reload re-reads the active profile after it was changed
func (e *Env) Reload(ctx context.Context) error {
	e.mu.RLock()
	name := e.profileName
	e.mu.RUnlock()
	return e.resolve(ctx, name)
}

// SelectProfile makes name the active profile. Sessions already handed out keep the
// client and ledger they were built with.
func (e *Env) SelectProfile(ctx context.Context, name string) error {
	return e.resolve(ctx, name)
}

func (e *Env) resolve(ctx context.Context, name string) error {
	baseURL := e.Config.APIBaseURL
	owner := DefaultOwner
	var selected *models.ServerProfile

	if name != "" {
		profile, err := auth.LoadProfile(ctx, e.DB, name)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if profile != nil {
			selected = profile
			baseURL = profile.BaseURL
			owner = profile.Username
		} else {
			log.Printf("WARNING: Profile %q not found, using %s", name, baseURL)
		}
	}

	creds := auth.Chain{auth.EnvProvider{}, auth.NewProfileProvider(e.DB, name)}
	client := api.NewClient(baseURL, creds, e.Config)
	ledger := history.NewLedger(e.DB, owner, e.Config.History.PageSize)

	e.mu.Lock()
	e.profileName = name
	e.profile = selected
	e.client = client
	e.ledger = ledger
	e.mu.Unlock()

	log.Printf("Using server %s as %s", baseURL, owner)
	return nil
}

// Client returns the transport client of the active profile
func (e *Env) Client() *api.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Ledger returns the history ledger of the active operator
func (e *Env) Ledger() *history.Ledger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger
}

// Profile returns the active profile, or nil when running from configuration only
func (e *Env) Profile() *models.ServerProfile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

// NewSession starts an idle workflow bound to ctx
func (e *Env) NewSession(ctx context.Context, sink workflow.Sink) *workflow.Workflow {
	e.mu.RLock()
	client, ledger := e.client, e.ledger
	e.mu.RUnlock()
	return workflow.New(ctx, client, ledger, sink)
}

// Sessions adapts NewSession for the scheduler
func (e *Env) Sessions(sink workflow.Sink) scheduler.SessionFactory {
	return func(ctx context.Context) (*workflow.Workflow, error) {
		return e.NewSession(ctx, sink), nil
	}
}

// Scheduler builds a scheduler service whose runs share this Env
func (e *Env) Scheduler(ctx context.Context, sink workflow.Sink) *scheduler.Service {
	return scheduler.NewService(e.DB, ctx, e.Sessions(sink))
}

// Close releases the database
func (e *Env) Close() error {
	return database.Close()
}
