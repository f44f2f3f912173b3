// Package auth supplies bearer tokens to the transport client.
// Providers are injected at construction; nothing here reads global mutable state except
// the process environment for EnvProvider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/r254650549/rural-demo/internal/crypto"
	"github.com/r254650549/rural-demo/internal/models"
	"gorm.io/gorm"
)

// ErrNoCredential means no provider could produce a token
var ErrNoCredential = errors.New("no credential available")

// Provider yields the bearer token to attach to a request
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// StaticProvider returns a fixed token
type StaticProvider string

func (p StaticProvider) Token(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(p)) == "" {
		return "", ErrNoCredential
	}
	return string(p), nil
}

// EnvProvider reads the token from an environment variable on every call
type EnvProvider struct {
	Key string
}

// DefaultEnvKey is the variable EnvProvider reads when Key is empty
const DefaultEnvKey = "RURAL_API_TOKEN"

func (p EnvProvider) Token(ctx context.Context) (string, error) {
	key := p.Key
	if key == "" {
		key = DefaultEnvKey
	}
	token := strings.TrimSpace(os.Getenv(key))
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// ProfileProvider decrypts the token stored in a named server profile
type ProfileProvider struct {
	db   *gorm.DB
	name string
}

// NewProfileProvider creates a provider bound to the profile with the given name
func NewProfileProvider(db *gorm.DB, name string) *ProfileProvider {
	return &ProfileProvider{db: db, name: name}
}

func (p *ProfileProvider) Token(ctx context.Context) (string, error) {
	if p.name == "" {
		return "", ErrNoCredential
	}

	var profile models.ServerProfile
	if err := p.db.WithContext(ctx).Where("name = ?", p.name).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("profile %q not found: %w", p.name, ErrNoCredential)
		}
		return "", fmt.Errorf("failed to load profile: %w", err)
	}

	if profile.TokenEnc == "" {
		return "", ErrNoCredential
	}

	token, err := crypto.DecryptToken(profile.TokenEnc)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return token, nil
}

// Chain tries providers in order and returns the first token found.
// Errors other than ErrNoCredential stop the search.
type Chain []Provider

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		token, err := p.Token(ctx)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrNoCredential) {
			return "", err
		}
	}
	return "", ErrNoCredential
}

// SaveProfile creates or updates a server profile, encrypting the token
func SaveProfile(ctx context.Context, db *gorm.DB, name, baseURL, username, token string) (*models.ServerProfile, error) {
	if name == "" || baseURL == "" || username == "" {
		return nil, errors.New("name, base URL and username are required")
	}
	if !crypto.IsInitialized() {
		return nil, errors.New("encryption system not initialized - cannot save profiles")
	}

	var profile models.ServerProfile
	err := db.WithContext(ctx).Where("name = ?", name).First(&profile).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	profile.Name = name
	profile.BaseURL = strings.TrimRight(baseURL, "/")
	profile.Username = username

	if token != "" {
		enc, err := crypto.EncryptToken(token)
		if err != nil {
			return nil, err
		}
		profile.TokenEnc = enc
	}

	if err := db.WithContext(ctx).Save(&profile).Error; err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return &profile, nil
}

// LoadProfile fetches a profile by name
func LoadProfile(ctx context.Context, db *gorm.DB, name string) (*models.ServerProfile, error) {
	var profile models.ServerProfile
	if err := db.WithContext(ctx).Where("name = ?", name).First(&profile).Error; err != nil {
		return nil, fmt.Errorf("profile not found: %w", err)
	}
	return &profile, nil
}
