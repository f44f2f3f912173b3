package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ServerProfile is an imagery-processing server plus the operator's credential for it
type ServerProfile struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	BaseURL   string    `gorm:"not null;column:base_url" json:"base_url"`
	Username  string    `gorm:"not null" json:"username"`           // scopes the process history
	TokenEnc  string    `gorm:"not null;column:token_enc" json:"-"` // Encrypted bearer token, never expose in JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (sp *ServerProfile) BeforeCreate(tx *gorm.DB) error {
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (ServerProfile) TableName() string {
	return "server_profiles"
}
