package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Append-only record of a sensitive action. The caller identity is stored masked only.
type AuditLog struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Timestamp      time.Time `gorm:"index;not null" json:"timestamp"`
	MaskedIdentity string    `gorm:"size:64;index;not null" json:"masked_identity"`
	Action         string    `gorm:"size:64;index;not null" json:"action"`
	Details        string    `gorm:"size:512" json:"details"`
	Success        bool      `gorm:"index" json:"success"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (AuditLog) TableName() string {
	return "audit_log"
}
