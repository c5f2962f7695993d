package models

import "time"

// Audit outcomes.
const (
	AuditStatusSuccess = "SUCCESS"
	AuditStatusFailure = "FAILURE"
)

// SystemActor is recorded when no authenticated identity is present.
const SystemActor = "SYSTEM"

// AuditLog is an append-only record of one audited operation. The application never
// updates or deletes these rows.
type AuditLog struct {
	ID           uint      `json:"-" gorm:"primaryKey"`
	EventID      string    `json:"eventId" gorm:"uniqueIndex;not null"`
	UserID       *uint     `json:"userId,omitempty" gorm:"index"`
	Username     string    `json:"username" gorm:"index;not null;default:'SYSTEM'"`
	Action       string    `json:"action" gorm:"index;not null"`
	EntityType   string    `json:"entityType" gorm:"index"`
	EntityID     *string   `json:"entityId,omitempty"`
	Description  string    `json:"description"`
	OldValues    string    `json:"oldValues,omitempty" gorm:"type:text"`
	NewValues    string    `json:"newValues,omitempty" gorm:"type:text"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	Status       string    `json:"status" gorm:"index;not null"`
	ErrorMessage string    `json:"errorMessage,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"createdAt" gorm:"index"`
}
