package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventUserBillingPending marks an account whose billing customer could not
// be created during signup.
const EventUserBillingPending = "user.billing_pending"

// BillingEvent captures outbox events for billing workflows.
type BillingEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	UserID      snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_billing_event_dedupe,priority:1"`
	EventType   string            `gorm:"type:varchar(64);not null"`
	Payload     datatypes.JSONMap `gorm:"not null"`
	DedupeKey   *string           `gorm:"type:varchar(128);uniqueIndex:ux_billing_event_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time
	Attempts    int       `gorm:"not null;default:0"`
	LastError   string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }
