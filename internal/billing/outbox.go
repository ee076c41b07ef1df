package billing

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entrance/internal/billing/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) domain.Outbox {
	return &outbox{db: db, genID: genID}
}

// Defer records a pending provisioning request. Deferring the same
// idempotency key twice is a no-op.
func (o *outbox) Defer(ctx context.Context, req domain.CustomerRequest, cause error) error {
	dedupe := req.IdempotencyKey
	event := &domain.BillingEvent{
		ID:        o.genID.Generate(),
		UserID:    req.UserID,
		EventType: domain.EventUserBillingPending,
		Payload: datatypes.JSONMap{
			"user_id":         req.UserID.String(),
			"email_address":   req.EmailAddress,
			"idempotency_key": req.IdempotencyKey,
		},
		DedupeKey: &dedupe,
	}
	if cause != nil {
		event.LastError = cause.Error()
	}

	var existing int64
	if err := o.db.WithContext(ctx).
		Model(&domain.BillingEvent{}).
		Where("user_id = ? AND dedupe_key = ?", req.UserID, dedupe).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	return o.db.WithContext(ctx).Create(event).Error
}
