package billingprovisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/entrance/internal/auth/domain"
	"github.com/smallbiznis/entrance/internal/auth/repository"
	billingdomain "github.com/smallbiznis/entrance/internal/billing/domain"
	"github.com/smallbiznis/entrance/internal/clock"
	obsmetrics "github.com/smallbiznis/entrance/internal/observability/metrics"
	"github.com/smallbiznis/entrance/internal/ratelimit"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	batchSize   = 50
	maxAttempts = 10
	lockTTL     = time.Minute
	keyUserLock = "billing:backfill:%s"
)

type locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Consumer provisions billing customers for accounts whose signup could not
// reach the billing provider.
type Consumer struct {
	db          *gorm.DB
	log         *zap.Logger
	users       authdomain.Repository
	usersIn     func(tx *gorm.DB) authdomain.Repository
	provisioner billingdomain.Provisioner
	locker      locker
	clock       clock.Clock
	metrics     *obsmetrics.Metrics
}

func NewConsumer(
	db *gorm.DB,
	log *zap.Logger,
	users authdomain.Repository,
	provisioner billingdomain.Provisioner,
	lock *ratelimit.Locker,
	clk clock.Clock,
	metrics *obsmetrics.Metrics,
) *Consumer {
	c := &Consumer{
		db:          db,
		log:         log.Named("billing.provisioning"),
		users:       users,
		usersIn:     txUsers,
		provisioner: provisioner,
		clock:       clk,
		metrics:     metrics,
	}
	if lock != nil {
		c.locker = lock
	}
	return c
}

func txUsers(tx *gorm.DB) authdomain.Repository {
	users, _ := repository.New(tx)
	return users
}

type eventRow struct {
	ID       snowflake.ID   `gorm:"column:id"`
	UserID   snowflake.ID   `gorm:"column:user_id"`
	Payload  datatypes.JSON `gorm:"column:payload"`
	Attempts int            `gorm:"column:attempts"`
}

type billingPendingPayload struct {
	UserID         string `json:"user_id"`
	EmailAddress   string `json:"email_address"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (c *Consumer) ProcessPending(ctx context.Context) error {
	var events []eventRow
	err := c.db.WithContext(ctx).Raw(
		`SELECT id, user_id, payload, attempts FROM billing_events
		 WHERE event_type = ? AND published = ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		billingdomain.EventUserBillingPending,
		false,
		batchSize,
	).Scan(&events).Error
	if err != nil {
		return err
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.processEvent(ctx, event); err != nil {
			c.log.Error("failed to provision billing customer", zap.Error(err), zap.String("user_id", event.UserID.String()))
		}
	}

	return nil
}

func (c *Consumer) processEvent(ctx context.Context, event eventRow) error {
	if c.locker != nil {
		key := fmt.Sprintf(keyUserLock, event.UserID.String())
		token, ok, err := c.locker.TryLock(ctx, key, lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			c.metrics.RecordBackfill(ctx, "locked")
			return nil
		}
		defer func() {
			if err := c.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				c.log.Warn("failed to release backfill lock", zap.Error(err))
			}
		}()
	}

	var payload billingPendingPayload
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return c.giveUp(ctx, event, fmt.Errorf("decode payload: %w", err))
	}

	user, err := c.users.FindByID(ctx, event.UserID)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		return c.giveUp(ctx, event, err)
	}
	if err != nil {
		return err
	}

	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		c.metrics.RecordBackfill(ctx, "already_provisioned")
		return c.markPublished(ctx, event.ID, "")
	}

	customerID, err := c.provisioner.CreateCustomer(ctx, billingdomain.CustomerRequest{
		UserID:         user.ID,
		EmailAddress:   user.EmailAddress,
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, billingdomain.ErrPermanent) || event.Attempts+1 >= maxAttempts {
			return c.giveUp(ctx, event, err)
		}
		c.metrics.RecordBackfill(ctx, "retry")
		return c.recordFailure(ctx, event.ID, err)
	}

	// The customer id and the published flag commit together.
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.usersIn(tx).SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
			return fmt.Errorf("store customer id: %w", err)
		}
		return c.publish(tx, event.ID, "")
	})
	if err != nil {
		return err
	}

	c.metrics.RecordBackfill(ctx, "success")
	c.log.Info("billing customer backfilled", zap.String("user_id", user.ID.String()))
	return nil
}

func (c *Consumer) giveUp(ctx context.Context, event eventRow, cause error) error {
	c.metrics.RecordBackfill(ctx, "abandoned")
	c.log.Error("abandoning billing backfill",
		zap.String("user_id", event.UserID.String()),
		zap.Int("attempts", event.Attempts+1),
		zap.Error(cause),
	)
	return c.markPublished(ctx, event.ID, cause.Error())
}

func (c *Consumer) recordFailure(ctx context.Context, eventID snowflake.ID, cause error) error {
	return c.db.WithContext(ctx).Exec(
		`UPDATE billing_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		cause.Error(),
		eventID,
	).Error
}

func (c *Consumer) markPublished(ctx context.Context, eventID snowflake.ID, lastError string) error {
	return c.publish(c.db.WithContext(ctx), eventID, lastError)
}

func (c *Consumer) publish(tx *gorm.DB, eventID snowflake.ID, lastError string) error {
	return tx.Exec(
		`UPDATE billing_events
		 SET published = ?, published_at = ?, attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND published = ?`,
		true,
		c.clock.Now(),
		lastError,
		eventID,
		false,
	).Error
}
