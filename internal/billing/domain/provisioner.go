package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ErrPermanent marks provider failures that retrying cannot fix.
var ErrPermanent = errors.New("billing: permanent failure")

// CustomerRequest identifies the billing customer to create. The same
// IdempotencyKey must be sent on every attempt for one account.
type CustomerRequest struct {
	UserID         snowflake.ID
	EmailAddress   string
	IdempotencyKey string
}

// Provisioner creates billing customers and returns the provider's id.
type Provisioner interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
}

// Outbox defers provisioning for later backfill.
type Outbox interface {
	Defer(ctx context.Context, req CustomerRequest, cause error) error
}
