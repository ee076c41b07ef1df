package billing

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/entrance/internal/billing/domain"
	"go.uber.org/zap"
)

const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultMaxAttempts    = 3
)

// RetryingProvisioner bounds each provider call with a timeout and retries
// transient failures with exponential backoff.
type RetryingProvisioner struct {
	next           domain.Provisioner
	log            *zap.Logger
	attemptTimeout time.Duration
	maxAttempts    uint
	newBackOff     func() backoff.BackOff
}

func NewRetryingProvisioner(next domain.Provisioner, log *zap.Logger, attemptTimeout time.Duration, maxAttempts int) *RetryingProvisioner {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RetryingProvisioner{
		next:           next,
		log:            log.Named("billing.retry"),
		attemptTimeout: attemptTimeout,
		maxAttempts:    uint(maxAttempts),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (p *RetryingProvisioner) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (string, error) {
	attempt := 0
	operation := func() (string, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()

		id, err := p.next.CreateCustomer(attemptCtx, req)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, domain.ErrPermanent) {
			return "", backoff.Permanent(err)
		}
		p.log.Warn("billing attempt failed",
			zap.Int("attempt", attempt),
			zap.String("user_id", req.UserID.String()),
			zap.Error(err),
		)
		return "", err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(p.maxAttempts),
	)
}
