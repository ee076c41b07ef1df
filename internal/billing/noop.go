package billing

import (
	"context"
	"errors"

	"github.com/smallbiznis/entrance/internal/billing/domain"
)

// ErrDisabled is returned when billing is switched on by policy but no
// provider is configured.
var ErrDisabled = errors.New("billing: provider not configured")

type noopProvisioner struct{}

func NewNoopProvisioner() domain.Provisioner {
	return noopProvisioner{}
}

func (noopProvisioner) CreateCustomer(context.Context, domain.CustomerRequest) (string, error) {
	return "", ErrDisabled
}
