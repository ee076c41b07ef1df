package billing

import (
	"net/http"

	"github.com/smallbiznis/entrance/internal/billing/domain"
	"github.com/smallbiznis/entrance/internal/billing/stripe"
	"github.com/smallbiznis/entrance/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing",
	fx.Provide(newProvisioner),
	fx.Provide(NewOutbox),
)

func newProvisioner(cfg config.Config, log *zap.Logger) domain.Provisioner {
	if !cfg.Stripe.Enabled() {
		log.Named("billing").Info("stripe secret key not set; billing provisioning disabled")
		return NewNoopProvisioner()
	}

	client := stripe.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL, &http.Client{})
	return NewRetryingProvisioner(client, log, cfg.Stripe.AttemptTimeout, cfg.Stripe.MaxAttempts)
}
