package billingprovisioning

import (
	"context"
	"time"

	"github.com/smallbiznis/entrance/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Second

var Module = fx.Module("billing.provisioning",
	fx.Provide(NewConsumer),
	fx.Invoke(runConsumer),
)

func runConsumer(lc fx.Lifecycle, cfg config.Config, consumer *Consumer) {
	if !cfg.Stripe.Enabled() {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(pollInterval)
				defer ticker.Stop()

				for {
					if err := consumer.ProcessPending(runCtx); err != nil && runCtx.Err() == nil {
						consumer.log.Error("provisioning poll failed", zap.Error(err))
					}
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
