package email

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/smallbiznis/entrance/internal/config"
	signupdomain "github.com/smallbiznis/entrance/internal/signup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
	fx.Provide(newVerificationMailer),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.Email.Delivery == config.EmailDeliveryLog {
		return NewLogProvider(log)
	}
	return NewSMTP(smtpConfig(cfg))
}

func smtpConfig(cfg config.Config) Config {
	return Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	}
}

// newVerificationMailer picks direct delivery, or the asynq queue when it is
// selected and Redis is configured.
func newVerificationMailer(lc fx.Lifecycle, cfg config.Config, provider Provider, log *zap.Logger) signupdomain.VerificationMailer {
	direct := NewMailer(provider, cfg.PublicBaseURL)
	if cfg.Email.Delivery != config.EmailDeliveryQueue {
		return direct
	}
	if !cfg.Redis.Enabled() {
		log.Named("email").Warn("queue delivery requires redis; sending verification email directly")
		return direct
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOpt)
	worker := NewWorker(redisOpt, cfg.Email.WorkerConcurrency, NewMailer(NewSMTP(smtpConfig(cfg)), cfg.PublicBaseURL), log)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return worker.Start()
		},
		OnStop: func(context.Context) error {
			worker.Shutdown()
			return client.Close()
		},
	})

	return NewQueuedMailer(client, log)
}
