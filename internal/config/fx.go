package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(
		NewSignupPolicyHolder,
		func(h *SignupPolicyHolder) SignupPolicySource { return h },
	),
)
