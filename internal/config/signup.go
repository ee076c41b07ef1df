package config

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const DefaultEmailProofTokenTTL = 24 * time.Hour

// SignupPolicy holds the feature toggles consulted on every signup.
type SignupPolicy struct {
	VerifyEmailAddresses  bool          `mapstructure:"verifyEmailAddresses"`
	EmailProofTokenTTL    time.Duration `mapstructure:"emailProofTokenTTL"`
	EnableBillingFeatures bool          `mapstructure:"enableBillingFeatures"`
}

// SignupPolicySource yields the policy in effect for the current request.
type SignupPolicySource interface {
	Get() SignupPolicy
}

// StaticSignupPolicy is a fixed policy, mostly useful in tests.
type StaticSignupPolicy SignupPolicy

func (p StaticSignupPolicy) Get() SignupPolicy { return SignupPolicy(p) }

var signupConfigPaths = []string{
	"/var/lib/entrance/config",
	"/etc/entrance",
	".",
}

type SignupPolicyHolder struct {
	current atomic.Value // holds SignupPolicy
}

// NewSignupPolicyHolder seeds the policy from the environment and overlays
// signup.yml when one is found. The file is watched and valid edits are
// applied without a restart.
func NewSignupPolicyHolder(cfg Config, log *zap.Logger) (*SignupPolicyHolder, error) {
	return loadSignupPolicy(cfg.Signup, log, signupConfigPaths...)
}

func loadSignupPolicy(defaults SignupPolicy, log *zap.Logger, paths ...string) (*SignupPolicyHolder, error) {
	log = log.Named("config.signup")

	v := viper.New()
	v.SetConfigName("signup")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetDefault("signup.verifyEmailAddresses", defaults.VerifyEmailAddresses)
	v.SetDefault("signup.emailProofTokenTTL", defaults.EmailProofTokenTTL)
	v.SetDefault("signup.enableBillingFeatures", defaults.EnableBillingFeatures)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	var policy SignupPolicy
	if err := v.UnmarshalKey("signup", &policy); err != nil {
		return nil, err
	}
	if err := validateSignupPolicy(policy); err != nil {
		return nil, err
	}

	holder := &SignupPolicyHolder{}
	holder.current.Store(policy)

	if !watch {
		return holder, nil
	}

	log.Info("signup policy loaded", zap.String("file", v.ConfigFileUsed()))
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SignupPolicy
		if err := v.UnmarshalKey("signup", &updated); err != nil {
			log.Warn("signup policy reload failed", zap.Error(err))
			return
		}
		if err := validateSignupPolicy(updated); err != nil {
			log.Warn("invalid signup policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("signup policy reloaded",
			zap.String("file", e.Name),
			zap.Bool("verify_email_addresses", updated.VerifyEmailAddresses),
			zap.Bool("enable_billing_features", updated.EnableBillingFeatures),
		)
	})
	v.WatchConfig()

	return holder, nil
}

func (h *SignupPolicyHolder) Get() SignupPolicy {
	return h.current.Load().(SignupPolicy)
}

func validateSignupPolicy(policy SignupPolicy) error {
	if policy.VerifyEmailAddresses && policy.EmailProofTokenTTL <= 0 {
		return errors.New("signup.emailProofTokenTTL must be positive when verifyEmailAddresses is enabled")
	}
	return nil
}
