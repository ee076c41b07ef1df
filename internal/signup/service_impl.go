package signup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/entrance/internal/auth/domain"
	"github.com/smallbiznis/entrance/internal/auth/password"
	"github.com/smallbiznis/entrance/internal/auth/token"
	"github.com/smallbiznis/entrance/internal/billing"
	billingdomain "github.com/smallbiznis/entrance/internal/billing/domain"
	"github.com/smallbiznis/entrance/internal/clock"
	"github.com/smallbiznis/entrance/internal/config"
	"github.com/smallbiznis/entrance/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entrance/internal/observability/metrics"
	"github.com/smallbiznis/entrance/internal/signup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sandboxEmailDomain = "@sandbox.com"

	broadcastTimeout    = 2 * time.Second
	verificationTimeout = 10 * time.Second
	outboxTimeout       = 5 * time.Second
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      config.SignupPolicySource
	Users       authdomain.Repository
	Sessions    authdomain.Service
	Hasher      password.Hasher
	Billing     billingdomain.Provisioner
	Outbox      billingdomain.Outbox
	Broadcaster domain.Broadcaster
	Mailer      domain.VerificationMailer
	Metrics     *obsmetrics.Metrics
}

type Service struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	policy      config.SignupPolicySource
	users       authdomain.Repository
	sessions    authdomain.Service
	hasher      password.Hasher
	tokens      token.Generator
	billing     billingdomain.Provisioner
	outbox      billingdomain.Outbox
	broadcaster domain.Broadcaster
	mailer      domain.VerificationMailer
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("signup.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		users:       p.Users,
		sessions:    p.Sessions,
		hasher:      p.Hasher,
		tokens:      token.NewGenerator(),
		billing:     p.Billing,
		outbox:      p.Outbox,
		broadcaster: p.Broadcaster,
		mailer:      p.Mailer,
		metrics:     p.Metrics,
	}
}

// Signup creates an account and binds a session to it. Billing, broadcast
// and verification email run after the account exists and never fail the
// signup.
func (s *Service) Signup(ctx context.Context, req domain.Request) (*domain.Result, error) {
	result, err := s.signup(ctx, req)
	s.metrics.RecordSignupOutcome(ctx, outcomeLabel(err))
	return result, err
}

func (s *Service) signup(ctx context.Context, req domain.Request) (*domain.Result, error) {
	log := logger.WithContext(ctx, s.log)
	policy := s.policy.Get()

	if err := checkShape(req); err != nil {
		return nil, err
	}
	if err := checkLengths(req); err != nil {
		return nil, err
	}

	emailAddress := strings.ToLower(req.EmailAddress)
	username := strings.ToLower(req.Username)
	sandboxEmailAddress := username + sandboxEmailDomain

	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return nil, domain.ErrUsernameAlreadyTaken
	} else if !errors.Is(err, authdomain.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup username: %w", err)
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	newUser := authdomain.NewUser{
		EmailAddress:        emailAddress,
		Username:            username,
		PasswordHash:        passwordHash,
		SandboxEmailAddress: sandboxEmailAddress,
		TOSAcceptedByIP:     strings.TrimSpace(req.IPAddress),
	}
	if policy.VerifyEmailAddresses {
		proofToken, err := s.tokens.New()
		if err != nil {
			return nil, fmt.Errorf("generate email proof token: %w", err)
		}
		newUser.Proof = &authdomain.EmailProof{
			Token:     proofToken,
			ExpiresAt: s.clock.Now().Add(policy.EmailProofTokenTTL),
		}
	}

	user := newUser.Record(s.genID.Generate())
	if err := s.users.Create(ctx, user); err != nil {
		return nil, classifyCreateErr(err)
	}
	log = logger.WithUser(log, user.ID.String())

	if policy.EnableBillingFeatures {
		s.provisionBilling(ctx, log, user)
	}

	bound, err := s.sessions.Bind(ctx, user.ID, authdomain.BindSessionRequest{
		UserAgent:  req.UserAgent,
		IPAddress:  req.IPAddress,
		PriorToken: req.PriorSessionToken,
	})
	if err != nil {
		return nil, fmt.Errorf("bind session: %w", err)
	}

	if bound.PriorKey != "" {
		s.broadcastSessionChange(ctx, log, bound.PriorKey, user.ID)
	}

	if policy.VerifyEmailAddresses {
		s.sendVerification(ctx, log, user, req.EmailAddress)
	} else {
		log.Info("skipping verification email", zap.String("reason", "verify_email_addresses_disabled"))
	}

	log.Info("account created")
	return &domain.Result{User: user, Session: bound}, nil
}

// classifyCreateErr maps storage outcomes onto signup outcomes. Any unique
// violation that is not the username is reported as an email conflict.
func classifyCreateErr(err error) error {
	switch {
	case errors.Is(err, authdomain.ErrUsernameTaken):
		return domain.ErrUsernameAlreadyTaken
	case errors.Is(err, authdomain.ErrEmailTaken), errors.Is(err, authdomain.ErrUserExists):
		return domain.ErrEmailAlreadyInUse
	case errors.Is(err, authdomain.ErrInvalidUser):
		return domain.ErrInvalid
	default:
		return fmt.Errorf("create user: %w", err)
	}
}

func (s *Service) provisionBilling(ctx context.Context, log *zap.Logger, user *authdomain.User) {
	req := billingdomain.CustomerRequest{
		UserID:         user.ID,
		EmailAddress:   user.EmailAddress,
		IdempotencyKey: billing.NewIdempotencyKey(),
	}

	customerID, err := s.billing.CreateCustomer(ctx, req)
	if err == nil {
		err = s.users.SetStripeCustomerID(ctx, user.ID, customerID)
		if err == nil {
			user.StripeCustomerID = &customerID
			s.metrics.RecordBilling(ctx, "success")
			return
		}
	}

	log.Warn("billing provisioning failed; deferring to backfill", zap.Error(err))

	outboxCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outboxTimeout)
	defer cancel()
	if deferErr := s.outbox.Defer(outboxCtx, req, err); deferErr != nil {
		s.metrics.RecordBilling(ctx, "failed")
		log.Error("failed to record pending billing provisioning", zap.Error(deferErr))
		return
	}
	s.metrics.RecordBilling(ctx, "deferred")
}

func (s *Service) broadcastSessionChange(ctx context.Context, log *zap.Logger, room string, userID snowflake.ID) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), broadcastTimeout)
	defer cancel()

	if err := s.broadcaster.SessionChanged(bctx, room, userID); err != nil {
		s.metrics.RecordSessionBroadcast(ctx, "failed")
		log.Warn("session change broadcast failed", zap.Error(err))
		return
	}
	s.metrics.RecordSessionBroadcast(ctx, "success")
}

func (s *Service) sendVerification(ctx context.Context, log *zap.Logger, user *authdomain.User, submittedAddress string) {
	pending, ok := user.Verification().(authdomain.EmailPending)
	if !ok {
		return
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), verificationTimeout)
	defer cancel()

	err := s.mailer.SendVerification(mctx, domain.VerificationMessage{
		To:           user.EmailAddress,
		EmailAddress: submittedAddress,
		Token:        pending.Proof.Token,
	})
	if err != nil {
		s.metrics.RecordVerificationEmail(ctx, "failed")
		log.Error("verification email failed", zap.Error(err))
		return
	}
	s.metrics.RecordVerificationEmail(ctx, "sent")
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrInvalid):
		return "invalid"
	case errors.Is(err, domain.ErrPasswordTooShort):
		return "password_too_short"
	case errors.Is(err, domain.ErrUsernameTooLong):
		return "username_too_long"
	case errors.Is(err, domain.ErrEmailAlreadyInUse):
		return "email_already_in_use"
	case errors.Is(err, domain.ErrUsernameAlreadyTaken):
		return "username_already_taken"
	default:
		return "error"
	}
}
