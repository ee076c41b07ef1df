package signup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/entrance/internal/auth/domain"
	"github.com/smallbiznis/entrance/internal/auth/password"
	"github.com/smallbiznis/entrance/internal/auth/repository"
	billingdomain "github.com/smallbiznis/entrance/internal/billing/domain"
	"github.com/smallbiznis/entrance/internal/clock"
	"github.com/smallbiznis/entrance/internal/config"
	obsmetrics "github.com/smallbiznis/entrance/internal/observability/metrics"
	"github.com/smallbiznis/entrance/internal/signup/domain"
	"github.com/smallbiznis/entrance/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryUsers enforces the same uniqueness rules as the database indexes.
type memoryUsers struct {
	mu        sync.Mutex
	byID      map[snowflake.ID]*authdomain.User
	createErr error
	findErr   error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: make(map[snowflake.ID]*authdomain.User)}
}

func (r *memoryUsers) Create(_ context.Context, user *authdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if err := user.Validate(); err != nil {
		return err
	}
	for _, existing := range r.byID {
		if existing.Username == user.Username {
			return fmt.Errorf("%w: unique username", authdomain.ErrUsernameTaken)
		}
		if existing.EmailAddress == user.EmailAddress {
			return fmt.Errorf("%w: unique email_address", authdomain.ErrEmailTaken)
		}
	}
	stored := *user
	r.byID[user.ID] = &stored
	return nil
}

func (r *memoryUsers) FindByID(_ context.Context, id snowflake.ID) (*authdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, authdomain.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *memoryUsers) FindByUsername(_ context.Context, username string) (*authdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, user := range r.byID {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, authdomain.ErrUserNotFound
}

func (r *memoryUsers) SetStripeCustomerID(_ context.Context, id snowflake.ID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return authdomain.ErrUserNotFound
	}
	user.StripeCustomerID = &customerID
	return nil
}

func (r *memoryUsers) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type fakeSessions struct {
	mu    sync.Mutex
	binds []authdomain.BindSessionRequest
	err   error
}

func (s *fakeSessions) Bind(_ context.Context, userID snowflake.ID, req authdomain.BindSessionRequest) (*authdomain.BoundSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.binds = append(s.binds, req)
	bound := &authdomain.BoundSession{ID: 1, UserID: userID, RawToken: "raw-session", ExpiresAt: time.Now().Add(time.Hour)}
	if req.PriorToken != "" {
		bound.PriorKey = "room:" + req.PriorToken
	}
	return bound, nil
}

func (s *fakeSessions) Authenticate(context.Context, string) (*authdomain.Session, error) {
	return nil, authdomain.ErrSessionNotFound
}

func (s *fakeSessions) Logout(context.Context, string) error { return nil }

type fakeBilling struct {
	mu   sync.Mutex
	reqs []billingdomain.CustomerRequest
	err  error
}

func (b *fakeBilling) CreateCustomer(_ context.Context, req billingdomain.CustomerRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reqs = append(b.reqs, req)
	if b.err != nil {
		return "", b.err
	}
	return "cus_" + req.UserID.String(), nil
}

type fakeOutbox struct {
	deferred []billingdomain.CustomerRequest
	err      error
}

func (o *fakeOutbox) Defer(_ context.Context, req billingdomain.CustomerRequest, _ error) error {
	o.deferred = append(o.deferred, req)
	return o.err
}

type fakeBroadcaster struct {
	rooms []string
	err   error
}

func (b *fakeBroadcaster) SessionChanged(_ context.Context, room string, _ snowflake.ID) error {
	b.rooms = append(b.rooms, room)
	return b.err
}

type fakeMailer struct {
	msgs []domain.VerificationMessage
	err  error
}

func (m *fakeMailer) SendVerification(_ context.Context, msg domain.VerificationMessage) error {
	m.msgs = append(m.msgs, msg)
	return m.err
}

type fixedTokens struct{ value string }

func (f fixedTokens) New() (string, error) { return f.value, nil }

type deps struct {
	users       *memoryUsers
	sessions    *fakeSessions
	billing     *fakeBilling
	outbox      *fakeOutbox
	broadcaster *fakeBroadcaster
	mailer      *fakeMailer
	clock       *clock.FakeClock
}

var cheapHasher = password.NewArgon2id(password.Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 16, SaltLen: 8})

func newTestService(t *testing.T, policy config.SignupPolicy) (*Service, deps) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	d := deps{
		users:       newMemoryUsers(),
		sessions:    &fakeSessions{},
		billing:     &fakeBilling{},
		outbox:      &fakeOutbox{},
		broadcaster: &fakeBroadcaster{},
		mailer:      &fakeMailer{},
		clock:       clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)),
	}

	svc := NewService(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       d.clock,
		Policy:      config.StaticSignupPolicy(policy),
		Users:       d.users,
		Sessions:    d.sessions,
		Hasher:      cheapHasher,
		Billing:     d.billing,
		Outbox:      d.outbox,
		Broadcaster: d.broadcaster,
		Mailer:      d.mailer,
		Metrics:     obsmetrics.NewNoop(),
	}).(*Service)
	svc.tokens = fixedTokens{value: "proof-token"}
	return svc, d
}

func validRequest() domain.Request {
	return domain.Request{
		EmailAddress: "BOB@Example.com",
		Password:     "longenough1",
		Username:     "Bob",
		IPAddress:    "203.0.113.10",
		UserAgent:    "test-agent",
	}
}

func TestSignupNormalizesAndPersists(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{})

	result, err := svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)

	user := result.User
	assert.Equal(t, "bob", user.Username)
	assert.Equal(t, "bob@example.com", user.EmailAddress)
	assert.Equal(t, "bob@sandbox.com", user.SandboxEmailAddress)
	assert.Equal(t, "203.0.113.10", user.TOSAcceptedByIP)
	assert.True(t, password.Verify("longenough1", user.PasswordHash))
	assert.Equal(t, "raw-session", result.Session.RawToken)

	assert.Equal(t, authdomain.EmailStatusUnset, user.EmailStatus)
	assert.Nil(t, user.EmailProofToken)
	assert.Nil(t, user.EmailProofTokenExpiresAt)

	assert.Empty(t, d.mailer.msgs)
	assert.Empty(t, d.billing.reqs)
	assert.Empty(t, d.broadcaster.rooms)
	require.Len(t, d.sessions.binds, 1)
	assert.Equal(t, "test-agent", d.sessions.binds[0].UserAgent)
}

func TestSignupRoundTripWithDatabase(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&authdomain.User{}))
	users, _ := repository.New(conn)

	svc, _ := newTestService(t, config.SignupPolicy{})
	svc.users = users

	result, err := svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)

	stored, err := users.FindByID(context.Background(), result.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.Username)
	assert.Equal(t, "bob@example.com", stored.EmailAddress)
	assert.Equal(t, "bob@sandbox.com", stored.SandboxEmailAddress)

	req := validRequest()
	req.Username = "robert"
	_, err = svc.Signup(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrEmailAlreadyInUse)

	req = validRequest()
	req.EmailAddress = "other@example.com"
	_, err = svc.Signup(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrUsernameAlreadyTaken)
}

func TestSignupUsernamePrecheckAgreesWithStoredUsername(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&authdomain.User{}))
	users, _ := repository.New(conn)

	svc, _ := newTestService(t, config.SignupPolicy{})
	svc.users = users

	_, err = svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.EmailAddress = "spaced@example.com"
	req.Username = " Bob"
	result, err := svc.Signup(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, " bob", result.User.Username)
}

func TestSignupOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Request)
		want   error
	}{
		{name: "missing email", mutate: func(r *domain.Request) { r.EmailAddress = "" }, want: domain.ErrInvalid},
		{name: "malformed email", mutate: func(r *domain.Request) { r.EmailAddress = "not-an-email" }, want: domain.ErrInvalid},
		{name: "missing password", mutate: func(r *domain.Request) { r.Password = "" }, want: domain.ErrInvalid},
		{name: "missing username", mutate: func(r *domain.Request) { r.Username = "" }, want: domain.ErrInvalid},
		{name: "password over 200", mutate: func(r *domain.Request) { r.Password = strings.Repeat("p", 201) }, want: domain.ErrInvalid},
		{name: "short password", mutate: func(r *domain.Request) { r.Password = "shortpw" }, want: domain.ErrPasswordTooShort},
		{name: "long username", mutate: func(r *domain.Request) { r.Username = "abcdefghijklmnop" }, want: domain.ErrUsernameTooLong},
		{name: "short password wins over long username", mutate: func(r *domain.Request) {
			r.Password = "short"
			r.Username = "abcdefghijklmnop"
		}, want: domain.ErrPasswordTooShort},
		{name: "invalid wins over short password", mutate: func(r *domain.Request) {
			r.EmailAddress = "nope"
			r.Password = "short"
		}, want: domain.ErrInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, d := newTestService(t, config.SignupPolicy{VerifyEmailAddresses: true, EnableBillingFeatures: true})
			req := validRequest()
			tc.mutate(&req)

			result, err := svc.Signup(context.Background(), req)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, domain.IsInputError(err))

			assert.Zero(t, d.users.count())
			assert.Empty(t, d.sessions.binds)
			assert.Empty(t, d.billing.reqs)
			assert.Empty(t, d.mailer.msgs)
		})
	}
}

func TestSignupBoundaryLengths(t *testing.T) {
	svc, _ := newTestService(t, config.SignupPolicy{})

	req := validRequest()
	req.Password = "12345678"
	req.Username = "abcdefghijklmno"
	_, err := svc.Signup(context.Background(), req)
	require.NoError(t, err)

	req = validRequest()
	req.EmailAddress = "multi@example.com"
	req.Username = "ééééééééééééééé"
	req.Password = "пароль12"
	_, err = svc.Signup(context.Background(), req)
	require.NoError(t, err)
}

func TestSignupValidationErrorListsFields(t *testing.T) {
	svc, _ := newTestService(t, config.SignupPolicy{})

	_, err := svc.Signup(context.Background(), domain.Request{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "emailAddress")
	assert.Contains(t, verr.Fields, "password")
	assert.Contains(t, verr.Fields, "username")
}

func TestSignupUsernamePrecheckIsCaseInsensitive(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{})
	_, err := svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.EmailAddress = "someone@example.com"
	req.Username = "BOB"
	_, err = svc.Signup(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrUsernameAlreadyTaken)
	assert.True(t, domain.IsConflictError(err))
	assert.Equal(t, 1, d.users.count())
}

func TestSignupMapsStorageErrors(t *testing.T) {
	cases := []struct {
		name     string
		storeErr error
		want     error
	}{
		{name: "email unique", storeErr: authdomain.ErrEmailTaken, want: domain.ErrEmailAlreadyInUse},
		{name: "username unique", storeErr: authdomain.ErrUsernameTaken, want: domain.ErrUsernameAlreadyTaken},
		{name: "unknown unique", storeErr: authdomain.ErrUserExists, want: domain.ErrEmailAlreadyInUse},
		{name: "invalid record", storeErr: authdomain.ErrInvalidUser, want: domain.ErrInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, d := newTestService(t, config.SignupPolicy{})
			d.users.createErr = fmt.Errorf("%w: driver detail", tc.storeErr)

			_, err := svc.Signup(context.Background(), validRequest())
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, d.sessions.binds)
		})
	}
}

func TestSignupSystemErrorsAreUnclassified(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{})
	boom := errors.New("connection refused")
	d.users.createErr = boom

	_, err := svc.Signup(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, domain.IsInputError(err))
	assert.False(t, domain.IsConflictError(err))

	svc, d = newTestService(t, config.SignupPolicy{})
	d.users.findErr = boom
	_, err = svc.Signup(context.Background(), validRequest())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, d.users.count())
}

func TestSignupWithVerificationIssuesProofAndEmail(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{VerifyEmailAddresses: true, EmailProofTokenTTL: 24 * time.Hour})

	result, err := svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)

	user := result.User
	assert.Equal(t, authdomain.EmailStatusUnconfirmed, user.EmailStatus)
	require.NotNil(t, user.EmailProofToken)
	require.NotNil(t, user.EmailProofTokenExpiresAt)
	assert.Equal(t, "proof-token", *user.EmailProofToken)
	assert.True(t, d.clock.Now().Add(24*time.Hour).Equal(*user.EmailProofTokenExpiresAt))

	require.Len(t, d.mailer.msgs, 1)
	msg := d.mailer.msgs[0]
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Equal(t, "BOB@Example.com", msg.EmailAddress)
	assert.Equal(t, "proof-token", msg.Token)
}

func TestSignupSucceedsWhenVerificationEmailFails(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{VerifyEmailAddresses: true, EmailProofTokenTTL: time.Hour})
	d.mailer.err = errors.New("smtp down")

	result, err := svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
	assert.Len(t, d.mailer.msgs, 1)
}

func TestSignupBillingSuccessStoresCustomerID(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{EnableBillingFeatures: true})

	result, err := svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)

	require.Len(t, d.billing.reqs, 1)
	assert.Equal(t, "bob@example.com", d.billing.reqs[0].EmailAddress)
	assert.NotEmpty(t, d.billing.reqs[0].IdempotencyKey)

	stored, err := d.users.FindByID(context.Background(), result.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StripeCustomerID)
	assert.Equal(t, "cus_"+result.User.ID.String(), *stored.StripeCustomerID)
	assert.Empty(t, d.outbox.deferred)
}

func TestSignupBillingFailureIsDeferred(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{EnableBillingFeatures: true})
	d.billing.err = errors.New("stripe timeout")

	result, err := svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Nil(t, result.User.StripeCustomerID)

	require.Len(t, d.outbox.deferred, 1)
	assert.Equal(t, result.User.ID, d.outbox.deferred[0].UserID)
	assert.Equal(t, d.billing.reqs[0].IdempotencyKey, d.outbox.deferred[0].IdempotencyKey)
	assert.Len(t, d.sessions.binds, 1)
}

func TestSignupSucceedsWhenOutboxFails(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{EnableBillingFeatures: true})
	d.billing.err = errors.New("stripe timeout")
	d.outbox.err = errors.New("db down")

	_, err := svc.Signup(context.Background(), validRequest())
	require.NoError(t, err)
}

func TestSignupBroadcastsToPriorSession(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{})
	req := validRequest()
	req.PriorSessionToken = "old-token"
	d.broadcaster.err = errors.New("redis down")

	_, err := svc.Signup(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"room:old-token"}, d.broadcaster.rooms)
	assert.Equal(t, "old-token", d.sessions.binds[0].PriorToken)
}

func TestSignupSessionFailureIsSystemError(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{VerifyEmailAddresses: true, EmailProofTokenTTL: time.Hour})
	d.sessions.err = errors.New("session store down")

	_, err := svc.Signup(context.Background(), validRequest())
	require.Error(t, err)
	assert.False(t, domain.IsInputError(err))
	assert.Empty(t, d.mailer.msgs)
	assert.Equal(t, 1, d.users.count())
}

func TestConcurrentSignupsSameUsernameOneWins(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest()
			req.EmailAddress = fmt.Sprintf("bob%d@example.com", i)
			_, errs[i] = svc.Signup(context.Background(), req)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrUsernameAlreadyTaken)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, d.users.count())
}

func TestConcurrentSignupsSameEmailOneWins(t *testing.T) {
	svc, d := newTestService(t, config.SignupPolicy{})

	emails := []string{
		"bob@example.com",
		"BOB@example.com",
		"Bob@Example.com",
		"bob@EXAMPLE.COM",
		"BoB@eXaMpLe.CoM",
		"BOB@EXAMPLE.COM",
	}
	var wg sync.WaitGroup
	errs := make([]error, len(emails))
	for i, email := range emails {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			req := validRequest()
			req.EmailAddress = email
			req.Username = fmt.Sprintf("bob%d", i)
			_, errs[i] = svc.Signup(context.Background(), req)
		}(i, email)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrEmailAlreadyInUse)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, d.users.count())
}
