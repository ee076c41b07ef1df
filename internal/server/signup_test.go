package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/entrance/internal/auth/domain"
	"github.com/smallbiznis/entrance/internal/auth/session"
	"github.com/smallbiznis/entrance/internal/auth/token"
	"github.com/smallbiznis/entrance/internal/config"
	"github.com/smallbiznis/entrance/internal/realtime"
	signupdomain "github.com/smallbiznis/entrance/internal/signup/domain"
)

type fakeSignupService struct {
	called  bool
	lastReq signupdomain.Request
	err     error
}

func (f *fakeSignupService) Signup(ctx context.Context, req signupdomain.Request) (*signupdomain.Result, error) {
	_ = ctx
	f.called = true
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &signupdomain.Result{
		User: &authdomain.User{ID: snowflake.ID(200), Username: req.Username},
		Session: &authdomain.BoundSession{
			ID:        snowflake.ID(300),
			UserID:    snowflake.ID(200),
			RawToken:  "fresh-token",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}, nil
}

type fakeAuthService struct {
	valid map[string]bool
}

func (f *fakeAuthService) Bind(ctx context.Context, userID snowflake.ID, req authdomain.BindSessionRequest) (*authdomain.BoundSession, error) {
	_ = ctx
	_ = req
	return &authdomain.BoundSession{UserID: userID}, nil
}

func (f *fakeAuthService) Authenticate(ctx context.Context, rawToken string) (*authdomain.Session, error) {
	_ = ctx
	if !f.valid[rawToken] {
		return nil, authdomain.ErrInvalidSession
	}
	return &authdomain.Session{ID: snowflake.ID(1), UserID: snowflake.ID(2)}, nil
}

func (f *fakeAuthService) Logout(ctx context.Context, rawToken string) error {
	_ = ctx
	_ = rawToken
	return nil
}

func newTestServer(signupSvc signupdomain.Service) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	srv := &Server{
		engine:    router,
		cfg:       config.Config{},
		signupsvc: signupSvc,
		authsvc:   &fakeAuthService{valid: map[string]bool{"live-token": true}},
		sessions:  session.NewManager(config.Config{}),
		hub:       realtime.NewHub(),
	}
	srv.registerAPIRoutes()
	return srv, router
}

func postSignup(router *gin.Engine, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/entrance/signup", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, resp.Body.String())
	}
	return body.Error
}

func TestSignupHandlerCreatesAccountAndSetsCookie(t *testing.T) {
	signupSvc := &fakeSignupService{}
	_, router := newTestServer(signupSvc)

	resp := postSignup(router,
		`{"emailAddress":"Ada@Example.com","password":"correct horse","username":"ada"}`,
		&http.Cookie{Name: session.DefaultCookieName, Value: "prior-token"},
	)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", resp.Code, resp.Body.String())
	}
	if signupSvc.lastReq.EmailAddress != "Ada@Example.com" {
		t.Fatalf("expected email passed through unchanged, got %q", signupSvc.lastReq.EmailAddress)
	}
	if signupSvc.lastReq.PriorSessionToken != "prior-token" {
		t.Fatalf("expected prior session token forwarded, got %q", signupSvc.lastReq.PriorSessionToken)
	}
	if signupSvc.lastReq.UserAgent != "test-agent" {
		t.Fatalf("expected user agent forwarded, got %q", signupSvc.lastReq.UserAgent)
	}

	var cookie *http.Cookie
	for _, c := range resp.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != "fresh-token" {
		t.Fatalf("expected session cookie with fresh token, got %+v", cookie)
	}
	if !cookie.HttpOnly {
		t.Fatal("expected session cookie to be HttpOnly")
	}

	var body SignupResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.UserID != "200" || body.Username != "ada" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestSignupHandlerMalformedJSONIsInvalid(t *testing.T) {
	signupSvc := &fakeSignupService{}
	_, router := newTestServer(signupSvc)

	resp := postSignup(router, `{"emailAddress":`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if got := decodeError(t, resp).Type; got != "invalid" {
		t.Fatalf("expected type invalid, got %q", got)
	}
	if signupSvc.called {
		t.Fatal("expected signup service not to be called")
	}
}

func TestSignupHandlerMapsOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"invalid", &signupdomain.ValidationError{Fields: map[string]string{"emailAddress": "email"}}, http.StatusBadRequest, "invalid"},
		{"email in use", signupdomain.ErrEmailAlreadyInUse, http.StatusConflict, "email_already_in_use"},
		{"password too short", signupdomain.ErrPasswordTooShort, http.StatusConflict, "password_too_short"},
		{"username too long", signupdomain.ErrUsernameTooLong, http.StatusConflict, "username_too_long"},
		{"username taken", signupdomain.ErrUsernameAlreadyTaken, http.StatusConflict, "username_already_taken"},
		{"system", fmt.Errorf("create user: %w", errors.New("pq: connection refused")), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, router := newTestServer(&fakeSignupService{err: tc.err})

			resp := postSignup(router, `{"emailAddress":"a@example.com","password":"longenough","username":"ada"}`)

			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			payload := decodeError(t, resp)
			if payload.Type != tc.typ {
				t.Fatalf("expected type %q, got %q", tc.typ, payload.Type)
			}
			if strings.Contains(resp.Body.String(), "connection refused") {
				t.Fatal("expected storage detail to stay out of the response")
			}
			if len(resp.Result().Cookies()) != 0 {
				t.Fatal("expected no cookie on failure")
			}
		})
	}
}

func TestSignupHandlerReportsInvalidFields(t *testing.T) {
	err := &signupdomain.ValidationError{Fields: map[string]string{
		"username":     "required",
		"emailAddress": "email",
	}}
	_, router := newTestServer(&fakeSignupService{err: err})

	resp := postSignup(router, `{"emailAddress":"nope","password":"longenough"}`)

	payload := decodeError(t, resp)
	if len(payload.Errors) != 2 {
		t.Fatalf("expected 2 field errors, got %+v", payload.Errors)
	}
	if payload.Errors[0].Field != "emailAddress" || payload.Errors[0].Code != "email" {
		t.Fatalf("unexpected first field error %+v", payload.Errors[0])
	}
	if payload.Errors[1].Field != "username" || payload.Errors[1].Code != "required" {
		t.Fatalf("unexpected second field error %+v", payload.Errors[1])
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	cases := []struct {
		err      error
		wantType string
		wantCode string
	}{
		{signupdomain.ErrPasswordTooShort, "input", "password_too_short"},
		{signupdomain.ErrUsernameAlreadyTaken, "conflict", "username_already_taken"},
		{errors.New("boom"), "system", "internal_error"},
		{ErrRateLimited, "client", "rate_limited"},
	}
	for _, tc := range cases {
		gotType, gotCode := classifyErrorForLog(tc.err)
		if gotType != tc.wantType || gotCode != tc.wantCode {
			t.Fatalf("classify %v: got (%s, %s), want (%s, %s)", tc.err, gotType, gotCode, tc.wantType, tc.wantCode)
		}
	}
}

func TestSessionEventsRequiresSession(t *testing.T) {
	_, router := newTestServer(&fakeSignupService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entrance/session/events", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without cookie, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/entrance/session/events", nil)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "stale-token"})
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for unknown session, got %d", resp.Code)
	}
}

func TestSessionEventsStreamsSessionChanges(t *testing.T) {
	srv, router := newTestServer(&fakeSignupService{})
	room := token.Hash("live-token")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/entrance/session/events", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "live-token"})
	resp := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(resp, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.Subscribers(room) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	delivered := srv.hub.Publish(room, realtime.Event{
		Type:       realtime.EventSessionChanged,
		UserID:     "200",
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	})
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}

	body := resp.Body.String()
	if !strings.HasPrefix(body, "retry: 2000\n\n") {
		t.Fatalf("expected retry preamble, got %q", body)
	}
	if !strings.Contains(body, "event: "+realtime.EventSessionChanged) {
		t.Fatalf("expected session event in stream, got %q", body)
	}
	if resp.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", resp.Header().Get("Content-Type"))
	}
}
