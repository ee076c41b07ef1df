package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/entrance/internal/auth/domain"
)

type Service interface {
	Signup(ctx context.Context, req Request) (*Result, error)
}

// Request is a parsed signup submission plus the facts the transport knows
// about the caller.
type Request struct {
	EmailAddress string `validate:"required,email,max=320"`
	Password     string `validate:"required,max=200"`
	Username     string `validate:"required"`

	IPAddress         string `validate:"-"`
	UserAgent         string `validate:"-"`
	PriorSessionToken string `validate:"-"`
}

type Result struct {
	User    *authdomain.User
	Session *authdomain.BoundSession
}

// Broadcaster notifies live connections that shared a session that its
// identity changed.
type Broadcaster interface {
	SessionChanged(ctx context.Context, room string, userID snowflake.ID) error
}

// VerificationMessage is the confirm-account email for a new account. To is
// the normalized address; EmailAddress is the address as submitted.
type VerificationMessage struct {
	To           string `json:"to"`
	EmailAddress string `json:"email_address"`
	Token        string `json:"token"`
}

type VerificationMailer interface {
	SendVerification(ctx context.Context, msg VerificationMessage) error
}
