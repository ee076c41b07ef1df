package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Repository persists accounts. Create reports unique violations as
// ErrEmailTaken or ErrUsernameTaken and shape failures as ErrInvalidUser.
type Repository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	SetStripeCustomerID(ctx context.Context, id snowflake.ID, customerID string) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error
	RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error
}
