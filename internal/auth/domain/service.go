package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Service manages server-side sessions.
type Service interface {
	Bind(ctx context.Context, userID snowflake.ID, req BindSessionRequest) (*BoundSession, error)
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	Logout(ctx context.Context, rawToken string) error
}

type BindSessionRequest struct {
	UserAgent string
	IPAddress string
	// PriorToken is the raw token of the session the client held before, if any.
	PriorToken string
}

// BoundSession is a freshly issued session. RawToken is only available here;
// storage keeps its hash.
type BoundSession struct {
	ID        snowflake.ID
	UserID    snowflake.ID
	RawToken  string
	ExpiresAt time.Time
	// PriorKey identifies the connections that shared the prior session.
	PriorKey string
}
