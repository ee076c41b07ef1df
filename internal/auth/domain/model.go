// Package domain contains core types for accounts and sessions.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EmailStatus string

const (
	// EmailStatusUnset means verification was not requested; the address is
	// treated as confirmed.
	EmailStatusUnset       EmailStatus = ""
	EmailStatusUnconfirmed EmailStatus = "unconfirmed"
	EmailStatusConfirmed   EmailStatus = "confirmed"
)

// EmailProof is the single-use token mailed to prove address ownership.
type EmailProof struct {
	Token     string
	ExpiresAt time.Time
}

// User represents a registered account.
type User struct {
	ID                       snowflake.ID `gorm:"primaryKey"`
	EmailAddress             string       `gorm:"column:email_address;type:varchar(320);not null;uniqueIndex:ux_users_email_address"`
	Username                 string       `gorm:"column:username;type:varchar(64);not null;uniqueIndex:ux_users_username"`
	PasswordHash             string       `gorm:"column:password_hash;type:text;not null"`
	SandboxEmailAddress      string       `gorm:"column:sandbox_email_address;type:varchar(320);not null"`
	TOSAcceptedByIP          string       `gorm:"column:tos_accepted_by_ip;type:varchar(64)"`
	EmailStatus              EmailStatus  `gorm:"column:email_status;type:varchar(32)"`
	EmailProofToken          *string      `gorm:"column:email_proof_token;type:varchar(128);index;check:chk_users_email_proof,(email_proof_token IS NULL) = (email_proof_token_expires_at IS NULL)"`
	EmailProofTokenExpiresAt *time.Time   `gorm:"column:email_proof_token_expires_at"`
	StripeCustomerID         *string      `gorm:"column:stripe_customer_id;type:varchar(255)"`
	CreatedAt                time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// NewUser describes an account to be created. Proof is nil when the address
// does not need to be verified, so a token can never exist without its expiry.
type NewUser struct {
	EmailAddress        string
	Username            string
	PasswordHash        string
	SandboxEmailAddress string
	TOSAcceptedByIP     string
	Proof               *EmailProof
}

// Record builds the persisted row for n.
func (n NewUser) Record(id snowflake.ID) *User {
	user := &User{
		ID:                  id,
		EmailAddress:        n.EmailAddress,
		Username:            n.Username,
		PasswordHash:        n.PasswordHash,
		SandboxEmailAddress: n.SandboxEmailAddress,
		TOSAcceptedByIP:     n.TOSAcceptedByIP,
	}
	if n.Proof != nil {
		token := n.Proof.Token
		expiresAt := n.Proof.ExpiresAt.UTC()
		user.EmailStatus = EmailStatusUnconfirmed
		user.EmailProofToken = &token
		user.EmailProofTokenExpiresAt = &expiresAt
	}
	return user
}

// Validate checks the invariants storage relies on.
func (u *User) Validate() error {
	switch {
	case strings.TrimSpace(u.EmailAddress) == "":
		return fmt.Errorf("%w: email address is required", ErrInvalidUser)
	case strings.TrimSpace(u.Username) == "":
		return fmt.Errorf("%w: username is required", ErrInvalidUser)
	case u.PasswordHash == "":
		return fmt.Errorf("%w: password hash is required", ErrInvalidUser)
	case strings.TrimSpace(u.SandboxEmailAddress) == "":
		return fmt.Errorf("%w: sandbox email address is required", ErrInvalidUser)
	case (u.EmailProofToken == nil) != (u.EmailProofTokenExpiresAt == nil):
		return fmt.Errorf("%w: email proof token and expiry must be set together", ErrInvalidUser)
	case u.EmailProofToken != nil && u.EmailStatus != EmailStatusUnconfirmed:
		return fmt.Errorf("%w: email proof token requires unconfirmed status", ErrInvalidUser)
	}
	return nil
}

// EmailVerification is the verification state of an account's address:
// either EmailVerified or EmailPending.
type EmailVerification interface {
	isEmailVerification()
}

// EmailVerified covers confirmed addresses and accounts created without
// verification.
type EmailVerified struct{}

// EmailPending carries the outstanding proof for an unconfirmed address.
type EmailPending struct {
	Proof EmailProof
}

func (EmailVerified) isEmailVerification() {}
func (EmailPending) isEmailVerification()  {}

// Verification returns the tagged verification state of u.
func (u *User) Verification() EmailVerification {
	if u.EmailStatus == EmailStatusUnconfirmed && u.EmailProofToken != nil && u.EmailProofTokenExpiresAt != nil {
		return EmailPending{Proof: EmailProof{
			Token:     *u.EmailProofToken,
			ExpiresAt: *u.EmailProofTokenExpiresAt,
		}}
	}
	return EmailVerified{}
}

// Session represents a persisted login session.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:varchar(128);not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:varchar(64)"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }
