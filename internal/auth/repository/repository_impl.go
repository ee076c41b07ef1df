package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entrance/internal/auth/domain"
	"github.com/smallbiznis/entrance/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(conn *gorm.DB) (domain.Repository, domain.SessionRepository) {
	r := &repo{db: conn}
	return r, r
}

func (r *repo) Create(ctx context.Context, user *domain.User) error {
	if user == nil {
		return fmt.Errorf("%w: missing user", domain.ErrInvalidUser)
	}
	if err := user.Validate(); err != nil {
		return err
	}
	return translateWriteErr(r.db.WithContext(ctx).Create(user).Error)
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).
		Where("username = ?", strings.ToLower(username)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) SetStripeCustomerID(ctx context.Context, id snowflake.ID, customerID string) error {
	tx := r.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stripe_customer_id": customerID,
			"updated_at":         time.Now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) CreateSession(ctx context.Context, session *domain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("session_token_hash = ?", tokenHash).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error {
	tx := r.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", sessionID).Update("last_seen_at", lastSeen)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error {
	tx := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", revokedAt)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// translateWriteErr maps storage constraint failures onto domain errors while
// keeping the driver error in the chain.
func translateWriteErr(err error) error {
	if err == nil {
		return nil
	}

	if target, ok := db.DuplicateKeyTarget(err); ok {
		switch {
		case strings.Contains(target, "username"):
			return fmt.Errorf("%w: %w", domain.ErrUsernameTaken, err)
		case strings.Contains(target, "email_address"):
			return fmt.Errorf("%w: %w", domain.ErrEmailTaken, err)
		default:
			return fmt.Errorf("%w: %w", domain.ErrUserExists, err)
		}
	}

	if db.IsInvalidDataErr(err) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidUser, err)
	}

	return err
}
