package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entrance/internal/auth/domain"
	"github.com/smallbiznis/entrance/internal/auth/token"
	"github.com/smallbiznis/entrance/internal/clock"
	"github.com/smallbiznis/entrance/internal/config"
	"go.uber.org/zap"
)

const defaultSessionTTL = 7 * 24 * time.Hour

type Service struct {
	log         *zap.Logger
	sessionRepo domain.SessionRepository
	genID       *snowflake.Node
	clock       clock.Clock
	tokens      token.Generator
	ttl         time.Duration
}

func New(log *zap.Logger, sessionRepo domain.SessionRepository, genID *snowflake.Node, clk clock.Clock, cfg config.Config) domain.Service {
	return newService(log, sessionRepo, genID, clk, token.NewGenerator(), cfg.SessionTTL)
}

func newService(log *zap.Logger, sessionRepo domain.SessionRepository, genID *snowflake.Node, clk clock.Clock, tokens token.Generator, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Service{
		log:         log.Named("auth.session"),
		sessionRepo: sessionRepo,
		genID:       genID,
		clock:       clk,
		tokens:      tokens,
		ttl:         ttl,
	}
}

// Bind issues a new session for userID. A prior session presented by the
// client is revoked; failing to do so does not fail the bind.
func (s *Service) Bind(ctx context.Context, userID snowflake.ID, req domain.BindSessionRequest) (*domain.BoundSession, error) {
	raw, err := s.tokens.New()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           userID,
		SessionTokenHash: token.Hash(raw),
		UserAgent:        strings.TrimSpace(req.UserAgent),
		IPAddress:        strings.TrimSpace(req.IPAddress),
		ExpiresAt:        now.Add(s.ttl),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	bound := &domain.BoundSession{
		ID:        session.ID,
		UserID:    userID,
		RawToken:  raw,
		ExpiresAt: session.ExpiresAt,
	}

	prior := strings.TrimSpace(req.PriorToken)
	if prior == "" {
		return bound, nil
	}
	bound.PriorKey = token.Hash(prior)
	s.revokePrior(ctx, bound.PriorKey, now)

	return bound, nil
}

func (s *Service) revokePrior(ctx context.Context, tokenHash string, now time.Time) {
	prior, err := s.sessionRepo.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			s.log.Warn("failed to load prior session", zap.Error(err))
		}
		return
	}
	if prior.RevokedAt != nil {
		return
	}
	if err := s.sessionRepo.RevokeSession(ctx, prior.ID, now); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		s.log.Warn("failed to revoke prior session", zap.String("session_id", prior.ID.String()), zap.Error(err))
	}
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, token.Hash(rawToken))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if !session.ExpiresAt.After(now) {
		return nil, domain.ErrSessionExpired
	}

	if err := s.sessionRepo.UpdateLastSeen(ctx, session.ID, now); err != nil {
		s.log.Warn("failed to update session last seen", zap.String("session_id", session.ID.String()), zap.Error(err))
	} else {
		session.LastSeenAt = now
	}

	return session, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, token.Hash(rawToken))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}
	if err := s.sessionRepo.RevokeSession(ctx, session.ID, s.clock.Now()); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	return nil
}
