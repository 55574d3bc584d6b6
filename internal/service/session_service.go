package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/middleware"
)

// SessionService issues anonymous sessions. The session id is also the
// owner id of everything the session creates.
type SessionService struct {
	jwtCfg middleware.JWTConfig
}

// NewSessionService creates a session service signing with cfg.
func NewSessionService(cfg middleware.JWTConfig) *SessionService {
	return &SessionService{jwtCfg: cfg}
}

// NewSession mints a session id and its bearer token.
func (s *SessionService) NewSession() (*domain.Session, error) {
	id := uuid.NewString()
	token, expires, err := middleware.GenerateJWT(id, "session", s.jwtCfg)
	if err != nil {
		return nil, fmt.Errorf("generate jwt: %w", err)
	}
	slog.Info("session created", "session_id", id)
	return &domain.Session{ID: id, Token: token, ExpiresAt: expires}, nil
}

// Authenticate resolves a bearer token to its session context.
func (s *SessionService) Authenticate(token string) (*domain.UserContext, error) {
	claims, err := middleware.ValidateJWT(token, s.jwtCfg.Secret, s.jwtCfg.Issuer)
	if err != nil {
		return nil, err
	}
	return &domain.UserContext{UserID: claims.Subject, Role: claims.Role}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *SessionService) TTL() time.Duration {
	return s.jwtCfg.ExpiresIn
}
