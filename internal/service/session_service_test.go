package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/middleware"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

func TestSessionRoundTrip(t *testing.T) {
	svc := NewSessionService(middleware.JWTConfig{Secret: "s3cret", Issuer: "test", ExpiresIn: time.Hour})

	sess, err := svc.NewSession()
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)
	assert.Equal(t, time.Hour, svc.TTL())

	uc, err := svc.Authenticate(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, uc.UserID)
	assert.Equal(t, "session", uc.Role)

	other, err := svc.NewSession()
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, other.ID)
}

func TestSessionRejectsForeignTokens(t *testing.T) {
	svc := NewSessionService(middleware.JWTConfig{Secret: "s3cret", Issuer: "test", ExpiresIn: time.Hour})
	forger := NewSessionService(middleware.JWTConfig{Secret: "other", Issuer: "test", ExpiresIn: time.Hour})

	sess, err := forger.NewSession()
	require.NoError(t, err)
	_, err = svc.Authenticate(sess.Token)
	require.ErrorIs(t, err, port.ErrTokenInvalid)

	_, err = svc.Authenticate("not.a.token")
	require.Error(t, err)
}

func TestSessionExpiry(t *testing.T) {
	svc := NewSessionService(middleware.JWTConfig{Secret: "s3cret", Issuer: "test", ExpiresIn: -time.Minute})
	sess, err := svc.NewSession()
	require.NoError(t, err)

	_, err = svc.Authenticate(sess.Token)
	require.ErrorIs(t, err, port.ErrTokenExpired)
}
